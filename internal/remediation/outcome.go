package remediation

import (
	"encoding/json"
	"time"

	"github.com/tinkerbelle-io/tb-remediate/internal/anomaly"
	"github.com/tinkerbelle-io/tb-remediate/internal/remedy"
)

// Status strings on the remediation_logs topic.
const (
	StatusSuccess      = "success"
	statusFailedPrefix = "failed: "
)

// ReasonBudgetExhausted is the failure reason when the hourly budget is spent.
const ReasonBudgetExhausted = "remediation budget exhausted"

// Outcome is the result of remediating one anomaly event.
type Outcome struct {
	Kind      anomaly.Kind
	Success   bool
	Reason    string
	Timestamp time.Time

	// Local bookkeeping, not published.
	DeliveryID string
	Actions    []remedy.Action
	DryRun     bool
}

// Status renders the outcome as "success" or "failed: <reason>".
func (o Outcome) Status() string {
	if o.Success {
		return StatusSuccess
	}
	return statusFailedPrefix + o.Reason
}

// outcomeRecord is the remediation_logs payload.
type outcomeRecord struct {
	IssueType string `json:"issue_type"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(outcomeRecord{
		IssueType: string(o.Kind),
		Status:    o.Status(),
		Timestamp: o.Timestamp.UTC().Format(time.RFC3339),
	})
}
