package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinkerbelle-io/tb-remediate/internal/bus"
	"github.com/tinkerbelle-io/tb-remediate/internal/journal"
	"github.com/tinkerbelle-io/tb-remediate/internal/remedy"
)

// Sink receives every emitted outcome.
type Sink interface {
	Report(ctx context.Context, o Outcome) error
}

// Sinks fans an outcome out to several sinks. Every sink is tried; errors
// are joined.
type Sinks []Sink

// Report implements Sink.
func (s Sinks) Report(ctx context.Context, o Outcome) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Report(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reporter publishes outcomes to the remediation_logs topic.
type Reporter struct {
	publisher bus.Publisher
	topic     string
	log       *slog.Logger
}

// NewReporter creates a reporter. A nil publisher means the bus is not
// connected; outcomes are then dropped with a warning.
func NewReporter(publisher bus.Publisher, topic string) *Reporter {
	return &Reporter{
		publisher: publisher,
		topic:     topic,
		log:       slog.Default().With("component", "outcome-reporter"),
	}
}

// Report implements Sink.
func (r *Reporter) Report(ctx context.Context, o Outcome) error {
	if r.publisher == nil {
		r.log.Warn("event bus not connected, outcome not published", "issue_type", o.Kind, "status", o.Status())
		return nil
	}

	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if err := r.publisher.Publish(ctx, r.topic, body); err != nil {
		return fmt.Errorf("publish outcome to %s: %w", r.topic, err)
	}

	r.log.Debug("outcome published", "topic", r.topic, "issue_type", o.Kind, "status", o.Status())
	return nil
}

// JournalSink appends outcomes to the local hash-chained journal.
type JournalSink struct {
	Journal *journal.Journal
}

// Report implements Sink.
func (s JournalSink) Report(_ context.Context, o Outcome) error {
	e := journal.Entry{
		Timestamp:  o.Timestamp.UTC(),
		DeliveryID: o.DeliveryID,
		IssueType:  string(o.Kind),
		Status:     o.Status(),
		DryRun:     o.DryRun,
	}
	for _, a := range o.Actions {
		e.Actions = append(e.Actions, remedy.Describe(a))
		e.Fingerprints = append(e.Fingerprints, remedy.Fingerprint(a))
	}
	return s.Journal.Append(e)
}
