// Package remediation runs the execution loop: each anomaly event is
// dispatched to an ordered list of remedies, the remedies are applied in
// sequence, and one outcome is emitted per event.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinkerbelle-io/tb-remediate/internal/anomaly"
	"github.com/tinkerbelle-io/tb-remediate/internal/bus"
	"github.com/tinkerbelle-io/tb-remediate/internal/metrics"
	"github.com/tinkerbelle-io/tb-remediate/internal/remedy"
)

// Dispatcher maps an event to the actions that remediate it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev anomaly.Event) ([]remedy.Action, error)
}

// Applier executes a single action against the cluster.
type Applier interface {
	Apply(ctx context.Context, a remedy.Action) (remedy.Result, error)
}

// Remediator executes the remedies for one event at a time.
type Remediator struct {
	dispatcher Dispatcher
	applier    Applier
	sink       Sink
	budget     *Budget
	dryRun     bool
	now        func() time.Time
	newID      func() string
	log        *slog.Logger
}

// Option configures a Remediator.
type Option func(*Remediator)

// WithBudget caps remediations per hour.
func WithBudget(b *Budget) Option { return func(r *Remediator) { r.budget = b } }

// WithDryRun marks outcomes as dry-run and keeps them out of the budget.
func WithDryRun(dryRun bool) Option { return func(r *Remediator) { r.dryRun = dryRun } }

// WithClock overrides the outcome timestamp source.
func WithClock(now func() time.Time) Option { return func(r *Remediator) { r.now = now } }

// NewRemediator creates a remediator. A nil sink discards outcomes after
// logging them.
func NewRemediator(d Dispatcher, a Applier, sink Sink, opts ...Option) *Remediator {
	r := &Remediator{
		dispatcher: d,
		applier:    a,
		sink:       sink,
		now:        time.Now,
		newID:      uuid.NewString,
		log:        slog.Default().With("component", "remediator"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Remediate handles one event. It returns nil with no error when the kind
// is not handled, and anomaly.ErrMissingClassification (and no outcome)
// when the event has no kind. Remedy failures are reported in the outcome,
// not as an error.
func (r *Remediator) Remediate(ctx context.Context, ev anomaly.Event) (*Outcome, error) {
	start := time.Now()
	defer func() { metrics.ObserveEvent(time.Since(start)) }()

	actions, err := r.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		if !ev.Kind.Known() {
			r.log.Warn("unknown anomaly kind, no remediation emitted", "issue_type", ev.Kind)
			metrics.ObserveUnhandled(metrics.UnhandledUnknownKind)
		} else {
			r.log.Info("anomaly needed no remediation", "issue_type", ev.Kind)
			metrics.ObserveUnhandled(metrics.UnhandledNoActions)
		}
		return nil, nil
	}

	o := &Outcome{
		Kind:       ev.Kind,
		DeliveryID: r.newID(),
		Actions:    actions,
		DryRun:     r.dryRun,
	}
	log := r.log.With("issue_type", ev.Kind, "delivery_id", o.DeliveryID)

	if r.budget.Exhausted() {
		log.Warn("remediation budget exhausted, skipping event")
		o.Reason = ReasonBudgetExhausted
	} else if err := r.execute(ctx, log, actions); err != nil {
		o.Reason = err.Error()
	} else {
		o.Success = true
		if !r.dryRun {
			r.budget.Record()
		}
	}
	o.Timestamp = r.now().UTC()

	r.emit(ctx, log, *o)
	return o, nil
}

// execute applies actions strictly in order and stops at the first error.
func (r *Remediator) execute(ctx context.Context, log *slog.Logger, actions []remedy.Action) error {
	for i, a := range actions {
		res, err := r.applier.Apply(ctx, a)
		if err != nil {
			if skipped := len(actions) - i - 1; skipped > 0 {
				log.Warn("aborting remaining remedies", "failed", remedy.Describe(a), "skipped", skipped)
			}
			return err
		}
		log.Info("remedy done", "remedy", a.Kind(), "target", a.Target(),
			"result", res, "fingerprint", remedy.Fingerprint(a))
	}
	return nil
}

func (r *Remediator) emit(ctx context.Context, log *slog.Logger, o Outcome) {
	metrics.ObserveOutcome(string(o.Kind), o.Success)
	if o.Success {
		log.Info("remediation outcome", "status", o.Status(), "actions", len(o.Actions), "dry_run", o.DryRun)
	} else {
		log.Error("remediation outcome", "status", o.Status(), "actions", len(o.Actions), "dry_run", o.DryRun)
	}

	if r.sink == nil {
		return
	}
	if err := r.sink.Report(ctx, o); err != nil {
		log.Error("failed to report outcome", "error", err)
	}
}

// Run consumes events until ctx is cancelled or the bus fails. Each
// message is committed after it has been handled, so a crash mid-event
// leads to redelivery. Undecodable payloads are committed and skipped.
func (r *Remediator) Run(ctx context.Context, consumer bus.Consumer) error {
	r.log.Info("consuming anomaly events")
	for {
		msg, err := consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch from event bus: %w", err)
		}

		r.handle(ctx, msg)

		if err := consumer.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit %s: %w", msg.Position, err)
		}
	}
}

func (r *Remediator) handle(ctx context.Context, msg bus.Message) {
	ev, err := anomaly.Decode(msg.Value)
	if err != nil {
		r.log.Warn("discarding undecodable message", "position", msg.Position, "error", err)
		return
	}
	if _, err := r.Remediate(ctx, ev); err != nil {
		if errors.Is(err, anomaly.ErrMissingClassification) {
			r.log.Warn("dropping event without anomaly_type", "position", msg.Position)
			return
		}
		r.log.Error("event not remediated", "position", msg.Position, "error", err)
	}
}

// Simulate remediates each event in order without a bus and returns the
// outcomes that were emitted.
func (r *Remediator) Simulate(ctx context.Context, events []anomaly.Event) []Outcome {
	var outcomes []Outcome
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		r.log.Info("simulating anomaly", "issue_type", ev.Kind, "src_ip", ev.SourceAddress, "dst_ip", ev.DestinationAddress)
		o, err := r.Remediate(ctx, ev)
		if err != nil {
			r.log.Warn("simulated event rejected", "issue_type", ev.Kind, "error", err)
			continue
		}
		if o != nil {
			outcomes = append(outcomes, *o)
		}
	}
	return outcomes
}
