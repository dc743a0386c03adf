package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tinkerbelle-io/tb-remediate/internal/anomaly"
	"github.com/tinkerbelle-io/tb-remediate/internal/cluster"
	"github.com/tinkerbelle-io/tb-remediate/internal/journal"
	"github.com/tinkerbelle-io/tb-remediate/internal/remediation"
	"github.com/tinkerbelle-io/tb-remediate/internal/remedy"
	"sigs.k8s.io/yaml"
)

var flagPrintPlan bool

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay one sample event per anomaly kind without an event bus",
	Long: `Run the built-in sample events (one per anomaly kind) through the
dispatcher and remedy catalog against the configured cluster. Outcomes are
logged and journaled but not published. Combine with --dry-run to see what
would change without touching the cluster.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().BoolVar(&flagPrintPlan, "print-plan", false, "Print the planned remedies for each sample as YAML before executing")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	clients, err := cluster.NewClients(cfg.Kubeconfig)
	if err != nil {
		return err
	}
	d := newDispatcher(cfg, clients)
	samples := anomaly.Samples()

	if flagPrintPlan {
		if err := printPlan(cmd.Context(), cmd.OutOrStdout(), d, samples); err != nil {
			return err
		}
	}

	sinks := remediation.Sinks{remediation.NewReporter(nil, cfg.Bus.OutcomesTopic)}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		sinks = append(sinks, remediation.JournalSink{Journal: j})
	}

	r, err := newRemediator(cfg, clients, d, sinks)
	if err != nil {
		return err
	}

	outcomes := r.Simulate(cmd.Context(), samples)
	failed := 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
	}
	slog.Info("simulation complete", "events", len(samples), "outcomes", len(outcomes), "failed", failed)
	return nil
}

type plannedAction struct {
	Remedy      string `json:"remedy"`
	Target      string `json:"target"`
	Fingerprint string `json:"fingerprint"`
}

type plannedEvent struct {
	IssueType string          `json:"issue_type"`
	SrcIP     string          `json:"src_ip,omitempty"`
	DstIP     string          `json:"dst_ip,omitempty"`
	Actions   []plannedAction `json:"actions"`
}

// printPlan writes the dispatcher's actions for each event as a YAML list.
func printPlan(ctx context.Context, w io.Writer, d remediation.Dispatcher, events []anomaly.Event) error {
	plan := make([]plannedEvent, 0, len(events))
	for _, ev := range events {
		actions, err := d.Dispatch(ctx, ev)
		if err != nil {
			return fmt.Errorf("plan %s: %w", ev.Kind, err)
		}
		pe := plannedEvent{
			IssueType: string(ev.Kind),
			SrcIP:     ev.SourceAddress,
			DstIP:     ev.DestinationAddress,
			Actions:   []plannedAction{},
		}
		for _, a := range actions {
			pe.Actions = append(pe.Actions, plannedAction{
				Remedy:      string(a.Kind()),
				Target:      a.Target(),
				Fingerprint: remedy.Fingerprint(a),
			})
		}
		plan = append(plan, pe)
	}

	out, err := yaml.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	_, err = w.Write(out)
	return err
}
