package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tinkerbelle-io/tb-remediate/internal/bus"
	"github.com/tinkerbelle-io/tb-remediate/internal/cluster"
	"github.com/tinkerbelle-io/tb-remediate/internal/config"
	"github.com/tinkerbelle-io/tb-remediate/internal/journal"
	"github.com/tinkerbelle-io/tb-remediate/internal/metrics"
	"github.com/tinkerbelle-io/tb-remediate/internal/remediation"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume anomaly predictions from the event bus and remediate them",
	Long: `Connect to the event bus (Kafka or Redis Streams), consume the predictions
topic as part of a consumer group, remediate each event in order, and publish
outcomes to the remediation_logs topic.

If the bus cannot be reached within the bootstrap retry budget the command
exits non-zero.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := slog.Default().With("component", "run")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := cluster.NewClients(cfg.Kubeconfig)
	if err != nil {
		return err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, prometheus.DefaultGatherer); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	conn, err := bus.Connect(ctx, busOptions(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	sinks := remediation.Sinks{remediation.NewReporter(conn, cfg.Bus.OutcomesTopic)}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		sinks = append(sinks, remediation.JournalSink{Journal: j})
	}

	r, err := newRemediator(cfg, clients, newDispatcher(cfg, clients), sinks)
	if err != nil {
		return err
	}

	log.Info("tb-remediate starting",
		"version", rootCmd.Version, "driver", cfg.Bus.Driver, "dry_run", cfg.DryRun)
	if err := r.Run(ctx, conn); err != nil {
		return err
	}
	log.Info("shutting down")
	return nil
}

func busOptions(cfg *config.Config) bus.Options {
	return bus.Options{
		Driver:        cfg.Bus.Driver,
		Brokers:       cfg.Bus.Brokers,
		RedisAddr:     cfg.Bus.RedisAddr,
		RedisPassword: cfg.RedisPassword(),
		RedisDB:       cfg.Bus.RedisDB,
		GroupID:       cfg.Bus.GroupID,
		ConsumerName:  cfg.Bus.ConsumerName,
		Topic:         cfg.Bus.PredictionsTopic,
		ClaimMinIdle:  cfg.Bus.ClaimMinIdle,
		Retry: bus.RetryPolicy{
			MaxAttempts: cfg.Bus.Bootstrap.MaxAttempts,
			Delay:       cfg.Bus.Bootstrap.Delay,
		},
	}
}
