package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tinkerbelle-io/tb-remediate/internal/cluster"
	"github.com/tinkerbelle-io/tb-remediate/internal/config"
	"github.com/tinkerbelle-io/tb-remediate/internal/dispatch"
	"github.com/tinkerbelle-io/tb-remediate/internal/logging"
	"github.com/tinkerbelle-io/tb-remediate/internal/remediation"
	"github.com/tinkerbelle-io/tb-remediate/internal/remedy"
	"github.com/tinkerbelle-io/tb-remediate/internal/resolver"
)

var (
	// Flags
	flagConfig     string
	flagLogLevel   string
	flagLogFormat  string
	flagKubeconfig string
	flagDryRun     bool
)

var rootCmd = &cobra.Command{
	Use:   "tb-remediate",
	Short: "Automated remediation for classified network anomalies",
	Long: `tb-remediate consumes anomaly predictions from an event bus, maps each
anomaly to an ordered set of idempotent Kubernetes remedies (scaling, rate
limits, network policies, mutual TLS, resource limits), applies them, and
publishes one outcome per event.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error (env: TB_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format: text, json (env: TB_LOG_FORMAT)")
	rootCmd.PersistentFlags().StringVar(&flagKubeconfig, "kubeconfig", "", "Kubeconfig path; in-cluster config is used when empty (env: TB_KUBECONFIG)")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "Log remedies instead of applying them (env: TB_DRY_RUN)")
}

// Execute runs the root command.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("tb-remediate %s\n", version))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, lets explicitly set
// flags win, and configures logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = flagLogFormat
	}
	if flags.Changed("kubeconfig") {
		cfg.Kubeconfig = flagKubeconfig
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = flagDryRun
	}

	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// newDispatcher builds the decision table from config.
func newDispatcher(cfg *config.Config, clients *cluster.Clients) *dispatch.Dispatcher {
	res := resolver.New(clients.Kube, resolver.Fallback{
		Identity: cluster.Identity{Name: cfg.Resolver.FallbackName, Namespace: cfg.Resolver.FallbackNamespace},
		Label:    cfg.Resolver.FallbackLabel,
	})
	return dispatch.New(res, dispatch.Config{
		DDoSReplicas:    cfg.Dispatch.DDoSReplicas,
		DDoSRateLimit:   cfg.Dispatch.DDoSRateLimit,
		ICMPRateLimit:   cfg.Dispatch.ICMPRateLimit,
		PolicyNamespace: cfg.Dispatch.PolicyNamespace,
		DNSNamespace:    cfg.Dispatch.DNSNamespace,
	})
}

// newRemediator wires dispatcher, catalog, budget and sink.
func newRemediator(cfg *config.Config, clients *cluster.Clients, d remediation.Dispatcher, sink remediation.Sink) (*remediation.Remediator, error) {
	limits, err := remedy.ParseResourceLimits(cfg.Remedies.CPULimit, cfg.Remedies.MemoryLimit,
		cfg.Remedies.CPURequest, cfg.Remedies.MemoryRequest)
	if err != nil {
		return nil, err
	}
	catalog := remedy.NewCatalog(clients, remedy.Settings{
		MeshNamespace:       cfg.Remedies.MeshNamespace,
		RateLimitAnnotation: cfg.Remedies.RateLimitAnnotation,
		Resources:           limits,
	}, cfg.DryRun)

	return remediation.NewRemediator(d, catalog, sink,
		remediation.WithBudget(remediation.NewBudget(cfg.Budget.MaxPerHour)),
		remediation.WithDryRun(cfg.DryRun),
	), nil
}
