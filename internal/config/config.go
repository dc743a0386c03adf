// Package config handles configuration for tb-remediate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Bus drivers.
const (
	DriverKafka = "kafka"
	DriverRedis = "redis"
)

// Config holds all tb-remediate configuration.
type Config struct {
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // "text", "json"
	Kubeconfig string `yaml:"kubeconfig"`
	DryRun     bool   `yaml:"dry_run"`

	Bus      BusConfig      `yaml:"bus"`
	Resolver ResolverConfig `yaml:"resolver"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Remedies RemediesConfig `yaml:"remedies"`
	Budget   BudgetConfig   `yaml:"budget"`
	Journal  JournalConfig  `yaml:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// BusConfig selects and configures the event bus. For Redis Streams the
// ConsumerName must be stable across restarts so the agent's own unacked
// entries are replayed; it defaults to the group ID plus the hostname.
type BusConfig struct {
	Driver           string        `yaml:"driver"` // "kafka", "redis"
	Brokers          []string      `yaml:"brokers"`
	RedisAddr        string        `yaml:"redis_addr"`
	RedisPasswordEnv string        `yaml:"redis_password_env"`
	RedisDB          int           `yaml:"redis_db"`
	GroupID          string        `yaml:"group_id"`
	ConsumerName     string        `yaml:"consumer_name"`
	ClaimMinIdle     time.Duration `yaml:"claim_min_idle"`
	PredictionsTopic string        `yaml:"predictions_topic"`
	OutcomesTopic    string        `yaml:"outcomes_topic"`
	Bootstrap        RetryConfig   `yaml:"bootstrap"`
}

// RetryConfig is the bounded retry policy for bus bootstrap.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

// ResolverConfig holds the degrade-gracefully identity.
type ResolverConfig struct {
	FallbackName      string `yaml:"fallback_name"`
	FallbackNamespace string `yaml:"fallback_namespace"`
	FallbackLabel     string `yaml:"fallback_label"`
}

// DispatchConfig holds the parameters of the decision table.
type DispatchConfig struct {
	DDoSReplicas    int32  `yaml:"ddos_replicas"`
	DDoSRateLimit   int    `yaml:"ddos_rate_limit"`
	ICMPRateLimit   int    `yaml:"icmp_rate_limit"`
	PolicyNamespace string `yaml:"policy_namespace"`
	DNSNamespace    string `yaml:"dns_namespace"`
}

// RemediesConfig holds catalog-wide settings.
type RemediesConfig struct {
	MeshNamespace       string `yaml:"mesh_namespace"`
	RateLimitAnnotation string `yaml:"rate_limit_annotation"`
	CPULimit            string `yaml:"cpu_limit"`
	MemoryLimit         string `yaml:"memory_limit"`
	CPURequest          string `yaml:"cpu_request"`
	MemoryRequest       string `yaml:"memory_request"`
}

// BudgetConfig caps remediations per hour. Zero disables the cap.
type BudgetConfig struct {
	MaxPerHour int `yaml:"max_per_hour"`
}

// JournalConfig enables the local outcome journal when Path is set.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig enables the metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Bus: BusConfig{
			Driver:           DriverKafka,
			Brokers:          []string{"kafka-controller-0.kafka-headless.default.svc.cluster.local:9092"},
			RedisAddr:        "localhost:6379",
			RedisPasswordEnv: "TB_REDIS_PASSWORD",
			GroupID:          "remediation-agent",
			PredictionsTopic: "predictions",
			OutcomesTopic:    "remediation_logs",
			ClaimMinIdle:     5 * time.Minute,
			Bootstrap: RetryConfig{
				MaxAttempts: 5,
				Delay:       5 * time.Second,
			},
		},
		Resolver: ResolverConfig{
			FallbackName:      "my-app",
			FallbackNamespace: "default",
			FallbackLabel:     "my-app",
		},
		Dispatch: DispatchConfig{
			DDoSReplicas:    3,
			DDoSRateLimit:   100,
			ICMPRateLimit:   50,
			PolicyNamespace: "default",
			DNSNamespace:    "kube-system",
		},
		Remedies: RemediesConfig{
			MeshNamespace:       "istio-system",
			RateLimitAnnotation: "nginx.ingress.kubernetes.io/limit-rps",
			CPULimit:            "500m",
			MemoryLimit:         "512Mi",
			CPURequest:          "200m",
			MemoryRequest:       "256Mi",
		},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TB_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("TB_KUBECONFIG"); v != "" {
		cfg.Kubeconfig = v
	} else if cfg.Kubeconfig == "" {
		cfg.Kubeconfig = os.Getenv("KUBECONFIG")
	}
	if v := os.Getenv("TB_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DryRun = b
		}
	}
	if v := os.Getenv("TB_BUS_DRIVER"); v != "" {
		cfg.Bus.Driver = v
	}
	if v := os.Getenv("TB_BUS_BROKERS"); v != "" {
		cfg.Bus.Brokers = splitList(v)
	}
	if v := os.Getenv("TB_REDIS_ADDR"); v != "" {
		cfg.Bus.RedisAddr = v
	}
	if v := os.Getenv("TB_BUS_CONSUMER"); v != "" {
		cfg.Bus.ConsumerName = v
	}
	if v := os.Getenv("TB_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("TB_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
}

// RedisPassword resolves the Redis password from the configured env var.
func (c *Config) RedisPassword() string {
	if c.Bus.RedisPasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Bus.RedisPasswordEnv)
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	switch c.Bus.Driver {
	case DriverKafka:
		if len(c.Bus.Brokers) == 0 {
			return fmt.Errorf("bus.brokers is required for the kafka driver")
		}
	case DriverRedis:
		if c.Bus.RedisAddr == "" {
			return fmt.Errorf("bus.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown bus driver %q (want %s or %s)", c.Bus.Driver, DriverKafka, DriverRedis)
	}
	if c.Bus.PredictionsTopic == "" || c.Bus.OutcomesTopic == "" {
		return fmt.Errorf("bus topics must not be empty")
	}
	if c.Bus.Bootstrap.MaxAttempts < 1 {
		return fmt.Errorf("bus.bootstrap.max_attempts must be at least 1, got %d", c.Bus.Bootstrap.MaxAttempts)
	}
	if c.Bus.Bootstrap.Delay < 0 {
		return fmt.Errorf("bus.bootstrap.delay must not be negative")
	}
	if c.Bus.ClaimMinIdle < 0 {
		return fmt.Errorf("bus.claim_min_idle must not be negative")
	}
	if c.Budget.MaxPerHour < 0 {
		return fmt.Errorf("budget.max_per_hour must not be negative")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
