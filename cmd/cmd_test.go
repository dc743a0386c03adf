package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinkerbelle-io/tb-remediate/internal/anomaly"
	"github.com/tinkerbelle-io/tb-remediate/internal/cluster"
	"github.com/tinkerbelle-io/tb-remediate/internal/config"
	"github.com/tinkerbelle-io/tb-remediate/internal/journal"
	"github.com/tinkerbelle-io/tb-remediate/internal/remedy"
	"k8s.io/client-go/kubernetes/fake"
	"sigs.k8s.io/yaml"
)

func TestLoadConfigFlagsWin(t *testing.T) {
	require.NoError(t, rootCmd.ParseFlags([]string{"--log-level", "debug", "--dry-run", "--kubeconfig", "/tmp/kc"}))
	t.Cleanup(func() {
		for _, name := range []string{"log-level", "dry-run", "kubeconfig"} {
			f := rootCmd.Flags().Lookup(name)
			f.Changed = false
			_ = f.Value.Set(f.DefValue)
		}
	})

	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "/tmp/kc", cfg.Kubeconfig)
	// Unset flags leave file and env values alone.
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestPrintPlan(t *testing.T) {
	cfg := config.Default()
	d := newDispatcher(cfg, &cluster.Clients{Kube: fake.NewSimpleClientset()})

	var buf bytes.Buffer
	events := []anomaly.Event{
		{Kind: anomaly.KindDDoS, DestinationAddress: "10.0.0.1"},
		{Kind: "UnknownType"},
	}
	require.NoError(t, printPlan(context.Background(), &buf, d, events))

	var plan []plannedEvent
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &plan))
	require.Len(t, plan, 2)

	assert.Equal(t, "DDoS", plan[0].IssueType)
	assert.Equal(t, "10.0.0.1", plan[0].DstIP)
	require.Len(t, plan[0].Actions, 2)
	assert.Equal(t, string(remedy.KindScaleTo), plan[0].Actions[0].Remedy)
	assert.Equal(t, "default/my-app", plan[0].Actions[0].Target)
	assert.Equal(t, string(remedy.KindRateLimit), plan[0].Actions[1].Remedy)
	assert.Equal(t, "default/my-app-ingress", plan[0].Actions[1].Target)
	assert.Len(t, plan[0].Actions[0].Fingerprint, 16)

	assert.Equal(t, "UnknownType", plan[1].IssueType)
	assert.Empty(t, plan[1].Actions)
}

func TestPrintPlanRejectsUnclassified(t *testing.T) {
	d := newDispatcher(config.Default(), &cluster.Clients{Kube: fake.NewSimpleClientset()})
	err := printPlan(context.Background(), &bytes.Buffer{}, d, []anomaly.Event{{}})
	assert.ErrorIs(t, err, anomaly.ErrMissingClassification)
}

func TestNewRemediatorRejectsBadLimits(t *testing.T) {
	cfg := config.Default()
	cfg.Remedies.CPULimit = "lots"
	clients := &cluster.Clients{Kube: fake.NewSimpleClientset()}
	_, err := newRemediator(cfg, clients, newDispatcher(cfg, clients), nil)
	assert.Error(t, err)
}

func TestBusOptions(t *testing.T) {
	t.Setenv("TB_REDIS_PASSWORD", "pw")
	cfg := config.Default()
	cfg.Bus.Driver = config.DriverRedis
	cfg.Bus.ConsumerName = "remediation-agent-0"

	opts := busOptions(cfg)
	assert.Equal(t, "redis", opts.Driver)
	assert.Equal(t, "pw", opts.RedisPassword)
	assert.Equal(t, "predictions", opts.Topic)
	assert.Equal(t, "remediation-agent", opts.GroupID)
	assert.Equal(t, 5, opts.Retry.MaxAttempts)
	assert.Equal(t, "remediation-agent-0", opts.ConsumerName)
	assert.Equal(t, 5*time.Minute, opts.ClaimMinIdle)
}

func TestJournalVerifyCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.log")
	j, err := journal.Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(journal.Entry{IssueType: "DDoS", Status: "success"}))
	require.NoError(t, j.Close())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"journal", "verify", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "1 entries, chain intact")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.Version = "v1.2.3"
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "tb-remediate v1.2.3\n", out.String())
}
