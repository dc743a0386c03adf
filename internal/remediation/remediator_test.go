package remediation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinkerbelle-io/tb-remediate/internal/anomaly"
	"github.com/tinkerbelle-io/tb-remediate/internal/bus"
	"github.com/tinkerbelle-io/tb-remediate/internal/cluster"
	"github.com/tinkerbelle-io/tb-remediate/internal/dispatch"
	"github.com/tinkerbelle-io/tb-remediate/internal/remedy"
	"github.com/tinkerbelle-io/tb-remediate/internal/resolver"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

// recordingSink keeps every reported outcome.
type recordingSink struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (s *recordingSink) Report(_ context.Context, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return s.err
}

// fallbackWorkload is what the fallback identity points at.
func fallbackWorkload() []runtime.Object {
	replicas := int32(1)
	return []runtime.Object{
		&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Name: "my-app", Namespace: "default"},
			Spec: appsv1.DeploymentSpec{
				Replicas: &replicas,
				Template: corev1.PodTemplateSpec{Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: "app", Image: "my-app:1.0"}},
				}},
			},
		},
		&networkingv1.Ingress{ObjectMeta: metav1.ObjectMeta{Name: "my-app-ingress", Namespace: "default"}},
	}
}

type harness struct {
	kube *fake.Clientset
	sink *recordingSink
	r    *Remediator
}

func newHarness(t *testing.T, opts []Option, objects ...runtime.Object) *harness {
	t.Helper()
	kube := fake.NewSimpleClientset(objects...)
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{remedy.DestinationRuleGVR: "DestinationRuleList"})

	d := dispatch.New(resolver.New(kube, resolver.DefaultFallback()), dispatch.DefaultConfig())
	c := remedy.NewCatalog(&cluster.Clients{Kube: kube, Dynamic: dyn}, remedy.DefaultSettings(), false)
	sink := &recordingSink{}

	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return &harness{kube: kube, sink: sink, r: NewRemediator(d, c, sink, opts...)}
}

func countVerb(actions []k8stesting.Action, verb, resource string) int {
	n := 0
	for _, a := range actions {
		if a.GetVerb() == verb && a.GetResource().Resource == resource {
			n++
		}
	}
	return n
}

func TestDDoSWithUnresolvableAddress(t *testing.T) {
	h := newHarness(t, nil, fallbackWorkload()...)
	ctx := context.Background()

	o, err := h.r.Remediate(ctx, anomaly.Event{Kind: anomaly.KindDDoS, DestinationAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, o)

	fallback := cluster.Identity{Name: "my-app", Namespace: "default"}
	assert.Equal(t, []remedy.Action{
		remedy.ScaleTo{Identity: fallback, Replicas: 3},
		remedy.RateLimit{Identity: fallback, RequestsPerSecond: 100},
	}, o.Actions)
	assert.True(t, o.Success)
	assert.Equal(t, StatusSuccess, o.Status())
	assert.Equal(t, fixedNow, o.Timestamp)
	assert.NotEmpty(t, o.DeliveryID)

	dep, err := h.kube.AppsV1().Deployments("default").Get(ctx, "my-app", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), *dep.Spec.Replicas)

	ing, err := h.kube.NetworkingV1().Ingresses("default").Get(ctx, "my-app-ingress", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "100", ing.Annotations["nginx.ingress.kubernetes.io/limit-rps"])

	require.Len(t, h.sink.outcomes, 1)
}

func TestPortScanBlocksSource(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	o, err := h.r.Remediate(ctx, anomaly.Event{
		Kind:               anomaly.KindPortScan,
		SourceAddress:      "192.168.1.100",
		DestinationAddress: "10.0.0.1",
	})
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, []remedy.Action{remedy.BlockSource{Address: "192.168.1.100", Namespace: "default"}}, o.Actions)
	assert.True(t, o.Success)

	_, err = h.kube.NetworkingV1().NetworkPolicies("default").Get(ctx, "block-192-168-1-100-policy", metav1.GetOptions{})
	assert.NoError(t, err)
}

func TestPortScanWithoutSourceIsSkippedSuccess(t *testing.T) {
	h := newHarness(t, nil)

	o, err := h.r.Remediate(context.Background(), anomaly.Event{Kind: anomaly.KindPortScan})
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, []remedy.Action{remedy.BlockSource{Namespace: "default"}}, o.Actions)
	assert.True(t, o.Success)
	assert.Zero(t, countVerb(h.kube.Actions(), "create", "networkpolicies"))
}

func TestDNSAttackRedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ev := anomaly.Event{Kind: anomaly.KindDNSAttack}

	for i := range 2 {
		o, err := h.r.Remediate(ctx, ev)
		require.NoError(t, err)
		require.NotNil(t, o)
		assert.Equal(t, []remedy.Action{remedy.RestrictDNS{Namespace: "kube-system"}}, o.Actions, "delivery %d", i)
		assert.True(t, o.Success, "delivery %d", i)
	}

	assert.Equal(t, 1, countVerb(h.kube.Actions(), "create", "networkpolicies"))
	list, err := h.kube.NetworkingV1().NetworkPolicies("kube-system").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "restrict-dns", list.Items[0].Name)
	assert.Len(t, h.sink.outcomes, 2)
}

// captureLogs routes the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

type dispatchFunc func(context.Context, anomaly.Event) ([]remedy.Action, error)

func (f dispatchFunc) Dispatch(ctx context.Context, ev anomaly.Event) ([]remedy.Action, error) {
	return f(ctx, ev)
}

func TestEmptyDispatchDistinguishesUnknownKinds(t *testing.T) {
	logs := captureLogs(t)
	none := dispatchFunc(func(context.Context, anomaly.Event) ([]remedy.Action, error) { return nil, nil })
	r := NewRemediator(none, nil, nil)

	o, err := r.Remediate(context.Background(), anomaly.Event{Kind: "UnknownType"})
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.Contains(t, logs.String(), "unknown anomaly kind")

	logs.Reset()
	o, err = r.Remediate(context.Background(), anomaly.Event{Kind: anomaly.KindPortScan})
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.Contains(t, logs.String(), "anomaly needed no remediation")
	assert.NotContains(t, logs.String(), "unknown anomaly kind")
}

func TestUnknownKindEmitsNothing(t *testing.T) {
	h := newHarness(t, nil)

	o, err := h.r.Remediate(context.Background(), anomaly.Event{Kind: "UnknownType"})
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.Empty(t, h.sink.outcomes)
	assert.Empty(t, h.kube.Actions())
}

func TestMissingKindIsDropped(t *testing.T) {
	h := newHarness(t, nil)

	o, err := h.r.Remediate(context.Background(), anomaly.Event{DestinationAddress: "10.0.0.1"})
	assert.ErrorIs(t, err, anomaly.ErrMissingClassification)
	assert.Nil(t, o)
	assert.Empty(t, h.sink.outcomes)
}

func TestFirstFailureAbortsSequence(t *testing.T) {
	// No my-app deployment: ScaleTo fails, RateLimit must not run.
	h := newHarness(t, nil)

	o, err := h.r.Remediate(context.Background(), anomaly.Event{Kind: anomaly.KindDDoS, DestinationAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.False(t, o.Success)
	assert.Contains(t, o.Status(), "failed: ")
	assert.Contains(t, o.Reason, "not found")
	assert.Zero(t, countVerb(h.kube.Actions(), "get", "ingresses"))

	require.Len(t, h.sink.outcomes, 1)
	assert.False(t, h.sink.outcomes[0].Success)
}

func TestBudgetExhaustedFailsWithoutApplying(t *testing.T) {
	h := newHarness(t, []Option{WithBudget(NewBudget(1))})
	ctx := context.Background()
	ev := anomaly.Event{Kind: anomaly.KindDNSAttack}

	o, err := h.r.Remediate(ctx, ev)
	require.NoError(t, err)
	assert.True(t, o.Success)

	before := len(h.kube.Actions())
	o, err = h.r.Remediate(ctx, ev)
	require.NoError(t, err)
	assert.False(t, o.Success)
	assert.Equal(t, "failed: "+ReasonBudgetExhausted, o.Status())
	assert.Len(t, h.kube.Actions(), before)
}

func TestDryRunDoesNotSpendBudget(t *testing.T) {
	kube := fake.NewSimpleClientset()
	d := dispatch.New(resolver.New(kube, resolver.DefaultFallback()), dispatch.DefaultConfig())
	c := remedy.NewCatalog(&cluster.Clients{Kube: kube}, remedy.DefaultSettings(), true)
	budget := NewBudget(1)
	r := NewRemediator(d, c, nil, WithBudget(budget), WithDryRun(true))

	for range 3 {
		o, err := r.Remediate(context.Background(), anomaly.Event{Kind: anomaly.KindDNSAttack})
		require.NoError(t, err)
		assert.True(t, o.Success)
		assert.True(t, o.DryRun)
	}
	assert.False(t, budget.Exhausted())
	assert.Zero(t, countVerb(kube.Actions(), "create", "networkpolicies"))
}

func TestSinkErrorDoesNotChangeOutcome(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.err = errors.New("broker down")

	o, err := h.r.Remediate(context.Background(), anomaly.Event{Kind: anomaly.KindDNSAttack})
	require.NoError(t, err)
	assert.True(t, o.Success)
}

func TestSimulateRunsEverySample(t *testing.T) {
	h := newHarness(t, nil, append(fallbackWorkload(), &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: "istio-system"},
	})...)

	outcomes := h.r.Simulate(context.Background(), anomaly.Samples())
	require.Len(t, outcomes, len(anomaly.Kinds))
	for i, o := range outcomes {
		assert.Equal(t, anomaly.Kinds[i], o.Kind)
		assert.True(t, o.Success, "%s: %s", o.Kind, o.Status())
	}
	assert.Len(t, h.sink.outcomes, len(anomaly.Kinds))
}

// fakeConsumer serves a fixed list of payloads, then returns end.
type fakeConsumer struct {
	payloads  [][]byte
	next      int
	end       error
	committed []string
}

func (c *fakeConsumer) Fetch(ctx context.Context) (bus.Message, error) {
	if c.next >= len(c.payloads) {
		return bus.Message{}, c.end
	}
	c.next++
	return bus.Message{Value: c.payloads[c.next-1], Position: string(rune('a' + c.next - 1))}, nil
}

func (c *fakeConsumer) Commit(_ context.Context, msg bus.Message) error {
	c.committed = append(c.committed, msg.Position)
	return nil
}

func TestRunCommitsEveryMessage(t *testing.T) {
	h := newHarness(t, nil)
	consumer := &fakeConsumer{
		payloads: [][]byte{
			[]byte(`{"anomaly_type":"DNSAttack"}`),
			[]byte(`not json`),
			[]byte(`{"dst_ip":"10.0.0.1"}`),
			[]byte(`{"anomaly_type":"UnknownType"}`),
		},
		end: errors.New("broker went away"),
	}

	err := h.r.Run(context.Background(), consumer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker went away")
	assert.Equal(t, []string{"a", "b", "c", "d"}, consumer.committed)

	// Only the classified, handled event produces an outcome.
	require.Len(t, h.sink.outcomes, 1)
	assert.Equal(t, anomaly.KindDNSAttack, h.sink.outcomes[0].Kind)
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	consumer := &fakeConsumer{end: context.Canceled}
	assert.NoError(t, h.r.Run(ctx, consumer))
}
