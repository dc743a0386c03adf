package remedy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinkerbelle-io/tb-remediate/internal/cluster"
	"github.com/tinkerbelle-io/tb-remediate/internal/metrics"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

// Result describes how an action completed without error.
type Result string

const (
	// Applied means the cluster was mutated.
	Applied Result = "applied"
	// AlreadyApplied means the idempotency check found the object in place.
	AlreadyApplied Result = "already_applied"
	// Skipped means the action was a deliberate no-op (no source address,
	// mesh absent).
	Skipped Result = "skipped"
	// DryRun means the action was only logged.
	DryRun Result = "dry_run"
)

// Error is a control-API failure while applying a remedy.
type Error struct {
	Remedy Kind
	Target string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Remedy, e.Target, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Metadata stamped on objects the catalog creates.
const (
	ManagedByLabel   = "app.kubernetes.io/managed-by"
	ManagedByValue   = "tb-remediate"
	RemedyAnnotation = "tb-remediate.io/remedy"
)

// ResourceLimits are the values SetResourceLimits pins on a container.
type ResourceLimits struct {
	Limits   corev1.ResourceList
	Requests corev1.ResourceList
}

// ParseResourceLimits parses CPU and memory quantities.
func ParseResourceLimits(cpuLimit, memLimit, cpuRequest, memRequest string) (ResourceLimits, error) {
	parse := func(field, v string) (resource.Quantity, error) {
		q, err := resource.ParseQuantity(v)
		if err != nil {
			return q, fmt.Errorf("%s %q: %w", field, v, err)
		}
		return q, nil
	}

	var rl ResourceLimits
	cl, err := parse("cpu limit", cpuLimit)
	if err != nil {
		return rl, err
	}
	ml, err := parse("memory limit", memLimit)
	if err != nil {
		return rl, err
	}
	cr, err := parse("cpu request", cpuRequest)
	if err != nil {
		return rl, err
	}
	mr, err := parse("memory request", memRequest)
	if err != nil {
		return rl, err
	}

	rl.Limits = corev1.ResourceList{corev1.ResourceCPU: cl, corev1.ResourceMemory: ml}
	rl.Requests = corev1.ResourceList{corev1.ResourceCPU: cr, corev1.ResourceMemory: mr}
	return rl, nil
}

// Settings are catalog-wide parameters.
type Settings struct {
	MeshNamespace       string
	RateLimitAnnotation string
	Resources           ResourceLimits
}

// DefaultSettings returns Istio detection via istio-system, the NGINX
// ingress rate-limit annotation, and 500m/512Mi limits with 200m/256Mi
// requests.
func DefaultSettings() Settings {
	return Settings{
		MeshNamespace:       "istio-system",
		RateLimitAnnotation: "nginx.ingress.kubernetes.io/limit-rps",
		Resources: ResourceLimits{
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("500m"),
				corev1.ResourceMemory: resource.MustParse("512Mi"),
			},
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("200m"),
				corev1.ResourceMemory: resource.MustParse("256Mi"),
			},
		},
	}
}

// Catalog applies actions against the cluster.
type Catalog struct {
	kube     kubernetes.Interface
	dynamic  dynamic.Interface
	settings Settings
	dryRun   bool
	log      *slog.Logger
}

// NewCatalog creates a catalog bound to the given clients.
func NewCatalog(clients *cluster.Clients, settings Settings, dryRun bool) *Catalog {
	return &Catalog{
		kube:     clients.Kube,
		dynamic:  clients.Dynamic,
		settings: settings,
		dryRun:   dryRun,
		log:      slog.Default().With("component", "remedy"),
	}
}

// Apply executes a single action. A nil error means the cluster is in the
// action's target state (or the action was deliberately skipped); any
// returned error is an *Error.
func (c *Catalog) Apply(ctx context.Context, a Action) (Result, error) {
	if c.dryRun {
		c.log.Info("[DRY RUN] would apply", "remedy", a.Kind(), "target", a.Target())
		metrics.ObserveRemedy(string(a.Kind()), string(DryRun))
		return DryRun, nil
	}

	var (
		res Result
		err error
	)
	switch a := a.(type) {
	case ScaleTo:
		res, err = c.scaleTo(ctx, a)
	case RateLimit:
		res, err = c.rateLimit(ctx, a)
	case BlockSource:
		res, err = c.blockSource(ctx, a)
	case IsolateWorkload:
		res, err = c.isolateWorkload(ctx, a)
	case DefaultDenyNamespace:
		res, err = c.defaultDeny(ctx, a)
	case RestrictDNS:
		res, err = c.restrictDNS(ctx, a)
	case EnableMTLS:
		res, err = c.enableMTLS(ctx, a)
	case SetResourceLimits:
		res, err = c.setResourceLimits(ctx, a)
	default:
		err = &Error{Remedy: a.Kind(), Target: a.Target(), Op: "apply", Err: fmt.Errorf("unsupported remedy")}
	}

	if err != nil {
		metrics.ObserveRemedy(string(a.Kind()), "error")
		c.log.Error("remedy failed", "remedy", a.Kind(), "target", a.Target(), "error", err)
		return "", err
	}
	metrics.ObserveRemedy(string(a.Kind()), string(res))
	return res, nil
}

func (c *Catalog) fail(a Action, op string, err error) error {
	return &Error{Remedy: a.Kind(), Target: a.Target(), Op: op, Err: err}
}

// ensure implements check-then-create: an existing object is success, a
// not-found lookup leads to create, and any other lookup error propagates.
// The check and the create are not atomic; two concurrent deliveries of the
// same event can both miss the object, and the loser's create then fails
// with AlreadyExists.
func (c *Catalog) ensure(ctx context.Context, a Action, object string,
	get func(context.Context) error, create func(context.Context) error) (Result, error) {

	err := get(ctx)
	switch cluster.Classify(err) {
	case cluster.Found:
		c.log.Info("remedy already applied", "remedy", a.Kind(), "object", object, "target", a.Target())
		return AlreadyApplied, nil
	case cluster.LookupFailed:
		return "", c.fail(a, "get "+object, err)
	}

	if err := create(ctx); err != nil {
		return "", c.fail(a, "create "+object, err)
	}
	c.log.Info("remedy applied", "remedy", a.Kind(), "object", object, "target", a.Target())
	return Applied, nil
}

func objectMeta(a Action, namespace, name string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:        name,
		Namespace:   namespace,
		Labels:      map[string]string{ManagedByLabel: ManagedByValue},
		Annotations: map[string]string{RemedyAnnotation: string(a.Kind())},
	}
}
