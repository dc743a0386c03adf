// Package dispatch maps anomaly classifications to ordered remedy actions.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/tinkerbelle-io/tb-remediate/internal/anomaly"
	"github.com/tinkerbelle-io/tb-remediate/internal/cluster"
	"github.com/tinkerbelle-io/tb-remediate/internal/remedy"
)

// Resolver turns addresses into workload references. Implementations must
// always return a usable value.
type Resolver interface {
	ResolveByAddress(ctx context.Context, address string) cluster.Identity
	ResolveLabelByAddress(ctx context.Context, address string) string
}

// Config holds the decision table parameters.
type Config struct {
	DDoSReplicas    int32
	DDoSRateLimit   int
	ICMPRateLimit   int
	PolicyNamespace string
	DNSNamespace    string
}

// DefaultConfig returns scale-to-3 and 100 rps for DDoS, 50 rps for ICMP
// floods, policies in default and DNS restrictions in kube-system.
func DefaultConfig() Config {
	return Config{
		DDoSReplicas:    3,
		DDoSRateLimit:   100,
		ICMPRateLimit:   50,
		PolicyNamespace: "default",
		DNSNamespace:    "kube-system",
	}
}

// Dispatcher is the decision table. It only reads cluster state, through
// the resolver.
type Dispatcher struct {
	resolver Resolver
	cfg      Config
	rules    map[anomaly.Kind]rule
	log      *slog.Logger
}

type rule func(ctx context.Context, ev anomaly.Event) []remedy.Action

// New creates a dispatcher.
func New(resolver Resolver, cfg Config) *Dispatcher {
	d := &Dispatcher{
		resolver: resolver,
		cfg:      cfg,
		log:      slog.Default().With("component", "dispatcher"),
	}
	d.rules = map[anomaly.Kind]rule{
		anomaly.KindDDoS:                   d.ddos,
		anomaly.KindPortScan:               d.portScan,
		anomaly.KindICMPFlood:              d.icmpFlood,
		anomaly.KindOverlayVulnerability:   d.overlayVulnerability,
		anomaly.KindPolicyMisconfiguration: d.policyMisconfiguration,
		anomaly.KindDNSAttack:              d.dnsAttack,
		anomaly.KindLateralMovement:        d.lateralMovement,
		anomaly.KindResourceExhaustion:     d.resourceExhaustion,
	}
	return d
}

// Dispatch returns the actions for ev in execution order. Events without a
// kind yield anomaly.ErrMissingClassification; unknown kinds yield no
// actions and no error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev anomaly.Event) ([]remedy.Action, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	r, ok := d.rules[ev.Kind]
	if !ok {
		d.log.Warn("no remediation defined for anomaly", "issue_type", ev.Kind)
		return nil, nil
	}
	return r(ctx, ev), nil
}

func (d *Dispatcher) ddos(ctx context.Context, ev anomaly.Event) []remedy.Action {
	id := d.resolver.ResolveByAddress(ctx, ev.DestinationAddress)
	// Scale before throttling so the extra replicas absorb traffic the
	// limit still admits.
	return []remedy.Action{
		remedy.ScaleTo{Identity: id, Replicas: d.cfg.DDoSReplicas},
		remedy.RateLimit{Identity: id, RequestsPerSecond: d.cfg.DDoSRateLimit},
	}
}

func (d *Dispatcher) portScan(_ context.Context, ev anomaly.Event) []remedy.Action {
	return []remedy.Action{
		remedy.BlockSource{Address: ev.SourceAddress, Namespace: d.cfg.PolicyNamespace},
	}
}

func (d *Dispatcher) icmpFlood(ctx context.Context, ev anomaly.Event) []remedy.Action {
	id := d.resolver.ResolveByAddress(ctx, ev.DestinationAddress)
	return []remedy.Action{
		remedy.RateLimit{Identity: id, RequestsPerSecond: d.cfg.ICMPRateLimit},
	}
}

func (d *Dispatcher) overlayVulnerability(ctx context.Context, ev anomaly.Event) []remedy.Action {
	id := d.resolver.ResolveByAddress(ctx, ev.DestinationAddress)
	return []remedy.Action{remedy.EnableMTLS{Identity: id}}
}

func (d *Dispatcher) policyMisconfiguration(ctx context.Context, ev anomaly.Event) []remedy.Action {
	id := d.resolver.ResolveByAddress(ctx, ev.DestinationAddress)
	return []remedy.Action{remedy.DefaultDenyNamespace{Namespace: id.Namespace}}
}

func (d *Dispatcher) dnsAttack(context.Context, anomaly.Event) []remedy.Action {
	return []remedy.Action{remedy.RestrictDNS{Namespace: d.cfg.DNSNamespace}}
}

func (d *Dispatcher) lateralMovement(ctx context.Context, ev anomaly.Event) []remedy.Action {
	label := d.resolver.ResolveLabelByAddress(ctx, ev.DestinationAddress)
	return []remedy.Action{remedy.IsolateWorkload{Label: label, Namespace: d.cfg.PolicyNamespace}}
}

func (d *Dispatcher) resourceExhaustion(ctx context.Context, ev anomaly.Event) []remedy.Action {
	id := d.resolver.ResolveByAddress(ctx, ev.DestinationAddress)
	return []remedy.Action{remedy.SetResourceLimits{Identity: id}}
}
