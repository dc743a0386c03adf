// Package remedy is the catalog of corrective actions the agent can apply
// to a cluster. Every action is idempotent: creation-based remedies check
// for their deterministically named object before creating it, and
// mutation-based remedies read, modify and write back the whole object.
package remedy

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/tinkerbelle-io/tb-remediate/internal/cluster"
)

// Kind names a remedy variant.
type Kind string

const (
	KindScaleTo              Kind = "scale_to"
	KindRateLimit            Kind = "rate_limit"
	KindBlockSource          Kind = "block_source"
	KindIsolateWorkload      Kind = "isolate_workload"
	KindDefaultDenyNamespace Kind = "default_deny_namespace"
	KindRestrictDNS          Kind = "restrict_dns"
	KindEnableMTLS           Kind = "enable_mtls"
	KindSetResourceLimits    Kind = "set_resource_limits"
)

// Action is one fully resolved remedy invocation. The set of
// implementations is closed to this package.
type Action interface {
	Kind() Kind
	// Target is a human-readable namespace/name of the object the action
	// reads or creates.
	Target() string
	isAction()
}

// ScaleTo sets the replica count of an existing Deployment.
type ScaleTo struct {
	Identity cluster.Identity `json:"identity"`
	Replicas int32            `json:"replicas"`
}

// RateLimit annotates the workload's Ingress with a requests-per-second cap.
type RateLimit struct {
	Identity          cluster.Identity `json:"identity"`
	RequestsPerSecond int              `json:"requests_per_second"`
}

// BlockSource creates a NetworkPolicy for a single source address. An empty
// Address makes the action a logged no-op.
type BlockSource struct {
	Address   string `json:"address,omitempty"`
	Namespace string `json:"namespace"`
}

// IsolateWorkload cuts all ingress and egress for pods labelled app=Label.
type IsolateWorkload struct {
	Label     string `json:"label"`
	Namespace string `json:"namespace"`
}

// DefaultDenyNamespace denies all ingress and egress for every pod in Namespace.
type DefaultDenyNamespace struct {
	Namespace string `json:"namespace"`
}

// RestrictDNS limits cluster DNS pods to UDP/53 egress.
type RestrictDNS struct {
	Namespace string `json:"namespace"`
}

// EnableMTLS requires mutual TLS for traffic to the workload's service.
type EnableMTLS struct {
	Identity cluster.Identity `json:"identity"`
}

// SetResourceLimits pins CPU and memory limits and requests on the
// Deployment's primary container.
type SetResourceLimits struct {
	Identity cluster.Identity `json:"identity"`
}

func (ScaleTo) Kind() Kind              { return KindScaleTo }
func (RateLimit) Kind() Kind            { return KindRateLimit }
func (BlockSource) Kind() Kind          { return KindBlockSource }
func (IsolateWorkload) Kind() Kind      { return KindIsolateWorkload }
func (DefaultDenyNamespace) Kind() Kind { return KindDefaultDenyNamespace }
func (RestrictDNS) Kind() Kind          { return KindRestrictDNS }
func (EnableMTLS) Kind() Kind           { return KindEnableMTLS }
func (SetResourceLimits) Kind() Kind    { return KindSetResourceLimits }

func (ScaleTo) isAction()              {}
func (RateLimit) isAction()            {}
func (BlockSource) isAction()          {}
func (IsolateWorkload) isAction()      {}
func (DefaultDenyNamespace) isAction() {}
func (RestrictDNS) isAction()          {}
func (EnableMTLS) isAction()           {}
func (SetResourceLimits) isAction()    {}

func (a ScaleTo) Target() string { return a.Identity.String() }

func (a RateLimit) Target() string { return a.Identity.Namespace + "/" + a.IngressName() }

// IngressName is the Ingress fronting the workload.
func (a RateLimit) IngressName() string { return a.Identity.Name + "-ingress" }

func (a BlockSource) Target() string { return a.Namespace + "/" + a.PolicyName() }

// PolicyName is block-<address with separators as dashes>-policy, or
// block-ip-policy when no address is known.
func (a BlockSource) PolicyName() string {
	if a.Address == "" {
		return "block-ip-policy"
	}
	name := strings.NewReplacer(".", "-", ":", "-").Replace(a.Address)
	return "block-" + name + "-policy"
}

// CIDR returns the single-host prefix for Address.
func (a BlockSource) CIDR() (string, error) {
	addr, err := netip.ParseAddr(a.Address)
	if err != nil {
		return "", fmt.Errorf("invalid source address %q: %w", a.Address, err)
	}
	return netip.PrefixFrom(addr, addr.BitLen()).String(), nil
}

func (a IsolateWorkload) Target() string { return a.Namespace + "/" + a.PolicyName() }

// PolicyName is isolate-<label>-pods.
func (a IsolateWorkload) PolicyName() string { return "isolate-" + a.Label + "-pods" }

func (a DefaultDenyNamespace) Target() string { return a.Namespace + "/" + DefaultDenyPolicyName }

func (a RestrictDNS) Target() string { return a.Namespace + "/" + RestrictDNSPolicyName }

func (a EnableMTLS) Target() string { return a.Identity.Namespace + "/" + a.RuleName() }

// RuleName is the DestinationRule name, <name>-mtls.
func (a EnableMTLS) RuleName() string { return a.Identity.Name + "-mtls" }

// Host is the in-cluster service FQDN the rule applies to.
func (a EnableMTLS) Host() string {
	return fmt.Sprintf("%s.%s.svc.cluster.local", a.Identity.Name, a.Identity.Namespace)
}

func (a SetResourceLimits) Target() string { return a.Identity.String() }

// Describe renders an action for logs, e.g. "scale_to(default/my-app)".
func Describe(a Action) string {
	return fmt.Sprintf("%s(%s)", a.Kind(), a.Target())
}
