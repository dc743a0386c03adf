package remedy

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// Fixed policy names.
const (
	DefaultDenyPolicyName = "default-deny"
	RestrictDNSPolicyName = "restrict-dns"
)

// The label selecting the cluster DNS pods.
const (
	DNSSelectorKey   = "k8s-app"
	DNSSelectorValue = "kube-dns"
)

// BlockSourcePolicy admits ingress to every pod in the namespace only from
// the given CIDR.
func BlockSourcePolicy(a BlockSource, cidr string) *networkingv1.NetworkPolicy {
	return &networkingv1.NetworkPolicy{
		ObjectMeta: objectMeta(a, a.Namespace, a.PolicyName()),
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
			Ingress: []networkingv1.NetworkPolicyIngressRule{{
				From: []networkingv1.NetworkPolicyPeer{{
					IPBlock: &networkingv1.IPBlock{CIDR: cidr},
				}},
			}},
		},
	}
}

// IsolatePolicy denies all ingress and egress for pods labelled app=<label>.
func IsolatePolicy(a IsolateWorkload) *networkingv1.NetworkPolicy {
	return &networkingv1.NetworkPolicy{
		ObjectMeta: objectMeta(a, a.Namespace, a.PolicyName()),
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{
				MatchLabels: map[string]string{"app": a.Label},
			},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress, networkingv1.PolicyTypeEgress},
			Ingress:     []networkingv1.NetworkPolicyIngressRule{},
			Egress:      []networkingv1.NetworkPolicyEgressRule{},
		},
	}
}

// DefaultDenyPolicy denies all ingress and egress for every pod.
func DefaultDenyPolicy(a DefaultDenyNamespace) *networkingv1.NetworkPolicy {
	return &networkingv1.NetworkPolicy{
		ObjectMeta: objectMeta(a, a.Namespace, DefaultDenyPolicyName),
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress, networkingv1.PolicyTypeEgress},
		},
	}
}

// RestrictDNSPolicy limits kube-dns pods to UDP/53 egress.
func RestrictDNSPolicy(a RestrictDNS) *networkingv1.NetworkPolicy {
	udp := corev1.ProtocolUDP
	port := intstr.FromInt32(53)
	return &networkingv1.NetworkPolicy{
		ObjectMeta: objectMeta(a, a.Namespace, RestrictDNSPolicyName),
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{MatchLabels: map[string]string{DNSSelectorKey: DNSSelectorValue}},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeEgress},
			Egress: []networkingv1.NetworkPolicyEgressRule{{
				To: []networkingv1.NetworkPolicyPeer{{
					IPBlock: &networkingv1.IPBlock{CIDR: "0.0.0.0/0"},
				}},
				Ports: []networkingv1.NetworkPolicyPort{{
					Protocol: &udp,
					Port:     &port,
				}},
			}},
		},
	}
}

func (c *Catalog) blockSource(ctx context.Context, a BlockSource) (Result, error) {
	if a.Address == "" {
		c.log.Warn("no source address provided, skipping policy creation", "remedy", a.Kind())
		return Skipped, nil
	}
	cidr, err := a.CIDR()
	if err != nil {
		return "", c.fail(a, "parse address", err)
	}
	return c.ensurePolicy(ctx, a, BlockSourcePolicy(a, cidr))
}

func (c *Catalog) isolateWorkload(ctx context.Context, a IsolateWorkload) (Result, error) {
	return c.ensurePolicy(ctx, a, IsolatePolicy(a))
}

func (c *Catalog) defaultDeny(ctx context.Context, a DefaultDenyNamespace) (Result, error) {
	return c.ensurePolicy(ctx, a, DefaultDenyPolicy(a))
}

func (c *Catalog) restrictDNS(ctx context.Context, a RestrictDNS) (Result, error) {
	return c.ensurePolicy(ctx, a, RestrictDNSPolicy(a))
}

func (c *Catalog) ensurePolicy(ctx context.Context, a Action, policy *networkingv1.NetworkPolicy) (Result, error) {
	policies := c.kube.NetworkingV1().NetworkPolicies(policy.Namespace)
	return c.ensure(ctx, a, "networkpolicy",
		func(ctx context.Context) error {
			_, err := policies.Get(ctx, policy.Name, metav1.GetOptions{})
			return err
		},
		func(ctx context.Context) error {
			_, err := policies.Create(ctx, policy, metav1.CreateOptions{})
			return err
		},
	)
}
