// Package resolver maps pod IP addresses to the workloads that own them.
//
// Resolution never fails from the caller's point of view: when no pod
// matches, the ownership chain is incomplete, or the API call itself errors,
// the configured fallback identity is returned and a warning is logged.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinkerbelle-io/tb-remediate/internal/cluster"
	"github.com/tinkerbelle-io/tb-remediate/internal/metrics"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// AppLabel is the pod label used as a workload selector.
const AppLabel = "app"

// Fallback is the identity used when resolution does not succeed.
type Fallback struct {
	Identity cluster.Identity
	Label    string
}

// DefaultFallback returns the my-app/default fallback.
func DefaultFallback() Fallback {
	return Fallback{
		Identity: cluster.Identity{Name: "my-app", Namespace: "default"},
		Label:    "my-app",
	}
}

// Resolver performs read-only lookups against the cluster.
type Resolver struct {
	clientset kubernetes.Interface
	fallback  Fallback
	log       *slog.Logger
}

// New creates a resolver.
func New(clientset kubernetes.Interface, fallback Fallback) *Resolver {
	return &Resolver{
		clientset: clientset,
		fallback:  fallback,
		log:       slog.Default().With("component", "resolver"),
	}
}

// ResolveByAddress returns the Deployment owning the pod with the given IP,
// walking pod -> ReplicaSet -> Deployment.
func (r *Resolver) ResolveByAddress(ctx context.Context, address string) cluster.Identity {
	id, err := r.deploymentForAddress(ctx, address)
	if err != nil {
		r.log.Warn("no deployment resolved for address, using fallback",
			"address", address, "fallback", r.fallback.Identity.String(), "error", err)
		metrics.ObserveFallback("identity")
		return r.fallback.Identity
	}
	r.log.Debug("resolved address", "address", address, "deployment", id.String())
	return id
}

// ResolveLabelByAddress returns the app label of the first pod with the
// given IP.
func (r *Resolver) ResolveLabelByAddress(ctx context.Context, address string) string {
	pods, err := r.podsForAddress(ctx, address)
	if err == nil {
		for _, pod := range pods {
			if v := pod.Labels[AppLabel]; v != "" {
				return v
			}
		}
		err = fmt.Errorf("no pod with an %q label", AppLabel)
	}
	r.log.Warn("no app label resolved for address, using fallback",
		"address", address, "fallback", r.fallback.Label, "error", err)
	metrics.ObserveFallback("label")
	return r.fallback.Label
}

func (r *Resolver) deploymentForAddress(ctx context.Context, address string) (cluster.Identity, error) {
	pods, err := r.podsForAddress(ctx, address)
	if err != nil {
		return cluster.Identity{}, err
	}

	for _, pod := range pods {
		for _, owner := range pod.OwnerReferences {
			if owner.Kind != "ReplicaSet" {
				continue
			}
			rs, err := r.clientset.AppsV1().ReplicaSets(pod.Namespace).Get(ctx, owner.Name, metav1.GetOptions{})
			switch cluster.Classify(err) {
			case cluster.NotFound:
				continue
			case cluster.LookupFailed:
				return cluster.Identity{}, fmt.Errorf("get replicaset %s/%s: %w", pod.Namespace, owner.Name, err)
			}
			for _, rsOwner := range rs.OwnerReferences {
				if rsOwner.Kind == "Deployment" {
					return cluster.Identity{Name: rsOwner.Name, Namespace: pod.Namespace}, nil
				}
			}
		}
	}
	return cluster.Identity{}, fmt.Errorf("no deployment owns a pod with IP %s", address)
}

// podsForAddress lists pods whose status IP equals address. The field
// selector narrows the server-side list; the IP is rechecked locally since
// not every client honours field selectors.
func (r *Resolver) podsForAddress(ctx context.Context, address string) ([]corev1.Pod, error) {
	if address == "" {
		return nil, fmt.Errorf("no address given")
	}
	if r.clientset == nil {
		return nil, fmt.Errorf("no cluster client")
	}

	list, err := r.clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		FieldSelector: "status.podIP=" + address,
	})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}

	var pods []corev1.Pod
	for _, pod := range list.Items {
		if pod.Status.PodIP == address {
			pods = append(pods, pod)
		}
	}
	if len(pods) == 0 {
		return nil, fmt.Errorf("no pod has IP %s", address)
	}
	return pods, nil
}
