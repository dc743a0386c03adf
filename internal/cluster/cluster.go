// Package cluster wraps the Kubernetes control API the remediation engine
// reads from and mutates.
package cluster

import (
	"fmt"
	"os"
	"path/filepath"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Identity names a deployable workload.
type Identity struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

func (id Identity) String() string {
	return id.Namespace + "/" + id.Name
}

// Clients bundles the typed and dynamic clients. Dynamic is used for
// custom resources such as mesh traffic policies.
type Clients struct {
	Kube    kubernetes.Interface
	Dynamic dynamic.Interface
}

// NewClients builds clients from in-cluster config, falling back to the
// given kubeconfig path (or ~/.kube/config when empty).
func NewClients(kubeconfig string) (*Clients, error) {
	config, err := restConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("k8s config: %w", err)
	}

	kube, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("k8s clientset: %w", err)
	}

	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("k8s dynamic client: %w", err)
	}

	return &Clients{Kube: kube, Dynamic: dyn}, nil
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	// Explicit kubeconfig wins over in-cluster discovery.
	if kubeconfig == "" {
		if config, err := rest.InClusterConfig(); err == nil {
			return config, nil
		}
		home, _ := os.UserHomeDir()
		kubeconfig = filepath.Join(home, ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// LookupState classifies the result of reading an object by name.
type LookupState int

const (
	Found LookupState = iota
	NotFound
	LookupFailed
)

func (s LookupState) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// Classify maps the error of a Get call to a LookupState. Not-found is a
// distinguished result; any other error is LookupFailed.
func Classify(err error) LookupState {
	switch {
	case err == nil:
		return Found
	case apierrors.IsNotFound(err):
		return NotFound
	default:
		return LookupFailed
	}
}
