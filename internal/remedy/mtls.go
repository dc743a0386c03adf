package remedy

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// DestinationRuleGVR is the Istio traffic policy resource used for mTLS.
var DestinationRuleGVR = schema.GroupVersionResource{
	Group:    "networking.istio.io",
	Version:  "v1alpha3",
	Resource: "destinationrules",
}

// DestinationRule builds a rule requiring mutual TLS toward the workload.
func DestinationRule(a EnableMTLS) *unstructured.Unstructured {
	meta := objectMeta(a, a.Identity.Namespace, a.RuleName())
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": DestinationRuleGVR.GroupVersion().String(),
		"kind":       "DestinationRule",
		"spec": map[string]interface{}{
			"host": a.Host(),
			"trafficPolicy": map[string]interface{}{
				"tls": map[string]interface{}{
					"mode": "MUTUAL",
				},
			},
		},
	}}
	obj.SetName(meta.Name)
	obj.SetNamespace(meta.Namespace)
	obj.SetLabels(meta.Labels)
	obj.SetAnnotations(meta.Annotations)
	return obj
}

// meshPresent reports whether the mesh control-plane namespace exists.
func (c *Catalog) meshPresent(ctx context.Context) (bool, error) {
	list, err := c.kube.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return false, err
	}
	for _, ns := range list.Items {
		if ns.Name == c.settings.MeshNamespace {
			return true, nil
		}
	}
	return false, nil
}

func (c *Catalog) enableMTLS(ctx context.Context, a EnableMTLS) (Result, error) {
	present, err := c.meshPresent(ctx)
	if err != nil {
		return "", c.fail(a, "list namespaces", err)
	}
	if !present {
		c.log.Warn("service mesh not installed, skipping mTLS",
			"mesh_namespace", c.settings.MeshNamespace, "workload", a.Identity.String())
		return Skipped, nil
	}
	if c.dynamic == nil {
		return "", c.fail(a, "get destinationrule", fmt.Errorf("no dynamic client"))
	}

	rules := c.dynamic.Resource(DestinationRuleGVR).Namespace(a.Identity.Namespace)
	rule := DestinationRule(a)
	return c.ensure(ctx, a, "destinationrule",
		func(ctx context.Context) error {
			_, err := rules.Get(ctx, rule.GetName(), metav1.GetOptions{})
			return err
		},
		func(ctx context.Context) error {
			_, err := rules.Create(ctx, rule, metav1.CreateOptions{})
			return err
		},
	)
}
