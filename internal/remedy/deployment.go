package remedy

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Deployment remedies are read-modify-write: the object is fetched, mutated
// in memory and written back. There is no conflict retry; a concurrent
// writer surfaces as an update error.

func (c *Catalog) scaleTo(ctx context.Context, a ScaleTo) (Result, error) {
	deployments := c.kube.AppsV1().Deployments(a.Identity.Namespace)

	dep, err := deployments.Get(ctx, a.Identity.Name, metav1.GetOptions{})
	if err != nil {
		return "", c.fail(a, "get deployment", err)
	}

	var old int32 = 1
	if dep.Spec.Replicas != nil {
		old = *dep.Spec.Replicas
	}
	replicas := a.Replicas
	dep.Spec.Replicas = &replicas

	if _, err := deployments.Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return "", c.fail(a, "update deployment", err)
	}
	c.log.Info("scaled deployment",
		"deployment", a.Identity.String(), "from", old, "to", replicas)
	return Applied, nil
}

func (c *Catalog) setResourceLimits(ctx context.Context, a SetResourceLimits) (Result, error) {
	deployments := c.kube.AppsV1().Deployments(a.Identity.Namespace)

	dep, err := deployments.Get(ctx, a.Identity.Name, metav1.GetOptions{})
	if err != nil {
		return "", c.fail(a, "get deployment", err)
	}
	containers := dep.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return "", c.fail(a, "select container", fmt.Errorf("deployment has no containers"))
	}

	primary := &containers[0]
	primary.Resources.Limits = c.settings.Resources.Limits.DeepCopy()
	primary.Resources.Requests = c.settings.Resources.Requests.DeepCopy()

	if _, err := deployments.Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return "", c.fail(a, "update deployment", err)
	}
	c.log.Info("set resource limits",
		"deployment", a.Identity.String(), "container", primary.Name,
		"cpu_limit", primary.Resources.Limits.Cpu().String(),
		"memory_limit", primary.Resources.Limits.Memory().String())
	return Applied, nil
}
