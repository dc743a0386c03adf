package remedy

import (
	"context"
	"strconv"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func (c *Catalog) rateLimit(ctx context.Context, a RateLimit) (Result, error) {
	ingresses := c.kube.NetworkingV1().Ingresses(a.Identity.Namespace)

	ing, err := ingresses.Get(ctx, a.IngressName(), metav1.GetOptions{})
	if err != nil {
		return "", c.fail(a, "get ingress", err)
	}

	if ing.Annotations == nil {
		ing.Annotations = map[string]string{}
	}
	ing.Annotations[c.settings.RateLimitAnnotation] = strconv.Itoa(a.RequestsPerSecond)

	if _, err := ingresses.Update(ctx, ing, metav1.UpdateOptions{}); err != nil {
		return "", c.fail(a, "update ingress", err)
	}
	c.log.Info("applied rate limit", "ingress", a.Target(), "rps", a.RequestsPerSecond)
	return Applied, nil
}
