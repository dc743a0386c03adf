package cluster

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestClassify(t *testing.T) {
	gr := schema.GroupResource{Group: "networking.k8s.io", Resource: "networkpolicies"}

	tests := []struct {
		name string
		err  error
		want LookupState
	}{
		{"nil is found", nil, Found},
		{"not found", apierrors.NewNotFound(gr, "restrict-dns"), NotFound},
		{"wrapped not found", fmt.Errorf("get: %w", apierrors.NewNotFound(gr, "x")), NotFound},
		{"forbidden", apierrors.NewForbidden(gr, "x", errors.New("rbac")), LookupFailed},
		{"transport", errors.New("connection refused"), LookupFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestLookupStateString(t *testing.T) {
	assert.Equal(t, "found", Found.String())
	assert.Equal(t, "not_found", NotFound.String())
	assert.Equal(t, "failed", LookupFailed.String())
}

func TestIdentityString(t *testing.T) {
	assert.Equal(t, "default/my-app", Identity{Name: "my-app", Namespace: "default"}.String())
}
