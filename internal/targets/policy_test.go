package targets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mreider/fabrik/internal/types"
)

type stubNamespaceLister struct {
	namespaces []string
	err        error
}

func (s *stubNamespaceLister) ListNamespaces(ctx context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.namespaces, nil
}

var testWhitelist = []string{"frontend", "orders", "inventory"}

func TestResolve_SingleService(t *testing.T) {
	policy := NewPolicy(testWhitelist, &stubNamespaceLister{namespaces: []string{"fabrik"}}, nil)

	targets, err := policy.Resolve(context.Background(), "orders")
	require.NoError(t, err)

	assert.Equal(t, []types.Target{{Namespace: "fabrik", Deployment: "orders"}}, targets)
}

func TestResolve_AllExpandsCrossProduct(t *testing.T) {
	policy := NewPolicy(testWhitelist,
		&stubNamespaceLister{namespaces: []string{"fabrik", "fabrik-staging"}}, nil)

	targets, err := policy.Resolve(context.Background(), All)
	require.NoError(t, err)

	assert.Equal(t, []types.Target{
		{Namespace: "fabrik", Deployment: "frontend"},
		{Namespace: "fabrik", Deployment: "orders"},
		{Namespace: "fabrik", Deployment: "inventory"},
		{Namespace: "fabrik-staging", Deployment: "frontend"},
		{Namespace: "fabrik-staging", Deployment: "orders"},
		{Namespace: "fabrik-staging", Deployment: "inventory"},
	}, targets)
}

func TestResolve_UnknownTarget(t *testing.T) {
	policy := NewPolicy(testWhitelist, &stubNamespaceLister{namespaces: []string{"fabrik"}}, nil)

	_, err := policy.Resolve(context.Background(), "billing")
	require.Error(t, err)

	var unknownErr *UnknownTargetError
	require.True(t, errors.As(err, &unknownErr))
	assert.Equal(t, "billing", unknownErr.Name)
	assert.Equal(t, testWhitelist, unknownErr.Valid)
	assert.Contains(t, err.Error(), "orders")
	assert.Contains(t, err.Error(), All)
}

func TestResolve_ListerError(t *testing.T) {
	policy := NewPolicy(testWhitelist, &stubNamespaceLister{err: errors.New("api down")}, nil)

	_, err := policy.Resolve(context.Background(), "orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api down")
}

func TestResolve_NoReachableNamespaces(t *testing.T) {
	policy := NewPolicy(testWhitelist, &stubNamespaceLister{}, nil)

	targets, err := policy.Resolve(context.Background(), All)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestIsKnown(t *testing.T) {
	policy := NewPolicy(testWhitelist, &stubNamespaceLister{}, nil)

	assert.True(t, policy.IsKnown("frontend"))
	assert.True(t, policy.IsKnown(All))
	assert.False(t, policy.IsKnown("billing"))
	assert.False(t, policy.IsKnown(""))
}

func TestWhitelist_ReturnsCopy(t *testing.T) {
	policy := NewPolicy(testWhitelist, &stubNamespaceLister{}, nil)

	list := policy.Whitelist()
	list[0] = "mutated"

	assert.Equal(t, "frontend", policy.Whitelist()[0])
}
