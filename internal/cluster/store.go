// Package cluster adapts the Kubernetes API into the declarative fault-state
// store the controller mutates.
package cluster

import (
	"context"
	"errors"
	"time"

	"github.com/mreider/fabrik/internal/types"
)

// ErrTargetNotFound marks a target whose namespace or deployment does not
// exist. Callers skip the target and continue.
var ErrTargetNotFound = errors.New("target not found")

// ErrRolloutTimeout marks a rollout that did not settle within its timeout.
// The patched spec is still in place; callers report and continue.
var ErrRolloutTimeout = errors.New("rollout timed out")

// EnvPatch is one batch of fault-parameter changes for a target. Keys in
// Set are written, keys in Remove are deleted. A patch is applied as a
// single deployment update so each reconciliation costs at most one pod
// rollout per target.
type EnvPatch struct {
	Set    map[string]string
	Remove []string
}

// IsEmpty reports whether the patch changes nothing.
func (p EnvPatch) IsEmpty() bool {
	return len(p.Set) == 0 && len(p.Remove) == 0
}

// EnvStore reads and mutates fault parameters on target deployments.
type EnvStore interface {
	// GetCurrentValue reads one fault parameter from the target's first
	// container. The boolean reports presence. Returns ErrTargetNotFound
	// when the namespace or deployment is missing.
	GetCurrentValue(ctx context.Context, target types.Target, key string) (string, bool, error)

	// ApplyPatch applies the whole patch in one deployment update. An empty
	// patch is a no-op. Returns ErrTargetNotFound when the target is
	// missing.
	ApplyPatch(ctx context.Context, target types.Target, patch EnvPatch) error

	// WaitForRollout blocks until the target's pods reflect the updated
	// spec or the timeout elapses, returning ErrRolloutTimeout in the
	// latter case.
	WaitForRollout(ctx context.Context, target types.Target, timeout time.Duration) error

	// ListNamespaces returns the monitored namespaces that currently exist.
	ListNamespaces(ctx context.Context) ([]string, error)
}
