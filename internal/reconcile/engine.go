// Package reconcile computes and applies minimal fault-state transitions
// against target deployments.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mreider/fabrik/internal/cluster"
	"github.com/mreider/fabrik/internal/faults"
	"github.com/mreider/fabrik/internal/metrics"
	"github.com/mreider/fabrik/internal/types"
	"github.com/mreider/fabrik/pkg/logger"
)

// Outcome classifies one target's reconciliation.
type Outcome string

const (
	// OutcomeApplied means a patch was written.
	OutcomeApplied Outcome = "applied"

	// OutcomeAlreadyCurrent means the target already matched the desired
	// spec and no patch was issued.
	OutcomeAlreadyCurrent Outcome = "already_current"

	// OutcomeSkipped means the target's namespace or deployment is missing.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFailed means the store rejected the patch.
	OutcomeFailed Outcome = "failed"
)

// TargetSpec pairs a concrete target with its desired fault state.
type TargetSpec struct {
	Target types.Target
	Spec   types.FaultSpec
}

// Summary counts the outcomes of one fleet pass.
type Summary struct {
	Applied        int
	AlreadyCurrent int
	Skipped        int
	Failed         int
}

// Engine reconciles desired fault specs onto targets. It is re-entrant:
// reconciling the same spec twice issues at most one patch.
type Engine struct {
	store          cluster.EnvStore
	rolloutTimeout time.Duration
	log            logger.Logger
}

// NewEngine creates a mutation engine on the given store.
func NewEngine(store cluster.EnvStore, rolloutTimeout time.Duration, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Engine{
		store:          store,
		rolloutTimeout: rolloutTimeout,
		log:            log,
	}
}

// Reconcile drives one target to the desired spec. For every key in the
// fault vocabulary it reads the current value, stages a set where desired
// differs and a remove where a key is present but no longer desired, then
// issues at most one patch. An empty desired spec therefore clears all
// fault state. Unparseable desired values are dropped before diffing.
func (e *Engine) Reconcile(ctx context.Context, target types.Target, desired types.FaultSpec) (Outcome, error) {
	outcome, err := e.reconcile(ctx, target, desired)
	metrics.ReconcilesTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (e *Engine) reconcile(ctx context.Context, target types.Target, desired types.FaultSpec) (Outcome, error) {
	wanted, dropped := faults.Normalize(desired.Parameters)
	if len(dropped) > 0 {
		e.log.Warn("dropping invalid fault parameters",
			"target", target.String(),
			"keys", dropped,
		)
	}

	patch := cluster.EnvPatch{Set: make(map[string]string)}
	for _, key := range faults.KnownKeys() {
		current, present, err := e.store.GetCurrentValue(ctx, target, key)
		if err != nil {
			if errors.Is(err, cluster.ErrTargetNotFound) {
				return OutcomeSkipped, err
			}
			return OutcomeFailed, fmt.Errorf("failed to read %s on %s: %w", key, target, err)
		}

		value, want := wanted[key]
		switch {
		case want && (!present || current != value):
			patch.Set[key] = value
		case !want && present:
			patch.Remove = append(patch.Remove, key)
		}
	}

	if patch.IsEmpty() {
		e.log.Debug("target already current", "target", target.String())
		return OutcomeAlreadyCurrent, nil
	}

	if err := e.store.ApplyPatch(ctx, target, patch); err != nil {
		if errors.Is(err, cluster.ErrTargetNotFound) {
			return OutcomeSkipped, err
		}
		return OutcomeFailed, fmt.Errorf("failed to patch %s: %w", target, err)
	}

	e.log.Info("fault state patched",
		"target", target.String(),
		"set", len(patch.Set),
		"removed", len(patch.Remove),
	)

	// Rollout lag is reported but the spec is already written, so the
	// mutation still counts as applied.
	if err := e.store.WaitForRollout(ctx, target, e.rolloutTimeout); err != nil {
		if errors.Is(err, cluster.ErrRolloutTimeout) {
			e.log.Warn("rollout did not settle in time", "target", target.String())
		} else {
			e.log.Warn("rollout wait failed",
				"target", target.String(),
				"error", err.Error(),
			)
		}
	}
	return OutcomeApplied, nil
}

// ReconcileAll reconciles a fleet best-effort. Missing targets are skipped
// with a warning and per-target mutation failures are logged; neither
// aborts the remaining targets.
func (e *Engine) ReconcileAll(ctx context.Context, specs []TargetSpec) Summary {
	var summary Summary
	for _, ts := range specs {
		outcome, err := e.Reconcile(ctx, ts.Target, ts.Spec)
		switch outcome {
		case OutcomeApplied:
			summary.Applied++
		case OutcomeAlreadyCurrent:
			summary.AlreadyCurrent++
		case OutcomeSkipped:
			summary.Skipped++
			e.log.Warn("target unavailable, skipping",
				"target", ts.Target.String(),
				"error", err.Error(),
			)
		case OutcomeFailed:
			summary.Failed++
			e.log.Error("target mutation failed",
				"target", ts.Target.String(),
				"error", err.Error(),
			)
		}
	}
	return summary
}

// AnyFaultActive reports whether the target carries any known fault
// parameter. This is the probe the scheduler uses for its idempotent
// short-circuit; it deliberately checks the whole vocabulary, not just the
// primary rate key.
func (e *Engine) AnyFaultActive(ctx context.Context, target types.Target) (bool, error) {
	for _, key := range faults.KnownKeys() {
		_, present, err := e.store.GetCurrentValue(ctx, target, key)
		if err != nil {
			return false, err
		}
		if present {
			return true, nil
		}
	}
	return false, nil
}
