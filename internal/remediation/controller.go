// Package remediation clears injected fault state out-of-band, independent
// of the episode lifecycle.
package remediation

import (
	"context"
	"errors"
	"time"

	"github.com/mreider/fabrik/internal/cluster"
	"github.com/mreider/fabrik/internal/events"
	"github.com/mreider/fabrik/internal/faults"
	"github.com/mreider/fabrik/internal/metrics"
	"github.com/mreider/fabrik/internal/types"
	"github.com/mreider/fabrik/pkg/logger"
)

// DefaultReason annotates remediation passes that arrive without one.
const DefaultReason = "auto-remediation triggered"

// Store is the fault-state surface remediation needs.
type Store interface {
	GetCurrentValue(ctx context.Context, target types.Target, key string) (string, bool, error)
	ApplyPatch(ctx context.Context, target types.Target, patch cluster.EnvPatch) error
}

// Resolver expands a logical name into concrete targets.
type Resolver interface {
	Resolve(ctx context.Context, logicalName string) ([]types.Target, error)
}

// Recorder receives the remediation summary for the status surface.
type Recorder interface {
	SetRemediation(ctx context.Context, sum *types.RemediationSummary)
}

// Controller performs remediation passes. It never creates episodes; it
// only tears fault state down.
type Controller struct {
	store    Store
	resolver Resolver
	sink     events.Sink
	recorder Recorder
	log      logger.Logger
}

// NewController creates a remediation controller. recorder may be nil.
func NewController(store Store, resolver Resolver, sink events.Sink, recorder Recorder, log logger.Logger) *Controller {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Controller{
		store:    store,
		resolver: resolver,
		sink:     sink,
		recorder: recorder,
		log:      log,
	}
}

// Remediate clears fault state from the named logical target ("all" fans
// out across the fleet). A target is touched only when its failure-rate
// marker is set; targets without the marker are left alone. Once the pass
// runs, exactly one finished event is emitted regardless of how many
// targets needed clearing.
func (c *Controller) Remediate(ctx context.Context, logicalName, reason string) (types.RemediationResult, error) {
	if reason == "" {
		reason = DefaultReason
	}

	resolved, err := c.resolver.Resolve(ctx, logicalName)
	if err != nil {
		return types.RemediationResult{}, err
	}

	versionTag := events.NewVersionTag("good")
	result := types.RemediationResult{}

	c.log.Info("remediation pass starting",
		"target", logicalName,
		"reason", reason,
		"candidates", len(resolved),
		"version", versionTag,
	)

	for _, target := range resolved {
		cleared := c.remediateTarget(ctx, target)
		if cleared {
			result.TargetsCleared++
		} else {
			result.TargetsSkipped++
		}
	}

	metrics.RemediationsTotal.Inc()
	metrics.TargetsClearedTotal.Add(float64(result.TargetsCleared))
	metrics.TargetsSkippedTotal.Add(float64(result.TargetsSkipped))

	if c.recorder != nil {
		c.recorder.SetRemediation(ctx, &types.RemediationSummary{
			At:     time.Now(),
			Target: logicalName,
			Reason: reason,
			Result: result,
		})
	}

	// The finished event fires even when nothing was cleared, so the
	// telemetry timeline always shows the recovery attempt.
	_ = c.sink.Emit(ctx, events.RemediationFinished(logicalName, reason, versionTag, result))

	c.log.Info("remediation pass completed",
		"target", logicalName,
		"cleared", result.TargetsCleared,
		"skipped", result.TargetsSkipped,
	)
	return result, nil
}

// remediateTarget probes the failure-rate marker and, when present, strips
// the entire fault vocabulary from the target. Per-target failures are
// isolated so one broken deployment cannot block fleet-wide recovery.
func (c *Controller) remediateTarget(ctx context.Context, target types.Target) bool {
	_, present, err := c.store.GetCurrentValue(ctx, target, faults.PrimaryKey)
	if err != nil {
		if errors.Is(err, cluster.ErrTargetNotFound) {
			c.log.Warn("remediation target not found, skipping", "target", target.String())
		} else {
			c.log.Warn("fault probe failed, skipping target",
				"target", target.String(),
				"error", err.Error(),
			)
		}
		return false
	}
	if !present {
		c.log.Debug("no active fault state, leaving target alone", "target", target.String())
		return false
	}

	patch := cluster.EnvPatch{Remove: faults.KnownKeys()}
	if err := c.store.ApplyPatch(ctx, target, patch); err != nil {
		c.log.Warn("failed to clear fault state",
			"target", target.String(),
			"error", err.Error(),
		)
		return false
	}

	c.log.Info("fault state cleared", "target", target.String())
	return true
}
