package status

import (
	"context"
	"sync"
	"time"

	"github.com/mreider/fabrik/internal/types"
	"github.com/mreider/fabrik/pkg/logger"
)

// Publisher pushes snapshots to the shared store. Satisfied by
// RedisPublisher.
type Publisher interface {
	PublishAndNotify(ctx context.Context, snap types.StatusSnapshot) error
}

// Tracker holds the current controller snapshot. The scheduler and the
// remediation controller push their slices of state here; the HTTP status
// endpoint and the Redis publisher read from it. Publish failures are
// logged and never surface to the writers.
type Tracker struct {
	mu        sync.RWMutex
	snapshot  types.StatusSnapshot
	publisher Publisher
	log       logger.Logger
}

// NewTracker creates a tracker. publisher may be nil when the status store
// is not configured.
func NewTracker(publisher Publisher, log logger.Logger) *Tracker {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Tracker{
		snapshot: types.StatusSnapshot{
			Phase:     types.PhaseIdle,
			UpdatedAt: time.Now(),
		},
		publisher: publisher,
		log:       log,
	}
}

// SetPhase records a lifecycle phase transition.
func (t *Tracker) SetPhase(ctx context.Context, phase string) {
	t.mu.Lock()
	t.snapshot.Phase = phase
	t.snapshot.UpdatedAt = time.Now()
	snap := t.snapshot
	t.mu.Unlock()

	t.publish(ctx, snap)
}

// SetEpisode records the current or most recent episode.
func (t *Tracker) SetEpisode(ctx context.Context, ep *types.ChaosEpisode) {
	t.mu.Lock()
	t.snapshot.Episode = ep.Summary()
	t.snapshot.UpdatedAt = time.Now()
	snap := t.snapshot
	t.mu.Unlock()

	t.publish(ctx, snap)
}

// SetRemediation records the most recent remediation pass.
func (t *Tracker) SetRemediation(ctx context.Context, sum *types.RemediationSummary) {
	t.mu.Lock()
	t.snapshot.LastRemediation = sum
	t.snapshot.UpdatedAt = time.Now()
	snap := t.snapshot
	t.mu.Unlock()

	t.publish(ctx, snap)
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() types.StatusSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot
}

func (t *Tracker) publish(ctx context.Context, snap types.StatusSnapshot) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishAndNotify(ctx, snap); err != nil {
		t.log.Warn("status publish failed", "error", err.Error())
	}
}
