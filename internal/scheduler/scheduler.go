// Package scheduler drives the chaos episode lifecycle: random sleeps,
// bounded injection windows, and teardown.
package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mreider/fabrik/internal/events"
	"github.com/mreider/fabrik/internal/faults"
	"github.com/mreider/fabrik/internal/metrics"
	"github.com/mreider/fabrik/internal/reconcile"
	"github.com/mreider/fabrik/internal/targets"
	"github.com/mreider/fabrik/internal/types"
	"github.com/mreider/fabrik/pkg/logger"
)

// ErrEpisodeInProgress rejects an episode start while another is active.
var ErrEpisodeInProgress = errors.New("an episode is already in progress")

// ErrNoTargets reports that no concrete targets could be resolved.
var ErrNoTargets = errors.New("no targets resolved")

// Resolver expands a logical name into concrete targets.
type Resolver interface {
	Resolve(ctx context.Context, logicalName string) ([]types.Target, error)
}

// Mutator applies fault state to the fleet.
type Mutator interface {
	ReconcileAll(ctx context.Context, specs []reconcile.TargetSpec) reconcile.Summary
	AnyFaultActive(ctx context.Context, target types.Target) (bool, error)
}

// Reporter receives controller state for the status surface. Implementations
// must not block episode transitions.
type Reporter interface {
	SetPhase(ctx context.Context, phase string)
	SetEpisode(ctx context.Context, ep *types.ChaosEpisode)
}

// Scheduler owns the episode lifecycle exclusively. One long-lived loop per
// controller instance; remediation runs out-of-band and never creates
// episodes.
type Scheduler struct {
	resolver Resolver
	engine   Mutator
	sink     events.Sink
	reporter Reporter

	maxInterval     time.Duration
	episodeDuration time.Duration
	plan            faults.Plan
	log             logger.Logger

	// rng drives the inter-episode sleep; only the loop goroutine and
	// synchronous RunEpisode callers touch it.
	rng *rand.Rand

	running       int32
	episodeActive int32
	stopCh        chan struct{}
	triggerCh     chan struct{}
	wg            sync.WaitGroup

	phase atomic.Value

	lastMu      sync.RWMutex
	lastEpisode *types.ChaosEpisode
}

// NewScheduler creates a scheduler. reporter may be nil.
func NewScheduler(
	resolver Resolver,
	engine Mutator,
	sink events.Sink,
	reporter Reporter,
	maxInterval time.Duration,
	episodeDuration time.Duration,
	plan faults.Plan,
	log logger.Logger,
) *Scheduler {
	if log == nil {
		log = logger.NewDefault()
	}
	s := &Scheduler{
		resolver:        resolver,
		engine:          engine,
		sink:            sink,
		reporter:        reporter,
		maxInterval:     maxInterval,
		episodeDuration: episodeDuration,
		plan:            plan,
		log:             log,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		triggerCh:       make(chan struct{}, 1),
	}
	s.phase.Store(types.PhaseIdle)
	return s
}

// Start launches the continuous loop.
func (s *Scheduler) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		s.log.Warn("scheduler already running")
		return
	}

	s.stopCh = make(chan struct{})
	s.wg.Add(1)

	go s.run(ctx)

	s.log.Info("chaos scheduler started",
		"max_interval", s.maxInterval,
		"episode_duration", s.episodeDuration,
	)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	defer atomic.StoreInt32(&s.running, 0)
	defer s.setPhase(ctx, types.PhaseIdle)

	for {
		sleep := s.randomSleep()
		s.setPhase(ctx, types.PhaseSleeping)
		s.log.Info("sleeping until next episode", "duration", sleep)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			timer.Stop()
			s.log.Info("scheduler stopped")
			return
		case <-s.triggerCh:
			timer.Stop()
			s.log.Info("manual trigger received, short-circuiting sleep")
		case <-timer.C:
		}

		s.executeEpisode(ctx)

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
	}
}

func (s *Scheduler) executeEpisode(ctx context.Context) {
	if err := s.RunEpisode(ctx); err != nil {
		if errors.Is(err, ErrEpisodeInProgress) {
			s.log.Warn("skipping episode, previous episode still in progress")
			return
		}
		s.log.Error("episode failed", "error", err.Error())
	}
}

// randomSleep draws the inter-episode pause uniformly from
// [0, maxInterval]. The random cadence keeps downstream anomaly detectors
// from learning the schedule.
func (s *Scheduler) randomSleep() time.Duration {
	if s.maxInterval <= 0 {
		return 0
	}
	return time.Duration(s.rng.Int63n(int64(s.maxInterval) + 1))
}

// RunEpisode runs exactly one inject-hold-drain cycle synchronously. The
// manual trigger surface calls this directly; the loop calls it per cycle.
func (s *Scheduler) RunEpisode(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.episodeActive, 0, 1) {
		return ErrEpisodeInProgress
	}
	defer atomic.StoreInt32(&s.episodeActive, 0)

	ep, resolved, err := s.inject(ctx)
	if err != nil {
		return err
	}

	s.hold(ctx, ep.PlannedDuration)

	s.drain(ctx, ep, resolved)
	return nil
}

// inject opens the perturbation window: resolve targets, probe for active
// chaos, reconcile the plan onto the fleet, and emit the started event.
func (s *Scheduler) inject(ctx context.Context) (*types.ChaosEpisode, []types.Target, error) {
	resolved, err := s.resolver.Resolve(ctx, targets.All)
	if err != nil {
		return nil, nil, err
	}
	if len(resolved) == 0 {
		return nil, nil, ErrNoTargets
	}

	ep := &types.ChaosEpisode{
		StartedAt:       time.Now(),
		PlannedDuration: s.episodeDuration,
		BadVersionTag:   events.NewVersionTag("bad"),
		GoodVersionTag:  events.NewVersionTag("good"),
	}

	s.setPhase(ctx, types.PhaseInjecting)

	// Probe the canonical target first so a restarted controller does not
	// stack a second injection onto live chaos.
	active := s.probeActive(ctx, resolved[0])
	if active {
		ep.AlreadyActive = true
		s.log.Info("chaos already active, skipping mutation",
			"probe_target", resolved[0].String(),
		)
	} else {
		specs := s.planSpecs(resolved)
		ep.AppliedSpecs = uniqueSpecs(specs)
		summary := s.engine.ReconcileAll(ctx, specs)
		s.log.Info("injection pass completed",
			"applied", summary.Applied,
			"already_current", summary.AlreadyCurrent,
			"skipped", summary.Skipped,
			"failed", summary.Failed,
		)
	}

	s.setLastEpisode(ep)
	if s.reporter != nil {
		s.reporter.SetEpisode(ctx, ep)
	}

	metrics.EpisodesTotal.WithLabelValues(types.StatusStarted).Inc()

	// Emission failures are logged by the sink and never block the episode.
	_ = s.sink.Emit(ctx, events.EpisodeStarted(ep))

	s.log.Info("episode started",
		"bad_version", ep.BadVersionTag,
		"planned_duration", ep.PlannedDuration,
		"already_active", ep.AlreadyActive,
	)
	return ep, resolved, nil
}

// hold keeps the faults active for the episode duration. Stop and context
// cancellation abandon the hold early; the caller still drains.
func (s *Scheduler) hold(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.log.Warn("hold interrupted, draining early")
	case <-s.stopCh:
		s.log.Warn("stop requested, draining early")
	case <-timer.C:
	}
}

// drain closes the window: clear fault state everywhere (unless already
// clear) and emit the finished event.
func (s *Scheduler) drain(ctx context.Context, ep *types.ChaosEpisode, resolved []types.Target) {
	s.setPhase(ctx, types.PhaseDraining)

	if s.probeActive(ctx, resolved[0]) {
		specs := make([]reconcile.TargetSpec, 0, len(resolved))
		for _, target := range resolved {
			specs = append(specs, reconcile.TargetSpec{
				Target: target,
				Spec:   types.FaultSpec{Service: target.Deployment},
			})
		}
		summary := s.engine.ReconcileAll(ctx, specs)
		s.log.Info("drain pass completed",
			"applied", summary.Applied,
			"already_current", summary.AlreadyCurrent,
			"skipped", summary.Skipped,
			"failed", summary.Failed,
		)
	} else {
		s.log.Info("fault state already clear, skipping drain mutation")
	}

	if s.reporter != nil {
		s.reporter.SetEpisode(ctx, ep)
	}

	metrics.EpisodesTotal.WithLabelValues(types.StatusFinished).Inc()

	_ = s.sink.Emit(ctx, events.EpisodeFinished(ep))

	s.log.Info("episode finished", "good_version", ep.GoodVersionTag)
}

// probeActive checks the whole fault vocabulary on one canonical target. A
// missing probe target reads as inactive; the reconcile pass skips it
// anyway.
func (s *Scheduler) probeActive(ctx context.Context, probe types.Target) bool {
	active, err := s.engine.AnyFaultActive(ctx, probe)
	if err != nil {
		s.log.Warn("fault probe failed, assuming inactive",
			"probe_target", probe.String(),
			"error", err.Error(),
		)
		return false
	}
	return active
}

func (s *Scheduler) planSpecs(resolved []types.Target) []reconcile.TargetSpec {
	specs := make([]reconcile.TargetSpec, 0, len(resolved))
	for _, target := range resolved {
		spec, ok := s.plan.SpecFor(target.Deployment)
		if !ok {
			s.log.Debug("no plan entry for target, skipping", "target", target.String())
			continue
		}
		specs = append(specs, reconcile.TargetSpec{Target: target, Spec: spec})
	}
	return specs
}

// uniqueSpecs collapses per-target specs down to one entry per logical
// service, preserving first-seen order.
func uniqueSpecs(specs []reconcile.TargetSpec) []types.FaultSpec {
	seen := make(map[string]bool, len(specs))
	out := make([]types.FaultSpec, 0, len(specs))
	for _, ts := range specs {
		if seen[ts.Spec.Service] {
			continue
		}
		seen[ts.Spec.Service] = true
		out = append(out, ts.Spec)
	}
	return out
}

// TriggerNow short-circuits the current sleep. Returns false when a trigger
// is already pending.
func (s *Scheduler) TriggerNow() bool {
	select {
	case s.triggerCh <- struct{}{}:
		s.log.Info("episode trigger queued")
		return true
	default:
		return false
	}
}

// Stop halts the loop and waits for the in-flight episode step to wind
// down. An episode interrupted mid-hold still drains before Stop returns.
func (s *Scheduler) Stop() {
	if atomic.LoadInt32(&s.running) == 0 {
		return
	}

	if s.stopCh != nil {
		close(s.stopCh)
	}

	s.wg.Wait()
	s.log.Info("chaos scheduler stopped gracefully")
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// Phase returns the current lifecycle phase.
func (s *Scheduler) Phase() string {
	return s.phase.Load().(string)
}

// LastEpisode returns the most recent episode, or nil before the first one.
func (s *Scheduler) LastEpisode() *types.ChaosEpisode {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastEpisode
}

func (s *Scheduler) setLastEpisode(ep *types.ChaosEpisode) {
	s.lastMu.Lock()
	s.lastEpisode = ep
	s.lastMu.Unlock()
}

func (s *Scheduler) setPhase(ctx context.Context, phase string) {
	s.phase.Store(phase)
	metrics.SetPhase(phase)
	if s.reporter != nil {
		s.reporter.SetPhase(ctx, phase)
	}
}
