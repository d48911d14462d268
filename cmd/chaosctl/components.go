package main

import (
	"context"
	"fmt"

	"github.com/mreider/fabrik/internal/cluster"
	"github.com/mreider/fabrik/internal/config"
	"github.com/mreider/fabrik/internal/events"
	"github.com/mreider/fabrik/internal/faults"
	"github.com/mreider/fabrik/internal/reconcile"
	"github.com/mreider/fabrik/internal/remediation"
	"github.com/mreider/fabrik/internal/scheduler"
	"github.com/mreider/fabrik/internal/status"
	"github.com/mreider/fabrik/internal/targets"
	"github.com/mreider/fabrik/pkg/logger"
)

// components wires the controller together. publisher is nil when no Redis
// address is configured.
type components struct {
	store      *cluster.KubeStore
	policy     *targets.Policy
	plan       faults.Plan
	engine     *reconcile.Engine
	sink       events.Sink
	publisher  *status.RedisPublisher
	tracker    *status.Tracker
	scheduler  *scheduler.Scheduler
	remediator *remediation.Controller
}

func buildComponents(ctx context.Context, cfg *config.Config, log logger.Logger) (*components, error) {
	store, err := cluster.NewKubeStore(
		cfg.Kubernetes.Kubeconfig,
		cfg.Chaos.Namespaces,
		log.With("component", "cluster"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes store: %w", err)
	}

	policy := targets.NewPolicy(cfg.Chaos.Services, store, log.With("component", "targets"))

	plan := faults.DefaultPlan()
	if cfg.Chaos.PlanFile != "" {
		loaded, dropped, err := faults.LoadPlanFile(cfg.Chaos.PlanFile)
		if err != nil {
			return nil, fmt.Errorf("load fault plan: %w", err)
		}
		if len(dropped) > 0 {
			log.Warn("invalid fault parameters dropped from plan file",
				"file", cfg.Chaos.PlanFile,
				"dropped", dropped,
			)
		}
		plan = loaded
		log.Info("fault plan loaded", "file", cfg.Chaos.PlanFile)
	}

	engine := reconcile.NewEngine(store, cfg.Chaos.RolloutTimeout, log.With("component", "reconcile"))

	sink := events.NewSink(
		cfg.EventSink.URL,
		cfg.EventSink.Token,
		cfg.EventSink.Timeout,
		log.With("component", "events"),
	)

	var publisher *status.RedisPublisher
	var trackerPub status.Publisher
	if cfg.StatusPublisherEnabled() {
		publisher = status.NewRedisPublisher(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.Key,
			cfg.Redis.Channel,
			log.With("component", "redis"),
		)
		if err := publisher.Ping(ctx); err != nil {
			log.Warn("redis ping failed, will retry on first publish", "error", err.Error())
		} else {
			log.Info("status publisher initialized", "addr", cfg.Redis.Address)
		}
		trackerPub = publisher
	}

	tracker := status.NewTracker(trackerPub, log.With("component", "status"))

	sched := scheduler.NewScheduler(
		policy,
		engine,
		sink,
		tracker,
		cfg.Chaos.MaxInterval,
		cfg.Chaos.EpisodeDuration,
		plan,
		log.With("component", "scheduler"),
	)

	remediator := remediation.NewController(
		store,
		policy,
		sink,
		tracker,
		log.With("component", "remediation"),
	)

	return &components{
		store:      store,
		policy:     policy,
		plan:       plan,
		engine:     engine,
		sink:       sink,
		publisher:  publisher,
		tracker:    tracker,
		scheduler:  sched,
		remediator: remediator,
	}, nil
}

func (c *components) close() {
	if c.publisher != nil {
		_ = c.publisher.Close()
	}
}
