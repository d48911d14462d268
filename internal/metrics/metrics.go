// Package metrics exposes the controller's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mreider/fabrik/internal/types"
)

var (
	// EpisodesTotal counts chaos episodes by lifecycle status.
	EpisodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabrik_chaos_episodes_total",
			Help: "Total chaos episodes by lifecycle status",
		},
		[]string{"status"},
	)

	// ReconcilesTotal counts per-target reconciliations by outcome.
	ReconcilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabrik_chaos_reconciles_total",
			Help: "Total target reconciliations by outcome",
		},
		[]string{"outcome"},
	)

	// RemediationsTotal counts remediation passes.
	RemediationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabrik_chaos_remediations_total",
			Help: "Total remediation passes",
		},
	)

	// TargetsClearedTotal counts targets whose fault state remediation
	// cleared.
	TargetsClearedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabrik_chaos_targets_cleared_total",
			Help: "Total targets cleared by remediation",
		},
	)

	// TargetsSkippedTotal counts targets remediation found already clean or
	// missing.
	TargetsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabrik_chaos_targets_skipped_total",
			Help: "Total targets skipped by remediation",
		},
	)

	// EventFailuresTotal counts lifecycle events that could not be shipped.
	EventFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabrik_chaos_event_failures_total",
			Help: "Total lifecycle events that failed to ship",
		},
	)

	// SchedulerPhase reports the scheduler phase as a numeric code:
	// 0 idle, 1 sleeping, 2 injecting, 3 draining.
	SchedulerPhase = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabrik_chaos_scheduler_phase",
			Help: "Current scheduler phase (0 idle, 1 sleeping, 2 injecting, 3 draining)",
		},
	)
)

func init() {
	prometheus.MustRegister(EpisodesTotal)
	prometheus.MustRegister(ReconcilesTotal)
	prometheus.MustRegister(RemediationsTotal)
	prometheus.MustRegister(TargetsClearedTotal)
	prometheus.MustRegister(TargetsSkippedTotal)
	prometheus.MustRegister(EventFailuresTotal)
	prometheus.MustRegister(SchedulerPhase)
}

// SetPhase updates the scheduler phase gauge.
func SetPhase(phase string) {
	switch phase {
	case types.PhaseIdle:
		SchedulerPhase.Set(0)
	case types.PhaseSleeping:
		SchedulerPhase.Set(1)
	case types.PhaseInjecting:
		SchedulerPhase.Set(2)
	case types.PhaseDraining:
		SchedulerPhase.Set(3)
	}
}
