// Package types defines the core data types of the chaos controller.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Target is one concrete deployable unit chaos can be applied to.
type Target struct {
	Namespace  string `json:"namespace"`
	Deployment string `json:"deployment"`
}

// String renders the target as namespace/deployment.
func (t Target) String() string {
	return fmt.Sprintf("%s/%s", t.Namespace, t.Deployment)
}

// FaultSpec is the desired fault state for one logical service.
// An empty Parameters map means "no chaos": applying it clears every
// known fault parameter from the target.
type FaultSpec struct {
	Service    string            `json:"service"`
	Parameters map[string]string `json:"parameters"`
}

// IsEmpty reports whether the spec carries no fault parameters.
func (fs FaultSpec) IsEmpty() bool {
	return len(fs.Parameters) == 0
}

// Clone returns a deep copy of the spec.
func (fs FaultSpec) Clone() FaultSpec {
	out := FaultSpec{Service: fs.Service}
	if fs.Parameters != nil {
		out.Parameters = make(map[string]string, len(fs.Parameters))
		for k, v := range fs.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// Scheduler phases.
const (
	PhaseIdle      = "idle"
	PhaseSleeping  = "sleeping"
	PhaseInjecting = "injecting"
	PhaseDraining  = "draining"
)

// ChaosEpisode is one bounded injection-then-drain cycle.
type ChaosEpisode struct {
	StartedAt       time.Time     `json:"started_at"`
	PlannedDuration time.Duration `json:"planned_duration"`

	// BadVersionTag and GoodVersionTag are opaque correlation identifiers
	// generated per episode; they only appear in emitted events.
	BadVersionTag  string `json:"bad_version_tag"`
	GoodVersionTag string `json:"good_version_tag"`

	// AppliedSpecs holds what this episode actually applied. Empty when the
	// episode found chaos already active and skipped mutation.
	AppliedSpecs []FaultSpec `json:"applied_specs"`

	// AlreadyActive marks an episode that skipped injection because fault
	// state was present at start. It still owns the teardown.
	AlreadyActive bool `json:"already_active"`
}

// Lifecycle event statuses.
const (
	StatusStarted  = "started"
	StatusFinished = "finished"
)

// EventTypeDeployment marks events that external analysis engines correlate
// with rollouts.
const EventTypeDeployment = "deployment"

// LifecycleEvent is an immutable record describing an episode or
// remediation transition, shipped to the telemetry sink.
type LifecycleEvent struct {
	EventType      string            `json:"eventType"`
	Status         string            `json:"status"`
	TimestampNanos int64             `json:"timestamp"`
	CorrelationID  string            `json:"correlationId"`
	Title          string            `json:"title"`
	Properties     map[string]string `json:"properties,omitempty"`
}

// ToJSON serializes the event for the sink.
func (e LifecycleEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// RemediationResult summarizes one remediation pass.
type RemediationResult struct {
	TargetsCleared int `json:"targets_cleared"`
	TargetsSkipped int `json:"targets_skipped"`
}

// EpisodeSummary is the status-surface view of an episode.
type EpisodeSummary struct {
	StartedAt       time.Time `json:"started_at"`
	PlannedSeconds  int       `json:"planned_seconds"`
	BadVersionTag   string    `json:"bad_version_tag"`
	GoodVersionTag  string    `json:"good_version_tag,omitempty"`
	AppliedServices []string  `json:"applied_services"`
	AlreadyActive   bool      `json:"already_active"`
}

// RemediationSummary is the status-surface view of the last remediation.
type RemediationSummary struct {
	At     time.Time         `json:"at"`
	Target string            `json:"target"`
	Reason string            `json:"reason"`
	Result RemediationResult `json:"result"`
}

// StatusSnapshot is the controller state published to Redis and served by
// the status endpoint.
type StatusSnapshot struct {
	Phase           string              `json:"phase"`
	UpdatedAt       time.Time           `json:"updated_at"`
	Episode         *EpisodeSummary     `json:"episode,omitempty"`
	LastRemediation *RemediationSummary `json:"last_remediation,omitempty"`
}

// ToJSON serializes the snapshot for publishing.
func (s StatusSnapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// SnapshotFromJSON deserializes a published snapshot.
func SnapshotFromJSON(data []byte) (*StatusSnapshot, error) {
	var snap StatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status snapshot: %w", err)
	}
	return &snap, nil
}

// Summary returns the status-surface view of the episode.
func (ep *ChaosEpisode) Summary() *EpisodeSummary {
	if ep == nil {
		return nil
	}
	services := make([]string, 0, len(ep.AppliedSpecs))
	for _, spec := range ep.AppliedSpecs {
		services = append(services, spec.Service)
	}
	return &EpisodeSummary{
		StartedAt:       ep.StartedAt,
		PlannedSeconds:  int(ep.PlannedDuration / time.Second),
		BadVersionTag:   ep.BadVersionTag,
		GoodVersionTag:  ep.GoodVersionTag,
		AppliedServices: services,
		AlreadyActive:   ep.AlreadyActive,
	}
}
