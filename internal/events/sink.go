// Package events constructs and ships lifecycle events to the telemetry
// backend.
package events

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mreider/fabrik/internal/metrics"
	"github.com/mreider/fabrik/internal/types"
	"github.com/mreider/fabrik/pkg/logger"
)

// Sink ships one lifecycle event. Emission is fire-and-forget: failures are
// logged and counted, and callers never block state transitions on them.
type Sink interface {
	Emit(ctx context.Context, event types.LifecycleEvent) error
}

// HTTPSink posts events as JSON to the telemetry ingest endpoint,
// authenticated with a bearer token.
type HTTPSink struct {
	url        string
	token      string
	httpClient *http.Client
	log        logger.Logger
}

// NewHTTPSink creates a sink for the given ingest endpoint.
func NewHTTPSink(url, token string, timeout time.Duration, log logger.Logger) *HTTPSink {
	if log == nil {
		log = logger.NewDefault()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSink{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Emit posts the event. A failed POST is logged and counted, never retried
// within the same episode.
func (s *HTTPSink) Emit(ctx context.Context, event types.LifecycleEvent) error {
	payload, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.reportFailure(event, err)
		return fmt.Errorf("event sink unavailable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("event sink returned status %d", resp.StatusCode)
		s.reportFailure(event, err)
		return err
	}

	s.log.Info("lifecycle event shipped",
		"event_type", event.EventType,
		"status", event.Status,
		"correlation_id", event.CorrelationID,
	)
	return nil
}

func (s *HTTPSink) reportFailure(event types.LifecycleEvent, err error) {
	metrics.EventFailuresTotal.Inc()
	s.log.Warn("failed to ship lifecycle event",
		"event_type", event.EventType,
		"status", event.Status,
		"correlation_id", event.CorrelationID,
		"error", err.Error(),
	)
}

// NoopSink skips emission entirely. It backs deployments without a
// configured telemetry endpoint and warns exactly once per process.
type NoopSink struct {
	log  logger.Logger
	once sync.Once
}

// NewNoopSink creates a disabled sink.
func NewNoopSink(log logger.Logger) *NoopSink {
	if log == nil {
		log = logger.NewDefault()
	}
	return &NoopSink{log: log}
}

// Emit drops the event.
func (s *NoopSink) Emit(ctx context.Context, event types.LifecycleEvent) error {
	s.once.Do(func() {
		s.log.Warn("event sink not configured, lifecycle events will be skipped")
	})
	s.log.Debug("skipping lifecycle event",
		"event_type", event.EventType,
		"status", event.Status,
	)
	return nil
}

// NewSink returns an HTTP sink when both url and token are set, otherwise
// the disabled sink. Missing configuration degrades to skip-with-warning.
func NewSink(url, token string, timeout time.Duration, log logger.Logger) Sink {
	if url == "" || token == "" {
		return NewNoopSink(log)
	}
	return NewHTTPSink(url, token, timeout, log)
}

// NewVersionTag generates an opaque correlation tag with the given prefix.
func NewVersionTag(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// EpisodeStarted builds the event opening an episode's perturbation window.
func EpisodeStarted(ep *types.ChaosEpisode) types.LifecycleEvent {
	return types.LifecycleEvent{
		EventType:      types.EventTypeDeployment,
		Status:         types.StatusStarted,
		TimestampNanos: time.Now().UnixNano(),
		CorrelationID:  ep.BadVersionTag,
		Title:          "chaos injection started",
		Properties: map[string]string{
			"version":          ep.BadVersionTag,
			"planned_duration": ep.PlannedDuration.String(),
			"services":         strings.Join(appliedServices(ep), ","),
			"already_active":   strconv.FormatBool(ep.AlreadyActive),
		},
	}
}

// EpisodeFinished builds the event closing an episode's perturbation
// window.
func EpisodeFinished(ep *types.ChaosEpisode) types.LifecycleEvent {
	return types.LifecycleEvent{
		EventType:      types.EventTypeDeployment,
		Status:         types.StatusFinished,
		TimestampNanos: time.Now().UnixNano(),
		CorrelationID:  ep.GoodVersionTag,
		Title:          "chaos drained",
		Properties: map[string]string{
			"version":          ep.GoodVersionTag,
			"rolled_back_from": ep.BadVersionTag,
			"services":         strings.Join(appliedServices(ep), ","),
		},
	}
}

// RemediationFinished builds the event recording a remediation pass. One is
// emitted per pass regardless of whether any target needed clearing.
func RemediationFinished(target, reason, versionTag string, result types.RemediationResult) types.LifecycleEvent {
	return types.LifecycleEvent{
		EventType:      types.EventTypeDeployment,
		Status:         types.StatusFinished,
		TimestampNanos: time.Now().UnixNano(),
		CorrelationID:  versionTag,
		Title:          "auto-remediation",
		Properties: map[string]string{
			"version":           versionTag,
			"remediation":       "auto-rollback",
			"reason":            reason,
			"triggering_target": target,
			"targets_cleared":   strconv.Itoa(result.TargetsCleared),
			"targets_skipped":   strconv.Itoa(result.TargetsSkipped),
		},
	}
}

func appliedServices(ep *types.ChaosEpisode) []string {
	services := make([]string, 0, len(ep.AppliedSpecs))
	for _, spec := range ep.AppliedSpecs {
		services = append(services, spec.Service)
	}
	return services
}
