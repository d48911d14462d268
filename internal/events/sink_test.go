package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mreider/fabrik/internal/types"
)

func testEpisode() *types.ChaosEpisode {
	return &types.ChaosEpisode{
		StartedAt:       time.Now(),
		PlannedDuration: 10 * time.Minute,
		BadVersionTag:   "bad-1a2b3c4d",
		GoodVersionTag:  "good-5e6f7a8b",
		AppliedSpecs: []types.FaultSpec{
			{Service: "orders", Parameters: map[string]string{"FAILURE_RATE": "35"}},
			{Service: "frontend", Parameters: map[string]string{"FAILURE_RATE": "30"}},
		},
	}
}

func TestHTTPSink_Emit(t *testing.T) {
	var received types.LifecycleEvent
	var gotAuth, gotContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, "test-token", 5*time.Second, nil)
	event := EpisodeStarted(testEpisode())

	err := sink.Emit(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, types.EventTypeDeployment, received.EventType)
	assert.Equal(t, types.StatusStarted, received.Status)
	assert.Equal(t, "bad-1a2b3c4d", received.CorrelationID)
	assert.Equal(t, event.TimestampNanos, received.TimestampNanos)
	assert.Equal(t, "orders,frontend", received.Properties["services"])
}

func TestHTTPSink_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ingest overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, "test-token", 5*time.Second, nil)

	err := sink.Emit(context.Background(), EpisodeStarted(testEpisode()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPSink_Unreachable(t *testing.T) {
	// Grab a port that nothing is listening on.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sink := NewHTTPSink(url, "test-token", time.Second, nil)

	err := sink.Emit(context.Background(), EpisodeStarted(testEpisode()))
	assert.Error(t, err)
}

func TestNoopSink_SkipsWithoutError(t *testing.T) {
	sink := NewNoopSink(nil)

	for i := 0; i < 3; i++ {
		assert.NoError(t, sink.Emit(context.Background(), EpisodeStarted(testEpisode())))
	}
}

func TestNewSink_Selection(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		token    string
		wantHTTP bool
	}{
		{name: "configured", url: "https://ingest.example.com", token: "tok", wantHTTP: true},
		{name: "missing token", url: "https://ingest.example.com", token: ""},
		{name: "missing url", url: "", token: "tok"},
		{name: "unconfigured", url: "", token: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := NewSink(tt.url, tt.token, time.Second, nil)
			_, isHTTP := sink.(*HTTPSink)
			assert.Equal(t, tt.wantHTTP, isHTTP)
		})
	}
}

func TestNewVersionTag(t *testing.T) {
	tag := NewVersionTag("bad")

	assert.Regexp(t, `^bad-[0-9a-f]{8}$`, tag)
	assert.NotEqual(t, tag, NewVersionTag("bad"))
}

func TestEpisodeEventOrdering(t *testing.T) {
	ep := testEpisode()

	started := EpisodeStarted(ep)
	finished := EpisodeFinished(ep)

	assert.Equal(t, types.StatusStarted, started.Status)
	assert.Equal(t, types.StatusFinished, finished.Status)
	assert.Equal(t, ep.BadVersionTag, started.CorrelationID)
	assert.Equal(t, ep.GoodVersionTag, finished.CorrelationID)
	assert.Equal(t, ep.BadVersionTag, finished.Properties["rolled_back_from"])
	assert.LessOrEqual(t, started.TimestampNanos, finished.TimestampNanos)
}

func TestRemediationFinished(t *testing.T) {
	event := RemediationFinished("orders", "latency spike", "good-cafe0123",
		types.RemediationResult{TargetsCleared: 2, TargetsSkipped: 1})

	assert.Equal(t, types.StatusFinished, event.Status)
	assert.Equal(t, "good-cafe0123", event.CorrelationID)
	assert.Equal(t, "auto-rollback", event.Properties["remediation"])
	assert.Equal(t, "latency spike", event.Properties["reason"])
	assert.Equal(t, "orders", event.Properties["triggering_target"])
	assert.Equal(t, "2", event.Properties["targets_cleared"])
	assert.Equal(t, "1", event.Properties["targets_skipped"])
}

func TestHTTPSink_TimestampIsNanoseconds(t *testing.T) {
	before := time.Now().UnixNano()
	event := EpisodeStarted(testEpisode())
	after := time.Now().UnixNano()

	assert.GreaterOrEqual(t, event.TimestampNanos, before)
	assert.LessOrEqual(t, event.TimestampNanos, after)
}
