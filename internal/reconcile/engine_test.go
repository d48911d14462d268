package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mreider/fabrik/internal/cluster"
	"github.com/mreider/fabrik/internal/faults"
	"github.com/mreider/fabrik/internal/types"
)

// fakeEnvStore keeps per-target fault state in memory and records every
// patch it receives.
type fakeEnvStore struct {
	mu         sync.Mutex
	env        map[types.Target]map[string]string
	applyCalls int
	patches    []cluster.EnvPatch
	applyErr   error
	rolloutErr error
}

func newFakeEnvStore(targets ...types.Target) *fakeEnvStore {
	env := make(map[types.Target]map[string]string)
	for _, t := range targets {
		env[t] = make(map[string]string)
	}
	return &fakeEnvStore{env: env}
}

func (f *fakeEnvStore) seed(target types.Target, params map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.env[target]
	if state == nil {
		state = make(map[string]string)
		f.env[target] = state
	}
	for k, v := range params {
		state[k] = v
	}
}

func (f *fakeEnvStore) GetCurrentValue(ctx context.Context, target types.Target, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.env[target]
	if !ok {
		return "", false, cluster.ErrTargetNotFound
	}
	value, present := state[key]
	return value, present, nil
}

func (f *fakeEnvStore) ApplyPatch(ctx context.Context, target types.Target, patch cluster.EnvPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.env[target]
	if !ok {
		return cluster.ErrTargetNotFound
	}
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applyCalls++
	f.patches = append(f.patches, patch)
	for k, v := range patch.Set {
		state[k] = v
	}
	for _, k := range patch.Remove {
		delete(state, k)
	}
	return nil
}

func (f *fakeEnvStore) WaitForRollout(ctx context.Context, target types.Target, timeout time.Duration) error {
	return f.rolloutErr
}

func (f *fakeEnvStore) ListNamespaces(ctx context.Context) ([]string, error) {
	return []string{"fabrik"}, nil
}

func (f *fakeEnvStore) state(target types.Target) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.env[target] {
		out[k] = v
	}
	return out
}

var (
	ordersTarget   = types.Target{Namespace: "fabrik", Deployment: "orders"}
	frontendTarget = types.Target{Namespace: "fabrik", Deployment: "frontend"}
	ghostTarget    = types.Target{Namespace: "fabrik", Deployment: "ghost"}
)

func ordersSpec() types.FaultSpec {
	return types.FaultSpec{
		Service: "orders",
		Parameters: map[string]string{
			faults.KeyFailureRate:     "35",
			faults.KeyDBSlowdownRate:  "60",
			faults.KeyDBSlowdownDelay: "1200",
		},
	}
}

func TestReconcile_AppliesDesiredSpec(t *testing.T) {
	store := newFakeEnvStore(ordersTarget)
	engine := NewEngine(store, time.Minute, nil)

	outcome, err := engine.Reconcile(context.Background(), ordersTarget, ordersSpec())
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 1, store.applyCalls)
	assert.Equal(t, map[string]string{
		faults.KeyFailureRate:     "35",
		faults.KeyDBSlowdownRate:  "60",
		faults.KeyDBSlowdownDelay: "1200",
	}, store.state(ordersTarget))
}

func TestReconcile_SecondPassIsAlreadyCurrent(t *testing.T) {
	store := newFakeEnvStore(ordersTarget)
	engine := NewEngine(store, time.Minute, nil)
	ctx := context.Background()

	first, err := engine.Reconcile(ctx, ordersTarget, ordersSpec())
	require.NoError(t, err)
	second, err := engine.Reconcile(ctx, ordersTarget, ordersSpec())
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, first)
	assert.Equal(t, OutcomeAlreadyCurrent, second)
	assert.Equal(t, 1, store.applyCalls, "identical spec must not patch twice")
}

func TestReconcile_EmptySpecClearsEverything(t *testing.T) {
	store := newFakeEnvStore(ordersTarget)
	engine := NewEngine(store, time.Minute, nil)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, ordersTarget, ordersSpec())
	require.NoError(t, err)

	outcome, err := engine.Reconcile(ctx, ordersTarget, types.FaultSpec{Service: "orders"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	for _, key := range faults.KnownKeys() {
		_, present, err := store.GetCurrentValue(ctx, ordersTarget, key)
		require.NoError(t, err)
		assert.False(t, present, "key %s must be cleared", key)
	}
}

func TestReconcile_EmptySpecOnCleanTargetIsCurrent(t *testing.T) {
	store := newFakeEnvStore(ordersTarget)
	engine := NewEngine(store, time.Minute, nil)

	outcome, err := engine.Reconcile(context.Background(), ordersTarget, types.FaultSpec{Service: "orders"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeAlreadyCurrent, outcome)
	assert.Zero(t, store.applyCalls)
}

func TestReconcile_PatchCarriesOnlyTheDiff(t *testing.T) {
	store := newFakeEnvStore(ordersTarget)
	store.seed(ordersTarget, map[string]string{
		faults.KeyFailureRate:  "35",
		faults.KeySlowdownRate: "50",
	})
	engine := NewEngine(store, time.Minute, nil)

	outcome, err := engine.Reconcile(context.Background(), ordersTarget, types.FaultSpec{
		Service: "orders",
		Parameters: map[string]string{
			faults.KeyFailureRate:    "35",
			faults.KeyDBSlowdownRate: "60",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	require.Len(t, store.patches, 1)
	patch := store.patches[0]
	assert.Equal(t, map[string]string{faults.KeyDBSlowdownRate: "60"}, patch.Set,
		"unchanged keys must not be rewritten")
	assert.Equal(t, []string{faults.KeySlowdownRate}, patch.Remove,
		"undesired keys must be removed")
}

func TestReconcile_InvalidValuesOmittedFromPatch(t *testing.T) {
	store := newFakeEnvStore(ordersTarget)
	engine := NewEngine(store, time.Minute, nil)

	outcome, err := engine.Reconcile(context.Background(), ordersTarget, types.FaultSpec{
		Service: "orders",
		Parameters: map[string]string{
			faults.KeyFailureRate:     "abc",
			faults.KeyDBSlowdownDelay: "900",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	require.Len(t, store.patches, 1)
	assert.Equal(t, map[string]string{faults.KeyDBSlowdownDelay: "900"}, store.patches[0].Set)
	_, present, _ := store.GetCurrentValue(context.Background(), ordersTarget, faults.KeyFailureRate)
	assert.False(t, present, "unparseable rate must stay absent")
}

func TestReconcile_MissingTargetIsSkipped(t *testing.T) {
	store := newFakeEnvStore(ordersTarget)
	engine := NewEngine(store, time.Minute, nil)

	outcome, err := engine.Reconcile(context.Background(), ghostTarget, ordersSpec())

	assert.Equal(t, OutcomeSkipped, outcome)
	assert.ErrorIs(t, err, cluster.ErrTargetNotFound)
}

func TestReconcile_ApplyFailure(t *testing.T) {
	store := newFakeEnvStore(ordersTarget)
	store.applyErr = errors.New("admission webhook rejected update")
	engine := NewEngine(store, time.Minute, nil)

	outcome, err := engine.Reconcile(context.Background(), ordersTarget, ordersSpec())

	assert.Equal(t, OutcomeFailed, outcome)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admission webhook")
}

func TestReconcile_RolloutTimeoutStillApplied(t *testing.T) {
	store := newFakeEnvStore(ordersTarget)
	store.rolloutErr = cluster.ErrRolloutTimeout
	engine := NewEngine(store, time.Minute, nil)

	outcome, err := engine.Reconcile(context.Background(), ordersTarget, ordersSpec())

	require.NoError(t, err, "rollout timeout is reported, not fatal")
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, ordersSpec().Parameters, store.state(ordersTarget))
}

func TestReconcileAll_PartialFailureIsolation(t *testing.T) {
	store := newFakeEnvStore(ordersTarget, frontendTarget)
	engine := NewEngine(store, time.Minute, nil)

	summary := engine.ReconcileAll(context.Background(), []TargetSpec{
		{Target: ordersTarget, Spec: ordersSpec()},
		{Target: ghostTarget, Spec: ordersSpec()},
		{Target: frontendTarget, Spec: types.FaultSpec{
			Service:    "frontend",
			Parameters: map[string]string{faults.KeyFailureRate: "30"},
		}},
	})

	assert.Equal(t, Summary{Applied: 2, Skipped: 1}, summary)
	assert.Equal(t, "35", store.state(ordersTarget)[faults.KeyFailureRate])
	assert.Equal(t, "30", store.state(frontendTarget)[faults.KeyFailureRate])
}

func TestReconcileAll_MutationFailureDoesNotAbortBatch(t *testing.T) {
	store := newFakeEnvStore(ordersTarget, frontendTarget)
	engine := NewEngine(store, time.Minute, nil)

	// Fail the first target's patch, then clear the fault for the second.
	store.applyErr = errors.New("rejected")
	first := engine.ReconcileAll(context.Background(), []TargetSpec{
		{Target: ordersTarget, Spec: ordersSpec()},
	})
	store.applyErr = nil
	second := engine.ReconcileAll(context.Background(), []TargetSpec{
		{Target: frontendTarget, Spec: types.FaultSpec{
			Service:    "frontend",
			Parameters: map[string]string{faults.KeyFailureRate: "30"},
		}},
	})

	assert.Equal(t, Summary{Failed: 1}, first)
	assert.Equal(t, Summary{Applied: 1}, second)
}

func TestAnyFaultActive(t *testing.T) {
	store := newFakeEnvStore(ordersTarget)
	engine := NewEngine(store, time.Minute, nil)
	ctx := context.Background()

	active, err := engine.AnyFaultActive(ctx, ordersTarget)
	require.NoError(t, err)
	assert.False(t, active)

	// A single non-primary key must count as active: the probe covers the
	// whole vocabulary, not just FAILURE_RATE.
	store.seed(ordersTarget, map[string]string{faults.KeySlowdownRate: "60"})

	active, err = engine.AnyFaultActive(ctx, ordersTarget)
	require.NoError(t, err)
	assert.True(t, active)

	_, err = engine.AnyFaultActive(ctx, ghostTarget)
	assert.ErrorIs(t, err, cluster.ErrTargetNotFound)
}
