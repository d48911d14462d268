package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/mreider/fabrik/internal/types"
)

func newConflictError(name string) error {
	return apierrors.NewConflict(
		schema.GroupResource{Group: "apps", Resource: "deployments"},
		name, errors.New("object was modified"))
}

// createFakeDeployment builds a single-container deployment carrying the
// given env entries.
func createFakeDeployment(namespace, name string, env map[string]string) *appsv1.Deployment {
	envVars := make([]corev1.EnvVar, 0, len(env))
	for _, key := range sortedKeys(env) {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: env[key]})
	}
	replicas := int32(1)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:       name,
			Namespace:  namespace,
			Generation: 1,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{Name: name, Image: name + ":demo", Env: envVars},
					},
				},
			},
		},
		Status: appsv1.DeploymentStatus{
			ObservedGeneration: 1,
			UpdatedReplicas:    1,
			ReadyReplicas:      1,
		},
	}
}

func createFakeNamespace(name string) *corev1.Namespace {
	return &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
}

func newTestStore(namespaces []string, objects ...runtime.Object) (*KubeStore, *fake.Clientset) {
	client := fake.NewSimpleClientset(objects...)
	return NewKubeStoreWithClient(client, namespaces, nil), client
}

func deploymentEnv(t *testing.T, client *fake.Clientset, target types.Target) map[string]string {
	t.Helper()
	dep, err := client.AppsV1().Deployments(target.Namespace).Get(context.Background(), target.Deployment, metav1.GetOptions{})
	require.NoError(t, err)
	env := make(map[string]string)
	for _, e := range dep.Spec.Template.Spec.Containers[0].Env {
		env[e.Name] = e.Value
	}
	return env
}

func TestGetCurrentValue(t *testing.T) {
	target := types.Target{Namespace: "fabrik", Deployment: "orders"}
	store, _ := newTestStore([]string{"fabrik"},
		createFakeDeployment("fabrik", "orders", map[string]string{"FAILURE_RATE": "30"}))

	value, present, err := store.GetCurrentValue(context.Background(), target, "FAILURE_RATE")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "30", value)

	_, present, err = store.GetCurrentValue(context.Background(), target, "SLOWDOWN_RATE")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestGetCurrentValue_MissingDeployment(t *testing.T) {
	store, _ := newTestStore([]string{"fabrik"})

	_, _, err := store.GetCurrentValue(context.Background(),
		types.Target{Namespace: "fabrik", Deployment: "orders"}, "FAILURE_RATE")

	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestApplyPatch_SetAndRemove(t *testing.T) {
	target := types.Target{Namespace: "fabrik", Deployment: "orders"}
	store, client := newTestStore([]string{"fabrik"},
		createFakeDeployment("fabrik", "orders", map[string]string{
			"FAILURE_RATE": "30",
			"KAFKA_BROKER": "kafka:9092",
		}))

	err := store.ApplyPatch(context.Background(), target, EnvPatch{
		Set:    map[string]string{"DB_SLOWDOWN_RATE": "50", "FAILURE_RATE": "80"},
		Remove: []string{"KAFKA_BROKER"},
	})
	require.NoError(t, err)

	env := deploymentEnv(t, client, target)
	assert.Equal(t, map[string]string{
		"FAILURE_RATE":     "80",
		"DB_SLOWDOWN_RATE": "50",
	}, env)
}

func TestApplyPatch_EmptyIsNoOp(t *testing.T) {
	target := types.Target{Namespace: "fabrik", Deployment: "orders"}
	store, client := newTestStore([]string{"fabrik"},
		createFakeDeployment("fabrik", "orders", nil))

	err := store.ApplyPatch(context.Background(), target, EnvPatch{})
	require.NoError(t, err)

	for _, action := range client.Actions() {
		assert.False(t, action.Matches("update", "deployments"), "empty patch must not update")
	}
}

func TestApplyPatch_MissingTarget(t *testing.T) {
	store, _ := newTestStore([]string{"fabrik"})

	err := store.ApplyPatch(context.Background(),
		types.Target{Namespace: "fabrik", Deployment: "ghost"},
		EnvPatch{Set: map[string]string{"FAILURE_RATE": "30"}})

	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestApplyPatch_RetriesOnConflict(t *testing.T) {
	target := types.Target{Namespace: "fabrik", Deployment: "orders"}
	store, client := newTestStore([]string{"fabrik"},
		createFakeDeployment("fabrik", "orders", nil))

	conflicted := false
	client.PrependReactor("update", "deployments", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if !conflicted {
			conflicted = true
			return true, nil, newConflictError(target.Deployment)
		}
		return false, nil, nil
	})

	err := store.ApplyPatch(context.Background(), target,
		EnvPatch{Set: map[string]string{"FAILURE_RATE": "30"}})
	require.NoError(t, err)

	env := deploymentEnv(t, client, target)
	assert.Equal(t, "30", env["FAILURE_RATE"])
}

func TestWaitForRollout_Ready(t *testing.T) {
	target := types.Target{Namespace: "fabrik", Deployment: "orders"}
	store, _ := newTestStore([]string{"fabrik"},
		createFakeDeployment("fabrik", "orders", nil))

	err := store.WaitForRollout(context.Background(), target, 5*time.Second)
	assert.NoError(t, err)
}

func TestWaitForRollout_Timeout(t *testing.T) {
	dep := createFakeDeployment("fabrik", "orders", nil)
	dep.Status.ReadyReplicas = 0
	target := types.Target{Namespace: "fabrik", Deployment: "orders"}
	store, _ := newTestStore([]string{"fabrik"}, dep)

	err := store.WaitForRollout(context.Background(), target, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrRolloutTimeout)
}

func TestWaitForRollout_CanceledContext(t *testing.T) {
	dep := createFakeDeployment("fabrik", "orders", nil)
	dep.Status.ReadyReplicas = 0
	target := types.Target{Namespace: "fabrik", Deployment: "orders"}
	store, _ := newTestStore([]string{"fabrik"}, dep)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.WaitForRollout(ctx, target, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestListNamespaces(t *testing.T) {
	store, _ := newTestStore([]string{"fabrik", "fabrik-staging", "missing"},
		createFakeNamespace("fabrik"),
		createFakeNamespace("fabrik-staging"))

	namespaces, err := store.ListNamespaces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fabrik", "fabrik-staging"}, namespaces)
}

func TestRolloutComplete(t *testing.T) {
	tests := []struct {
		name       string
		generation int64
		observed   int64
		replicas   int32
		updated    int32
		ready      int32
		want       bool
	}{
		{name: "settled", generation: 2, observed: 2, replicas: 1, updated: 1, ready: 1, want: true},
		{name: "stale generation", generation: 2, observed: 1, replicas: 1, updated: 1, ready: 1, want: false},
		{name: "pods cycling", generation: 2, observed: 2, replicas: 2, updated: 1, ready: 1, want: false},
		{name: "not ready", generation: 2, observed: 2, replicas: 1, updated: 1, ready: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rolloutComplete(tt.generation, tt.observed, tt.replicas, tt.updated, tt.ready)
			assert.Equal(t, tt.want, got)
		})
	}
}
