package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/mreider/fabrik/internal/types"
	"github.com/mreider/fabrik/pkg/logger"
)

// KubeStore implements EnvStore against a Kubernetes cluster. Fault
// parameters live in the env of each deployment's first container (the demo
// pods are single-container).
type KubeStore struct {
	client     kubernetes.Interface
	namespaces []string
	log        logger.Logger
}

// NewKubeStore creates a store from cluster credentials. An empty
// kubeconfigPath selects in-cluster configuration.
func NewKubeStore(kubeconfigPath string, namespaces []string, log logger.Logger) (*KubeStore, error) {
	var cfg *rest.Config
	var err error

	if kubeconfigPath == "" {
		cfg, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
		}
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to build config from kubeconfig: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return NewKubeStoreWithClient(client, namespaces, log), nil
}

// NewKubeStoreWithClient creates a store on a provided clientset (used in
// tests with a fake clientset).
func NewKubeStoreWithClient(client kubernetes.Interface, namespaces []string, log logger.Logger) *KubeStore {
	if log == nil {
		log = logger.NewDefault()
	}
	return &KubeStore{
		client:     client,
		namespaces: namespaces,
		log:        log,
	}
}

// GetCurrentValue reads one fault parameter from the target deployment.
func (s *KubeStore) GetCurrentValue(ctx context.Context, target types.Target, key string) (string, bool, error) {
	dep, err := s.client.AppsV1().Deployments(target.Namespace).Get(ctx, target.Deployment, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", false, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
		}
		return "", false, fmt.Errorf("failed to get deployment %s: %w", target, err)
	}

	containers := dep.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return "", false, fmt.Errorf("deployment %s has no containers", target)
	}

	for _, env := range containers[0].Env {
		if env.Name == key {
			return env.Value, true, nil
		}
	}
	return "", false, nil
}

// ApplyPatch rewrites the target's env in a single deployment update. The
// update is retried once on a write conflict.
func (s *KubeStore) ApplyPatch(ctx context.Context, target types.Target, patch EnvPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	err := s.applyPatchOnce(ctx, target, patch)
	if apierrors.IsConflict(err) {
		s.log.Debug("deployment update conflict, retrying", "target", target.String())
		err = s.applyPatchOnce(ctx, target, patch)
	}
	return err
}

func (s *KubeStore) applyPatchOnce(ctx context.Context, target types.Target, patch EnvPatch) error {
	deployments := s.client.AppsV1().Deployments(target.Namespace)

	dep, err := deployments.Get(ctx, target.Deployment, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrTargetNotFound, target)
		}
		return fmt.Errorf("failed to get deployment %s: %w", target, err)
	}

	containers := dep.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return fmt.Errorf("deployment %s has no containers", target)
	}

	containers[0].Env = rewriteEnv(containers[0].Env, patch)

	if _, err := deployments.Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return err
		}
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrTargetNotFound, target)
		}
		return fmt.Errorf("failed to update deployment %s: %w", target, err)
	}
	return nil
}

// rewriteEnv applies the patch to an env list, preserving the order of
// untouched entries and appending new keys in sorted patch order.
func rewriteEnv(env []corev1.EnvVar, patch EnvPatch) []corev1.EnvVar {
	removed := make(map[string]bool, len(patch.Remove))
	for _, key := range patch.Remove {
		removed[key] = true
	}

	out := make([]corev1.EnvVar, 0, len(env)+len(patch.Set))
	seen := make(map[string]bool, len(env))
	for _, e := range env {
		if removed[e.Name] {
			continue
		}
		if value, ok := patch.Set[e.Name]; ok {
			e.Value = value
			e.ValueFrom = nil
		}
		seen[e.Name] = true
		out = append(out, e)
	}

	for _, key := range sortedKeys(patch.Set) {
		if !seen[key] {
			out = append(out, corev1.EnvVar{Name: key, Value: patch.Set[key]})
		}
	}
	return out
}

// WaitForRollout polls the deployment until its pods reflect the current
// spec generation or the timeout elapses.
func (s *KubeStore) WaitForRollout(ctx context.Context, target types.Target, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, 2*time.Second, timeout, true, func(ctx context.Context) (bool, error) {
		dep, err := s.client.AppsV1().Deployments(target.Namespace).Get(ctx, target.Deployment, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				return false, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
			}
			return false, nil
		}
		return rolloutComplete(dep.Generation, dep.Status.ObservedGeneration,
			replicaCount(dep.Spec.Replicas), dep.Status.UpdatedReplicas, dep.Status.ReadyReplicas), nil
	})
	if err == nil {
		return nil
	}
	if wait.Interrupted(err) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s after %s", ErrRolloutTimeout, target, timeout)
	}
	return err
}

func rolloutComplete(generation, observedGeneration int64, replicas, updated, ready int32) bool {
	if observedGeneration < generation {
		return false
	}
	return updated >= replicas && ready >= replicas
}

func replicaCount(replicas *int32) int32 {
	if replicas == nil {
		return 1
	}
	return *replicas
}

// ListNamespaces returns the subset of monitored namespaces that exist in
// the cluster.
func (s *KubeStore) ListNamespaces(ctx context.Context) ([]string, error) {
	existing := make([]string, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		_, err := s.client.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				s.log.Warn("monitored namespace not found, skipping", "namespace", ns)
				continue
			}
			return nil, fmt.Errorf("failed to get namespace %s: %w", ns, err)
		}
		existing = append(existing, ns)
	}
	return existing, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
