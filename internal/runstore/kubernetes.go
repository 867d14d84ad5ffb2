package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	v1 "github.com/prh-dash/dash-status/api/v1"
)

// KubernetesRunStore implements the RunStorage interface using one ConfigMap per run.
type KubernetesRunStore struct {
	Client    kubernetes.Interface
	Namespace string
}

var _ RunStorage = (*KubernetesRunStore)(nil)

// NewKubernetesRunStore creates a new KubernetesRunStore.
// The namespace is assumed to exist: the service account is only granted
// namespaced access, so a cluster-level check is not possible.
func NewKubernetesRunStore(ctx context.Context, client kubernetes.Interface, namespace string) (*KubernetesRunStore, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required for the kubernetes run store")
	}
	log.Printf("Initializing Kubernetes run store in namespace %q", namespace)
	return &KubernetesRunStore{
		Client:    client,
		Namespace: namespace,
	}, nil
}

func configMapName(runID uuid.UUID) string {
	return fmt.Sprintf(runConfigMapNameFormat, runID)
}

func (k *KubernetesRunStore) ListRuns(ctx context.Context, selector string) ([]v1.RunObject, error) {
	fullSelector := BaseSelector()
	if selector != "" {
		fullSelector = selector + "," + fullSelector
	}
	configMaps, err := k.Client.CoreV1().ConfigMaps(k.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fullSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list config maps: %w", err)
	}

	runs := []v1.RunObject{}
	for _, cm := range configMaps.Items {
		runData, ok := cm.Data[runConfigMapDataKey]
		if !ok {
			continue
		}
		var run v1.RunObject
		if err := json.Unmarshal([]byte(runData), &run); err != nil {
			log.Printf("Warning: Error unmarshaling run from configmap %s: %v", cm.Name, err)
			continue
		}
		runs = append(runs, run)
	}
	sortNewestFirst(runs)
	return runs, nil
}

func (k *KubernetesRunStore) GetRun(ctx context.Context, runID uuid.UUID) (*v1.RunObject, error) {
	cm, err := k.Client.CoreV1().ConfigMaps(k.Namespace).Get(ctx, configMapName(runID), metav1.GetOptions{})
	if err != nil {
		return nil, err // not found errors pass through unchanged
	}

	run := &v1.RunObject{}
	if err := json.Unmarshal([]byte(cm.Data[runConfigMapDataKey]), run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run from configmap: %w", err)
	}
	return run, nil
}

func (k *KubernetesRunStore) CreateRun(ctx context.Context, run v1.RunObject) (*v1.RunObject, error) {
	if run.Id == (uuid.UUID{}) {
		return nil, fmt.Errorf("run ID cannot be empty")
	}

	run = withSystemLabels(run)
	payloadBytes, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	cmLabels := make(map[string]string, len(*run.Labels))
	for key, val := range *run.Labels {
		cmLabels[key] = val
	}

	configMap := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      configMapName(run.Id),
			Namespace: k.Namespace,
			Labels:    cmLabels,
		},
		Data: map[string]string{
			runConfigMapDataKey: string(payloadBytes),
		},
	}

	if _, err := k.Client.CoreV1().ConfigMaps(k.Namespace).Create(ctx, configMap, metav1.CreateOptions{}); err != nil {
		return nil, err
	}
	return &run, nil
}

func (k *KubernetesRunStore) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	return k.Client.CoreV1().ConfigMaps(k.Namespace).Delete(ctx, configMapName(runID), metav1.DeleteOptions{})
}
