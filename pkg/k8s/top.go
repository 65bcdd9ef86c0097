package k8s

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kubestellar/pgboard/pkg/models"
)

// PodTop returns the current cpu and memory usage of a pod from the metrics API,
// formatted the way kubectl top prints them (millicores and Mi).
func (m *MultiClusterClient) PodTop(ctx context.Context, contextName, namespace, pod string) (models.PodStats, error) {
	client, err := m.GetMetricsClient(contextName)
	if err != nil {
		return models.PodStats{}, err
	}

	pm, err := client.MetricsV1beta1().PodMetricses(namespace).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return models.PodStats{}, NewAPIError(contextName, fmt.Errorf("pod metrics %s/%s: %w", namespace, pod, err))
	}

	cpu := resource.NewMilliQuantity(0, resource.DecimalSI)
	mem := resource.NewQuantity(0, resource.BinarySI)
	for _, c := range pm.Containers {
		if q, ok := c.Usage[corev1.ResourceCPU]; ok {
			cpu.Add(q)
		}
		if q, ok := c.Usage[corev1.ResourceMemory]; ok {
			mem.Add(q)
		}
	}

	return models.PodStats{
		CPU:    fmt.Sprintf("%dm", cpu.MilliValue()),
		Memory: fmt.Sprintf("%dMi", mem.Value()/(1024*1024)),
	}, nil
}
