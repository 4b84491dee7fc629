package inventory

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/nautilusbot/nautilus/internal/types"
)

// ErrUsageUnknown is returned when no utilisation sample exists.
var ErrUsageUnknown = errors.New("utilization sample unavailable")

// UtilizationSampler returns current CPU and memory usage for every pod in a
// namespace that has a sample, keyed by pod name.
type UtilizationSampler interface {
	SampleNamespace(ctx context.Context, namespace string) (map[string]types.Usage, error)
}

// MetricsSampler reads PodMetrics from the metrics.k8s.io API.
type MetricsSampler struct {
	client metricsclient.Interface
}

// NewMetricsSampler creates a sampler over the metrics-server API.
func NewMetricsSampler(client metricsclient.Interface) *MetricsSampler {
	return &MetricsSampler{client: client}
}

// SampleNamespace implements UtilizationSampler. Container usage is summed per pod.
func (m *MetricsSampler) SampleNamespace(ctx context.Context, namespace string) (map[string]types.Usage, error) {
	list, err := m.client.MetricsV1beta1().PodMetricses(namespace).List(ctx, metav1.ListOptions{})
	if apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("namespace %s: %w", namespace, ErrUsageUnknown)
	}
	if err != nil {
		return nil, fmt.Errorf("list pod metrics in %s: %w", namespace, err)
	}

	out := make(map[string]types.Usage, len(list.Items))
	for _, pm := range list.Items {
		if len(pm.Containers) == 0 {
			continue
		}
		var cpu, mem resource.Quantity
		for _, c := range pm.Containers {
			if q, ok := c.Usage[corev1.ResourceCPU]; ok {
				cpu.Add(q)
			}
			if q, ok := c.Usage[corev1.ResourceMemory]; ok {
				mem.Add(q)
			}
		}
		out[pm.Name] = types.Usage{
			CPU:    types.Measurement(cpu.String()),
			Memory: types.Measurement(mem.String()),
		}
	}
	return out, nil
}
