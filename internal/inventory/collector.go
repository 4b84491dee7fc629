// Package inventory reads pods, jobs and deployments from the cluster and turns
// them into snapshots for rule evaluation.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/nautilusbot/nautilus/internal/gpumetrics"
	"github.com/nautilusbot/nautilus/internal/types"
)

// ResourceGPU is the extended resource name for NVIDIA GPUs.
const ResourceGPU corev1.ResourceName = "nvidia.com/gpu"

// Exclusion reasons.
const (
	ExcludedNotRunning    = "not_running"
	ExcludedNoUsage       = "usage_unknown"
	ExcludedNoUsageSource = "usage_unavailable"
	// ExcludedNoMetricsAPI means the metrics.k8s.io API is not served, as
	// opposed to a transient metrics-server failure.
	ExcludedNoMetricsAPI = "metrics_api_missing"
)

// Exclusion is a resource that was read but is not evaluated this pass.
type Exclusion struct {
	Identity types.Identity `json:"identity"`
	Reason   string         `json:"reason"`
}

// Namespace holds the snapshots read from one namespace.
type Namespace struct {
	Name        string
	Pods        []types.Snapshot
	Jobs        []types.Snapshot
	Deployments []types.Snapshot
	Excluded    []Exclusion
	// Errors holds the per-kind read failures. A failed kind has no snapshots.
	Errors map[types.Kind]error
}

// Snapshots returns the snapshots for kind.
func (n *Namespace) Snapshots(kind types.Kind) []types.Snapshot {
	switch kind {
	case types.KindPod:
		return n.Pods
	case types.KindJob:
		return n.Jobs
	case types.KindDeployment:
		return n.Deployments
	default:
		return nil
	}
}

// Options configures the Collector.
type Options struct {
	// MaxConcurrentNamespaces bounds parallel namespace reads.
	MaxConcurrentNamespaces int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{MaxConcurrentNamespaces: 4}
}

// Collector lists resources and builds snapshots.
type Collector struct {
	client  kubernetes.Interface
	sampler UtilizationSampler
	gpu     gpumetrics.Source
	logger  *zap.Logger
	opts    Options
	clock   func() time.Time
}

// NewCollector creates a Collector. A nil gpu source reports no GPU data.
func NewCollector(
	client kubernetes.Interface,
	sampler UtilizationSampler,
	gpu gpumetrics.Source,
	logger *zap.Logger,
	opts Options,
) *Collector {
	if gpu == nil {
		gpu = gpumetrics.NopSource{}
	}
	if opts.MaxConcurrentNamespaces <= 0 {
		opts.MaxConcurrentNamespaces = 1
	}
	return &Collector{
		client:  client,
		sampler: sampler,
		gpu:     gpu,
		logger:  logger.Named("inventory"),
		opts:    opts,
		clock:   time.Now,
	}
}

// SetClock overrides the time source. Must be called before use (not concurrent).
func (c *Collector) SetClock(clock func() time.Time) {
	c.clock = clock
}

// CollectAll reads every namespace concurrently. Read failures are recorded
// per namespace and kind; CollectAll itself only fails when ctx is cancelled.
func (c *Collector) CollectAll(ctx context.Context, namespaces []string) (map[string]*Namespace, error) {
	gpuByNS := c.gpu.Fetch(ctx, namespaces)

	var mu sync.Mutex
	out := make(map[string]*Namespace, len(namespaces))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxConcurrentNamespaces)
	for _, ns := range namespaces {
		g.Go(func() error {
			res := c.Collect(gCtx, ns, gpuByNS[ns])
			mu.Lock()
			out[ns] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// Collect reads one namespace.
func (c *Collector) Collect(ctx context.Context, namespace string, gpu []gpumetrics.PodGPU) *Namespace {
	res := &Namespace{Name: namespace, Errors: make(map[types.Kind]error)}
	now := c.clock()

	pods, excluded, err := c.listPods(ctx, namespace, gpu, now)
	if err != nil {
		c.logger.Error("Failed to read pods", zap.String("namespace", namespace), zap.Error(err))
		res.Errors[types.KindPod] = err
	}
	res.Pods = pods
	res.Excluded = excluded

	jobs, err := c.listJobs(ctx, namespace, now)
	if err != nil {
		c.logger.Error("Failed to read jobs", zap.String("namespace", namespace), zap.Error(err))
		res.Errors[types.KindJob] = err
	}
	res.Jobs = jobs

	deployments, err := c.listDeployments(ctx, namespace, now)
	if err != nil {
		c.logger.Error("Failed to read deployments", zap.String("namespace", namespace), zap.Error(err))
		res.Errors[types.KindDeployment] = err
	}
	res.Deployments = deployments

	c.logger.Debug("Collected namespace",
		zap.String("namespace", namespace),
		zap.Int("pods", len(res.Pods)),
		zap.Int("jobs", len(res.Jobs)),
		zap.Int("deployments", len(res.Deployments)),
		zap.Int("excluded", len(res.Excluded)),
	)
	return res
}

func (c *Collector) listPods(ctx context.Context, ns string, gpu []gpumetrics.PodGPU, now time.Time) ([]types.Snapshot, []Exclusion, error) {
	list, err := c.client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("list pods in %s: %w", ns, err)
	}

	usage, err := c.sampler.SampleNamespace(ctx, ns)
	usageExclusion := ""
	switch {
	case errors.Is(err, ErrUsageUnknown):
		usageExclusion = ExcludedNoMetricsAPI
		c.logger.Warn("Metrics API not available", zap.String("namespace", ns), zap.Error(err))
	case err != nil:
		usageExclusion = ExcludedNoUsageSource
		c.logger.Warn("Utilization unavailable", zap.String("namespace", ns), zap.Error(err))
	}

	gpuByPod := make(map[string]types.Percent, len(gpu))
	for _, g := range gpu {
		gpuByPod[g.PodName] = g.Utilization
	}

	items := list.Items
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	var snaps []types.Snapshot
	var excluded []Exclusion
	for i := range items {
		pod := &items[i]
		id := identityOf(types.KindPod, pod.ObjectMeta)

		if pod.Status.Phase != corev1.PodRunning {
			excluded = append(excluded, Exclusion{Identity: id, Reason: ExcludedNotRunning})
			continue
		}
		if usageExclusion != "" {
			excluded = append(excluded, Exclusion{Identity: id, Reason: usageExclusion})
			continue
		}
		u, ok := usage[pod.Name]
		if !ok || !u.CPU.Known() || !u.Memory.Known() {
			excluded = append(excluded, Exclusion{Identity: id, Reason: ExcludedNoUsage})
			continue
		}
		u.GPU = gpuByPod[pod.Name]

		started := pod.CreationTimestamp.Time
		if pod.Status.StartTime != nil {
			started = pod.Status.StartTime.Time
		}
		snaps = append(snaps, types.Snapshot{
			Identity:  id,
			CreatedAt: started,
			AgeDays:   types.AgeInDays(started, now),
			Phase:     string(pod.Status.Phase),
			Requests:  podRequests(pod),
			Usage:     u,
		})
	}
	return snaps, excluded, nil
}

func (c *Collector) listJobs(ctx context.Context, ns string, now time.Time) ([]types.Snapshot, error) {
	list, err := c.client.BatchV1().Jobs(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list jobs in %s: %w", ns, err)
	}

	items := list.Items
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	snaps := make([]types.Snapshot, 0, len(items))
	for i := range items {
		job := &items[i]
		started := job.CreationTimestamp.Time
		if job.Status.StartTime != nil {
			started = job.Status.StartTime.Time
		}
		snaps = append(snaps, types.Snapshot{
			Identity:   identityOf(types.KindJob, job.ObjectMeta),
			CreatedAt:  started,
			AgeDays:    types.AgeInDays(started, now),
			Failed:     job.Status.Failed,
			Succeeded:  job.Status.Succeeded,
			Conditions: jobConditions(job),
		})
	}
	return snaps, nil
}

func (c *Collector) listDeployments(ctx context.Context, ns string, now time.Time) ([]types.Snapshot, error) {
	list, err := c.client.AppsV1().Deployments(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list deployments in %s: %w", ns, err)
	}

	items := list.Items
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	snaps := make([]types.Snapshot, 0, len(items))
	for i := range items {
		d := &items[i]
		snaps = append(snaps, deploymentSnapshot(d, now))
	}
	return snaps, nil
}

func deploymentSnapshot(d *appsv1.Deployment, now time.Time) types.Snapshot {
	created := d.CreationTimestamp.Time
	return types.Snapshot{
		Identity:      identityOf(types.KindDeployment, d.ObjectMeta),
		CreatedAt:     created,
		AgeDays:       types.AgeInDays(created, now),
		ReadyReplicas: d.Status.ReadyReplicas,
	}
}

func identityOf(kind types.Kind, meta metav1.ObjectMeta) types.Identity {
	return types.Identity{Kind: kind, UID: meta.UID, Namespace: meta.Namespace, Name: meta.Name}
}

func jobConditions(job *batchv1.Job) []string {
	if len(job.Status.Conditions) == 0 {
		return nil
	}
	out := make([]string, 0, len(job.Status.Conditions))
	for _, c := range job.Status.Conditions {
		out = append(out, string(c.Type))
	}
	return out
}

// podRequests sums container requests. GPUs fall back to limits, since
// extended resources are usually declared only there.
func podRequests(pod *corev1.Pod) types.Resources {
	var cpu, mem resource.Quantity
	var hasCPU, hasMem bool
	var gpus int64
	for _, c := range pod.Spec.Containers {
		if q, ok := c.Resources.Requests[corev1.ResourceCPU]; ok {
			cpu.Add(q)
			hasCPU = true
		}
		if q, ok := c.Resources.Requests[corev1.ResourceMemory]; ok {
			mem.Add(q)
			hasMem = true
		}
		if q, ok := c.Resources.Requests[ResourceGPU]; ok {
			gpus += q.Value()
		} else if q, ok := c.Resources.Limits[ResourceGPU]; ok {
			gpus += q.Value()
		}
	}

	var r types.Resources
	if hasCPU {
		r.CPU = types.Measurement(cpu.String())
	}
	if hasMem {
		r.Memory = types.Measurement(mem.String())
	}
	r.GPU = gpus
	return r
}
