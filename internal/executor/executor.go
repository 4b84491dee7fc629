// Package executor applies corrective actions to the cluster.
package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/nautilusbot/nautilus/internal/escalation"
	"github.com/nautilusbot/nautilus/internal/types"
)

// scaleToZeroPatch is the merge patch applied to escalated deployments.
var scaleToZeroPatch = []byte(`{"spec":{"replicas":0}}`)

// Executor performs one action against one resource.
type Executor interface {
	Execute(ctx context.Context, action escalation.Action, id types.Identity) error
}

// Options configures the KubeExecutor.
type Options struct {
	// DryRun sends every request with dryRun=All so nothing is persisted.
	DryRun bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{}
}

// KubeExecutor executes actions through the Kubernetes API.
type KubeExecutor struct {
	client kubernetes.Interface
	logger *zap.Logger
	opts   Options
}

// New creates a KubeExecutor.
func New(client kubernetes.Interface, logger *zap.Logger, opts Options) *KubeExecutor {
	return &KubeExecutor{
		client: client,
		logger: logger.Named("executor"),
		opts:   opts,
	}
}

// Execute implements Executor. A resource that is already gone counts as
// success. Non-executable actions are a no-op.
func (e *KubeExecutor) Execute(ctx context.Context, action escalation.Action, id types.Identity) error {
	if !action.Executable() {
		return nil
	}

	var err error
	switch action {
	case escalation.ActionDelete:
		err = e.delete(ctx, id)
	case escalation.ActionScaleToZero:
		err = e.scaleToZero(ctx, id)
	}

	if apierrors.IsNotFound(err) {
		e.logger.Info("Resource already gone",
			zap.String("action", string(action)),
			zap.String("kind", string(id.Kind)),
			zap.String("namespace", id.Namespace),
			zap.String("name", id.Name),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s %s %s/%s: %w", action, id.Kind, id.Namespace, id.Name, err)
	}

	e.logger.Info("Executed action",
		zap.String("action", string(action)),
		zap.String("kind", string(id.Kind)),
		zap.String("namespace", id.Namespace),
		zap.String("name", id.Name),
		zap.String("uid", string(id.UID)),
		zap.Bool("dry_run", e.opts.DryRun),
	)
	return nil
}

func (e *KubeExecutor) deleteOptions(uid k8stypes.UID, propagation *metav1.DeletionPropagation) metav1.DeleteOptions {
	opts := metav1.DeleteOptions{PropagationPolicy: propagation}
	if uid != "" {
		// Never delete a same-named replacement object.
		opts.Preconditions = &metav1.Preconditions{UID: &uid}
	}
	if e.opts.DryRun {
		opts.DryRun = []string{metav1.DryRunAll}
	}
	return opts
}

func (e *KubeExecutor) delete(ctx context.Context, id types.Identity) error {
	background := metav1.DeletePropagationBackground
	opts := e.deleteOptions(id.UID, &background)

	switch id.Kind {
	case types.KindPod:
		return e.client.CoreV1().Pods(id.Namespace).Delete(ctx, id.Name, opts)
	case types.KindJob:
		return e.client.BatchV1().Jobs(id.Namespace).Delete(ctx, id.Name, opts)
	case types.KindDeployment:
		return e.client.AppsV1().Deployments(id.Namespace).Delete(ctx, id.Name, opts)
	default:
		return fmt.Errorf("unsupported kind %q", id.Kind)
	}
}

func (e *KubeExecutor) scaleToZero(ctx context.Context, id types.Identity) error {
	if id.Kind != types.KindDeployment {
		return fmt.Errorf("cannot scale %s", id.Kind)
	}
	opts := metav1.PatchOptions{}
	if e.opts.DryRun {
		opts.DryRun = []string{metav1.DryRunAll}
	}
	_, err := e.client.AppsV1().Deployments(id.Namespace).Patch(
		ctx, id.Name, k8stypes.MergePatchType, scaleToZeroPatch, opts)
	return err
}
