//go:build e2e
// +build e2e

package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/rand"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"github.com/nautilusbot/nautilus/internal/annotations"
)

const (
	// testNamespacePrefix is the prefix for test namespace names.
	testNamespacePrefix = "nautilus-e2e-"

	// e2eLabel marks resources created by E2E tests for cleanup.
	e2eLabel = "nautilus-e2e"

	// defaultPollInterval is the default interval for polling loops.
	defaultPollInterval = 1 * time.Second

	// defaultTimeout is the default timeout for wait operations.
	defaultTimeout = 90 * time.Second
)

// waitForCondition polls until conditionFn returns true or the timeout expires.
func waitForCondition(t *testing.T, timeout, interval time.Duration, conditionFn func() (bool, error)) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ok, err := conditionFn()
		if err != nil {
			t.Logf("waitForCondition: %v", err)
		}
		if ok {
			return
		}
		time.Sleep(interval)
	}
	t.Fatalf("waitForCondition: timed out after %v", timeout)
}

// createTestNamespace creates a labeled namespace with a random suffix.
// Returns the namespace name and a cleanup function that deletes it.
func createTestNamespace(t *testing.T, clientset kubernetes.Interface) (string, func()) {
	t.Helper()
	name := testNamespacePrefix + rand.String(6)

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				e2eLabel: "true",
			},
		},
	}
	_, err := clientset.CoreV1().Namespaces().Create(context.Background(), ns, metav1.CreateOptions{})
	require.NoError(t, err, "failed to create test namespace %s", name)
	t.Logf("Created test namespace: %s", name)

	cleanup := func() {
		t.Logf("Deleting test namespace: %s", name)
		err := clientset.CoreV1().Namespaces().Delete(context.Background(), name, metav1.DeleteOptions{})
		if err != nil {
			t.Logf("Warning: failed to delete namespace %s: %v", name, err)
		}
	}
	return name, cleanup
}

// createFailingJob creates a job whose only pod exits non-zero and waits
// until the job reports a failed pod.
func createFailingJob(t *testing.T, clientset kubernetes.Interface, namespace, name string) *batchv1.Job {
	t.Helper()
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{e2eLabel: "true"},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: ptr.To[int32](0),
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:    "fail",
						Image:   "busybox:1.36",
						Command: []string{"sh", "-c", "exit 1"},
					}},
				},
			},
		},
	}
	created, err := clientset.BatchV1().Jobs(namespace).Create(context.Background(), job, metav1.CreateOptions{})
	require.NoError(t, err, "failed to create job %s/%s", namespace, name)

	waitForCondition(t, defaultTimeout, defaultPollInterval, func() (bool, error) {
		j, err := clientset.BatchV1().Jobs(namespace).Get(context.Background(), name, metav1.GetOptions{})
		if err != nil {
			return false, fmt.Errorf("get job: %w", err)
		}
		return j.Status.Failed > 0, nil
	})
	return created
}

// createUnreadyDeployment creates a deployment whose image cannot be pulled,
// so it never reports ready replicas.
func createUnreadyDeployment(t *testing.T, clientset kubernetes.Interface, namespace, name string) *appsv1.Deployment {
	t.Helper()
	labels := map[string]string{"app": name, e2eLabel: "true"}
	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To[int32](1),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "missing",
						Image: "registry.invalid/nautilus/does-not-exist:0",
					}},
				},
			},
		},
	}
	created, err := clientset.AppsV1().Deployments(namespace).Create(context.Background(), deploy, metav1.CreateOptions{})
	require.NoError(t, err, "failed to create deployment %s/%s", namespace, name)
	return created
}

// waitForEvent polls for Kubernetes Events in the given namespace that reference
// the specified involved object name. Returns the matching events.
func waitForEvent(t *testing.T, clientset kubernetes.Interface, namespace, involvedObjectName string, timeout time.Duration) []corev1.Event {
	t.Helper()
	var matched []corev1.Event

	waitForCondition(t, timeout, defaultPollInterval, func() (bool, error) {
		events, err := clientset.CoreV1().Events(namespace).List(context.Background(), metav1.ListOptions{
			LabelSelector: annotations.LabelManagedBy + "=" + annotations.ManagedByValue,
		})
		if err != nil {
			return false, fmt.Errorf("list events: %w", err)
		}
		matched = nil
		for _, ev := range events.Items {
			if ev.InvolvedObject.Name == involvedObjectName {
				matched = append(matched, ev)
			}
		}
		return len(matched) > 0, nil
	})
	return matched
}

// assertEventAnnotation asserts that a single event has the given annotation key and value.
func assertEventAnnotation(t *testing.T, event corev1.Event, key, expectedValue string) {
	t.Helper()
	require.NotNil(t, event.Annotations, "event %s has no annotations", event.Name)
	assert.Equal(t, expectedValue, event.Annotations[key],
		"event %s: annotation %s mismatch", event.Name, key)
}
