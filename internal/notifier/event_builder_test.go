package notifier

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/nautilusbot/nautilus/internal/annotations"
	"github.com/nautilusbot/nautilus/internal/escalation"
	"github.com/nautilusbot/nautilus/internal/types"
)

var testNow = time.Date(2026, 1, 20, 9, 30, 0, 0, time.UTC)

func deploymentNotification() Notification {
	id := types.Identity{Kind: types.KindDeployment, UID: "d-123", Namespace: "gilpin-lab", Name: "web"}
	v := types.NewViolation(types.ReasonDeploymentNoReadyReplicas, "deployment has 0 ready replicas")
	return Notification{
		PassID: "pass-1",
		Plan: escalation.Plan{
			Identity: id,
			Reasons: []escalation.ReasonDecision{
				{Reason: v.Reason, Severity: v.Severity, Rolling: 3, Decision: escalation.Escalate},
			},
			Decision: escalation.Escalate,
			Action:   escalation.ActionScaleToZero,
		},
		Violations: []types.Violation{v},
	}
}

func newTestBuilder() *EventBuilder {
	eb := NewEventBuilder("nautilus-admins@example.com")
	eb.clock = func() time.Time { return testNow }
	return eb
}

func TestEventBuilder_BuildEvent(t *testing.T) {
	eb := newTestBuilder()

	event := eb.BuildEvent(deploymentNotification(), "No ready replicas")

	assert.Equal(t, "gilpin-lab", event.Namespace)
	assert.Equal(t, "web.", event.Name[:4])
	assert.Equal(t, "ViolationNotification", event.Reason)
	assert.Equal(t, "No ready replicas", event.Message)
	assert.Equal(t, corev1.EventTypeWarning, event.Type)
	assert.Equal(t, "nautilus-controller", event.Source.Component)

	assert.Equal(t, "apps/v1", event.InvolvedObject.APIVersion)
	assert.Equal(t, "Deployment", event.InvolvedObject.Kind)
	assert.Equal(t, "web", event.InvolvedObject.Name)
	assert.Equal(t, "d-123", string(event.InvolvedObject.UID))

	assert.Equal(t, annotations.ManagedByValue, event.Labels[annotations.LabelManagedBy])
	assert.Equal(t, "warning", event.Labels[annotations.LabelSeverity])
	assert.Equal(t, "escalate", event.Labels[annotations.LabelDecision])

	assert.Equal(t, "Warning", event.Annotations[annotations.EventSeverity])
	assert.Equal(t, "deployment_no_ready_replicas", event.Annotations[annotations.EventReasons])
	assert.Equal(t, "scale-to-zero", event.Annotations[annotations.EventAction])
	assert.Equal(t, "d-123", event.Annotations[annotations.EventUID])
}

func TestEventBuilder_StructuredData(t *testing.T) {
	eb := newTestBuilder()

	event := eb.BuildEvent(deploymentNotification(), "msg")

	var data EventStructuredData
	require.NoError(t, json.Unmarshal([]byte(event.Annotations[annotations.EventStructuredData]), &data))

	assert.Equal(t, "1", data.SchemaVersion)
	assert.Equal(t, "pass-1", data.PassID)
	assert.Equal(t, "d-123", data.UID)
	assert.Equal(t, "Deployment", data.Kind)
	assert.Equal(t, "escalate", data.Decision)
	assert.Equal(t, "2026-01-20T09:30:00Z", data.ObservedAt)
	require.Len(t, data.Reasons, 1)
	assert.Equal(t, ReasonData{
		Reason:   "deployment_no_ready_replicas",
		Severity: "Warning",
		Message:  "deployment has 0 ready replicas",
		Rolling:  3,
		Decision: "escalate",
	}, data.Reasons[0])
}

func TestEventBuilder_SeverityIsHighest(t *testing.T) {
	eb := newTestBuilder()
	n := Notification{
		Plan: escalation.Plan{
			Identity: types.Identity{Kind: types.KindPod, UID: "p1", Namespace: "ns", Name: "trainer"},
			Decision: escalation.Delete,
			Action:   escalation.ActionDelete,
		},
		Violations: []types.Violation{
			types.NewViolation(types.ReasonCPUUnderutilized, "cpu low"),
			types.NewViolation(types.ReasonGPUOverrequest, "4 gpus"),
		},
	}

	event := eb.BuildEvent(n, "m")

	assert.Equal(t, "critical", event.Labels[annotations.LabelSeverity])
	assert.Equal(t, "cpu_underutilized,gpu_overrequest", event.Annotations[annotations.EventReasons])
	assert.Equal(t, "v1", event.InvolvedObject.APIVersion)
}

func TestEventBuilder_RenderMessage(t *testing.T) {
	eb := newTestBuilder()

	tests := []struct {
		name     string
		decision escalation.Decision
		action   escalation.Action
		contains string
	}{
		{"warn", escalation.Warn, escalation.ActionNone, "ready replicas. Contact"},
		{"scale", escalation.Escalate, escalation.ActionScaleToZero, "scaled to zero"},
		{"flag", escalation.Escalate, escalation.ActionFlag, "flagged for removal"},
		{"delete", escalation.Delete, escalation.ActionDelete, "being deleted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := deploymentNotification()
			n.Plan.Decision = tt.decision
			n.Plan.Action = tt.action

			msg := eb.RenderMessage(n)
			assert.Contains(t, msg, "Deployment gilpin-lab/web: deployment has 0 ready replicas")
			assert.Contains(t, msg, tt.contains)
			assert.Contains(t, msg, "nautilus-admins@example.com")
		})
	}
}

func TestEventBuilder_RenderMessageFailedAction(t *testing.T) {
	eb := newTestBuilder()

	tests := []struct {
		name     string
		decision escalation.Decision
		action   escalation.Action
		contains string
		absent   string
	}{
		{"delete", escalation.Delete, escalation.ActionDelete, "could not be deleted", "being deleted"},
		{"scale", escalation.Escalate, escalation.ActionScaleToZero, "could not be scaled to zero", "being scaled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := deploymentNotification()
			n.Plan.Decision = tt.decision
			n.Plan.Action = tt.action
			n.ActionError = "forbidden"

			msg := eb.RenderMessage(n)
			assert.Contains(t, msg, tt.contains)
			assert.Contains(t, msg, "an administrator will follow up")
			assert.NotContains(t, msg, tt.absent)
		})
	}
}

func TestEventBuilder_ActionErrorAnnotation(t *testing.T) {
	eb := newTestBuilder()

	event := eb.BuildEvent(deploymentNotification(), "msg")
	_, ok := event.Annotations[annotations.EventActionError]
	assert.False(t, ok)

	n := deploymentNotification()
	n.ActionError = "deployments.apps \"web\" is forbidden"
	event = eb.BuildEvent(n, "msg")
	assert.Equal(t, n.ActionError, event.Annotations[annotations.EventActionError])

	var data EventStructuredData
	require.NoError(t, json.Unmarshal([]byte(event.Annotations[annotations.EventStructuredData]), &data))
	assert.Equal(t, n.ActionError, data.ActionError)
}

func TestEventName(t *testing.T) {
	a := eventName("web", testNow)
	b := eventName("web", testNow.Add(time.Nanosecond))
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^web\.[0-9a-f]+$`, a)
}
