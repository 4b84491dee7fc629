package notifier

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/nautilusbot/nautilus/internal/annotations"
	"github.com/nautilusbot/nautilus/internal/escalation"
	"github.com/nautilusbot/nautilus/internal/types"
)

const (
	eventReason    = "ViolationNotification"
	eventComponent = "nautilus-controller"
	schemaVersion  = "1"
)

// EventStructuredData is the JSON stored in the structured-data annotation.
type EventStructuredData struct {
	SchemaVersion string       `json:"schemaVersion"`
	PassID        string       `json:"passId,omitempty"`
	UID           string       `json:"uid"`
	Kind          string       `json:"kind"`
	Name          string       `json:"name"`
	Namespace     string       `json:"namespace"`
	Severity      string       `json:"severity"`
	Decision      string       `json:"decision"`
	Action        string       `json:"action,omitempty"`
	ActionError   string       `json:"actionError,omitempty"`
	Reasons       []ReasonData `json:"reasons"`
	Contact       string       `json:"contact,omitempty"`
	ObservedAt    string       `json:"observedAt"`
}

// ReasonData is one violation in the structured data.
type ReasonData struct {
	Reason   string `json:"reason"`
	Severity string `json:"severity"`
	Message  string `json:"message,omitempty"`
	Rolling  int    `json:"rolling"`
	Decision string `json:"decision"`
}

// EventBuilder builds Kubernetes Events for escalation plans.
type EventBuilder struct {
	contact string
	clock   func() time.Time
}

// NewEventBuilder creates an EventBuilder. contact is shown in messages.
func NewEventBuilder(contact string) *EventBuilder {
	return &EventBuilder{contact: contact, clock: time.Now}
}

// BuildEvent creates a Warning Event on the plan's resource.
func (b *EventBuilder) BuildEvent(n Notification, message string) *corev1.Event {
	now := b.clock()
	id := n.Plan.Identity
	severity := maxSeverity(n.Violations)

	data := b.structuredData(n, severity, now)
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}

	annots := map[string]string{
		annotations.ManagedBy:           annotations.ManagedByValue,
		annotations.EventSeverity:       string(severity),
		annotations.EventReasons:        joinReasons(n.Violations),
		annotations.EventDecision:       n.Plan.Decision.String(),
		annotations.EventAction:         string(n.Plan.Action),
		annotations.EventUID:            string(id.UID),
		annotations.EventStructuredData: string(raw),
	}
	if n.ActionError != "" {
		annots[annotations.EventActionError] = n.ActionError
	}

	return &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			Name:      eventName(id.Name, now),
			Namespace: id.Namespace,
			Labels: map[string]string{
				annotations.LabelManagedBy: annotations.ManagedByValue,
				annotations.LabelSeverity:  severity.Label(),
				annotations.LabelDecision:  n.Plan.Decision.String(),
			},
			Annotations: annots,
		},
		InvolvedObject: corev1.ObjectReference{
			APIVersion: id.Kind.APIVersion(),
			Kind:       string(id.Kind),
			Name:       id.Name,
			Namespace:  id.Namespace,
			UID:        id.UID,
		},
		Reason:         eventReason,
		Message:        message,
		Type:           corev1.EventTypeWarning,
		FirstTimestamp: metav1.NewTime(now),
		LastTimestamp:  metav1.NewTime(now),
		Count:          1,
		Source:         corev1.EventSource{Component: eventComponent},
	}
}

func (b *EventBuilder) structuredData(n Notification, severity types.Severity, now time.Time) EventStructuredData {
	id := n.Plan.Identity
	data := EventStructuredData{
		SchemaVersion: schemaVersion,
		PassID:        n.PassID,
		UID:           string(id.UID),
		Kind:          string(id.Kind),
		Name:          id.Name,
		Namespace:     id.Namespace,
		Severity:      string(severity),
		Decision:      n.Plan.Decision.String(),
		Action:        string(n.Plan.Action),
		ActionError:   n.ActionError,
		Contact:       b.contact,
		ObservedAt:    now.UTC().Format(time.RFC3339),
	}

	messages := make(map[types.ReasonCode]string, len(n.Violations))
	for _, v := range n.Violations {
		messages[v.Reason] = v.Message
	}
	for _, r := range n.Plan.Reasons {
		data.Reasons = append(data.Reasons, ReasonData{
			Reason:   string(r.Reason),
			Severity: string(r.Severity),
			Message:  messages[r.Reason],
			Rolling:  r.Rolling,
			Decision: r.Decision.String(),
		})
	}
	return data
}

// eventName follows the kubelet convention of <object>.<hex nanoseconds>.
func eventName(object string, t time.Time) string {
	return object + "." + strconv.FormatInt(t.UnixNano(), 16)
}

func maxSeverity(vs []types.Violation) types.Severity {
	out := types.SeverityWarning
	for _, v := range vs {
		if v.Severity.Rank() > out.Rank() {
			out = v.Severity
		}
	}
	return out
}

func joinReasons(vs []types.Violation) string {
	codes := make([]string, 0, len(vs))
	for _, v := range vs {
		codes = append(codes, string(v.Reason))
	}
	return strings.Join(codes, ",")
}

// RenderMessage formats the human-readable event message.
func (b *EventBuilder) RenderMessage(n Notification) string {
	id := n.Plan.Identity
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s/%s: ", id.Kind, id.Namespace, id.Name)

	parts := make([]string, 0, len(n.Violations))
	for _, v := range n.Violations {
		parts = append(parts, v.Message)
	}
	sb.WriteString(strings.Join(parts, "; "))

	failed := n.ActionError != ""
	switch {
	case n.Plan.Decision == escalation.Delete && failed:
		sb.WriteString(". Critical violation, the resource could not be deleted and an administrator will follow up.")
	case n.Plan.Decision == escalation.Delete:
		sb.WriteString(". Critical violation, the resource is being deleted.")
	case n.Plan.Decision == escalation.Escalate && n.Plan.Action == escalation.ActionScaleToZero && failed:
		sb.WriteString(". Repeated violation, the deployment could not be scaled to zero and an administrator will follow up.")
	case n.Plan.Decision == escalation.Escalate && n.Plan.Action == escalation.ActionScaleToZero:
		sb.WriteString(". Repeated violation, the deployment is being scaled to zero.")
	case n.Plan.Decision == escalation.Escalate:
		sb.WriteString(". Repeated violation, the resource is flagged for removal.")
	default:
		sb.WriteString(".")
	}
	if b.contact != "" {
		fmt.Fprintf(&sb, " Contact %s for assistance.", b.contact)
	}
	return sb.String()
}
