// Package annotations defines the label and annotation keys that Nautilus
// writes to the Kubernetes Events it creates for violations and escalations.
//
// Labels carry the filterable fields:
//
//	kubectl get events -l nautilus.io/managed-by=nautilus,nautilus.io/decision=escalate
//
// Annotations carry the rest, including a JSON blob that automation should
// prefer over parsing the message.
package annotations

// Event annotation keys.
const (
	// ManagedBy identifies Events created by Nautilus.
	// Value: "nautilus"
	ManagedBy = "nautilus.io/managed-by"

	// EventSeverity is the highest violation severity on the resource.
	// Value: "Critical", "Warning"
	EventSeverity = "nautilus.io/severity"

	// EventReasons is a comma separated list of reason codes.
	// Value: "gpu_overrequest,cpu_underutilized"
	EventReasons = "nautilus.io/reasons"

	// EventDecision is the collapsed escalation decision.
	// Value: "warn", "escalate", "delete"
	EventDecision = "nautilus.io/decision"

	// EventAction is the corrective action taken or requested.
	// Value: "delete", "scale-to-zero", "flag", or empty
	EventAction = "nautilus.io/action"

	// EventActionError is present when the action was attempted and failed.
	// Value: the API error message
	EventActionError = "nautilus.io/action-error"

	// EventUID is the UID of the involved resource, the ledger key.
	EventUID = "nautilus.io/uid"

	// EventStructuredData is a JSON blob with the full plan.
	EventStructuredData = "nautilus.io/structured-data"
)

// Event label keys.
const (
	LabelManagedBy = "nautilus.io/managed-by"

	// LabelSeverity value is lowercased: "critical", "warning".
	LabelSeverity = "nautilus.io/severity"

	LabelDecision = "nautilus.io/decision"
)

// Well-known values.
const (
	ManagedByValue = "nautilus"
)
