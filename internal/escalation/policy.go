// Package escalation turns a resource's violations and ledger history into a
// single decision and the corrective action that goes with it.
package escalation

import (
	"context"
	"fmt"

	k8stypes "k8s.io/apimachinery/pkg/types"

	"github.com/nautilusbot/nautilus/internal/ledger"
	"github.com/nautilusbot/nautilus/internal/types"
)

// Decision is the outcome for one violation or one resource. Values are
// ordered: a higher decision subsumes every lower one.
type Decision int

const (
	NoAction Decision = iota
	Warn
	Escalate
	Delete
)

func (d Decision) String() string {
	switch d {
	case Warn:
		return "warn"
	case Escalate:
		return "escalate"
	case Delete:
		return "delete"
	default:
		return "none"
	}
}

// MarshalText renders the decision by name in JSON and YAML output.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Action is what the executor does to a resource.
type Action string

const (
	ActionNone        Action = ""
	ActionDelete      Action = "delete"
	ActionScaleToZero Action = "scale-to-zero"
	// ActionFlag marks a resource for manual attention. Nothing is executed.
	ActionFlag Action = "flag"
)

// Executable reports whether the action requires an executor call.
func (a Action) Executable() bool {
	return a == ActionDelete || a == ActionScaleToZero
}

// Decide maps one violation to a decision. Critical violations are deleted
// immediately; warnings escalate once the rolling count reaches the repeat
// offender threshold.
func Decide(severity types.Severity, rollingCount int) Decision {
	switch {
	case severity == types.SeverityCritical:
		return Delete
	case rollingCount >= ledger.RepeatOffenderThreshold:
		return Escalate
	default:
		return Warn
	}
}

// Collapse returns the strongest decision.
func Collapse(decisions ...Decision) Decision {
	out := NoAction
	for _, d := range decisions {
		if d > out {
			out = d
		}
	}
	return out
}

// ActionFor maps a collapsed decision to the action for kind. Escalated
// deployments are scaled to zero; escalated pods and jobs are flagged only.
func ActionFor(kind types.Kind, d Decision) Action {
	switch d {
	case Delete:
		return ActionDelete
	case Escalate:
		if kind == types.KindDeployment {
			return ActionScaleToZero
		}
		return ActionFlag
	default:
		return ActionNone
	}
}

// Counter reads rolling counts. *ledger.Ledger satisfies it.
type Counter interface {
	RollingCount(ctx context.Context, uid k8stypes.UID, reason types.ReasonCode) (int, error)
}

// ReasonDecision is the decision for one violation.
type ReasonDecision struct {
	Reason   types.ReasonCode `json:"reason"`
	Severity types.Severity   `json:"severity"`
	Rolling  int              `json:"rolling"`
	Decision Decision         `json:"decision"`
}

// Plan is the collapsed outcome for one resource in one pass.
type Plan struct {
	Identity types.Identity   `json:"identity"`
	Reasons  []ReasonDecision `json:"reasons,omitempty"`
	Decision Decision         `json:"decision"`
	Action   Action           `json:"action,omitempty"`
}

// Policy builds plans from ledger counts.
type Policy struct {
	counts Counter
}

// NewPolicy creates a Policy reading counts from c.
func NewPolicy(c Counter) *Policy {
	return &Policy{counts: c}
}

// Plan decides every violation and collapses them into one plan. The ledger
// must already include the current pass's occurrences.
func (p *Policy) Plan(ctx context.Context, id types.Identity, violations []types.Violation) (Plan, error) {
	plan := Plan{Identity: id}
	for _, v := range violations {
		n, err := p.counts.RollingCount(ctx, id.UID, v.Reason)
		if err != nil {
			return Plan{Identity: id}, fmt.Errorf("rolling count for %s %s: %w", id.UID, v.Reason, err)
		}
		d := Decide(v.Severity, n)
		plan.Reasons = append(plan.Reasons, ReasonDecision{
			Reason:   v.Reason,
			Severity: v.Severity,
			Rolling:  n,
			Decision: d,
		})
		plan.Decision = Collapse(plan.Decision, d)
	}
	plan.Action = ActionFor(id.Kind, plan.Decision)
	return plan, nil
}
