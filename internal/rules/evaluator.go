// Package rules evaluates resource snapshots against the per-kind hygiene and
// utilisation policies. Evaluation is pure: no I/O, no shared state, and the
// input snapshot is never modified.
package rules

import (
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"

	"github.com/nautilusbot/nautilus/internal/types"
)

// ErrUtilizationUnknown is reported when a pod reaches evaluation without a
// CPU or memory sample, or outside the Running phase. Such pods must be
// excluded by the caller.
var ErrUtilizationUnknown = errors.New("pod utilization unknown")

// RuleError records a single rule that could not be evaluated.
type RuleError struct {
	Rule types.ReasonCode
	Err  error
}

func (e RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
}

func (e RuleError) Unwrap() error { return e.Err }

// Result is the outcome of evaluating one snapshot.
type Result struct {
	Violations []types.Violation
	Errors     []RuleError
}

// Evaluator runs the registered rules for a snapshot's kind.
type Evaluator struct {
	registry *Registry
}

// NewEvaluator creates an Evaluator over the given registry. A nil registry
// uses DefaultRegistry.
func NewEvaluator(registry *Registry) *Evaluator {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Evaluator{registry: registry}
}

// Evaluate returns every violation the snapshot triggers, in rule order.
// A failing rule is reported in Result.Errors and the remaining rules still run.
func (e *Evaluator) Evaluate(s types.Snapshot) Result {
	var res Result

	if s.Identity.Kind == types.KindPod && !evaluablePod(&s) {
		res.Errors = append(res.Errors, RuleError{Rule: "pod", Err: ErrUtilizationUnknown})
		return res
	}

	for _, rule := range e.registry.ForKind(s.Identity.Kind) {
		v, err := rule.Check(&s)
		if err != nil {
			res.Errors = append(res.Errors, RuleError{Rule: rule.Name(), Err: err})
			continue
		}
		if v != nil {
			res.Violations = append(res.Violations, *v)
		}
	}
	return res
}

func evaluablePod(s *types.Snapshot) bool {
	return s.Phase == string(corev1.PodRunning) && s.Usage.CPU.Known() && s.Usage.Memory.Known()
}
