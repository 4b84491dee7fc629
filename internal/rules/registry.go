package rules

import (
	"fmt"
	"sync"

	"github.com/nautilusbot/nautilus/internal/types"
)

// Rule checks one policy against a snapshot. It returns nil when the snapshot
// complies. An error fails only this rule.
type Rule interface {
	Name() types.ReasonCode
	Check(s *types.Snapshot) (*types.Violation, error)
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc struct {
	Reason types.ReasonCode
	Fn     func(s *types.Snapshot) (*types.Violation, error)
}

func (f RuleFunc) Name() types.ReasonCode { return f.Reason }

func (f RuleFunc) Check(s *types.Snapshot) (*types.Violation, error) { return f.Fn(s) }

// Registry maintains the ordered rule list for each kind.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[types.ReasonCode]types.Kind
	byKind map[types.Kind][]Rule
}

// NewRegistry creates an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[types.ReasonCode]types.Kind),
		byKind: make(map[types.Kind][]Rule),
	}
}

// Register appends a rule to the kind's list. Rules run in registration order.
// Returns an error if a rule with the same name is already registered.
func (r *Registry) Register(kind types.Kind, rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := rule.Name()
	if existing, exists := r.byName[name]; exists {
		return fmt.Errorf("rule %q already registered for %s", name, existing)
	}
	r.byName[name] = kind
	r.byKind[kind] = append(r.byKind[kind], rule)
	return nil
}

// ForKind returns the rules registered for kind, in order.
func (r *Registry) ForKind(kind types.Kind) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, len(r.byKind[kind]))
	copy(out, r.byKind[kind])
	return out
}

// Len returns the total number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// DefaultRegistry returns a registry holding the built-in pod, job and
// deployment rules in their fixed evaluation order.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	for kind, rules := range map[types.Kind][]Rule{
		types.KindPod:        podRules(),
		types.KindJob:        jobRules(),
		types.KindDeployment: deploymentRules(),
	} {
		for _, rule := range rules {
			// Built-in names are unique.
			_ = reg.Register(kind, rule)
		}
	}
	return reg
}
