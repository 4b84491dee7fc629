package engine

import (
	"time"

	"github.com/nautilusbot/nautilus/internal/escalation"
	"github.com/nautilusbot/nautilus/internal/inventory"
	"github.com/nautilusbot/nautilus/internal/types"
)

// PassResult is the outcome of one monitoring pass.
type PassResult struct {
	ID         string                      `json:"id"`
	StartedAt  time.Time                   `json:"startedAt"`
	FinishedAt time.Time                   `json:"finishedAt"`
	Namespaces map[string]*NamespaceResult `json:"namespaces"`
	// Namespace order as requested.
	Order []string `json:"order"`
	// Interrupted is set when the pass stopped early on a cancelled context.
	Interrupted bool `json:"interrupted,omitempty"`
}

// NamespaceResult holds the per-resource outcomes for one namespace.
type NamespaceResult struct {
	Name        string                `json:"name"`
	Pods        []ResourceResult      `json:"pods,omitempty"`
	Jobs        []ResourceResult      `json:"jobs,omitempty"`
	Deployments []ResourceResult      `json:"deployments,omitempty"`
	Excluded    []inventory.Exclusion `json:"excluded,omitempty"`
	// Errors holds read failures keyed by kind.
	Errors map[types.Kind]string `json:"errors,omitempty"`
}

// ResourceResult is what happened to one resource in a pass.
type ResourceResult struct {
	Snapshot    types.Snapshot    `json:"snapshot"`
	Violations  []types.Violation `json:"violations,omitempty"`
	RuleErrors  []string          `json:"ruleErrors,omitempty"`
	Plan        escalation.Plan   `json:"plan"`
	LedgerError string            `json:"ledgerError,omitempty"`
	ActionError string            `json:"actionError,omitempty"`
}

// Resources returns every resource result for kind.
func (n *NamespaceResult) Resources(kind types.Kind) []ResourceResult {
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

func (n *NamespaceResult) add(kind types.Kind, rr ResourceResult) {
	switch kind {
	case types.KindPod:
		n.Pods = append(n.Pods, rr)
	case types.KindJob:
		n.Jobs = append(n.Jobs, rr)
	case types.KindDeployment:
		n.Deployments = append(n.Deployments, rr)
	}
}

// Each calls fn for every resource result in namespace order, then kind order.
func (p *PassResult) Each(fn func(ns string, rr ResourceResult)) {
	for _, ns := range p.Order {
		nr, ok := p.Namespaces[ns]
		if !ok {
			continue
		}
		for _, kind := range types.Kinds {
			for _, rr := range nr.Resources(kind) {
				fn(ns, rr)
			}
		}
	}
}

// Duration is the wall time of the pass.
func (p *PassResult) Duration() time.Duration {
	return p.FinishedAt.Sub(p.StartedAt)
}
