// Package report builds human and machine readable digests of monitoring
// passes and of the violation ledger.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nautilusbot/nautilus/internal/engine"
	"github.com/nautilusbot/nautilus/internal/ledger"
	"github.com/nautilusbot/nautilus/internal/types"
)

// FlaggedForRemoval is the action listed for every repeat offender.
const FlaggedForRemoval = "flagged for removal"

// EntrySource lists ledger entries. *ledger.Ledger satisfies it.
type EntrySource interface {
	Entries(ctx context.Context) ([]*ledger.Entry, error)
	Now() time.Time
}

// Offender is one identity and reason at or above the repeat threshold.
type Offender struct {
	Identity types.Identity   `json:"identity"`
	Reason   types.ReasonCode `json:"reason"`
	Severity types.Severity   `json:"severity"`
	Rolling  int              `json:"rolling"`
	Lifetime int              `json:"lifetime"`
	LastSeen time.Time        `json:"lastSeen"`
	Action   string           `json:"action"`
}

// RepeatOffenderReport lists repeat offenders within the rolling window.
type RepeatOffenderReport struct {
	GeneratedAt time.Time  `json:"generatedAt"`
	Window      string     `json:"window"`
	Threshold   int        `json:"threshold"`
	Offenders   []Offender `json:"offenders"`
}

// RepeatOffenders reports every identity with a reason recorded at least
// ledger.RepeatOffenderThreshold times within the rolling window, highest
// count first.
func RepeatOffenders(ctx context.Context, src EntrySource) (*RepeatOffenderReport, error) {
	entries, err := src.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}

	r := &RepeatOffenderReport{
		GeneratedAt: src.Now(),
		Window:      ledger.RollingWindow.String(),
		Threshold:   ledger.RepeatOffenderThreshold,
		Offenders:   []Offender{},
	}
	for _, e := range entries {
		for reason, n := range e.Rolling {
			if n < ledger.RepeatOffenderThreshold {
				continue
			}
			r.Offenders = append(r.Offenders, Offender{
				Identity: e.Identity,
				Reason:   reason,
				Severity: reason.Severity(),
				Rolling:  n,
				Lifetime: e.Lifetime[reason],
				LastSeen: lastSeen(e, reason),
				Action:   FlaggedForRemoval,
			})
		}
	}

	sort.Slice(r.Offenders, func(i, j int) bool {
		a, b := r.Offenders[i], r.Offenders[j]
		if a.Rolling != b.Rolling {
			return a.Rolling > b.Rolling
		}
		if a.Identity.Namespace != b.Identity.Namespace {
			return a.Identity.Namespace < b.Identity.Namespace
		}
		if a.Identity.Name != b.Identity.Name {
			return a.Identity.Name < b.Identity.Name
		}
		return a.Reason < b.Reason
	})
	return r, nil
}

func lastSeen(e *ledger.Entry, reason types.ReasonCode) time.Time {
	for i := len(e.Occurrences) - 1; i >= 0; i-- {
		if e.Occurrences[i].Reason == reason {
			return e.Occurrences[i].Timestamp
		}
	}
	return time.Time{}
}

// Finding is one violation in a pass summary.
type Finding struct {
	Kind        types.Kind       `json:"kind"`
	Name        string           `json:"name"`
	UID         string           `json:"uid"`
	Reason      types.ReasonCode `json:"reason"`
	Severity    types.Severity   `json:"severity"`
	Message     string           `json:"message"`
	Decision    string           `json:"decision"`
	Action      string           `json:"action,omitempty"`
	ActionError string           `json:"actionError,omitempty"`
}

// NamespaceSummary is the per-namespace digest of a pass.
type NamespaceSummary struct {
	Name      string    `json:"name"`
	Evaluated int       `json:"evaluated"`
	Excluded  int       `json:"excluded"`
	Critical  int       `json:"critical"`
	Warning   int       `json:"warning"`
	Errors    []string  `json:"errors,omitempty"`
	Findings  []Finding `json:"findings"`
}

// PassSummary is the digest of one pass.
type PassSummary struct {
	PassID      string             `json:"passId"`
	StartedAt   time.Time          `json:"startedAt"`
	Duration    string             `json:"duration"`
	Interrupted bool               `json:"interrupted,omitempty"`
	Namespaces  []NamespaceSummary `json:"namespaces"`
}

// Summarize builds a digest of a pass. Findings are sorted Critical first.
func Summarize(pass *engine.PassResult) *PassSummary {
	s := &PassSummary{
		PassID:      pass.ID,
		StartedAt:   pass.StartedAt,
		Duration:    pass.Duration().Round(time.Millisecond).String(),
		Interrupted: pass.Interrupted,
		Namespaces:  []NamespaceSummary{},
	}

	for _, ns := range pass.Order {
		nr, ok := pass.Namespaces[ns]
		if !ok {
			continue
		}
		sum := NamespaceSummary{Name: ns, Excluded: len(nr.Excluded), Findings: []Finding{}}
		for _, kind := range types.Kinds {
			if msg, ok := nr.Errors[kind]; ok {
				sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %s", kind, msg))
			}
			for _, rr := range nr.Resources(kind) {
				sum.Evaluated++
				for _, v := range rr.Violations {
					switch v.Severity {
					case types.SeverityCritical:
						sum.Critical++
					default:
						sum.Warning++
					}
					sum.Findings = append(sum.Findings, Finding{
						Kind:        kind,
						Name:        rr.Snapshot.Identity.Name,
						UID:         string(rr.Snapshot.Identity.UID),
						Reason:      v.Reason,
						Severity:    v.Severity,
						Message:     v.Message,
						Decision:    rr.Plan.Decision.String(),
						Action:      string(rr.Plan.Action),
						ActionError: rr.ActionError,
					})
				}
			}
		}
		sort.SliceStable(sum.Findings, func(i, j int) bool {
			return severityOrder(sum.Findings[i].Severity) < severityOrder(sum.Findings[j].Severity)
		})
		s.Namespaces = append(s.Namespaces, sum)
	}
	return s
}

// severityOrder returns a sort order for severities (lower = more severe).
func severityOrder(severity types.Severity) int {
	switch severity {
	case types.SeverityCritical:
		return 0
	case types.SeverityWarning:
		return 1
	default:
		return 2
	}
}
