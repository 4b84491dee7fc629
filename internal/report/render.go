package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/nautilusbot/nautilus/internal/ledger"
	"github.com/nautilusbot/nautilus/internal/types"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ErrUnknownFormat is returned for an unsupported output format.
var ErrUnknownFormat = errors.New("unknown output format")

// Tabular values can render themselves as a table.
type Tabular interface {
	WriteTable(w io.Writer) error
}

// Render writes v to w in format. Table output requires v to be Tabular.
func Render(w io.Writer, format string, v any) error {
	switch format {
	case FormatJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case FormatYAML:
		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, err = w.Write(b)
		return err
	case FormatTable, "":
		t, ok := v.(Tabular)
		if !ok {
			return fmt.Errorf("%w: table not supported for %T", ErrUnknownFormat, v)
		}
		return t.WriteTable(w)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteTable implements Tabular.
func (r *RepeatOffenderReport) WriteTable(w io.Writer) error {
	fmt.Fprintf(w, "Repeat offenders (>= %d in %s), generated %s\n\n",
		r.Threshold, r.Window, r.GeneratedAt.UTC().Format(time.RFC3339))
	if len(r.Offenders) == 0 {
		_, err := fmt.Fprintln(w, "No repeat offenders.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAMESPACE\tKIND\tNAME\tREASON\tSEVERITY\tROLLING\tLIFETIME\tACTION")
	for _, o := range r.Offenders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			o.Identity.Namespace, o.Identity.Kind, o.Identity.Name, o.Reason, o.Severity,
			o.Rolling, o.Lifetime, o.Action)
	}
	return tw.Flush()
}

// WriteTable implements Tabular.
func (s *PassSummary) WriteTable(w io.Writer) error {
	status := "complete"
	if s.Interrupted {
		status = "interrupted"
	}
	fmt.Fprintf(w, "Pass %s (%s, %s)\n", s.PassID, s.Duration, status)
	for _, ns := range s.Namespaces {
		fmt.Fprintf(w, "\nNamespace %s: %d evaluated, %d excluded, %d critical, %d warning\n",
			ns.Name, ns.Evaluated, ns.Excluded, ns.Critical, ns.Warning)
		for _, e := range ns.Errors {
			fmt.Fprintf(w, "  error: %s\n", e)
		}
		if len(ns.Findings) == 0 {
			continue
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  SEVERITY\tKIND\tNAME\tREASON\tDECISION\tACTION\tMESSAGE")
		for _, f := range ns.Findings {
			action := f.Action
			if f.ActionError != "" {
				action += " (failed)"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				f.Severity, f.Kind, f.Name, f.Reason, f.Decision, dash(action), f.Message)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Entries renders ledger entries as a table.
type Entries []*ledger.Entry

// WriteTable implements Tabular.
func (es Entries) WriteTable(w io.Writer) error {
	if len(es) == 0 {
		_, err := fmt.Fprintln(w, "Ledger is empty.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAMESPACE\tKIND\tNAME\tUID\tROLLING\tLIFETIME\tUPDATED")
	for _, e := range es {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Identity.Namespace, e.Identity.Kind, e.Identity.Name, e.Identity.UID,
			dash(formatCounts(e.Rolling)), dash(formatCounts(e.Lifetime)),
			e.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func formatCounts(m map[types.ReasonCode]int) string {
	parts := make([]string, 0, len(m))
	for reason, n := range m {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
