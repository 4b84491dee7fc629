package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/yaml"

	"github.com/nautilusbot/nautilus/internal/engine"
	"github.com/nautilusbot/nautilus/internal/escalation"
	"github.com/nautilusbot/nautilus/internal/inventory"
	"github.com/nautilusbot/nautilus/internal/ledger"
	badgerstore "github.com/nautilusbot/nautilus/internal/storage/badger"
	"github.com/nautilusbot/nautilus/internal/types"
)

var now = time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) (*ledger.Ledger, *time.Time) {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	l, err := ledger.Open(context.Background(), ledger.NewBadgerStore(db), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	clock := now
	l.SetClock(func() time.Time { return clock })
	return l, &clock
}

func id(kind types.Kind, uid, ns, name string) types.Identity {
	return types.Identity{Kind: kind, UID: k8stypes.UID(uid), Namespace: ns, Name: name}
}

func record(t *testing.T, l *ledger.Ledger, ident types.Identity, reason types.ReasonCode, at ...time.Time) {
	t.Helper()
	occs := make([]ledger.Occurrence, 0, len(at))
	for _, ts := range at {
		occs = append(occs, ledger.Occurrence{Timestamp: ts, Reason: reason})
	}
	_, err := l.Record(context.Background(), ident, occs)
	require.NoError(t, err)
}

func TestRepeatOffenders(t *testing.T) {
	l, _ := newLedger(t)
	day := 24 * time.Hour

	web := id(types.KindDeployment, "d1", "gilpin-lab", "web")
	etl := id(types.KindJob, "j1", "aiea-interns", "etl")
	quiet := id(types.KindPod, "p1", "gilpin-lab", "trainer")

	record(t, l, web, types.ReasonDeploymentNoReadyReplicas, now.Add(-3*day), now.Add(-2*day), now.Add(-day))
	record(t, l, etl, types.ReasonJobFailed, now.Add(-4*day), now.Add(-3*day), now.Add(-2*day), now.Add(-day))
	// Only two inside the window.
	record(t, l, quiet, types.ReasonCPUUnderutilized, now.Add(-9*day), now.Add(-2*day), now.Add(-day))

	r, err := RepeatOffenders(context.Background(), l)
	require.NoError(t, err)

	assert.Equal(t, now, r.GeneratedAt)
	assert.Equal(t, ledger.RepeatOffenderThreshold, r.Threshold)
	require.Len(t, r.Offenders, 2)

	assert.Equal(t, etl, r.Offenders[0].Identity)
	assert.Equal(t, 4, r.Offenders[0].Rolling)
	assert.Equal(t, web, r.Offenders[1].Identity)
	assert.Equal(t, 3, r.Offenders[1].Rolling)
	assert.Equal(t, 3, r.Offenders[1].Lifetime)
	assert.Equal(t, now.Add(-day), r.Offenders[1].LastSeen)
	assert.Equal(t, FlaggedForRemoval, r.Offenders[1].Action)
}

func TestRepeatOffenders_ThresholdSharedWithEscalation(t *testing.T) {
	l, _ := newLedger(t)
	web := id(types.KindDeployment, "d1", "gilpin-lab", "web")
	record(t, l, web, types.ReasonDeploymentNoReadyReplicas, now.Add(-2*time.Hour), now.Add(-time.Hour), now)

	r, err := RepeatOffenders(context.Background(), l)
	require.NoError(t, err)
	require.Len(t, r.Offenders, 1)

	d := escalation.Decide(r.Offenders[0].Severity, r.Offenders[0].Rolling)
	assert.Equal(t, escalation.Escalate, d)
}

type failingSource struct{}

func (failingSource) Entries(context.Context) ([]*ledger.Entry, error) { return nil, errors.New("io") }
func (failingSource) Now() time.Time                                   { return now }

func TestRepeatOffenders_Error(t *testing.T) {
	_, err := RepeatOffenders(context.Background(), failingSource{})
	require.Error(t, err)
}

func samplePass() *engine.PassResult {
	pod := id(types.KindPod, "p1", "gilpin-lab", "trainer")
	dep := id(types.KindDeployment, "d1", "gilpin-lab", "web")
	return &engine.PassResult{
		ID:         "pass-1",
		StartedAt:  now,
		FinishedAt: now.Add(1500 * time.Millisecond),
		Order:      []string{"gilpin-lab", "missing"},
		Namespaces: map[string]*engine.NamespaceResult{
			"gilpin-lab": {
				Name: "gilpin-lab",
				Pods: []engine.ResourceResult{{
					Snapshot: types.Snapshot{Identity: pod},
					Violations: []types.Violation{
						types.NewViolation(types.ReasonCPUUnderutilized, "cpu low"),
						types.NewViolation(types.ReasonGPUOverrequest, "4 gpus"),
					},
					Plan:        escalation.Plan{Identity: pod, Decision: escalation.Delete, Action: escalation.ActionDelete},
					ActionError: "forbidden",
				}},
				Deployments: []engine.ResourceResult{
					{Snapshot: types.Snapshot{Identity: dep}, Plan: escalation.Plan{Identity: dep}},
				},
				Excluded: []inventory.Exclusion{{Reason: inventory.ExcludedNotRunning}},
				Errors:   map[types.Kind]string{types.KindJob: "apiserver unavailable"},
			},
		},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(samplePass())

	assert.Equal(t, "pass-1", s.PassID)
	assert.Equal(t, "1.5s", s.Duration)
	require.Len(t, s.Namespaces, 1)

	ns := s.Namespaces[0]
	assert.Equal(t, 2, ns.Evaluated)
	assert.Equal(t, 1, ns.Excluded)
	assert.Equal(t, 1, ns.Critical)
	assert.Equal(t, 1, ns.Warning)
	assert.Equal(t, []string{"Job: apiserver unavailable"}, ns.Errors)

	require.Len(t, ns.Findings, 2)
	assert.Equal(t, types.ReasonGPUOverrequest, ns.Findings[0].Reason, "critical first")
	assert.Equal(t, "delete", ns.Findings[0].Decision)
	assert.Equal(t, "forbidden", ns.Findings[0].ActionError)
}

func TestSeverityOrder(t *testing.T) {
	assert.Less(t, severityOrder(types.SeverityCritical), severityOrder(types.SeverityWarning))
	assert.Less(t, severityOrder(types.SeverityWarning), severityOrder("Other"))
}

func TestRender_Formats(t *testing.T) {
	s := Summarize(samplePass())

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatJSON, s))
	var fromJSON PassSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, "pass-1", fromJSON.PassID)

	buf.Reset()
	require.NoError(t, Render(&buf, FormatYAML, s))
	var fromYAML PassSummary
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, 1, fromYAML.Namespaces[0].Critical)

	buf.Reset()
	require.NoError(t, Render(&buf, FormatTable, s))
	out := buf.String()
	assert.Contains(t, out, "Namespace gilpin-lab: 2 evaluated, 1 excluded, 1 critical, 1 warning")
	assert.Contains(t, out, "gpu_overrequest")
	assert.Contains(t, out, "delete (failed)")
	assert.Contains(t, out, "error: Job: apiserver unavailable")
}

func TestRender_Errors(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, "html", Summarize(samplePass()))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	err = Render(&buf, FormatTable, map[string]int{"a": 1})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestRender_RepeatOffendersAndEntriesTables(t *testing.T) {
	l, _ := newLedger(t)
	web := id(types.KindDeployment, "d1", "gilpin-lab", "web")
	record(t, l, web, types.ReasonDeploymentNoReadyReplicas, now.Add(-2*time.Hour), now.Add(-time.Hour), now)

	r, err := RepeatOffenders(context.Background(), l)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatTable, r))
	assert.Contains(t, buf.String(), "flagged for removal")
	assert.Contains(t, buf.String(), "deployment_no_ready_replicas")

	entries, err := l.Entries(context.Background())
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, Render(&buf, FormatTable, Entries(entries)))
	assert.Contains(t, buf.String(), "deployment_no_ready_replicas=3")

	buf.Reset()
	require.NoError(t, Render(&buf, FormatTable, Entries(nil)))
	assert.Contains(t, buf.String(), "Ledger is empty.")

	empty := &RepeatOffenderReport{GeneratedAt: now}
	buf.Reset()
	require.NoError(t, Render(&buf, FormatTable, empty))
	assert.Contains(t, buf.String(), "No repeat offenders.")
}
