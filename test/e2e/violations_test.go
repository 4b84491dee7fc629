//go:build e2e
// +build e2e

package e2e

import (
	"context"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nautilusbot/nautilus/internal/annotations"
	"github.com/nautilusbot/nautilus/internal/engine"
	"github.com/nautilusbot/nautilus/internal/escalation"
	"github.com/nautilusbot/nautilus/internal/types"
)

// findResult returns the result for the named resource of kind, or nil.
func findResult(pass *engine.PassResult, ns string, kind types.Kind, name string) *engine.ResourceResult {
	nr, ok := pass.Namespaces[ns]
	if !ok {
		return nil
	}
	for _, rr := range nr.Resources(kind) {
		if rr.Snapshot.Identity.Name == name {
			rr := rr
			return &rr
		}
	}
	return nil
}

func reasonsOf(vs []types.Violation) []types.ReasonCode {
	out := make([]types.ReasonCode, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Reason)
	}
	return out
}

// TestFailedJob verifies a failed job is recorded in the ledger, warned about
// and announced with an annotated Event.
func (s *E2ESuite) TestFailedJob() {
	t := s.T()
	ctx := context.Background()

	job := createFailingJob(t, s.clientset, s.namespace, "e2e-failing-job")

	pass, err := s.engine.RunPass(ctx, []string{s.namespace})
	require.NoError(t, err)

	rr := findResult(pass, s.namespace, types.KindJob, job.Name)
	require.NotNil(t, rr, "job missing from pass result")
	assert.Contains(t, reasonsOf(rr.Violations), types.ReasonJobFailed)
	assert.Equal(t, escalation.Warn, rr.Plan.Decision)
	assert.Empty(t, rr.LedgerError)

	n, err := s.ledger.LifetimeCount(ctx, job.UID, types.ReasonJobFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := waitForEvent(t, s.clientset, s.namespace, job.Name, defaultTimeout)
	require.NotEmpty(t, events)
	assertEventAnnotation(t, events[0], annotations.ManagedBy, annotations.ManagedByValue)
	assertEventAnnotation(t, events[0], annotations.EventDecision, escalation.Warn.String())
	assertEventAnnotation(t, events[0], annotations.EventUID, string(job.UID))
}

// TestRepeatedFailedJobIsFlagged verifies a job failing across three passes
// is escalated to a flag rather than deleted.
func (s *E2ESuite) TestRepeatedFailedJobIsFlagged() {
	t := s.T()
	ctx := context.Background()

	job := createFailingJob(t, s.clientset, s.namespace, "e2e-repeat-job")

	var rr *engine.ResourceResult
	for i := 0; i < 3; i++ {
		pass, err := s.engine.RunPass(ctx, []string{s.namespace})
		require.NoError(t, err)
		rr = findResult(pass, s.namespace, types.KindJob, job.Name)
		require.NotNil(t, rr)
	}

	assert.Equal(t, escalation.Escalate, rr.Plan.Decision)
	assert.Equal(t, escalation.ActionFlag, rr.Plan.Action)

	repeat, err := s.ledger.IsRepeatOffender(ctx, job.UID, types.ReasonJobFailed)
	require.NoError(t, err)
	assert.True(t, repeat)
}

// TestUnreadyDeployment verifies a deployment without ready replicas is
// reported with a warning.
func (s *E2ESuite) TestUnreadyDeployment() {
	t := s.T()
	ctx := context.Background()

	deploy := createUnreadyDeployment(t, s.clientset, s.namespace, "e2e-unready")

	pass, err := s.engine.RunPass(ctx, []string{s.namespace})
	require.NoError(t, err)

	rr := findResult(pass, s.namespace, types.KindDeployment, deploy.Name)
	require.NotNil(t, rr, "deployment missing from pass result")
	assert.Contains(t, reasonsOf(rr.Violations), types.ReasonDeploymentNoReadyReplicas)
	assert.Equal(t, escalation.Warn, rr.Plan.Decision)
	assert.Empty(t, rr.ActionError)
}
