package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReasonSeverityTable(t *testing.T) {
	critical := []ReasonCode{ReasonGPUOverrequest, ReasonDeploymentAging}
	for _, r := range critical {
		assert.Equal(t, SeverityCritical, r.Severity(), string(r))
	}

	warning := []ReasonCode{
		ReasonGPUUnderutilized, ReasonCPUUnderutilized, ReasonMemoryUnderutilized,
		ReasonJobAging, ReasonJobFailed, ReasonJobUncleaned, ReasonDeploymentNoReadyReplicas,
	}
	for _, r := range warning {
		assert.Equal(t, SeverityWarning, r.Severity(), string(r))
	}

	assert.Len(t, ReasonCodes(), len(critical)+len(warning))
	assert.False(t, ReasonCode("bogus").Valid())
	assert.Equal(t, SeverityWarning, ReasonCode("bogus").Severity())
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityWarning.Rank())
	assert.Equal(t, 0, Severity("").Rank())
	assert.Equal(t, "critical", SeverityCritical.Label())
}

func TestAgeInDays(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		created time.Time
		want    int
	}{
		{"zero time", time.Time{}, 0},
		{"future", now.Add(time.Hour), 0},
		{"just under a day", now.Add(-23 * time.Hour), 0},
		{"exactly five days", now.Add(-5 * 24 * time.Hour), 5},
		{"partial days floor", now.Add(-(12*24 + 23) * time.Hour), 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AgeInDays(tt.created, now))
		})
	}
}

func TestMeasurementKnown(t *testing.T) {
	assert.False(t, Unknown.Known())
	assert.True(t, Measurement("100m").Known())
	assert.False(t, Percent{}.Known)
	assert.Equal(t, Percent{Value: 3, Known: true}, PercentOf(3))
}

func TestNewViolationUsesTableSeverity(t *testing.T) {
	v := NewViolation(ReasonGPUOverrequest, "requests %d GPUs", 4)
	assert.Equal(t, SeverityCritical, v.Severity)
	assert.Equal(t, "requests 4 GPUs", v.Message)
}

func TestKindAPIVersion(t *testing.T) {
	assert.Equal(t, "v1", KindPod.APIVersion())
	assert.Equal(t, "batch/v1", KindJob.APIVersion())
	assert.Equal(t, "apps/v1", KindDeployment.APIVersion())
}
