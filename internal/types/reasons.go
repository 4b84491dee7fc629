package types

import "strings"

// Severity ranks how urgently a violation must be handled.
type Severity string

const (
	SeverityWarning  Severity = "Warning"
	SeverityCritical Severity = "Critical"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Label returns the lowercase form used in labels and metrics.
func (s Severity) Label() string {
	return strings.ToLower(string(s))
}

// ReasonCode is the stable identifier of a violation category.
type ReasonCode string

const (
	ReasonGPUOverrequest            ReasonCode = "gpu_overrequest"
	ReasonGPUUnderutilized          ReasonCode = "gpu_underutilized"
	ReasonCPUUnderutilized          ReasonCode = "cpu_underutilized"
	ReasonMemoryUnderutilized       ReasonCode = "memory_underutilized"
	ReasonJobAging                  ReasonCode = "job_aging"
	ReasonJobFailed                 ReasonCode = "job_failed"
	ReasonJobUncleaned              ReasonCode = "job_uncleaned"
	ReasonDeploymentAging           ReasonCode = "deployment_aging"
	ReasonDeploymentNoReadyReplicas ReasonCode = "deployment_no_ready_replicas"
)

// reasonSeverity is the one place severities are assigned.
var reasonSeverity = map[ReasonCode]Severity{
	ReasonGPUOverrequest:            SeverityCritical,
	ReasonGPUUnderutilized:          SeverityWarning,
	ReasonCPUUnderutilized:          SeverityWarning,
	ReasonMemoryUnderutilized:       SeverityWarning,
	ReasonJobAging:                  SeverityWarning,
	ReasonJobFailed:                 SeverityWarning,
	ReasonJobUncleaned:              SeverityWarning,
	ReasonDeploymentAging:           SeverityCritical,
	ReasonDeploymentNoReadyReplicas: SeverityWarning,
}

// Severity returns the fixed severity for the reason. Unknown reasons are
// treated as warnings.
func (r ReasonCode) Severity() Severity {
	if s, ok := reasonSeverity[r]; ok {
		return s
	}
	return SeverityWarning
}

// Valid reports whether r is a known reason code.
func (r ReasonCode) Valid() bool {
	_, ok := reasonSeverity[r]
	return ok
}

// ReasonCodes returns every known reason code.
func ReasonCodes() []ReasonCode {
	out := make([]ReasonCode, 0, len(reasonSeverity))
	for r := range reasonSeverity {
		out = append(out, r)
	}
	return out
}
