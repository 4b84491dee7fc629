// Package types holds the shared domain model for Nautilus: resource identities,
// point-in-time snapshots, and the violations produced by rule evaluation.
package types

import (
	"fmt"
	"time"

	k8stypes "k8s.io/apimachinery/pkg/types"
)

// Kind is the category of a monitored resource.
type Kind string

const (
	KindPod        Kind = "Pod"
	KindJob        Kind = "Job"
	KindDeployment Kind = "Deployment"
)

// Kinds lists every monitored kind in evaluation order.
var Kinds = []Kind{KindPod, KindJob, KindDeployment}

// APIVersion returns the apiVersion used when referencing objects of this kind.
func (k Kind) APIVersion() string {
	switch k {
	case KindJob:
		return "batch/v1"
	case KindDeployment:
		return "apps/v1"
	default:
		return "v1"
	}
}

// Identity names a resource for the lifetime of the underlying object.
// UID is the only key the ledger uses; Namespace and Name are for display.
type Identity struct {
	Kind      Kind         `json:"kind"`
	UID       k8stypes.UID `json:"uid"`
	Namespace string       `json:"namespace"`
	Name      string       `json:"name"`
}

func (i Identity) String() string {
	return fmt.Sprintf("%s %s/%s (%s)", i.Kind, i.Namespace, i.Name, i.UID)
}

// Measurement is a quantity as the cluster reports it, e.g. "250m" or "512Mi".
// The empty value means the measurement is unknown.
type Measurement string

// Unknown is the zero Measurement.
const Unknown Measurement = ""

// Known reports whether a value was observed.
func (m Measurement) Known() bool {
	return m != Unknown
}

// Percent is an optional percentage. Known is false when no sample exists.
type Percent struct {
	Value float64 `json:"value"`
	Known bool    `json:"known"`
}

// PercentOf returns a known Percent.
func PercentOf(v float64) Percent {
	return Percent{Value: v, Known: true}
}

// Resources are the quantities requested by a pod's containers.
type Resources struct {
	CPU    Measurement `json:"cpu,omitempty"`
	Memory Measurement `json:"memory,omitempty"`
	GPU    int64       `json:"gpu,omitempty"`
}

// Usage is sampled utilisation for a pod.
type Usage struct {
	CPU    Measurement `json:"cpu,omitempty"`
	Memory Measurement `json:"memory,omitempty"`
	GPU    Percent     `json:"gpu"`
}

// Snapshot is a point-in-time read of one resource. Snapshots are produced fresh
// each pass and never persisted.
type Snapshot struct {
	Identity  Identity  `json:"identity"`
	CreatedAt time.Time `json:"createdAt"`
	AgeDays   int       `json:"ageDays"`

	// Pod
	Phase    string    `json:"phase,omitempty"`
	Requests Resources `json:"requests"`
	Usage    Usage     `json:"usage"`

	// Job
	Failed     int32    `json:"failed,omitempty"`
	Succeeded  int32    `json:"succeeded,omitempty"`
	Conditions []string `json:"conditions,omitempty"`

	// Deployment
	ReadyReplicas int32 `json:"readyReplicas,omitempty"`
}

// AgeInDays returns the whole number of days between created and now.
func AgeInDays(created, now time.Time) int {
	if created.IsZero() || now.Before(created) {
		return 0
	}
	return int(now.Sub(created) / (24 * time.Hour))
}

// Violation is one rule firing against one snapshot in one pass.
type Violation struct {
	Reason   ReasonCode `json:"reason"`
	Message  string     `json:"message"`
	Severity Severity   `json:"severity"`
}

// NewViolation builds a Violation whose severity comes from the reason table.
func NewViolation(reason ReasonCode, format string, args ...any) Violation {
	return Violation{
		Reason:   reason,
		Message:  fmt.Sprintf(format, args...),
		Severity: reason.Severity(),
	}
}
