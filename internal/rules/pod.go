package rules

import (
	"github.com/nautilusbot/nautilus/internal/types"
)

const (
	// MaxGPUsPerPod is the largest GPU request a pod may hold.
	MaxGPUsPerPod = 2

	// GPUUtilizationFloorPercent is the GPU utilisation below which a pod is idle.
	GPUUtilizationFloorPercent = 10.0

	// UtilizationRatioFloor is the used/requested ratio below which CPU or
	// memory is considered wasted.
	UtilizationRatioFloor = 0.1
)

func podRules() []Rule {
	return []Rule{
		RuleFunc{Reason: types.ReasonGPUOverrequest, Fn: checkGPUOverrequest},
		RuleFunc{Reason: types.ReasonGPUUnderutilized, Fn: checkGPUUnderutilized},
		RuleFunc{Reason: types.ReasonCPUUnderutilized, Fn: checkCPUUnderutilized},
		RuleFunc{Reason: types.ReasonMemoryUnderutilized, Fn: checkMemoryUnderutilized},
	}
}

func checkGPUOverrequest(s *types.Snapshot) (*types.Violation, error) {
	if s.Requests.GPU <= MaxGPUsPerPod {
		return nil, nil
	}
	v := types.NewViolation(types.ReasonGPUOverrequest,
		"Pod requests %d GPUs, more than the limit of %d", s.Requests.GPU, MaxGPUsPerPod)
	return &v, nil
}

// An unknown GPU sample never counts as underutilised.
func checkGPUUnderutilized(s *types.Snapshot) (*types.Violation, error) {
	gpu := s.Usage.GPU
	if !gpu.Known || gpu.Value >= GPUUtilizationFloorPercent {
		return nil, nil
	}
	v := types.NewViolation(types.ReasonGPUUnderutilized,
		"GPU utilization %.1f%% is below %.0f%%", gpu.Value, GPUUtilizationFloorPercent)
	return &v, nil
}

func checkCPUUnderutilized(s *types.Snapshot) (*types.Violation, error) {
	return checkRatio(types.ReasonCPUUnderutilized, "CPU", ParseCPU, s.Requests.CPU, s.Usage.CPU)
}

func checkMemoryUnderutilized(s *types.Snapshot) (*types.Violation, error) {
	return checkRatio(types.ReasonMemoryUnderutilized, "memory", ParseMemory, s.Requests.Memory, s.Usage.Memory)
}

// checkRatio fires when used < UtilizationRatioFloor * requested. A pod with
// no request for the resource has nothing to waste.
func checkRatio(
	reason types.ReasonCode,
	label string,
	parseFn func(types.Measurement) (float64, error),
	requested, used types.Measurement,
) (*types.Violation, error) {
	if !requested.Known() {
		return nil, nil
	}
	req, err := parseFn(requested)
	if err != nil {
		return nil, err
	}
	if req <= 0 {
		return nil, nil
	}
	u, err := parseFn(used)
	if err != nil {
		return nil, err
	}
	if u >= UtilizationRatioFloor*req {
		return nil, nil
	}
	v := types.NewViolation(reason,
		"%s usage %s is below %.0f%% of requested %s", label, used, UtilizationRatioFloor*100, requested)
	return &v, nil
}
