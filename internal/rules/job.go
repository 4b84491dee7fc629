package rules

import (
	"github.com/nautilusbot/nautilus/internal/types"
)

// JobAgeWarningDays is the age after which a job should have been cleaned up.
const JobAgeWarningDays = 12

func jobRules() []Rule {
	return []Rule{
		RuleFunc{Reason: types.ReasonJobAging, Fn: checkJobAging},
		RuleFunc{Reason: types.ReasonJobFailed, Fn: checkJobFailed},
		RuleFunc{Reason: types.ReasonJobUncleaned, Fn: checkJobUncleaned},
	}
}

func checkJobAging(s *types.Snapshot) (*types.Violation, error) {
	if s.AgeDays <= JobAgeWarningDays {
		return nil, nil
	}
	v := types.NewViolation(types.ReasonJobAging,
		"Job has been running for %d days, more than %d", s.AgeDays, JobAgeWarningDays)
	return &v, nil
}

func checkJobFailed(s *types.Snapshot) (*types.Violation, error) {
	if s.Failed <= 0 {
		return nil, nil
	}
	v := types.NewViolation(types.ReasonJobFailed, "Job has %d failed pods", s.Failed)
	return &v, nil
}

func checkJobUncleaned(s *types.Snapshot) (*types.Violation, error) {
	if s.Succeeded <= 0 || len(s.Conditions) > 0 {
		return nil, nil
	}
	v := types.NewViolation(types.ReasonJobUncleaned, "Job succeeded but has not been cleaned up")
	return &v, nil
}
