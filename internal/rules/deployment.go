package rules

import (
	"github.com/nautilusbot/nautilus/internal/types"
)

// DeploymentAgeDays is the maximum lifetime of a deployment.
const DeploymentAgeDays = 12

func deploymentRules() []Rule {
	return []Rule{
		RuleFunc{Reason: types.ReasonDeploymentAging, Fn: checkDeploymentAging},
		RuleFunc{Reason: types.ReasonDeploymentNoReadyReplicas, Fn: checkNoReadyReplicas},
	}
}

func checkDeploymentAging(s *types.Snapshot) (*types.Violation, error) {
	if s.AgeDays <= DeploymentAgeDays {
		return nil, nil
	}
	v := types.NewViolation(types.ReasonDeploymentAging,
		"Deployment is %d days old, more than %d", s.AgeDays, DeploymentAgeDays)
	return &v, nil
}

func checkNoReadyReplicas(s *types.Snapshot) (*types.Violation, error) {
	if s.ReadyReplicas > 0 {
		return nil, nil
	}
	v := types.NewViolation(types.ReasonDeploymentNoReadyReplicas, "Deployment has no ready replicas")
	return &v, nil
}
