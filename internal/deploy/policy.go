// internal/deploy/policy.go
package deploy

import (
	"fmt"
	"strings"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
)

// Environment is a deployment target.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ParseEnvironment accepts the canonical names and the common short forms.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "development", "dev":
		return EnvDevelopment, nil
	case "staging", "stage", "qa":
		return EnvStaging, nil
	case "production", "prod":
		return EnvProduction, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// TargetBranch returns the branch an environment deploys from: development
// and staging share the staging branch, production uses the production branch.
func TargetBranch(env Environment, cfg config.DeployConfig) string {
	if env == EnvProduction {
		return cfg.ProductionBranch
	}
	return cfg.StagingBranch
}

// Decision is what the policy allows for a fix level.
type Decision string

const (
	DecisionAutoDeploy    Decision = "auto_deploy"
	DecisionManualDeploy  Decision = "manual_deploy"
	DecisionNeedsApproval Decision = "needs_approval"
	DecisionNever         Decision = "never"
)

// Policy gates deployments by fix level. Levels 1 and 2 deploy automatically
// when enabled, level 3 needs a human approval and level 4 is never deployed.
type Policy struct {
	AutoDeployLevel1 bool
	AutoDeployLevel2 bool
}

// NewPolicy builds a Policy from configuration.
func NewPolicy(cfg config.AutofixConfig) Policy {
	return Policy{AutoDeployLevel1: cfg.AutoDeployLevel1, AutoDeployLevel2: cfg.AutoDeployLevel2}
}

// Decide classifies a level.
func (p Policy) Decide(level int) Decision {
	switch level {
	case 1:
		if p.AutoDeployLevel1 {
			return DecisionAutoDeploy
		}
		return DecisionManualDeploy
	case 2:
		if p.AutoDeployLevel2 {
			return DecisionAutoDeploy
		}
		return DecisionManualDeploy
	case 3:
		return DecisionNeedsApproval
	default:
		return DecisionNever
	}
}

// CanAutoDeploy reports whether a fix at level may be deployed unattended.
func (p Policy) CanAutoDeploy(level int) bool {
	return p.Decide(level) == DecisionAutoDeploy
}

// RequiresApproval reports whether a fix at level must not be applied
// without a human.
func (p Policy) RequiresApproval(level int) bool {
	d := p.Decide(level)
	return d == DecisionNeedsApproval || d == DecisionNever
}
