// internal/autofix/interfaces.go
package autofix

import (
	"context"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/deploy"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/testrunner"
)

// WatcherInterface defines the contract for a component that monitors a
// source of failures in the background.
type WatcherInterface interface {
	// Start begins monitoring. It returns once the watcher is running.
	Start(ctx context.Context) error
}

// DetectorInterface runs the test suite and turns failures into issues.
type DetectorInterface interface {
	Detect(ctx context.Context) ([]DetectedIssue, *testrunner.Summary, error)
}

// AnalyzerInterface is the AI collaborator. Every method returns an error
// wrapping llmutil.ErrSchema when the model's answer does not validate.
type AnalyzerInterface interface {
	Classify(ctx context.Context, issue DetectedIssue) (*IssueClassification, error)
	AnalyzeRootCause(ctx context.Context, issue DetectedIssue, cls *IssueClassification) (*RootCauseAnalysis, error)
	GenerateFix(ctx context.Context, issue DetectedIssue, rca *RootCauseAnalysis) (*GeneratedFix, error)
}

// DeveloperInterface applies, checks and reverts fixes in the working tree.
type DeveloperInterface interface {
	// Implement applies fix on a new branch and commits it. On failure the
	// working tree is restored before returning.
	Implement(ctx context.Context, issue DetectedIssue, fix *GeneratedFix, branch string) (*ImplementationResult, error)
	// Verify re-runs the failing test and the suite. Failures already present
	// in baseline are not counted as regressions.
	Verify(ctx context.Context, issue DetectedIssue, baseline *testrunner.Summary) (*VerificationResult, error)
	// Rollback restores the backups and deletes the fix branch.
	Rollback(ctx context.Context, impl *ImplementationResult) error
	// Complete discards the backups and returns to the base branch.
	Complete(ctx context.Context, impl *ImplementationResult) error
	// Publish pushes the fix branch to remote so a pull request can use it.
	Publish(ctx context.Context, impl *ImplementationResult, remote string) error
}

// DeployerInterface merges a verified branch into an environment.
type DeployerInterface interface {
	Deploy(ctx context.Context, branch string, env deploy.Environment) (*deploy.Result, error)
}

// HistoryInterface persists runs so repeated failures can be skipped.
type HistoryInterface interface {
	RecordRun(ctx context.Context, report *FixImplementationReport) error
	// FailedAttempts counts failed or rolled back attempts at the issue since
	// it was last fixed.
	FailedAttempts(ctx context.Context, issueKey string) (int, error)
}
