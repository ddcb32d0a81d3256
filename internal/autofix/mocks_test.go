// internal/autofix/mocks_test.go
package autofix_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/deploy"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/notify"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/testrunner"
)

// MockDetector is a mock implementation of DetectorInterface.
type MockDetector struct {
	mock.Mock
}

func (m *MockDetector) Detect(ctx context.Context) ([]autofix.DetectedIssue, *testrunner.Summary, error) {
	args := m.Called(ctx)
	var issues []autofix.DetectedIssue
	if v := args.Get(0); v != nil {
		issues = v.([]autofix.DetectedIssue)
	}
	var summary *testrunner.Summary
	if v := args.Get(1); v != nil {
		summary = v.(*testrunner.Summary)
	}
	return issues, summary, args.Error(2)
}

// MockAnalyzer is a mock implementation of AnalyzerInterface.
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Classify(ctx context.Context, issue autofix.DetectedIssue) (*autofix.IssueClassification, error) {
	args := m.Called(ctx, issue)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*autofix.IssueClassification), args.Error(1)
}

func (m *MockAnalyzer) AnalyzeRootCause(ctx context.Context, issue autofix.DetectedIssue, cls *autofix.IssueClassification) (*autofix.RootCauseAnalysis, error) {
	args := m.Called(ctx, issue, cls)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*autofix.RootCauseAnalysis), args.Error(1)
}

func (m *MockAnalyzer) GenerateFix(ctx context.Context, issue autofix.DetectedIssue, rca *autofix.RootCauseAnalysis) (*autofix.GeneratedFix, error) {
	args := m.Called(ctx, issue, rca)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*autofix.GeneratedFix), args.Error(1)
}

// MockDeveloper is a mock implementation of DeveloperInterface.
type MockDeveloper struct {
	mock.Mock
}

func (m *MockDeveloper) Implement(ctx context.Context, issue autofix.DetectedIssue, fix *autofix.GeneratedFix, branch string) (*autofix.ImplementationResult, error) {
	args := m.Called(ctx, issue, fix, branch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*autofix.ImplementationResult), args.Error(1)
}

func (m *MockDeveloper) Verify(ctx context.Context, issue autofix.DetectedIssue, baseline *testrunner.Summary) (*autofix.VerificationResult, error) {
	args := m.Called(ctx, issue, baseline)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*autofix.VerificationResult), args.Error(1)
}

func (m *MockDeveloper) Rollback(ctx context.Context, impl *autofix.ImplementationResult) error {
	args := m.Called(ctx, impl)
	return args.Error(0)
}

func (m *MockDeveloper) Complete(ctx context.Context, impl *autofix.ImplementationResult) error {
	args := m.Called(ctx, impl)
	return args.Error(0)
}

func (m *MockDeveloper) Publish(ctx context.Context, impl *autofix.ImplementationResult, remote string) error {
	args := m.Called(ctx, impl, remote)
	return args.Error(0)
}

// MockDeployer is a mock implementation of DeployerInterface.
type MockDeployer struct {
	mock.Mock
}

func (m *MockDeployer) Deploy(ctx context.Context, branch string, env deploy.Environment) (*deploy.Result, error) {
	args := m.Called(ctx, branch, env)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deploy.Result), args.Error(1)
}

// MockHistory is a mock implementation of HistoryInterface.
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) RecordRun(ctx context.Context, report *autofix.FixImplementationReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *MockHistory) FailedAttempts(ctx context.Context, issueKey string) (int, error) {
	args := m.Called(ctx, issueKey)
	return args.Int(0), args.Error(1)
}

// MockPRCreator is a mock implementation of deploy.PRCreator.
type MockPRCreator struct {
	mock.Mock
}

func (m *MockPRCreator) CreatePR(ctx context.Context, pr deploy.PullRequest) (*deploy.PRResult, error) {
	args := m.Called(ctx, pr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deploy.PRResult), args.Error(1)
}

// MockNotifier is a mock implementation of notify.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n notify.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}
