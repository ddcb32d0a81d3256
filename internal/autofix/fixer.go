// internal/autofix/fixer.go
package autofix

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/deploy"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/llmutil"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/notify"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/testrunner"
)

// Dependencies are the collaborators driven by the Fixer. PRs and History are
// optional.
type Dependencies struct {
	Detector  DetectorInterface
	Analyzer  AnalyzerInterface
	Developer DeveloperInterface
	Deployer  DeployerInterface
	PRs       deploy.PRCreator
	History   HistoryInterface
	Notifier  notify.Notifier
}

// Fixer runs the per-issue pipeline: classify, diagnose, generate, implement,
// verify, then roll back or deploy. Issues are processed one at a time.
type Fixer struct {
	logger    *zap.Logger
	cfg       config.AutofixConfig
	deployCfg config.DeployConfig
	policy    deploy.Policy
	deps      Dependencies
	now       func() time.Time
}

// NewFixer creates the orchestrator.
func NewFixer(logger *zap.Logger, cfg config.Interface, deps Dependencies) *Fixer {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	return &Fixer{
		logger:    logger.Named("autofix"),
		cfg:       cfg.Autofix(),
		deployCfg: cfg.Deploy(),
		policy:    deploy.NewPolicy(cfg.Autofix()),
		deps:      deps,
		now:       time.Now,
	}
}

// Run detects failing tests and processes up to MaxFixesPerRun of them, most
// severe first.
func (f *Fixer) Run(ctx context.Context) (*FixImplementationReport, error) {
	report := f.newReport()
	issues, summary, err := f.deps.Detector.Detect(ctx)
	if err != nil {
		return nil, err
	}
	if summary != nil {
		report.Tests = *summary
	}
	f.process(ctx, report, issues, summary)
	return report, nil
}

// FixIssues processes issues found elsewhere, such as the server log watcher.
// baseline may be nil.
func (f *Fixer) FixIssues(ctx context.Context, issues []DetectedIssue, baseline *testrunner.Summary) *FixImplementationReport {
	report := f.newReport()
	if baseline != nil {
		report.Tests = *baseline
	}
	f.process(ctx, report, issues, baseline)
	return report
}

func (f *Fixer) newReport() *FixImplementationReport {
	return &FixImplementationReport{
		RunID:     uuid.New().String(),
		StartedAt: f.now(),
		DryRun:    f.cfg.DryRun,
		Results:   []FixResult{},
	}
}

func (f *Fixer) process(ctx context.Context, report *FixImplementationReport, issues []DetectedIssue, baseline *testrunner.Summary) {
	report.TotalIssues = len(issues)
	queue := Prioritize(issues)
	if limit := f.cfg.MaxFixesPerRun; limit > 0 && len(queue) > limit {
		f.logger.Info("Capping fixes for this run.", zap.Int("issues", len(queue)), zap.Int("max_fixes_per_run", limit))
		queue = queue[:limit]
	}

	for _, issue := range queue {
		if ctx.Err() != nil {
			f.logger.Warn("Run cancelled; remaining issues not processed.", zap.Error(ctx.Err()))
			break
		}
		report.Results = append(report.Results, f.ProcessIssue(ctx, issue, baseline))
	}

	report.CompletedAt = f.now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)
	report.Tally()
	f.record(ctx, report)
	f.logger.Info("Run complete.",
		zap.String("run_id", report.RunID),
		zap.Int("issues", report.TotalIssues),
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("needs_review", report.NeedsReview),
		zap.Int("rolled_back", report.RolledBack),
		zap.Int("failed", report.Failed))
}

// Prioritize orders issues by severity, keeping detection order within a level.
func Prioritize(issues []DetectedIssue) []DetectedIssue {
	out := append([]DetectedIssue(nil), issues...)
	sort.SliceStable(out, func(a, b int) bool { return out[a].Severity.Rank() < out[b].Severity.Rank() })
	return out
}

// ProcessIssue runs the pipeline for one issue. It never returns an error: every
// failure is recorded in the result.
func (f *Fixer) ProcessIssue(ctx context.Context, issue DetectedIssue, baseline *testrunner.Summary) (result FixResult) {
	result = FixResult{Issue: issue, StartedAt: f.now()}
	log := f.logger.With(zap.String("issue_id", issue.ID), zap.String("test", issue.TestName), zap.String("severity", string(issue.Severity)))
	defer func() {
		result.Duration = f.now().Sub(result.StartedAt)
		log.Info("Issue processed.", zap.String("status", string(result.Status)), zap.Duration("duration", result.Duration))
	}()

	stop := func(status FixStatus, err error) FixResult {
		result.Status = status
		if err != nil {
			result.Error = err.Error()
		}
		return result
	}
	escalate := func(reason error) FixResult {
		f.notify(ctx, notify.LevelWarning, "Fix needs human review", issue, reason.Error(), "")
		return stop(FixNeedsReview, reason)
	}
	failed := func(step string, err error) FixResult {
		switch {
		case errors.Is(err, llmutil.ErrSchema):
			log.Warn("Model response failed validation; escalating.", zap.String("step", step), zap.Error(err))
			return escalate(fmt.Errorf("%s: %w", step, err))
		case errors.Is(err, ErrUncommittedChanges):
			log.Warn("Local edits block the fix; escalating.", zap.String("step", step), zap.Error(err))
			return escalate(fmt.Errorf("%s: %w", step, err))
		}
		log.Error("Pipeline step failed.", zap.String("step", step), zap.Error(err))
		return stop(FixFailed, fmt.Errorf("%s: %w", step, err))
	}

	if f.deps.History != nil && f.cfg.MaxAttempts > 0 {
		attempts, err := f.deps.History.FailedAttempts(ctx, issue.Key())
		if err != nil {
			log.Warn("Could not read fix history.", zap.Error(err))
		} else if attempts >= f.cfg.MaxAttempts {
			return stop(FixSkipped, fmt.Errorf("%d previous attempts failed", attempts))
		}
	}

	// Classify.
	cls, err := withStep(ctx, f.cfg.StepTimeout, func(ctx context.Context) (*IssueClassification, error) {
		return f.deps.Analyzer.Classify(ctx, issue)
	})
	if err != nil {
		return failed("classify", err)
	}
	result.Classification = cls
	log = log.With(zap.Int("level", cls.Level), zap.String("category", cls.Category))

	if !cls.IsFixable() {
		return stop(FixUnfixable, nil)
	}
	decision := f.policy.Decide(cls.Level)
	if decision == deploy.DecisionNever {
		return escalate(fmt.Errorf("level %d issues are never changed automatically", cls.Level))
	}
	if cls.Confidence < f.cfg.MinConfidenceThreshold {
		return escalate(fmt.Errorf("classification confidence %.2f below threshold %.2f", cls.Confidence, f.cfg.MinConfidenceThreshold))
	}

	// Root cause.
	rca, err := withStep(ctx, f.cfg.StepTimeout, func(ctx context.Context) (*RootCauseAnalysis, error) {
		return f.deps.Analyzer.AnalyzeRootCause(ctx, issue, cls)
	})
	if err != nil {
		return failed("root_cause", err)
	}
	result.RootCause = rca

	// Generate.
	fix, err := withStep(ctx, f.cfg.StepTimeout, func(ctx context.Context) (*GeneratedFix, error) {
		return f.deps.Analyzer.GenerateFix(ctx, issue, rca)
	})
	if err != nil {
		return failed("generate_fix", err)
	}
	result.Fix = fix

	if decision == deploy.DecisionNeedsApproval {
		return escalate(fmt.Errorf("level %d fixes require approval", cls.Level))
	}
	if fix.Confidence < f.cfg.MinConfidenceThreshold {
		return escalate(fmt.Errorf("fix confidence %.2f below threshold %.2f", fix.Confidence, f.cfg.MinConfidenceThreshold))
	}
	if f.cfg.DryRun {
		return stop(FixPlanned, nil)
	}

	// Implement.
	branch := f.BranchName(issue)
	impl, err := withStep(ctx, f.cfg.StepTimeout, func(ctx context.Context) (*ImplementationResult, error) {
		return f.deps.Developer.Implement(ctx, issue, fix, branch)
	})
	result.Implementation = impl
	if err != nil {
		return failed("implement", err)
	}

	// Verify.
	ver, verr := withStep(ctx, f.cfg.StepTimeout, func(ctx context.Context) (*VerificationResult, error) {
		return f.deps.Developer.Verify(ctx, issue, baseline)
	})
	result.Verification = ver
	if verr != nil || ver == nil || !ver.Passed {
		reason := verr
		if reason == nil {
			reason = errors.New("verification failed")
			if ver != nil && ver.Error != "" {
				reason = errors.New(ver.Error)
			}
		}
		// Rollback gets a fresh context so a timed out verify still cleans up.
		if err := f.deps.Developer.Rollback(context.WithoutCancel(ctx), impl); err != nil {
			return stop(FixFailed, fmt.Errorf("verify: %v; rollback: %w", reason, err))
		}
		f.notify(ctx, notify.LevelWarning, "Fix rolled back", issue, reason.Error(), "")
		return stop(FixRolledBack, reason)
	}

	if err := f.deps.Developer.Complete(ctx, impl); err != nil {
		log.Warn("Could not finalize fix branch.", zap.Error(err))
	}

	// Deploy or hand off.
	if decision == deploy.DecisionAutoDeploy {
		return f.deploy(ctx, &result, cls, log)
	}
	result.Status = FixVerified
	f.openPR(ctx, &result, log)
	return result
}

func (f *Fixer) deploy(ctx context.Context, result *FixResult, cls *IssueClassification, log *zap.Logger) FixResult {
	env := cls.Environment
	if env == "" {
		env = deploy.EnvStaging
	}
	dep, err := withStep(ctx, f.cfg.StepTimeout, func(ctx context.Context) (*deploy.Result, error) {
		return f.deps.Deployer.Deploy(ctx, result.Implementation.Branch, env)
	})
	result.Deployment = dep
	switch {
	case err != nil:
		log.Error("Deployment failed.", zap.Error(err))
		result.Status = FixFailed
		result.Error = fmt.Sprintf("deploy: %v", err)
		f.notify(ctx, notify.LevelError, "Deployment of verified fix failed", result.Issue, result.Error, "")
	case dep.Status == deploy.StatusPartial:
		result.Status = FixPartial
		result.Error = dep.Error
		f.notify(ctx, notify.LevelWarning, "Fix merged but deployment incomplete", result.Issue, dep.Error, "")
	default:
		result.Status = FixDeployed
		f.notify(ctx, notify.LevelSuccess, "Fix deployed to "+string(env), result.Issue, result.Fix.Summary, "")
	}
	return *result
}

func (f *Fixer) openPR(ctx context.Context, result *FixResult, log *zap.Logger) {
	if f.deps.PRs == nil || !f.cfg.GitHub.CreatePRs {
		return
	}
	base := f.cfg.BaseBranch
	if base == "" {
		base = f.deployCfg.StagingBranch
	}
	// The head branch has to exist on the remote before a PR can point at it.
	if err := f.deps.Developer.Publish(ctx, result.Implementation, f.deployCfg.Remote); err != nil {
		log.Warn("Fix branch could not be pushed; no pull request opened.", zap.Error(err))
		result.Error = err.Error()
		return
	}
	pr, err := f.deps.PRs.CreatePR(ctx, deploy.PullRequest{
		Title:  "fix: " + firstLine(result.Fix.Summary),
		Body:   prBody(result),
		Head:   result.Implementation.Branch,
		Base:   base,
		Labels: []string{"autofix", fmt.Sprintf("level-%d", result.Classification.Level)},
	})
	if err != nil {
		log.Warn("Pull request could not be created.", zap.Error(err))
		return
	}
	result.PullRequest = pr
	f.notify(ctx, notify.LevelInfo, "Fix ready for review", result.Issue, result.Fix.Summary, pr.URL)
}

func prBody(r *FixResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated fix for failing test `%s` (%s).\n\n", r.Issue.TestName, r.Issue.TestFile)
	fmt.Fprintf(&b, "**Root cause:** %s\n\n%s\n\n", r.RootCause.RootCause, r.RootCause.Explanation)
	fmt.Fprintf(&b, "**Level:** %d  **Confidence:** %.2f\n\n", r.Classification.Level, r.Fix.Confidence)
	if len(r.Fix.Risks) > 0 {
		b.WriteString("**Risks:**\n")
		for _, risk := range r.Fix.Risks {
			fmt.Fprintf(&b, "- %s\n", risk)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "**Rollback:** %s\n", r.Fix.RollbackPlan)
	return b.String()
}

func (f *Fixer) record(ctx context.Context, report *FixImplementationReport) {
	if f.deps.History == nil {
		return
	}
	// The run is recorded even when ctx was cancelled part way through.
	if err := f.deps.History.RecordRun(context.WithoutCancel(ctx), report); err != nil {
		f.logger.Warn("Could not record fix run.", zap.String("run_id", report.RunID), zap.Error(err))
	}
}

func (f *Fixer) notify(ctx context.Context, level notify.Level, title string, issue DetectedIssue, message, url string) {
	err := f.deps.Notifier.Notify(ctx, notify.Notification{
		Title:   title,
		Message: message,
		Level:   level,
		URL:     url,
		Fields: []notify.Field{
			{Title: "Test", Value: issue.TestName},
			{Title: "File", Value: issue.TestFile},
			{Title: "Severity", Value: string(issue.Severity)},
		},
	})
	if err != nil {
		f.logger.Warn("Notification failed.", zap.Error(err))
	}
}

var slugRegex = regexp.MustCompile(`[^a-z0-9]+`)

// BranchName returns the fix branch for issue. With the timestamp strategy
// every attempt gets a new branch; with reuse the name is derived from the
// test alone so repeated runs converge on one branch.
func (f *Fixer) BranchName(issue DetectedIssue) string {
	prefix := f.cfg.BranchPrefix
	if prefix == "" {
		prefix = "fix/auto"
	}
	slug := Slugify(issue.TestName)
	if f.cfg.BranchStrategy == config.BranchStrategyReuse {
		sum := sha1.Sum([]byte(issue.Key()))
		return fmt.Sprintf("%s-%s-%s", prefix, slug, hex.EncodeToString(sum[:])[:8])
	}
	return fmt.Sprintf("%s-%s-%s", prefix, slug, strconv.FormatInt(f.now().UnixMilli(), 10))
}

// Slugify lower-cases s, replaces runs of other characters with a hyphen and
// caps the length at 40.
func Slugify(s string) string {
	slug := strings.Trim(slugRegex.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	if slug == "" {
		slug = "issue"
	}
	return slug
}

// withStep runs fn under the per-step timeout when one is configured.
func withStep[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}
