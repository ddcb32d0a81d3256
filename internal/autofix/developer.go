// internal/autofix/developer.go
package autofix

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/codebase"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/gitops"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/testrunner"
)

var (
	// ErrStaleChange is returned when a change's old_code does not match the file.
	ErrStaleChange = errors.New("change does not match current file content")
	// ErrUncommittedChanges is returned when tracked files have local edits.
	// Rolling a fix back resets the tree, so no fix starts on top of them.
	ErrUncommittedChanges = errors.New("working tree has uncommitted changes")
)

// GitClient is the subset of gitops.Git the developer drives.
type GitClient interface {
	Status(ctx context.Context) (gitops.Status, gitops.Result, error)
	CurrentBranch(ctx context.Context) (string, error)
	CreateBranch(ctx context.Context, name, from string) (gitops.Result, error)
	ResetBranch(ctx context.Context, name, from string) (gitops.Result, error)
	Checkout(ctx context.Context, branch string) (gitops.Result, error)
	Add(ctx context.Context, paths ...string) (gitops.Result, error)
	Commit(ctx context.Context, message string, addAll bool) (gitops.Result, error)
	Reset(ctx context.Context, ref string, hard bool) (gitops.Result, error)
	HeadSHA(ctx context.Context) (string, error)
	DeleteBranch(ctx context.Context, name string, force bool) (gitops.Result, error)
	Push(ctx context.Context, remote, branch string, setUpstream bool) (gitops.Result, error)
}

// Workspace is the subset of codebase.Codebase the developer edits through.
type Workspace interface {
	ReadFile(path string) (string, error)
	WriteFileIf(path, content, expectedHash string) error
	Backup(path string) (string, error)
	Restore(backupPath string) error
	DiscardBackup(backupPath string) error
	Tidy(ctx context.Context, files []string) (map[string]codebase.ToolResult, error)
}

// Developer applies generated fixes on a fix branch, verifies them with the
// test suite and undoes them when verification fails.
type Developer struct {
	logger *zap.Logger
	git    GitClient
	files  Workspace
	tests  TestSuite
	reuse  bool
}

// NewDeveloper wires the developer to the repository, the working tree and the
// test runner.
func NewDeveloper(logger *zap.Logger, git GitClient, files Workspace, tests TestSuite, cfg config.AutofixConfig) *Developer {
	return &Developer{
		logger: logger.Named("autofix-developer"),
		git:    git,
		files:  files,
		tests:  tests,
		reuse:  cfg.BranchStrategy == config.BranchStrategyReuse,
	}
}

// Implement forks branch from the current branch, applies every change and
// commits the result. It refuses to start while tracked files have
// uncommitted edits; untracked files survive a rollback and do not count.
func (d *Developer) Implement(ctx context.Context, issue DetectedIssue, fix *GeneratedFix, branch string) (*ImplementationResult, error) {
	start := time.Now()
	impl := &ImplementationResult{Branch: branch, Backups: make(map[string]string)}
	log := d.logger.With(zap.String("issue_id", issue.ID), zap.String("branch", branch))

	fail := func(err error) (*ImplementationResult, error) {
		impl.Error = err.Error()
		impl.Duration = time.Since(start)
		return impl, err
	}

	st, _, err := d.git.Status(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to read working tree status: %w", err))
	}
	if dirty := append(append([]string{}, st.Staged...), st.Unstaged...); len(dirty) > 0 {
		log.Warn("Working tree has local edits; not applying fix.", zap.Strings("files", dirty))
		return fail(fmt.Errorf("%w: %s", ErrUncommittedChanges, strings.Join(dirty, ", ")))
	}

	base, err := d.git.CurrentBranch(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to resolve current branch: %w", err))
	}
	impl.BaseBranch = base

	if d.reuse {
		_, err = d.git.ResetBranch(ctx, branch, base)
	} else {
		_, err = d.git.CreateBranch(ctx, branch, base)
	}
	if err != nil {
		return fail(fmt.Errorf("failed to create fix branch: %w", err))
	}
	log.Info("Created fix branch.", zap.String("base", base))

	if err := d.apply(fix, impl); err != nil {
		d.abandon(ctx, impl, log)
		return fail(err)
	}

	tidy, err := d.files.Tidy(ctx, impl.FilesChanged)
	if err != nil {
		log.Warn("Lint and format could not run.", zap.Error(err))
	}
	for file, res := range tidy {
		if !res.Success {
			impl.ToolWarnings = append(impl.ToolWarnings, fmt.Sprintf("%s: %s", file, firstLine(res.Output)))
		}
	}
	sort.Strings(impl.ToolWarnings)

	if _, err := d.git.Add(ctx, impl.FilesChanged...); err != nil {
		d.abandon(ctx, impl, log)
		return fail(fmt.Errorf("failed to stage fix: %w", err))
	}
	if _, err := d.git.Commit(ctx, commitMessage(issue, fix), false); err != nil {
		d.abandon(ctx, impl, log)
		return fail(fmt.Errorf("failed to commit fix: %w", err))
	}
	if impl.CommitSHA, err = d.git.HeadSHA(ctx); err != nil {
		log.Warn("Could not read commit hash.", zap.Error(err))
	}

	impl.Success = true
	impl.Duration = time.Since(start)
	log.Info("Fix committed.", zap.String("commit", impl.CommitSHA), zap.Strings("files", impl.FilesChanged))
	return impl, nil
}

// apply edits one file at a time, bottom-up so earlier ranges keep their line
// numbers.
func (d *Developer) apply(fix *GeneratedFix, impl *ImplementationResult) error {
	byFile := make(map[string][]FileChange)
	for _, c := range fix.Changes {
		byFile[c.File] = append(byFile[c.File], c)
	}

	for _, file := range fix.Files() {
		original, err := d.files.ReadFile(file)
		if err != nil {
			return err
		}
		backup, err := d.files.Backup(file)
		if err != nil {
			return err
		}
		impl.Backups[file] = backup

		changes := byFile[file]
		sort.Slice(changes, func(a, b int) bool { return changes[a].StartLine > changes[b].StartLine })

		content := original
		for _, c := range changes {
			current, err := codebase.Lines(content, c.StartLine, c.EndLine)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			if normalizeCode(current) != normalizeCode(c.OldCode) {
				return fmt.Errorf("%w: %s lines %d-%d", ErrStaleChange, file, c.StartLine, c.EndLine)
			}
			content, err = codebase.ReplaceLines(content, c.StartLine, c.EndLine, strings.TrimSuffix(c.NewCode, "\n"))
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
		}
		if err := d.files.WriteFileIf(file, content, codebase.Hash(original)); err != nil {
			return err
		}
		impl.FilesChanged = append(impl.FilesChanged, file)
	}
	return nil
}

// Verify re-runs the failing test, then the whole suite. Only failures that
// were not already in baseline count as regressions.
func (d *Developer) Verify(ctx context.Context, issue DetectedIssue, baseline *testrunner.Summary) (*VerificationResult, error) {
	start := time.Now()
	res := &VerificationResult{TargetPassed: true}
	defer func() { res.Duration = time.Since(start) }()

	if issue.TestFile != "" {
		run, err := d.tests.RunSpecific(ctx, issue.TestFile, titlePattern(issue.TestName))
		if err != nil {
			res.Error = err.Error()
			return res, fmt.Errorf("failed to re-run %s: %w", issue.TestName, err)
		}
		res.TargetPassed = run.Summary.AllPassed()
		if !res.TargetPassed {
			res.Total, res.Failed = run.Summary.Total, len(run.Summary.Failures())
			res.Error = "target test still fails"
			return res, nil
		}
	}

	run, err := d.tests.RunAll(ctx)
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("failed to run test suite: %w", err)
	}
	res.SuiteRan = true
	res.Total = run.Summary.Total

	known := make(map[string]bool)
	if baseline != nil {
		for _, r := range baseline.Failures() {
			known[resultKey(r)] = true
		}
	}
	for _, r := range run.Summary.Failures() {
		res.Failed++
		if !known[resultKey(r)] {
			res.Regressions = append(res.Regressions, resultKey(r))
		}
	}
	res.Passed = res.TargetPassed && res.Total > 0 && len(res.Regressions) == 0
	if !res.Passed && res.Error == "" {
		res.Error = fmt.Sprintf("%d regression(s) in test suite", len(res.Regressions))
		if res.Total == 0 {
			res.Error = "test suite produced no results"
		}
	}
	return res, nil
}

// Rollback discards the fix: the working tree is reset, the base branch
// checked out, every backup restored and the fix branch deleted.
func (d *Developer) Rollback(ctx context.Context, impl *ImplementationResult) error {
	log := d.logger.With(zap.String("branch", impl.Branch))
	log.Warn("Rolling back fix.")
	return d.abandon(ctx, impl, log)
}

func (d *Developer) abandon(ctx context.Context, impl *ImplementationResult, log *zap.Logger) error {
	var errs []error
	if _, err := d.git.Reset(ctx, "", true); err != nil {
		errs = append(errs, err)
	}
	if _, err := d.git.Checkout(ctx, impl.BaseBranch); err != nil {
		errs = append(errs, err)
	}
	for file, backup := range impl.Backups {
		if err := d.files.Restore(backup); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", file, err))
			continue
		}
		delete(impl.Backups, file)
	}
	if _, err := d.git.DeleteBranch(ctx, impl.Branch, true); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	if err != nil {
		log.Error("Rollback was incomplete.", zap.Error(err))
	}
	return err
}

// Complete keeps the fix: backups are removed and the base branch checked out.
func (d *Developer) Complete(ctx context.Context, impl *ImplementationResult) error {
	var errs []error
	for file, backup := range impl.Backups {
		if err := d.files.DiscardBackup(backup); err != nil {
			errs = append(errs, fmt.Errorf("discard backup of %s: %w", file, err))
			continue
		}
		delete(impl.Backups, file)
	}
	if _, err := d.git.Checkout(ctx, impl.BaseBranch); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Publish pushes the fix branch and sets its upstream.
func (d *Developer) Publish(ctx context.Context, impl *ImplementationResult, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	if _, err := d.git.Push(ctx, remote, impl.Branch, true); err != nil {
		return fmt.Errorf("failed to push %s to %s: %w", impl.Branch, remote, err)
	}
	d.logger.Info("Pushed fix branch.", zap.String("branch", impl.Branch), zap.String("remote", remote))
	return nil
}

func commitMessage(issue DetectedIssue, fix *GeneratedFix) string {
	title := fix.Summary
	if title == "" {
		title = "resolve failing test " + issue.TestName
	}
	return fmt.Sprintf("fix: %s\n\nTest: %s\nFile: %s\nIssue: %s\n\nRollback: %s",
		firstLine(title), issue.TestName, issue.TestFile, issue.ID, fix.RollbackPlan)
}

// normalizeCode compares code ignoring trailing whitespace and line endings.
func normalizeCode(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// titlePattern matches the leaf title of a test as a literal.
func titlePattern(fullTitle string) string {
	parts := strings.Split(fullTitle, " > ")
	return regexp.QuoteMeta(parts[len(parts)-1])
}

func resultKey(r testrunner.TestResult) string {
	title := r.FullTitle
	if title == "" {
		title = r.Title
	}
	return r.File + "::" + title
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
