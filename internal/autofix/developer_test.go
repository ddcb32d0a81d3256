// internal/autofix/developer_test.go
package autofix

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/codebase"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/gitops"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/testrunner"
)

type mockGit struct {
	mock.Mock
}

func (m *mockGit) Status(ctx context.Context) (gitops.Status, gitops.Result, error) {
	args := m.Called(ctx)
	st, _ := args.Get(0).(gitops.Status)
	return st, gitops.Result{Success: args.Error(1) == nil}, args.Error(1)
}

func (m *mockGit) CurrentBranch(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockGit) CreateBranch(ctx context.Context, name, from string) (gitops.Result, error) {
	args := m.Called(ctx, name, from)
	return gitops.Result{Success: args.Error(0) == nil}, args.Error(0)
}

func (m *mockGit) ResetBranch(ctx context.Context, name, from string) (gitops.Result, error) {
	args := m.Called(ctx, name, from)
	return gitops.Result{Success: args.Error(0) == nil}, args.Error(0)
}

func (m *mockGit) Checkout(ctx context.Context, branch string) (gitops.Result, error) {
	args := m.Called(ctx, branch)
	return gitops.Result{Success: args.Error(0) == nil}, args.Error(0)
}

func (m *mockGit) Add(ctx context.Context, paths ...string) (gitops.Result, error) {
	args := m.Called(ctx, paths)
	return gitops.Result{Success: args.Error(0) == nil}, args.Error(0)
}

func (m *mockGit) Commit(ctx context.Context, message string, addAll bool) (gitops.Result, error) {
	args := m.Called(ctx, message, addAll)
	return gitops.Result{Success: args.Error(0) == nil}, args.Error(0)
}

func (m *mockGit) Reset(ctx context.Context, ref string, hard bool) (gitops.Result, error) {
	args := m.Called(ctx, ref, hard)
	return gitops.Result{Success: args.Error(0) == nil}, args.Error(0)
}

func (m *mockGit) HeadSHA(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockGit) DeleteBranch(ctx context.Context, name string, force bool) (gitops.Result, error) {
	args := m.Called(ctx, name, force)
	return gitops.Result{Success: args.Error(0) == nil}, args.Error(0)
}

func (m *mockGit) Push(ctx context.Context, remote, branch string, setUpstream bool) (gitops.Result, error) {
	args := m.Called(ctx, remote, branch, setUpstream)
	return gitops.Result{Success: args.Error(0) == nil}, args.Error(0)
}

const (
	devFile    = "server/services/mealPlan.ts"
	devBranch  = "fix/auto-meal-plan-1"
	devContent = "export function total(items) {\n  let sum = 0;\n  for (const i of items) {\n    sum += i.calories;\n  }\n  return sum;\n}\n"
)

type developerHarness struct {
	dir   string
	git   *mockGit
	tests *mockTestSuite
	dev   *Developer
}

func setupDeveloper(t *testing.T, strategy string) *developerHarness {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "server", "services"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, devFile), []byte(devContent), 0o644))

	cb, err := codebase.New(dir, codebase.Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	cfg := config.NewDefaultConfig().Autofix()
	cfg.BranchStrategy = strategy
	h := &developerHarness{dir: dir, git: new(mockGit), tests: new(mockTestSuite)}
	h.dev = NewDeveloper(zaptest.NewLogger(t), h.git, cb, h.tests, cfg)
	return h
}

func (h *developerHarness) read(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.dir, devFile))
	require.NoError(t, err)
	return string(data)
}

func (h *developerHarness) backups(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.dir, devFile+".backup.*"))
	require.NoError(t, err)
	return matches
}

func twoChangeFix() *GeneratedFix {
	return &GeneratedFix{
		Summary: "skip items without calories",
		Changes: []FileChange{
			{File: devFile, StartLine: 2, EndLine: 2, OldCode: "  let sum = 0;  ", NewCode: "  let sum = 0;\n  if (!items) return 0;\n"},
			{File: devFile, StartLine: 4, EndLine: 4, OldCode: "    sum += i.calories;", NewCode: "    sum += i.calories ?? 0;"},
		},
		RollbackPlan: "revert the commit",
		Confidence:   0.9,
	}
}

func (h *developerHarness) expectBranch(reuse bool) {
	h.git.On("Status", mock.Anything).Return(gitops.ParseStatus(""), nil).Once()
	h.git.On("CurrentBranch", mock.Anything).Return("main", nil).Once()
	if reuse {
		h.git.On("ResetBranch", mock.Anything, devBranch, "main").Return(nil).Once()
	} else {
		h.git.On("CreateBranch", mock.Anything, devBranch, "main").Return(nil).Once()
	}
}

func (h *developerHarness) expectAbandon() {
	h.git.On("Reset", mock.Anything, "", true).Return(nil).Once()
	h.git.On("Checkout", mock.Anything, "main").Return(nil).Once()
	h.git.On("DeleteBranch", mock.Anything, devBranch, true).Return(nil).Once()
}

func TestDeveloper_ImplementAppliesBottomUp(t *testing.T) {
	h := setupDeveloper(t, config.BranchStrategyTimestamp)
	h.expectBranch(false)
	h.git.On("Add", mock.Anything, []string{devFile}).Return(nil).Once()
	h.git.On("Commit", mock.Anything, mock.MatchedBy(func(msg string) bool {
		return strings.HasPrefix(msg, "fix: skip items without calories\n")
	}), false).Return(nil).Once()
	h.git.On("HeadSHA", mock.Anything).Return("4f2a9c1", nil).Once()

	impl, err := h.dev.Implement(context.Background(), DetectedIssue{ID: "i1", TestName: "meal plan totals"}, twoChangeFix(), devBranch)
	require.NoError(t, err)

	assert.True(t, impl.Success)
	assert.Equal(t, "main", impl.BaseBranch)
	assert.Equal(t, "4f2a9c1", impl.CommitSHA)
	assert.Equal(t, []string{devFile}, impl.FilesChanged)
	assert.Empty(t, impl.ToolWarnings)
	require.Contains(t, impl.Backups, devFile)
	assert.Len(t, h.backups(t), 1)

	want := "export function total(items) {\n  let sum = 0;\n  if (!items) return 0;\n  for (const i of items) {\n    sum += i.calories ?? 0;\n  }\n  return sum;\n}\n"
	assert.Equal(t, want, h.read(t))
	h.git.AssertExpectations(t)

	// Rollback restores the original and removes the branch.
	h.expectAbandon()
	require.NoError(t, h.dev.Rollback(context.Background(), impl))
	assert.Equal(t, devContent, h.read(t))
	assert.Empty(t, h.backups(t))
	h.git.AssertExpectations(t)
}

func TestDeveloper_ImplementReusesBranch(t *testing.T) {
	h := setupDeveloper(t, config.BranchStrategyReuse)
	h.expectBranch(true)
	h.git.On("Add", mock.Anything, []string{devFile}).Return(nil).Once()
	h.git.On("Commit", mock.Anything, mock.Anything, false).Return(nil).Once()
	h.git.On("HeadSHA", mock.Anything).Return("", errors.New("no HEAD")).Once()

	impl, err := h.dev.Implement(context.Background(), DetectedIssue{ID: "i1"}, twoChangeFix(), devBranch)
	require.NoError(t, err)
	assert.Empty(t, impl.CommitSHA)
	h.git.AssertNotCalled(t, "CreateBranch", mock.Anything, mock.Anything, mock.Anything)
	h.git.AssertExpectations(t)
}

func TestDeveloper_ImplementStaleChangeRestores(t *testing.T) {
	h := setupDeveloper(t, config.BranchStrategyTimestamp)
	h.expectBranch(false)
	h.expectAbandon()

	fix := twoChangeFix()
	fix.Changes[0].OldCode = "  let total = 0;"

	impl, err := h.dev.Implement(context.Background(), DetectedIssue{ID: "i1"}, fix, devBranch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleChange)
	assert.False(t, impl.Success)
	assert.NotEmpty(t, impl.Error)
	assert.Equal(t, devContent, h.read(t))
	assert.Empty(t, h.backups(t))
	h.git.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything, mock.Anything)
	h.git.AssertExpectations(t)
}

func TestDeveloper_ImplementCommitFailureRestores(t *testing.T) {
	h := setupDeveloper(t, config.BranchStrategyTimestamp)
	h.expectBranch(false)
	h.git.On("Add", mock.Anything, []string{devFile}).Return(nil).Once()
	h.git.On("Commit", mock.Anything, mock.Anything, false).Return(errors.New("pre-commit hook failed")).Once()
	h.expectAbandon()

	_, err := h.dev.Implement(context.Background(), DetectedIssue{ID: "i1"}, twoChangeFix(), devBranch)
	require.ErrorContains(t, err, "failed to commit fix")
	assert.Equal(t, devContent, h.read(t))
	h.git.AssertExpectations(t)
}

func TestDeveloper_ImplementEmptyNewCodeDeletes(t *testing.T) {
	h := setupDeveloper(t, config.BranchStrategyTimestamp)
	h.expectBranch(false)
	h.git.On("Add", mock.Anything, []string{devFile}).Return(nil).Once()
	h.git.On("Commit", mock.Anything, mock.Anything, false).Return(nil).Once()
	h.git.On("HeadSHA", mock.Anything).Return("9b1e0d2", nil).Once()

	fix := &GeneratedFix{
		Summary: "drop the accumulator loop",
		Changes: []FileChange{
			{File: devFile, StartLine: 3, EndLine: 5, OldCode: "  for (const i of items) {\n    sum += i.calories;\n  }", NewCode: ""},
		},
		Confidence: 0.8,
	}
	impl, err := h.dev.Implement(context.Background(), DetectedIssue{ID: "i1"}, fix, devBranch)
	require.NoError(t, err)
	assert.True(t, impl.Success)
	assert.Equal(t, "export function total(items) {\n  let sum = 0;\n  return sum;\n}\n", h.read(t))
	h.git.AssertExpectations(t)
}

func TestDeveloper_ImplementRefusesDirtyTree(t *testing.T) {
	h := setupDeveloper(t, config.BranchStrategyTimestamp)
	h.git.On("Status", mock.Anything).Return(gitops.ParseStatus(" M client/src/App.tsx\n?? scratch.ts\n"), nil).Once()

	impl, err := h.dev.Implement(context.Background(), DetectedIssue{ID: "i1"}, twoChangeFix(), devBranch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUncommittedChanges)
	assert.Contains(t, err.Error(), "client/src/App.tsx")
	assert.NotContains(t, err.Error(), "scratch.ts")
	assert.False(t, impl.Success)
	assert.Equal(t, devContent, h.read(t))
	h.git.AssertNotCalled(t, "CreateBranch", mock.Anything, mock.Anything, mock.Anything)
	h.git.AssertNotCalled(t, "Reset", mock.Anything, mock.Anything, mock.Anything)
	h.git.AssertExpectations(t)
}

// newRealRepo commits devFile and notes.ts to a fresh repository on main.
func newRealRepo(t *testing.T) (string, *gitops.Git) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("Git not found in PATH, skipping integration test.")
	}
	dir := t.TempDir()
	init := exec.Command("git", "init", "-b", "main")
	init.Dir = dir
	out, err := init.CombinedOutput()
	require.NoError(t, err, string(out))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "server", "services"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, devFile), []byte(devContent), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.ts"), []byte("committed\n"), 0o644))

	g := gitops.New(dir, nil, gitops.Identity{Name: "bot", Email: "bot@example.com"}, zaptest.NewLogger(t))
	_, err = g.Commit(context.Background(), "initial", true)
	require.NoError(t, err)
	return dir, g
}

func TestDeveloper_RealGitKeepsLocalWork(t *testing.T) {
	dir, g := newRealRepo(t)
	ctx := context.Background()
	cb, err := codebase.New(dir, codebase.Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	dev := NewDeveloper(zaptest.NewLogger(t), g, cb, new(mockTestSuite), config.NewDefaultConfig().Autofix())

	notes := filepath.Join(dir, "notes.ts")
	readNotes := func() string {
		data, err := os.ReadFile(notes)
		require.NoError(t, err)
		return string(data)
	}

	t.Run("tracked edits block the fix", func(t *testing.T) {
		require.NoError(t, os.WriteFile(notes, []byte("UNSAVED WORK\n"), 0o644))
		t.Cleanup(func() { _ = os.WriteFile(notes, []byte("committed\n"), 0o644) })

		fix := twoChangeFix()
		fix.Changes[0].OldCode = "  let total = 0;"
		_, err := dev.Implement(ctx, DetectedIssue{ID: "i1"}, fix, devBranch)
		require.ErrorIs(t, err, ErrUncommittedChanges)

		assert.Equal(t, "UNSAVED WORK\n", readNotes())
		branch, err := g.CurrentBranch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "main", branch)
	})

	t.Run("untracked files survive a failed fix", func(t *testing.T) {
		scratch := filepath.Join(dir, "scratch.ts")
		require.NoError(t, os.WriteFile(scratch, []byte("draft\n"), 0o644))

		fix := twoChangeFix()
		fix.Changes[0].OldCode = "  let total = 0;"
		_, err := dev.Implement(ctx, DetectedIssue{ID: "i2"}, fix, devBranch)
		require.ErrorIs(t, err, ErrStaleChange)

		data, err := os.ReadFile(scratch)
		require.NoError(t, err)
		assert.Equal(t, "draft\n", string(data))
		assert.Equal(t, "committed\n", readNotes())
		content, err := os.ReadFile(filepath.Join(dir, devFile))
		require.NoError(t, err)
		assert.Equal(t, devContent, string(content))

		branch, err := g.CurrentBranch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "main", branch)
		inspector, err := gitops.OpenInspector(dir)
		require.NoError(t, err)
		exists, err := inspector.BranchExists(devBranch)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestDeveloper_Complete(t *testing.T) {
	h := setupDeveloper(t, config.BranchStrategyTimestamp)
	h.expectBranch(false)
	h.git.On("Add", mock.Anything, []string{devFile}).Return(nil).Once()
	h.git.On("Commit", mock.Anything, mock.Anything, false).Return(nil).Once()
	h.git.On("HeadSHA", mock.Anything).Return("4f2a9c1", nil).Once()
	h.git.On("Checkout", mock.Anything, "main").Return(nil).Once()

	impl, err := h.dev.Implement(context.Background(), DetectedIssue{ID: "i1"}, twoChangeFix(), devBranch)
	require.NoError(t, err)
	require.NoError(t, h.dev.Complete(context.Background(), impl))

	assert.Empty(t, impl.Backups)
	assert.Empty(t, h.backups(t))
	h.git.AssertExpectations(t)
}

func TestDeveloper_Publish(t *testing.T) {
	h := setupDeveloper(t, config.BranchStrategyTimestamp)
	impl := &ImplementationResult{Branch: devBranch, BaseBranch: "main"}

	h.git.On("Push", mock.Anything, "upstream", devBranch, true).Return(nil).Once()
	require.NoError(t, h.dev.Publish(context.Background(), impl, "upstream"))

	h.git.On("Push", mock.Anything, "origin", devBranch, true).Return(gitops.ErrPushRejected).Once()
	err := h.dev.Publish(context.Background(), impl, "")
	assert.ErrorIs(t, err, gitops.ErrPushRejected)
	h.git.AssertExpectations(t)
}

func TestDeveloper_Verify(t *testing.T) {
	issue := DetectedIssue{TestName: "auth > login flow", TestFile: "test/e2e/auth.spec.ts"}
	loginPassed := testrunner.TestResult{Title: "login flow", FullTitle: "auth > login flow", File: "test/e2e/auth.spec.ts", Status: testrunner.StatusPassed}
	flaky := testrunner.TestResult{Title: "upload photo", FullTitle: "profile > upload photo", File: "test/e2e/profile.spec.ts", Status: testrunner.StatusFailed}
	export := testrunner.TestResult{Title: "export recipe", FullTitle: "recipes > export recipe", File: "test/e2e/recipes.spec.ts", Status: testrunner.StatusFailed}
	baseline := testrunner.NewSummary([]testrunner.TestResult{
		{Title: "login flow", FullTitle: "auth > login flow", File: "test/e2e/auth.spec.ts", Status: testrunner.StatusFailed},
		flaky,
	}, 0)

	t.Run("pre-existing failures are not regressions", func(t *testing.T) {
		h := setupDeveloper(t, config.BranchStrategyTimestamp)
		h.tests.On("RunSpecific", mock.Anything, "test/e2e/auth.spec.ts", "login flow").Return(runOf(loginPassed), nil).Once()
		h.tests.On("RunAll", mock.Anything).Return(runOf(loginPassed, flaky), nil).Once()

		res, err := h.dev.Verify(context.Background(), issue, baseline)
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.True(t, res.SuiteRan)
		assert.Equal(t, 1, res.Failed)
		assert.Empty(t, res.Regressions)
		h.tests.AssertExpectations(t)
	})

	t.Run("new failure is a regression", func(t *testing.T) {
		h := setupDeveloper(t, config.BranchStrategyTimestamp)
		h.tests.On("RunSpecific", mock.Anything, mock.Anything, mock.Anything).Return(runOf(loginPassed), nil).Once()
		h.tests.On("RunAll", mock.Anything).Return(runOf(loginPassed, flaky, export), nil).Once()

		res, err := h.dev.Verify(context.Background(), issue, baseline)
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Equal(t, []string{"test/e2e/recipes.spec.ts::recipes > export recipe"}, res.Regressions)
		assert.Equal(t, "1 regression(s) in test suite", res.Error)
	})

	t.Run("target still failing skips the suite", func(t *testing.T) {
		h := setupDeveloper(t, config.BranchStrategyTimestamp)
		still := loginPassed
		still.Status = testrunner.StatusFailed
		h.tests.On("RunSpecific", mock.Anything, mock.Anything, mock.Anything).Return(runOf(still), nil).Once()

		res, err := h.dev.Verify(context.Background(), issue, baseline)
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.False(t, res.TargetPassed)
		assert.False(t, res.SuiteRan)
		h.tests.AssertNotCalled(t, "RunAll", mock.Anything)
	})

	t.Run("empty suite does not pass", func(t *testing.T) {
		h := setupDeveloper(t, config.BranchStrategyTimestamp)
		h.tests.On("RunAll", mock.Anything).Return(runOf(), nil).Once()

		res, err := h.dev.Verify(context.Background(), DetectedIssue{TestName: "server: TypeError"}, nil)
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Equal(t, "test suite produced no results", res.Error)
	})

	t.Run("runner error", func(t *testing.T) {
		h := setupDeveloper(t, config.BranchStrategyTimestamp)
		h.tests.On("RunSpecific", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("spawn npx ENOENT")).Once()

		_, err := h.dev.Verify(context.Background(), issue, baseline)
		assert.Error(t, err)
	})
}

func TestTitlePattern(t *testing.T) {
	assert.Equal(t, "login flow", titlePattern("auth > login flow"))
	assert.Equal(t, `adds \(2\) items`, titlePattern("cart > adds (2) items"))
}
