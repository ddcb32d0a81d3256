// internal/gitops/git.go
package gitops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/shell"
)

// Result is the uniform outcome of a git operation.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// Identity is the author recorded on commits made by the fixer.
type Identity struct {
	Name  string
	Email string
}

// Git wraps the git binary for a single working directory. Calls from one
// process are serialized so concurrent callers cannot race on the checked out
// branch.
type Git struct {
	dir      string
	runner   shell.Runner
	identity Identity
	logger   *zap.Logger
	mu       sync.Mutex
}

// New returns a Git bound to dir.
func New(dir string, runner shell.Runner, identity Identity, logger *zap.Logger) *Git {
	if runner == nil {
		runner = shell.ExecRunner{}
	}
	return &Git{
		dir:      dir,
		runner:   runner,
		identity: identity,
		logger:   logger.Named("git"),
	}
}

// Dir returns the working directory.
func (g *Git) Dir() string { return g.dir }

// run executes git and converts the outcome into a Result plus typed error.
func (g *Git) run(ctx context.Context, op string, stdin io.Reader, args ...string) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Debug("Executing git command", zap.String("op", op), zap.Strings("args", args))
	stdout, stderr, code, err := g.runner.Run(ctx, g.dir, stdin, "git", args...)
	// Leading whitespace is significant in porcelain output.
	out := strings.TrimRight(string(stdout), " \t\r\n")

	if err == nil {
		return Result{Success: true, Output: out}, nil
	}

	var cmdErr *CommandError
	switch {
	case errors.Is(err, exec.ErrNotFound):
		cmdErr = &CommandError{Op: op, Args: args, ExitCode: -1, Stderr: err.Error(), Kind: ErrCommandNotFound}
	case ctx.Err() != nil:
		return Result{Success: false, Output: out, Error: ctx.Err().Error()}, fmt.Errorf("git %s: %w", op, ctx.Err())
	default:
		cmdErr = &CommandError{
			Op:       op,
			Args:     args,
			ExitCode: code,
			Stderr:   strings.TrimSpace(string(stderr)),
			Kind:     classify(string(stdout), string(stderr)),
		}
	}

	g.logger.Debug("git command failed", zap.String("op", op), zap.Int("exit_code", cmdErr.ExitCode), zap.Error(cmdErr.Kind))
	return Result{Success: false, Output: out, Error: cmdErr.Error()}, cmdErr
}

// Checkout switches to an existing branch.
func (g *Git) Checkout(ctx context.Context, branch string) (Result, error) {
	return g.run(ctx, "checkout", nil, "checkout", branch)
}

// CreateBranch creates and checks out name, starting at from when given.
func (g *Git) CreateBranch(ctx context.Context, name, from string) (Result, error) {
	args := []string{"checkout", "-b", name}
	if from != "" {
		args = append(args, from)
	}
	return g.run(ctx, "branch-create", nil, args...)
}

// ResetBranch points name at from and checks it out, creating it if needed.
func (g *Git) ResetBranch(ctx context.Context, name, from string) (Result, error) {
	args := []string{"checkout", "-B", name}
	if from != "" {
		args = append(args, from)
	}
	return g.run(ctx, "branch-reset", nil, args...)
}

// DeleteBranch removes a local branch.
func (g *Git) DeleteBranch(ctx context.Context, name string, force bool) (Result, error) {
	flag := "-d"
	if force {
		flag = "-D"
	}
	return g.run(ctx, "branch-delete", nil, "branch", flag, name)
}

// DeleteRemoteBranch removes a branch from the remote.
func (g *Git) DeleteRemoteBranch(ctx context.Context, remote, name string) (Result, error) {
	return g.run(ctx, "push-delete", nil, "push", remote, "--delete", name)
}

// Pull fetches and merges the remote branch into the current one.
func (g *Git) Pull(ctx context.Context, remote, branch string) (Result, error) {
	args := []string{"pull"}
	if remote != "" {
		args = append(args, remote)
		if branch != "" {
			args = append(args, branch)
		}
	}
	return g.run(ctx, "pull", nil, args...)
}

// Merge merges branch into the current branch.
func (g *Git) Merge(ctx context.Context, branch string, noFF bool, message string) (Result, error) {
	args := g.withIdentity("merge")
	if noFF {
		args = append(args, "--no-ff")
	}
	if message != "" {
		args = append(args, "-m", message)
	}
	args = append(args, branch)
	return g.run(ctx, "merge", nil, args...)
}

// AbortMerge abandons an in-progress merge.
func (g *Git) AbortMerge(ctx context.Context) (Result, error) {
	return g.run(ctx, "merge-abort", nil, "merge", "--abort")
}

// Push pushes branch to remote.
func (g *Git) Push(ctx context.Context, remote, branch string, setUpstream bool) (Result, error) {
	args := []string{"push"}
	if setUpstream {
		args = append(args, "-u")
	}
	args = append(args, remote, branch)
	return g.run(ctx, "push", nil, args...)
}

// Commit records a commit. With addAll every change, including untracked
// files, is staged first.
func (g *Git) Commit(ctx context.Context, message string, addAll bool) (Result, error) {
	if addAll {
		if res, err := g.run(ctx, "add", nil, "add", "-A"); err != nil {
			return res, err
		}
	}
	args := append(g.withIdentity("commit"), "-m", message)
	return g.run(ctx, "commit", nil, args...)
}

// Add stages the given paths.
func (g *Git) Add(ctx context.Context, paths ...string) (Result, error) {
	return g.run(ctx, "add", nil, append([]string{"add", "--"}, paths...)...)
}

// Reset moves HEAD to ref. A hard reset also discards worktree changes.
func (g *Git) Reset(ctx context.Context, ref string, hard bool) (Result, error) {
	args := []string{"reset"}
	if hard {
		args = append(args, "--hard")
	}
	if ref != "" {
		args = append(args, ref)
	}
	return g.run(ctx, "reset", nil, args...)
}

// Stash shelves local changes, including untracked files.
func (g *Git) Stash(ctx context.Context, message string) (Result, error) {
	args := []string{"stash", "push", "--include-untracked"}
	if message != "" {
		args = append(args, "-m", message)
	}
	return g.run(ctx, "stash", nil, args...)
}

// StashPop restores the most recent stash.
func (g *Git) StashPop(ctx context.Context) (Result, error) {
	return g.run(ctx, "stash-pop", nil, "stash", "pop")
}

// Diff returns the unstaged diff, optionally limited to paths.
func (g *Git) Diff(ctx context.Context, paths ...string) (Result, error) {
	args := []string{"diff"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}
	return g.run(ctx, "diff", nil, args...)
}

// Status returns the parsed porcelain status.
func (g *Git) Status(ctx context.Context) (Status, Result, error) {
	res, err := g.run(ctx, "status", nil, "status", "--porcelain")
	if err != nil {
		return Status{}, res, err
	}
	return ParseStatus(res.Output), res, nil
}

// CurrentBranch returns the checked out branch name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	res, err := g.run(ctx, "current-branch", nil, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// HeadSHA returns the commit hash at HEAD.
func (g *Git) HeadSHA(ctx context.Context) (string, error) {
	res, err := g.run(ctx, "head-sha", nil, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// Apply applies a unified diff from memory. With reverse it undoes it.
func (g *Git) Apply(ctx context.Context, patch string, reverse bool) (Result, error) {
	args := []string{"apply", "--ignore-whitespace"}
	if reverse {
		args = append(args, "-R")
	}
	args = append(args, "-")
	return g.run(ctx, "apply", strings.NewReader(patch), args...)
}

func (g *Git) withIdentity(subcommand string) []string {
	var args []string
	if g.identity.Name != "" {
		args = append(args, "-c", "user.name="+g.identity.Name)
	}
	if g.identity.Email != "" {
		args = append(args, "-c", "user.email="+g.identity.Email)
	}
	return append(args, subcommand)
}
