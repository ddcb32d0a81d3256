// internal/gitops/errors.go
package gitops

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. A *CommandError unwraps to one of these so callers can use
// errors.Is instead of inspecting git's output.
var (
	ErrCommandFailed   = errors.New("git command failed")
	ErrCommandNotFound = errors.New("git executable not found")
	ErrNotRepository   = errors.New("not a git repository")
	ErrBranchExists    = errors.New("branch already exists")
	ErrBranchNotFound  = errors.New("branch not found")
	ErrMergeConflict   = errors.New("merge conflict")
	ErrNothingToCommit = errors.New("nothing to commit")
	ErrPushRejected    = errors.New("push rejected by remote")
	ErrDirtyWorktree   = errors.New("local changes would be overwritten")
	ErrPatchFailed     = errors.New("patch does not apply")
)

// CommandError describes a failed git invocation.
type CommandError struct {
	Op       string
	Args     []string
	ExitCode int
	Stderr   string
	Kind     error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Kind.Error()
	}
	return fmt.Sprintf("git %s (exit %d): %s", e.Op, e.ExitCode, msg)
}

func (e *CommandError) Unwrap() error { return e.Kind }

// classify maps git's diagnostic text to a failure kind. This is the only place
// that looks at message text.
func classify(stdout, stderr string) error {
	text := strings.ToLower(stderr + "\n" + stdout)
	switch {
	case strings.Contains(text, "not a git repository"):
		return ErrNotRepository
	case strings.Contains(text, "already exists"):
		return ErrBranchExists
	case strings.Contains(text, "did not match any file(s) known to git"),
		strings.Contains(text, "not found"),
		strings.Contains(text, "not a valid ref"),
		strings.Contains(text, "invalid reference"),
		strings.Contains(text, "couldn't find remote ref"):
		return ErrBranchNotFound
	case strings.Contains(text, "conflict"), strings.Contains(text, "automatic merge failed"):
		return ErrMergeConflict
	case strings.Contains(text, "nothing to commit"), strings.Contains(text, "nothing added to commit"):
		return ErrNothingToCommit
	case strings.Contains(text, "[rejected]"), strings.Contains(text, "failed to push"):
		return ErrPushRejected
	case strings.Contains(text, "would be overwritten"):
		return ErrDirtyWorktree
	case strings.Contains(text, "patch does not apply"), strings.Contains(text, "corrupt patch"):
		return ErrPatchFailed
	}
	return ErrCommandFailed
}
