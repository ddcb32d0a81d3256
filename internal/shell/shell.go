// internal/shell/shell.go
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// ErrOutputTooLarge is returned when a command writes more than the
// configured output limit.
var ErrOutputTooLarge = errors.New("command output exceeded limit")

// DefaultMaxOutput is the output buffer limit used when none is configured.
const DefaultMaxOutput int64 = 50 * 1024 * 1024

// Runner executes an external command. Implementations return the exit code
// alongside the error so callers can treat a non-zero exit as data.
type Runner interface {
	Run(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Env is appended to the current process environment.
	Env []string
	// MaxOutput caps each of stdout and stderr. Zero means no cap.
	MaxOutput int64
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = stdin
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	stdout := &cappedBuffer{limit: r.MaxOutput}
	stderr := &cappedBuffer{limit: r.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if stdout.exceeded() || stderr.exceeded() {
		return stdout.Bytes(), stderr.Bytes(), -1, fmt.Errorf("%s: %w (%d bytes)", name, ErrOutputTooLarge, r.MaxOutput)
	}
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}
	return stdout.Bytes(), stderr.Bytes(), code, err
}

// IsExitError reports whether err only signals a non-zero exit status.
func IsExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// cappedBuffer refuses writes past limit so the child gets EPIPE instead of
// the parent buffering without bound.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int64
	over  bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && int64(b.buf.Len()+len(p)) > b.limit {
		b.over = true
		return 0, ErrOutputTooLarge
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}

func (b *cappedBuffer) exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.over
}
