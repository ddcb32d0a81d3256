// internal/codebase/codebase.go
package codebase

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/shell"
)

var (
	// ErrPathOutsideRoot is returned for paths that escape the project root.
	ErrPathOutsideRoot = errors.New("path is outside the project root")
	// ErrProtectedPath is returned for writes to paths matching a protected glob.
	ErrProtectedPath = errors.New("path is protected")
	// ErrConcurrentModification is returned when a file changed since it was read.
	ErrConcurrentModification = errors.New("file changed since it was read")
	// ErrNotBackup is returned when Restore is given a path without a backup suffix.
	ErrNotBackup = errors.New("not a backup file")
)

const backupInfix = ".backup."

var backupSuffix = regexp.MustCompile(`\.backup\.\d+$`)

// Codebase reads and writes files under a project root.
type Codebase struct {
	root      string
	protected []string
	shell     shell.Runner
	lint      []string
	format    []string
	logger    *zap.Logger
	now       func() time.Time
}

// Options configures a Codebase.
type Options struct {
	ProtectedPaths []string
	LintCommand    []string
	FormatCommand  []string
	Shell          shell.Runner
}

// New returns a Codebase rooted at root. Invalid protected globs are rejected.
func New(root string, opts Options, logger *zap.Logger) (*Codebase, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	for _, p := range opts.ProtectedPaths {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid protected path pattern %q", p)
		}
	}
	sh := opts.Shell
	if sh == nil {
		sh = shell.ExecRunner{MaxOutput: shell.DefaultMaxOutput}
	}
	return &Codebase{
		root:      abs,
		protected: opts.ProtectedPaths,
		shell:     sh,
		lint:      opts.LintCommand,
		format:    opts.FormatCommand,
		logger:    logger.Named("codebase"),
		now:       time.Now,
	}, nil
}

// Root returns the absolute project root.
func (c *Codebase) Root() string { return c.root }

// Rel converts path to a slash-separated path relative to the root.
func (c *Codebase) Rel(path string) (string, error) {
	abs, err := c.abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(c.root, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	return filepath.ToSlash(rel), nil
}

func (c *Codebase) abs(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathOutsideRoot)
	}
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(c.root, path)
	}
	if abs != c.root && !strings.HasPrefix(abs, c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	return abs, nil
}

// Resolve returns the absolute path for a project file and rejects paths
// outside the root.
func (c *Codebase) Resolve(path string) (string, error) {
	return c.abs(path)
}

// IsProtected reports whether path matches a protected glob.
func (c *Codebase) IsProtected(path string) bool {
	rel, err := c.Rel(path)
	if err != nil {
		return true
	}
	for _, pattern := range c.protected {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// resolveWritable is Resolve plus the protected path check.
func (c *Codebase) resolveWritable(path string) (string, error) {
	abs, err := c.abs(path)
	if err != nil {
		return "", err
	}
	if c.IsProtected(path) {
		return "", fmt.Errorf("%w: %s", ErrProtectedPath, path)
	}
	return abs, nil
}

// ReadFile returns the content of a project file.
func (c *Codebase) ReadFile(path string) (string, error) {
	abs, err := c.abs(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// Exists reports whether a project file exists.
func (c *Codebase) Exists(path string) bool {
	abs, err := c.abs(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// WriteFile writes content, creating parent directories and keeping the mode
// of an existing file.
func (c *Codebase) WriteFile(path, content string) error {
	abs, err := c.resolveWritable(path)
	if err != nil {
		return err
	}
	return writeFile(abs, []byte(content))
}

// WriteFileIf writes content only if the file still hashes to expectedHash.
func (c *Codebase) WriteFileIf(path, content, expectedHash string) error {
	abs, err := c.resolveWritable(path)
	if err != nil {
		return err
	}
	current, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if Hash(string(current)) != expectedHash {
		return fmt.Errorf("%w: %s", ErrConcurrentModification, path)
	}
	return writeFile(abs, []byte(content))
}

// ReplaceFileLines replaces a line range in a project file.
func (c *Codebase) ReplaceFileLines(path string, start, end int, newText string) error {
	content, err := c.ReadFile(path)
	if err != nil {
		return err
	}
	updated, err := ReplaceLines(content, start, end, newText)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return c.WriteFileIf(path, updated, Hash(content))
}

// Hash returns the hex SHA-256 of content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Backup copies path to "<path>.backup.<unix nanos>" and returns the backup
// path relative to the root.
func (c *Codebase) Backup(path string) (string, error) {
	abs, err := c.abs(path)
	if err != nil {
		return "", err
	}
	backup := fmt.Sprintf("%s%s%d", abs, backupInfix, c.now().UnixNano())
	if err := copyFile(abs, backup); err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", path, err)
	}
	c.logger.Debug("Backed up file", zap.String("path", path), zap.String("backup", backup))
	return c.Rel(backup)
}

// Restore copies a backup over its original and deletes the backup.
func (c *Codebase) Restore(backupPath string) error {
	abs, err := c.abs(backupPath)
	if err != nil {
		return err
	}
	loc := backupSuffix.FindStringIndex(abs)
	if loc == nil {
		return fmt.Errorf("%w: %s", ErrNotBackup, backupPath)
	}
	original := abs[:loc[0]]
	if err := copyFile(abs, original); err != nil {
		return fmt.Errorf("failed to restore %s: %w", original, err)
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("failed to remove backup %s: %w", backupPath, err)
	}
	c.logger.Debug("Restored file", zap.String("path", original))
	return nil
}

// DiscardBackup deletes a backup without restoring it.
func (c *Codebase) DiscardBackup(backupPath string) error {
	abs, err := c.abs(backupPath)
	if err != nil {
		return err
	}
	if !backupSuffix.MatchString(abs) {
		return fmt.Errorf("%w: %s", ErrNotBackup, backupPath)
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func writeFile(abs string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(abs); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", abs, err)
	}
	if err := os.WriteFile(abs, data, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", abs, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
