// internal/codebase/tools.go
package codebase

import (
	"context"
	"fmt"

	"github.com/acarl005/stripansi"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/shell"
)

// maxToolWorkers bounds concurrent lint/format processes in Tidy.
const maxToolWorkers = 4

// ToolResult is the outcome of a lint or format command. Success is false
// when the tool exits non-zero, which for linters means problems remain.
type ToolResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// RunLint runs the lint command on files, or on the whole project when files
// is empty.
func (c *Codebase) RunLint(ctx context.Context, files ...string) (ToolResult, error) {
	return c.runTool(ctx, "lint", c.lint, files)
}

// RunFormat runs the format command on files.
func (c *Codebase) RunFormat(ctx context.Context, files ...string) (ToolResult, error) {
	return c.runTool(ctx, "format", c.format, files)
}

// Tidy formats then lints each file. Files are processed concurrently; the
// two tools never touch the same file at the same time. The returned map is
// keyed by file.
func (c *Codebase) Tidy(ctx context.Context, files []string) (map[string]ToolResult, error) {
	results := make([]ToolResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxToolWorkers)

	for i, file := range files {
		g.Go(func() error {
			if len(c.format) > 0 {
				res, err := c.RunFormat(gctx, file)
				if err != nil {
					return err
				}
				if !res.Success {
					results[i] = res
					return nil
				}
			}
			if len(c.lint) > 0 {
				res, err := c.RunLint(gctx, file)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			}
			results[i] = ToolResult{Success: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]ToolResult, len(files))
	for i, file := range files {
		out[file] = results[i]
	}
	return out, nil
}

func (c *Codebase) runTool(ctx context.Context, kind string, command, files []string) (ToolResult, error) {
	if len(command) == 0 {
		return ToolResult{Success: true}, nil
	}
	args := append([]string{}, command[1:]...)
	for _, f := range files {
		rel, err := c.Rel(f)
		if err != nil {
			return ToolResult{}, err
		}
		args = append(args, rel)
	}

	stdout, stderr, code, err := c.shell.Run(ctx, c.root, nil, command[0], args...)
	output := stripansi.Strip(string(stdout) + string(stderr))
	if err != nil && !shell.IsExitError(err) {
		return ToolResult{Output: output}, fmt.Errorf("failed to run %s command: %w", kind, err)
	}
	res := ToolResult{Success: code == 0, Output: output}
	c.logger.Debug("Tool finished", zap.String("tool", kind), zap.Int("exit_code", code), zap.Int("files", len(files)))
	return res, nil
}
