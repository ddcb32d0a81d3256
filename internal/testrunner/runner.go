// internal/testrunner/runner.go
package testrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/shell"
)

// ErrEmptyCommand is returned when no test command is configured.
var ErrEmptyCommand = errors.New("test command is empty")

// Run describes one invocation of the test command.
type Run struct {
	Summary  *Summary
	ExitCode int
	Output   string
	Duration time.Duration
}

// Runner invokes the project's test command and reads the report it writes.
type Runner struct {
	root        string
	command     []string
	resultsFile string
	format      Format
	timeout     time.Duration
	shell       shell.Runner
	logger      *zap.Logger
}

// New builds a Runner from configuration. A nil sh uses os/exec with the
// configured output cap and points Playwright's JSON reporter at the results
// file.
func New(root string, cfg config.TestsConfig, sh shell.Runner, logger *zap.Logger) *Runner {
	resultsFile := cfg.ResultsFile
	if resultsFile != "" && !filepath.IsAbs(resultsFile) {
		resultsFile = filepath.Join(root, resultsFile)
	}
	if sh == nil {
		maxOutput := cfg.MaxOutputSize
		if maxOutput <= 0 {
			maxOutput = shell.DefaultMaxOutput
		}
		sh = shell.ExecRunner{
			MaxOutput: maxOutput,
			Env:       []string{"PLAYWRIGHT_JSON_OUTPUT_NAME=" + resultsFile},
		}
	}
	format := Format(cfg.Format)
	if format == "" {
		format = FormatAuto
	}
	return &Runner{
		root:        root,
		command:     cfg.Command,
		resultsFile: resultsFile,
		format:      format,
		timeout:     cfg.Timeout,
		shell:       sh,
		logger:      logger.Named("testrunner"),
	}
}

// ResultsFile returns the absolute path of the report file.
func (r *Runner) ResultsFile() string { return r.resultsFile }

// RunAll runs the whole suite.
func (r *Runner) RunAll(ctx context.Context) (*Run, error) {
	return r.execute(ctx, r.command)
}

// RunSpecific runs a single spec file, optionally filtered by a title pattern.
func (r *Runner) RunSpecific(ctx context.Context, file, grep string) (*Run, error) {
	args := append([]string{}, r.command...)
	if file != "" {
		args = append(args, file)
	}
	if grep != "" {
		if r.format == FormatVitest {
			args = append(args, "-t", grep)
		} else {
			args = append(args, "--grep", grep)
		}
	}
	return r.execute(ctx, args)
}

func (r *Runner) execute(ctx context.Context, command []string) (*Run, error) {
	if len(command) == 0 {
		return nil, ErrEmptyCommand
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	// A stale report from an earlier run must not be mistaken for this one.
	if r.resultsFile != "" {
		if err := os.Remove(r.resultsFile); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("Could not remove previous results file", zap.String("path", r.resultsFile), zap.Error(err))
		}
	}

	r.logger.Info("Running tests", zap.Strings("command", command))
	start := time.Now()
	stdout, stderr, code, err := r.shell.Run(ctx, r.root, nil, command[0], command[1:]...)
	run := &Run{
		ExitCode: code,
		Duration: time.Since(start),
		Output:   stripansi.Strip(string(stdout) + string(stderr)),
	}
	if err != nil && !shell.IsExitError(err) {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("test command did not finish: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to run test command: %w", err)
	}

	run.Summary = r.LoadResults(stdout)
	if run.Summary.Duration == 0 {
		run.Summary.Duration = run.Duration
	}
	r.logger.Info("Tests finished",
		zap.Int("exit_code", code),
		zap.Int("total", run.Summary.Total),
		zap.Int("passed", run.Summary.Passed),
		zap.Int("failed", run.Summary.Failed),
		zap.Int("skipped", run.Summary.Skipped),
		zap.Int("timed_out", run.Summary.TimedOut),
		zap.Duration("duration", run.Duration),
	)
	return run, nil
}

// LoadResults reads the report file, falling back to a report printed on
// stdout. When neither yields a report the summary is empty and a warning is
// logged.
func (r *Runner) LoadResults(stdout []byte) *Summary {
	if r.resultsFile != "" {
		data, err := os.ReadFile(r.resultsFile)
		if err == nil {
			s, perr := Parse(data, r.format)
			if perr == nil {
				return s
			}
			r.logger.Warn("Results file could not be parsed", zap.String("path", r.resultsFile), zap.Error(perr))
		} else if !os.IsNotExist(err) {
			r.logger.Warn("Results file could not be read", zap.String("path", r.resultsFile), zap.Error(err))
		}
	}

	if trimmed := bytes.TrimSpace(stdout); len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '<') {
		if s, err := Parse(trimmed, r.format); err == nil {
			return s
		}
	}

	r.logger.Warn("No test report found, returning an empty summary", zap.String("path", r.resultsFile))
	return NewSummary(nil, 0)
}

// LoadFile parses a report from disk.
func LoadFile(path string, format Format) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	if format == "" || format == FormatAuto {
		if f := formatFromExtension(path); f != "" {
			format = f
		}
	}
	return Parse(data, format)
}

// Parse decodes a report in the given format. FormatAuto sniffs the content.
func Parse(data []byte, format Format) (*Summary, error) {
	if format == "" || format == FormatAuto {
		format = DetectFormat(data)
	}
	switch format {
	case FormatPlaywright:
		return ParsePlaywrightReport(data)
	case FormatVitest:
		return ParseVitestReport(data)
	case FormatJUnit:
		return ParseJUnitReport(data)
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

// DetectFormat guesses the report layout from its content.
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return FormatPlaywright
	}
	if trimmed[0] == '<' {
		return FormatJUnit
	}
	head := trimmed
	if len(head) > 4096 {
		head = head[:4096]
	}
	if bytes.Contains(head, []byte(`"testResults"`)) || bytes.Contains(head, []byte(`"numTotalTests"`)) {
		return FormatVitest
	}
	return FormatPlaywright
}

func formatFromExtension(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return FormatJUnit
	}
	return ""
}
