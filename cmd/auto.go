// cmd/auto.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/observability"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/reporting"
)

// fixRunner is the part of autofix.Fixer that auto drives.
type fixRunner interface {
	Run(ctx context.Context) (*autofix.FixImplementationReport, error)
}

// reportOptions controls where a run is saved and how it is shown.
type reportOptions struct {
	ResultsDir string
	Format     string
	Output     string
}

func newAutoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Run the test suite and fix the failing tests (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutoCommand(cmd)
		},
	}
	addAutoFlags(cmd)
	return cmd
}

func addAutoFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dry-run", false, "classify and plan fixes without touching the working tree")
	cmd.Flags().Int("max-fixes", 0, "maximum number of issues to attempt (overrides MAX_FIXES_PER_RUN)")
	cmd.Flags().StringP("format", "f", "text", "summary format: text, json or sarif")
	cmd.Flags().StringP("output", "o", "", "write the summary to this file instead of stdout")
}

func runAutoCommand(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()

	components, err := initializeFixComponents(ctx, cfg, logger, true)
	if err != nil {
		if components != nil {
			components.Shutdown()
		}
		return err
	}
	defer components.Shutdown()

	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	code, err := runAuto(ctx, cmd.OutOrStdout(), components.Fixer, reportOptions{
		ResultsDir: projectPath(cfg.Autofix().ProjectRoot, cfg.Autofix().ResultsDir),
		Format:     format,
		Output:     output,
	}, logger)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// runAuto runs the pipeline, saves the report and renders the summary. The
// returned code is the process exit code.
func runAuto(ctx context.Context, out io.Writer, fixer fixRunner, opts reportOptions, logger *zap.Logger) (int, error) {
	report, err := fixer.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		return 0, fmt.Errorf("fix run failed: %w", err)
	}

	path, err := reporting.WriteFixReport(opts.ResultsDir, report)
	if err != nil {
		logger.Error("Failed to save fix report.", zap.Error(err))
	} else {
		logger.Info("Fix report saved.", zap.String("path", path))
	}

	if err := renderReport(out, report, opts, logger); err != nil {
		return 0, err
	}
	return report.ExitCode(), nil
}

// renderReport writes the summary to opts.Output, or to out when unset.
func renderReport(out io.Writer, report *autofix.FixImplementationReport, opts reportOptions, logger *zap.Logger) error {
	var (
		reporter reporting.Reporter
		err      error
	)
	if opts.Output == "" {
		reporter, err = reporting.NewWriter(opts.Format, reporting.NopCloser(out), Version, logger)
	} else {
		reporter, err = reporting.New(opts.Format, opts.Output, Version, logger)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	if err := reporter.Write(report); err != nil {
		_ = reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return reporter.Close()
}
