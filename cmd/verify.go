// cmd/verify.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/observability"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/reporting"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/testrunner"
)

const qaReportName = "qa-report.json"

func newVerifyCmd() *cobra.Command {
	var qaPath string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-run the test suite and exit 0 when everything passes, 1 otherwise",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if qaPath == "" {
				qaPath = projectPath(projectPath(cfg.Autofix().ProjectRoot, cfg.Autofix().ResultsDir), qaReportName)
			}
			logger := observability.GetLogger()
			code, err := runVerify(cmd.Context(), cmd.OutOrStdout(), newTestRunner(cfg, logger), qaPath, logger)
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&qaPath, "qa-report", "", "where to write the QA report (default <results_dir>/qa-report.json)")
	return cmd
}

// runVerify runs the whole suite once and writes the QA report. An empty run
// does not pass.
func runVerify(ctx context.Context, out io.Writer, suite autofix.TestSuite, qaPath string, logger *zap.Logger) (int, error) {
	run, err := suite.RunAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to run test suite: %w", err)
	}
	return summarize(out, run.Summary, qaPath, logger), nil
}

func newQAReportCmd() *cobra.Command {
	var resultsPath, qaPath string
	cmd := &cobra.Command{
		Use:   "qa-report",
		Short: "Write the QA report from the last test results without re-running the suite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			root := cfg.Autofix().ProjectRoot
			if resultsPath == "" {
				resultsPath = projectPath(root, cfg.Tests().ResultsFile)
			}
			if qaPath == "" {
				qaPath = projectPath(projectPath(root, cfg.Autofix().ResultsDir), qaReportName)
			}
			summary, err := testrunner.LoadFile(resultsPath, testrunner.Format(cfg.Tests().Format))
			if err != nil {
				return err
			}
			if code := summarize(cmd.OutOrStdout(), summary, qaPath, observability.GetLogger()); code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resultsPath, "results", "", "test results file (default tests.results_file)")
	cmd.Flags().StringVar(&qaPath, "output", "", "where to write the QA report (default <results_dir>/qa-report.json)")
	return cmd
}

// summarize prints the outcome, saves the QA report and returns the exit
// code. A report that cannot be written is logged, not fatal.
func summarize(out io.Writer, summary *testrunner.Summary, qaPath string, logger *zap.Logger) int {
	if err := reporting.WriteQAReport(qaPath, summary); err != nil {
		logger.Error("Failed to write QA report.", zap.Error(err))
	} else {
		logger.Info("QA report saved.", zap.String("path", qaPath))
	}

	fmt.Fprintf(out, "Tests: %d total, %d passed, %d failed, %d skipped, %d timed out\n",
		summary.Total, summary.Passed, summary.Failed, summary.Skipped, summary.TimedOut)
	for _, r := range summary.Failures() {
		fmt.Fprintf(out, "  %s %s (%s)\n", r.Status, r.FullTitle, r.File)
	}
	if summary.AllPassed() {
		fmt.Fprintln(out, "PASS")
		return 0
	}
	if summary.Total == 0 {
		fmt.Fprintln(out, "FAIL: no test results")
	} else {
		fmt.Fprintln(out, "FAIL")
	}
	return 1
}
