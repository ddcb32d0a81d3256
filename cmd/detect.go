// cmd/detect.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/observability"
)

func newDetectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run the test suite and list the failing tests without fixing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			components, err := initializeFixComponents(cmd.Context(), cfg, observability.GetLogger(), false)
			if err != nil {
				return err
			}
			defer components.Shutdown()
			return runDetect(cmd.Context(), cmd.OutOrStdout(), components.Detector, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the issues as JSON")
	return cmd
}

// runDetect prints one line per failing test, most severe first.
func runDetect(ctx context.Context, out io.Writer, detector autofix.DetectorInterface, asJSON bool) error {
	issues, summary, err := detector.Detect(ctx)
	if err != nil {
		return err
	}
	issues = autofix.Prioritize(issues)

	if asJSON {
		if issues == nil {
			issues = []autofix.DetectedIssue{}
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(issues)
	}

	if summary != nil {
		fmt.Fprintf(out, "Tests: %d total, %d passed, %d failed, %d skipped, %d timed out\n",
			summary.Total, summary.Passed, summary.Failed, summary.Skipped, summary.TimedOut)
	}
	if len(issues) == 0 {
		fmt.Fprintln(out, "No failing tests.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEVERITY\tTYPE\tTEST\tLOCATION")
	for _, issue := range issues {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", issue.Severity, issue.Type, issue.TestName, issueLocation(issue))
	}
	return w.Flush()
}

func issueLocation(issue autofix.DetectedIssue) string {
	file, line := issue.SourceFile, issue.SourceLine
	if file == "" {
		file, line = issue.TestFile, issue.TestLine
	}
	if file == "" {
		return "-"
	}
	if line > 0 {
		return fmt.Sprintf("%s:%d", file, line)
	}
	return file
}
