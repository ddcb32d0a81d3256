// internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	failureStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// TextReporter renders a human summary of each run as it is written.
type TextReporter struct {
	writer io.WriteCloser
	mu     sync.Mutex
	now    func() time.Time
}

// NewTextReporter creates a reporter that owns writer. Styling degrades to
// plain text when writer is not a terminal.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer, now: time.Now}
}

func (r *TextReporter) Write(report *autofix.FixImplementationReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := io.WriteString(r.writer, r.render(report))
	return err
}

func (r *TextReporter) Close() error {
	return r.writer.Close()
}

func (r *TextReporter) render(report *autofix.FixImplementationReport) string {
	var b strings.Builder

	title := "Fix run " + report.RunID
	if report.DryRun {
		title += " (dry run)"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s\n", dimmedStyle.Render(fmt.Sprintf("started %s, took %s",
		humanize.RelTime(report.StartedAt, r.now(), "ago", "from now"), report.Duration.Round(time.Millisecond))))

	t := report.Tests
	fmt.Fprintf(&b, "Tests: %s passed, %s failed, %s skipped, %s timed out of %s\n",
		humanize.Comma(int64(t.Passed)), humanize.Comma(int64(t.Failed)), humanize.Comma(int64(t.Skipped)),
		humanize.Comma(int64(t.TimedOut)), humanize.Comma(int64(t.Total)))
	fmt.Fprintf(&b, "Issues: %d found, %d attempted, %d fixed, %d deployed, %d need review, %d rolled back, %d failed, %d skipped\n",
		report.TotalIssues, report.Attempted, report.Succeeded, report.Deployed, report.NeedsReview, report.RolledBack, report.Failed, report.Skipped)

	for i, res := range report.Results {
		fmt.Fprintf(&b, "\n%s %s %s\n", humanize.Ordinal(i+1), statusStyle(res.Status).Render(strings.ToUpper(string(res.Status))), res.Issue.TestName)
		fmt.Fprintf(&b, "    severity: %s  type: %s\n", res.Issue.Severity, res.Issue.Type)
		if loc := location(res.Issue); loc != "" {
			fmt.Fprintf(&b, "    at: %s\n", loc)
		}
		if res.Classification != nil {
			fmt.Fprintf(&b, "    level %d, %s confidence\n", res.Classification.Level, percent(res.Classification.Confidence))
		}
		if res.Implementation != nil && res.Implementation.Branch != "" {
			fmt.Fprintf(&b, "    branch: %s\n", res.Implementation.Branch)
		}
		if res.PullRequest != nil {
			fmt.Fprintf(&b, "    pull request: %s\n", res.PullRequest.URL)
		}
		if res.Error != "" {
			fmt.Fprintf(&b, "    %s\n", failureStyle.Render(firstLine(res.Error)))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func statusStyle(s autofix.FixStatus) lipgloss.Style {
	switch {
	case s.Succeeded():
		return successStyle
	case s == autofix.FixFailed || s == autofix.FixRolledBack:
		return failureStyle
	case s == autofix.FixNeedsReview:
		return warningStyle
	default:
		return dimmedStyle
	}
}

func location(issue autofix.DetectedIssue) string {
	file, line := issue.SourceFile, issue.SourceLine
	if file == "" {
		file, line = issue.TestFile, issue.TestLine
	}
	if file == "" {
		return ""
	}
	if line > 0 {
		return fmt.Sprintf("%s:%d", file, line)
	}
	return file
}

func percent(f float64) string {
	return humanize.FtoaWithDigits(f*100, 1) + "%"
}
