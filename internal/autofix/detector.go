// internal/autofix/detector.go
package autofix

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix/coroner"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/testrunner"
)

// TestSuite is the part of testrunner.Runner the fixer needs.
type TestSuite interface {
	RunAll(ctx context.Context) (*testrunner.Run, error)
	RunSpecific(ctx context.Context, file, grep string) (*testrunner.Run, error)
}

// Detector runs the suite and reports one issue per failing or timed out test.
type Detector struct {
	tests  TestSuite
	parser *coroner.Parser
	logger *zap.Logger
	now    func() time.Time
}

// NewDetector creates a Detector. Stack frames are made relative to root.
func NewDetector(tests TestSuite, root string, logger *zap.Logger) *Detector {
	return &Detector{
		tests:  tests,
		parser: coroner.NewParser(root),
		logger: logger.Named("autofix-detector"),
		now:    time.Now,
	}
}

// Detect runs the whole suite. The summary is returned even when no issue is
// found so callers can tell an empty report from a green run.
func (d *Detector) Detect(ctx context.Context) ([]DetectedIssue, *testrunner.Summary, error) {
	d.logger.Info("Running test suite to detect failures...")
	run, err := d.tests.RunAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to run test suite: %w", err)
	}
	issues := IssuesFromSummary(run.Summary, d.parser, d.now())
	d.logger.Info("Detection complete.",
		zap.Int("total", run.Summary.Total),
		zap.Int("failed", run.Summary.Failed),
		zap.Int("timed_out", run.Summary.TimedOut),
		zap.Int("issues", len(issues)))
	return issues, run.Summary, nil
}

// IssuesFromSummary converts every failed or timed out result into an issue.
func IssuesFromSummary(summary *testrunner.Summary, parser *coroner.Parser, at time.Time) []DetectedIssue {
	if summary == nil {
		return nil
	}
	var issues []DetectedIssue
	for _, r := range summary.Failures() {
		issues = append(issues, issueFromResult(r, parser, at))
	}
	return issues
}

func issueFromResult(r testrunner.TestResult, parser *coroner.Parser, at time.Time) DetectedIssue {
	name := r.FullTitle
	if name == "" {
		name = r.Title
	}
	issue := DetectedIssue{
		ID:           uuid.New().String(),
		Type:         ClassifyType(r.Error, r.Status),
		Severity:     ClassifySeverity(name),
		TestName:     name,
		TestFile:     r.File,
		TestLine:     r.Line,
		Project:      r.Project,
		ErrorMessage: r.Error,
		StackTrace:   r.Stack,
		Timestamp:    at,
	}

	trace := r.Error + "\n" + r.Stack
	for _, f := range parser.ParseFrames(trace) {
		if coroner.IsApplicationFrame(f) && f.File != r.File {
			issue.SourceFile, issue.SourceLine = f.File, f.Line
			break
		}
	}
	issue.AffectedFiles = parser.ApplicationFiles(trace)
	if r.File != "" && !slices.Contains(issue.AffectedFiles, r.File) {
		issue.AffectedFiles = append(issue.AffectedFiles, r.File)
	}
	if issue.AffectedFiles == nil {
		issue.AffectedFiles = []string{}
	}

	for _, a := range r.Attachments {
		switch {
		case a.Name == "screenshot" || strings.HasPrefix(a.ContentType, "image/"):
			issue.Screenshot = a.Path
		case a.Name == "video" || strings.HasPrefix(a.ContentType, "video/"):
			issue.Video = a.Path
		case a.Name == "trace":
			issue.Trace = a.Path
		}
	}
	return issue
}

var severityKeywords = []struct {
	severity Severity
	words    []string
	// wordStart keywords only match at the start of a word.
	wordStart bool
}{
	{SeverityCritical, []string{"auth", "login", "payment", "security"}, false},
	{SeverityHigh, []string{"data", "database", "save", "delete"}, false},
	{SeverityLow, []string{"ui", "style", "layout", "display"}, true},
}

// ClassifySeverity ranks a failing test by its name. Critical and high
// keywords match anywhere in the name, so "unauthorized" and "OAuth" count as
// auth. Low keywords must start a word: "ui" inside "build" or "guide" does
// not make a test cosmetic. The first matching group wins.
func ClassifySeverity(name string) Severity {
	lower := strings.ToLower(name)
	words := splitWords(name)
	for _, group := range severityKeywords {
		for _, kw := range group.words {
			if !group.wordStart {
				if strings.Contains(lower, kw) {
					return group.severity
				}
				continue
			}
			for _, w := range words {
				if strings.HasPrefix(w, kw) {
					return group.severity
				}
			}
		}
	}
	return SeverityMedium
}

// splitWords lower-cases s and splits it on punctuation, spaces and
// camelCase boundaries.
func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	var prev rune
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				flush()
			}
			cur = append(cur, r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return words
}

// ClassifyType tags a failure by its error text.
func ClassifyType(message string, status testrunner.Status) IssueType {
	m := strings.ToLower(message)
	switch {
	case status == testrunner.StatusTimedOut, strings.Contains(m, "timeout"), strings.Contains(m, "timed out"):
		return IssueTimeout
	case strings.Contains(m, "econnrefused"), strings.Contains(m, "econnreset"), strings.Contains(m, "net::err"),
		strings.Contains(m, "fetch failed"), strings.Contains(m, "network"), strings.Contains(m, "socket hang up"):
		return IssueNetwork
	case strings.Contains(m, "locator"), strings.Contains(m, "selector"), strings.Contains(m, "strict mode violation"),
		strings.Contains(m, "element is not"):
		return IssueSelector
	case strings.Contains(m, "expect("), strings.Contains(m, "assertionerror"), strings.Contains(m, "expected"):
		return IssueAssertion
	case strings.Contains(m, "typeerror"), strings.Contains(m, "referenceerror"), strings.Contains(m, "rangeerror"),
		strings.Contains(m, "syntaxerror"), strings.Contains(m, "cannot read propert"), strings.Contains(m, "is not a function"):
		return IssueRuntime
	}
	return IssueUnknown
}
