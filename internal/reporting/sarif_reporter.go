// internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "mealfix"
	ToolInfoURI  = "https://github.com/drmweyers/FitnessMealPlanner"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleIDSanitizer collapses anything outside [A-Za-z0-9_.] into one hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// SARIFReporter writes every processed issue as a SARIF result, one rule per
// issue type. It is safe for concurrent use.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects log and rules.
	mu    sync.Mutex
	rules map[autofix.IssueType]string
}

// NewSARIFReporter creates a reporter that owns writer.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						Rules:          []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}
	return &SARIFReporter{
		writer: writer,
		logger: logger.Named("sarif_reporter"),
		log:    log,
		rules:  make(map[autofix.IssueType]string),
	}
}

// Write adds one result per processed issue.
func (r *SARIFReporter) Write(report *autofix.FixImplementationReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	run.Invocations = append(run.Invocations, createInvocation(report))
	for _, res := range report.Results {
		run.Results = append(run.Results, &sarif.Result{
			RuleID:     r.ensureRule(res.Issue.Type),
			Message:    &sarif.Message{Text: pString(resultMessage(res))},
			Level:      mapSeverityToSARIFLevel(res.Issue.Severity),
			Locations:  createLocations(res.Issue),
			Properties: resultProperties(report.RunID, res),
		})
	}
	r.logger.Debug("Wrote fix results to SARIF buffer", zap.String("run_id", report.RunID), zap.Int("results", len(report.Results)))
	return nil
}

// Close encodes the log and closes the writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	encoder := reportJSON.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Info("Successfully wrote SARIF report",
		zap.Int("total_results", len(r.log.Runs[0].Results)),
		zap.Int("total_rules", len(r.log.Runs[0].Tool.Driver.Rules)),
		zap.Duration("duration_ms", time.Since(startTime)),
	)
	return nil
}

// sanitizeRuleName upper-cases name and replaces unsafe runs with a hyphen.
func sanitizeRuleName(name string) string {
	sanitized := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToUpper(name), "-"), "-")
	if sanitized == "" {
		return "UNKNOWN"
	}
	return sanitized
}

// ensureRule registers the rule for an issue type once and returns its ID.
// Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(issueType autofix.IssueType) string {
	if id, ok := r.rules[issueType]; ok {
		return id
	}
	id := "MEALFIX-" + sanitizeRuleName(string(issueType))
	name := string(issueType)
	if name == "" {
		name = string(autofix.IssueUnknown)
	}

	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               id,
		Name:             pString(name),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(fmt.Sprintf("Failing %s test", name))},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(ruleHelp(issueType)),
			Markdown: pString(fmt.Sprintf("**Issue type:** %s\n\n%s", name, ruleHelp(issueType))),
		},
		Properties: &sarif.PropertyBag{
			"tags": []string{"test-failure", string(issueType)},
		},
	})
	r.rules[issueType] = id
	return id
}

func ruleHelp(t autofix.IssueType) string {
	switch t {
	case autofix.IssueTimeout:
		return "The test exceeded its time budget. Check slow queries, missing awaits and stuck network calls."
	case autofix.IssueAssertion:
		return "An expectation did not hold. Compare the rendered value with the expected one."
	case autofix.IssueNetwork:
		return "A request failed or returned an unexpected status."
	case autofix.IssueSelector:
		return "An element the test relies on was not found on the page."
	case autofix.IssueRuntime:
		return "The application threw while handling the test."
	default:
		return "The failure did not match a known pattern."
	}
}

func resultMessage(res autofix.FixResult) string {
	msg := fmt.Sprintf("%s: %s", res.Issue.TestName, firstLine(res.Issue.ErrorMessage))
	if res.Error != "" {
		msg += fmt.Sprintf(" (%s: %s)", res.Status, res.Error)
	} else {
		msg += fmt.Sprintf(" (%s)", res.Status)
	}
	return msg
}

func resultProperties(runID string, res autofix.FixResult) *sarif.PropertyBag {
	props := sarif.PropertyBag{
		"run_id":   runID,
		"issue_id": res.Issue.ID,
		"status":   string(res.Status),
		"severity": string(res.Issue.Severity),
	}
	if res.Classification != nil {
		props["level"] = res.Classification.Level
		props["confidence"] = res.Classification.Confidence
	}
	if res.Implementation != nil && res.Implementation.Branch != "" {
		props["branch"] = res.Implementation.Branch
	}
	if res.PullRequest != nil {
		props["pull_request"] = res.PullRequest.URL
	}
	return &props
}

// createInvocation summarizes one fix run. Zero timestamps are omitted.
func createInvocation(report *autofix.FixImplementationReport) *sarif.Invocation {
	inv := &sarif.Invocation{
		ExecutionSuccessful: report.ExitCode() == 0,
		Properties: &sarif.PropertyBag{
			"run_id":       report.RunID,
			"dry_run":      report.DryRun,
			"tests_total":  report.Tests.Total,
			"tests_failed": report.Tests.Failed + report.Tests.TimedOut,
			"issues":       report.TotalIssues,
			"fixed":        report.Succeeded,
		},
	}
	if !report.StartedAt.IsZero() {
		start := report.StartedAt.UTC()
		inv.StartTimeUTC = &start
	}
	if !report.CompletedAt.IsZero() {
		end := report.CompletedAt.UTC()
		inv.EndTimeUTC = &end
	}
	return inv
}

// createLocations prefers the application frame and falls back to the test.
func createLocations(issue autofix.DetectedIssue) []*sarif.Location {
	file, line := issue.SourceFile, issue.SourceLine
	if file == "" {
		file, line = issue.TestFile, issue.TestLine
	}
	if file == "" {
		return nil
	}
	physical := &sarif.PhysicalLocation{
		ArtifactLocation: &sarif.ArtifactLocation{URI: pString(file), URIBaseID: pString(sarif.SrcRoot)},
	}
	if line > 0 {
		physical.Region = &sarif.Region{StartLine: line}
	}
	return []*sarif.Location{{
		PhysicalLocation: physical,
		Message:          &sarif.Message{Text: pString(fmt.Sprintf("%s failed here", issue.TestName))},
	}}
}

// mapSeverityToSARIFLevel converts an issue severity to a SARIF level.
func mapSeverityToSARIFLevel(severity autofix.Severity) sarif.Level {
	switch severity {
	case autofix.SeverityCritical, autofix.SeverityHigh:
		return sarif.LevelError
	case autofix.SeverityMedium:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// pString returns a pointer to s. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}
