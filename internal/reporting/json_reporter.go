// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/testrunner"
)

// reportJSON leaves <, > and & unescaped; reports are read by people, not
// embedded in HTML.
var reportJSON = json.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

// JSONReporter writes runs as indented JSON. A single run is written as an
// object, several as an array.
type JSONReporter struct {
	writer  io.WriteCloser
	logger  *zap.Logger
	mu      sync.Mutex
	reports []*autofix.FixImplementationReport
}

// NewJSONReporter creates a reporter that owns writer.
func NewJSONReporter(writer io.WriteCloser, logger *zap.Logger) *JSONReporter {
	return &JSONReporter{writer: writer, logger: logger.Named("json_reporter")}
}

func (r *JSONReporter) Write(report *autofix.FixImplementationReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

// Close encodes the buffered runs and closes the writer.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var doc interface{} = r.reports
	if len(r.reports) == 1 {
		doc = r.reports[0]
	}
	encoder := reportJSON.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(doc)
	closeErr := r.writer.Close()
	if encodeErr != nil {
		return fmt.Errorf("failed to encode JSON report: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Debug("Wrote JSON report.", zap.Int("runs", len(r.reports)))
	return nil
}

// FixReportName is the file name used for a run started at t.
func FixReportName(t time.Time) string {
	return fmt.Sprintf("fix-report-%s.json", t.UTC().Format("20060102T150405.000Z"))
}

// WriteFixReport saves report under dir as fix-report-<timestamp>.json and
// returns the path. dir is created when missing.
func WriteFixReport(dir string, report *autofix.FixImplementationReport) (string, error) {
	path := filepath.Join(dir, FixReportName(report.StartedAt))
	if err := writeJSONFile(path, report); err != nil {
		return "", err
	}
	return path, nil
}

// QAReport is the document handed to QA after a verification run.
type QAReport struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Passed      bool                    `json:"passed"`
	Summary     *testrunner.Summary     `json:"summary"`
	Failures    []testrunner.TestResult `json:"failures"`
}

// WriteQAReport saves the outcome of a test run to path.
func WriteQAReport(path string, summary *testrunner.Summary) error {
	failures := summary.Failures()
	if failures == nil {
		failures = []testrunner.TestResult{}
	}
	return writeJSONFile(path, QAReport{
		GeneratedAt: time.Now().UTC(),
		Passed:      summary.AllPassed(),
		Summary:     summary,
		Failures:    failures,
	})
}

func writeJSONFile(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := reportJSON.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
