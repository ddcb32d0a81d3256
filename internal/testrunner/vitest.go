// internal/testrunner/vitest.go
package testrunner

import (
	"fmt"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	json "github.com/json-iterator/go"
)

// Jest-compatible JSON emitted by `vitest --reporter=json` and `jest --json`.
type vitestReport struct {
	StartTime   float64            `json:"startTime"`
	TestResults []vitestFileResult `json:"testResults"`
}

type vitestFileResult struct {
	Name             string            `json:"name"`
	Message          string            `json:"message"`
	StartTime        float64           `json:"startTime"`
	EndTime          float64           `json:"endTime"`
	AssertionResults []vitestAssertion `json:"assertionResults"`
}

type vitestAssertion struct {
	AncestorTitles  []string `json:"ancestorTitles"`
	FullName        string   `json:"fullName"`
	Title           string   `json:"title"`
	Status          string   `json:"status"`
	Duration        *float64 `json:"duration"`
	FailureMessages []string `json:"failureMessages"`
	Location        *struct {
		Line int `json:"line"`
	} `json:"location"`
}

// ParseVitestReport converts Vitest or Jest JSON output.
func ParseVitestReport(data []byte) (*Summary, error) {
	var report vitestReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode vitest report: %w", err)
	}

	var results []TestResult
	var total time.Duration
	for _, file := range report.TestResults {
		if file.EndTime > file.StartTime {
			total += msToDuration(file.EndTime - file.StartTime)
		}
		for _, a := range file.AssertionResults {
			tr := TestResult{
				Title:     a.Title,
				FullTitle: a.FullName,
				File:      file.Name,
				Status:    NormalizeStatus(a.Status),
			}
			if tr.FullTitle == "" {
				tr.FullTitle = strings.Join(append(append([]string{}, a.AncestorTitles...), a.Title), " > ")
			}
			if a.Duration != nil {
				tr.Duration = msToDuration(*a.Duration)
			}
			if a.Location != nil {
				tr.Line = a.Location.Line
			}
			if len(a.FailureMessages) > 0 {
				msg := stripansi.Strip(a.FailureMessages[0])
				tr.Error, tr.Stack = splitMessageAndStack(msg)
			}
			results = append(results, tr)
		}
		// A file that failed to load has no assertions but still failed.
		if len(file.AssertionResults) == 0 && file.Message != "" {
			msg := stripansi.Strip(file.Message)
			tr := TestResult{Title: file.Name, FullTitle: file.Name, File: file.Name, Status: StatusFailed}
			tr.Error, tr.Stack = splitMessageAndStack(msg)
			results = append(results, tr)
		}
	}
	return NewSummary(results, total), nil
}

// splitMessageAndStack separates the first line of a failure message from the
// "    at ..." frames that follow it.
func splitMessageAndStack(msg string) (string, string) {
	idx := strings.Index(msg, "\n    at ")
	if idx < 0 {
		return strings.TrimSpace(msg), ""
	}
	return strings.TrimSpace(msg[:idx]), strings.TrimSpace(msg[idx+1:])
}
