// internal/testrunner/types.go
package testrunner

import (
	"strings"
	"time"
)

// Status is the normalized outcome of a single test.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
	StatusTimedOut Status = "timedOut"
)

// NormalizeStatus maps the vocabularies of Playwright, Vitest, Jest and JUnit
// onto the four states. Unknown values count as failures.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "passed", "expected", "ok", "pass", "flaky":
		return StatusPassed
	case "skipped", "pending", "todo", "disabled", "skip":
		return StatusSkipped
	case "timedout", "timed_out", "timeout":
		return StatusTimedOut
	default:
		return StatusFailed
	}
}

// Format names a report layout.
type Format string

const (
	FormatAuto       Format = "auto"
	FormatPlaywright Format = "playwright"
	FormatVitest     Format = "vitest"
	FormatJUnit      Format = "junit"
)

// Attachment references an artifact captured for a test, such as a
// screenshot, video or trace.
type Attachment struct {
	Name        string `json:"name"`
	Path        string `json:"path,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// TestResult is one test from a report.
type TestResult struct {
	Title       string        `json:"title"`
	FullTitle   string        `json:"full_title"`
	File        string        `json:"file"`
	Line        int           `json:"line,omitempty"`
	Project     string        `json:"project,omitempty"`
	Status      Status        `json:"status"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	Stack       string        `json:"stack,omitempty"`
	Retries     int           `json:"retries,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
}

// Failed reports whether the test needs attention.
func (r TestResult) Failed() bool {
	return r.Status == StatusFailed || r.Status == StatusTimedOut
}

// Summary aggregates a run.
type Summary struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	TimedOut int           `json:"timed_out"`
	Duration time.Duration `json:"duration"`
	Results  []TestResult  `json:"results"`
}

// NewSummary counts results. A zero duration is replaced by the sum of the
// individual test durations.
func NewSummary(results []TestResult, duration time.Duration) *Summary {
	s := &Summary{Results: results, Duration: duration}
	if s.Results == nil {
		s.Results = []TestResult{}
	}
	var sum time.Duration
	for _, r := range results {
		s.Total++
		sum += r.Duration
		switch r.Status {
		case StatusPassed:
			s.Passed++
		case StatusSkipped:
			s.Skipped++
		case StatusTimedOut:
			s.TimedOut++
		default:
			s.Failed++
		}
	}
	if s.Duration == 0 {
		s.Duration = sum
	}
	return s
}

// AllPassed reports whether nothing failed or timed out. An empty run passes
// only when it actually ran something.
func (s *Summary) AllPassed() bool {
	return s.Total > 0 && s.Failed == 0 && s.TimedOut == 0
}

// Failures returns the failed and timed out tests in report order.
func (s *Summary) Failures() []TestResult {
	var out []TestResult
	for _, r := range s.Results {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}
