// internal/testrunner/playwright.go
package testrunner

import (
	"fmt"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	json "github.com/json-iterator/go"
)

// Playwright's JSON reporter layout, limited to the fields we read.
type pwReport struct {
	Suites []pwSuite `json:"suites"`
	Errors []pwError `json:"errors"`
	Stats  struct {
		Duration float64 `json:"duration"`
	} `json:"stats"`
}

type pwSuite struct {
	Title  string    `json:"title"`
	File   string    `json:"file"`
	Line   int       `json:"line"`
	Specs  []pwSpec  `json:"specs"`
	Suites []pwSuite `json:"suites"`
}

type pwSpec struct {
	Title string   `json:"title"`
	File  string   `json:"file"`
	Line  int      `json:"line"`
	Tests []pwTest `json:"tests"`
}

type pwTest struct {
	ProjectName string     `json:"projectName"`
	Status      string     `json:"status"`
	Results     []pwResult `json:"results"`
}

type pwResult struct {
	Status      string         `json:"status"`
	Duration    float64        `json:"duration"`
	Retry       int            `json:"retry"`
	Error       *pwError       `json:"error"`
	Errors      []pwError      `json:"errors"`
	Attachments []pwAttachment `json:"attachments"`
}

type pwError struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

type pwAttachment struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	ContentType string `json:"contentType"`
}

// ParsePlaywrightReport converts Playwright's JSON reporter output. Describe
// blocks become part of FullTitle, joined with " > ".
func ParsePlaywrightReport(data []byte) (*Summary, error) {
	var report pwReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode playwright report: %w", err)
	}

	var results []TestResult
	for _, suite := range report.Suites {
		results = walkPlaywrightSuite(suite, nil, suite.File, results)
	}
	return NewSummary(results, msToDuration(report.Stats.Duration)), nil
}

func walkPlaywrightSuite(suite pwSuite, parents []string, file string, out []TestResult) []TestResult {
	if suite.File != "" {
		file = suite.File
	}
	// The top-level suite is the spec file itself; its title is the path.
	titles := parents
	if suite.Title != "" && suite.Title != file {
		titles = append(append([]string{}, parents...), suite.Title)
	}

	for _, spec := range suite.Specs {
		specFile := spec.File
		if specFile == "" {
			specFile = file
		}
		full := strings.Join(append(append([]string{}, titles...), spec.Title), " > ")
		for _, test := range spec.Tests {
			out = append(out, convertPlaywrightTest(spec, test, specFile, full))
		}
	}
	for _, child := range suite.Suites {
		out = walkPlaywrightSuite(child, titles, file, out)
	}
	return out
}

func convertPlaywrightTest(spec pwSpec, test pwTest, file, fullTitle string) TestResult {
	tr := TestResult{
		Title:     spec.Title,
		FullTitle: fullTitle,
		File:      file,
		Line:      spec.Line,
		Project:   test.ProjectName,
		Status:    NormalizeStatus(test.Status),
	}
	if test.Status == "" {
		tr.Status = StatusSkipped
	}
	if len(test.Results) == 0 {
		return tr
	}

	last := test.Results[len(test.Results)-1]
	tr.Retries = last.Retry
	if NormalizeStatus(last.Status) == StatusTimedOut && tr.Status != StatusPassed {
		tr.Status = StatusTimedOut
	}
	for _, r := range test.Results {
		tr.Duration += msToDuration(r.Duration)
	}

	switch {
	case last.Error != nil:
		tr.Error = stripansi.Strip(last.Error.Message)
		tr.Stack = stripansi.Strip(last.Error.Stack)
	case len(last.Errors) > 0:
		tr.Error = stripansi.Strip(last.Errors[0].Message)
		tr.Stack = stripansi.Strip(last.Errors[0].Stack)
	}
	for _, a := range last.Attachments {
		tr.Attachments = append(tr.Attachments, Attachment{Name: a.Name, Path: a.Path, ContentType: a.ContentType})
	}
	return tr
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
