// internal/testrunner/junit.go
package testrunner

import (
	"fmt"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/joshdk/go-junit"
)

// ParseJUnitReport converts JUnit XML. Failures whose message mentions a
// timeout are reported as timed out.
func ParseJUnitReport(data []byte) (*Summary, error) {
	suites, err := junit.Ingest(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode junit report: %w", err)
	}

	var results []TestResult
	for _, suite := range suites {
		results = collectJUnitSuite(suite, results)
	}
	return NewSummary(results, 0), nil
}

func collectJUnitSuite(suite junit.Suite, out []TestResult) []TestResult {
	for _, test := range suite.Tests {
		tr := TestResult{
			Title:     test.Name,
			FullTitle: test.Name,
			File:      test.Classname,
			Duration:  test.Duration,
		}
		if tr.File == "" {
			tr.File = suite.Name
		}

		switch test.Status {
		case junit.StatusPassed:
			tr.Status = StatusPassed
		case junit.StatusSkipped:
			tr.Status = StatusSkipped
		default:
			tr.Status = StatusFailed
			tr.Error = stripansi.Strip(strings.TrimSpace(test.Message))
			if test.Error != nil {
				if tr.Error == "" {
					tr.Error = stripansi.Strip(strings.TrimSpace(test.Error.Error()))
				}
				tr.Stack = stripansi.Strip(strings.TrimSpace(junitBody(test.Error)))
			}
			if isTimeoutMessage(tr.Error) {
				tr.Status = StatusTimedOut
			}
		}
		out = append(out, tr)
	}
	for _, child := range suite.Suites {
		out = collectJUnitSuite(child, out)
	}
	return out
}

func junitBody(err error) string {
	switch e := err.(type) {
	case junit.Error:
		return e.Body
	case *junit.Error:
		return e.Body
	}
	return ""
}

func isTimeoutMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "timeout of") || strings.Contains(m, "timed out")
}
