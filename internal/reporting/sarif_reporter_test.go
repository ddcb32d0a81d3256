// internal/reporting/sarif_reporter_test.go
package reporting

import (
	"bytes"
	"errors"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/reporting/sarif"
)

type closingBuffer struct {
	bytes.Buffer
	closeErr error
}

func (b *closingBuffer) Close() error { return b.closeErr }

func issueResult(id string, typ autofix.IssueType, sev autofix.Severity, status autofix.FixStatus) autofix.FixResult {
	return autofix.FixResult{
		Issue: autofix.DetectedIssue{
			ID:           id,
			Type:         typ,
			Severity:     sev,
			TestName:     "suite > " + id,
			TestFile:     "test/e2e/" + id + ".spec.ts",
			TestLine:     5,
			ErrorMessage: "boom\nat line 2",
		},
		Status: status,
	}
}

func decodeLog(t *testing.T, buf *closingBuffer) sarif.Log {
	t.Helper()
	var log sarif.Log
	require.NoError(t, json.Unmarshal(buf.Bytes(), &log))
	return log
}

func TestSARIFReporter_RulesPerIssueType(t *testing.T) {
	buf := &closingBuffer{}
	r := NewSARIFReporter(buf, "1.2.3", zaptest.NewLogger(t))

	require.NoError(t, r.Write(&autofix.FixImplementationReport{
		RunID: "run-1",
		Results: []autofix.FixResult{
			issueResult("a", autofix.IssueTimeout, autofix.SeverityCritical, autofix.FixDeployed),
			issueResult("b", autofix.IssueTimeout, autofix.SeverityMedium, autofix.FixFailed),
			issueResult("c", autofix.IssueSelector, autofix.SeverityLow, autofix.FixSkipped),
		},
	}))
	require.NoError(t, r.Close())

	log := decodeLog(t, buf)
	assert.Equal(t, SARIFVersion, log.Version)
	require.Len(t, log.Runs, 1)
	run := log.Runs[0]
	assert.Equal(t, ToolName, run.Tool.Driver.Name)
	assert.Equal(t, "1.2.3", *run.Tool.Driver.Version)

	require.Len(t, run.Tool.Driver.Rules, 2)
	assert.Equal(t, "MEALFIX-TIMEOUT", run.Tool.Driver.Rules[0].ID)
	assert.Equal(t, "MEALFIX-SELECTOR", run.Tool.Driver.Rules[1].ID)

	require.Len(t, run.Results, 3)
	assert.Equal(t, "MEALFIX-TIMEOUT", run.Results[0].RuleID)
	assert.Equal(t, "MEALFIX-TIMEOUT", run.Results[1].RuleID)
	assert.Equal(t, sarif.LevelError, run.Results[0].Level)
	assert.Equal(t, sarif.LevelWarning, run.Results[1].Level)
	assert.Equal(t, sarif.LevelNote, run.Results[2].Level)
	assert.Equal(t, "suite > a: boom (deployed)", *run.Results[0].Message.Text)
	assert.Equal(t, "failed", (*run.Results[1].Properties)["status"])
}

func TestSARIFReporter_Locations(t *testing.T) {
	withSource := issueResult("a", autofix.IssueRuntime, autofix.SeverityHigh, autofix.FixFailed)
	withSource.Issue.SourceFile = "server/routes/auth.ts"
	withSource.Issue.SourceLine = 42
	withSource.Error = "verification failed"

	noLine := issueResult("b", autofix.IssueRuntime, autofix.SeverityHigh, autofix.FixFailed)
	noLine.Issue.TestLine = 0

	noFile := issueResult("c", autofix.IssueRuntime, autofix.SeverityHigh, autofix.FixFailed)
	noFile.Issue.TestFile = ""

	buf := &closingBuffer{}
	r := NewSARIFReporter(buf, "dev", zaptest.NewLogger(t))
	require.NoError(t, r.Write(&autofix.FixImplementationReport{Results: []autofix.FixResult{withSource, noLine, noFile}}))
	require.NoError(t, r.Close())

	results := decodeLog(t, buf).Runs[0].Results
	require.Len(t, results, 3)

	loc := results[0].Locations[0].PhysicalLocation
	assert.Equal(t, "server/routes/auth.ts", *loc.ArtifactLocation.URI)
	assert.Equal(t, 42, loc.Region.StartLine)
	assert.Equal(t, "suite > a: boom (failed: verification failed)", *results[0].Message.Text)

	loc = results[1].Locations[0].PhysicalLocation
	assert.Equal(t, "test/e2e/b.spec.ts", *loc.ArtifactLocation.URI)
	assert.Nil(t, loc.Region)

	assert.Empty(t, results[2].Locations)
}

func TestSARIFReporter_Invocations(t *testing.T) {
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	fixed := &autofix.FixImplementationReport{
		RunID:       "run-ok",
		StartedAt:   started,
		CompletedAt: started.Add(2 * time.Minute),
		TotalIssues: 1,
		Results:     []autofix.FixResult{issueResult("a", autofix.IssueTimeout, autofix.SeverityHigh, autofix.FixDeployed)},
	}
	fixed.Tally()
	unfixed := &autofix.FixImplementationReport{
		RunID:       "run-bad",
		TotalIssues: 1,
		Results:     []autofix.FixResult{issueResult("b", autofix.IssueTimeout, autofix.SeverityHigh, autofix.FixRolledBack)},
	}
	unfixed.Tally()

	buf := &closingBuffer{}
	r := NewSARIFReporter(buf, "dev", zaptest.NewLogger(t))
	require.NoError(t, r.Write(fixed))
	require.NoError(t, r.Write(unfixed))
	require.NoError(t, r.Close())

	run := decodeLog(t, buf).Runs[0]
	require.Len(t, run.Invocations, 2)

	first := run.Invocations[0]
	assert.True(t, first.ExecutionSuccessful)
	require.NotNil(t, first.StartTimeUTC)
	assert.True(t, first.StartTimeUTC.Equal(started))
	assert.Equal(t, "run-ok", (*first.Properties)["run_id"])
	assert.EqualValues(t, 1, (*first.Properties)["fixed"])

	second := run.Invocations[1]
	assert.False(t, second.ExecutionSuccessful)
	assert.Nil(t, second.StartTimeUTC)
	assert.Nil(t, second.EndTimeUTC)

	uri := run.Results[0].Locations[0].PhysicalLocation.ArtifactLocation
	assert.Equal(t, sarif.SrcRoot, *uri.URIBaseID)
}

func TestSARIFReporter_CloseErrors(t *testing.T) {
	buf := &closingBuffer{closeErr: errors.New("disk full")}
	r := NewSARIFReporter(buf, "dev", zaptest.NewLogger(t))
	err := r.Close()
	assert.ErrorContains(t, err, "failed to close output writer")
	assert.NotEmpty(t, buf.Bytes(), "the log is encoded before the writer is closed")
}

func TestSanitizeRuleName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"timeout", "TIMEOUT"},
		{"flaky network", "FLAKY-NETWORK"},
		{"--a//b..c--", "A-B..C"},
		{"???", "UNKNOWN"},
		{"", "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeRuleName(tt.in), tt.in)
	}
}

func TestMapSeverityToSARIFLevel(t *testing.T) {
	assert.Equal(t, sarif.LevelError, mapSeverityToSARIFLevel(autofix.SeverityCritical))
	assert.Equal(t, sarif.LevelError, mapSeverityToSARIFLevel(autofix.SeverityHigh))
	assert.Equal(t, sarif.LevelWarning, mapSeverityToSARIFLevel(autofix.SeverityMedium))
	assert.Equal(t, sarif.LevelNote, mapSeverityToSARIFLevel(autofix.SeverityLow))
	assert.Equal(t, sarif.LevelNote, mapSeverityToSARIFLevel(""))
}
