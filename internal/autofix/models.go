// internal/autofix/models.go
package autofix

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/deploy"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/testrunner"
)

// IssueType is a coarse tag derived from the failure text.
type IssueType string

const (
	IssueTimeout   IssueType = "timeout"
	IssueAssertion IssueType = "assertion"
	IssueNetwork   IssueType = "network"
	IssueSelector  IssueType = "selector"
	IssueRuntime   IssueType = "runtime"
	IssueUnknown   IssueType = "unknown"
)

// Severity ranks how much a failure matters to users.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities, critical first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// DetectedIssue is one failing test occurrence, or one crash seen in the
// server log.
type DetectedIssue struct {
	ID            string    `json:"id"`
	Type          IssueType `json:"type"`
	Severity      Severity  `json:"severity"`
	TestName      string    `json:"test_name"`
	TestFile      string    `json:"test_file,omitempty"`
	TestLine      int       `json:"test_line,omitempty"`
	Project       string    `json:"project,omitempty"`
	ErrorMessage  string    `json:"error_message"`
	StackTrace    string    `json:"stack_trace,omitempty"`
	SourceFile    string    `json:"source_file,omitempty"`
	SourceLine    int       `json:"source_line,omitempty"`
	AffectedFiles []string  `json:"affected_files"`
	Timestamp     time.Time `json:"timestamp"`
	Screenshot    string    `json:"screenshot,omitempty"`
	Video         string    `json:"video,omitempty"`
	Trace         string    `json:"trace,omitempty"`
}

// Key identifies the failing test across runs.
func (i DetectedIssue) Key() string {
	if i.TestFile == "" {
		return i.TestName
	}
	return i.TestFile + "::" + i.TestName
}

// IssueClassification is the verdict on whether and how an issue may be fixed.
type IssueClassification struct {
	Level       int                `json:"level"`
	Fixable     *bool              `json:"fixable"`
	Category    string             `json:"category"`
	Confidence  float64            `json:"confidence"`
	Environment deploy.Environment `json:"environment"`
	Reasoning   string             `json:"reasoning"`
}

// Validate checks the record before any decision is taken on it.
func (c *IssueClassification) Validate() error {
	var errs []error
	if c.Level < 1 || c.Level > 4 {
		errs = append(errs, fmt.Errorf("level %d outside 1-4", c.Level))
	}
	if c.Fixable == nil {
		errs = append(errs, errors.New("fixable is required"))
	}
	if strings.TrimSpace(c.Category) == "" {
		errs = append(errs, errors.New("category is required"))
	}
	if err := checkConfidence(c.Confidence); err != nil {
		errs = append(errs, err)
	}
	if _, err := deploy.ParseEnvironment(string(c.Environment)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IsFixable reports whether the verdict explicitly allows a fix. A missing
// verdict counts as not fixable.
func (c *IssueClassification) IsFixable() bool {
	return c.Fixable != nil && *c.Fixable
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// RootCauseAnalysis explains why a test fails.
type RootCauseAnalysis struct {
	RootCause     string   `json:"root_cause"`
	Explanation   string   `json:"explanation"`
	AffectedFiles []string `json:"affected_files"`
	Evidence      []string `json:"evidence,omitempty"`
	Confidence    float64  `json:"confidence"`
}

// Validate implements llmutil.Validator.
func (r *RootCauseAnalysis) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RootCause) == "" {
		errs = append(errs, errors.New("root_cause is required"))
	}
	if err := checkConfidence(r.Confidence); err != nil {
		errs = append(errs, err)
	}
	for _, f := range r.AffectedFiles {
		if err := checkRelativePath(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileChange replaces StartLine..EndLine (1-indexed, inclusive) of File.
// OldCode is the text the model expects to find there.
type FileChange struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	OldCode   string `json:"old_code"`
	NewCode   string `json:"new_code"`
}

// GeneratedFix is a proposed patch.
type GeneratedFix struct {
	Summary      string       `json:"summary"`
	Changes      []FileChange `json:"changes"`
	TestCases    []string     `json:"test_cases,omitempty"`
	Risks        []string     `json:"risks,omitempty"`
	RollbackPlan string       `json:"rollback_plan"`
	Confidence   float64      `json:"confidence"`
}

// Validate rejects empty patches, bad ranges and overlapping edits.
func (g *GeneratedFix) Validate() error {
	var errs []error
	if len(g.Changes) == 0 {
		errs = append(errs, errors.New("changes must not be empty"))
	}
	if err := checkConfidence(g.Confidence); err != nil {
		errs = append(errs, err)
	}
	for i, c := range g.Changes {
		if err := checkRelativePath(c.File); err != nil {
			errs = append(errs, fmt.Errorf("changes[%d]: %w", i, err))
		}
		if c.StartLine < 1 || c.EndLine < c.StartLine {
			errs = append(errs, fmt.Errorf("changes[%d]: invalid line range %d-%d", i, c.StartLine, c.EndLine))
		}
	}
	if len(errs) == 0 {
		errs = append(errs, checkOverlaps(g.Changes))
	}
	return errors.Join(errs...)
}

// Files returns the distinct files touched, in first-seen order.
func (g *GeneratedFix) Files() []string {
	seen := make(map[string]bool)
	var files []string
	for _, c := range g.Changes {
		if !seen[c.File] {
			seen[c.File] = true
			files = append(files, c.File)
		}
	}
	return files
}

func checkOverlaps(changes []FileChange) error {
	byFile := make(map[string][]FileChange)
	for _, c := range changes {
		byFile[c.File] = append(byFile[c.File], c)
	}
	for file, cs := range byFile {
		sort.Slice(cs, func(a, b int) bool { return cs[a].StartLine < cs[b].StartLine })
		for i := 1; i < len(cs); i++ {
			if cs[i].StartLine <= cs[i-1].EndLine {
				return fmt.Errorf("%s: overlapping changes at lines %d and %d", file, cs[i-1].StartLine, cs[i].StartLine)
			}
		}
	}
	return nil
}

func checkConfidence(c float64) error {
	if c < 0 || c > 1 {
		return fmt.Errorf("confidence %v outside 0-1", c)
	}
	return nil
}

func checkRelativePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.New("file path is required")
	}
	slashed := strings.ReplaceAll(p, "\\", "/")
	if path.IsAbs(slashed) || strings.Contains(slashed, ":") {
		return fmt.Errorf("file path %q must be relative to the project root", p)
	}
	clean := path.Clean(slashed)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("file path %q escapes the project root", p)
	}
	return nil
}

// ImplementationResult records the edit and commit of a fix.
type ImplementationResult struct {
	Branch       string            `json:"branch"`
	BaseBranch   string            `json:"base_branch"`
	CommitSHA    string            `json:"commit_sha,omitempty"`
	FilesChanged []string          `json:"files_changed"`
	Backups      map[string]string `json:"backups,omitempty"`
	ToolWarnings []string          `json:"tool_warnings,omitempty"`
	Success      bool              `json:"success"`
	Error        string            `json:"error,omitempty"`
	Duration     time.Duration     `json:"duration"`
}

// VerificationResult records the re-run of the failing test and the suite.
type VerificationResult struct {
	Passed       bool          `json:"passed"`
	TargetPassed bool          `json:"target_passed"`
	SuiteRan     bool          `json:"suite_ran"`
	Regressions  []string      `json:"regressions,omitempty"`
	Total        int           `json:"total"`
	Failed       int           `json:"failed"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// FixStatus is the terminal state of one issue's pipeline.
type FixStatus string

const (
	// FixDeployed: verified and merged into the environment branch.
	FixDeployed FixStatus = "deployed"
	// FixVerified: verified and committed, waiting for a manual deploy.
	FixVerified FixStatus = "verified"
	// FixPartial: merged, but the container image was not published.
	FixPartial FixStatus = "partial"
	// FixNeedsReview: stopped for a human, including every schema failure.
	FixNeedsReview FixStatus = "needs_review"
	FixUnfixable   FixStatus = "unfixable"
	FixPlanned     FixStatus = "planned"
	FixSkipped     FixStatus = "skipped"
	FixRolledBack  FixStatus = "rolled_back"
	FixFailed      FixStatus = "failed"
)

// Succeeded reports whether the fix landed on a branch and passed verification.
func (s FixStatus) Succeeded() bool {
	return s == FixDeployed || s == FixVerified || s == FixPartial
}

// FixResult is the record of one issue processed in a run.
type FixResult struct {
	Issue          DetectedIssue         `json:"issue"`
	Status         FixStatus             `json:"status"`
	Classification *IssueClassification  `json:"classification,omitempty"`
	RootCause      *RootCauseAnalysis    `json:"root_cause,omitempty"`
	Fix            *GeneratedFix         `json:"fix,omitempty"`
	Implementation *ImplementationResult `json:"implementation,omitempty"`
	Verification   *VerificationResult   `json:"verification,omitempty"`
	Deployment     *deploy.Result        `json:"deployment,omitempty"`
	PullRequest    *deploy.PRResult      `json:"pull_request,omitempty"`
	Error          string                `json:"error,omitempty"`
	StartedAt      time.Time             `json:"started_at"`
	Duration       time.Duration         `json:"duration"`
}

// FixImplementationReport summarizes a run.
type FixImplementationReport struct {
	RunID       string             `json:"run_id"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	Duration    time.Duration      `json:"duration"`
	DryRun      bool               `json:"dry_run"`
	Tests       testrunner.Summary `json:"tests"`
	TotalIssues int                `json:"total_issues"`
	Attempted   int                `json:"attempted"`
	Succeeded   int                `json:"succeeded"`
	Deployed    int                `json:"deployed"`
	NeedsReview int                `json:"needs_review"`
	RolledBack  int                `json:"rolled_back"`
	Failed      int                `json:"failed"`
	Skipped     int                `json:"skipped"`
	Results     []FixResult        `json:"results"`
}

// Tally recomputes the counters from Results.
func (r *FixImplementationReport) Tally() {
	r.Attempted, r.Succeeded, r.Deployed, r.NeedsReview, r.RolledBack, r.Failed, r.Skipped = len(r.Results), 0, 0, 0, 0, 0, 0
	for _, res := range r.Results {
		if res.Status.Succeeded() {
			r.Succeeded++
		}
		switch res.Status {
		case FixDeployed, FixPartial:
			r.Deployed++
		case FixNeedsReview:
			r.NeedsReview++
		case FixRolledBack:
			r.RolledBack++
		case FixFailed:
			r.Failed++
		case FixSkipped, FixPlanned, FixUnfixable:
			r.Skipped++
		}
	}
}

// ExitCode is 1 when issues were found and none of them was fixed, or when
// the suite produced no test results at all.
func (r *FixImplementationReport) ExitCode() int {
	if r.TotalIssues == 0 && r.Tests.Total == 0 {
		return 1
	}
	if r.TotalIssues > 0 && r.Succeeded == 0 && !r.DryRun {
		return 1
	}
	return 0
}
