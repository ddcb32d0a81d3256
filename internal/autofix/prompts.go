// internal/autofix/prompts.go
package autofix

import (
	"fmt"
	"strings"
)

const classifySystemPrompt = `You are a senior QA engineer triaging failing end-to-end and unit tests of a TypeScript meal planning web application (React client, Express server, PostgreSQL). Decide whether a failure can be fixed automatically and how risky the fix is. Respond with a single JSON object and nothing else.`

const rootCauseSystemPrompt = `You are an expert TypeScript developer. Given a failing test, its error, its stack trace and the relevant source code, identify the precise root cause of the failure. Respond with a single JSON object and nothing else.`

const fixSystemPrompt = `You are an expert TypeScript developer. Produce the smallest correct change that makes the failing test pass without weakening the test. Edits are line-range replacements of existing files. Respond with a single JSON object and nothing else.`

func buildClassifyPrompt(issue DetectedIssue) string {
	return fmt.Sprintf(`
Classify the following test failure.

**Test:** %s
**File:** %s
**Type:** %s
**Heuristic severity:** %s

**Error:**
%s

**Stack trace:**
%s

**Levels:**
1 = trivial, isolated change (selector, copy text, timing); safe to deploy automatically.
2 = small logic fix in one module; safe to deploy after tests pass.
3 = touches data handling, auth or several modules; a human must approve.
4 = architectural, security-sensitive or unclear; must never be changed automatically.

**Response Format (Strict JSON, no other keys):**
{
  "level": 1,
  "fixable": true,
  "category": "selector | assertion | logic | data | network | config | test",
  "confidence": 0.85,
  "environment": "development | staging | production",
  "reasoning": "One paragraph."
}
`, issue.TestName, issue.TestFile, issue.Type, issue.Severity,
		truncate(issue.ErrorMessage, 4000), truncate(issue.StackTrace, 4000))
}

func buildRootCausePrompt(issue DetectedIssue, cls *IssueClassification, sources map[string]string, order []string) string {
	return fmt.Sprintf(`
Find the root cause of this failing test.

**Test:** %s (%s)
**Category:** %s (level %d)
**Triage reasoning:** %s

**Error:**
%s

**Stack trace:**
%s

**Relevant source:**
%s

**Response Format (Strict JSON, no other keys):**
{
  "root_cause": "A concise statement of the defect.",
  "explanation": "Markdown explanation linking the error to the code.",
  "affected_files": ["relative/path/from/project/root.ts"],
  "evidence": ["Specific lines or observations."],
  "confidence": 0.8
}
`, issue.TestName, issue.TestFile, cls.Category, cls.Level, cls.Reasoning,
		truncate(issue.ErrorMessage, 4000), truncate(issue.StackTrace, 4000),
		formatSources(sources, order))
}

func buildFixPrompt(issue DetectedIssue, rca *RootCauseAnalysis, sources map[string]string, order []string) string {
	return fmt.Sprintf(`
Write a fix for this failing test.

**Test:** %s (%s)
**Error:**
%s

**Root cause:** %s
%s

**Source files (each line is prefixed with its 1-indexed number and a tab; do not copy the prefix):**
%s

**Rules:**
1. Each change replaces lines start_line..end_line (inclusive) of one file.
2. old_code must be the exact current text of those lines.
3. Changes to the same file must not overlap.
4. Paths are relative to the project root.
5. Do not edit the test unless the test itself is wrong.
6. An empty new_code deletes the lines.

**Response Format (Strict JSON, no other keys):**
{
  "summary": "One sentence.",
  "changes": [
    {"file": "server/routes/mealPlans.ts", "start_line": 40, "end_line": 42, "old_code": "...", "new_code": "..."}
  ],
  "test_cases": ["Behaviour the change must satisfy."],
  "risks": ["What could break."],
  "rollback_plan": "How to revert.",
  "confidence": 0.8
}
`, issue.TestName, issue.TestFile, truncate(issue.ErrorMessage, 4000),
		rca.RootCause, rca.Explanation, formatNumberedSources(sources, order))
}

func formatSources(sources map[string]string, order []string) string {
	if len(order) == 0 {
		return "(no source available)"
	}
	var b strings.Builder
	for _, file := range order {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", file, sources[file])
	}
	return b.String()
}

func formatNumberedSources(sources map[string]string, order []string) string {
	if len(order) == 0 {
		return "(no source available)"
	}
	var b strings.Builder
	for _, file := range order {
		fmt.Fprintf(&b, "--- %s ---\n", file)
		for i, line := range strings.Split(strings.TrimSuffix(sources[file], "\n"), "\n") {
			fmt.Fprintf(&b, "%d\t%s\n", i+1, line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
