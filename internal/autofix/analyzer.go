// internal/autofix/analyzer.go
package autofix

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/api/schemas"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/codebase"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/deploy"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/llmutil"
)

const (
	maxPromptFiles     = 5
	maxPromptFileBytes = 24 * 1024
)

// SourceReader reads project files by path relative to the project root.
type SourceReader interface {
	ReadFile(path string) (string, error)
}

// Analyzer asks the LLM to classify, diagnose and fix an issue. Every answer is
// decoded strictly and validated; anything else is reported as
// llmutil.ErrSchema.
type Analyzer struct {
	logger       *zap.Logger
	llmClient    schemas.LLMClient
	source       SourceReader
	contextLines int
}

// NewAnalyzer initializes the AI collaborator.
func NewAnalyzer(logger *zap.Logger, llmClient schemas.LLMClient, source SourceReader, contextLines int) *Analyzer {
	if contextLines <= 0 {
		contextLines = 10
	}
	return &Analyzer{
		logger:       logger.Named("autofix-analyzer"),
		llmClient:    llmClient,
		source:       source,
		contextLines: contextLines,
	}
}

// Classify decides the fix level and whether the issue is fixable at all.
func (a *Analyzer) Classify(ctx context.Context, issue DetectedIssue) (*IssueClassification, error) {
	a.logger.Debug("Classifying issue.", zap.String("issue_id", issue.ID), zap.String("test", issue.TestName))
	response, err := a.generate(ctx, classifySystemPrompt, buildClassifyPrompt(issue), schemas.TierFast)
	if err != nil {
		return nil, err
	}
	cls, err := llmutil.DecodeValidated[IssueClassification](response)
	if err != nil {
		a.logger.Error("Classification response rejected.", zap.Error(err), zap.String("raw_response", response))
		return nil, fmt.Errorf("classify %s: %w", issue.ID, err)
	}
	// Validate accepted the name, so the error is impossible here.
	cls.Environment, _ = deploy.ParseEnvironment(string(cls.Environment))
	return cls, nil
}

// AnalyzeRootCause explains the failure using the code around the failing
// frame and the other affected files.
func (a *Analyzer) AnalyzeRootCause(ctx context.Context, issue DetectedIssue, cls *IssueClassification) (*RootCauseAnalysis, error) {
	sources, order := a.collectSources(issue.AffectedFiles, func(file, content string) string {
		if file == issue.SourceFile && issue.SourceLine > 0 {
			return codebase.ContextWindow(content, issue.SourceLine, a.contextLines)
		}
		return content
	})
	response, err := a.generate(ctx, rootCauseSystemPrompt, buildRootCausePrompt(issue, cls, sources, order), schemas.TierPowerful)
	if err != nil {
		return nil, err
	}
	rca, err := llmutil.DecodeValidated[RootCauseAnalysis](response)
	if err != nil {
		a.logger.Error("Root cause response rejected.", zap.Error(err), zap.String("raw_response", response))
		return nil, fmt.Errorf("root cause %s: %w", issue.ID, err)
	}
	return rca, nil
}

// GenerateFix proposes line-range edits. Every edited file must exist.
func (a *Analyzer) GenerateFix(ctx context.Context, issue DetectedIssue, rca *RootCauseAnalysis) (*GeneratedFix, error) {
	files := append(slices.Clone(rca.AffectedFiles), issue.AffectedFiles...)
	sources, order := a.collectSources(files, func(_, content string) string { return content })

	response, err := a.generate(ctx, fixSystemPrompt, buildFixPrompt(issue, rca, sources, order), schemas.TierPowerful)
	if err != nil {
		return nil, err
	}
	fix, err := llmutil.DecodeValidated[GeneratedFix](response)
	if err != nil {
		a.logger.Error("Fix response rejected.", zap.Error(err), zap.String("raw_response", response))
		return nil, fmt.Errorf("generate fix %s: %w", issue.ID, err)
	}
	for _, file := range fix.Files() {
		if _, err := a.source.ReadFile(file); err != nil {
			return nil, fmt.Errorf("generate fix %s: %w: change targets unreadable file %s: %v", issue.ID, llmutil.ErrSchema, file, err)
		}
	}
	a.logger.Info("Fix generated.", zap.String("issue_id", issue.ID), zap.Int("changes", len(fix.Changes)), zap.Float64("confidence", fix.Confidence))
	return fix, nil
}

func (a *Analyzer) generate(ctx context.Context, system, prompt string, tier schemas.ModelTier) (string, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: system,
		UserPrompt:   prompt,
		Tier:         tier,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     0.1,
		},
	}
	response, err := a.llmClient.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("LLM generation failed: %w", err)
	}
	return response, nil
}

// collectSources reads up to maxPromptFiles distinct files. Unreadable files
// are skipped.
func (a *Analyzer) collectSources(files []string, render func(file, content string) string) (map[string]string, []string) {
	sources := make(map[string]string)
	var order []string
	for _, file := range files {
		if len(order) >= maxPromptFiles {
			break
		}
		if _, ok := sources[file]; ok {
			continue
		}
		content, err := a.source.ReadFile(file)
		if err != nil {
			a.logger.Debug("Skipping unreadable source file.", zap.String("file", file), zap.Error(err))
			continue
		}
		if len(content) > maxPromptFileBytes {
			content = content[:maxPromptFileBytes]
		}
		sources[file] = render(file, content)
		order = append(order, file)
	}
	return sources, order
}
