// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/drmweyers/FitnessMealPlanner-sub005/api/schemas"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
)

// geminiModels is the part of the genai SDK the client depends on.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.LLMClient on top of the genai SDK.
type GeminiClient struct {
	models     geminiModels
	model      config.LLMModel
	maxElapsed time.Duration
	logger     *zap.Logger
}

// NewGeminiClient initializes the SDK client.
func NewGeminiClient(ctx context.Context, m config.LLMModel, maxRetryElapsed time.Duration, logger *zap.Logger) (*GeminiClient, error) {
	if m.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if m.Model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}

	cc := &genai.ClientConfig{
		APIKey:     m.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: m.APITimeout},
	}
	if m.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: m.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		models:     client.Models,
		model:      m,
		maxElapsed: maxRetryElapsed,
		logger:     logger.Named("llm_client.gemini"),
	}, nil
}

// Generate sends the prompts to Gemini with retries on transient errors.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	genCfg := c.buildConfig(req)
	contents := genai.Text(req.UserPrompt)

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := c.models.GenerateContent(ctx, c.model.Model, contents, genCfg)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if geminiRetryable(err) {
				c.logger.Warn("Transient Gemini error, retrying", zap.Error(err))
				return err
			}
			return backoff.Permanent(fmt.Errorf("gemini request failed: %w", err))
		}

		if len(resp.Candidates) > 0 {
			switch resp.Candidates[0].FinishReason {
			case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", resp.Candidates[0].FinishReason))
			}
		}

		out := strings.TrimSpace(resp.Text())
		if out == "" {
			return backoff.Permanent(ErrEmptyCompletion)
		}

		fields := []zap.Field{zap.String("model", c.model.Model), zap.Duration("duration", time.Since(start))}
		if resp.UsageMetadata != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
				zap.Int32("completion_tokens", resp.UsageMetadata.CandidatesTokenCount),
				zap.Int32("total_tokens", resp.UsageMetadata.TotalTokenCount),
			)
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)
		text = out
		return nil
	}

	b := newBackOff(c.maxElapsed, 0)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(pickTemperature(req.Options.Temperature, c.model.Temperature))),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSONFormat {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.Options.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(req.Options.TopP))
	}
	if req.Options.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(req.Options.TopK))
	}
	if n := firstPositive(req.Options.MaxTokens, c.model.MaxTokens); n > 0 {
		cfg.MaxOutputTokens = int32(n)
	}
	return cfg
}

// Close is a no-op; the genai client has no Close method.
func (c *GeminiClient) Close() error { return nil }

func geminiRetryable(err error) bool {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		// Transport level failures are worth retrying.
		return true
	}
	return (&APIError{StatusCode: code}).Retryable()
}
