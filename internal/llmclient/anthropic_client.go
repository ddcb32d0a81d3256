// internal/llmclient/anthropic_client.go
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/api/schemas"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
)

const (
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion      = "2023-06-01"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	apiKey   string
	endpoint string
	model    config.LLMModel
	poster   *jsonPoster
	logger   *zap.Logger
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p,omitempty"`
	TopK        int                `json:"top_k,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewAnthropicClient initializes the client.
func NewAnthropicClient(m config.LLMModel, maxRetryElapsed time.Duration, logger *zap.Logger) (*AnthropicClient, error) {
	if m.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if m.Model == "" {
		return nil, fmt.Errorf("anthropic model name is required")
	}
	endpoint := m.Endpoint
	if endpoint == "" {
		endpoint = defaultAnthropicEndpoint
	}
	log := logger.Named("llm_client.anthropic")
	return &AnthropicClient{
		apiKey:   m.APIKey,
		endpoint: endpoint,
		model:    m,
		logger:   log,
		poster: &jsonPoster{
			provider:   "anthropic",
			httpClient: &http.Client{Timeout: m.APITimeout},
			logger:     log,
			maxElapsed: maxRetryElapsed,
		},
	}, nil
}

// Generate sends the prompts to the Messages API.
func (c *AnthropicClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	system := req.SystemPrompt
	if req.Options.ForceJSONFormat {
		// The Messages API has no JSON mode; the instruction goes in the system prompt.
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else.")
	}

	payload := anthropicRequest{
		Model:       c.model.Model,
		MaxTokens:   firstPositive(req.Options.MaxTokens, c.model.MaxTokens, 4096),
		System:      system,
		Messages:    []anthropicMessage{{Role: "user", Content: req.UserPrompt}},
		Temperature: pickTemperature(req.Options.Temperature, c.model.Temperature),
		TopP:        req.Options.TopP,
		TopK:        req.Options.TopK,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	start := time.Now()
	raw, err := c.poster.post(ctx, c.endpoint, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}, body)
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("failed to decode response payload: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w (stop_reason: %s)", ErrEmptyCompletion, resp.StopReason)
	}

	c.logger.Info("LLM generation complete (Anthropic)",
		zap.String("model", c.model.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", resp.Usage.InputTokens),
		zap.Int("completion_tokens", resp.Usage.OutputTokens),
	)
	return text, nil
}

// Close is a no-op; the HTTP client holds no dedicated resources.
func (c *AnthropicClient) Close() error { return nil }

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func pickTemperature(requested, configured float64) float64 {
	if requested > 0 {
		return requested
	}
	return configured
}
