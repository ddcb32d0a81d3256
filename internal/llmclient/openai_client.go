// internal/llmclient/openai_client.go
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

const defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIClient talks to the OpenAI Chat Completions API.
type OpenAIClient struct {
	apiKey   string
	endpoint string
	model    config.LLMModel
	poster   *jsonPoster
	logger   *zap.Logger
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Temperature    float64               `json:"temperature"`
	TopP           float64               `json:"top_p,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient initializes the client.
func NewOpenAIClient(m config.LLMModel, maxRetryElapsed time.Duration, logger *zap.Logger) (*OpenAIClient, error) {
	if m.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if m.Model == "" {
		return nil, fmt.Errorf("openai model name is required")
	}
	endpoint := m.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	log := logger.Named("llm_client.openai")
	return &OpenAIClient{
		apiKey:   m.APIKey,
		endpoint: endpoint,
		model:    m,
		logger:   log,
		poster: &jsonPoster{
			provider:   "openai",
			httpClient: &http.Client{Timeout: m.APITimeout},
			logger:     log,
			maxElapsed: maxRetryElapsed,
		},
	}, nil
}

// Generate sends the prompts to the Chat Completions API.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	messages := make([]openAIMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.UserPrompt})

	payload := openAIRequest{
		Model:       c.model.Model,
		Messages:    messages,
		Temperature: pickTemperature(req.Options.Temperature, c.model.Temperature),
		TopP:        req.Options.TopP,
		MaxTokens:   firstPositive(req.Options.MaxTokens, c.model.MaxTokens),
	}
	if req.Options.ForceJSONFormat {
		payload.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	start := time.Now()
	raw, err := c.poster.post(ctx, c.endpoint, map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, body)
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("failed to decode response payload: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w (no choices)", ErrEmptyCompletion)
	}

	choice := resp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w (finish_reason: %s)", ErrEmptyCompletion, choice.FinishReason)
	}

	c.logger.Info("LLM generation complete (OpenAI)",
		zap.String("model", c.model.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return text, nil
}

// Close is a no-op; the HTTP client holds no dedicated resources.
func (c *OpenAIClient) Close() error { return nil }
