// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/api/schemas"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
)

// NewClient builds the LLM client for the configured provider: one client per
// tier behind an LLMRouter, wrapped in a shared rate limiter.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	provider, err := cfg.ResolveProvider()
	if err != nil {
		return nil, err
	}
	pc, _ := cfg.ProviderConfig(provider)

	fast, err := newProviderClient(ctx, cfg, provider, modelFor(cfg, provider, pc, pc.FastModel), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier client: %w", err)
	}
	powerful, err := newProviderClient(ctx, cfg, provider, modelFor(cfg, provider, pc, pc.PowerfulModel), logger)
	if err != nil {
		_ = fast.Close()
		return nil, fmt.Errorf("failed to create powerful tier client: %w", err)
	}

	router, err := NewLLMRouter(logger, fast, powerful)
	if err != nil {
		return nil, err
	}

	logger.Info("LLM client initialized",
		zap.String("provider", string(provider)),
		zap.String("fast_model", pc.FastModel),
		zap.String("powerful_model", pc.PowerfulModel),
	)
	return NewRateLimitedClient(router, cfg.RequestsPerMinute), nil
}

func modelFor(cfg config.LLMConfig, provider config.LLMProvider, pc config.LLMProviderConfig, name string) config.LLMModel {
	return config.LLMModel{
		Provider:    provider,
		Model:       name,
		APIKey:      pc.APIKey,
		Endpoint:    pc.Endpoint,
		APITimeout:  cfg.APITimeout,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
}

func newProviderClient(ctx context.Context, cfg config.LLMConfig, provider config.LLMProvider, m config.LLMModel, logger *zap.Logger) (schemas.LLMClient, error) {
	switch provider {
	case config.ProviderAnthropic:
		return NewAnthropicClient(m, cfg.MaxRetryElapsed, logger)
	case config.ProviderOpenAI:
		return NewOpenAIClient(m, cfg.MaxRetryElapsed, logger)
	case config.ProviderGemini:
		return NewGeminiClient(ctx, m, cfg.MaxRetryElapsed, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'", provider)
	}
}
