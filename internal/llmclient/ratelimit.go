// internal/llmclient/ratelimit.go
package llmclient

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/drmweyers/FitnessMealPlanner-sub005/api/schemas"
)

// RateLimitedClient wraps a client with a token bucket so a single run cannot
// exceed the provider's request budget.
type RateLimitedClient struct {
	next    schemas.LLMClient
	limiter *rate.Limiter
}

// NewRateLimitedClient allows perMinute requests per minute with a burst of one.
// A non-positive perMinute disables limiting.
func NewRateLimitedClient(next schemas.LLMClient, perMinute int) *RateLimitedClient {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RateLimitedClient{next: next, limiter: rate.NewLimiter(limit, 1)}
}

// Generate waits for a token and then delegates.
func (c *RateLimitedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return c.next.Generate(ctx, req)
}

// Close closes the wrapped client.
func (c *RateLimitedClient) Close() error { return c.next.Close() }
