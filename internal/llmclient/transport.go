// internal/llmclient/transport.go
package llmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// APIError is returned when a provider answers with a non-2xx status.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: status %d, body: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout, 529:
		return true
	}
	return false
}

// ErrEmptyCompletion is returned when a provider responds without any text.
var ErrEmptyCompletion = errors.New("llm returned an empty completion")

// jsonPoster performs JSON POST requests with exponential backoff.
type jsonPoster struct {
	provider        string
	httpClient      *http.Client
	logger          *zap.Logger
	maxElapsed      time.Duration
	initialInterval time.Duration
}

func newBackOff(maxElapsed, initial time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if initial > 0 {
		b.InitialInterval = initial
	}
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = maxElapsed
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 2 * time.Minute
	}
	return b
}

// post sends body to url with the given headers and returns the raw response
// body of the first successful attempt.
func (p *jsonPoster) post(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, error) {
	var respBody []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			p.logger.Warn("Network error during LLM request, retrying", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{Provider: p.provider, StatusCode: resp.StatusCode, Body: string(data)}
			if apiErr.Retryable() {
				p.logger.Warn("Transient LLM API error, retrying", zap.Int("status", resp.StatusCode))
				return apiErr
			}
			p.logger.Error("LLM API returned error status", zap.Int("status", resp.StatusCode), zap.String("response", string(data)))
			return backoff.Permanent(apiErr)
		}

		respBody = data
		return nil
	}

	b := newBackOff(p.maxElapsed, p.initialInterval)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return respBody, nil
}
