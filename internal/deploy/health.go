// internal/deploy/health.go
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnhealthy is wrapped by HealthCheck when an endpoint does not answer 2xx.
var ErrUnhealthy = errors.New("health check failed")

// HealthResult is the outcome of probing one URL.
type HealthResult struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	Healthy    bool          `json:"healthy"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
}

// HealthCheck requests urls concurrently with the configured timeout. It
// returns every result and an error if any endpoint was unhealthy.
func (d *Deployer) HealthCheck(ctx context.Context, urls ...string) ([]HealthResult, error) {
	if len(urls) == 0 {
		urls = d.cfg.HealthURLs
	}
	results := make([]HealthResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = d.checkURL(gctx, u)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if !r.Healthy {
			errs = append(errs, fmt.Errorf("%w: %s: %s", ErrUnhealthy, r.URL, r.Error))
		}
	}
	if len(errs) > 0 {
		d.logger.Warn("Health check failed", zap.Int("unhealthy", len(errs)), zap.Int("total", len(urls)))
		return results, errors.Join(errs...)
	}
	d.logger.Info("Health check passed", zap.Int("endpoints", len(urls)))
	return results, nil
}

func (d *Deployer) checkURL(ctx context.Context, url string) HealthResult {
	r := HealthResult{URL: url}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	resp, err := d.httpClient.Do(req)
	r.Latency = time.Since(start)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	r.StatusCode = resp.StatusCode
	r.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !r.Healthy {
		r.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return r
}
