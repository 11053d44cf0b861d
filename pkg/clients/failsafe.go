// Package clients holds resilience plumbing for outbound HTTP calls:
// retry with backoff and an optional circuit breaker, built on failsafe-go.
package clients

import (
	"context"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/go-resty/resty/v2"

	"airvend/pkg/logging"
)

// RetryConfig configures the outbound retry policy.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// ShouldRetry determines if a response should trigger a retry
	ShouldRetry func(resp *resty.Response, err error) bool
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		ShouldRetry: DefaultShouldRetry,
	}
}

// DefaultShouldRetry retries on network errors, 5xx responses, and 429.
func DefaultShouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode() {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func normalizeRetryConfig(cfg RetryConfig) RetryConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = DefaultShouldRetry
	}
	return cfg
}

// NewRetryPolicy creates a retry policy for resty requests.
func NewRetryPolicy(cfg RetryConfig) retrypolicy.RetryPolicy[*resty.Response] {
	cfg = normalizeRetryConfig(cfg)
	return retrypolicy.NewBuilder[*resty.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(resp *resty.Response, err error) bool {
			return cfg.ShouldRetry(resp, err)
		}).
		Build()
}

// NewExecutor combines the retry policy with a circuit breaker that trips
// on repeated errors or 5xx responses.
func NewExecutor(cfg RetryConfig, name string, logger logging.Logger) failsafe.Executor[*resty.Response] {
	retry := NewRetryPolicy(cfg)

	cb := circuitbreaker.NewBuilder[*resty.Response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(15 * time.Second).
		WithSuccessThreshold(1).
		HandleIf(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode() >= 500
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			if logger != nil {
				logger.WithFields(logging.Fields{
					"circuit_breaker": name,
					"from_state":      event.OldState,
					"to_state":        event.NewState,
				}).Warn("circuit breaker state change")
			}
		}).
		Build()

	return failsafe.With(retry, cb)
}

// Execute runs an outbound request through the executor.
func Execute(ctx context.Context, executor failsafe.Executor[*resty.Response], fn func() (*resty.Response, error)) (*resty.Response, error) {
	return executor.WithContext(ctx).Get(fn)
}
