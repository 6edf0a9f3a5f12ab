package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Predefined errors for resilient operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrMaxRetriesExceeded is returned when all retry attempts have been exhausted.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrMalformedResponse is returned when a 2xx body cannot be decoded.
	// It is never retried.
	ErrMalformedResponse = errors.New("malformed response body")

	// ErrUnauthorized tags an exhausted fetch whose final status was 401 or 403.
	ErrUnauthorized = errors.New("unauthorized")
)

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies this client for circuit breaker naming and the registry.
	Name string

	// Timeout is the request timeout for individual HTTP calls.
	// Default: 10 seconds
	Timeout time.Duration

	// Policy is the retry schedule.
	// Default: DefaultLinearPolicy
	Policy Policy

	// CircuitBreaker is the circuit breaker configuration.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// Registry, when set, tracks this client's health.
	Registry *Registry

	// Recorder, when set, observes every GetJSON call.
	Recorder RequestRecorder

	// Logger receives one line per failed attempt.
	Logger zerolog.Logger

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// DefaultClientConfig returns sensible defaults for the resilient client.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:           name,
		Timeout:        10 * time.Second,
		Policy:         DefaultLinearPolicy(),
		CircuitBreaker: &cbConfig,
		Logger:         zerolog.Nop(),
	}
}

// RequestRecorder observes completed provider requests.
type RequestRecorder interface {
	RecordRequest(provider, operation string, duration time.Duration, err error)
}

// Client is a resilient HTTP client with circuit breaker and retry logic.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
}

// NewClient creates a new resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultLinearPolicy()
	}

	var cb *gobreaker.CircuitBreaker[*http.Response]
	if cfg.CircuitBreaker != nil {
		cb = NewCircuitBreaker[*http.Response](*cfg.CircuitBreaker) //nolint:bodyclose // type param, not response
	} else {
		defaultCB := DefaultCircuitBreakerConfig(cfg.Name)
		cb = NewCircuitBreaker[*http.Response](defaultCB) //nolint:bodyclose // type param, not response
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		httpClient:     httpClient,
		circuitBreaker: cb,
		config:         cfg,
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c)
	}
	return c
}

// Name returns the client's provider name.
func (c *Client) Name() string {
	return c.config.Name
}

// GetJSON fetches url and decodes the 2xx body into out.
//
// Transport errors and every non-2xx status are retried under the client's
// policy. A body that fails to decode is not retried and wraps
// ErrMalformedResponse. An open breaker wraps ErrCircuitOpen. Once the
// schedule is exhausted the last error is wrapped with ErrMaxRetriesExceeded,
// and with ErrUnauthorized too when the last status was 401 or 403.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	var (
		attempts  int
		lastErr   error
		permanent bool
	)

	operation := func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			permanent = true
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.execute(req)
		if err != nil {
			if errors.Is(err, ErrCircuitOpen) {
				permanent = true
				return backoff.Permanent(err)
			}
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, resp.Body)
			lastErr = &StatusError{StatusCode: resp.StatusCode}
			return lastErr
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			permanent = true
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.config.Logger.Warn().
			Err(err).
			Str("provider", c.config.Name).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("fetch attempt failed, retrying")
	}

	start := time.Now()
	err := Retry(ctx, c.config.Policy, operation, notify)
	if c.config.Recorder != nil {
		c.config.Recorder.RecordRequest(c.config.Name, "get_json", time.Since(start), err)
	}
	if err == nil {
		c.recordSuccess()
		return nil
	}

	switch {
	case permanent:
	case ctx.Err() != nil:
		err = ctx.Err()
	default:
		var se *StatusError
		if errors.As(lastErr, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden) {
			err = fmt.Errorf("%w after %d attempts: %w: %w", ErrMaxRetriesExceeded, attempts, ErrUnauthorized, lastErr)
		} else {
			err = fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, attempts, err)
		}
	}
	c.recordFailure(err)
	return err
}

// execute runs one request through the circuit breaker. 5xx responses and
// transport errors count as breaker failures.
func (c *Client) execute(req *http.Request) (*http.Response, error) {
	resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller is responsible for closing
		r, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if r.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, r.Body)
			r.Body.Close()
			return nil, &StatusError{StatusCode: r.StatusCode}
		}
		return r, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w", c.config.Name, ErrCircuitOpen)
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) recordSuccess() {
	if c.config.Registry != nil {
		c.config.Registry.RecordSuccess(c.config.Name)
	}
}

func (c *Client) recordFailure(err error) {
	if c.config.Registry != nil {
		c.config.Registry.RecordFailure(c.config.Name, err)
	}
}

// StatusError represents a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}
