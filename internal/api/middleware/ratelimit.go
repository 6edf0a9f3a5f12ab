package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/watermonitor/watermonitor/internal/api/models"
)

// RateLimitConfig is a request budget per client and window.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

// Default budgets.
var (
	// ControlRateLimit applies to endpoints that force a store fetch
	// (10 req/min).
	ControlRateLimit = RateLimitConfig{
		RequestLimit: 10,
		WindowLength: time.Minute,
	}

	// ExpensiveRateLimit applies to full-history report endpoints
	// (30 req/min).
	ExpensiveRateLimit = RateLimitConfig{
		RequestLimit: 30,
		WindowLength: time.Minute,
	}

	// StandardRateLimit applies to cached reads (100 req/min).
	StandardRateLimit = RateLimitConfig{
		RequestLimit: 100,
		WindowLength: time.Minute,
	}
)

// RateLimitByIP limits requests per client IP. The IP is taken from
// RemoteAddr as rewritten by chi's RealIP middleware.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(limitExceededHandler(cfg.WindowLength)),
	)
}

// RateLimitByIPAndEndpoint limits requests per client IP and path, so each
// endpoint sharing the middleware gets its own budget.
func RateLimitByIPAndEndpoint(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(limitExceededHandler(cfg.WindowLength)),
	)
}

// limitExceededHandler writes a 429 problem. httprate does not expose the
// window reset time, so Retry-After is the full window.
func limitExceededHandler(window time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(math.Ceil(window.Seconds())))
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", retryAfter)
		models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.").
			WithInstance(r.URL.Path).
			Write(w)
	}
}
