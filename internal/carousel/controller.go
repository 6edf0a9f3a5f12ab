package carousel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/watermonitor/watermonitor/internal/clock"
	"github.com/watermonitor/watermonitor/internal/provider/resilience"
	"github.com/watermonitor/watermonitor/internal/station"
	"github.com/watermonitor/watermonitor/internal/telemetry"
)

// ErrSuperseded is returned by Refresh when a newer cycle started while this
// one was in flight. The cycle's outcome was discarded.
var ErrSuperseded = errors.New("refresh superseded by a newer cycle")

// Default controller timings.
const (
	DefaultCacheTTL        = 25 * time.Second
	DefaultRefreshInterval = 30 * time.Second
)

// Fetcher produces a snapshot set. *station.Service implements it.
type Fetcher interface {
	FetchSnapshots(ctx context.Context) (*station.SnapshotSet, error)
}

// Result is the applied outcome of one refresh cycle.
type Result struct {
	Cycle     uint64
	Set       *station.SnapshotSet
	Err       error
	FromCache bool

	// RetryCount is the consecutive failure count after this cycle.
	RetryCount int

	// RetryScheduled is true when a failed cycle armed an automatic retry.
	RetryScheduled bool
}

// ControllerConfig holds configuration for the refresh controller.
type ControllerConfig struct {
	Fetcher Fetcher
	Logger  zerolog.Logger
	Clock   clock.Clock
	Metrics *telemetry.DashboardMetrics

	// CacheTTL is how long a successful fetch satisfies non-forced refreshes.
	CacheTTL time.Duration

	// RefreshInterval is the period of forced background refreshes.
	RefreshInterval time.Duration

	// Retry bounds automatic retries after a failed cycle. Delays grow
	// linearly with the consecutive failure count.
	Retry resilience.LinearPolicy

	// OnResult is called for every applied cycle, serialized and in cycle
	// order. Cache hits and superseded cycles are not applied.
	OnResult func(Result)
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.Retry.MaxAttempts <= 0 || c.Retry.BaseDelay <= 0 {
		c.Retry = resilience.DefaultLinearPolicy()
	}
	return c
}

// ControllerState is a copy of the controller's bookkeeping.
type ControllerState struct {
	Fetched    bool
	LastFetch  time.Time
	RetryCount int
	Refreshing bool
	Visible    bool
	LastError  error
	Cached     *station.SnapshotSet
}

// Controller caches the latest snapshot set and drives refresh cycles:
// periodic forced refreshes, bounded automatic retries after failures, and
// refetches when the dashboard becomes visible with an expired cache.
type Controller struct {
	cfg     ControllerConfig
	fetcher Fetcher
	logger  zerolog.Logger
	clock   clock.Clock
	metrics *telemetry.DashboardMetrics
	tracer  trace.Tracer

	mu         sync.Mutex
	baseCtx    context.Context
	cycle      uint64
	inflight   int
	cached     *station.SnapshotSet
	lastFetch  time.Time
	fetched    bool
	retryCount int
	lastErr    error
	visible    bool
	tickTimer  clock.Timer
	retryTimer clock.Timer

	// applyMu serializes applying cycle outcomes and OnResult.
	applyMu sync.Mutex
}

// NewController creates a refresh controller.
func NewController(cfg ControllerConfig) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:     cfg,
		fetcher: cfg.Fetcher,
		logger:  cfg.Logger,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		tracer:  telemetry.Tracer("watermonitor/carousel"),
		baseCtx: context.Background(),
		visible: true,
	}
}

// Refresh runs a refresh cycle. Without force, a fetch younger than the cache
// TTL is returned as a cache hit.
func (c *Controller) Refresh(ctx context.Context, force bool) (Result, error) {
	c.mu.Lock()
	now := c.clock.Now()
	if !force && c.fetched && now.Sub(c.lastFetch) < c.cfg.CacheTTL {
		res := Result{Cycle: c.cycle, Set: c.cached, FromCache: true, RetryCount: c.retryCount}
		c.mu.Unlock()
		c.metrics.RecordRefresh(ctx, telemetry.OutcomeCacheHit, 0)
		return res, nil
	}
	c.cycle++
	cycle := c.cycle
	c.inflight++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inflight--
		c.mu.Unlock()
	}()

	ctx, span := c.tracer.Start(ctx, "carousel.Refresh")
	defer span.End()
	span.SetAttributes(attribute.Int64("refresh.cycle", int64(cycle)), attribute.Bool("refresh.force", force))

	start := c.clock.Now()
	set, err := c.fetcher.FetchSnapshots(ctx)
	elapsed := c.clock.Now().Sub(start)

	// A cycle whose caller went away proves nothing about the stations: the
	// cache and the failure count stay as they were.
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.logger.Debug().Err(ctxErr).Uint64("cycle", cycle).Msg("discarding cancelled refresh")
		c.metrics.RecordRefresh(context.WithoutCancel(ctx), telemetry.OutcomeDiscarded, elapsed)
		return Result{Cycle: cycle, Err: ctxErr}, ctxErr
	}

	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.Lock()
	if cycle < c.cycle {
		c.mu.Unlock()
		c.logger.Debug().Uint64("cycle", cycle).Msg("discarding superseded refresh")
		c.metrics.RecordRefresh(ctx, telemetry.OutcomeDiscarded, elapsed)
		return Result{Cycle: cycle}, ErrSuperseded
	}

	res := Result{Cycle: cycle, Set: set, Err: err}
	if err != nil {
		c.lastErr = err
		c.retryCount++
		res.RetryCount = c.retryCount
		if c.retryCount < c.cfg.Retry.MaxAttempts {
			c.scheduleRetryLocked(c.cfg.Retry.Delay(c.retryCount))
			res.RetryScheduled = true
		}
		c.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.RecordRefresh(ctx, telemetry.OutcomeFailure, elapsed)
		c.logger.Warn().
			Err(err).
			Uint64("cycle", cycle).
			Int("retry_count", res.RetryCount).
			Bool("retry_scheduled", res.RetryScheduled).
			Msg("snapshot refresh failed")
	} else {
		c.cached = set
		c.fetched = true
		c.lastFetch = c.clock.Now()
		c.retryCount = 0
		c.lastErr = nil
		if c.retryTimer != nil {
			c.retryTimer.Stop()
			c.retryTimer = nil
		}
		c.mu.Unlock()

		c.metrics.RecordRefresh(ctx, telemetry.OutcomeSuccess, elapsed)
		c.metrics.RecordAlerts(ctx, set.AlertCount)
		c.logger.Debug().
			Uint64("cycle", cycle).
			Int("stations", len(set.Snapshots)).
			Int("alerts", set.AlertCount).
			Dur("duration", elapsed).
			Msg("snapshot refresh applied")
	}

	if c.cfg.OnResult != nil {
		c.cfg.OnResult(res)
	}
	return res, err
}

// Retry resets the failure count and forces a refresh.
func (c *Controller) Retry(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	c.mu.Lock()
	c.retryCount = 0
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.mu.Unlock()
	return c.Refresh(ctx, true)
}

// Start arms the periodic refresh. Background cycles run with ctx.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseCtx = ctx
	c.armTickLocked()
}

// Stop cancels the periodic refresh and any pending retry.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tickTimer != nil {
		c.tickTimer.Stop()
		c.tickTimer = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// SetVisible records dashboard visibility. Becoming visible with a cache
// older than the TTL forces a refresh.
func (c *Controller) SetVisible(ctx context.Context, visible bool) error {
	c.mu.Lock()
	c.visible = visible
	expired := c.clock.Now().Sub(c.lastFetch) > c.cfg.CacheTTL
	c.mu.Unlock()

	if !visible || !expired {
		return nil
	}
	_, err := c.Refresh(ctx, true)
	return err
}

// State returns a copy of the controller's bookkeeping.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ControllerState{
		Fetched:    c.fetched,
		LastFetch:  c.lastFetch,
		RetryCount: c.retryCount,
		Refreshing: c.inflight > 0,
		Visible:    c.visible,
		LastError:  c.lastErr,
		Cached:     c.cached,
	}
}

// MaxAttempts is the number of consecutive failed cycles before automatic
// retries stop.
func (c *Controller) MaxAttempts() int {
	return c.cfg.Retry.MaxAttempts
}

func (c *Controller) armTickLocked() {
	if c.tickTimer != nil {
		c.tickTimer.Stop()
	}
	var timer clock.Timer
	timer = c.clock.AfterFunc(c.cfg.RefreshInterval, func() {
		c.mu.Lock()
		if c.tickTimer != timer {
			c.mu.Unlock()
			return
		}
		c.armTickLocked()
		skip := !c.visible || c.inflight > 0
		ctx := c.baseCtx
		c.mu.Unlock()

		if skip || ctx.Err() != nil {
			return
		}
		if _, err := c.Refresh(ctx, true); err != nil && !errors.Is(err, ErrSuperseded) {
			c.logger.Debug().Err(err).Msg("periodic refresh failed")
		}
	})
	c.tickTimer = timer
}

func (c *Controller) scheduleRetryLocked(delay time.Duration) {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	var timer clock.Timer
	timer = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.retryTimer != timer {
			c.mu.Unlock()
			return
		}
		c.retryTimer = nil
		ctx := c.baseCtx
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if _, err := c.Refresh(ctx, true); err != nil && !errors.Is(err, ErrSuperseded) {
			c.logger.Debug().Err(err).Msg("automatic retry failed")
		}
	})
	c.retryTimer = timer
}
