package carousel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/watermonitor/watermonitor/internal/clock"
)

// Error texts shown when a refresh cycle fails.
const (
	ErrorTitle       = "Unable to load water quality data"
	ErrorDetailFinal = "Please check your connection and try again"
)

// Stats summarize the dashboard for diagnostics.
type Stats struct {
	TotalPages    int        `json:"totalPages"`
	CurrentPage   int        `json:"currentPage"`
	LastFetchTime *time.Time `json:"lastFetchTime"`
	RetryCount    int        `json:"retryCount"`
	IsRefreshing  bool       `json:"isRefreshing"`
	CacheAgeMs    *int64     `json:"cacheAgeMs"`
}

// DashboardView is the full render state of the dashboard.
type DashboardView struct {
	View
	Updated        string   `json:"updated"`
	FailedStations []string `json:"failedStations,omitempty"`
	Stats          Stats    `json:"stats"`
}

// Dashboard wires the refresh controller to the carousel: applied refresh
// cycles become pages or the error state, and visibility reaches both.
type Dashboard struct {
	ctrl     *Controller
	carousel *Carousel
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewDashboard creates a dashboard. The carousel shares the controller's
// logger, and its clock unless it sets its own.
func NewDashboard(ctrlCfg ControllerConfig, carCfg Config) *Dashboard {
	ctrlCfg = ctrlCfg.withDefaults()
	if carCfg.Clock == nil {
		carCfg.Clock = ctrlCfg.Clock
	}
	carCfg.Logger = ctrlCfg.Logger

	d := &Dashboard{
		carousel: New(carCfg),
		clock:    ctrlCfg.Clock,
		logger:   ctrlCfg.Logger,
	}

	next := ctrlCfg.OnResult
	ctrlCfg.OnResult = func(res Result) {
		d.apply(res)
		if next != nil {
			next(res)
		}
	}
	d.ctrl = NewController(ctrlCfg)
	return d
}

// Controller returns the refresh controller.
func (d *Dashboard) Controller() *Controller {
	return d.ctrl
}

// Carousel returns the carousel state machine.
func (d *Dashboard) Carousel() *Carousel {
	return d.carousel
}

// Start performs the initial fetch, then arms auto-advance and the periodic
// refresh. An initial fetch failure is shown in the error state and retried
// automatically; it does not fail Start.
func (d *Dashboard) Start(ctx context.Context) {
	if _, err := d.ctrl.Refresh(ctx, false); err != nil {
		d.logger.Warn().Err(err).Msg("initial dashboard fetch failed")
	}
	d.ctrl.Start(ctx)
	d.carousel.Start()
}

// Stop cancels every timer.
func (d *Dashboard) Stop() {
	d.ctrl.Stop()
	d.carousel.Stop()
}

// Refresh forces a refresh cycle.
func (d *Dashboard) Refresh(ctx context.Context) error {
	_, err := d.ctrl.Refresh(ctx, true)
	return err
}

// Retry is the error state's retry action. The error view gives way to the
// loading state while the cycle runs.
func (d *Dashboard) Retry(ctx context.Context) error {
	d.carousel.SetLoading()
	_, err := d.ctrl.Retry(ctx)
	if err != nil && ctx.Err() != nil {
		// The cycle was not applied; put the error view back.
		if st := d.ctrl.State(); st.LastError != nil {
			d.carousel.ShowError(ErrorInfoFor(st.RetryCount, d.ctrl.MaxAttempts()))
		}
	}
	return err
}

// SetVisible forwards a visibility change. Hidden dashboards neither
// auto-advance nor refresh periodically.
func (d *Dashboard) SetVisible(ctx context.Context, visible bool) error {
	d.carousel.SetVisible(visible)
	err := d.ctrl.SetVisible(ctx, visible)
	if errors.Is(err, ErrSuperseded) {
		return nil
	}
	return err
}

// Stats returns diagnostic counters.
func (d *Dashboard) Stats() Stats {
	st := d.ctrl.State()
	v := d.carousel.View()

	stats := Stats{
		TotalPages:   v.TotalPages,
		CurrentPage:  v.CurrentPage,
		RetryCount:   st.RetryCount,
		IsRefreshing: st.Refreshing,
	}
	if st.Fetched {
		last := st.LastFetch
		age := d.clock.Now().Sub(last).Milliseconds()
		stats.LastFetchTime = &last
		stats.CacheAgeMs = &age
	}
	return stats
}

// UpdatedText renders how long ago the last successful fetch was.
func (d *Dashboard) UpdatedText() string {
	st := d.ctrl.State()
	if !st.Fetched {
		return "Checking..."
	}
	return UpdatedText(d.clock.Now().Sub(st.LastFetch))
}

// View returns the render state.
func (d *Dashboard) View() DashboardView {
	st := d.ctrl.State()
	view := DashboardView{
		View:    d.carousel.View(),
		Updated: d.UpdatedText(),
		Stats:   d.Stats(),
	}
	if st.Cached != nil {
		view.FailedStations = append(view.FailedStations, st.Cached.FailedStations...)
	}
	return view
}

// UpdatedText renders an age as "Updated Ns ago" below a minute and
// "Updated Nm ago" otherwise.
func UpdatedText(age time.Duration) string {
	if age < 0 {
		age = 0
	}
	secs := int(age / time.Second)
	if secs < 60 {
		return fmt.Sprintf("Updated %ds ago", secs)
	}
	return fmt.Sprintf("Updated %dm ago", secs/60)
}

// ErrorInfoFor returns the error display for a consecutive failure count.
func ErrorInfoFor(retryCount, maxAttempts int) ErrorInfo {
	if retryCount >= maxAttempts {
		return ErrorInfo{Title: ErrorTitle, Detail: ErrorDetailFinal}
	}
	return ErrorInfo{
		Title:  ErrorTitle,
		Detail: fmt.Sprintf("Retrying... (%d/%d)", retryCount, maxAttempts),
	}
}

func (d *Dashboard) apply(res Result) {
	if res.Err != nil {
		d.carousel.ShowError(ErrorInfoFor(res.RetryCount, d.ctrl.MaxAttempts()))
		return
	}
	if len(res.Set.FailedStations) > 0 {
		d.logger.Warn().Strs("stations", res.Set.FailedStations).Msg("stations degraded to missing data")
	}
	d.carousel.SetPages(res.Set.Snapshots)
}
