// Package carousel owns the dashboard read model: the cache and refresh
// controller, the paged carousel state machine, and the facade that wires
// them together.
package carousel

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/watermonitor/watermonitor/internal/clock"
	"github.com/watermonitor/watermonitor/internal/station"
)

// Mode is the interaction mode of the carousel.
type Mode string

const (
	ModeIdle        Mode = "idle-rest"
	ModeInteracting Mode = "user-interacting"
)

// DisplayState is what the carousel renders.
type DisplayState string

const (
	StateLoading DisplayState = "loading"
	StatePages   DisplayState = "pages"
	StateError   DisplayState = "error"
	StateEmpty   DisplayState = "empty"
)

// ErrPageOutOfRange is returned by Goto for an index outside the page set.
var ErrPageOutOfRange = errors.New("page index out of range")

// Default carousel timings.
const (
	DefaultAutoInterval     = 7 * time.Second
	DefaultInteractionPause = 2200 * time.Millisecond
	DefaultSwipeThreshold   = 80.0
)

// Config holds configuration for the carousel state machine.
type Config struct {
	Clock  clock.Clock
	Logger zerolog.Logger

	// AutoInterval is the auto-advance period.
	AutoInterval time.Duration

	// InteractionPause is how long after the last interaction auto-advance
	// resumes.
	InteractionPause time.Duration

	// SwipeThreshold is the minimum drag distance in pixels that turns a page.
	SwipeThreshold float64
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.AutoInterval <= 0 {
		c.AutoInterval = DefaultAutoInterval
	}
	if c.InteractionPause <= 0 {
		c.InteractionPause = DefaultInteractionPause
	}
	if c.SwipeThreshold <= 0 {
		c.SwipeThreshold = DefaultSwipeThreshold
	}
	return c
}

// ErrorInfo is rendered in the error display state.
type ErrorInfo struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// View is an immutable copy of the carousel state.
type View struct {
	State        DisplayState       `json:"state"`
	Mode         Mode               `json:"mode"`
	CurrentPage  int                `json:"currentPage"`
	TotalPages   int                `json:"totalPages"`
	Page         *station.Snapshot  `json:"page,omitempty"`
	Pages        []station.Snapshot `json:"pages"`
	CanPrev      bool               `json:"canPrev"`
	CanNext      bool               `json:"canNext"`
	Indicator    string             `json:"indicator"`
	Visible      bool               `json:"visible"`
	Minimized    bool               `json:"minimized"`
	AutoAdvance  bool               `json:"autoAdvance"`
	Error        *ErrorInfo         `json:"error,omitempty"`
	Announcement string             `json:"announcement,omitempty"`
}

// Carousel is the paged display state machine. It is safe for concurrent
// use. Subscribers are called outside the lock, in registration order.
type Carousel struct {
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger

	mu           sync.Mutex
	pages        []station.Snapshot
	current      int
	state        DisplayState
	mode         Mode
	visible      bool
	minimized    bool
	running      bool
	errInfo      *ErrorInfo
	announcement string

	autoTimer   clock.Timer
	resumeTimer clock.Timer

	dragging   bool
	dragStartX float64

	subMu   sync.Mutex
	subs    map[int]func(View)
	nextSub int
}

// New creates a carousel in the loading state.
func New(cfg Config) *Carousel {
	cfg = cfg.withDefaults()
	return &Carousel{
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		state:   StateLoading,
		mode:    ModeIdle,
		visible: true,
		subs:    make(map[int]func(View)),
	}
}

// Start enables auto-advance.
func (c *Carousel) Start() {
	c.mu.Lock()
	c.running = true
	c.armAutoLocked()
	c.mu.Unlock()
}

// Stop cancels every carousel timer.
func (c *Carousel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.stopAutoLocked()
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
		c.resumeTimer = nil
	}
	c.mode = ModeIdle
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (c *Carousel) Subscribe(fn func(View)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// SetPages replaces the page set. The current index is kept unless it is now
// out of range. A non-empty set expands a minimized carousel.
func (c *Carousel) SetPages(pages []station.Snapshot) {
	c.mu.Lock()
	c.pages = append([]station.Snapshot(nil), pages...)
	c.errInfo = nil

	if len(c.pages) == 0 {
		c.state = StateEmpty
		c.current = 0
		c.stopAutoLocked()
		c.announcement = "No monitoring stations available"
	} else {
		c.state = StatePages
		if c.current >= len(c.pages) {
			c.current = 0
		}
		c.minimized = false
		c.announcement = alertAnnouncement(c.pages)
		c.armAutoLocked()
	}
	c.logger.Debug().Int("pages", len(c.pages)).Int("current", c.current).Msg("carousel pages updated")
	c.mu.Unlock()

	c.notify()
}

// SetLoading shows the loading state unless pages are on screen. Pages are
// kept for the next render.
func (c *Carousel) SetLoading() {
	c.mu.Lock()
	if c.state == StatePages {
		c.mu.Unlock()
		return
	}
	c.state = StateLoading
	c.errInfo = nil
	c.mu.Unlock()
	c.notify()
}

// ShowError switches to the error display state. The last page set is
// preserved but not rendered and navigation is disabled.
func (c *Carousel) ShowError(info ErrorInfo) {
	c.mu.Lock()
	c.state = StateError
	c.errInfo = &info
	c.stopAutoLocked()
	c.announcement = "Error loading data"
	c.mu.Unlock()

	c.notify()
}

// Next moves one page forward, clamped at the last page.
func (c *Carousel) Next() {
	c.navigate(func(cur, total int) int { return cur + 1 })
}

// Prev moves one page back, clamped at the first page.
func (c *Carousel) Prev() {
	c.navigate(func(cur, total int) int { return cur - 1 })
}

// Home jumps to the first page.
func (c *Carousel) Home() {
	c.navigate(func(int, int) int { return 0 })
}

// End jumps to the last page.
func (c *Carousel) End() {
	c.navigate(func(_, total int) int { return total - 1 })
}

// Goto jumps to page index. Out-of-range indexes leave the page unchanged.
func (c *Carousel) Goto(index int) error {
	c.mu.Lock()
	if c.state != StatePages || index < 0 || index >= len(c.pages) {
		total := c.totalLocked()
		c.mu.Unlock()
		return fmt.Errorf("%w: %d not in [0, %d)", ErrPageOutOfRange, index, total)
	}
	c.mu.Unlock()

	c.navigate(func(int, int) int { return index })
	return nil
}

// PointerDown starts a drag at x.
func (c *Carousel) PointerDown(x float64) {
	c.mu.Lock()
	c.dragging = true
	c.dragStartX = x
	c.interactLocked()
	c.mu.Unlock()
	c.notify()
}

// PointerUp ends a drag at x. A drag longer than the swipe threshold turns
// one page: leftward (start > end) goes to the next page.
func (c *Carousel) PointerUp(x float64) {
	c.mu.Lock()
	if !c.dragging {
		c.mu.Unlock()
		return
	}
	c.dragging = false
	dx := c.dragStartX - x
	c.mu.Unlock()

	if math.Abs(dx) <= c.cfg.SwipeThreshold {
		return
	}
	if dx > 0 {
		c.Next()
	} else {
		c.Prev()
	}
}

// Drag performs a complete drag gesture.
func (c *Carousel) Drag(startX, endX float64) {
	c.PointerDown(startX)
	c.PointerUp(endX)
}

// SetVisible suspends auto-advance while hidden and resumes it when shown.
func (c *Carousel) SetVisible(visible bool) {
	c.mu.Lock()
	c.visible = visible
	if visible {
		c.armAutoLocked()
	} else {
		c.stopAutoLocked()
	}
	c.mu.Unlock()
	c.notify()
}

// Minimize collapses the carousel.
func (c *Carousel) Minimize() {
	c.setMinimized(func(bool) bool { return true })
}

// Expand restores a minimized carousel.
func (c *Carousel) Expand() {
	c.setMinimized(func(bool) bool { return false })
}

// ToggleMinimized flips the minimized flag.
func (c *Carousel) ToggleMinimized() {
	c.setMinimized(func(m bool) bool { return !m })
}

// View returns a copy of the current state.
func (c *Carousel) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Carousel) setMinimized(next func(bool) bool) {
	c.mu.Lock()
	c.minimized = next(c.minimized)
	if c.minimized {
		c.announcement = "Carousel minimized"
	} else {
		c.announcement = "Carousel expanded"
	}
	c.mu.Unlock()
	c.notify()
}

// navigate applies a manual page move. Any manual move counts as an
// interaction, even when the target is clamped to the current page.
func (c *Carousel) navigate(target func(cur, total int) int) {
	c.mu.Lock()
	if c.state != StatePages || len(c.pages) == 0 {
		c.mu.Unlock()
		return
	}
	next := target(c.current, len(c.pages))
	if next < 0 {
		next = 0
	}
	if next > len(c.pages)-1 {
		next = len(c.pages) - 1
	}
	c.current = next
	c.announcement = fmt.Sprintf("Showing station %d of %d", c.current+1, len(c.pages))
	c.interactLocked()
	c.mu.Unlock()

	c.notify()
}

// interactLocked enters user-interacting and restarts the resume timer.
func (c *Carousel) interactLocked() {
	c.mode = ModeInteracting
	c.stopAutoLocked()
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
	}
	var timer clock.Timer
	timer = c.clock.AfterFunc(c.cfg.InteractionPause, func() {
		c.mu.Lock()
		if c.resumeTimer != timer {
			c.mu.Unlock()
			return
		}
		c.resumeTimer = nil
		c.mode = ModeIdle
		c.armAutoLocked()
		c.mu.Unlock()
		c.notify()
	})
	c.resumeTimer = timer
}

func (c *Carousel) canAutoAdvanceLocked() bool {
	return c.running &&
		c.visible &&
		c.mode == ModeIdle &&
		c.state == StatePages &&
		len(c.pages) > 1
}

// armAutoLocked starts the auto-advance timer unless it is already running
// or auto-advance is not allowed.
func (c *Carousel) armAutoLocked() {
	if c.autoTimer != nil || !c.canAutoAdvanceLocked() {
		return
	}
	var timer clock.Timer
	timer = c.clock.AfterFunc(c.cfg.AutoInterval, func() {
		c.mu.Lock()
		if c.autoTimer != timer {
			c.mu.Unlock()
			return
		}
		c.autoTimer = nil
		if !c.canAutoAdvanceLocked() {
			c.mu.Unlock()
			return
		}
		c.current = (c.current + 1) % len(c.pages)
		c.announcement = fmt.Sprintf("Showing station %d of %d", c.current+1, len(c.pages))
		c.armAutoLocked()
		c.mu.Unlock()
		c.notify()
	})
	c.autoTimer = timer
}

func (c *Carousel) stopAutoLocked() {
	if c.autoTimer != nil {
		c.autoTimer.Stop()
		c.autoTimer = nil
	}
}

func (c *Carousel) totalLocked() int {
	if c.state != StatePages {
		return 0
	}
	return len(c.pages)
}

func (c *Carousel) viewLocked() View {
	total := c.totalLocked()
	v := View{
		State:        c.state,
		Mode:         c.mode,
		TotalPages:   total,
		Visible:      c.visible,
		Minimized:    c.minimized,
		AutoAdvance:  c.autoTimer != nil,
		Announcement: c.announcement,
		Pages:        []station.Snapshot{},
	}
	if c.errInfo != nil {
		info := *c.errInfo
		v.Error = &info
	}
	if total > 0 {
		v.CurrentPage = c.current
		v.Pages = append(v.Pages, c.pages...)
		page := c.pages[c.current]
		v.Page = &page
		v.CanPrev = c.current > 0
		v.CanNext = c.current < total-1
	}
	v.Indicator = fmt.Sprintf("%d / %d", max(1, v.CurrentPage+1), max(1, total))
	return v
}

func (c *Carousel) notify() {
	view := c.View()

	c.subMu.Lock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	fns := make([]func(View), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(view)
	}
}

func alertAnnouncement(pages []station.Snapshot) string {
	alerts := 0
	for _, p := range pages {
		alerts += p.AlertCount
	}
	switch {
	case alerts == 1:
		return "Alert: 1 sensor outside normal range"
	case alerts > 1:
		return fmt.Sprintf("Alert: %d sensors outside normal range", alerts)
	default:
		return ""
	}
}
