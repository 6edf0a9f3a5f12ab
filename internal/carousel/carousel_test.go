package carousel_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watermonitor/watermonitor/internal/carousel"
	"github.com/watermonitor/watermonitor/internal/clock"
	"github.com/watermonitor/watermonitor/internal/station"
)

var epoch = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func pages(n int) []station.Snapshot {
	out := make([]station.Snapshot, n)
	for i := range out {
		id := fmt.Sprintf("unit_%d", i+1)
		out[i] = station.Snapshot{StationID: id, Name: id}
	}
	return out
}

func newCarousel(t *testing.T) (*carousel.Carousel, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock(epoch)
	c := carousel.New(carousel.Config{Clock: mock})
	t.Cleanup(c.Stop)
	return c, mock
}

func TestCarousel_StartsLoading(t *testing.T) {
	c, _ := newCarousel(t)

	v := c.View()
	assert.Equal(t, carousel.StateLoading, v.State)
	assert.Equal(t, 0, v.TotalPages)
	assert.Equal(t, "1 / 1", v.Indicator)
	assert.Nil(t, v.Page)
}

func TestCarousel_NextClampsAtLastPage(t *testing.T) {
	c, _ := newCarousel(t)
	c.SetPages(pages(5))

	require.NoError(t, c.Goto(3))
	c.Next()
	c.Next()

	v := c.View()
	assert.Equal(t, 4, v.CurrentPage)
	assert.False(t, v.CanNext)
	assert.True(t, v.CanPrev)
	assert.Equal(t, "5 / 5", v.Indicator)
	assert.Equal(t, carousel.ModeInteracting, v.Mode)
}

func TestCarousel_PrevClampsAtFirstPage(t *testing.T) {
	c, _ := newCarousel(t)
	c.SetPages(pages(3))

	c.Prev()

	v := c.View()
	assert.Equal(t, 0, v.CurrentPage)
	assert.False(t, v.CanPrev)
}

func TestCarousel_HomeEnd(t *testing.T) {
	c, _ := newCarousel(t)
	c.SetPages(pages(4))

	c.End()
	assert.Equal(t, 3, c.View().CurrentPage)
	assert.Equal(t, "Showing station 4 of 4", c.View().Announcement)

	c.Home()
	assert.Equal(t, 0, c.View().CurrentPage)
}

func TestCarousel_GotoOutOfRange(t *testing.T) {
	c, _ := newCarousel(t)
	c.SetPages(pages(3))
	require.NoError(t, c.Goto(1))

	err := c.Goto(3)
	assert.ErrorIs(t, err, carousel.ErrPageOutOfRange)
	err = c.Goto(-1)
	assert.ErrorIs(t, err, carousel.ErrPageOutOfRange)
	assert.Equal(t, 1, c.View().CurrentPage)
}

func TestCarousel_AutoAdvanceWraps(t *testing.T) {
	c, mock := newCarousel(t)
	c.SetPages(pages(3))
	c.Start()
	require.True(t, c.View().AutoAdvance)

	mock.Advance(7 * time.Second)
	assert.Equal(t, 1, c.View().CurrentPage)
	mock.Advance(7 * time.Second)
	assert.Equal(t, 2, c.View().CurrentPage)
	mock.Advance(7 * time.Second)
	assert.Equal(t, 0, c.View().CurrentPage, "auto-advance wraps to the first page")
}

func TestCarousel_InteractionPausesAutoAdvance(t *testing.T) {
	c, mock := newCarousel(t)
	c.SetPages(pages(3))
	c.Start()

	mock.Advance(5 * time.Second)
	c.Next()
	require.Equal(t, 1, c.View().CurrentPage)
	assert.False(t, c.View().AutoAdvance)

	// Resume after 2.2s, then a full interval before the next turn.
	mock.Advance(7 * time.Second)
	assert.Equal(t, 1, c.View().CurrentPage)
	assert.Equal(t, carousel.ModeIdle, c.View().Mode)

	mock.Advance(2200 * time.Millisecond)
	assert.Equal(t, 2, c.View().CurrentPage)
}

func TestCarousel_RepeatedInteractionRestartsResumeTimer(t *testing.T) {
	c, mock := newCarousel(t)
	c.SetPages(pages(5))
	c.Start()

	c.Next()
	mock.Advance(2 * time.Second)
	c.Next()
	mock.Advance(2 * time.Second)
	assert.Equal(t, carousel.ModeInteracting, c.View().Mode)

	mock.Advance(200 * time.Millisecond)
	assert.Equal(t, carousel.ModeIdle, c.View().Mode)
}

func TestCarousel_NoAutoAdvanceForSinglePage(t *testing.T) {
	c, mock := newCarousel(t)
	c.SetPages(pages(1))
	c.Start()

	assert.False(t, c.View().AutoAdvance)
	mock.Advance(time.Minute)
	assert.Equal(t, 0, c.View().CurrentPage)
	assert.Equal(t, 0, mock.Pending())
}

func TestCarousel_HiddenSuspendsAutoAdvance(t *testing.T) {
	c, mock := newCarousel(t)
	c.SetPages(pages(3))
	c.Start()

	c.SetVisible(false)
	mock.Advance(30 * time.Second)
	assert.Equal(t, 0, c.View().CurrentPage)

	c.SetVisible(true)
	mock.Advance(7 * time.Second)
	assert.Equal(t, 1, c.View().CurrentPage)
}

func TestCarousel_Drag(t *testing.T) {
	c, _ := newCarousel(t)
	c.SetPages(pages(3))

	c.Drag(200, 100)
	assert.Equal(t, 1, c.View().CurrentPage, "leftward swipe goes forward")

	c.Drag(100, 150)
	assert.Equal(t, 1, c.View().CurrentPage, "short drag is ignored")

	c.Drag(100, 180)
	assert.Equal(t, 1, c.View().CurrentPage, "exactly the threshold is ignored")

	c.Drag(0, 200)
	assert.Equal(t, 0, c.View().CurrentPage, "rightward swipe goes back")

	c.PointerUp(500)
	assert.Equal(t, 0, c.View().CurrentPage, "pointer up without pointer down")
}

func TestCarousel_SetPagesKeepsIndexInRange(t *testing.T) {
	c, _ := newCarousel(t)
	c.SetPages(pages(3))
	require.NoError(t, c.Goto(2))

	c.SetPages(pages(3))
	assert.Equal(t, 2, c.View().CurrentPage)

	c.SetPages(pages(2))
	assert.Equal(t, 0, c.View().CurrentPage)
}

func TestCarousel_ErrorDisablesNavigation(t *testing.T) {
	c, mock := newCarousel(t)
	c.SetPages(pages(3))
	c.Start()

	c.ShowError(carousel.ErrorInfo{Title: "Unable to load water quality data", Detail: "Retrying... (1/3)"})

	v := c.View()
	assert.Equal(t, carousel.StateError, v.State)
	assert.Equal(t, 0, v.TotalPages)
	assert.False(t, v.CanNext)
	assert.False(t, v.AutoAdvance)
	assert.Equal(t, "Error loading data", v.Announcement)
	require.NotNil(t, v.Error)
	assert.Equal(t, "Retrying... (1/3)", v.Error.Detail)

	c.Next()
	assert.ErrorIs(t, c.Goto(1), carousel.ErrPageOutOfRange)
	mock.Advance(10 * time.Second)
	assert.Equal(t, 0, c.View().CurrentPage)

	c.SetPages(pages(3))
	assert.Equal(t, carousel.StatePages, c.View().State)
	assert.Nil(t, c.View().Error)
}

func TestCarousel_Empty(t *testing.T) {
	c, _ := newCarousel(t)
	c.SetPages(nil)

	v := c.View()
	assert.Equal(t, carousel.StateEmpty, v.State)
	assert.Empty(t, v.Pages)
	assert.Equal(t, 0, v.TotalPages)
}

func TestCarousel_MinimizeExpand(t *testing.T) {
	c, _ := newCarousel(t)

	c.Minimize()
	assert.True(t, c.View().Minimized)
	assert.Equal(t, "Carousel minimized", c.View().Announcement)

	c.ToggleMinimized()
	assert.False(t, c.View().Minimized)
	assert.Equal(t, "Carousel expanded", c.View().Announcement)

	c.Minimize()
	c.SetPages(pages(2))
	assert.False(t, c.View().Minimized, "new pages expand the carousel")

	c.Minimize()
	c.SetPages(nil)
	assert.True(t, c.View().Minimized, "an empty set keeps it minimized")
}

func TestCarousel_AlertAnnouncement(t *testing.T) {
	c, _ := newCarousel(t)
	p := pages(2)
	p[0].AlertCount = 2
	p[1].AlertCount = 1

	c.SetPages(p)
	assert.Equal(t, "Alert: 3 sensors outside normal range", c.View().Announcement)

	p[0].AlertCount = 0
	c.SetPages(p)
	assert.Equal(t, "Alert: 1 sensor outside normal range", c.View().Announcement)
}

func TestCarousel_Subscribe(t *testing.T) {
	c, _ := newCarousel(t)

	var seen []int
	unsubscribe := c.Subscribe(func(v carousel.View) {
		seen = append(seen, v.CurrentPage)
	})

	c.SetPages(pages(3))
	c.Next()
	unsubscribe()
	c.Next()

	assert.Equal(t, []int{0, 1}, seen)
}

func TestCarousel_SetLoading(t *testing.T) {
	c, _ := newCarousel(t)

	c.ShowError(carousel.ErrorInfo{Title: carousel.ErrorTitle, Detail: "Retrying... (3/3)"})
	c.SetLoading()
	v := c.View()
	assert.Equal(t, carousel.StateLoading, v.State)
	assert.Nil(t, v.Error)

	c.SetPages(pages(2))
	c.SetLoading()
	assert.Equal(t, carousel.StatePages, c.View().State, "pages on screen stay rendered")
	assert.Equal(t, 2, c.View().TotalPages)
}
