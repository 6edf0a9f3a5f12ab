package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/watermonitor/watermonitor/internal/api/models"
	"github.com/watermonitor/watermonitor/internal/api/response"
	"github.com/watermonitor/watermonitor/internal/carousel"
)

// controlTimeout bounds a refresh started from a control endpoint. The cycle
// updates the shared cache, so it outlives the requesting client.
const controlTimeout = 30 * time.Second

func controlContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), controlTimeout)
}

// CarouselHandler exposes the dashboard carousel.
type CarouselHandler struct {
	dashboard *carousel.Dashboard
}

// NewCarouselHandler creates a new CarouselHandler.
func NewCarouselHandler(d *carousel.Dashboard) *CarouselHandler {
	return &CarouselHandler{dashboard: d}
}

// GetView handles GET /v1/carousel - current render state.
func (h *CarouselHandler) GetView(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.dashboard.View())
}

// GetStats handles GET /v1/carousel/stats - diagnostic counters.
func (h *CarouselHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.dashboard.Stats())
}

// Refresh handles POST /v1/carousel/refresh - force a refresh cycle.
// A failed cycle is reported through the view's error state.
func (h *CarouselHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := controlContext(r)
	defer cancel()
	_ = h.dashboard.Refresh(ctx)
	response.JSON(w, r, http.StatusOK, h.dashboard.View())
}

// Retry handles POST /v1/carousel/retry - the error state's retry action.
func (h *CarouselHandler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := controlContext(r)
	defer cancel()
	_ = h.dashboard.Retry(ctx)
	response.JSON(w, r, http.StatusOK, h.dashboard.View())
}

// Action handles POST /v1/carousel/{action} - navigation and minimize controls.
func (h *CarouselHandler) Action(w http.ResponseWriter, r *http.Request) {
	c := h.dashboard.Carousel()
	actions := map[string]func(){
		"next":     c.Next,
		"prev":     c.Prev,
		"home":     c.Home,
		"end":      c.End,
		"minimize": c.Minimize,
		"expand":   c.Expand,
		"toggle":   c.ToggleMinimized,
	}

	action := chi.URLParam(r, "action")
	fn, ok := actions[action]
	if !ok {
		response.NotFound(w, r, "unknown carousel action "+strconv.Quote(action))
		return
	}
	fn()
	response.JSON(w, r, http.StatusOK, h.dashboard.View())
}

// GotoPage handles POST /v1/carousel/pages/{index} - jump to a page.
func (h *CarouselHandler) GotoPage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		response.BadRequest(w, r, "page index must be an integer", []models.FieldError{
			{Field: "index", Message: "must be an integer", Code: "invalid"},
		})
		return
	}
	if err := h.dashboard.Carousel().Goto(index); err != nil {
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "index", Message: "out of range", Code: "out_of_range"},
		})
		return
	}
	response.JSON(w, r, http.StatusOK, h.dashboard.View())
}

// Drag handles POST /v1/carousel/drag - a completed swipe or mouse drag.
func (h *CarouselHandler) Drag(w http.ResponseWriter, r *http.Request) {
	var input models.DragRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	var fieldErrors []models.FieldError
	if input.StartX == nil {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "startX", Message: "is required", Code: "required"})
	}
	if input.EndX == nil {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "endX", Message: "is required", Code: "required"})
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "validation failed", fieldErrors)
		return
	}

	h.dashboard.Carousel().Drag(*input.StartX, *input.EndX)
	response.JSON(w, r, http.StatusOK, h.dashboard.View())
}

// SetVisibility handles PUT /v1/carousel/visibility - page visibility change.
func (h *CarouselHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var input models.VisibilityRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if input.Visible == nil {
		response.BadRequest(w, r, "validation failed", []models.FieldError{
			{Field: "visible", Message: "is required", Code: "required"},
		})
		return
	}

	// A failed refetch surfaces in the view's error state.
	ctx, cancel := controlContext(r)
	defer cancel()
	_ = h.dashboard.SetVisible(ctx, *input.Visible)
	response.JSON(w, r, http.StatusOK, h.dashboard.View())
}
