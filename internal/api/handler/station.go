package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/watermonitor/watermonitor/internal/api/models"
	"github.com/watermonitor/watermonitor/internal/api/response"
	"github.com/watermonitor/watermonitor/internal/carousel"
	"github.com/watermonitor/watermonitor/internal/station"
)

const staleListError = "snapshot refresh failed; serving the last good set"

// StationHandler serves station snapshots.
type StationHandler struct {
	controller *carousel.Controller
	service    *station.Service
}

// NewStationHandler creates a new StationHandler. Listing goes through the
// controller so it shares the dashboard's cache window.
func NewStationHandler(ctrl *carousel.Controller, svc *station.Service) *StationHandler {
	return &StationHandler{controller: ctrl, service: svc}
}

// ListStations handles GET /v1/stations - the cached snapshot set.
func (h *StationHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	res, err := h.controller.Refresh(r.Context(), false)
	set, fromCache := res.Set, res.FromCache
	if errors.Is(err, carousel.ErrSuperseded) {
		set, fromCache, err = h.controller.State().Cached, true, nil
	}
	stale := false
	if err != nil {
		set = h.controller.State().Cached
		fromCache, stale = true, true
	}
	if set == nil {
		if err == nil {
			err = errors.New("no snapshot set")
		}
		writeStoreError(w, r, err)
		return
	}

	out := models.StationList{
		Stations:       set.Snapshots,
		FailedStations: set.FailedStations,
		AlertCount:     set.AlertCount,
		FetchedAt:      models.Timestamp(set.FetchedAt),
		FromCache:      fromCache,
	}
	if stale {
		out.Stale, out.Error = true, staleListError
	}
	if out.Stations == nil {
		out.Stations = []station.Snapshot{}
	}
	response.JSON(w, r, http.StatusOK, out)
}

// GetStation handles GET /v1/stations/{stationId} - one freshly built snapshot.
func (h *StationHandler) GetStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stationId")
	if id == "" {
		response.BadRequest(w, r, "stationId is required", nil)
		return
	}

	snap, readings, err := h.service.FetchSnapshot(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.StationDetail{
		Snapshot:  snap,
		Deletable: station.Deletable(readings),
	})
}
