package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/watermonitor/watermonitor/internal/api/models"
	"github.com/watermonitor/watermonitor/internal/api/response"
	"github.com/watermonitor/watermonitor/internal/report"
	"github.com/watermonitor/watermonitor/internal/telemetry"
)

// ReportHandler serves history reports.
type ReportHandler struct {
	engine  *report.Engine
	metrics *telemetry.DashboardMetrics
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(engine *report.Engine, metrics *telemetry.DashboardMetrics) *ReportHandler {
	return &ReportHandler{engine: engine, metrics: metrics}
}

// Combined handles GET /v1/reports/combined?stations=a,b&date=YYYY-MM-DD.
// Both parameters are optional.
func (h *ReportHandler) Combined(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ids []string
	for _, id := range strings.Split(q.Get("stations"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	rep, err := h.engine.BuildCombined(r.Context(), ids, q.Get("date"))
	h.write(w, r, "combined", rep, err)
}

// Daily handles GET /v1/reports/stations/{stationId}?date=YYYY-MM-DD.
func (h *ReportHandler) Daily(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stationId")
	date := r.URL.Query().Get("date")
	if date == "" {
		response.BadRequest(w, r, "date is required", []models.FieldError{
			{Field: "date", Message: "is required", Code: "required"},
		})
		return
	}

	rep, err := h.engine.BuildDaily(r.Context(), id, date)
	h.write(w, r, "daily", rep, err)
}

func (h *ReportHandler) write(w http.ResponseWriter, r *http.Request, kind string, rep any, err error) {
	switch {
	case err == nil:
		h.metrics.RecordReport(r.Context(), kind, telemetry.OutcomeSuccess)
		response.JSON(w, r, http.StatusOK, models.ReportResponse{Status: models.ReportStatusOK, Report: rep})
	case errors.Is(err, report.ErrNoData):
		h.metrics.RecordReport(r.Context(), kind, telemetry.OutcomeNoData)
		response.JSON(w, r, http.StatusOK, models.ReportResponse{
			Status:  models.ReportStatusNoData,
			Message: "No data for this selection",
		})
	default:
		h.metrics.RecordReport(r.Context(), kind, telemetry.OutcomeFailure)
		writeStoreError(w, r, err)
	}
}
