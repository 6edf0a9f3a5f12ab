package handler

import (
	"net/http"

	"github.com/watermonitor/watermonitor/internal/api/models"
	"github.com/watermonitor/watermonitor/internal/api/response"
	"github.com/watermonitor/watermonitor/internal/monitor"
)

// MonitorHandler serves the data flow alert.
type MonitorHandler struct {
	monitor *monitor.Monitor
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(m *monitor.Monitor) *MonitorHandler {
	return &MonitorHandler{monitor: m}
}

// GetStale handles GET /v1/monitor/stale - stations that stopped reporting.
func (h *MonitorHandler) GetStale(w http.ResponseWriter, r *http.Request) {
	alert := h.monitor.Current()
	out := models.StaleResponse{
		Checked:  h.monitor.Checked(),
		Stations: alert.Stations,
	}
	if out.Checked {
		ts := models.Timestamp(alert.CheckedAt)
		out.CheckedAt = &ts
	}
	if out.Stations == nil {
		out.Stations = []monitor.StaleStation{}
	}
	response.JSON(w, r, http.StatusOK, out)
}
