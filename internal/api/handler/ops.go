// Package handler provides HTTP handlers for the dashboard API.
package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/watermonitor/watermonitor/internal/api/models"
	"github.com/watermonitor/watermonitor/internal/api/response"
	"github.com/watermonitor/watermonitor/internal/carousel"
	"github.com/watermonitor/watermonitor/internal/monitor"
	"github.com/watermonitor/watermonitor/internal/provider/resilience"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	dashboard *carousel.Dashboard
	monitor   *monitor.Monitor
	providers *resilience.Registry
}

// NewOpsHandler creates a new OpsHandler. Any of the subsystems may be nil.
func NewOpsHandler(version, buildTime string, d *carousel.Dashboard, m *monitor.Monitor, providers *resilience.Registry) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		dashboard: d,
		monitor:   m,
		providers: providers,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - ready once the dashboard has
// completed one successful fetch.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.dashboard != nil && !h.dashboard.Controller().State().Fetched {
		response.ServiceUnavailable(w, r, "station data has not been loaded yet")
		return
	}
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.dashboard != nil {
		status.Subsystems = append(status.Subsystems, dashboardStatus(h.dashboard.Controller().State()))
	}
	if h.monitor != nil {
		status.Subsystems = append(status.Subsystems, monitorStatus(h.monitor))
	}
	if h.providers != nil {
		for _, p := range h.providers.GetAllHealth() {
			ps := models.ProviderStatus{
				Provider:      p.Name,
				Status:        providerStatus(p),
				LastSuccessAt: models.TimestampPtr(p.LastSuccessAt),
				LastFailureAt: models.TimestampPtr(p.LastFailureAt),
			}
			if p.LastError != "" {
				msg := p.LastError
				ps.Message = &msg
			}
			status.Providers = append(status.Providers, ps)
		}
	}

	for _, s := range status.Subsystems {
		status.Status = worst(status.Status, s.Status)
		if s.Status != models.HealthStatusOK {
			status.ActiveDegradationFlags = append(status.ActiveDegradationFlags, s.Name)
		}
	}
	for _, p := range status.Providers {
		status.Status = worst(status.Status, p.Status)
	}

	response.JSON(w, r, http.StatusOK, status)
}

func dashboardStatus(st carousel.ControllerState) models.SubsystemStatus {
	s := models.SubsystemStatus{Name: "dashboard", Status: models.HealthStatusOK}
	switch {
	case st.LastError != nil && !st.Fetched:
		s.Status = models.HealthStatusFail
	case st.LastError != nil:
		s.Status = models.HealthStatusDegraded
	}
	if st.LastError != nil {
		detail := st.LastError.Error()
		s.Detail = &detail
	}
	return s
}

func monitorStatus(m *monitor.Monitor) models.SubsystemStatus {
	s := models.SubsystemStatus{Name: "data-flow", Status: models.HealthStatusOK}
	if alert := m.Current(); alert.Active() {
		s.Status = models.HealthStatusDegraded
		detail := fmt.Sprintf("%d station(s) not reporting", len(alert.Stations))
		s.Detail = &detail
	}
	return s
}

func providerStatus(p *resilience.ProviderHealth) models.HealthStatus {
	switch {
	case p.IsUnhealthy():
		return models.HealthStatusFail
	case p.IsDegraded():
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
