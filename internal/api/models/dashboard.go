package models

import (
	"github.com/watermonitor/watermonitor/internal/monitor"
	"github.com/watermonitor/watermonitor/internal/station"
)

// Report outcome statuses.
const (
	ReportStatusOK     = "ok"
	ReportStatusNoData = "no_data"
)

// DragRequest is a completed drag gesture in pixels.
type DragRequest struct {
	StartX *float64 `json:"startX"`
	EndX   *float64 `json:"endX"`
}

// VisibilityRequest reports whether the dashboard is visible.
type VisibilityRequest struct {
	Visible *bool `json:"visible"`
}

// StationList is the cached snapshot set.
type StationList struct {
	Stations       []station.Snapshot `json:"stations"`
	FailedStations []string           `json:"failedStations,omitempty"`
	AlertCount     int                `json:"alertCount"`
	FetchedAt      Timestamp          `json:"fetchedAt"`
	FromCache      bool               `json:"fromCache"`

	// Stale is set when the refresh failed and the last good set is served.
	Stale bool   `json:"stale,omitempty"`
	Error string `json:"error,omitempty"`
}

// StationDetail is one station's freshly built snapshot.
type StationDetail struct {
	Snapshot station.Snapshot `json:"snapshot"`

	// Deletable is true when the station holds only placeholder entries.
	Deletable bool `json:"deletable"`
}

// ReportResponse wraps a report. An empty selection is reported with
// status "no_data" and no report.
type ReportResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Report  any    `json:"report,omitempty"`
}

// StaleResponse is the current data flow alert.
type StaleResponse struct {
	Checked   bool                   `json:"checked"`
	CheckedAt *Timestamp             `json:"checkedAt,omitempty"`
	Stations  []monitor.StaleStation `json:"stations"`
}
