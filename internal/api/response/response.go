// Package response writes JSON and problem+json responses for the dashboard
// API.
package response

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/watermonitor/watermonitor/internal/api/middleware"
	"github.com/watermonitor/watermonitor/internal/api/models"
)

// JSON writes data with the given status code and echoes the request ID.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error writes a problem for the current request path.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.WithInstance(r.URL.Path).Write(w)
}

// BadRequest writes a 400 validation problem with per-field errors.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(middleware.GetRequestID(r.Context()), detail, errors))
}

// NotFound writes a 404 problem.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(middleware.GetRequestID(r.Context()), detail))
}

// ServiceUnavailable writes a 503 problem for a station store failure the
// client cannot fix by changing the request.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(middleware.GetRequestID(r.Context()), detail))
}

// RetryLater writes a 503 problem with a Retry-After header, for transient
// store failures. Sub-second delays are rounded up to one second.
func RetryLater(w http.ResponseWriter, r *http.Request, detail string, after time.Duration) {
	if after > 0 {
		secs := int(math.Ceil(after.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	ServiceUnavailable(w, r, detail)
}
