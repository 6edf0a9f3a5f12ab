package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/watermonitor/watermonitor/internal/api/models"
	"github.com/watermonitor/watermonitor/internal/api/response"
	"github.com/watermonitor/watermonitor/internal/report"
	"github.com/watermonitor/watermonitor/internal/station"
)

const maxBodyBytes = 1 << 16

// transientRetryAfter is advertised to clients when the store is briefly
// unreachable.
const transientRetryAfter = 5 * time.Second

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeStoreError maps a station store or report failure onto a problem
// response.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, station.ErrStationNotFound):
		response.NotFound(w, r, err.Error())
	case errors.Is(err, report.ErrInvalidDate):
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "date", Message: "must be YYYY-MM-DD", Code: "invalid_format"},
		})
	case errors.Is(err, station.ErrPermissionDenied):
		response.ServiceUnavailable(w, r, "station store denied access")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, station.ErrTransient):
		response.RetryLater(w, r, "station store is unreachable", transientRetryAfter)
	case errors.Is(err, station.ErrMalformedPayload):
		response.ServiceUnavailable(w, r, "station store returned an unexpected payload")
	default:
		response.ServiceUnavailable(w, r, "station data is unavailable")
	}
}
