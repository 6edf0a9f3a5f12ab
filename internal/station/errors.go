package station

import "errors"

// Error taxonomy for reads against the station store.
var (
	// ErrTransient is a network or HTTP failure that may succeed on retry.
	ErrTransient = errors.New("transient network error")

	// ErrMalformedPayload is returned when the store returns an unexpected shape.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrPermissionDenied is propagated from the store unchanged in meaning.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStationNotFound is returned when a station has no metadata.
	ErrStationNotFound = errors.New("station not found")
)
