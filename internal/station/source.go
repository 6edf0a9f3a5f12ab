package station

import "context"

// Source defines the read interface the dashboard expects from the station
// store. Implementations never write.
type Source interface {
	// Metadata fetches every station's metadata keyed by station id.
	Metadata(ctx context.Context) (map[string]*Metadata, error)

	// StationMetadata fetches one station's metadata. It returns
	// ErrStationNotFound when the station has none.
	StationMetadata(ctx context.Context, stationID string) (*Metadata, error)

	// Readings fetches a station's full data node.
	Readings(ctx context.Context, stationID string) (Readings, error)

	// LatestReadings fetches the last n children of a station's data node
	// ordered by key. Placeholder children are never returned, so a station
	// holding only placeholders yields an empty set.
	LatestReadings(ctx context.Context, stationID string, n int) (Readings, error)
}
