// Package postgres serves station data from a PostgreSQL mirror of the
// realtime database and keeps that mirror in sync.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/watermonitor/watermonitor/internal/station"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var _ DB = (*pgxpool.Pool)(nil)

// Store implements station.Source over the mirror tables.
type Store struct {
	db     DB
	logger zerolog.Logger
}

// New creates a mirror-backed source.
func New(db DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

const listMetadataSQL = `
    SELECT station_id, payload
    FROM station_metadata
    ORDER BY station_id
`

const stationMetadataSQL = `
    SELECT payload
    FROM station_metadata
    WHERE station_id = $1
`

const readingsSQL = `
    SELECT reading_key, payload
    FROM station_readings
    WHERE station_id = $1
    ORDER BY reading_key
`

const latestReadingsSQL = `
    SELECT reading_key, payload
    FROM station_readings
    WHERE station_id = $1
      AND reading_key <> ALL($2)
      AND reading_key COLLATE "C" <= $3
    ORDER BY reading_key COLLATE "C" DESC
    LIMIT $4
`

// Metadata returns every station's metadata.
func (s *Store) Metadata(ctx context.Context) (map[string]*station.Metadata, error) {
	rows, err := s.db.Query(ctx, listMetadataSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: query metadata: %w", station.ErrTransient, err)
	}
	defer rows.Close()

	out := make(map[string]*station.Metadata)
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		md, err := decodeMetadata(id, payload)
		if err != nil {
			return nil, err
		}
		out[id] = md
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read metadata: %w", station.ErrTransient, err)
	}
	return out, nil
}

// StationMetadata returns one station's metadata.
func (s *Store) StationMetadata(ctx context.Context, stationID string) (*station.Metadata, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, stationMetadataSQL, stationID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, station.ErrStationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query metadata for %s: %w", station.ErrTransient, stationID, err)
	}
	return decodeMetadata(stationID, payload)
}

// Readings returns a station's full data node.
func (s *Store) Readings(ctx context.Context, stationID string) (station.Readings, error) {
	return s.queryReadings(ctx, readingsSQL, stationID)
}

// LatestReadings returns the last n non-placeholder readings by key. Keys
// sorting after station.LatestKeyBound are skipped, as the realtime database
// query does with endAt.
func (s *Store) LatestReadings(ctx context.Context, stationID string, n int) (station.Readings, error) {
	if n <= 0 {
		n = 1
	}
	reserved := []string{station.KeyInitialized, station.KeyTimestamp}
	return s.queryReadings(ctx, latestReadingsSQL, stationID, reserved, station.LatestKeyBound, n)
}

func (s *Store) queryReadings(ctx context.Context, sql string, args ...any) (station.Readings, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query readings: %w", station.ErrTransient, err)
	}
	defer rows.Close()

	readings := station.Readings{}
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readings[key] = station.DecodeReading(payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read readings: %w", station.ErrTransient, err)
	}
	return readings, nil
}

func decodeMetadata(id string, payload []byte) (*station.Metadata, error) {
	var md station.Metadata
	if err := json.Unmarshal(payload, &md); err != nil {
		return nil, fmt.Errorf("%w: metadata for %s: %v", station.ErrMalformedPayload, id, err)
	}
	return &md, nil
}
