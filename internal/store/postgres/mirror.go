package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/watermonitor/watermonitor/internal/station"
)

const upsertMetadataSQL = `INSERT INTO station_metadata (station_id, payload, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (station_id) DO UPDATE
SET payload = EXCLUDED.payload,
    updated_at = NOW()`

const upsertReadingSQL = `INSERT INTO station_readings (station_id, reading_key, payload, ingested_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (station_id, reading_key) DO UPDATE
SET payload = EXCLUDED.payload`

// MirrorResult summarizes one Mirror pass.
type MirrorResult struct {
	Stations int
	Readings int
	Failed   []string
}

// Mirror copies metadata and every station's timestamp-keyed readings from
// src into the mirror tables. A station whose read fails is skipped and
// reported.
func (s *Store) Mirror(ctx context.Context, src station.Source) (MirrorResult, error) {
	var result MirrorResult

	md, err := src.Metadata(ctx)
	if err != nil {
		return result, fmt.Errorf("read source metadata: %w", err)
	}

	ids := station.SortedIDs(md)
	metaBatch := &pgx.Batch{}
	queued := 0
	for _, id := range ids {
		if md[id] == nil {
			continue
		}
		payload, err := json.Marshal(md[id])
		if err != nil {
			return result, fmt.Errorf("encode metadata for %s: %w", id, err)
		}
		metaBatch.Queue(upsertMetadataSQL, id, payload)
		queued++
	}
	if err := s.sendBatch(ctx, metaBatch, queued); err != nil {
		return result, fmt.Errorf("upsert metadata: %w", err)
	}
	result.Stations = queued

	for _, id := range ids {
		readings, err := src.Readings(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("station_id", id).Msg("mirror read failed")
			result.Failed = append(result.Failed, id)
			continue
		}

		batch, n, err := readingsBatch(id, readings)
		if err != nil {
			return result, err
		}
		if err := s.sendBatch(ctx, batch, n); err != nil {
			return result, fmt.Errorf("upsert readings for %s: %w", id, err)
		}
		result.Readings += n
	}

	s.logger.Info().
		Int("stations", result.Stations).
		Int("readings", result.Readings).
		Int("failed", len(result.Failed)).
		Msg("mirror sync complete")

	return result, nil
}

func readingsBatch(id string, readings station.Readings) (*pgx.Batch, int, error) {
	batch := &pgx.Batch{}
	n := 0
	for _, key := range readings.Keys() {
		var payload []byte
		if r := readings[key]; r != nil {
			b, err := json.Marshal(r)
			if err != nil {
				return nil, 0, fmt.Errorf("encode reading %s/%s: %w", id, key, err)
			}
			payload = b
		}
		batch.Queue(upsertReadingSQL, id, key, payload)
		n++
	}
	return batch, n, nil
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	if n == 0 {
		return nil
	}
	res := s.db.SendBatch(ctx, batch)
	defer res.Close()

	for i := 0; i < n; i++ {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}
