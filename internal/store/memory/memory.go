// Package memory provides an in-memory station Source.
// This is intended for testing and local demos. Production should use the
// firebase or postgres sources.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/watermonitor/watermonitor/internal/station"
)

// Store is an in-memory implementation of station.Source.
type Store struct {
	mu          sync.RWMutex
	metadata    map[string]*station.Metadata
	readings    map[string]station.Readings
	metadataErr error
	stationErrs map[string]error

	metadataCalls atomic.Int32
	readingsCalls atomic.Int32
	latestCalls   atomic.Int32
}

// New creates an empty store.
func New() *Store {
	return &Store{
		metadata:    make(map[string]*station.Metadata),
		readings:    make(map[string]station.Readings),
		stationErrs: make(map[string]error),
	}
}

// PutStation stores metadata and a placeholder data node for a station.
func (s *Store) PutStation(id string, md station.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpy := md
	s.metadata[id] = &cpy
	if _, ok := s.readings[id]; !ok {
		s.readings[id] = station.Readings{
			station.KeyInitialized: nil,
			station.KeyTimestamp:   nil,
		}
	}
}

// PutReading stores a reading under a timestamp key.
func (s *Store) PutReading(id, key string, r station.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readings[id] == nil {
		s.readings[id] = station.Readings{}
	}
	s.readings[id][key] = r
}

// DeleteReadings removes every child of a station's data node.
func (s *Store) DeleteReadings(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.readings, id)
}

// FailMetadata makes Metadata return err until cleared with nil.
func (s *Store) FailMetadata(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadataErr = err
}

// FailStation makes reads of a station's data node return err until cleared
// with nil.
func (s *Store) FailStation(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.stationErrs, id)
		return
	}
	s.stationErrs[id] = err
}

// MetadataCalls returns how many times Metadata was called.
func (s *Store) MetadataCalls() int {
	return int(s.metadataCalls.Load())
}

// ReadingsCalls returns how many times Readings was called.
func (s *Store) ReadingsCalls() int {
	return int(s.readingsCalls.Load())
}

// LatestCalls returns how many times LatestReadings was called.
func (s *Store) LatestCalls() int {
	return int(s.latestCalls.Load())
}

// Metadata returns a copy of every station's metadata.
func (s *Store) Metadata(_ context.Context) (map[string]*station.Metadata, error) {
	s.metadataCalls.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.metadataErr != nil {
		return nil, s.metadataErr
	}
	out := make(map[string]*station.Metadata, len(s.metadata))
	for id, md := range s.metadata {
		cpy := *md
		out[id] = &cpy
	}
	return out, nil
}

// StationMetadata returns a copy of one station's metadata.
func (s *Store) StationMetadata(_ context.Context, id string) (*station.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.metadataErr != nil {
		return nil, s.metadataErr
	}
	md, ok := s.metadata[id]
	if !ok {
		return nil, station.ErrStationNotFound
	}
	cpy := *md
	return &cpy, nil
}

// Readings returns a copy of a station's data node.
func (s *Store) Readings(_ context.Context, id string) (station.Readings, error) {
	s.readingsCalls.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.stationErrs[id]; err != nil {
		return nil, err
	}
	return copyReadings(s.readings[id], nil), nil
}

// LatestReadings returns the last n non-placeholder children of a station's
// data node ordered by key. Keys after station.LatestKeyBound are skipped.
func (s *Store) LatestReadings(_ context.Context, id string, n int) (station.Readings, error) {
	s.latestCalls.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.stationErrs[id]; err != nil {
		return nil, err
	}
	node := s.readings[id]
	keys := make([]string, 0, len(node))
	for k := range node {
		if station.IsReservedKey(k) || k > station.LatestKeyBound {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if n > 0 && len(keys) > n {
		keys = keys[len(keys)-n:]
	}
	return copyReadings(node, keys), nil
}

func copyReadings(src station.Readings, keys []string) station.Readings {
	if keys == nil {
		keys = make([]string, 0, len(src))
		for k := range src {
			keys = append(keys, k)
		}
	}
	out := make(station.Readings, len(keys))
	for _, k := range keys {
		r := src[k]
		if r == nil {
			out[k] = nil
			continue
		}
		cpy := make(station.Reading, len(r))
		for field, v := range r {
			cpy[field] = v
		}
		out[k] = cpy
	}
	return out
}
