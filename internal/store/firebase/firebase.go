// Package firebase reads station data from a realtime-database REST endpoint.
//
// Layout:
//
//	/unitsMetadata/{stationId}   station metadata
//	/{stationId}/{timestampKey}  reading records, plus "initialized" and
//	                             "timestamp" placeholder children
package firebase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/watermonitor/watermonitor/internal/provider/resilience"
	"github.com/watermonitor/watermonitor/internal/station"
)

const metadataNode = "unitsMetadata"

// Config holds configuration for the realtime-database source.
type Config struct {
	// BaseURL is the database root, e.g. https://project-default-rtdb.firebaseio.com.
	BaseURL string

	// Auth is an optional database secret or ID token sent as ?auth=.
	Auth string

	// Client performs the fetches. Default: a resilience client named "firebase".
	Client *resilience.Client

	// Logger for store operations.
	Logger zerolog.Logger
}

// Store implements station.Source over the REST API.
type Store struct {
	base   *url.URL
	auth   string
	client *resilience.Client
	logger zerolog.Logger
}

// New creates a realtime-database source.
func New(cfg Config) (*Store, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("firebase base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse firebase base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("firebase base URL %q must be absolute", cfg.BaseURL)
	}

	client := cfg.Client
	if client == nil {
		rc := resilience.DefaultClientConfig("firebase")
		rc.Logger = cfg.Logger
		rc.Registry = resilience.GlobalRegistry
		client = resilience.NewClient(rc)
	}

	return &Store{
		base:   base,
		auth:   cfg.Auth,
		client: client,
		logger: cfg.Logger,
	}, nil
}

// Metadata fetches every station's metadata.
func (s *Store) Metadata(ctx context.Context) (map[string]*station.Metadata, error) {
	raw, err := s.get(ctx, nil, metadataNode)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	return station.DecodeMetadata(raw)
}

// StationMetadata fetches one station's metadata.
func (s *Store) StationMetadata(ctx context.Context, stationID string) (*station.Metadata, error) {
	raw, err := s.get(ctx, nil, metadataNode, stationID)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata for %s: %w", stationID, err)
	}
	if isNull(raw) {
		return nil, station.ErrStationNotFound
	}
	var md station.Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("%w: metadata for %s: %v", station.ErrMalformedPayload, stationID, err)
	}
	return &md, nil
}

// Readings fetches a station's full data node.
func (s *Store) Readings(ctx context.Context, stationID string) (station.Readings, error) {
	raw, err := s.get(ctx, nil, stationID)
	if err != nil {
		return nil, fmt.Errorf("fetch readings for %s: %w", stationID, err)
	}
	return station.DecodeReadings(raw)
}

// LatestReadings fetches the last n reading records of a station by key.
func (s *Store) LatestReadings(ctx context.Context, stationID string, n int) (station.Readings, error) {
	if n <= 0 {
		n = 1
	}
	q := url.Values{}
	q.Set("orderBy", `"$key"`)
	q.Set("endAt", strconv.Quote(station.LatestKeyBound))
	q.Set("limitToLast", strconv.Itoa(n))

	raw, err := s.get(ctx, q, stationID)
	if err != nil {
		return nil, fmt.Errorf("fetch latest readings for %s: %w", stationID, err)
	}
	readings, err := station.DecodeReadings(raw)
	if err != nil {
		return nil, err
	}
	for k := range readings {
		if station.IsReservedKey(k) {
			delete(readings, k)
		}
	}
	return readings, nil
}

func (s *Store) get(ctx context.Context, q url.Values, segments ...string) (json.RawMessage, error) {
	u := s.nodeURL(q, segments...)
	var raw json.RawMessage
	if err := s.client.GetJSON(ctx, u, &raw); err != nil {
		return nil, classify(err)
	}
	return raw, nil
}

func (s *Store) nodeURL(q url.Values, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}

	u := *s.base
	u.Path = s.base.Path + "/" + strings.Join(segments, "/") + ".json"
	u.RawPath = s.base.EscapedPath() + "/" + strings.Join(escaped, "/") + ".json"

	if s.auth != "" {
		if q == nil {
			q = url.Values{}
		}
		q.Set("auth", s.auth)
	}
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// classify maps fetch-engine failures onto the station error taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, resilience.ErrMalformedResponse):
		return fmt.Errorf("%w: %w", station.ErrMalformedPayload, err)
	case errors.Is(err, resilience.ErrUnauthorized):
		return fmt.Errorf("%w: %w", station.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", station.ErrTransient, err)
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
