// Package station provides station metadata, raw readings and the
// normalized per-station snapshots shown by the dashboard.
package station

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Reserved keys mark placeholder records written when a station is created.
const (
	KeyInitialized = "initialized"
	KeyTimestamp   = "timestamp"
)

// LatestKeyBound sorts after every timestamp key and before the placeholder
// keys and any other lowercase key, so "latest" queries bounded by it only
// see digit-led keys.
const LatestKeyBound = "9999"

// IsReservedKey reports whether key is a placeholder key.
func IsReservedKey(key string) bool {
	return key == KeyInitialized || key == KeyTimestamp
}

// Metadata describes a monitoring station.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	AddedBy     string   `json:"addedBy,omitempty"`
}

// Validate checks the coordinate ranges.
func (m Metadata) Validate() error {
	if m.Latitude != nil && (*m.Latitude < -90 || *m.Latitude > 90) {
		return fmt.Errorf("latitude %v out of range [-90, 90]", *m.Latitude)
	}
	if m.Longitude != nil && (*m.Longitude < -180 || *m.Longitude > 180) {
		return fmt.Errorf("longitude %v out of range [-180, 180]", *m.Longitude)
	}
	return nil
}

// DisplayName returns the station name, falling back to id.
func (m *Metadata) DisplayName(id string) string {
	if m == nil || strings.TrimSpace(m.Name) == "" {
		return id
	}
	return m.Name
}

// Suffix returns the numeric suffix used to disambiguate per-station field
// names, e.g. "1" for "unit_1".
func Suffix(stationID string) string {
	if i := strings.LastIndex(stationID, "_"); i >= 0 {
		return stationID[i+1:]
	}
	return stationID
}

// Reading maps field names (e.g. "ph_1") to raw values.
type Reading map[string]any

// Value resolves a metric field, preferring the suffixed field and falling
// back to the unsuffixed one.
func (r Reading) Value(base, suffix string) (any, bool) {
	if r == nil {
		return nil, false
	}
	if suffix != "" {
		if v, ok := r[base+"_"+suffix]; ok {
			return v, true
		}
	}
	v, ok := r[base]
	return v, ok
}

// Readings maps timestamp keys to readings. Placeholder and other non-object
// children are kept with a nil Reading.
type Readings map[string]Reading

// Keys returns the valid, non-reserved timestamp keys in ascending order.
func (r Readings) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		if IsReservedKey(k) || !IsTimestampKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Latest returns the lexicographically greatest timestamp key.
func (r Readings) Latest() (string, bool) {
	latest := ""
	for k := range r {
		if IsReservedKey(k) || !IsTimestampKey(k) {
			continue
		}
		if k > latest {
			latest = k
		}
	}
	return latest, latest != ""
}

// Deletable reports whether a station's data node holds nothing but
// placeholder entries. A station with any real reading is undeletable.
func Deletable(r Readings) bool {
	for k := range r {
		if !IsReservedKey(k) {
			return false
		}
	}
	return true
}

// DecodeReadings decodes a station data node. A JSON null decodes to an empty
// set; anything but an object is a malformed payload.
func DecodeReadings(raw json.RawMessage) (Readings, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Readings{}, nil
	}

	var children map[string]json.RawMessage
	if err := json.Unmarshal(raw, &children); err != nil {
		return nil, fmt.Errorf("%w: station data is not a mapping: %v", ErrMalformedPayload, err)
	}

	readings := make(Readings, len(children))
	for key, child := range children {
		readings[key] = DecodeReading(child)
	}
	return readings, nil
}

// DecodeReading decodes one child of a data node. Anything but an object is a
// nil reading.
func DecodeReading(raw json.RawMessage) Reading {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var reading Reading
	if err := dec.Decode(&reading); err != nil {
		return nil
	}
	return reading
}

// DecodeMetadata decodes the metadata node. A JSON null decodes to an empty
// set; anything but a mapping of objects is a malformed payload.
func DecodeMetadata(raw json.RawMessage) (map[string]*Metadata, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]*Metadata{}, nil
	}

	var children map[string]json.RawMessage
	if err := json.Unmarshal(raw, &children); err != nil {
		return nil, fmt.Errorf("%w: metadata is not a mapping: %v", ErrMalformedPayload, err)
	}

	out := make(map[string]*Metadata, len(children))
	for id, child := range children {
		var m Metadata
		if err := json.Unmarshal(child, &m); err != nil {
			return nil, fmt.Errorf("%w: metadata for %s: %v", ErrMalformedPayload, id, err)
		}
		out[id] = &m
	}
	return out, nil
}

// SortedIDs returns the station ids of md in ascending order.
func SortedIDs(md map[string]*Metadata) []string {
	ids := make([]string, 0, len(md))
	for id := range md {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
