package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// LogSink writes every alert set to the logger.
type LogSink struct {
	Logger zerolog.Logger
}

// Publish logs each stale station, or that every station is reporting.
func (s LogSink) Publish(_ context.Context, alert Alert) error {
	if !alert.Active() {
		s.Logger.Info().Time("checked_at", alert.CheckedAt).Msg("data flow ok: all stations reporting")
		return nil
	}
	for _, st := range alert.Stations {
		s.Logger.Warn().
			Str("station_id", st.StationID).
			Str("station_name", st.Name).
			Time("last_timestamp", st.LastTimestamp).
			Str("time_since", st.TimeSince).
			Bool("from_memory", st.FromMemory).
			Msg("station has not sent data recently")
	}
	s.Logger.Warn().Int("stale_stations", len(alert.Stations)).Msg("data flow alert")
	return nil
}

// Event types published by the NATS sink.
const (
	EventTypeStale   = "io.watermonitor.dataflow.stale"
	EventTypeCleared = "io.watermonitor.dataflow.cleared"
)

// DefaultAlertSubject is the NATS subject alert events are published on.
const DefaultAlertSubject = "waterquality.alerts.dataflow"

// Event is the CloudEvents envelope of an alert set.
type Event struct {
	SpecVersion     string     `json:"specversion"`
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	Type            string     `json:"type"`
	DataContentType string     `json:"datacontenttype"`
	Subject         string     `json:"subject"`
	Time            *time.Time `json:"time,omitempty"`
	Data            Alert      `json:"data"`
}

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSSink publishes every alert set as an event on a NATS subject.
type NATSSink struct {
	conn    Publisher
	subject string
	source  string
}

// NewNATSSink creates a NATS sink. An empty subject uses DefaultAlertSubject.
func NewNATSSink(conn Publisher, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultAlertSubject
	}
	return &NATSSink{conn: conn, subject: subject, source: "watermonitor/monitor"}
}

// Publish marshals the alert into an event and publishes it.
func (s *NATSSink) Publish(_ context.Context, alert Alert) error {
	eventType := EventTypeStale
	if !alert.Active() {
		eventType = EventTypeCleared
	}
	checked := alert.CheckedAt
	event := Event{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          s.source,
		Type:            eventType,
		DataContentType: "application/json",
		Subject:         s.subject,
		Time:            &checked,
		Data:            alert,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal data flow event: %w", err)
	}
	if err := s.conn.Publish(s.subject, payload); err != nil {
		return fmt.Errorf("publish data flow event: %w", err)
	}
	return nil
}

// ConnectNATS dials a NATS server for the alert sink, reconnecting
// indefinitely in the background.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("watermonitor"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}
