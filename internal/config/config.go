// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/watermonitor/watermonitor/internal/database"
)

// Store backends.
const (
	BackendFirebase = "firebase"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds runtime configuration for the API and worker processes.
type Config struct {
	Port       string
	Env        string
	RequireTLS bool

	StoreBackend    string
	FirebaseBaseURL string
	FirebaseAuth    string

	AutoInterval     time.Duration
	RefreshInterval  time.Duration
	InteractionPause time.Duration
	SwipeThreshold   float64
	CacheTTL         time.Duration

	SnapshotStaleThreshold time.Duration

	// Per-request retry inside the store client.
	FetchMaxAttempts int
	FetchRetryDelay  time.Duration

	// Automatic retries of a failed refresh cycle.
	RefreshMaxRetries int
	RefreshRetryDelay time.Duration

	MonitorInterval       time.Duration
	MonitorStaleThreshold time.Duration

	// Location reading keys are written in.
	Location *time.Location

	NATSURL          string
	NATSAlertSubject string

	PubSubProjectID    string
	PubSubSubscription string

	OTelEnabled     bool
	OTLPEndpoint    string
	OTelSampleRatio float64

	Database database.Config
}

// Load reads configuration from environment variables, optionally seeded from
// a .env file in the working directory. Invalid values are reported together.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	var errs []error
	cfg := Config{
		Port:               stringEnv("APP_PORT", "8080"),
		Env:                stringEnv("APP_ENV", "development"),
		RequireTLS:         boolEnv("REQUIRE_TLS"),
		StoreBackend:       strings.ToLower(stringEnv("STORE_BACKEND", BackendFirebase)),
		FirebaseBaseURL:    stringEnv("FIREBASE_BASE_URL", ""),
		FirebaseAuth:       stringEnv("FIREBASE_AUTH", ""),
		NATSURL:            stringEnv("NATS_URL", ""),
		NATSAlertSubject:   stringEnv("NATS_ALERT_SUBJECT", "waterquality.alerts.dataflow"),
		PubSubProjectID:    stringEnv("PUBSUB_PROJECT_ID", ""),
		PubSubSubscription: stringEnv("PUBSUB_SUBSCRIPTION", ""),
		OTelEnabled:        boolEnv("OTEL_ENABLED"),
		OTLPEndpoint:       stringEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Database:           database.ConfigFromEnv(),
	}

	cfg.AutoInterval = durationEnv("CAROUSEL_AUTO_INTERVAL", 7*time.Second, &errs)
	cfg.RefreshInterval = durationEnv("CAROUSEL_REFRESH_INTERVAL", 30*time.Second, &errs)
	cfg.InteractionPause = durationEnv("CAROUSEL_INTERACTION_PAUSE", 2200*time.Millisecond, &errs)
	cfg.SwipeThreshold = floatEnv("CAROUSEL_SWIPE_THRESHOLD_PX", 80, &errs)
	cfg.CacheTTL = durationEnv("CACHE_TTL", 25*time.Second, &errs)
	cfg.SnapshotStaleThreshold = durationEnv("SNAPSHOT_STALE_THRESHOLD", 30*time.Minute, &errs)
	cfg.FetchMaxAttempts = intEnv("FETCH_MAX_ATTEMPTS", 3, &errs)
	cfg.FetchRetryDelay = durationEnv("FETCH_RETRY_DELAY", 2*time.Second, &errs)
	cfg.RefreshMaxRetries = intEnv("REFRESH_MAX_RETRIES", 3, &errs)
	cfg.RefreshRetryDelay = durationEnv("REFRESH_RETRY_DELAY", 2*time.Second, &errs)
	cfg.MonitorInterval = durationEnv("MONITOR_INTERVAL", 5*time.Minute, &errs)
	cfg.MonitorStaleThreshold = durationEnv("MONITOR_STALE_THRESHOLD", 30*time.Minute, &errs)
	cfg.OTelSampleRatio = floatEnv("OTEL_TRACE_SAMPLE_RATIO", 1, &errs)

	cfg.Location = time.Local
	if name := stringEnv("READINGS_TIMEZONE", ""); name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid READINGS_TIMEZONE: %w", err))
		} else {
			cfg.Location = loc
		}
	}

	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendFirebase:
		if c.FirebaseBaseURL == "" {
			errs = append(errs, errors.New("FIREBASE_BASE_URL is required for the firebase backend"))
		} else if u, err := url.Parse(c.FirebaseBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid FIREBASE_BASE_URL %q", c.FirebaseBaseURL))
		}
	case BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	positive := map[string]time.Duration{
		"CAROUSEL_AUTO_INTERVAL":     c.AutoInterval,
		"CAROUSEL_REFRESH_INTERVAL":  c.RefreshInterval,
		"CAROUSEL_INTERACTION_PAUSE": c.InteractionPause,
		"CACHE_TTL":                  c.CacheTTL,
		"SNAPSHOT_STALE_THRESHOLD":   c.SnapshotStaleThreshold,
		"FETCH_RETRY_DELAY":          c.FetchRetryDelay,
		"REFRESH_RETRY_DELAY":        c.RefreshRetryDelay,
		"MONITOR_INTERVAL":           c.MonitorInterval,
		"MONITOR_STALE_THRESHOLD":    c.MonitorStaleThreshold,
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.SwipeThreshold <= 0 {
		errs = append(errs, errors.New("CAROUSEL_SWIPE_THRESHOLD_PX must be positive"))
	}
	if c.FetchMaxAttempts < 1 {
		errs = append(errs, errors.New("FETCH_MAX_ATTEMPTS must be at least 1"))
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLE_RATIO must be between 0 and 1"))
	}
	if c.RefreshMaxRetries < 1 {
		errs = append(errs, errors.New("REFRESH_MAX_RETRIES must be at least 1"))
	}
	return errors.Join(errs...)
}

// PubSubEnabled reports whether the worker should subscribe to Pub/Sub.
func (c Config) PubSubEnabled() bool {
	return c.PubSubProjectID != "" && c.PubSubSubscription != ""
}

func stringEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func boolEnv(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return v == "1" || strings.EqualFold(v, "true")
}

func durationEnv(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func intEnv(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func floatEnv(key string, def float64, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return f
}

func sortedKeys(m map[string]time.Duration) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
