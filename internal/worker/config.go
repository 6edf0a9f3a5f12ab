// Package worker provides background job processing for the water quality
// dashboard.
package worker

import (
	"time"
)

// Job types accepted on the subscription.
const (
	JobSnapshotRefresh = "snapshot_refresh"
	JobStalenessCheck  = "staleness_check"
	JobHealthCheck     = "health_check"
	JobMirrorSync      = "mirror_sync"
)

// RefreshConfig holds configuration for the refresh job.
type RefreshConfig struct {
	// Timeout bounds one job run.
	// Default: 30 seconds
	Timeout time.Duration

	// HealthCheckTimeout bounds the store probe of a health check.
	// Default: 10 seconds
	HealthCheckTimeout time.Duration

	// MaxDegradedRatio is the share of stations that may degrade to missing
	// data before a snapshot refresh is reported as failed.
	// Default: 0.5
	MaxDegradedRatio float64
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Timeout:            30 * time.Second,
		HealthCheckTimeout: 10 * time.Second,
		MaxDegradedRatio:   0.5,
	}
}

func (c RefreshConfig) withDefaults() RefreshConfig {
	def := DefaultRefreshConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = def.HealthCheckTimeout
	}
	if c.MaxDegradedRatio <= 0 {
		c.MaxDegradedRatio = def.MaxDegradedRatio
	}
	return c
}
