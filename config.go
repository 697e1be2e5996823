// config.go: configuration for Charon domains
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package charon

import (
	"github.com/agilira/go-timecache"
)

// Config holds configuration parameters for a reclamation domain.
type Config struct {
	// SlotsPerRecord is the number of hazard cells each record carries.
	// Must be > 0. Default: DefaultSlotsPerRecord.
	SlotsPerRecord int

	// ScanMultiplier scales the scan threshold against the total number
	// of hazard cells: a retire shard is scanned once its length exceeds
	// max(MinRetired, ScanMultiplier * cells). This bounds amortised
	// per-retire work to O(1) and pending memory to O(cells).
	// Must be > 0. Default: DefaultScanMultiplier.
	ScanMultiplier int

	// MinRetired is the floor on the scan threshold, so small domains
	// still batch deletions instead of scanning on every retire.
	// Must be >= 0; a negative value is replaced by DefaultMinRetired.
	// Zero is kept and means no floor, so a zero-value Config has none;
	// DefaultConfig sets DefaultMinRetired.
	MinRetired int

	// DisableGrowth prevents the domain from allocating additional hazard
	// records when every cell is claimed. With growth disabled,
	// NewHazardPointer fails with ErrCodeSlotsExhausted instead.
	// Default: false (the domain grows on demand).
	DisableGrowth bool

	// Logger is used for debugging and monitoring.
	// If nil, NoOpLogger is used. Default: NoOpLogger.
	Logger Logger

	// TimeProvider provides current time for scan timestamps and latency
	// metrics. If nil, a default implementation is used. Default: system
	// time via go-timecache.
	TimeProvider TimeProvider

	// MetricsCollector is used for collecting reclamation metrics.
	// If nil, NoOpMetricsCollector is used (zero overhead).
	MetricsCollector MetricsCollector
}

// Validate checks configuration parameters and applies sensible defaults.
// Returns nil (no actual validation errors, only normalization).
//
// This method is automatically called by NewDomain, so you typically
// don't need to call it manually. However, it's provided as a public API
// if you want to inspect the normalized configuration before creating a
// domain.
//
// Default values applied:
//   - SlotsPerRecord: DefaultSlotsPerRecord (8) if <= 0
//   - ScanMultiplier: DefaultScanMultiplier (2) if <= 0
//   - MinRetired: DefaultMinRetired (64) if < 0
//   - Logger: NoOpLogger{} if nil
//   - TimeProvider: systemTimeProvider{} if nil
//   - MetricsCollector: NoOpMetricsCollector{} if nil
func (c *Config) Validate() error {
	if c.SlotsPerRecord <= 0 {
		c.SlotsPerRecord = DefaultSlotsPerRecord
	}

	if c.ScanMultiplier <= 0 {
		c.ScanMultiplier = DefaultScanMultiplier
	}

	if c.MinRetired < 0 {
		c.MinRetired = DefaultMinRetired
	}

	if c.Logger == nil {
		c.Logger = NoOpLogger{}
	}

	if c.TimeProvider == nil {
		c.TimeProvider = &systemTimeProvider{}
	}

	if c.MetricsCollector == nil {
		c.MetricsCollector = NoOpMetricsCollector{}
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SlotsPerRecord:   DefaultSlotsPerRecord,
		ScanMultiplier:   DefaultScanMultiplier,
		MinRetired:       DefaultMinRetired,
		Logger:           NoOpLogger{},
		TimeProvider:     &systemTimeProvider{},
		MetricsCollector: NoOpMetricsCollector{},
	}
}

// systemTimeProvider is the default time provider using go-timecache.
// This provides much faster time access compared to time.Now() with zero
// allocations, which matters on the retire and scan paths.
type systemTimeProvider struct{}

func (t *systemTimeProvider) Now() int64 {
	return timecache.CachedTimeNano()
}
