// hot-reload.go: dynamic domain tuning with Argus integration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package charon

import (
	"fmt"
	"sync"
	"time"

	"github.com/agilira/argus"
)

// HotConfig provides dynamic tuning reload capabilities using Argus.
// It watches a configuration file and automatically retunes a domain's
// scan threshold when changes are detected. Retire thresholds are a
// deployment-time trade between memory overhead and scan frequency;
// watching them lets operators adjust a hot process without restarting.
type HotConfig struct {
	domain  *Domain
	watcher *argus.Watcher
	logger  Logger
	mu      sync.RWMutex
	config  Config

	// OnReload is called after configuration is successfully reloaded.
	// This callback is optional and must be fast and non-blocking.
	OnReload func(oldConfig, newConfig Config)
}

// HotConfigOptions configures hot reload behavior.
type HotConfigOptions struct {
	// ConfigPath is the path to the configuration file to watch.
	// Supports JSON, YAML, TOML, HCL, INI, Properties formats.
	ConfigPath string

	// PollInterval is how often to check for configuration changes.
	// Default: 1 second. Minimum: 100ms.
	PollInterval time.Duration

	// OnReload is called after configuration is successfully reloaded.
	OnReload func(oldConfig, newConfig Config)

	// Logger for hot reload operations.
	// If nil, the domain's logger is used.
	Logger Logger
}

// NewHotConfig creates a new hot-reloadable tuning watcher for a domain.
//
// Example configuration file (YAML):
//
//	domain:
//	  scan_multiplier: 2
//	  min_retired: 64
//
// Supported configuration keys:
//   - domain.scan_multiplier (int): scan threshold factor over total cells
//   - domain.min_retired (int): scan threshold floor
//   - domain.slots_per_record (int): logged only; record width is fixed
//     at domain construction and cannot change without reattaching every
//     handle
func NewHotConfig(domain *Domain, opts HotConfigOptions) (*HotConfig, error) {
	if domain == nil {
		return nil, fmt.Errorf("domain is required")
	}
	if opts.ConfigPath == "" {
		return nil, fmt.Errorf("config_path is required")
	}

	if opts.PollInterval == 0 {
		opts.PollInterval = 1 * time.Second
	} else if opts.PollInterval < 100*time.Millisecond {
		opts.PollInterval = 100 * time.Millisecond
	}

	if opts.Logger == nil {
		opts.Logger = domain.logger
	}

	hc := &HotConfig{
		domain:   domain,
		logger:   opts.Logger,
		OnReload: opts.OnReload,
		config:   DefaultConfig(),
	}

	argusConfig := argus.Config{
		PollInterval: opts.PollInterval,
	}

	watcher, err := argus.UniversalConfigWatcherWithConfig(opts.ConfigPath, hc.handleConfigChange, argusConfig)
	if err != nil {
		return nil, err
	}
	hc.watcher = watcher

	return hc, nil
}

// Start begins watching the configuration file for changes.
func (hc *HotConfig) Start() error {
	if hc.watcher.IsRunning() {
		return nil // Already started
	}
	return hc.watcher.Start()
}

// Stop stops watching the configuration file.
func (hc *HotConfig) Stop() error {
	return hc.watcher.Stop()
}

// GetConfig returns the current configuration (thread-safe).
func (hc *HotConfig) GetConfig() Config {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.config
}

// handleConfigChange is called by Argus when configuration changes.
func (hc *HotConfig) handleConfigChange(configData map[string]interface{}) {
	hc.mu.Lock()
	oldConfig := hc.config
	newConfig := hc.parseConfig(configData)
	hc.config = newConfig
	hc.mu.Unlock()

	hc.applyChanges(oldConfig, newConfig)

	if hc.OnReload != nil {
		hc.OnReload(oldConfig, newConfig)
	}
}

// parsePositiveInt extracts a positive integer from interface{} value.
// Supports both int and float64 types (YAML/JSON may vary).
func parsePositiveInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		if v > 0 {
			return v, true
		}
	case float64:
		if v > 0 {
			return int(v), true
		}
	}
	return 0, false
}

// parseNonNegativeInt extracts a non-negative integer from interface{} value.
func parseNonNegativeInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		if v >= 0 {
			return v, true
		}
	case float64:
		if v >= 0 {
			return int(v), true
		}
	}
	return 0, false
}

// parseConfig extracts domain tuning from Argus config data.
func (hc *HotConfig) parseConfig(data map[string]interface{}) Config {
	config := hc.config

	// Extract domain section - Argus might nest it or provide it directly
	domainSection, ok := data["domain"].(map[string]interface{})
	if !ok {
		if _, hasMultiplier := data["scan_multiplier"]; hasMultiplier {
			domainSection = data
		} else {
			return config
		}
	}

	if multiplier, ok := parsePositiveInt(domainSection["scan_multiplier"]); ok {
		config.ScanMultiplier = multiplier
	}

	if floor, ok := parseNonNegativeInt(domainSection["min_retired"]); ok {
		config.MinRetired = floor
	}

	if slots, ok := parsePositiveInt(domainSection["slots_per_record"]); ok {
		config.SlotsPerRecord = slots
	}

	return config
}

// applyChanges applies tuning changes to the running domain.
// Threshold knobs apply immediately; record width cannot change after
// construction and only logs a warning.
func (hc *HotConfig) applyChanges(old, new Config) {
	if old.ScanMultiplier != new.ScanMultiplier {
		hc.domain.SetScanMultiplier(new.ScanMultiplier)
		hc.logger.Info("scan multiplier reloaded",
			"old", old.ScanMultiplier, "new", new.ScanMultiplier)
	}

	if old.MinRetired != new.MinRetired {
		hc.domain.SetMinRetired(new.MinRetired)
		hc.logger.Info("retired floor reloaded",
			"old", old.MinRetired, "new", new.MinRetired)
	}

	if old.SlotsPerRecord != new.SlotsPerRecord {
		hc.logger.Warn("slots_per_record changed in config but requires a new domain",
			"configured", new.SlotsPerRecord, "active", hc.domain.slotsPerRecord)
	}
}
