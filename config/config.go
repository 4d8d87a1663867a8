// Package config loads the scheduler's tuning knobs from a YAML file,
// layered on top of compiled-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the on-disk YAML shape. Durations are read as strings
// (e.g. "7s", "1500ms") and parsed by Load with time.ParseDuration.
type FileConfig struct {
	WorkerCount     int    `yaml:"worker_count"`
	Timeout         string `yaml:"timeout"`
	AbortTimeout    string `yaml:"abort_timeout"`
	ReportDebounce  string `yaml:"report_debounce"`
	HistoryCapacity int    `yaml:"history_capacity"`
	ReportTimeouts  *bool  `yaml:"report_timeouts"`
}

// Tunables is the resolved, typed form of FileConfig, ready to drive a
// scheduler.Scheduler and the executor package's timeout constants.
type Tunables struct {
	WorkerCount     int
	Timeout         time.Duration
	AbortTimeout    time.Duration
	ReportDebounce  time.Duration
	HistoryCapacity int
	ReportTimeouts  bool
}

// DefaultTunables mirrors the scheduler and executor packages' own
// compiled-in defaults, so a missing config file produces identical
// behavior to not using this package at all.
func DefaultTunables() Tunables {
	return Tunables{
		WorkerCount:     4,
		Timeout:         7 * time.Second,
		AbortTimeout:    1500 * time.Millisecond,
		ReportDebounce:  1 * time.Second,
		HistoryCapacity: 64,
		ReportTimeouts:  true,
	}
}

// Load reads and parses a YAML tuning file, falling back to
// DefaultTunables for any field left unset.
func Load(path string) (Tunables, error) {
	t := DefaultTunables()

	data, err := os.ReadFile(path)
	if err != nil {
		return Tunables{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Tunables{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.WorkerCount > 0 {
		t.WorkerCount = fc.WorkerCount
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return Tunables{}, fmt.Errorf("config: timeout: %w", err)
		}
		t.Timeout = d
	}
	if fc.AbortTimeout != "" {
		d, err := time.ParseDuration(fc.AbortTimeout)
		if err != nil {
			return Tunables{}, fmt.Errorf("config: abort_timeout: %w", err)
		}
		t.AbortTimeout = d
	}
	if fc.ReportDebounce != "" {
		d, err := time.ParseDuration(fc.ReportDebounce)
		if err != nil {
			return Tunables{}, fmt.Errorf("config: report_debounce: %w", err)
		}
		t.ReportDebounce = d
	}
	if fc.HistoryCapacity > 0 {
		t.HistoryCapacity = fc.HistoryCapacity
	}
	if fc.ReportTimeouts != nil {
		t.ReportTimeouts = *fc.ReportTimeouts
	}

	return t, nil
}
