// Package config loads driver tuning for the command-line tools. Fields are
// pointers so a partial JSON file only overrides what it names; everything
// else keeps its default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead"
)

// DriverConfig mirrors scanhead.Config plus the tool-level connection
// settings, in a shape suitable for JSON files.
type DriverConfig struct {
	Address           *string `json:"address,omitempty"`
	Serial            *uint32 `json:"serial,omitempty"`
	ProfileCapacity   *int    `json:"profile_capacity,omitempty"`
	ScanRateHz        *uint32 `json:"scan_rate_hz,omitempty"`
	StartColumn       *uint16 `json:"start_column,omitempty"`
	EndColumn         *uint16 `json:"end_column,omitempty"`
	IdleTimeout       *string `json:"idle_timeout,omitempty"`       // duration string like "100ms"
	HandshakeTimeout  *string `json:"handshake_timeout,omitempty"`  // duration string like "3s"
	ReassemblyTimeout *string `json:"reassembly_timeout,omitempty"` // duration string like "500ms"
	StatsInterval     *string `json:"stats_interval,omitempty"`     // duration string like "1s"
}

// Load reads a DriverConfig from a JSON file. Omitted fields stay nil so
// partial configs are safe.
func Load(path string) (*DriverConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &DriverConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *DriverConfig) Validate() error {
	if c.ProfileCapacity != nil && *c.ProfileCapacity <= 0 {
		return fmt.Errorf("profile_capacity must be positive, got %d", *c.ProfileCapacity)
	}
	if c.ScanRateHz != nil && *c.ScanRateHz == 0 {
		return fmt.Errorf("scan_rate_hz must be positive")
	}
	if c.StartColumn != nil && c.EndColumn != nil && *c.EndColumn < *c.StartColumn {
		return fmt.Errorf("column range [%d, %d] is inverted", *c.StartColumn, *c.EndColumn)
	}
	for name, v := range map[string]*string{
		"idle_timeout":       c.IdleTimeout,
		"handshake_timeout":  c.HandshakeTimeout,
		"reassembly_timeout": c.ReassemblyTimeout,
		"stats_interval":     c.StatsInterval,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, *v, err)
			}
		}
	}
	return nil
}

// HeadConfig converts the loaded values into a scanhead.Config, leaving
// unset fields zero so the driver applies its own defaults.
func (c *DriverConfig) HeadConfig() scanhead.Config {
	var out scanhead.Config
	if c.ProfileCapacity != nil {
		out.ProfileCapacity = *c.ProfileCapacity
	}
	out.IdleTimeout = duration(c.IdleTimeout)
	out.HandshakeTimeout = duration(c.HandshakeTimeout)
	out.ReassemblyTimeout = duration(c.ReassemblyTimeout)
	out.StatsInterval = duration(c.StatsInterval)
	return out
}

func duration(s *string) time.Duration {
	if s == nil || *s == "" {
		return 0
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0 // Validate already rejected unparseable values
	}
	return d
}
