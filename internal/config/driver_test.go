package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, "driver.json", `{
		"address": "192.168.1.50:12345",
		"serial": 40001,
		"profile_capacity": 500,
		"scan_rate_hz": 800,
		"start_column": 100,
		"end_column": 1200,
		"handshake_timeout": "5s",
		"reassembly_timeout": "250ms"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Address)
	assert.Equal(t, "192.168.1.50:12345", *cfg.Address)
	require.NotNil(t, cfg.Serial)
	assert.Equal(t, uint32(40001), *cfg.Serial)

	head := cfg.HeadConfig()
	assert.Equal(t, 500, head.ProfileCapacity)
	assert.Equal(t, 5*time.Second, head.HandshakeTimeout)
	assert.Equal(t, 250*time.Millisecond, head.ReassemblyTimeout)
	// Omitted durations stay zero so the driver applies its defaults.
	assert.Equal(t, time.Duration(0), head.IdleTimeout)
	assert.Equal(t, time.Duration(0), head.StatsInterval)
}

func TestLoadPartialConfigLeavesNils(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"serial": 7}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, cfg.Address)
	assert.Nil(t, cfg.ScanRateHz)
	assert.Equal(t, scanhead.Config{}, cfg.HeadConfig())
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		file string
		body string
	}{
		{"wrong extension", "driver.yaml", `{}`},
		{"malformed json", "driver.json", `{"serial": `},
		{"zero capacity", "driver.json", `{"profile_capacity": 0}`},
		{"zero rate", "driver.json", `{"scan_rate_hz": 0}`},
		{"inverted columns", "driver.json", `{"start_column": 500, "end_column": 10}`},
		{"bad duration", "driver.json", `{"handshake_timeout": "fast"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.file, tc.body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
