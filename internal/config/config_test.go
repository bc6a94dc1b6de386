package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pantilt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 115200, cfg.Serial.Options.BaudRate)
	assert.Equal(t, "8080", cfg.Web.Port)
	assert.Equal(t, StoreSQLite, cfg.Identity.Store)
	assert.Equal(t, 0.6, cfg.Identity.Threshold)
	assert.Equal(t, 30, cfg.Control.LostThreshold)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	t.Setenv("PANTILT_SERIAL_PORT", "")
	t.Setenv("PANTILT_WEB_PORT", "")
	t.Setenv("PANTILT_LOG_LEVEL", "")
	t.Setenv("PANTILT_BAUD", "")
	t.Setenv("PANTILT_IDENTITY_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Load(\"\") mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Setenv("PANTILT_SERIAL_PORT", "")
	t.Setenv("PANTILT_BAUD", "")

	path := writeFile(t, `
serial:
  port: /dev/ttyACM0
  baud_rate: 57600
  parity: E
web:
  port: "9090"
identity:
  store: json
  path: /tmp/ids.json
control:
  cycle_ms: 50
  emit_idle: true
  preset: slow
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 57600, cfg.Serial.Options.BaudRate)
	assert.Equal(t, "E", cfg.Serial.Options.Parity)
	assert.Equal(t, "9090", cfg.Web.Port)
	assert.Equal(t, StoreJSON, cfg.Identity.Store)
	assert.True(t, cfg.Control.EmitIdle)

	// Unset keys keep their defaults
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30, cfg.Control.LostThreshold)

	loop := cfg.Loop()
	assert.Equal(t, 50*time.Millisecond, loop.CycleInterval)
	assert.True(t, loop.EmitIdle)
	assert.Equal(t, 0.03, loop.Tracking.KpPan)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "serial:\n  port: /dev/ttyACM0\n")
	t.Setenv("PANTILT_SERIAL_PORT", "/dev/ttyUSB1")
	t.Setenv("PANTILT_BAUD", "9600")
	t.Setenv("PANTILT_WEB_PORT", "7000")
	t.Setenv("PANTILT_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.Options.BaudRate)
	assert.Equal(t, "7000", cfg.Web.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("PANTILT_BAUD", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "file", cfgErr.Field)

	_, err = Load(writeFile(t, "serial: [not, a, map"))
	assert.Error(t, err)

	t.Setenv("PANTILT_BAUD", "fast")
	_, err = Load("")
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "serial.baud_rate", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"bad parity", func(c *Config) { c.Serial.Options.Parity = "X" }, "serial"},
		{"no web port", func(c *Config) { c.Web.Port = "" }, "web.port"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad store", func(c *Config) { c.Identity.Store = "redis" }, "identity.store"},
		{"store without path", func(c *Config) { c.Identity.Path = "" }, "identity.path"},
		{"threshold too high", func(c *Config) { c.Identity.Threshold = 1 }, "identity.threshold"},
		{"zero cycle", func(c *Config) { c.Control.CycleMs = 0 }, "control.cycle_ms"},
		{"negative age", func(c *Config) { c.Control.MaxReportAgeMs = -1 }, "control.max_report_age_ms"},
		{"bad preset", func(c *Config) { c.Control.Preset = "turbo" }, "control.preset"},
		{"zero lost threshold", func(c *Config) { c.Control.LostThreshold = 0 }, "control.lost_threshold"},
		{"negative search", func(c *Config) { c.Control.SearchSeconds = -1 }, "control.search_seconds"},
		{"zero search", func(c *Config) { c.Control.SearchSeconds = 0 }, "control.search_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)

			var cfgErr *ConfigError
			err := cfg.Validate()
			require.True(t, errors.As(err, &cfgErr), "Validate() error = %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	for _, level := range []string{"warning", "WARN", " Debug "} {
		t.Run("log level "+level, func(t *testing.T) {
			cfg := Default()
			cfg.Log.Level = level
			assert.NoError(t, cfg.Validate())
		})
	}

	t.Run("no store needs no path", func(t *testing.T) {
		cfg := Default()
		cfg.Identity.Store = StoreNone
		cfg.Identity.Path = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestEnv(t *testing.T) {
	t.Setenv("PANTILT_TEST_VALUE", "set")
	assert.Equal(t, "set", Env("PANTILT_TEST_VALUE", "default"))

	t.Setenv("PANTILT_TEST_VALUE", "")
	assert.Equal(t, "default", Env("PANTILT_TEST_VALUE", "default"))
}
