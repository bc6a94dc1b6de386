// Package config loads go-pantilt settings: defaults, then an optional YAML
// file, then PANTILT_* environment variables. Command-line flags are applied
// last by each command.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-pantilt/pkg/control"
	"github.com/teslashibe/go-pantilt/pkg/identity"
	"github.com/teslashibe/go-pantilt/pkg/serialport"
	"github.com/teslashibe/go-pantilt/pkg/task"
	"github.com/teslashibe/go-pantilt/pkg/tracking"
)

// Defaults.
const (
	DefaultWebPort      = "8080"
	DefaultLogLevel     = "info"
	DefaultIdentityPath = "identities.db"
)

// Identity store kinds.
const (
	StoreSQLite = "sqlite"
	StoreJSON   = "json"
	StoreNone   = "none"
)

// SerialConfig is the actuator link. An empty Port means no hardware: packets
// are discarded.
type SerialConfig struct {
	Port    string                 `yaml:"port"`
	Options serialport.PortOptions `yaml:",inline"`
}

// WebConfig is the dashboard and perception feed listener.
type WebConfig struct {
	Port      string `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn (warning), error
}

// IdentityConfig selects where identity memory is kept.
type IdentityConfig struct {
	Store     string  `yaml:"store"` // sqlite, json, none
	Path      string  `yaml:"path"`
	Threshold float64 `yaml:"threshold"`
}

// ControlConfig holds loop and task parameters.
type ControlConfig struct {
	CycleMs        int     `yaml:"cycle_ms"`
	MaxReportAgeMs int     `yaml:"max_report_age_ms"`
	EmitIdle       bool    `yaml:"emit_idle"`
	SelectRadius   float64 `yaml:"select_radius"`
	Preset         string  `yaml:"preset"` // default, slow, aggressive
	LostThreshold  int     `yaml:"lost_threshold"`
	SearchSeconds  float64 `yaml:"search_seconds"`
}

// Config is the complete go-pantilt configuration.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Web      WebConfig      `yaml:"web"`
	Log      LogConfig      `yaml:"log"`
	Identity IdentityConfig `yaml:"identity"`
	Control  ControlConfig  `yaml:"control"`
}

// Default returns the built-in configuration.
func Default() Config {
	loop := control.DefaultConfig()
	return Config{
		Serial: SerialConfig{
			Options: serialport.PortOptions{BaudRate: serialport.DefaultBaudRate},
		},
		Web: WebConfig{Port: DefaultWebPort},
		Log: LogConfig{Level: DefaultLogLevel},
		Identity: IdentityConfig{
			Store:     StoreSQLite,
			Path:      DefaultIdentityPath,
			Threshold: identity.DefaultThreshold,
		},
		Control: ControlConfig{
			CycleMs:        int(loop.CycleInterval / time.Millisecond),
			MaxReportAgeMs: int(loop.MaxReportAge / time.Millisecond),
			EmitIdle:       loop.EmitIdle,
			SelectRadius:   loop.SelectRadius,
			Preset:         "default",
			LostThreshold:  task.DefaultLostThreshold,
			SearchSeconds:  task.DefaultSearchDuration.Seconds(),
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file; a missing file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return cfg, &ConfigError{Field: "file", Message: fmt.Sprintf("config file %s not found", path)}
			}
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from PANTILT_* environment variables.
func (c *Config) ApplyEnv() error {
	c.Serial.Port = Env("PANTILT_SERIAL_PORT", c.Serial.Port)
	c.Web.Port = Env("PANTILT_WEB_PORT", c.Web.Port)
	c.Log.Level = Env("PANTILT_LOG_LEVEL", c.Log.Level)
	c.Identity.Path = Env("PANTILT_IDENTITY_PATH", c.Identity.Path)

	if baud := os.Getenv("PANTILT_BAUD"); baud != "" {
		n, err := strconv.Atoi(baud)
		if err != nil {
			return &ConfigError{Field: "serial.baud_rate", Message: fmt.Sprintf("PANTILT_BAUD %q is not a number", baud)}
		}
		c.Serial.Options.BaudRate = n
	}
	return nil
}

// Env returns the environment variable key, or def if it is unset or empty.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := c.Serial.Options.Normalize(); err != nil {
		return &ConfigError{Field: "serial", Message: err.Error()}
	}
	if c.Web.Port == "" {
		return &ConfigError{Field: "web.port", Message: "web port is required"}
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "log.level", Message: fmt.Sprintf("unknown log level %q", c.Log.Level)}
	}
	switch c.Identity.Store {
	case StoreSQLite, StoreJSON:
		if c.Identity.Path == "" {
			return &ConfigError{Field: "identity.path", Message: "identity path is required for " + c.Identity.Store}
		}
	case StoreNone:
	default:
		return &ConfigError{Field: "identity.store", Message: fmt.Sprintf("unknown identity store %q", c.Identity.Store)}
	}
	if c.Identity.Threshold <= 0 || c.Identity.Threshold >= 1 {
		return &ConfigError{Field: "identity.threshold", Message: "identity threshold must be in (0, 1)"}
	}
	if c.Control.CycleMs <= 0 {
		return &ConfigError{Field: "control.cycle_ms", Message: "cycle must be positive"}
	}
	if c.Control.MaxReportAgeMs < 0 {
		return &ConfigError{Field: "control.max_report_age_ms", Message: "max report age cannot be negative"}
	}
	if _, ok := tracking.Preset(c.Control.Preset); !ok {
		return &ConfigError{Field: "control.preset", Message: fmt.Sprintf("unknown preset %q", c.Control.Preset)}
	}
	if c.Control.LostThreshold <= 0 {
		return &ConfigError{Field: "control.lost_threshold", Message: "lost threshold must be positive"}
	}
	if c.Control.SearchSeconds <= 0 {
		return &ConfigError{Field: "control.search_seconds", Message: "search duration must be positive"}
	}
	return nil
}

// Loop returns the control loop configuration. Call Validate first.
func (c *Config) Loop() control.Config {
	loop := control.DefaultConfig()
	loop.CycleInterval = time.Duration(c.Control.CycleMs) * time.Millisecond
	loop.MaxReportAge = time.Duration(c.Control.MaxReportAgeMs) * time.Millisecond
	loop.EmitIdle = c.Control.EmitIdle
	loop.SelectRadius = c.Control.SelectRadius

	if preset, ok := tracking.Preset(c.Control.Preset); ok {
		loop.Tracking = preset
	}
	loop.Task.LostThreshold = c.Control.LostThreshold
	loop.Task.SearchDuration = time.Duration(c.Control.SearchSeconds * float64(time.Second))
	return loop
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
