// Package config loads the host configuration.
//
// Values are layered: struct `default` tags first, then the TOML or YAML
// file picked by extension, then CTRLLOOP_* environment variables, the
// last two fed through a golobby config. The result is checked for
// `required` fields and by each section's own validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/GoCodeAlone/ctrlloop"
	"github.com/GoCodeAlone/ctrlloop/feeders"
	"github.com/GoCodeAlone/ctrlloop/logging"
	"github.com/GoCodeAlone/ctrlloop/modules/avoider"
	"github.com/GoCodeAlone/ctrlloop/modules/bridge"
	"github.com/GoCodeAlone/ctrlloop/modules/eventlogger"
	"github.com/GoCodeAlone/ctrlloop/modules/scheduler"
	"github.com/GoCodeAlone/ctrlloop/modules/sensor"
	golobby "github.com/golobby/config/v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CTRLLOOP"

// AppConfig is the full host configuration.
type AppConfig struct {
	Loop      LoopConfig                    `yaml:"loop" toml:"loop" env:"LOOP"`
	Bus       BusConfig                     `yaml:"bus" toml:"bus" env:"BUS"`
	Log       logging.Config                `yaml:"log" toml:"log" env:"LOG"`
	Metrics   MetricsConfig                 `yaml:"metrics" toml:"metrics" env:"METRICS"`
	Avoider   avoider.Config                `yaml:"avoider" toml:"avoider" env:"AVOIDER"`
	Sensor    SensorConfig                  `yaml:"sensor" toml:"sensor" env:"SENSOR"`
	Scheduler scheduler.SchedulerConfig     `yaml:"scheduler" toml:"scheduler"`
	Bridge    BridgeConfig                  `yaml:"bridge" toml:"bridge" env:"BRIDGE"`
	Watch     WatchConfig                   `yaml:"watch" toml:"watch" env:"WATCH"`
	Events    eventlogger.EventLoggerConfig `yaml:"events" toml:"events" env:"EVENTS"`
}

// LoopConfig configures the control loop.
type LoopConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval" toml:"tick_interval" env:"TICK_INTERVAL" default:"16ms" desc:"Time between ticks"`
	MaxTicks        int64         `yaml:"max_ticks" toml:"max_ticks" env:"MAX_TICKS" desc:"Stop after this many ticks; 0 runs until interrupted"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" default:"30s" desc:"Upper bound for module shutdown"`
}

// BusConfig configures the signal bus.
type BusConfig struct {
	MaxDepth  int `yaml:"max_depth" toml:"max_depth" env:"MAX_DEPTH" default:"32" desc:"Nested emission limit"`
	QueueSize int `yaml:"queue_size" toml:"queue_size" env:"QUEUE_SIZE" default:"1024" desc:"Capacity of the deferred emission queue"`
}

// MetricsConfig configures Prometheus collectors.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" toml:"namespace" env:"NAMESPACE" default:"ctrlloop" desc:"Prometheus metric namespace"`
}

// SensorConfig enables the simulated sensor.
type SensorConfig struct {
	Enabled       bool `yaml:"enabled" toml:"enabled" env:"ENABLED" default:"true" desc:"Load the simulated distance sensor"`
	sensor.Config `yaml:",inline"`
}

// BridgeConfig enables the HTTP bridge.
type BridgeConfig struct {
	Enabled       bool `yaml:"enabled" toml:"enabled" env:"ENABLED" desc:"Serve the HTTP bridge"`
	bridge.Config `yaml:",inline"`
}

// WatchConfig enables reloading the configuration file on change.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled" env:"ENABLED" desc:"Reload the configuration file when it changes"`
	Debounce time.Duration `yaml:"debounce" toml:"debounce" env:"DEBOUNCE" default:"250ms" desc:"Quiet period before reloading"`
}

// Load reads path, which may be empty, and applies environment overrides
// from the process environment.
func Load(path string) (*AppConfig, error) {
	return load(path, feeders.NewAffixedEnvFeeder(EnvPrefix, ""))
}

// LoadWithEnv is Load with a custom environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*AppConfig, error) {
	return load(path, feeders.NewAffixedEnvFeeder(EnvPrefix, "").WithLookup(lookup))
}

func load(path string, env feeders.AffixedEnvFeeder) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := ProcessDefaults(cfg); err != nil {
		return nil, err
	}

	c := golobby.New()
	if path != "" {
		feeder, err := feeders.ForFile(path)
		if err != nil {
			return nil, err
		}
		c.AddFeeder(feeder)
	}
	if err := c.AddFeeder(env).AddStruct(cfg).Feed(); err != nil {
		return nil, fmt.Errorf("feed config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and every enabled section.
func (c *AppConfig) Validate() error {
	if err := ValidateRequired(c); err != nil {
		return err
	}

	var errs []error
	if c.Loop.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: loop.tick_interval %s", ErrInvalidValue, c.Loop.TickInterval))
	}
	if c.Bus.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("%w: bus.max_depth %d", ErrInvalidValue, c.Bus.MaxDepth))
	}
	if c.Bus.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: bus.queue_size %d", ErrInvalidValue, c.Bus.QueueSize))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := c.Avoider.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("avoider: %w", err))
	}
	if c.Sensor.Enabled {
		if err := c.Sensor.Config.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sensor: %w", err))
		}
	}
	if c.Events.Enabled {
		if err := c.Events.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("events: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ReloadArgs loads path and describes the settings that can change at run
// time. It is the loader the config watcher uses.
func ReloadArgs(path string) (ctrlloop.Args, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return cfg.ReloadArgs(), nil
}

// ReloadArgs returns the runtime-adjustable settings as signal args.
func (c *AppConfig) ReloadArgs() ctrlloop.Args {
	return ctrlloop.Args{
		"avoider_threshold": ctrlloop.Number(c.Avoider.Threshold),
		"log_level":         ctrlloop.String(c.Log.Level),
	}
}

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
