package eventlogger

import (
	"slices"
	"time"
)

// EventLoggerConfig holds configuration for the event logger module.
type EventLoggerConfig struct {
	// Enabled determines if event logging is active
	Enabled bool `yaml:"enabled" toml:"enabled" env:"ENABLED" default:"false" desc:"Enable event logging"`

	// LogLevel determines which events to log (DEBUG, INFO, WARN, ERROR)
	LogLevel string `yaml:"log_level" toml:"log_level" default:"INFO" desc:"Minimum log level for events"`

	// OutputTargets specifies where to output logs
	OutputTargets []OutputTargetConfig `yaml:"output_targets" toml:"output_targets" desc:"Output targets for event logs"`

	// EventTypeFilters limits logging to the listed event types. Empty logs everything.
	EventTypeFilters []string `yaml:"event_type_filters" toml:"event_type_filters" desc:"Event types to log (empty = all events)"`

	// BufferSize sets the size of the event buffer for async processing
	BufferSize int `yaml:"buffer_size" toml:"buffer_size" default:"100" desc:"Buffer size for async event processing"`

	// ShutdownDrainTimeout bounds how long Shutdown waits for buffered
	// events. Zero or negative waits until the buffer is empty.
	ShutdownDrainTimeout time.Duration `yaml:"shutdown_drain_timeout" toml:"shutdown_drain_timeout" default:"2s" desc:"Maximum time to drain buffered events on shutdown"`
}

// OutputTargetConfig configures a specific output target for event logs.
type OutputTargetConfig struct {
	// Type specifies the output type (console, file)
	Type string `yaml:"type" toml:"type" default:"console" desc:"Output target type"`

	// Level allows different log levels per target
	Level string `yaml:"level" toml:"level" default:"INFO" desc:"Minimum log level for this target"`

	// Format is one of text, json or structured
	Format string `yaml:"format" toml:"format" default:"structured" desc:"Log format for this target"`

	Console *ConsoleTargetConfig `yaml:"console,omitempty" toml:"console,omitempty" desc:"Console output configuration"`
	File    *FileTargetConfig    `yaml:"file,omitempty" toml:"file,omitempty" desc:"File output configuration"`
}

// ConsoleTargetConfig configures console output.
type ConsoleTargetConfig struct {
	UseColor   bool `yaml:"use_color" toml:"use_color" default:"true" desc:"Enable colored console output"`
	Timestamps bool `yaml:"timestamps" toml:"timestamps" default:"true" desc:"Include timestamps in console output"`
}

// FileTargetConfig configures file output.
type FileTargetConfig struct {
	Path string `yaml:"path" toml:"path" required:"true" desc:"Path to log file"`
}

var (
	validLevels  = []string{"DEBUG", "INFO", "WARN", "ERROR"}
	validFormats = []string{"text", "json", "structured"}
)

// DefaultConfig is what NewModule(nil) uses: enabled, logging every event
// at INFO and above to the console. Config files leave the logger off
// unless they enable it.
func DefaultConfig() *EventLoggerConfig {
	return &EventLoggerConfig{
		Enabled:              true,
		LogLevel:             "INFO",
		BufferSize:           100,
		ShutdownDrainTimeout: 2 * time.Second,
		OutputTargets: []OutputTargetConfig{{
			Type:    "console",
			Level:   "INFO",
			Format:  "structured",
			Console: &ConsoleTargetConfig{UseColor: true, Timestamps: true},
		}},
	}
}

// Validate checks levels, formats and target settings.
func (c *EventLoggerConfig) Validate() error {
	if !slices.Contains(validLevels, c.LogLevel) {
		return ErrInvalidLogLevel
	}
	if c.BufferSize <= 0 {
		return ErrInvalidBufferSize
	}
	for i, target := range c.OutputTargets {
		if err := target.validate(); err != nil {
			return NewOutputTargetError(i, err)
		}
	}
	return nil
}

func (t OutputTargetConfig) validate() error {
	if t.Level != "" && !slices.Contains(validLevels, t.Level) {
		return ErrInvalidLogLevel
	}
	if t.Format != "" && !slices.Contains(validFormats, t.Format) {
		return ErrInvalidFormat
	}
	switch t.Type {
	case "console":
	case "file":
		if t.File == nil {
			return ErrMissingFileConfig
		}
		if t.File.Path == "" {
			return ErrMissingFilePath
		}
	default:
		return ErrInvalidOutputType
	}
	return nil
}
