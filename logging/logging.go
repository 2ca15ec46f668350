// Package logging provides the zerolog-backed ctrlloop.Logger used by the
// host binary. Records go to a console writer on stderr and, when a
// directory is configured, to a timestamped JSON file in it.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/ctrlloop"
	"github.com/rs/zerolog"
)

// FileTimeFormat names log files, one per process start.
const FileTimeFormat = "2006-01-02_15-04-05"

var ErrNoOutput = errors.New("logging: console and file output are both disabled")

// Config selects level and outputs.
type Config struct {
	Level   string `yaml:"level" toml:"level" env:"LEVEL" default:"info" desc:"Minimum level: debug, info, warn or error"`
	Console bool   `yaml:"console" toml:"console" env:"CONSOLE" default:"true" desc:"Write human-readable records to stderr"`
	NoColor bool   `yaml:"no_color" toml:"no_color" env:"NO_COLOR" desc:"Disable ANSI colors on the console"`
	Dir     string `yaml:"dir" toml:"dir" env:"DIR" desc:"Directory for a timestamped JSON log file; empty disables it"`
}

// Logger adapts a zerolog.Logger to ctrlloop.Logger.
type Logger struct {
	z     zerolog.Logger
	level atomic.Int32
	file  *os.File
}

// New builds a logger from config. Close releases the log file.
func New(config Config) (*Logger, error) {
	return newAt(config, os.Stderr, time.Now())
}

func newAt(config Config, console io.Writer, now time.Time) (*Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	var writers []io.Writer
	if config.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: time.TimeOnly,
			NoColor:    config.NoColor,
		})
	}

	var file *os.File
	if config.Dir != "" {
		if err := os.MkdirAll(config.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create %s: %w", config.Dir, err)
		}
		path := filepath.Join(config.Dir, now.Format(FileTimeFormat)+".log")
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", path, err)
		}
		writers = append(writers, file)
	}

	if len(writers) == 0 {
		return nil, ErrNoOutput
	}

	z := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	l := &Logger{z: z, file: file}
	l.level.Store(int32(level))
	return l, nil
}

// NewFromZerolog wraps an existing zerolog logger. Its own level still
// applies, so SetLevel can only raise the threshold.
func NewFromZerolog(z zerolog.Logger) *Logger {
	l := &Logger{z: z}
	l.level.Store(int32(z.GetLevel()))
	return l
}

// SetLevel changes the minimum level. It is safe for concurrent use.
func (l *Logger) SetLevel(s string) error {
	level, err := ParseLevel(s)
	if err != nil {
		return err
	}
	l.level.Store(int32(level))
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() zerolog.Level { return zerolog.Level(l.level.Load()) }

// ParseLevel accepts debug, info, warn, warning and error in any case.
// An empty string means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("logging: unknown level %q", s)
	}
}

func (l *Logger) Info(msg string, args ...any)  { l.log(zerolog.InfoLevel, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.log(zerolog.ErrorLevel, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(zerolog.WarnLevel, msg, args) }
func (l *Logger) Debug(msg string, args ...any) { l.log(zerolog.DebugLevel, msg, args) }

func (l *Logger) log(level zerolog.Level, msg string, args []any) {
	if level < l.Level() {
		return
	}
	l.write(l.z.WithLevel(level), msg, args)
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger { return l.z }

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// write turns key-value pairs into fields. A trailing key without a value
// is kept under "!BADKEY".
func (l *Logger) write(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			e = e.Interface("!BADKEY", args[i])
			break
		}
		key := fmt.Sprint(args[i])
		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case string:
			e = e.Str(key, v)
		case fmt.Stringer:
			e = e.Stringer(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}

var _ ctrlloop.Logger = (*Logger)(nil)
