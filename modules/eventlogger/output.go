package eventlogger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/GoCodeAlone/ctrlloop"
)

// OutputTarget defines the interface for event log output targets.
type OutputTarget interface {
	// Start opens the target.
	Start() error

	// Stop closes the target.
	Stop() error

	// WriteEvent writes a log entry to the output target
	WriteEvent(entry *LogEntry) error
}

// NewOutputTarget creates a target. Console targets write to console.
func NewOutputTarget(config OutputTargetConfig, logger ctrlloop.Logger, console io.Writer) (OutputTarget, error) {
	switch config.Type {
	case "console":
		return &ConsoleTarget{config: config, logger: logger, writer: console}, nil
	case "file":
		if config.File == nil {
			return nil, ErrMissingFileConfig
		}
		return &FileTarget{config: config, logger: logger}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidOutputType, config.Type)
	}
}

// ConsoleTarget outputs events to a terminal-like writer.
type ConsoleTarget struct {
	config OutputTargetConfig
	logger ctrlloop.Logger
	writer io.Writer
}

func (c *ConsoleTarget) Start() error {
	c.logger.Debug("Console output target started")
	return nil
}

func (c *ConsoleTarget) Stop() error {
	c.logger.Debug("Console output target stopped")
	return nil
}

func (c *ConsoleTarget) WriteEvent(entry *LogEntry) error {
	if !shouldLogLevel(entry.Level, c.config.Level) {
		return nil
	}

	timestamps := c.config.Console == nil || c.config.Console.Timestamps
	color := c.config.Console != nil && c.config.Console.UseColor

	output, err := format(c.config.Format, entry, timestamps, color)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(c.writer, output); err != nil {
		return fmt.Errorf("failed to write to console: %w", err)
	}
	return nil
}

// FileTarget appends events to a file.
type FileTarget struct {
	config OutputTargetConfig
	logger ctrlloop.Logger

	mu   sync.Mutex
	file *os.File
}

func (f *FileTarget) Start() error {
	path := f.config.File.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", filepath.Dir(path), err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	f.mu.Lock()
	f.file = file
	f.mu.Unlock()
	f.logger.Debug("File output target started", "path", path)
	return nil
}

func (f *FileTarget) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func (f *FileTarget) WriteEvent(entry *LogEntry) error {
	if !shouldLogLevel(entry.Level, f.config.Level) {
		return nil
	}

	formatName := f.config.Format
	if formatName == "" {
		formatName = "json"
	}
	output, err := format(formatName, entry, true, false)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return ErrFileNotOpen
	}
	if _, err := fmt.Fprintln(f.file, output); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

func format(name string, entry *LogEntry, timestamps, color bool) (string, error) {
	switch name {
	case "json":
		data, err := json.Marshal(entry)
		if err != nil {
			return "", fmt.Errorf("failed to marshal log entry to JSON: %w", err)
		}
		return string(data), nil
	case "text":
		return formatText(entry, timestamps, color), nil
	default:
		return formatStructured(entry, timestamps, color), nil
	}
}

func formatText(entry *LogEntry, timestamps, color bool) string {
	var b strings.Builder
	if timestamps {
		b.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%s [%s] %s", levelLabel(entry.Level, color), entry.Type, entry.Source)
	if entry.Data != nil {
		fmt.Fprintf(&b, " %v", entry.Data)
	}
	return b.String()
}

func formatStructured(entry *LogEntry, timestamps, color bool) string {
	var b strings.Builder
	if timestamps {
		fmt.Fprintf(&b, "[%s] ", entry.Timestamp.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&b, "%s %s\n", levelLabel(entry.Level, color), entry.Type)
	fmt.Fprintf(&b, "  Source: %s\n", entry.Source)
	if entry.Data != nil {
		fmt.Fprintf(&b, "  Data: %v\n", entry.Data)
	}
	if len(entry.Metadata) > 0 {
		b.WriteString("  Metadata:\n")
		keys := make([]string, 0, len(entry.Metadata))
		for k := range entry.Metadata {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "    %s: %v\n", k, entry.Metadata[k])
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func levelLabel(level string, color bool) string {
	if !color {
		return level
	}
	switch level {
	case "DEBUG":
		return "\033[36mDEBUG\033[0m"
	case "INFO":
		return "\033[32mINFO\033[0m"
	case "WARN":
		return "\033[33mWARN\033[0m"
	case "ERROR":
		return "\033[31mERROR\033[0m"
	default:
		return level
	}
}

// shouldLogLevel reports whether eventLevel meets minLevel. Unknown levels
// are logged.
func shouldLogLevel(eventLevel, minLevel string) bool {
	e := slices.Index(validLevels, eventLevel)
	m := slices.Index(validLevels, minLevel)
	if e < 0 || m < 0 {
		return true
	}
	return e >= m
}
