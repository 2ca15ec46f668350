package eventlogger

import (
	"strings"
	"time"

	"github.com/GoCodeAlone/ctrlloop"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// LogEntry is the rendered form of one observed event.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Data      any            `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// levelFor maps core event types onto log levels.
func levelFor(eventType string) string {
	switch eventType {
	case ctrlloop.EventTypeModuleFailed, ctrlloop.EventTypeHandlerFailed:
		return "ERROR"
	case ctrlloop.EventTypeReentrancyExceeded, ctrlloop.EventTypeDeferredDropped:
		return "WARN"
	}
	if strings.HasSuffix(eventType, ".failed") || strings.HasSuffix(eventType, ".error") {
		return "ERROR"
	}
	return "INFO"
}

func newLogEntry(event cloudevents.Event) *LogEntry {
	entry := &LogEntry{
		Timestamp: event.Time(),
		Level:     levelFor(event.Type()),
		Type:      event.Type(),
		Source:    event.Source(),
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	var data any
	if len(event.Data()) > 0 {
		if err := event.DataAs(&data); err == nil {
			entry.Data = data
		} else {
			entry.Data = string(event.Data())
		}
	}

	if ext := event.Extensions(); len(ext) > 0 {
		entry.Metadata = make(map[string]any, len(ext))
		for k, v := range ext {
			entry.Metadata[k] = v
		}
	}
	return entry
}
