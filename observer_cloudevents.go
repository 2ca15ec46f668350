package ctrlloop

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// EventSource is the CloudEvents source prefix for events produced by the core.
// Component sources look like "ctrlloop/bus" or "ctrlloop/module/avoider".
const EventSource = "ctrlloop"

// CloudEvent is an alias for the CloudEvents Event type.
type CloudEvent = cloudevents.Event

// NewCloudEvent creates a CloudEvent with a time-ordered ID. When data
// cannot be encoded the event is still returned, without data, together
// with the encoding error.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()

	event.SetID(newID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	for key, value := range metadata {
		event.SetExtension(key, value)
	}

	if data != nil {
		if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
			return event, fmt.Errorf("encode %s event data: %w", eventType, err)
		}
	}
	return event, nil
}

// newID returns a UUIDv7 string, falling back to v4.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent runs the SDK validation on event.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}

func busSource() string { return EventSource + "/bus" }

func loopSource() string { return EventSource + "/loop" }

func moduleSource(name string) string { return EventSource + "/module/" + name }
