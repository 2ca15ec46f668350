// Observer pattern plumbing for lifecycle and dispatch events.
// Events use the CloudEvents specification so that hosts can forward them to
// external systems unchanged.
package ctrlloop

import (
	"context"
	"slices"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer is notified of lifecycle and dispatch events.
type Observer interface {
	// OnEvent is called synchronously on the goroutine that produced the
	// event, which is normally the control goroutine. Observers should
	// return quickly.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer.
	ObserverID() string
}

// Subject maintains observers and notifies them when events occur.
type Subject interface {
	// RegisterObserver adds an observer. If eventTypes is empty, the observer
	// receives all events. Registering the same ID again replaces the filter.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. It is idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers sends an event to every interested observer.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers returns information about registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo describes a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Event types emitted by the core.
const (
	EventTypeModuleLoaded      = "com.ctrlloop.module.loaded"
	EventTypeModuleInitialized = "com.ctrlloop.module.initialized"
	EventTypeModuleFailed      = "com.ctrlloop.module.failed"
	EventTypeModuleShutdown    = "com.ctrlloop.module.shutdown"
	EventTypeModuleUnloaded    = "com.ctrlloop.module.unloaded"

	EventTypeHandlerFailed      = "com.ctrlloop.signal.handler_failed"
	EventTypeReentrancyExceeded = "com.ctrlloop.signal.reentrancy_exceeded"
	EventTypeDeferredDropped    = "com.ctrlloop.signal.deferred_dropped"
	EventTypeLoopStarted        = "com.ctrlloop.loop.started"
	EventTypeLoopStopped        = "com.ctrlloop.loop.stopped"
)

// ObservableModule is an optional interface for modules that want to watch
// core events. RegisterObservers is called when the module is loaded.
type ObservableModule interface {
	Module
	RegisterObservers(subject Subject) error
}

// FunctionalObserver adapts a function to the Observer interface.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// EventSubject is the Subject shared by the bus, the module manager and the
// control loop. Observers are notified in registration order.
type EventSubject struct {
	mu        sync.RWMutex
	observers []*observerRegistration
	logger    Logger
}

// NewEventSubject creates an empty subject. A nil logger discards
// observer errors.
func NewEventSubject(logger Logger) *EventSubject {
	if logger == nil {
		logger = NopLogger{}
	}
	return &EventSubject{logger: logger}
}

func (s *EventSubject) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return ErrNilObserver
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	eventTypeMap := make(map[string]bool, len(eventTypes))
	for _, eventType := range eventTypes {
		eventTypeMap[eventType] = true
	}

	reg := &observerRegistration{
		observer:     observer,
		eventTypes:   eventTypeMap,
		registeredAt: time.Now(),
	}
	for i, existing := range s.observers {
		if existing.observer.ObserverID() == observer.ObserverID() {
			s.observers[i] = reg
			return nil
		}
	}
	s.observers = append(s.observers, reg)

	s.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

func (s *EventSubject) UnregisterObserver(observer Observer) error {
	if observer == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observers = slices.DeleteFunc(s.observers, func(r *observerRegistration) bool {
		return r.observer.ObserverID() == observer.ObserverID()
	})
	return nil
}

// NotifyObservers validates the event and delivers it. Observer errors and
// panics are logged and never reach the emitter.
func (s *EventSubject) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		s.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	s.mu.RLock()
	observers := slices.Clone(s.observers)
	s.mu.RUnlock()

	for _, registration := range observers {
		if len(registration.eventTypes) > 0 && !registration.eventTypes[event.Type()] {
			continue
		}
		s.deliver(ctx, registration.observer, event)
	}
	return nil
}

func (s *EventSubject) deliver(ctx context.Context, observer Observer, event cloudevents.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Observer panicked", "observerID", observer.ObserverID(), "event", event.Type(), "panic", r)
		}
	}()
	if err := observer.OnEvent(ctx, event); err != nil {
		s.logger.Error("Observer error", "observerID", observer.ObserverID(), "event", event.Type(), "error", err)
	}
}

func (s *EventSubject) GetObservers() []ObserverInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := make([]ObserverInfo, 0, len(s.observers))
	for _, registration := range s.observers {
		eventTypes := make([]string, 0, len(registration.eventTypes))
		for eventType := range registration.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}
		slices.Sort(eventTypes)
		info = append(info, ObserverInfo{
			ID:           registration.observer.ObserverID(),
			EventTypes:   eventTypes,
			RegisteredAt: registration.registeredAt,
		})
	}
	return info
}

// emitEvent builds and publishes an event. It is a no-op when subject is nil.
func emitEvent(ctx context.Context, subject Subject, logger Logger, eventType, source string, data map[string]any) {
	if subject == nil {
		return
	}
	event, err := NewCloudEvent(eventType, source, data, nil)
	if err != nil {
		logger.Error("Failed to encode event data", "eventType", eventType, "error", err)
	}
	_ = subject.NotifyObservers(ctx, event)
}
