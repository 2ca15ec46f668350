// Package eventlogger records core lifecycle and dispatch events.
//
// The module is an Observer: when loaded into a ModuleManager configured
// with a Subject it registers itself and receives every CloudEvent the bus,
// the manager and the control loop publish. Events are rendered on a
// background goroutine to console or file targets in text, json or
// structured format, so observing never slows the control goroutine down.
//
// Events that arrive before Init (module loaded events, for example) are
// queued and written once the outputs are open.
//
//	subject := ctrlloop.NewEventSubject(logger)
//	manager := ctrlloop.NewModuleManager(bus, ctrlloop.WithManagerSubject(subject))
//	manager.Load(eventlogger.NewModule(eventlogger.DefaultConfig()))
package eventlogger

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/GoCodeAlone/ctrlloop"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// ModuleName is the unique identifier for the eventlogger module.
const ModuleName = "eventlogger"

const queueMaxSize = 1000

// Option configures an EventLoggerModule.
type Option func(*EventLoggerModule)

// WithConsoleWriter redirects console targets, which default to stdout.
func WithConsoleWriter(w io.Writer) Option {
	return func(m *EventLoggerModule) {
		m.console = w
	}
}

// EventLoggerModule logs observed events to its output targets.
type EventLoggerModule struct {
	config  *EventLoggerConfig
	console io.Writer
	logger  ctrlloop.Logger

	mutex        sync.RWMutex
	subject      ctrlloop.Subject
	outputs      []OutputTarget
	eventChan    chan cloudevents.Event
	stopChan     chan struct{}
	wg           sync.WaitGroup
	started      bool
	shuttingDown bool
	eventQueue   []cloudevents.Event
	processed    int
	dropped      int
}

// NewModule creates an event logger. A nil config uses DefaultConfig.
func NewModule(config *EventLoggerConfig, opts ...Option) *EventLoggerModule {
	if config == nil {
		config = DefaultConfig()
	}
	m := &EventLoggerModule{
		config:  config,
		console: os.Stdout,
		logger:  ctrlloop.NopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *EventLoggerModule) Name() string { return ModuleName }

func (m *EventLoggerModule) ObserverID() string { return ModuleName }

// RegisterObservers subscribes the module to subject, limited to the
// configured event type filters.
func (m *EventLoggerModule) RegisterObservers(subject ctrlloop.Subject) error {
	if !m.config.Enabled {
		return nil
	}
	if err := subject.RegisterObserver(m, m.config.EventTypeFilters...); err != nil {
		return fmt.Errorf("failed to register event logger as observer: %w", err)
	}
	m.mutex.Lock()
	m.subject = subject
	m.mutex.Unlock()
	return nil
}

// Init opens the output targets, starts the writer goroutine and writes the
// events queued so far.
func (m *EventLoggerModule) Init(_ context.Context, host ctrlloop.Host) error {
	if err := m.config.Validate(); err != nil {
		return err
	}

	m.mutex.Lock()
	m.logger = host.Logger()
	if !m.config.Enabled {
		m.eventQueue = nil
		m.mutex.Unlock()
		m.logger.Info("Event logger is disabled")
		return nil
	}

	outputs := make([]OutputTarget, 0, len(m.config.OutputTargets))
	for i, targetConfig := range m.config.OutputTargets {
		output, err := NewOutputTarget(targetConfig, m.logger, m.console)
		if err == nil {
			err = output.Start()
		}
		if err != nil {
			m.mutex.Unlock()
			for _, started := range outputs {
				_ = started.Stop()
			}
			return NewOutputTargetError(i, err)
		}
		outputs = append(outputs, output)
	}

	m.outputs = outputs
	m.eventChan = make(chan cloudevents.Event, m.config.BufferSize)
	m.stopChan = make(chan struct{})
	m.started = true
	queued := m.eventQueue
	m.eventQueue = nil
	m.mutex.Unlock()

	for _, event := range queued {
		m.logEvent(event)
	}

	m.wg.Add(1)
	go m.processEvents()

	m.logger.Info("Event logger started", "targets", len(outputs), "queued", len(queued))
	return nil
}

// OnEvent queues event for the writer goroutine. Before Init events are
// held back, dropping the oldest past a fixed limit.
func (m *EventLoggerModule) OnEvent(_ context.Context, event cloudevents.Event) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.shuttingDown {
		return nil
	}
	if !m.started {
		if len(m.eventQueue) >= queueMaxSize {
			m.eventQueue = m.eventQueue[1:]
			m.dropped++
		}
		m.eventQueue = append(m.eventQueue, event)
		return nil
	}

	select {
	case m.eventChan <- event:
		return nil
	default:
		m.dropped++
		return fmt.Errorf("%w: dropped %s", ErrEventBufferFull, event.Type())
	}
}

func (m *EventLoggerModule) processEvents() {
	defer m.wg.Done()
	for {
		select {
		case event := <-m.eventChan:
			m.logEvent(event)
		case <-m.stopChan:
			for {
				select {
				case event := <-m.eventChan:
					m.logEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (m *EventLoggerModule) logEvent(event cloudevents.Event) {
	entry := newLogEntry(event)
	if !shouldLogLevel(entry.Level, m.config.LogLevel) {
		return
	}

	m.mutex.RLock()
	outputs := m.outputs
	m.mutex.RUnlock()

	for _, output := range outputs {
		if err := output.WriteEvent(entry); err != nil {
			m.logger.Error("Failed to write event to output target", "error", err, "event", event.Type())
		}
	}

	m.mutex.Lock()
	m.processed++
	m.mutex.Unlock()
}

// Shutdown stops observing, drains buffered events and closes the outputs.
func (m *EventLoggerModule) Shutdown(ctx context.Context) error {
	m.mutex.Lock()
	subject := m.subject
	m.subject = nil
	if !m.started {
		m.mutex.Unlock()
		if subject != nil {
			_ = subject.UnregisterObserver(m)
		}
		return nil
	}
	m.shuttingDown = true
	m.started = false
	close(m.stopChan)
	outputs := m.outputs
	m.mutex.Unlock()

	if subject != nil {
		_ = subject.UnregisterObserver(m)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if m.config.ShutdownDrainTimeout > 0 {
		timer := time.NewTimer(m.config.ShutdownDrainTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-done:
	case <-timeout:
		m.logger.Warn("Event logger drain timeout reached; proceeding with shutdown")
	case <-ctx.Done():
		m.logger.Warn("Event logger shutdown cancelled before drain completed", "error", ctx.Err())
	}

	var firstErr error
	for _, output := range outputs {
		if err := output.Stop(); err != nil {
			m.logger.Error("Failed to stop output target", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.logger.Info("Event logger stopped")
	return firstErr
}

// Stats returns how many events were written and how many were dropped.
func (m *EventLoggerModule) Stats() (processed, dropped int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.processed, m.dropped
}

var (
	_ ctrlloop.ObservableModule = (*EventLoggerModule)(nil)
	_ ctrlloop.Observer         = (*EventLoggerModule)(nil)
)
