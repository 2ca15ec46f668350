package ctrlloop

import (
	"context"
	"fmt"
)

// Host is the set of services a module can use. Each module receives its own
// Host during Init; every subscription made through it is owned by the
// module and is released when the module shuts down or fails.
type Host interface {
	// Name returns the owning module's name.
	Name() string

	// Log writes an informational line attributed to the module. It never
	// fails observably.
	Log(msg string)

	// Logger returns the module-scoped structured logger.
	Logger() Logger

	Connect(signal string, sub Subscriber) (*Subscription, error)
	Disconnect(signal string, sub Subscriber)

	// Emit dispatches signal synchronously on the control goroutine.
	Emit(ctx context.Context, signal string, sender Value, args Args) error

	// EmitDeferred queues signal for the next tick. It is safe to call from
	// goroutines the module starts itself.
	EmitDeferred(signal string, sender Value, args Args) error

	// RequestStop asks the control loop to stop after the current tick.
	RequestStop()
}

type moduleHost struct {
	entry   *moduleEntry
	manager *ModuleManager
	logger  Logger
}

func newModuleHost(m *ModuleManager, entry *moduleEntry) *moduleHost {
	return &moduleHost{
		entry:   entry,
		manager: m,
		logger:  &scopedLogger{base: m.logger, module: entry.name},
	}
}

func (h *moduleHost) Name() string { return h.entry.name }

func (h *moduleHost) Log(msg string) {
	defer func() { _ = recover() }()
	h.logger.Info(msg)
}

func (h *moduleHost) Logger() Logger { return h.logger }

func (h *moduleHost) Connect(signal string, sub Subscriber) (*Subscription, error) {
	if !h.manager.acceptsSubscriptions(h.entry) {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotActive, h.entry.name)
	}
	return h.manager.bus.Connect(signal, sub, h.entry.name)
}

func (h *moduleHost) Disconnect(signal string, sub Subscriber) {
	h.manager.bus.Disconnect(signal, sub, h.entry.name)
}

func (h *moduleHost) Emit(ctx context.Context, signal string, sender Value, args Args) error {
	return h.manager.bus.Emit(ctx, signal, sender, args)
}

func (h *moduleHost) EmitDeferred(signal string, sender Value, args Args) error {
	return h.manager.bus.EmitDeferred(signal, sender, args)
}

func (h *moduleHost) RequestStop() {
	h.manager.requestStop(h.entry.name)
}

// scopedLogger prefixes every record with the module name.
type scopedLogger struct {
	base   Logger
	module string
}

func (l *scopedLogger) with(args []any) []any {
	return append([]any{"module", l.module}, args...)
}

func (l *scopedLogger) Info(msg string, args ...any)  { l.base.Info(msg, l.with(args)...) }
func (l *scopedLogger) Error(msg string, args ...any) { l.base.Error(msg, l.with(args)...) }
func (l *scopedLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, l.with(args)...) }
func (l *scopedLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.with(args)...) }
