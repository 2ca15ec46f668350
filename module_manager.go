package ctrlloop

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ModuleManager owns the registry of loaded modules and drives them through
// their lifecycle. Lifecycle methods run hooks on the calling goroutine and
// must be called from the control goroutine; State and Modules may be called
// from anywhere.
type ModuleManager struct {
	mu          sync.RWMutex
	bus         *SignalBus
	entries     []*moduleEntry
	byName      map[string]*moduleEntry
	order       []*moduleEntry
	initialized bool
	shutdown    bool

	logger  Logger
	metrics Metrics
	subject Subject
	stop    func()
}

type moduleEntry struct {
	name           string
	module         Module
	state          ModuleState
	host           *moduleHost
	shutdownCalled bool
	loadedAt       time.Time
}

// ManagerOption configures a ModuleManager.
type ManagerOption func(*ModuleManager)

func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *ModuleManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithManagerMetrics(metrics Metrics) ManagerOption {
	return func(m *ModuleManager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithManagerSubject publishes lifecycle events on subject and hands it to
// modules implementing ObservableModule.
func WithManagerSubject(subject Subject) ManagerOption {
	return func(m *ModuleManager) {
		m.subject = subject
	}
}

// NewModuleManager creates an empty manager bound to bus.
func NewModuleManager(bus *SignalBus, opts ...ManagerOption) *ModuleManager {
	m := &ModuleManager{
		bus:     bus,
		byName:  make(map[string]*moduleEntry),
		logger:  NopLogger{},
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bus returns the signal bus the manager dispatches through.
func (m *ModuleManager) Bus() *SignalBus { return m.bus }

// Load registers a module in the Unloaded state.
func (m *ModuleManager) Load(module Module) error {
	if module == nil {
		return ErrNilModule
	}
	name := module.Name()
	if name == "" {
		return ErrEmptyModuleName
	}

	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot load %s", ErrModulesAlreadyInitialized, name)
	}
	if _, exists := m.byName[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateModuleName, name)
	}
	entry := &moduleEntry{
		name:     name,
		module:   module,
		state:    StateUnloaded,
		loadedAt: time.Now(),
	}
	entry.host = newModuleHost(m, entry)
	m.entries = append(m.entries, entry)
	m.byName[name] = entry
	m.mu.Unlock()

	if observable, ok := module.(ObservableModule); ok && m.subject != nil {
		if err := observable.RegisterObservers(m.subject); err != nil {
			m.logger.Warn("Module failed to register observers", "module", name, "error", err)
		}
	}

	m.logger.Info("Loaded module", "module", name)
	m.metrics.ModuleStateChanged(name, StateUnloaded)
	m.publish(context.Background(), EventTypeModuleLoaded, entry, nil)
	return nil
}

// InitAll initializes every loaded module once, in load order adjusted so
// that declared dependencies come first. Dependency errors are returned
// before any hook runs. A failing Init moves that module to Failed and
// initialization continues with the next one; the joined failures are
// returned for reporting.
func (m *ModuleManager) InitAll(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return ErrModulesAlreadyInitialized
	}
	order, err := m.resolveDependencies()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.order = order
	m.initialized = true
	m.mu.Unlock()

	var errs []error
	for _, entry := range order {
		initializable, ok := entry.module.(Initializable)
		if !ok {
			m.logger.Debug("Module does not implement Initializable, skipping hook", "module", entry.name)
		} else {
			m.logger.Debug("Initializing module", "module", entry.name)
			if err := callHook(func() error { return initializable.Init(ctx, entry.host) }); err != nil {
				failure := &LifecycleFailure{Module: entry.name, Phase: PhaseInit, Err: err}
				m.logger.Error("Module init failed", "module", entry.name, "error", err)
				m.setState(entry, StateFailed)
				m.release(entry)
				m.publish(ctx, EventTypeModuleFailed, entry, failure)
				errs = append(errs, failure)
				continue
			}
		}

		m.setState(entry, StateInitialized)
		m.publish(ctx, EventTypeModuleInitialized, entry, nil)
		m.setState(entry, StateRunning)
		m.logger.Info("Initialized module", "module", entry.name)
	}

	return errors.Join(errs...)
}

// Tick calls Update on every Running module in initialization order.
// Update failures are logged and returned joined; the module keeps running.
func (m *ModuleManager) Tick(ctx context.Context, dt time.Duration) error {
	if dt < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeDelta, dt)
	}

	m.mu.RLock()
	order := m.order
	m.mu.RUnlock()

	var errs []error
	for _, entry := range order {
		if m.stateOf(entry) != StateRunning {
			continue
		}
		updatable, ok := entry.module.(Updatable)
		if !ok {
			continue
		}
		if err := callHook(func() error { return updatable.Update(ctx, dt) }); err != nil {
			m.logger.Error("Module update failed", "module", entry.name, "error", err)
			errs = append(errs, &LifecycleFailure{Module: entry.name, Phase: PhaseUpdate, Err: err})
		}
	}
	return errors.Join(errs...)
}

// ShutdownAll shuts modules down in reverse initialization order. Each live
// module moves to ShuttingDown, runs Shutdown, loses its subscriptions and
// ends Unloaded. Failed modules get one best-effort Shutdown and stay
// Failed. Modules that were never initialized are skipped. Calling
// ShutdownAll again is a no-op.
func (m *ModuleManager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	order := slices.Clone(m.order)
	m.mu.Unlock()

	slices.Reverse(order)

	var errs []error
	for _, entry := range order {
		state := m.stateOf(entry)
		switch {
		case state.Live():
			m.setState(entry, StateShuttingDown)
			m.logger.Info("Shutting down module", "module", entry.name)
			if err := m.callShutdown(ctx, entry); err != nil {
				errs = append(errs, err)
			}
			m.release(entry)
			m.publish(ctx, EventTypeModuleShutdown, entry, nil)
			m.setState(entry, StateUnloaded)
			m.publish(ctx, EventTypeModuleUnloaded, entry, nil)
		case state == StateFailed:
			m.logger.Debug("Best-effort shutdown of failed module", "module", entry.name)
			if err := m.callShutdown(ctx, entry); err != nil {
				errs = append(errs, err)
			}
			m.release(entry)
		}
	}
	return errors.Join(errs...)
}

func (m *ModuleManager) callShutdown(ctx context.Context, entry *moduleEntry) error {
	m.mu.Lock()
	if entry.shutdownCalled {
		m.mu.Unlock()
		return nil
	}
	entry.shutdownCalled = true
	m.mu.Unlock()

	shutdownable, ok := entry.module.(Shutdownable)
	if !ok {
		return nil
	}
	if err := callHook(func() error { return shutdownable.Shutdown(ctx) }); err != nil {
		m.logger.Error("Module shutdown failed", "module", entry.name, "error", err)
		return &LifecycleFailure{Module: entry.name, Phase: PhaseShutdown, Err: err}
	}
	return nil
}

// State returns the current state of the named module.
func (m *ModuleManager) State(name string) (ModuleState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.byName[name]
	if !ok {
		return StateUnloaded, false
	}
	return entry.state, true
}

// Modules describes every loaded module in load order.
func (m *ModuleManager) Modules() []ModuleInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]ModuleInfo, 0, len(m.entries))
	for _, entry := range m.entries {
		info := ModuleInfo{
			Name:          entry.name,
			State:         entry.state,
			Subscriptions: m.bus.OwnerSubscriptionCount(entry.name),
		}
		if aware, ok := entry.module.(DependencyAware); ok {
			info.Dependencies = slices.Clone(aware.Dependencies())
		}
		infos = append(infos, info)
	}
	return infos
}

// InitOrder returns module names in resolved initialization order. It is
// empty until InitAll has run.
func (m *ModuleManager) InitOrder() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.order))
	for _, entry := range m.order {
		names = append(names, entry.name)
	}
	return names
}

func (m *ModuleManager) setState(entry *moduleEntry, state ModuleState) {
	m.mu.Lock()
	entry.state = state
	m.mu.Unlock()
	m.metrics.ModuleStateChanged(entry.name, state)
}

func (m *ModuleManager) stateOf(entry *moduleEntry) ModuleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return entry.state
}

// acceptsSubscriptions reports whether the module may still connect
// handlers: during Init and while live.
func (m *ModuleManager) acceptsSubscriptions(entry *moduleEntry) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch entry.state {
	case StateInitialized, StateRunning:
		return true
	case StateUnloaded:
		return !entry.shutdownCalled
	default:
		return false
	}
}

func (m *ModuleManager) release(entry *moduleEntry) {
	if n := m.bus.DisconnectAll(entry.name); n > 0 {
		m.logger.Debug("Released module subscriptions", "module", entry.name, "count", n)
	}
}

func (m *ModuleManager) setStopFunc(stop func()) {
	m.mu.Lock()
	m.stop = stop
	m.mu.Unlock()
}

func (m *ModuleManager) requestStop(name string) {
	m.mu.RLock()
	stop := m.stop
	m.mu.RUnlock()

	m.logger.Info("Stop requested", "module", name)
	if stop != nil {
		stop()
	}
}

func (m *ModuleManager) publish(ctx context.Context, eventType string, entry *moduleEntry, failure error) {
	data := map[string]any{
		"module": entry.name,
		"state":  m.stateOf(entry).String(),
	}
	if failure != nil {
		data["error"] = failure.Error()
	}
	emitEvent(ctx, m.subject, m.logger, eventType, moduleSource(entry.name), data)
}

// resolveDependencies returns entries in initialization order. Modules keep
// their load order except where a declared dependency has to come first.
// Caller holds m.mu.
func (m *ModuleManager) resolveDependencies() ([]*moduleEntry, error) {
	graph := make(map[string][]string, len(m.entries))
	for _, entry := range m.entries {
		if aware, ok := entry.module.(DependencyAware); ok {
			graph[entry.name] = aware.Dependencies()
		}
	}

	var result []*moduleEntry
	visited := make(map[string]bool)
	temp := make(map[string]bool)

	var visit func(string) error
	visit = func(node string) error {
		if temp[node] {
			return fmt.Errorf("%w: %s", ErrCircularDependency, node)
		}
		if visited[node] {
			return nil
		}
		temp[node] = true

		for _, dep := range graph[node] {
			if _, exists := m.byName[dep]; !exists {
				return fmt.Errorf("%w: %s depends on non-existent module %s",
					ErrModuleDependencyMissing, node, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		visited[node] = true
		temp[node] = false
		result = append(result, m.byName[node])
		return nil
	}

	for _, entry := range m.entries {
		if !visited[entry.name] {
			if err := visit(entry.name); err != nil {
				return nil, err
			}
		}
	}

	names := make([]string, 0, len(result))
	for _, entry := range result {
		names = append(names, entry.name)
	}
	m.logger.Debug("Module initialization order", "order", names)

	return result, nil
}

// callHook runs a lifecycle hook, converting a panic into an error.
func callHook(hook func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return hook()
}
