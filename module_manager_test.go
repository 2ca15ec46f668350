package ctrlloop

import (
	"context"
	"errors"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errInitBroken     = errors.New("init broken")
	errUpdateBroken   = errors.New("update broken")
	errShutdownBroken = errors.New("shutdown broken")
)

func newTestManager(t *testing.T, opts ...ManagerOption) (*ModuleManager, *SignalBus) {
	t.Helper()
	bus := NewSignalBus()
	return NewModuleManager(bus, opts...), bus
}

func TestModuleManager_LoadValidation(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)

	assert.ErrorIs(t, m.Load(nil), ErrNilModule)
	assert.ErrorIs(t, m.Load(&ModuleFunc{}), ErrEmptyModuleName)
	require.NoError(t, m.Load(&ModuleFunc{ModuleName: "a"}))
	assert.ErrorIs(t, m.Load(&ModuleFunc{ModuleName: "a"}), ErrDuplicateModuleName)

	state, ok := m.State("a")
	require.True(t, ok)
	assert.Equal(t, StateUnloaded, state)

	_, ok = m.State("missing")
	assert.False(t, ok)

	require.NoError(t, m.InitAll(context.Background()))
	assert.ErrorIs(t, m.Load(&ModuleFunc{ModuleName: "late"}), ErrModulesAlreadyInitialized)
	assert.ErrorIs(t, m.InitAll(context.Background()), ErrModulesAlreadyInitialized)
}

func TestModuleManager_FullLifecycleOrder(t *testing.T) {
	t.Parallel()
	metrics := &countingMetrics{}
	m, _ := newTestManager(t, WithManagerMetrics(metrics))
	var log []string

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, m.Load(&lifecycleProbe{name: name, log: &log}))
	}

	require.NoError(t, m.InitAll(context.Background()))
	for _, name := range []string{"a", "b", "c"} {
		state, _ := m.State(name)
		assert.Equal(t, StateRunning, state, name)
	}

	require.NoError(t, m.Tick(context.Background(), 16*time.Millisecond))
	require.NoError(t, m.ShutdownAll(context.Background()))

	assert.Equal(t, []string{
		"a:init", "b:init", "c:init",
		"a:update", "b:update", "c:update",
		"c:shutdown", "b:shutdown", "a:shutdown",
	}, log)

	for _, name := range []string{"a", "b", "c"} {
		state, _ := m.State(name)
		assert.Equal(t, StateUnloaded, state, name)
	}
	assert.Equal(t, []string{
		"a:unloaded", "b:unloaded", "c:unloaded",
		"a:initialized", "a:running",
		"b:initialized", "b:running",
		"c:initialized", "c:running",
		"c:shutting_down", "c:unloaded",
		"b:shutting_down", "b:unloaded",
		"a:shutting_down", "a:unloaded",
	}, metrics.transitions)
}

func TestModuleManager_InitFailureIsIsolated(t *testing.T) {
	t.Parallel()
	m, bus := newTestManager(t)
	var log []string

	broken := &ModuleFunc{
		ModuleName: "broken",
		OnInit: func(_ context.Context, host Host) error {
			_, err := host.Connect("ping", SubscriberFunc(func(context.Context, Value, Args) error { return nil }))
			require.NoError(t, err)
			return errInitBroken
		},
		OnShutdown: func(context.Context) error {
			log = append(log, "broken:shutdown")
			return nil
		},
	}
	require.NoError(t, m.Load(&lifecycleProbe{name: "first", log: &log}))
	require.NoError(t, m.Load(broken))
	require.NoError(t, m.Load(&lifecycleProbe{name: "after", log: &log}))

	err := m.InitAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLifecycleFailure)
	assert.ErrorIs(t, err, errInitBroken)
	var failure *LifecycleFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "broken", failure.Module)
	assert.Equal(t, PhaseInit, failure.Phase)

	state, _ := m.State("broken")
	assert.Equal(t, StateFailed, state)
	state, _ = m.State("after")
	assert.Equal(t, StateRunning, state)
	assert.Equal(t, 0, bus.OwnerSubscriptionCount("broken"))

	require.NoError(t, m.Tick(context.Background(), 0))
	require.NoError(t, m.ShutdownAll(context.Background()))

	assert.Equal(t, []string{
		"first:init", "after:init",
		"first:update", "after:update",
		"after:shutdown", "broken:shutdown", "first:shutdown",
	}, log)
	state, _ = m.State("broken")
	assert.Equal(t, StateFailed, state)
}

func TestModuleManager_PanicsBecomeLifecycleFailures(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	var log []string

	require.NoError(t, m.Load(&lifecycleProbe{name: "init-panics", log: &log, panicOn: PhaseInit}))
	require.NoError(t, m.Load(&lifecycleProbe{name: "update-panics", log: &log, panicOn: PhaseUpdate}))
	require.NoError(t, m.Load(&lifecycleProbe{name: "shutdown-panics", log: &log, panicOn: PhaseShutdown}))

	err := m.InitAll(context.Background())
	require.ErrorIs(t, err, ErrLifecycleFailure)

	err = m.Tick(context.Background(), time.Millisecond)
	var failure *LifecycleFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "update-panics", failure.Module)
	assert.Equal(t, PhaseUpdate, failure.Phase)

	state, _ := m.State("update-panics")
	assert.Equal(t, StateRunning, state)

	err = m.ShutdownAll(context.Background())
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "shutdown-panics", failure.Module)
	state, _ = m.State("shutdown-panics")
	assert.Equal(t, StateUnloaded, state)
}

func TestModuleManager_UpdateAndShutdownFailuresDoNotStopOthers(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	var log []string

	require.NoError(t, m.Load(&lifecycleProbe{name: "a", log: &log, updateErr: errUpdateBroken, shutdownErr: errShutdownBroken}))
	require.NoError(t, m.Load(&lifecycleProbe{name: "b", log: &log}))
	require.NoError(t, m.InitAll(context.Background()))

	err := m.Tick(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, errUpdateBroken)

	err = m.ShutdownAll(context.Background())
	assert.ErrorIs(t, err, errShutdownBroken)
	assert.ErrorIs(t, err, ErrLifecycleFailure)

	assert.Equal(t, []string{"a:init", "b:init", "a:update", "b:update", "b:shutdown", "a:shutdown"}, log)
}

func TestModuleManager_ShutdownRunsOnce(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	var log []string

	require.NoError(t, m.Load(&lifecycleProbe{name: "a", log: &log}))
	require.NoError(t, m.InitAll(context.Background()))
	require.NoError(t, m.ShutdownAll(context.Background()))
	require.NoError(t, m.ShutdownAll(context.Background()))

	assert.Equal(t, []string{"a:init", "a:shutdown"}, log)
}

func TestModuleManager_ShutdownSkipsNeverInitialized(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	var log []string

	require.NoError(t, m.Load(&lifecycleProbe{name: "a", log: &log}))
	require.NoError(t, m.ShutdownAll(context.Background()))
	assert.Empty(t, log)

	state, _ := m.State("a")
	assert.Equal(t, StateUnloaded, state)
}

func TestModuleManager_TickRejectsNegativeDelta(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	probe := &lifecycleProbe{name: "a"}
	require.NoError(t, m.Load(probe))
	require.NoError(t, m.InitAll(context.Background()))

	assert.ErrorIs(t, m.Tick(context.Background(), -time.Millisecond), ErrNegativeDelta)
	require.NoError(t, m.Tick(context.Background(), 0))
	require.NoError(t, m.Tick(context.Background(), 5*time.Millisecond))
	assert.Equal(t, []time.Duration{0, 5 * time.Millisecond}, probe.updates)
}

func TestModuleManager_ShutdownReleasesSubscriptions(t *testing.T) {
	t.Parallel()
	m, bus := newTestManager(t)
	calls := 0

	subscriber := &ModuleFunc{
		ModuleName: "listener",
		OnInit: func(_ context.Context, host Host) error {
			for _, signal := range []string{"a", "b", "c"} {
				if _, err := host.Connect(signal, SubscriberFunc(func(context.Context, Value, Args) error {
					calls++
					return nil
				})); err != nil {
					return err
				}
			}
			return nil
		},
	}
	require.NoError(t, m.Load(subscriber))
	require.NoError(t, m.InitAll(context.Background()))

	infos := m.Modules()
	require.Len(t, infos, 1)
	assert.Equal(t, 3, infos[0].Subscriptions)

	require.NoError(t, m.ShutdownAll(context.Background()))
	assert.Equal(t, 0, bus.OwnerSubscriptionCount("listener"))

	for _, signal := range []string{"a", "b", "c"} {
		require.NoError(t, bus.Emit(context.Background(), signal, Null(), nil))
	}
	assert.Zero(t, calls)
}

func TestModuleManager_HostRefusesConnectAfterRelease(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	probe := &lifecycleProbe{name: "a"}
	require.NoError(t, m.Load(probe))
	require.NoError(t, m.InitAll(context.Background()))

	handler := SubscriberFunc(func(context.Context, Value, Args) error { return nil })
	sub, err := probe.host.Connect("ping", handler)
	require.NoError(t, err)
	assert.Equal(t, "a", sub.Owner())
	assert.Equal(t, "a", probe.host.Name())

	require.NoError(t, m.ShutdownAll(context.Background()))
	_, err = probe.host.Connect("ping", handler)
	assert.ErrorIs(t, err, ErrModuleNotActive)
}

func TestModuleManager_DependencyOrder(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	var log []string

	require.NoError(t, m.Load(&lifecycleProbe{name: "app", deps: []string{"sensor", "store"}, log: &log}))
	require.NoError(t, m.Load(&lifecycleProbe{name: "free", log: &log}))
	require.NoError(t, m.Load(&lifecycleProbe{name: "store", log: &log}))
	require.NoError(t, m.Load(&lifecycleProbe{name: "sensor", deps: []string{"store"}, log: &log}))

	require.NoError(t, m.InitAll(context.Background()))
	assert.Equal(t, []string{"store", "sensor", "app", "free"}, m.InitOrder())

	require.NoError(t, m.ShutdownAll(context.Background()))
	assert.Equal(t, []string{
		"store:init", "sensor:init", "app:init", "free:init",
		"free:shutdown", "app:shutdown", "sensor:shutdown", "store:shutdown",
	}, log)
}

func TestModuleManager_DependencyErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t)
		var log []string
		require.NoError(t, m.Load(&lifecycleProbe{name: "a", deps: []string{"ghost"}, log: &log}))
		assert.ErrorIs(t, m.InitAll(context.Background()), ErrModuleDependencyMissing)
		assert.Empty(t, log)
	})

	t.Run("circular", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t)
		var log []string
		require.NoError(t, m.Load(&lifecycleProbe{name: "a", deps: []string{"b"}, log: &log}))
		require.NoError(t, m.Load(&lifecycleProbe{name: "b", deps: []string{"a"}, log: &log}))
		assert.ErrorIs(t, m.InitAll(context.Background()), ErrCircularDependency)
		assert.Empty(t, log)
	})
}

func TestModuleManager_PublishesLifecycleEvents(t *testing.T) {
	t.Parallel()
	subject := NewEventSubject(nil)
	var types []string
	require.NoError(t, subject.RegisterObserver(NewFunctionalObserver("recorder", func(_ context.Context, e cloudevents.Event) error {
		types = append(types, e.Type())
		return nil
	})))

	m, _ := newTestManager(t, WithManagerSubject(subject))
	require.NoError(t, m.Load(&lifecycleProbe{name: "ok"}))
	require.NoError(t, m.Load(&lifecycleProbe{name: "bad", initErr: errInitBroken}))

	_ = m.InitAll(context.Background())
	require.NoError(t, m.ShutdownAll(context.Background()))

	assert.Equal(t, []string{
		EventTypeModuleLoaded, EventTypeModuleLoaded,
		EventTypeModuleInitialized, EventTypeModuleFailed,
		EventTypeModuleShutdown, EventTypeModuleUnloaded,
	}, types)
}

type observingModule struct {
	ModuleFunc
	seen []string
}

func (o *observingModule) RegisterObservers(subject Subject) error {
	return subject.RegisterObserver(NewFunctionalObserver(o.ModuleName, func(_ context.Context, e cloudevents.Event) error {
		o.seen = append(o.seen, e.Type())
		return nil
	}), EventTypeModuleInitialized)
}

func TestModuleManager_ObservableModuleRegistersOnLoad(t *testing.T) {
	t.Parallel()
	subject := NewEventSubject(nil)
	m, _ := newTestManager(t, WithManagerSubject(subject))

	watcher := &observingModule{ModuleFunc: ModuleFunc{ModuleName: "watcher"}}
	require.NoError(t, m.Load(watcher))
	require.NoError(t, m.Load(&lifecycleProbe{name: "other"}))
	require.Len(t, subject.GetObservers(), 1)

	require.NoError(t, m.InitAll(context.Background()))
	assert.Equal(t, []string{EventTypeModuleInitialized, EventTypeModuleInitialized}, watcher.seen)
}

func TestModuleManager_ModulesDescribesRegistry(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	require.NoError(t, m.Load(&lifecycleProbe{name: "base"}))
	require.NoError(t, m.Load(&lifecycleProbe{name: "top", deps: []string{"base"}}))

	infos := m.Modules()
	require.Len(t, infos, 2)
	assert.Equal(t, "base", infos[0].Name)
	assert.Equal(t, StateUnloaded, infos[0].State)
	assert.Equal(t, []string{"base"}, infos[1].Dependencies)
}

func TestModuleManager_HostLogIsScoped(t *testing.T) {
	t.Parallel()
	logger := &captureLogger{}
	m, _ := newTestManager(t, WithManagerLogger(logger))
	probe := &lifecycleProbe{name: "talker"}
	require.NoError(t, m.Load(probe))
	require.NoError(t, m.InitAll(context.Background()))

	probe.host.Log("hello")
	probe.host.Logger().Warn("careful", "k", "v")

	logger.mu.Lock()
	defer logger.mu.Unlock()
	var found int
	for _, e := range logger.entries {
		if e.msg == "hello" {
			assert.Equal(t, []any{"module", "talker"}, e.args)
			found++
		}
		if e.msg == "careful" {
			assert.Equal(t, []any{"module", "talker", "k", "v"}, e.args)
			found++
		}
	}
	assert.Equal(t, 2, found)
}
