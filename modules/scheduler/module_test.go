package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoCodeAlone/ctrlloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTaskFailed = errors.New("task failed")

type fixture struct {
	bus     *ctrlloop.SignalBus
	manager *ctrlloop.ModuleManager
	module  *SchedulerModule
}

func newFixture(t *testing.T, config SchedulerConfig) *fixture {
	t.Helper()
	f := &fixture{
		bus:    ctrlloop.NewSignalBus(),
		module: NewModule(config),
	}
	f.manager = ctrlloop.NewModuleManager(f.bus)
	require.NoError(t, f.manager.Load(f.module))
	t.Cleanup(func() { _ = f.manager.ShutdownAll(context.Background()) })
	return f
}

func (f *fixture) record(t *testing.T, signal string) *[]string {
	t.Helper()
	var senders []string
	_, err := f.bus.Connect(signal, ctrlloop.SubscriberFunc(func(_ context.Context, sender ctrlloop.Value, _ ctrlloop.Args) error {
		senders = append(senders, sender.String())
		return nil
	}), "recorder")
	require.NoError(t, err)
	return &senders
}

func TestSchedulerModule_TasksFollowTickTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, SchedulerConfig{
		Tasks: []TaskConfig{{Name: "heartbeat", Interval: 100 * time.Millisecond, Signal: "heartbeat", Args: map[string]any{"n": 1}}},
	})
	beats := f.record(t, "heartbeat")
	require.NoError(t, f.manager.InitAll(context.Background()))

	for range 5 {
		require.NoError(t, f.manager.Tick(context.Background(), 40*time.Millisecond))
	}

	// 40, 80, 120 (run, reset), 40, 80
	assert.Equal(t, []string{"heartbeat"}, *beats)
	require.NoError(t, f.manager.Tick(context.Background(), 20*time.Millisecond))
	assert.Equal(t, []string{"heartbeat", "heartbeat"}, *beats)

	tasks := f.module.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].Runs)
}

func TestSchedulerModule_ZeroDeltaNeverRunsTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t, SchedulerConfig{})
	require.NoError(t, f.manager.InitAll(context.Background()))

	runs := 0
	require.NoError(t, f.module.Every("count", time.Millisecond, func(context.Context, ctrlloop.Host) error {
		runs++
		return nil
	}))
	for range 3 {
		require.NoError(t, f.manager.Tick(context.Background(), 0))
	}
	assert.Zero(t, runs)
}

func TestSchedulerModule_TaskErrorsAreReported(t *testing.T) {
	t.Parallel()
	f := newFixture(t, SchedulerConfig{})
	require.NoError(t, f.manager.InitAll(context.Background()))
	require.NoError(t, f.module.Every("broken", time.Millisecond, func(context.Context, ctrlloop.Host) error {
		return errTaskFailed
	}))

	err := f.manager.Tick(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, errTaskFailed)
	assert.ErrorIs(t, err, ctrlloop.ErrLifecycleFailure)

	state, _ := f.manager.State(ModuleName)
	assert.Equal(t, ctrlloop.StateRunning, state)
}

func TestSchedulerModule_EveryValidation(t *testing.T) {
	t.Parallel()
	m := NewModule(SchedulerConfig{})
	noop := func(context.Context, ctrlloop.Host) error { return nil }

	assert.ErrorIs(t, m.Every("", time.Second, noop), ErrMissingName)
	assert.ErrorIs(t, m.Every("x", 0, noop), ErrInvalidInterval)
	assert.ErrorIs(t, m.Every("x", time.Second, nil), ErrMissingSignal)
	require.NoError(t, m.Every("x", time.Second, noop))
	assert.ErrorIs(t, m.Every("x", time.Second, noop), ErrDuplicateName)
}

func TestSchedulerModule_JobsQueueDeferredEmissions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, SchedulerConfig{
		Jobs: []JobConfig{{Name: "report", Schedule: "@every 1h", Signal: "report"}},
	})
	reports := f.record(t, "report")
	require.NoError(t, f.manager.InitAll(context.Background()))

	require.NoError(t, f.module.RunJob("report"))
	assert.Empty(t, *reports)
	assert.Equal(t, 1, f.bus.Pending())

	f.bus.Flush(context.Background())
	assert.Equal(t, []string{"report"}, *reports)

	jobs := f.module.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(1), jobs[0].Runs)
	assert.Equal(t, "@every 1h", jobs[0].Schedule)
	assert.False(t, jobs[0].Next.IsZero())

	assert.ErrorIs(t, f.module.RunJob("missing"), ErrUnknownJob)
}

func TestSchedulerModule_CronFires(t *testing.T) {
	t.Parallel()
	f := newFixture(t, SchedulerConfig{})
	require.NoError(t, f.manager.InitAll(context.Background()))

	var fired atomic.Int32
	_, err := f.bus.Connect("every_second", ctrlloop.SubscriberFunc(func(context.Context, ctrlloop.Value, ctrlloop.Args) error {
		fired.Add(1)
		return nil
	}), "recorder")
	require.NoError(t, err)
	require.NoError(t, f.module.AddJob(JobConfig{Name: "fast", Schedule: "* * * * * *", Signal: "every_second"}))

	require.Eventually(t, func() bool {
		f.bus.Flush(context.Background())
		return fired.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSchedulerModule_AddAndRemoveJobs(t *testing.T) {
	t.Parallel()
	m := NewModule(SchedulerConfig{})
	assert.ErrorIs(t, m.AddJob(JobConfig{Name: "early", Schedule: "@hourly", Signal: "s"}), ErrNotStarted)

	f := newFixture(t, SchedulerConfig{})
	require.NoError(t, f.manager.InitAll(context.Background()))

	assert.ErrorIs(t, f.module.AddJob(JobConfig{Schedule: "@hourly", Signal: "s"}), ErrMissingName)
	assert.ErrorIs(t, f.module.AddJob(JobConfig{Name: "a", Schedule: "@hourly"}), ErrMissingSignal)
	assert.ErrorIs(t, f.module.AddJob(JobConfig{Name: "a", Schedule: "not a schedule", Signal: "s"}), ErrInvalidSchedule)

	require.NoError(t, f.module.AddJob(JobConfig{Name: "a", Schedule: "*/5 * * * *", Signal: "s"}))
	require.NoError(t, f.module.AddJob(JobConfig{Name: "b", Schedule: "0 30 * * * *", Signal: "s"}))
	assert.ErrorIs(t, f.module.AddJob(JobConfig{Name: "a", Schedule: "@daily", Signal: "s"}), ErrDuplicateName)

	require.NoError(t, f.module.RemoveJob("a"))
	assert.ErrorIs(t, f.module.RemoveJob("a"), ErrUnknownJob)

	jobs := f.module.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].Name)
}

func TestSchedulerModule_InvalidConfigFailsInit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, SchedulerConfig{
		Jobs: []JobConfig{{Name: "bad", Schedule: "every tuesday", Signal: "s"}},
	})

	err := f.manager.InitAll(context.Background())
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	state, _ := f.manager.State(ModuleName)
	assert.Equal(t, ctrlloop.StateFailed, state)
}

func TestSchedulerModule_ShutdownStopsCron(t *testing.T) {
	t.Parallel()
	f := newFixture(t, SchedulerConfig{
		Jobs: []JobConfig{{Name: "report", Schedule: "@every 1h", Signal: "report"}},
	})
	require.NoError(t, f.manager.InitAll(context.Background()))

	require.NoError(t, f.module.Shutdown(context.Background()))
	require.NoError(t, f.module.Shutdown(context.Background()))
}
