// Package scheduler provides timed signal emission for ctrlloop modules.
//
// Two kinds of schedules are supported:
//   - Tasks accumulate the dt handed to Update and run on the control
//     goroutine every Interval. They follow simulated time, so a paused or
//     slowed loop slows them too.
//   - Jobs follow wall-clock cron expressions. They fire on the cron
//     goroutine and reach subscribers through SignalBus.EmitDeferred, which
//     hands them to the control goroutine on the next tick.
//
// Example:
//
//	sched := scheduler.NewModule(scheduler.SchedulerConfig{
//	    Tasks: []scheduler.TaskConfig{{Name: "heartbeat", Interval: time.Second, Signal: "heartbeat"}},
//	    Jobs:  []scheduler.JobConfig{{Name: "report", Schedule: "@every 1m", Signal: "report"}},
//	})
//	manager.Load(sched)
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/ctrlloop"
	"github.com/robfig/cron/v3"
)

// ModuleName is the unique identifier for the scheduler module.
const ModuleName = "scheduler"

// TaskFunc is run on the control goroutine when a task is due.
type TaskFunc func(ctx context.Context, host ctrlloop.Host) error

type task struct {
	name     string
	interval time.Duration
	elapsed  time.Duration
	fn       TaskFunc
	runs     int
}

type job struct {
	config  JobConfig
	args    ctrlloop.Args
	entryID cron.EntryID
	runs    atomic.Int64
}

// TaskInfo describes a registered task.
type TaskInfo struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int           `json:"runs"`
}

// JobInfo describes a registered cron job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Signal   string    `json:"signal"`
	Runs     int64     `json:"runs"`
	Next     time.Time `json:"next,omitempty"`
}

// SchedulerModule runs interval tasks and cron jobs.
type SchedulerModule struct {
	config SchedulerConfig
	parser cron.Parser

	mu       sync.Mutex
	host     ctrlloop.Host
	tasks    []*task
	jobs     map[string]*job
	jobOrder []string
	cron     *cron.Cron
	started  bool
}

// NewModule creates a scheduler module from config. Tasks and jobs are
// registered during Init; invalid entries make Init fail.
func NewModule(config SchedulerConfig) *SchedulerModule {
	return &SchedulerModule{
		config: config,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   make(map[string]*job),
	}
}

func (m *SchedulerModule) Name() string { return ModuleName }

func (m *SchedulerModule) Init(_ context.Context, host ctrlloop.Host) error {
	m.mu.Lock()
	m.host = host
	m.cron = cron.New(cron.WithParser(m.parser))
	m.mu.Unlock()

	for _, tc := range m.config.Tasks {
		if err := m.addSignalTask(tc); err != nil {
			return err
		}
	}
	for _, jc := range m.config.Jobs {
		if err := m.AddJob(jc); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.cron.Start()
	m.started = true
	m.mu.Unlock()

	host.Logger().Info("Scheduler started", "tasks", len(m.config.Tasks), "jobs", len(m.config.Jobs))
	return nil
}

// Every registers fn to run each time interval of tick time accumulates.
// Like the rest of the module's hooks it must be called from the control
// goroutine.
func (m *SchedulerModule) Every(name string, interval time.Duration, fn TaskFunc) error {
	if name == "" {
		return ErrMissingName
	}
	if interval <= 0 {
		return fmt.Errorf("%w: task %s: %s", ErrInvalidInterval, name, interval)
	}
	if fn == nil {
		return fmt.Errorf("%w: task %s", ErrMissingSignal, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.ContainsFunc(m.tasks, func(t *task) bool { return t.name == name }) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	m.tasks = append(m.tasks, &task{name: name, interval: interval, fn: fn})
	return nil
}

func (m *SchedulerModule) addSignalTask(tc TaskConfig) error {
	if tc.Signal == "" {
		return fmt.Errorf("%w: task %s", ErrMissingSignal, tc.Name)
	}
	args, err := ctrlloop.ArgsOf(tc.Args)
	if err != nil {
		return fmt.Errorf("task %s: %w", tc.Name, err)
	}
	sender := ctrlloop.String(tc.Name)
	return m.Every(tc.Name, tc.Interval, func(ctx context.Context, host ctrlloop.Host) error {
		return host.Emit(ctx, tc.Signal, sender, args)
	})
}

// AddJob registers a cron job. It can be called after Init, from any
// goroutine.
func (m *SchedulerModule) AddJob(jc JobConfig) error {
	if jc.Name == "" {
		return ErrMissingName
	}
	if jc.Signal == "" {
		return fmt.Errorf("%w: job %s", ErrMissingSignal, jc.Name)
	}
	schedule, err := m.parser.Parse(jc.Schedule)
	if err != nil {
		return fmt.Errorf("%w '%s': %w", ErrInvalidSchedule, jc.Schedule, err)
	}
	args, err := ctrlloop.ArgsOf(jc.Args)
	if err != nil {
		return fmt.Errorf("job %s: %w", jc.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron == nil {
		return ErrNotStarted
	}
	if _, exists := m.jobs[jc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, jc.Name)
	}

	j := &job{config: jc, args: args}
	name := jc.Name
	j.entryID = m.cron.Schedule(schedule, cron.FuncJob(func() { m.fire(name) }))
	m.jobs[name] = j
	m.jobOrder = append(m.jobOrder, name)
	return nil
}

// RemoveJob unregisters a cron job.
func (m *SchedulerModule) RemoveJob(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	m.cron.Remove(j.entryID)
	delete(m.jobs, name)
	m.jobOrder = slices.DeleteFunc(m.jobOrder, func(n string) bool { return n == name })
	return nil
}

// RunJob fires a job immediately, outside its schedule.
func (m *SchedulerModule) RunJob(name string) error {
	m.mu.Lock()
	_, ok := m.jobs[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	m.fire(name)
	return nil
}

// fire runs on the cron goroutine.
func (m *SchedulerModule) fire(name string) {
	m.mu.Lock()
	j, ok := m.jobs[name]
	host := m.host
	m.mu.Unlock()
	if !ok || host == nil {
		return
	}

	j.runs.Add(1)
	if err := host.EmitDeferred(j.config.Signal, ctrlloop.String(name), j.args); err != nil {
		host.Logger().Warn("Scheduled job could not be queued", "job", name, "signal", j.config.Signal, "error", err)
		return
	}
	host.Logger().Debug("Scheduled job queued", "job", name, "signal", j.config.Signal)
}

// Update advances every task by dt and runs the ones that are due. A task
// runs at most once per tick and its elapsed time restarts from zero.
func (m *SchedulerModule) Update(ctx context.Context, dt time.Duration) error {
	m.mu.Lock()
	var due []*task
	for _, t := range m.tasks {
		t.elapsed += dt
		if t.elapsed < t.interval {
			continue
		}
		t.elapsed = 0
		t.runs++
		due = append(due, t)
	}
	host := m.host
	m.mu.Unlock()

	var errs []error
	for _, t := range due {
		if err := t.fn(ctx, host); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops the cron scheduler and waits for running jobs to return.
func (m *SchedulerModule) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	started := m.started
	m.started = false
	m.mu.Unlock()
	if c == nil || !started {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// Tasks describes registered tasks in registration order.
func (m *SchedulerModule) Tasks() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]TaskInfo, 0, len(m.tasks))
	for _, t := range m.tasks {
		infos = append(infos, TaskInfo{Name: t.name, Interval: t.interval, Runs: t.runs})
	}
	return infos
}

// Jobs describes registered cron jobs in registration order.
func (m *SchedulerModule) Jobs() []JobInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]JobInfo, 0, len(m.jobOrder))
	for _, name := range m.jobOrder {
		j := m.jobs[name]
		info := JobInfo{
			Name:     name,
			Schedule: j.config.Schedule,
			Signal:   j.config.Signal,
			Runs:     j.runs.Load(),
		}
		if m.cron != nil {
			info.Next = m.cron.Entry(j.entryID).Next
		}
		infos = append(infos, info)
	}
	return infos
}
