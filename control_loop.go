package ctrlloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultTickInterval is roughly one frame at 60Hz.
	DefaultTickInterval = 16 * time.Millisecond

	defaultShutdownTimeout = 30 * time.Second
)

// ControlLoop drives a ModuleManager at a fixed rate. Each tick first
// flushes deferred emissions on the bus and then updates every running
// module with the elapsed time.
type ControlLoop struct {
	bus     *SignalBus
	manager *ModuleManager

	interval        time.Duration
	maxTicks        int64
	shutdownTimeout time.Duration
	clock           func() time.Time

	logger  Logger
	metrics Metrics
	subject Subject

	running  atomic.Bool
	ticks    atomic.Int64
	stopCh   chan struct{}
	stopOnce sync.Once
}

// LoopOption configures a ControlLoop.
type LoopOption func(*ControlLoop)

// WithTickInterval sets the time between ticks. Values below 1 are ignored.
func WithTickInterval(interval time.Duration) LoopOption {
	return func(l *ControlLoop) {
		if interval > 0 {
			l.interval = interval
		}
	}
}

// WithMaxTicks makes Run stop after n ticks. Zero means no limit.
func WithMaxTicks(n int64) LoopOption {
	return func(l *ControlLoop) {
		if n >= 0 {
			l.maxTicks = n
		}
	}
}

// WithShutdownTimeout bounds the context handed to shutdown hooks by Run.
func WithShutdownTimeout(timeout time.Duration) LoopOption {
	return func(l *ControlLoop) {
		if timeout > 0 {
			l.shutdownTimeout = timeout
		}
	}
}

// WithClock replaces the clock used to measure dt. It must be monotonic.
func WithClock(clock func() time.Time) LoopOption {
	return func(l *ControlLoop) {
		if clock != nil {
			l.clock = clock
		}
	}
}

func WithLoopLogger(logger Logger) LoopOption {
	return func(l *ControlLoop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithLoopMetrics(metrics Metrics) LoopOption {
	return func(l *ControlLoop) {
		if metrics != nil {
			l.metrics = metrics
		}
	}
}

func WithLoopSubject(subject Subject) LoopOption {
	return func(l *ControlLoop) {
		l.subject = subject
	}
}

// NewControlLoop creates a loop over bus and manager. Modules calling
// Host.RequestStop stop this loop.
func NewControlLoop(bus *SignalBus, manager *ModuleManager, opts ...LoopOption) *ControlLoop {
	l := &ControlLoop{
		bus:             bus,
		manager:         manager,
		interval:        DefaultTickInterval,
		shutdownTimeout: defaultShutdownTimeout,
		clock:           time.Now,
		logger:          NopLogger{},
		metrics:         nopMetrics{},
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	manager.setStopFunc(l.Stop)
	return l
}

// Init initializes every module. Module init failures are logged and do
// not stop the loop; dependency errors do.
func (l *ControlLoop) Init(ctx context.Context) error {
	err := l.manager.InitAll(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrLifecycleFailure) {
		l.logger.Warn("Some modules failed to initialize", "error", err)
		return nil
	}
	return err
}

// Step runs one tick: deferred emissions are flushed, then modules are
// updated with dt. Update failures are returned for inspection but have
// already been logged.
func (l *ControlLoop) Step(ctx context.Context, dt time.Duration) error {
	if dt < 0 {
		return ErrNegativeDelta
	}
	start := l.clock()
	l.bus.Flush(ctx)
	err := l.manager.Tick(ctx, dt)
	l.ticks.Add(1)
	l.metrics.TickCompleted(dt, l.clock().Sub(start))
	return err
}

// Shutdown shuts every module down.
func (l *ControlLoop) Shutdown(ctx context.Context) error {
	return l.manager.ShutdownAll(ctx)
}

// Run initializes the modules, ticks until ctx is done, Stop is called or
// the tick limit is reached, and then shuts the modules down. Run may be
// active only once at a time.
func (l *ControlLoop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}
	defer l.running.Store(false)

	if err := l.Init(ctx); err != nil {
		return err
	}

	l.logger.Info("Control loop started", "interval", l.interval, "maxTicks", l.maxTicks)
	emitEvent(ctx, l.subject, l.logger, EventTypeLoopStarted, loopSource(), map[string]any{
		"interval": l.interval.String(),
		"maxTicks": l.maxTicks,
	})

	reason := l.tickUntilDone(ctx)

	l.logger.Info("Control loop stopping", "reason", reason, "ticks", l.Ticks())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.shutdownTimeout)
	defer cancel()
	err := l.Shutdown(shutdownCtx)

	emitEvent(shutdownCtx, l.subject, l.logger, EventTypeLoopStopped, loopSource(), map[string]any{
		"reason": reason,
		"ticks":  l.Ticks(),
	})
	return err
}

func (l *ControlLoop) tickUntilDone(ctx context.Context) string {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	last := l.clock()
	for {
		if l.maxTicks > 0 && l.Ticks() >= l.maxTicks {
			return "max ticks reached"
		}
		// A stop requested during the previous tick wins over a ready ticker.
		select {
		case <-l.stopCh:
			return "stop requested"
		default:
		}
		select {
		case <-ctx.Done():
			return "context done"
		case <-l.stopCh:
			return "stop requested"
		case <-ticker.C:
			now := l.clock()
			dt := now.Sub(last)
			if dt < 0 {
				dt = 0
			}
			last = now
			_ = l.Step(ctx, dt)
		}
	}
}

// Stop asks Run to return after the current tick. It is safe to call from
// any goroutine and more than once.
func (l *ControlLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Ticks returns the number of completed ticks.
func (l *ControlLoop) Ticks() int64 { return l.ticks.Load() }

// Running reports whether Run is active.
func (l *ControlLoop) Running() bool { return l.running.Load() }
