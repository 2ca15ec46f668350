package ctrlloop

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// countingMetrics records calls made through the Metrics interface.
type countingMetrics struct {
	mu                 sync.Mutex
	emitted            map[string]int
	handlerFailures    int
	reentrancyRejected int
	deferredDropped    int
	transitions        []string
	ticks              int
}

func (c *countingMetrics) SignalEmitted(signal string, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitted == nil {
		c.emitted = make(map[string]int)
	}
	c.emitted[signal]++
}

func (c *countingMetrics) HandlerFailed(string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlerFailures++
}

func (c *countingMetrics) ReentrancyRejected(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reentrancyRejected++
}

func (c *countingMetrics) DeferredDropped(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deferredDropped++
}

func (c *countingMetrics) ModuleStateChanged(module string, state ModuleState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions = append(c.transitions, module+":"+state.String())
}

func (c *countingMetrics) TickCompleted(time.Duration, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
}

// captureLogger keeps every record for assertions.
type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }

func (l *captureLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if level == "" || e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

// lifecycleProbe is a module that records its hook calls into a shared log.
type lifecycleProbe struct {
	name        string
	deps        []string
	log         *[]string
	initErr     error
	updateErr   error
	shutdownErr error
	panicOn     string
	updates     []time.Duration
	host        Host
}

func (p *lifecycleProbe) Name() string { return p.name }

func (p *lifecycleProbe) Dependencies() []string { return p.deps }

func (p *lifecycleProbe) record(hook string) {
	if p.log != nil {
		*p.log = append(*p.log, fmt.Sprintf("%s:%s", p.name, hook))
	}
	if p.panicOn == hook {
		panic(p.name + " " + hook + " panicked")
	}
}

func (p *lifecycleProbe) Init(_ context.Context, host Host) error {
	p.host = host
	p.record(PhaseInit)
	return p.initErr
}

func (p *lifecycleProbe) Update(_ context.Context, dt time.Duration) error {
	p.updates = append(p.updates, dt)
	p.record(PhaseUpdate)
	return p.updateErr
}

func (p *lifecycleProbe) Shutdown(context.Context) error {
	p.record(PhaseShutdown)
	return p.shutdownErr
}
