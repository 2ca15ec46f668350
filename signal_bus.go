package ctrlloop

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
)

const (
	// DefaultMaxDepth is the number of nested emissions allowed in flight
	// at once, counting the outermost one.
	DefaultMaxDepth = 32

	// DefaultQueueSize bounds the deferred emission queue.
	DefaultQueueSize = 1024
)

// SignalBus maintains named signals and their ordered subscriber lists and
// dispatches emissions synchronously.
//
// Connect, Disconnect, EmitDeferred and the introspection methods are safe
// to call from any goroutine. Emit and Flush run subscriber callbacks on the
// calling goroutine and are meant to be called from the control goroutine
// only.
type SignalBus struct {
	mu      sync.Mutex
	signals map[string][]*Subscription
	queue   []emission

	depth     atomic.Int32
	maxDepth  int
	queueSize int

	logger  Logger
	metrics Metrics
	subject Subject
}

type emission struct {
	signal string
	sender Value
	args   Args
}

// BusOption configures a SignalBus.
type BusOption func(*SignalBus)

// WithMaxDepth sets the reentrancy limit. Values below 1 are ignored.
func WithMaxDepth(depth int) BusOption {
	return func(b *SignalBus) {
		if depth > 0 {
			b.maxDepth = depth
		}
	}
}

// WithQueueSize sets the capacity of the deferred emission queue.
// Values below 1 are ignored.
func WithQueueSize(size int) BusOption {
	return func(b *SignalBus) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

func WithBusLogger(logger Logger) BusOption {
	return func(b *SignalBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithBusMetrics(metrics Metrics) BusOption {
	return func(b *SignalBus) {
		if metrics != nil {
			b.metrics = metrics
		}
	}
}

// WithSubject publishes dispatch failures as CloudEvents on subject.
func WithSubject(subject Subject) BusOption {
	return func(b *SignalBus) {
		b.subject = subject
	}
}

// NewSignalBus creates an empty bus.
func NewSignalBus(opts ...BusOption) *SignalBus {
	b := &SignalBus{
		signals:   make(map[string][]*Subscription),
		maxDepth:  DefaultMaxDepth,
		queueSize: DefaultQueueSize,
		logger:    NopLogger{},
		metrics:   nopMetrics{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect appends a subscription for signal. Duplicates are allowed and are
// invoked once per registration.
func (b *SignalBus) Connect(signal string, sub Subscriber, owner string) (*Subscription, error) {
	if signal == "" {
		return nil, ErrInvalidSignalName
	}
	if sub == nil {
		return nil, ErrNilSubscriber
	}

	s := &Subscription{
		id:         newID(),
		signal:     signal,
		owner:      owner,
		subscriber: sub,
		bus:        b,
	}

	b.mu.Lock()
	b.signals[signal] = append(b.signals[signal], s)
	b.mu.Unlock()

	b.logger.Debug("Connected subscriber", "signal", signal, "owner", owner, "subscription", s.id)
	return s, nil
}

// Disconnect removes the first subscription of signal whose subscriber and
// owner match. It is a no-op when nothing matches.
func (b *SignalBus) Disconnect(signal string, sub Subscriber, owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.signals[signal]
	for i, s := range subs {
		if s.owner == owner && sameSubscriber(s.subscriber, sub) {
			b.signals[signal] = slices.Delete(subs, i, i+1)
			b.logger.Debug("Disconnected subscriber", "signal", signal, "owner", owner, "subscription", s.id)
			return
		}
	}
}

// DisconnectAll removes every subscription made by owner and returns how
// many were removed.
func (b *SignalBus) DisconnectAll(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for signal, subs := range b.signals {
		kept := make([]*Subscription, 0, len(subs))
		for _, s := range subs {
			if s.owner == owner {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) != len(subs) {
			b.signals[signal] = kept
		}
	}
	if removed > 0 {
		b.logger.Debug("Disconnected owner", "owner", owner, "count", removed)
	}
	return removed
}

func (b *SignalBus) cancel(target *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.signals[target.signal]
	i := slices.Index(subs, target)
	if i < 0 {
		return false
	}
	b.signals[target.signal] = slices.Delete(subs, i, i+1)
	return true
}

// Emit invokes every subscriber currently registered for signal, in
// registration order, with the same sender and args.
//
// The subscriber list is snapshotted when Emit starts: subscriptions added
// during dispatch are not invoked by this emission and removed ones still
// are. Subscriber errors and panics are logged and reported as
// HandlerFailure events; they never stop the remaining subscribers and are
// not returned. A nested Emit beyond the reentrancy limit returns
// ErrReentrancyLimitExceeded to its caller only.
func (b *SignalBus) Emit(ctx context.Context, signal string, sender Value, args Args) error {
	if signal == "" {
		return ErrInvalidSignalName
	}

	depth := int(b.depth.Add(1))
	defer b.depth.Add(-1)
	if depth > b.maxDepth {
		b.metrics.ReentrancyRejected(signal)
		b.logger.Warn("Reentrancy limit exceeded", "signal", signal, "limit", b.maxDepth)
		emitEvent(ctx, b.subject, b.logger, EventTypeReentrancyExceeded, busSource(), map[string]any{
			"signal": signal,
			"limit":  b.maxDepth,
		})
		return fmt.Errorf("%w: signal %q at depth %d", ErrReentrancyLimitExceeded, signal, depth)
	}

	b.mu.Lock()
	subs, known := b.signals[signal]
	if !known {
		b.signals[signal] = nil
	}
	snapshot := slices.Clone(subs)
	b.mu.Unlock()

	b.metrics.SignalEmitted(signal, len(snapshot))
	if len(snapshot) == 0 {
		return nil
	}
	b.logger.Debug("Emitting signal", "signal", signal, "subscribers", len(snapshot), "depth", depth)

	for _, s := range snapshot {
		if err := b.invoke(ctx, s, sender, args); err != nil {
			failure := &HandlerFailure{
				Signal:         signal,
				Owner:          s.owner,
				SubscriptionID: s.id,
				Err:            err,
			}
			b.metrics.HandlerFailed(signal, s.owner)
			b.logger.Error("Signal handler failed", "signal", signal, "owner", s.owner, "subscription", s.id, "error", err)
			emitEvent(ctx, b.subject, b.logger, EventTypeHandlerFailed, busSource(), map[string]any{
				"signal":       signal,
				"owner":        s.owner,
				"subscription": s.id,
				"error":        failure.Error(),
			})
		}
	}
	return nil
}

func (b *SignalBus) invoke(ctx context.Context, s *Subscription, sender Value, args Args) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return s.subscriber.Invoke(ctx, sender, args)
}

// EmitDeferred queues an emission for the next Flush. It is safe to call
// from any goroutine and is how work from outside the control goroutine
// reaches subscribers.
func (b *SignalBus) EmitDeferred(signal string, sender Value, args Args) error {
	if signal == "" {
		return ErrInvalidSignalName
	}

	b.mu.Lock()
	if len(b.queue) >= b.queueSize {
		b.mu.Unlock()
		b.metrics.DeferredDropped(signal)
		b.logger.Warn("Deferred signal queue full, dropping emission", "signal", signal, "capacity", b.queueSize)
		emitEvent(context.Background(), b.subject, b.logger, EventTypeDeferredDropped, busSource(), map[string]any{
			"signal":   signal,
			"capacity": b.queueSize,
		})
		return fmt.Errorf("%w: signal %q", ErrDeferredQueueFull, signal)
	}
	b.queue = append(b.queue, emission{signal: signal, sender: sender, args: args})
	b.mu.Unlock()
	return nil
}

// Flush emits every queued emission in FIFO order and returns how many were
// dispatched. Emissions queued while flushing wait for the next Flush.
func (b *SignalBus) Flush(ctx context.Context) int {
	b.mu.Lock()
	pending := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, e := range pending {
		if err := b.Emit(ctx, e.signal, e.sender, e.args); err != nil {
			b.logger.Warn("Deferred emission failed", "signal", e.signal, "error", err)
		}
	}
	return len(pending)
}

// Pending returns the number of queued deferred emissions.
func (b *SignalBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Signals returns the names of every signal seen by Connect or Emit, sorted.
// Signals are never destroyed, even after their last subscriber leaves.
func (b *SignalBus) Signals() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.signals))
	for name := range b.signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *SignalBus) SubscriberCount(signal string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.signals[signal])
}

func (b *SignalBus) OwnerSubscriptionCount(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, subs := range b.signals {
		for _, s := range subs {
			if s.owner == owner {
				n++
			}
		}
	}
	return n
}
