package ctrlloop

import (
	"context"
	"reflect"
)

// Subscriber receives signal emissions. Invoke runs on the emitting
// goroutine; sender and args are shared with every other subscriber of the
// same emission and must be treated as read-only.
type Subscriber interface {
	Invoke(ctx context.Context, sender Value, args Args) error
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
//
// Two SubscriberFunc values are considered the same subscriber when they
// refer to the same function code. Closures created from one function
// literal therefore match each other; the owner still has to match too.
type SubscriberFunc func(ctx context.Context, sender Value, args Args) error

func (f SubscriberFunc) Invoke(ctx context.Context, sender Value, args Args) error {
	return f(ctx, sender, args)
}

// Subscription is the bus's record of one (signal, subscriber, owner)
// registration. It is returned by Connect so that callers can cancel exactly
// this registration later.
type Subscription struct {
	id         string
	signal     string
	owner      string
	subscriber Subscriber
	bus        *SignalBus
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Signal() string { return s.signal }

func (s *Subscription) Owner() string { return s.owner }

// Cancel removes this subscription from the bus. It reports whether the
// subscription was still registered. In-flight emissions that already
// snapshotted it still invoke it once.
func (s *Subscription) Cancel() bool {
	if s == nil || s.bus == nil {
		return false
	}
	return s.bus.cancel(s)
}

// sameSubscriber reports whether a and b denote the same subscriber.
func sameSubscriber(a, b Subscriber) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Kind() == reflect.Func {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	if !ta.Comparable() {
		return false
	}
	return a == b
}
