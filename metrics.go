package ctrlloop

import "time"

// Metrics receives counters from the bus, the manager and the loop.
// The metrics package provides a Prometheus implementation.
type Metrics interface {
	SignalEmitted(signal string, subscribers int)
	HandlerFailed(signal, owner string)
	ReentrancyRejected(signal string)
	DeferredDropped(signal string)
	ModuleStateChanged(module string, state ModuleState)
	TickCompleted(dt, took time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) SignalEmitted(string, int)                  {}
func (nopMetrics) HandlerFailed(string, string)               {}
func (nopMetrics) ReentrancyRejected(string)                  {}
func (nopMetrics) DeferredDropped(string)                     {}
func (nopMetrics) ModuleStateChanged(string, ModuleState)     {}
func (nopMetrics) TickCompleted(time.Duration, time.Duration) {}
