// Package metrics exports ctrlloop counters to Prometheus.
package metrics

import (
	"time"

	"github.com/GoCodeAlone/ctrlloop"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "ctrlloop"

var moduleStates = []ctrlloop.ModuleState{
	ctrlloop.StateUnloaded,
	ctrlloop.StateInitialized,
	ctrlloop.StateRunning,
	ctrlloop.StateShuttingDown,
	ctrlloop.StateFailed,
}

// Prometheus implements ctrlloop.Metrics with Prometheus collectors.
type Prometheus struct {
	emitted      *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	failures     *prometheus.CounterVec
	reentrancy   *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	moduleState  *prometheus.GaugeVec
	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	tickDelta    prometheus.Histogram
}

// NewPrometheus creates the collectors and registers them with reg. An empty
// namespace defaults to "ctrlloop".
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}

	p := &Prometheus{
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "emitted_total",
			Help:      "Total number of signal emissions",
		}, []string{"signal"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "deliveries_total",
			Help:      "Total number of subscriber invocations",
		}, []string{"signal"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "handler_failures_total",
			Help:      "Subscriber invocations that returned an error or panicked",
		}, []string{"signal", "owner"}),
		reentrancy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "reentrancy_rejected_total",
			Help:      "Nested emissions rejected by the depth limit",
		}, []string{"signal"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "deferred_dropped_total",
			Help:      "Deferred emissions dropped because the queue was full",
		}, []string{"signal"}),
		moduleState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "module",
			Name:      "state",
			Help:      "1 for the current lifecycle state of each module",
		}, []string{"module", "state"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "ticks_total",
			Help:      "Completed control loop ticks",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "tick_duration_seconds",
			Help:      "Time spent flushing and updating modules per tick",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		tickDelta: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "tick_delta_seconds",
			Help:      "Delta time handed to modules per tick",
			Buckets:   []float64{.001, .005, .01, .016, .033, .05, .1, .25, 1},
		}),
	}

	for _, c := range []prometheus.Collector{
		p.emitted, p.deliveries, p.failures, p.reentrancy, p.dropped,
		p.moduleState, p.ticks, p.tickDuration, p.tickDelta,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) SignalEmitted(signal string, subscribers int) {
	p.emitted.WithLabelValues(signal).Inc()
	p.deliveries.WithLabelValues(signal).Add(float64(subscribers))
}

func (p *Prometheus) HandlerFailed(signal, owner string) {
	p.failures.WithLabelValues(signal, owner).Inc()
}

func (p *Prometheus) ReentrancyRejected(signal string) {
	p.reentrancy.WithLabelValues(signal).Inc()
}

func (p *Prometheus) DeferredDropped(signal string) {
	p.dropped.WithLabelValues(signal).Inc()
}

// ModuleStateChanged sets the gauge of the new state to 1 and the others to 0.
func (p *Prometheus) ModuleStateChanged(module string, state ctrlloop.ModuleState) {
	for _, s := range moduleStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.moduleState.WithLabelValues(module, s.String()).Set(v)
	}
}

func (p *Prometheus) TickCompleted(dt, took time.Duration) {
	p.ticks.Inc()
	p.tickDelta.Observe(dt.Seconds())
	p.tickDuration.Observe(took.Seconds())
}

var _ ctrlloop.Metrics = (*Prometheus)(nil)
