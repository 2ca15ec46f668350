package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GoCodeAlone/ctrlloop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errHandler = errors.New("handler failed")

func TestPrometheus_RecordsBusAndLoop(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := NewPrometheus(reg, "")
	require.NoError(t, err)

	bus := ctrlloop.NewSignalBus(ctrlloop.WithBusMetrics(m))
	manager := ctrlloop.NewModuleManager(bus, ctrlloop.WithManagerMetrics(m))
	loop := ctrlloop.NewControlLoop(bus, manager, ctrlloop.WithLoopMetrics(m))

	_, err = bus.Connect("ping", ctrlloop.SubscriberFunc(func(context.Context, ctrlloop.Value, ctrlloop.Args) error {
		return nil
	}), "a")
	require.NoError(t, err)
	_, err = bus.Connect("ping", ctrlloop.SubscriberFunc(func(context.Context, ctrlloop.Value, ctrlloop.Args) error {
		return errHandler
	}), "b")
	require.NoError(t, err)

	require.NoError(t, manager.Load(&ctrlloop.ModuleFunc{ModuleName: "probe"}))
	require.NoError(t, loop.Init(context.Background()))

	require.NoError(t, bus.Emit(context.Background(), "ping", ctrlloop.Null(), nil))
	require.NoError(t, loop.Step(context.Background(), 10*time.Millisecond))

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.emitted.WithLabelValues("ping")), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("ping")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ping", "b")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ticks), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.moduleState.WithLabelValues("probe", "running")), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.moduleState.WithLabelValues("probe", "initialized")), 0)
}

func TestPrometheus_ModuleStateGaugeTracksLatestState(t *testing.T) {
	t.Parallel()
	m, err := NewPrometheus(prometheus.NewRegistry(), "test")
	require.NoError(t, err)

	m.ModuleStateChanged("x", ctrlloop.StateRunning)
	m.ModuleStateChanged("x", ctrlloop.StateFailed)

	assert.InDelta(t, 0.0, testutil.ToFloat64(m.moduleState.WithLabelValues("x", "running")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.moduleState.WithLabelValues("x", "failed")), 0)
}

func TestPrometheus_DoubleRegistrationFails(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg, "dup")
	require.NoError(t, err)
	_, err = NewPrometheus(reg, "dup")
	assert.Error(t, err)
}

func TestPrometheus_CountsRejectionsAndDrops(t *testing.T) {
	t.Parallel()
	m, err := NewPrometheus(prometheus.NewRegistry(), "")
	require.NoError(t, err)

	m.ReentrancyRejected("loop")
	m.DeferredDropped("late")
	m.DeferredDropped("late")

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.reentrancy.WithLabelValues("loop")), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.dropped.WithLabelValues("late")), 0)
}
