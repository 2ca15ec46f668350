// Package sensor simulates a forward distance sensor closing in on an
// obstacle. It emits obstacle_detected at a fixed interval of simulated time
// and backs away whenever move_backward is emitted, closing the loop with
// the avoider module.
package sensor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/GoCodeAlone/ctrlloop"
)

const (
	ModuleName = "sensor"

	SignalObstacleDetected = "obstacle_detected"
	SignalMoveBackward     = "move_backward"
)

// Module is the simulated sensor. It is also the sender of its readings.
type Module struct {
	config   Config
	host     ctrlloop.Host
	distance float64
	elapsed  time.Duration
	readings int
	retreats int
}

// New creates a sensor. An empty name or zero interval falls back to
// DefaultConfig.
func New(config Config) *Module {
	defaults := DefaultConfig()
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.Interval == 0 {
		config.Interval = defaults.Interval
	}
	return &Module{config: config, distance: config.StartDistance}
}

func (m *Module) Name() string { return ModuleName }

// String names the sensor when it appears as a signal sender.
func (m *Module) String() string { return m.config.Name }

func (m *Module) Init(_ context.Context, host ctrlloop.Host) error {
	if err := m.config.Validate(); err != nil {
		return err
	}
	m.host = host
	_, err := host.Connect(SignalMoveBackward, ctrlloop.SubscriberFunc(m.onMoveBackward))
	if err != nil {
		return fmt.Errorf("connect %s: %w", SignalMoveBackward, err)
	}
	host.Logger().Debug("Sensor ready", "name", m.config.Name, "distance", m.distance)
	return nil
}

// Update advances the simulation by dt and emits a reading each time a full
// interval has elapsed.
func (m *Module) Update(ctx context.Context, dt time.Duration) error {
	m.distance = math.Max(0, m.distance-m.config.ApproachSpeed*dt.Seconds())
	m.elapsed += dt
	if m.elapsed < m.config.Interval {
		return nil
	}
	m.elapsed %= m.config.Interval
	m.readings++

	reading := math.Round(m.distance*10) / 10
	return m.host.Emit(ctx, SignalObstacleDetected, ctrlloop.Handle(m), ctrlloop.Args{
		"distance": ctrlloop.Number(reading),
	})
}

func (m *Module) onMoveBackward(context.Context, ctrlloop.Value, ctrlloop.Args) error {
	m.retreats++
	m.distance += m.config.Backoff
	m.host.Logger().Debug("Backing away", "distance", m.distance, "retreats", m.retreats)
	return nil
}

// Distance returns the current simulated distance in centimetres.
func (m *Module) Distance() float64 { return m.distance }

func (m *Module) Readings() int { return m.readings }

func (m *Module) Retreats() int { return m.retreats }
