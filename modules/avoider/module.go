// Package avoider provides the obstacle avoidance behavior module.
//
// The module listens for obstacle_detected emissions carrying a distance in
// centimetres and emits move_backward, with no sender and no args, whenever
// the reported distance is below the configured threshold.
//
//	manager.Load(avoider.New(avoider.Config{Threshold: 10}))
package avoider

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/ctrlloop"
)

const (
	// ModuleName is the owner recorded on the avoider's subscriptions.
	ModuleName = "obstacle_avoider"

	SignalObstacleDetected = "obstacle_detected"
	SignalMoveBackward     = "move_backward"

	// SignalConfigReloaded carries a new threshold under ThresholdArg.
	SignalConfigReloaded = "config_reloaded"
	ThresholdArg         = "avoider_threshold"
)

// Sensor is the sender used by the self-test emission.
type Sensor struct {
	Name string
}

func (s *Sensor) String() string { return s.Name }

// Module reacts to obstacle readings.
type Module struct {
	config       Config
	host         ctrlloop.Host
	subscription *ctrlloop.Subscription
	handler      ctrlloop.Subscriber
}

// New creates an avoider. A non-positive threshold falls back to the default.
func New(config Config) *Module {
	defaults := DefaultConfig()
	if config.Threshold <= 0 {
		config.Threshold = defaults.Threshold
	}
	if config.SensorName == "" {
		config.SensorName = defaults.SensorName
	}
	m := &Module{config: config}
	m.handler = ctrlloop.SubscriberFunc(m.onObstacleDetected)
	return m
}

func (m *Module) Name() string { return ModuleName }

// Config returns the active configuration.
func (m *Module) Config() Config { return m.config }

func (m *Module) Init(ctx context.Context, host ctrlloop.Host) error {
	if err := m.config.Validate(); err != nil {
		return err
	}
	m.host = host
	host.Log("Running init()")

	sub, err := host.Connect(SignalObstacleDetected, m.handler)
	if err != nil {
		return fmt.Errorf("connect %s: %w", SignalObstacleDetected, err)
	}
	m.subscription = sub

	if _, err := host.Connect(SignalConfigReloaded, ctrlloop.SubscriberFunc(m.onConfigReloaded)); err != nil {
		return fmt.Errorf("connect %s: %w", SignalConfigReloaded, err)
	}

	if m.config.SelfTest {
		host.Log("Emitting 'obstacle_detected' signal with sender and args...")
		sensor := &Sensor{Name: m.config.SensorName}
		if err := host.Emit(ctx, SignalObstacleDetected, ctrlloop.Handle(sensor), ctrlloop.Args{
			"distance": ctrlloop.Number(5),
		}); err != nil {
			return fmt.Errorf("self-test emission: %w", err)
		}
	}
	return nil
}

func (m *Module) Shutdown(context.Context) error {
	if m.host != nil {
		m.host.Log("Running shutdown()")
	}
	m.subscription = nil
	return nil
}

// SetThreshold replaces the back-off distance. It must be called from the
// control goroutine.
func (m *Module) SetThreshold(threshold float64) error {
	next := m.config
	next.Threshold = threshold
	if err := next.Validate(); err != nil {
		return err
	}
	m.config = next
	return nil
}

func (m *Module) onConfigReloaded(_ context.Context, _ ctrlloop.Value, args ctrlloop.Args) error {
	threshold, ok := args.Number(ThresholdArg)
	if !ok || threshold == m.config.Threshold {
		return nil
	}
	if err := m.SetThreshold(threshold); err != nil {
		return err
	}
	m.host.Logger().Info("Threshold updated", "threshold", threshold)
	return nil
}

// Subscription returns the handle of the obstacle_detected subscription,
// or nil before Init and after Shutdown.
func (m *Module) Subscription() *ctrlloop.Subscription { return m.subscription }

func (m *Module) onObstacleDetected(ctx context.Context, sender ctrlloop.Value, args ctrlloop.Args) error {
	if !sender.IsNull() {
		m.host.Log(fmt.Sprintf("Signal received from: %s", sender))
	}

	if len(args) == 0 {
		m.host.Log("No args provided with signal, no distance available.")
		return nil
	}
	raw, ok := args.Get("distance")
	if !ok || raw.IsNull() {
		m.host.Log("No distance provided in args.")
		return nil
	}
	distance, ok := raw.AsNumber()
	if !ok {
		m.host.Log(fmt.Sprintf("Distance %q is not a number, ignoring.", raw.String()))
		return nil
	}

	m.host.Log(fmt.Sprintf("Obstacle detected at %s cm!", raw))
	if distance < m.config.Threshold {
		m.host.Log("Distance too close! Emitting 'move_backward' signal.")
		return m.host.Emit(ctx, SignalMoveBackward, ctrlloop.Null(), nil)
	}
	return nil
}
