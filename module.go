// Package ctrlloop provides a signal bus, a module lifecycle manager and a
// fixed-rate control loop for hosting small reactive behavior modules.
//
// Modules subscribe to named signals, emit signals of their own and are
// driven through init, update and shutdown by the ModuleManager. All module
// hooks and signal callbacks run on a single control goroutine; foreign
// goroutines hand work to it through SignalBus.EmitDeferred.
//
// Basic usage:
//
//	bus := ctrlloop.NewSignalBus(ctrlloop.WithBusLogger(logger))
//	manager := ctrlloop.NewModuleManager(bus, ctrlloop.WithManagerLogger(logger))
//	if err := manager.Load(avoider.New(avoider.Config{Threshold: 10})); err != nil {
//		log.Fatal(err)
//	}
//	loop := ctrlloop.NewControlLoop(bus, manager)
//	if err := loop.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package ctrlloop

import (
	"context"
	"time"
)

// Module represents a unit of behavior managed by the ModuleManager.
// Every lifecycle hook is optional and detected through the interfaces below.
type Module interface {
	// Name returns the unique identifier for this module. It is also the
	// owner recorded on every subscription the module makes through its Host.
	//
	// Example: "obstacle_avoider", "sensor", "scheduler"
	Name() string
}

// Initializable is implemented by modules with an init hook. Init is where a
// module connects its handlers; it may also emit.
//
// A failing Init moves the module to Failed and its subscriptions are
// released. Other modules still initialize.
type Initializable interface {
	Init(ctx context.Context, host Host) error
}

// Updatable is implemented by modules that want a callback on every tick.
// dt is the time elapsed since the previous tick and is never negative.
type Updatable interface {
	Update(ctx context.Context, dt time.Duration) error
}

// Shutdownable is implemented by modules that release resources at teardown.
// Shutdown is called at most once, in reverse initialization order.
type Shutdownable interface {
	Shutdown(ctx context.Context) error
}

// DependencyAware is an interface for modules that depend on other modules.
// Dependencies are initialized first and shut down last.
//
// Dependencies are resolved by module name and must be exact matches.
// Circular or missing dependencies make InitAll fail before any init runs.
type DependencyAware interface {
	// Dependencies returns names of other modules this module depends on.
	//
	// Example:
	//   func (m *Avoider) Dependencies() []string {
	//       return []string{"sensor"}
	//   }
	Dependencies() []string
}

// ModuleFunc is a convenience Module assembled from plain functions.
// Nil hooks are skipped.
type ModuleFunc struct {
	ModuleName string
	OnInit     func(ctx context.Context, host Host) error
	OnUpdate   func(ctx context.Context, dt time.Duration) error
	OnShutdown func(ctx context.Context) error
}

func (m *ModuleFunc) Name() string { return m.ModuleName }

func (m *ModuleFunc) Init(ctx context.Context, host Host) error {
	if m.OnInit == nil {
		return nil
	}
	return m.OnInit(ctx, host)
}

func (m *ModuleFunc) Update(ctx context.Context, dt time.Duration) error {
	if m.OnUpdate == nil {
		return nil
	}
	return m.OnUpdate(ctx, dt)
}

func (m *ModuleFunc) Shutdown(ctx context.Context) error {
	if m.OnShutdown == nil {
		return nil
	}
	return m.OnShutdown(ctx)
}
