package ctrlloop

import (
	"errors"
	"fmt"
)

// Control loop errors
var (
	// Signal bus errors
	ErrInvalidSignalName       = errors.New("invalid signal name")
	ErrNilSubscriber           = errors.New("subscriber is nil")
	ErrReentrancyLimitExceeded = errors.New("signal reentrancy limit exceeded")
	ErrDeferredQueueFull       = errors.New("deferred signal queue is full")
	ErrHandlerFailure          = errors.New("signal handler failed")
	ErrUnsupportedValue        = errors.New("unsupported value type")

	// Module registry errors
	ErrNilModule                 = errors.New("module is nil")
	ErrEmptyModuleName           = errors.New("module name is empty")
	ErrDuplicateModuleName       = errors.New("module name already loaded")
	ErrModulesAlreadyInitialized = errors.New("modules already initialized")
	ErrLifecycleFailure          = errors.New("module lifecycle hook failed")
	ErrModuleNotActive           = errors.New("module is not active")

	// Dependency resolution errors
	ErrCircularDependency      = errors.New("circular dependency detected")
	ErrModuleDependencyMissing = errors.New("module depends on non-existent module")

	// Control loop errors
	ErrNegativeDelta      = errors.New("tick delta must not be negative")
	ErrLoopAlreadyRunning = errors.New("control loop is already running")

	// Observer errors
	ErrNilObserver = errors.New("observer is nil")
)

// HandlerFailure wraps an error returned (or a panic raised) by a subscriber
// while a signal was being dispatched.
type HandlerFailure struct {
	Signal         string
	Owner          string
	SubscriptionID string
	Err            error
}

func (e *HandlerFailure) Error() string {
	return fmt.Sprintf("%s: signal %q owner %q: %v", ErrHandlerFailure, e.Signal, e.Owner, e.Err)
}

func (e *HandlerFailure) Unwrap() error { return e.Err }

// Is reports whether target is ErrHandlerFailure.
func (e *HandlerFailure) Is(target error) bool { return target == ErrHandlerFailure }

// Lifecycle phases reported by LifecycleFailure.
const (
	PhaseInit     = "init"
	PhaseUpdate   = "update"
	PhaseShutdown = "shutdown"
)

// LifecycleFailure wraps an error returned (or a panic raised) by a module's
// init, update or shutdown hook.
type LifecycleFailure struct {
	Module string
	Phase  string
	Err    error
}

func (e *LifecycleFailure) Error() string {
	return fmt.Sprintf("%s: module %q %s: %v", ErrLifecycleFailure, e.Module, e.Phase, e.Err)
}

func (e *LifecycleFailure) Unwrap() error { return e.Err }

// Is reports whether target is ErrLifecycleFailure.
func (e *LifecycleFailure) Is(target error) bool { return target == ErrLifecycleFailure }

// panicError converts a recovered panic value into an error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
