package ctrlloop

// Logger defines the interface for control loop logging.
// Components log with key-value pairs so the output stays parseable
// whatever backend the host plugs in:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// The logging package provides a zerolog-backed implementation.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	// Used for module transitions and script output.
	//
	// Example:
	//   logger.Info("Initialized module", "module", "obstacle_avoider")
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	// Handler and lifecycle failures are reported here.
	//
	// Example:
	//   logger.Error("Signal handler failed", "signal", "obstacle_detected", "owner", "avoider", "error", err)
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	// Used for per-emission and per-tick diagnostics.
	Debug(msg string, args ...any)
}

// NopLogger discards everything. It is the default for components built
// without an explicit logger.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Debug(string, ...any) {}
