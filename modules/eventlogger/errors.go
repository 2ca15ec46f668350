package eventlogger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidLogLevel   = errors.New("invalid log level")
	ErrInvalidFormat     = errors.New("invalid log format")
	ErrInvalidBufferSize = errors.New("buffer size must be positive")
	ErrInvalidOutputType = errors.New("invalid output target type")
	ErrMissingFileConfig = errors.New("missing file configuration for file output target")
	ErrMissingFilePath   = errors.New("missing file path for file output target")

	ErrLoggerNotStarted = errors.New("event logger not started")
	ErrEventBufferFull  = errors.New("event buffer is full")
	ErrFileNotOpen      = errors.New("file not open")
)

// OutputTargetError wraps errors from output target validation
type OutputTargetError struct {
	Index int
	Err   error
}

func (e *OutputTargetError) Error() string {
	return fmt.Sprintf("output target %d: %v", e.Index, e.Err)
}

func (e *OutputTargetError) Unwrap() error {
	return e.Err
}

func NewOutputTargetError(index int, err error) *OutputTargetError {
	return &OutputTargetError{Index: index, Err: err}
}
