package sensor

import "errors"

var (
	ErrInvalidInterval  = errors.New("sensor interval must be positive")
	ErrNegativeDistance = errors.New("sensor distances and speeds must not be negative")
)
