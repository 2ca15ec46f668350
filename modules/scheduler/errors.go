package scheduler

import "errors"

var (
	ErrInvalidInterval = errors.New("task interval must be positive")
	ErrMissingSignal   = errors.New("task or job has no signal")
	ErrMissingName     = errors.New("task or job has no name")
	ErrDuplicateName   = errors.New("task or job name already registered")
	ErrInvalidSchedule = errors.New("invalid cron schedule")
	ErrUnknownJob      = errors.New("unknown job")
	ErrNotStarted      = errors.New("scheduler module not initialized")
)
