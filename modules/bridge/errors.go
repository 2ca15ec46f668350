package bridge

import "errors"

var (
	// ErrServerNotStarted is returned by Addr before Init has run.
	ErrServerNotStarted = errors.New("bridge server not started")

	// ErrNilManager is returned by Init when no module manager was supplied.
	ErrNilManager = errors.New("bridge requires a module manager")

	errBodyNotObject = errors.New("request body must be a JSON object")
)
