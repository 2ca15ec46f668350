package ctrlloop

import (
	"encoding/json"
	"fmt"
)

// ModuleState is the lifecycle state of a loaded module.
//
//	Unloaded -> Initialized -> Running -> ShuttingDown -> Unloaded
//	Unloaded -> Failed (init failed, terminal)
type ModuleState int

const (
	StateUnloaded ModuleState = iota
	StateInitialized
	StateRunning
	StateShuttingDown
	StateFailed
)

func (s ModuleState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s ModuleState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Live reports whether hooks may still run for a module in this state.
func (s ModuleState) Live() bool {
	return s == StateInitialized || s == StateRunning
}

// ModuleInfo is a point-in-time view of a loaded module.
type ModuleInfo struct {
	Name          string      `json:"name"`
	State         ModuleState `json:"state"`
	Subscriptions int         `json:"subscriptions"`
	Dependencies  []string    `json:"dependencies,omitempty"`
}
