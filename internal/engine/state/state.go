// Package state provides the lifecycle state definitions shared by the root
// orchestrator, its event log and its metrics. This keeps phase and sub-engine
// status semantics identical wherever they are reported.
package state

import (
	"encoding/json"
	"fmt"
)

// Phase represents the lifecycle phase of the whole engine.
type Phase int32

const (
	// PhaseCreated indicates the root is wired but no sub-engine has launched.
	PhaseCreated Phase = iota

	// PhaseLaunched indicates every sub-engine launched and the loop is about to start.
	PhaseLaunched

	// PhaseRunning indicates the frame loop is executing.
	PhaseRunning

	// PhaseShuttingDown indicates the loop exited and sub-engines are being shut down.
	PhaseShuttingDown

	// PhaseTerminated indicates Run returned, successfully or not.
	PhaseTerminated
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseLaunched:
		return "launched"
	case PhaseRunning:
		return "running"
	case PhaseShuttingDown:
		return "shutting-down"
	case PhaseTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", p)
	}
}

// MarshalJSON implements json.Marshaler.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*p = ParsePhase(str)
	return nil
}

// ParsePhase converts a string to Phase. Unknown input maps to PhaseCreated.
func ParsePhase(s string) Phase {
	switch s {
	case "created":
		return PhaseCreated
	case "launched":
		return PhaseLaunched
	case "running":
		return PhaseRunning
	case "shutting-down", "stopping":
		return PhaseShuttingDown
	case "terminated", "stopped":
		return PhaseTerminated
	default:
		return PhaseCreated
	}
}

// IsTerminal returns true if Run has returned.
func (p Phase) IsTerminal() bool {
	return p == PhaseTerminated
}

// CanRun returns true if Run may be entered from this phase.
func (p Phase) CanRun() bool {
	return p == PhaseCreated || p == PhaseTerminated
}

// Status represents the lifecycle status of a single sub-engine slot.
type Status int32

const (
	// StatusIdle indicates the sub-engine has not been launched.
	StatusIdle Status = iota

	// StatusLaunching indicates Launch is in flight.
	StatusLaunching

	// StatusLaunched indicates Launch succeeded.
	StatusLaunched

	// StatusLaunchFailed indicates Launch returned an error.
	StatusLaunchFailed

	// StatusUpdating indicates Update is in flight.
	StatusUpdating

	// StatusUpdateFailed indicates the last Update returned an error.
	StatusUpdateFailed

	// StatusShuttingDown indicates Shutdown is in flight.
	StatusShuttingDown

	// StatusStopped indicates Shutdown succeeded.
	StatusStopped

	// StatusShutdownFailed indicates Shutdown returned an error.
	StatusShutdownFailed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLaunching:
		return "launching"
	case StatusLaunched:
		return "launched"
	case StatusLaunchFailed:
		return "launch-failed"
	case StatusUpdating:
		return "updating"
	case StatusUpdateFailed:
		return "update-failed"
	case StatusShuttingDown:
		return "shutting-down"
	case StatusStopped:
		return "stopped"
	case StatusShutdownFailed:
		return "shutdown-failed"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseStatus(str)
	return nil
}

// ParseStatus converts a string to Status. Unknown input maps to StatusIdle.
func ParseStatus(s string) Status {
	switch s {
	case "idle":
		return StatusIdle
	case "launching":
		return StatusLaunching
	case "launched", "running":
		return StatusLaunched
	case "launch-failed":
		return StatusLaunchFailed
	case "updating":
		return StatusUpdating
	case "update-failed":
		return StatusUpdateFailed
	case "shutting-down":
		return StatusShuttingDown
	case "stopped":
		return StatusStopped
	case "shutdown-failed", "stop-failed":
		return StatusShutdownFailed
	default:
		return StatusIdle
	}
}

// IsLaunched returns true if the sub-engine holds resources that a shutdown
// must release.
func (s Status) IsLaunched() bool {
	switch s {
	case StatusLaunched, StatusUpdating, StatusUpdateFailed:
		return true
	default:
		return false
	}
}

// IsFailed returns true if the last lifecycle call on the sub-engine failed.
func (s Status) IsFailed() bool {
	return s == StatusLaunchFailed || s == StatusUpdateFailed || s == StatusShutdownFailed
}

// Snapshot is a point-in-time view of the engine lifecycle.
type Snapshot struct {
	RunID   string            `json:"run_id,omitempty"`
	Phase   Phase             `json:"phase"`
	Running bool              `json:"running"`
	Frame   uint64            `json:"frame"`
	Engines map[string]Status `json:"engines"`
	Error   string            `json:"error,omitempty"`
}

// Healthy reports whether the snapshot describes a live or cleanly finished engine.
func (s Snapshot) Healthy() bool {
	if s.Error != "" {
		return false
	}
	for _, st := range s.Engines {
		if st.IsFailed() {
			return false
		}
	}
	return true
}

// ValidTransitions defines allowed phase transitions.
var ValidTransitions = map[Phase][]Phase{
	PhaseCreated:      {PhaseLaunched, PhaseShuttingDown, PhaseTerminated},
	PhaseLaunched:     {PhaseRunning, PhaseShuttingDown},
	PhaseRunning:      {PhaseShuttingDown},
	PhaseShuttingDown: {PhaseTerminated},
	PhaseTerminated:   {PhaseLaunched, PhaseShuttingDown, PhaseTerminated},
}

// CanTransition returns true if the transition from -> to is valid.
func CanTransition(from, to Phase) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// TransitionError represents an invalid phase transition.
type TransitionError struct {
	From Phase
	To   Phase
}

// Error implements error.
func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition: %s -> %s", e.From, e.To)
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(from, to Phase) TransitionError {
	return TransitionError{From: from, To: to}
}
