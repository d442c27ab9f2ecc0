package engine

import (
	"errors"
	"fmt"
)

// Phase sentinels. Root wraps every sub-engine failure in a *PhaseError that
// matches exactly one of them with errors.Is.
var (
	ErrLaunchFailed   = errors.New("launch failed")
	ErrUpdateFailed   = errors.New("update failed")
	ErrShutdownFailed = errors.New("shutdown failed")

	// ErrAlreadyRunning is returned by Run while another Run is in progress.
	ErrAlreadyRunning = errors.New("root is already running")
)

// Op names the lifecycle call that failed.
type Op string

const (
	OpLaunch   Op = "launch"
	OpUpdate   Op = "update"
	OpShutdown Op = "shutdown"
)

// PhaseError reports which sub-engine failed in which lifecycle call. The
// cause is opaque to the Root.
type PhaseError struct {
	Op    Op
	Role  Role
	Frame uint64 // set for update failures
	Err   error
}

// Error implements error.
func (e *PhaseError) Error() string {
	if e.Op == OpUpdate && e.Frame > 0 {
		return fmt.Sprintf("%s %s (frame %d): %v", e.Op, e.Role, e.Frame, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Role, e.Err)
}

// Unwrap returns the sub-engine's error.
func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the failed phase.
func (e *PhaseError) Is(target error) bool {
	switch e.Op {
	case OpLaunch:
		return target == ErrLaunchFailed
	case OpUpdate:
		return target == ErrUpdateFailed
	case OpShutdown:
		return target == ErrShutdownFailed
	default:
		return false
	}
}

func newPhaseError(op Op, role Role, frame uint64, err error) *PhaseError {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	return &PhaseError{Op: op, Role: role, Frame: frame, Err: err}
}
