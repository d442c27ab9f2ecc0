package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hvhvdevdev/zee1/internal/engine/state"
)

// Role identifies one of the four sub-engine slots owned by the Root.
type Role int

const (
	RoleVideo Role = iota
	RoleAudio
	RoleControl
	RoleScripting
)

// String returns the role name used in events, metrics and errors.
func (r Role) String() string {
	switch r {
	case RoleVideo:
		return "video"
	case RoleAudio:
		return "audio"
	case RoleControl:
		return "control"
	case RoleScripting:
		return "scripting"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Tick describes the frame a sub-engine is being updated for.
type Tick struct {
	// Frame is the 1-based index of the frame within the current run.
	Frame uint64
	// Delta is the time since the previous frame started. Zero on the first frame.
	Delta time.Duration
	// Elapsed is the time since the loop entered the running phase.
	Elapsed time.Duration
	// RunID identifies the Run invocation; empty outside Run.
	RunID string
}

// RootHandle is the narrow view of the Root handed to Update. It lets a
// sub-engine request termination without reaching its siblings.
type RootHandle interface {
	// Stop requests that the loop exit after the current frame.
	Stop()
	// Running reports whether the loop will start another frame.
	Running() bool
	// Phase returns the current lifecycle phase.
	Phase() state.Phase
}

// Engine is the contract every sub-engine implements.
type Engine interface {
	// Launch acquires the sub-engine's resources. Called once per Run, before any Update.
	Launch(ctx context.Context) error
	// Shutdown releases the sub-engine's resources. Called once per Run after the loop exits.
	Shutdown(ctx context.Context) error
	// Update advances the sub-engine by one frame. It must not call Launch or
	// Shutdown on itself or any sibling.
	Update(ctx context.Context, tick Tick, root RootHandle) error
}

// Video marks an Engine as the video sub-engine. Embed it in the implementation.
type Video struct{}

// Role implements the video marker.
func (Video) Role() Role { return RoleVideo }

func (Video) videoRole() {}

// Audio marks an Engine as the audio sub-engine. Embed it in the implementation.
type Audio struct{}

// Role implements the audio marker.
func (Audio) Role() Role { return RoleAudio }

func (Audio) audioRole() {}

// Control marks an Engine as the control (input) sub-engine. Embed it in the implementation.
type Control struct{}

// Role implements the control marker.
func (Control) Role() Role { return RoleControl }

func (Control) controlRole() {}

// Scripting marks an Engine as the scripting sub-engine. Embed it in the implementation.
type Scripting struct{}

// Role implements the scripting marker.
func (Scripting) Role() Role { return RoleScripting }

func (Scripting) scriptingRole() {}

// VideoEngine is an Engine carrying the Video marker.
type VideoEngine interface {
	Engine
	Role() Role
	videoRole()
}

// AudioEngine is an Engine carrying the Audio marker.
type AudioEngine interface {
	Engine
	Role() Role
	audioRole()
}

// ControlEngine is an Engine carrying the Control marker.
type ControlEngine interface {
	Engine
	Role() Role
	controlRole()
}

// ScriptingEngine is an Engine carrying the Scripting marker.
type ScriptingEngine interface {
	Engine
	Role() Role
	scriptingRole()
}
