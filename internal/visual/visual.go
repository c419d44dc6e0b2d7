// Package visual maps session state onto what the presentation layer draws.
package visual

import (
	"github.com/chadiek/agent-playground/internal/agent"
	"github.com/chadiek/agent-playground/internal/bands"
	"github.com/chadiek/agent-playground/internal/tracks"
)

// State drives the amplitude visualizer animation.
type State string

const (
	Idle     State = "idle"
	Thinking State = "thinking"
	Talking  State = "talking"
)

// StateFor maps an agent state to the visualizer state.
func StateFor(s agent.State) State {
	switch s {
	case agent.Speaking:
		return Talking
	case agent.Thinking:
		return Thinking
	default:
		return Idle
	}
}

// Indicator is the animated amplitude indicator.
type Indicator struct {
	State State       `json:"state"`
	Bands bands.Frame `json:"bands"`
}

// Compose pairs the visualizer state with a copy of the current frame.
func Compose(s agent.State, f bands.Frame) Indicator {
	return Indicator{State: StateFor(s), Bands: f.Clone()}
}

// Surface is the main tile content.
type Surface string

const (
	SurfaceVideo      Surface = "video"
	SurfaceVisualizer Surface = "visualizer"
	SurfaceWaiting    Surface = "waiting"
)

// Outputs are the enabled output surfaces.
type Outputs struct {
	Audio bool
	Video bool
	Chat  bool
}

// SurfaceFor prefers agent video, then the audio visualizer, then a waiting
// placeholder. Disabled outputs are skipped.
func SurfaceFor(sel tracks.Selection, out Outputs) Surface {
	switch {
	case sel.AgentVideo != nil && out.Video:
		return SurfaceVideo
	case sel.AgentAudio != nil && out.Audio:
		return SurfaceVisualizer
	default:
		return SurfaceWaiting
	}
}
