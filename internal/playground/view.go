package playground

import (
	"github.com/chadiek/agent-playground/internal/agent"
	"github.com/chadiek/agent-playground/internal/bands"
	"github.com/chadiek/agent-playground/internal/media"
	"github.com/chadiek/agent-playground/internal/visual"
)

// View is the read-only projection handed to the renderer. It is rebuilt from
// scratch whenever an input changes.
type View struct {
	RoomName         string                `json:"room_name"`
	LocalIdentity    string                `json:"local_identity"`
	ConnectionState  media.ConnectionState `json:"connection_state"`
	AgentState       agent.State           `json:"agent_state"`
	VisualizerState  visual.State          `json:"visualizer_state"`
	IsAgentConnected bool                  `json:"is_agent_connected"`
	AgentIdentity    string                `json:"agent_identity,omitempty"`

	AgentAudioTrack  string `json:"agent_audio_track,omitempty"`
	AgentVideoTrack  string `json:"agent_video_track,omitempty"`
	LocalMicTrack    string `json:"local_mic_track,omitempty"`
	LocalCameraTrack string `json:"local_camera_track,omitempty"`

	Surface    visual.Surface   `json:"surface"`
	Indicator  visual.Indicator `json:"indicator"`
	LocalBands bands.Frame      `json:"local_bands"`

	ThemeColor  string `json:"theme_color"`
	VideoFit    string `json:"video_fit"`
	ChatEnabled bool   `json:"chat_enabled"`

	Notice *Notice `json:"notice,omitempty"`
}

func sid(t *media.TrackRef) string {
	if t == nil {
		return ""
	}
	return t.SID
}
