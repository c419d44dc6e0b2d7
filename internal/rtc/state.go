package rtc

import (
	"github.com/pion/webrtc/v3"

	"github.com/chadiek/agent-playground/internal/media"
)

// connectionState maps the peer connection lifecycle onto the room states.
// A disconnected peer may still recover, so it reads as reconnecting.
func connectionState(s webrtc.PeerConnectionState) media.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		return media.Connecting
	case webrtc.PeerConnectionStateConnected:
		return media.Connected
	case webrtc.PeerConnectionStateDisconnected:
		return media.Reconnecting
	default:
		return media.Disconnected
	}
}
