// Package media defines the participant, track and event shapes supplied by the
// transport layer. Nothing in this package owns a stream; it only describes them.
package media

import "context"

// Kind is the media kind of a published track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Source tells which capture device a track originates from.
type Source string

const (
	SourceUnknown     Source = "unknown"
	SourceMicrophone  Source = "microphone"
	SourceCamera      Source = "camera"
	SourceScreenShare Source = "screen_share"
)

// Participant is a member of the session as reported by the transport.
type Participant struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
	Metadata string `json:"metadata,omitempty"`
	IsAgent  bool   `json:"is_agent"`
	IsLocal  bool   `json:"is_local"`
}

// TrackRef references one published stream. Handle is opaque to the core; for
// audio tracks it is expected to implement AudioSource.
type TrackRef struct {
	SID         string      `json:"sid"`
	Participant Participant `json:"participant"`
	Kind        Kind        `json:"kind"`
	Source      Source      `json:"source"`
	Handle      any         `json:"-"`
}

// Audio returns the track handle as an AudioSource, if it is one.
func (t TrackRef) Audio() (AudioSource, bool) {
	if t.Kind != KindAudio || t.Handle == nil {
		return nil, false
	}
	src, ok := t.Handle.(AudioSource)
	return src, ok
}

// AudioSource exposes the latest decoded samples of an audio track.
type AudioSource interface {
	// SampleRate is the rate of the samples returned by Latest.
	SampleRate() int
	// Latest copies the most recent mono samples, normalized to [-1, 1], into dst
	// and returns how many were written. A short count means not enough audio
	// has arrived yet.
	Latest(dst []float32) (int, error)
}

// ConnectionState is the room connection lifecycle relayed from the transport.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Reconnecting ConnectionState = "reconnecting"
)

// ChatMessage is one message delivered by the chat channel. Timestamp is in
// Unix milliseconds as stamped by the sender.
type ChatMessage struct {
	ID           string `json:"id"`
	FromIdentity string `json:"from_identity,omitempty"`
	FromName     string `json:"from_name,omitempty"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp"`
}

// Event is a change notification from the session. Consumers re-read the
// session snapshot on ParticipantsChanged and TracksChanged.
type Event interface{ isEvent() }

// ConnectionStateChanged reports a new connection lifecycle state.
type ConnectionStateChanged struct{ State ConnectionState }

// ParticipantsChanged reports joins, leaves and metadata updates.
type ParticipantsChanged struct{}

// TracksChanged reports track publications and unpublications.
type TracksChanged struct{}

// DataReceived carries one data-channel payload.
type DataReceived struct {
	Topic   string
	Payload []byte
	Sender  string
}

// TransportError reports a failure the user should see (connection drop,
// permission denial). The transport owns any retry.
type TransportError struct{ Err error }

func (ConnectionStateChanged) isEvent() {}
func (ParticipantsChanged) isEvent()    {}
func (TracksChanged) isEvent()          {}
func (DataReceived) isEvent()           {}
func (TransportError) isEvent()         {}

// Session is the live media session handle.
type Session interface {
	RoomName() string
	LocalParticipant() Participant
	// Participants returns the remote participants in join order.
	Participants() []Participant
	// Tracks returns every published track, local and remote.
	Tracks() []TrackRef
	ConnectionState() ConnectionState
	Events() <-chan Event
	Close() error
}

// Chat is the chat channel collaborator.
type Chat interface {
	Send(ctx context.Context, text string) (ChatMessage, error)
	Messages() <-chan ChatMessage
}
