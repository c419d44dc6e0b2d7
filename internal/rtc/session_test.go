package rtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chadiek/agent-playground/internal/media"
	"github.com/chadiek/agent-playground/internal/token"
)

func newDetachedSession(t *testing.T) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &Session{
		logger:   zap.NewNop(),
		grant:    token.Grant{Identity: "me", Name: "Me", Room: "r"},
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan media.Event, eventBuffer),
		messages: make(chan media.ChatMessage, eventBuffer),
		room:     "r",
		state:    media.Connecting,
	}
}

func packet(t *testing.T, topic, sender string, payload []byte) []byte {
	t.Helper()
	b, err := encodePacket(dataPacket{Topic: topic, Sender: sender, Payload: payload})
	require.NoError(t, err)
	return b
}

func TestHandleData_ChatGoesToMessages(t *testing.T) {
	s := newDetachedSession(t)
	s.setRoster([]participantInfo{{Identity: "agent-1", Name: "Ava", Kind: "agent"}})

	body, _ := json.Marshal(chatPayload{ID: "c1", Message: "hi", Timestamp: 100})
	s.handleData(packet(t, TopicChat, "agent-1", body))

	select {
	case msg := <-s.messages:
		assert.Equal(t, media.ChatMessage{ID: "c1", FromIdentity: "agent-1", FromName: "Ava", Message: "hi", Timestamp: 100}, msg)
	default:
		t.Fatal("no chat message delivered")
	}
	assert.Len(t, s.events, 0)
}

func TestHandleData_OtherTopicsBecomeEvents(t *testing.T) {
	s := newDetachedSession(t)
	s.handleData(packet(t, "transcription", "agent-1", []byte(`{"text":"hello"}`)))
	s.handleData([]byte{0xc1}) // not msgpack

	ev := <-s.events
	assert.Equal(t, media.DataReceived{Topic: "transcription", Payload: []byte(`{"text":"hello"}`), Sender: "agent-1"}, ev)
	ev = <-s.events
	assert.Equal(t, media.DataReceived{Payload: []byte{0xc1}}, ev)
}

func TestHandleData_BadChatIsDropped(t *testing.T) {
	s := newDetachedSession(t)
	s.handleData(packet(t, TopicChat, "x", []byte("{")))
	assert.Len(t, s.messages, 0)
	assert.Len(t, s.events, 0)
}

func TestTracks_ResolveOwnersFromRoster(t *testing.T) {
	s := newDetachedSession(t)
	s.tracks = []remoteTrack{
		{identity: "agent-1", sid: "TR_a", kind: media.KindAudio},
		{identity: "agent-1", sid: "TR_v", kind: media.KindVideo},
		{identity: "ghost", sid: "TR_g", kind: media.KindAudio},
	}
	s.setRoster([]participantInfo{
		{Identity: "me", Kind: "standard"},
		{Identity: "agent-1", Kind: "agent"},
	})
	s.mic = &Microphone{ref: media.TrackRef{SID: "TR_mic", Participant: s.LocalParticipant(), Kind: media.KindAudio, Source: media.SourceMicrophone}}

	assert.Equal(t, []media.Participant{{Identity: "agent-1", IsAgent: true}}, s.Participants())

	got := s.Tracks()
	require.Len(t, got, 4)
	assert.Equal(t, "TR_mic", got[0].SID)
	assert.True(t, got[0].Participant.IsLocal)
	assert.True(t, got[1].Participant.IsAgent)
	assert.Equal(t, media.SourceMicrophone, got[1].Source)
	assert.Equal(t, media.SourceCamera, got[2].Source)
	assert.False(t, got[3].Participant.IsAgent)
}

func TestRemoveTrackEmits(t *testing.T) {
	s := newDetachedSession(t)
	s.tracks = []remoteTrack{{sid: "a"}, {sid: "b"}}
	s.removeTrack("a")
	assert.Equal(t, []remoteTrack{{sid: "b"}}, s.tracks)
	assert.Equal(t, media.TracksChanged{}, <-s.events)
}

func TestSetStateEmitsOnChange(t *testing.T) {
	s := newDetachedSession(t)
	s.setState(media.Connecting)
	assert.Len(t, s.events, 0)
	s.setState(media.Connected)
	assert.Equal(t, media.ConnectionStateChanged{State: media.Connected}, <-s.events)
	assert.Equal(t, media.Connected, s.ConnectionState())
}

func TestSend_RequiresOpenChannel(t *testing.T) {
	s := newDetachedSession(t)
	_, err := s.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Send(ctx, "hi")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublishMicrophone_Unavailable(t *testing.T) {
	s := newDetachedSession(t)
	_, err := s.PublishMicrophone()
	assert.ErrorIs(t, err, ErrMicrophoneUnavailable)
}

func TestConnectionState(t *testing.T) {
	cases := map[webrtc.PeerConnectionState]media.ConnectionState{
		webrtc.PeerConnectionStateNew:          media.Connecting,
		webrtc.PeerConnectionStateConnecting:   media.Connecting,
		webrtc.PeerConnectionStateConnected:    media.Connected,
		webrtc.PeerConnectionStateDisconnected: media.Reconnecting,
		webrtc.PeerConnectionStateFailed:       media.Disconnected,
		webrtc.PeerConnectionStateClosed:       media.Disconnected,
	}
	for in, want := range cases {
		assert.Equal(t, want, connectionState(in), in.String())
	}
}

func TestParseStreamID(t *testing.T) {
	id, sid := parseStreamID("agent-1|TR_abc", "track")
	assert.Equal(t, "agent-1", id)
	assert.Equal(t, "TR_abc", sid)

	id, sid = parseStreamID("agent-1", "track")
	assert.Equal(t, "agent-1", id)
	assert.Equal(t, "track", sid)
}

func TestParseICEServers(t *testing.T) {
	got := parseICEServers(`[{"urls":["turn:example.org"],"username":"u","credential":"p"}]`)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"turn:example.org"}, got[0].URLs)

	got = parseICEServers("")
	require.Len(t, got, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, got[0].URLs)
}

func TestPacketRoundTrip(t *testing.T) {
	in := dataPacket{Topic: "transcription", Sender: "a", Payload: []byte("x")}
	b, err := encodePacket(in)
	require.NoError(t, err)
	out, err := decodePacket(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodePacket([]byte{0xc1})
	assert.Error(t, err)
}

// signalServer accepts one client, answers the join with a roster and pushes
// a roster update once the offer arrives.
func signalServer(t *testing.T, got chan<- signalMessage) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var m signalMessage
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			switch m.Type {
			case "join":
				got <- m
				_ = conn.WriteJSON(signalMessage{
					Type:         "joined",
					Room:         "server-room",
					Participants: []participantInfo{{Identity: "me"}, {Identity: "bob"}},
				})
			case "offer":
				got <- signalMessage{Type: "offer", SDP: m.SDP}
				_ = conn.WriteJSON(signalMessage{
					Type:         "participants",
					Participants: []participantInfo{{Identity: "bob"}, {Identity: "agent-1", Name: "Ava", Kind: "agent"}},
				})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDial_JoinsAndTracksRoster(t *testing.T) {
	got := make(chan signalMessage, 4)
	srv := signalServer(t, got)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Dial(ctx, Options{URL: url, Token: "tok"}, zap.NewNop())
	require.NoError(t, err)

	join := <-got
	assert.Equal(t, "tok", join.Token)
	assert.NotEmpty(t, join.Identity)
	offer := <-got
	assert.Contains(t, offer.SDP, "m=audio")

	assert.Equal(t, "server-room", s.RoomName())
	require.Eventually(t, func() bool {
		ps := s.Participants()
		return len(ps) == 2 && ps[1].IsAgent
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Ava", s.Participants()[1].Name)

	assert.NoError(t, s.Close())
	for range s.Events() {
	}
	_, ok := <-s.Messages()
	assert.False(t, ok)
}

func TestDial_Unauthorized(t *testing.T) {
	srv := signalServer(t, make(chan signalMessage, 4))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, err := Dial(context.Background(), Options{URL: url, Token: "wrong"}, nil)
	assert.Error(t, err)
}
