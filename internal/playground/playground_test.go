package playground

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/agent-playground/internal/agent"
	"github.com/chadiek/agent-playground/internal/bands"
	"github.com/chadiek/agent-playground/internal/media"
	"github.com/chadiek/agent-playground/internal/transcript"
	"github.com/chadiek/agent-playground/internal/visual"
)

type fakeSession struct {
	mu           sync.Mutex
	local        media.Participant
	participants []media.Participant
	tracks       []media.TrackRef
	state        media.ConnectionState
	events       chan media.Event
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		local:  media.Participant{Identity: "me", IsLocal: true},
		state:  media.Connecting,
		events: make(chan media.Event, 16),
	}
}

func (s *fakeSession) RoomName() string { return "room-1" }

func (s *fakeSession) LocalParticipant() media.Participant { return s.local }

func (s *fakeSession) Participants() []media.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Participant(nil), s.participants...)
}

func (s *fakeSession) Tracks() []media.TrackRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.TrackRef(nil), s.tracks...)
}

func (s *fakeSession) ConnectionState() media.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) Events() <-chan media.Event { return s.events }

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) join(p media.Participant, ts ...media.TrackRef) {
	s.mu.Lock()
	s.participants = append(s.participants, p)
	s.tracks = append(s.tracks, ts...)
	s.mu.Unlock()
	s.events <- media.ParticipantsChanged{}
	s.events <- media.TracksChanged{}
}

type fakeChat struct {
	mu   sync.Mutex
	sent []string
	in   chan media.ChatMessage
	err  error
}

func newFakeChat() *fakeChat { return &fakeChat{in: make(chan media.ChatMessage, 4)} }

func (c *fakeChat) Send(_ context.Context, text string) (media.ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return media.ChatMessage{}, c.err
	}
	c.sent = append(c.sent, text)
	return media.ChatMessage{ID: "m1", Message: text, Timestamp: 5000}, nil
}

func (c *fakeChat) Messages() <-chan media.ChatMessage { return c.in }

type toneSource struct{}

func (toneSource) SampleRate() int { return 48000 }

func (toneSource) Latest(dst []float32) (int, error) {
	for i := range dst {
		dst[i] = float32(0.5 * math.Sin(2*math.Pi*250*float64(i)/2048))
	}
	return len(dst), nil
}

// switchableSource plays a tone until muted, then reports no fresh samples,
// as a track does when the sender stops transmitting.
type switchableSource struct {
	mu    sync.Mutex
	muted bool
}

func (*switchableSource) SampleRate() int { return 48000 }

func (s *switchableSource) Latest(dst []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.muted {
		return 0, nil
	}
	return toneSource{}.Latest(dst)
}

func (s *switchableSource) mute() {
	s.mu.Lock()
	s.muted = true
	s.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AgentBands.Interval = bands.MinInterval
	cfg.LocalBands.Interval = bands.MinInterval
	return cfg
}

func start(t *testing.T, s *fakeSession, chat media.Chat, cfg Config) (*Controller, <-chan error) {
	t.Helper()
	c, err := New(s, chat, cfg, nil)
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()
	t.Cleanup(c.Close)
	return c, errCh
}

func eventually(t *testing.T, c *Controller, cond func(View) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.View()) }, 2*time.Second, 5*time.Millisecond)
}

func TestNew_InitialView(t *testing.T) {
	c, err := New(newFakeSession(), nil, DefaultConfig(), nil)
	require.NoError(t, err)
	defer c.Close()

	v := c.View()
	assert.Equal(t, "room-1", v.RoomName)
	assert.Equal(t, "me", v.LocalIdentity)
	assert.Equal(t, agent.Offline, v.AgentState)
	assert.Equal(t, visual.Idle, v.VisualizerState)
	assert.Equal(t, visual.SurfaceWaiting, v.Surface)
	assert.False(t, v.IsAgentConnected)
	assert.Len(t, v.Indicator.Bands, 5)
	assert.True(t, v.Indicator.Bands.IsZero())
	assert.Len(t, v.LocalBands, 20)
	assert.Equal(t, "blue", v.ThemeColor)
	assert.Equal(t, "cover", v.VideoFit)
	assert.False(t, v.ChatEnabled)
}

func TestNew_RejectsNilSession(t *testing.T) {
	_, err := New(nil, nil, DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestRun_AgentJoinsAndSpeaks(t *testing.T) {
	s := newFakeSession()
	c, _ := start(t, s, nil, testConfig())

	s.events <- media.ConnectionStateChanged{State: media.Connected}
	eventually(t, c, func(v View) bool { return v.ConnectionState == media.Connected })

	ag := media.Participant{Identity: "agent-1", IsAgent: true}
	s.join(ag, media.TrackRef{SID: "TR_a", Participant: ag, Kind: media.KindAudio, Source: media.SourceMicrophone, Handle: toneSource{}})

	eventually(t, c, func(v View) bool {
		return v.IsAgentConnected &&
			v.AgentAudioTrack == "TR_a" &&
			v.Surface == visual.SurfaceVisualizer &&
			v.AgentState == agent.Speaking &&
			v.VisualizerState == visual.Talking &&
			!v.Indicator.Bands.IsZero()
	})
}

func TestRun_AgentFallsBackToListeningWhenAudioStops(t *testing.T) {
	s := newFakeSession()
	c, _ := start(t, s, nil, testConfig())

	src := &switchableSource{}
	ag := media.Participant{Identity: "agent-1", IsAgent: true}
	s.join(ag, media.TrackRef{SID: "TR_a", Participant: ag, Kind: media.KindAudio, Handle: src})
	eventually(t, c, func(v View) bool { return v.AgentState == agent.Speaking })

	src.mute()
	eventually(t, c, func(v View) bool {
		return v.AgentState == agent.Listening && v.VisualizerState == visual.Idle
	})
}

func TestRun_AgentLeavesReleasesAudio(t *testing.T) {
	s := newFakeSession()
	c, _ := start(t, s, nil, testConfig())

	ag := media.Participant{Identity: "agent-1", IsAgent: true}
	s.join(ag, media.TrackRef{SID: "TR_a", Participant: ag, Kind: media.KindAudio, Handle: toneSource{}})
	eventually(t, c, func(v View) bool { return !v.Indicator.Bands.IsZero() })

	s.mu.Lock()
	s.participants, s.tracks = nil, nil
	s.mu.Unlock()
	s.events <- media.ParticipantsChanged{}

	eventually(t, c, func(v View) bool {
		return v.AgentState == agent.Offline &&
			v.AgentAudioTrack == "" &&
			v.Surface == visual.SurfaceWaiting &&
			v.Indicator.Bands.IsZero()
	})
}

func TestRun_ConversationMergesChatAndTranscription(t *testing.T) {
	s := newFakeSession()
	chat := newFakeChat()
	c, _ := start(t, s, chat, testConfig())

	ag := media.Participant{Identity: "agent-1", IsAgent: true}
	s.join(ag)
	eventually(t, c, func(v View) bool { return v.IsAgentConnected })

	s.events <- media.DataReceived{Topic: transcript.TopicTranscription, Payload: []byte(`{"text":"hello","timestamp":50}`)}
	s.events <- media.DataReceived{Topic: transcript.TopicTranscription, Payload: []byte(`{broken`)}
	s.events <- media.DataReceived{Topic: "other", Payload: []byte(`{"text":"ignored"}`)}
	chat.in <- media.ChatMessage{FromIdentity: "agent-1", Message: "hi", Timestamp: 100}
	chat.in <- media.ChatMessage{FromIdentity: "agent-1", Message: "early", Timestamp: 20}

	require.Eventually(t, func() bool { return len(c.Conversation()) == 3 }, 2*time.Second, 5*time.Millisecond)
	got := c.Conversation()
	assert.Equal(t, "early", got[0].Text)
	assert.Equal(t, "Agent", got[0].SenderName)
	assert.Equal(t, transcript.Entry{SenderName: "You", Text: "hello", TimestampMillis: 50, IsSelf: true}, got[1])
	assert.Equal(t, "hi", got[2].Text)
}

func TestRun_TransportErrorRaisesNotice(t *testing.T) {
	s := newFakeSession()
	c, _ := start(t, s, nil, testConfig())

	s.events <- media.TransportError{Err: errors.New("Permission denied")}
	eventually(t, c, func(v View) bool { return v.Notice != nil })
	assert.Equal(t, micPermissionHint, c.View().Notice.Message)

	s.events <- media.TransportError{Err: errors.New("signal lost")}
	eventually(t, c, func(v View) bool { return v.Notice.Message == "signal lost" })
}

func TestSendChatMessage(t *testing.T) {
	s := newFakeSession()
	chat := newFakeChat()

	c, _ := start(t, s, chat, testConfig())
	assert.ErrorIs(t, c.SendChatMessage(context.Background(), "hi"), ErrChatDisabled)

	cfg := testConfig()
	cfg.Outputs.Chat = true
	c, _ = start(t, newFakeSession(), chat, cfg)
	assert.True(t, c.View().ChatEnabled)
	assert.ErrorIs(t, c.SendChatMessage(context.Background(), "   "), ErrEmptyMessage)

	require.NoError(t, c.SendChatMessage(context.Background(), " hey there "))
	assert.Equal(t, []string{"hey there"}, chat.sent)
	got := c.Conversation()
	require.Len(t, got, 1)
	assert.Equal(t, transcript.Entry{SenderName: "You", Text: "hey there", TimestampMillis: 5000, IsSelf: true}, got[0])

	chat.err = errors.New("channel closed")
	assert.Error(t, c.SendChatMessage(context.Background(), "again"))
	assert.Len(t, c.Conversation(), 1)
}

func TestSubscribe_LatestWins(t *testing.T) {
	s := newFakeSession()
	c, _ := start(t, s, nil, testConfig())

	views, cancel := c.Subscribe()
	defer cancel()

	for _, st := range []media.ConnectionState{media.Connecting, media.Connected} {
		s.events <- media.ConnectionStateChanged{State: st}
	}
	require.Eventually(t, func() bool {
		select {
		case v := <-views:
			return v.ConnectionState == media.Connected
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClose_StopsRunAndSubscribers(t *testing.T) {
	s := newFakeSession()
	chat := newFakeChat()
	cfg := testConfig()
	cfg.Outputs.Chat = true
	c, errCh := start(t, s, chat, cfg)

	views, _ := c.Subscribe()
	c.Close()
	c.Close()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	// drain the buffered view, then the channel must be closed
	for range views {
	}
	assert.ErrorIs(t, c.SendChatMessage(context.Background(), "hi"), ErrClosed)
	assert.ErrorIs(t, c.Run(context.Background()), ErrClosed)

	late, _ := c.Subscribe()
	_, ok := <-late
	assert.False(t, ok)
}

func TestRun_EndsWhenEventsClose(t *testing.T) {
	s := newFakeSession()
	c, errCh := start(t, s, nil, testConfig())

	ag := media.Participant{Identity: "agent-1", IsAgent: true}
	s.join(ag, media.TrackRef{SID: "TR_a", Participant: ag, Kind: media.KindAudio, Handle: toneSource{}})
	eventually(t, c, func(v View) bool { return v.AgentAudioTrack == "TR_a" })

	close(s.events)
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, c.agentBands.Frame().IsZero())
}

func TestRun_ContextCancel(t *testing.T) {
	c, err := New(newFakeSession(), nil, testConfig(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
	c.Close()
}

func TestNoticeFor(t *testing.T) {
	now := time.Unix(10, 0)
	n := noticeFor(errors.New("NotAllowedError: Permission denied by system"), now)
	assert.Equal(t, micPermissionHint, n.Message)
	assert.Equal(t, "error", n.Kind)
	assert.Equal(t, now, n.At)
}
