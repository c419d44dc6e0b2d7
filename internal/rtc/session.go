// Package rtc connects to a room over WebRTC. It negotiates a peer connection
// through a websocket signaling server, decodes remote audio for analysis and
// carries chat and other data-channel traffic.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/chadiek/agent-playground/internal/media"
	"github.com/chadiek/agent-playground/internal/token"
)

var (
	ErrNotConnected          = errors.New("rtc: data channel is not open")
	ErrMicrophoneUnavailable = errors.New("rtc: microphone was not negotiated")
)

const (
	sampleRate     = 48000
	ringCapacity   = sampleRate // one second
	joinTimeout    = 10 * time.Second
	eventBuffer    = 256
	dataLabel      = "data"
	maxOpusSamples = 5760 // 120ms at 48kHz
)

// Options configure Dial.
type Options struct {
	URL            string // ws:// or wss:// signaling endpoint
	Token          string
	ICEServersJSON string
	// Microphone negotiates a local audio track that PublishMicrophone feeds.
	Microphone bool
}

type remoteTrack struct {
	identity string
	sid      string
	kind     media.Kind
	handle   any
}

// Session is a live room connection. It implements media.Session and
// media.Chat.
type Session struct {
	logger *zap.Logger
	grant  token.Grant
	sig    *signalConn
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events   chan media.Event
	messages chan media.ChatMessage
	// emitMu guards channel sends against Close
	emitMu sync.RWMutex
	closed bool

	mu       sync.RWMutex
	room     string
	state    media.ConnectionState
	roster   []media.Participant
	tracks   []remoteTrack
	micTrack *webrtc.TrackLocalStaticSample
	mic      *Microphone

	closeOnce sync.Once
}

// Dial joins the room described by opts. The returned session is connecting;
// connection progress arrives as events.
func Dial(ctx context.Context, opts Options, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	grant, err := token.Resolve(opts.Token)
	if err != nil && opts.Token != "" {
		logger.Warn("unreadable token, using generated identity", zap.Error(err))
	}
	logger = logger.With(zap.String("room", grant.Room), zap.String("identity", grant.Identity))
	if grant.Expired(time.Now()) {
		logger.Warn("access token has expired", zap.Time("expires_at", grant.ExpiresAt))
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, header)
	if err != nil {
		return nil, fmt.Errorf("rtc: dial signaling: %w", err)
	}
	sig := &signalConn{conn: conn}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		logger:   logger,
		grant:    grant,
		sig:      sig,
		ctx:      sctx,
		cancel:   cancel,
		events:   make(chan media.Event, eventBuffer),
		messages: make(chan media.ChatMessage, eventBuffer),
		room:     grant.Room,
		state:    media.Connecting,
	}

	if err := s.join(ctx, opts.Token); err != nil {
		cancel()
		_ = sig.close()
		return nil, err
	}
	if err := s.negotiate(opts); err != nil {
		cancel()
		if s.pc != nil {
			_ = s.pc.Close()
		}
		_ = sig.close()
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()
	logger.Info("joined room")
	return s, nil
}

// join sends the join request and waits for the initial roster.
func (s *Session) join(ctx context.Context, raw string) error {
	err := s.sig.write(signalMessage{
		Type:     "join",
		Token:    raw,
		Identity: s.grant.Identity,
		Name:     s.grant.Name,
		Room:     s.grant.Room,
	})
	if err != nil {
		return fmt.Errorf("rtc: send join: %w", err)
	}
	deadline := time.Now().Add(joinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.sig.conn.SetReadDeadline(deadline)
	defer func() { _ = s.sig.conn.SetReadDeadline(time.Time{}) }()
	for {
		m, err := s.sig.read()
		if err != nil {
			return fmt.Errorf("rtc: wait for join: %w", err)
		}
		switch m.Type {
		case "joined":
			if m.Room != "" {
				s.room = m.Room
			}
			s.setRoster(m.Participants)
			return nil
		case "error":
			return fmt.Errorf("rtc: join rejected: %s", m.Error)
		case "bye":
			return errors.New("rtc: server closed the session")
		}
	}
}

func (s *Session) negotiate(opts Options) error {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: parseICEServers(opts.ICEServersJSON)})
	if err != nil {
		return err
	}
	s.pc = pc

	recvonly := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, recvonly); err != nil {
		return err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, recvonly); err != nil {
		return err
	}
	if opts.Microphone && s.grant.CanPublish {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: sampleRate, Channels: 1},
			"microphone", s.grant.Identity,
		)
		if err != nil {
			return err
		}
		if _, err := pc.AddTrack(track); err != nil {
			return err
		}
		s.micTrack = track
	}

	ordered := true
	dc, err := pc.CreateDataChannel(dataLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return err
	}
	s.dc = dc
	dc.OnOpen(func() { s.logger.Debug("data channel open") })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { s.handleData(msg.Data) })

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = s.sig.write(signalMessage{Type: "ice-complete"})
			return
		}
		_ = s.sig.write(candidateMessage(c))
	})
	pc.OnConnectionStateChange(s.handleConnectionState)
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.logger.Debug("ice state", zap.String("state", state.String()))
	})
	pc.OnTrack(s.handleTrack)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return s.sig.write(signalMessage{Type: "offer", SDP: offer.SDP})
}

// readLoop handles signaling until the socket closes.
func (s *Session) readLoop() {
	defer s.wg.Done()
	var pending []webrtc.ICECandidateInit
	for {
		m, err := s.sig.read()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("signaling closed", zap.Error(err))
				s.emit(media.TransportError{Err: fmt.Errorf("signaling connection lost: %w", err)})
				s.setState(media.Disconnected)
			}
			return
		}
		switch m.Type {
		case "answer":
			if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}); err != nil {
				s.logger.Warn("set remote answer", zap.Error(err))
				continue
			}
			for _, c := range pending {
				_ = s.pc.AddICECandidate(c)
			}
			pending = nil
		case "offer":
			s.handleRemoteOffer(m.SDP)
		case "candidate":
			if m.Candidate == "" {
				continue
			}
			c := webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex}
			if s.pc.RemoteDescription() == nil {
				pending = append(pending, c)
				continue
			}
			if err := s.pc.AddICECandidate(c); err != nil {
				s.logger.Debug("add candidate", zap.Error(err))
			}
		case "participants":
			s.setRoster(m.Participants)
			s.emit(media.ParticipantsChanged{})
		case "error":
			s.logger.Warn("signaling error", zap.String("error", m.Error))
			s.emit(media.TransportError{Err: errors.New(m.Error)})
		case "bye":
			s.logger.Info("server ended the session")
			s.setState(media.Disconnected)
			return
		}
	}
}

// handleRemoteOffer answers a server-initiated renegotiation.
func (s *Session) handleRemoteOffer(sdp string) {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		s.logger.Warn("set remote offer", zap.Error(err))
		return
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		s.logger.Warn("create answer", zap.Error(err))
		return
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		s.logger.Warn("set local answer", zap.Error(err))
		return
	}
	_ = s.sig.write(signalMessage{Type: "answer", SDP: answer.SDP})
}

func (s *Session) handleConnectionState(state webrtc.PeerConnectionState) {
	s.logger.Info("peer connection state", zap.String("state", state.String()))
	if state == webrtc.PeerConnectionStateFailed {
		s.emit(media.TransportError{Err: errors.New("peer connection failed")})
	}
	s.setState(connectionState(state))
}

func (s *Session) setState(state media.ConnectionState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		s.emit(media.ConnectionStateChanged{State: state})
	}
}

func (s *Session) setRoster(infos []participantInfo) {
	roster := make([]media.Participant, 0, len(infos))
	for _, info := range infos {
		if info.Identity == "" || info.Identity == s.grant.Identity {
			continue
		}
		roster = append(roster, info.participant())
	}
	s.mu.Lock()
	s.roster = roster
	s.mu.Unlock()
}

func (s *Session) handleTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	identity, sid := parseStreamID(remote.StreamID(), remote.ID())
	log := s.logger.With(zap.String("participant", identity), zap.String("sid", sid))
	log.Info("remote track", zap.String("codec", remote.Codec().MimeType))

	t := remoteTrack{identity: identity, sid: sid}
	var ring *pcmRing
	var dec *opus.Decoder
	switch remote.Kind() {
	case webrtc.RTPCodecTypeAudio:
		d, err := opus.NewDecoder(sampleRate, 1)
		if err != nil {
			log.Error("opus decoder", zap.Error(err))
			return
		}
		dec = d
		ring = newPCMRing(sampleRate, ringCapacity)
		t.kind, t.handle = media.KindAudio, ring
	case webrtc.RTPCodecTypeVideo:
		t.kind, t.handle = media.KindVideo, remote
	default:
		return
	}

	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
	s.emit(media.TracksChanged{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if ring != nil {
				ring.End()
			}
			s.removeTrack(sid)
			log.Info("remote track ended")
		}()
		samples := make([]int16, maxOpusSamples)
		for {
			pkt, _, err := remote.ReadRTP()
			if err != nil {
				return
			}
			if dec == nil || len(pkt.Payload) == 0 {
				continue
			}
			n, err := dec.Decode(pkt.Payload, samples)
			if err != nil {
				continue
			}
			ring.Write(samples[:n])
		}
	}()
}

func (s *Session) removeTrack(sid string) {
	s.mu.Lock()
	kept := s.tracks[:0]
	for _, t := range s.tracks {
		if t.sid != sid {
			kept = append(kept, t)
		}
	}
	s.tracks = kept
	s.mu.Unlock()
	s.emit(media.TracksChanged{})
}

func (s *Session) handleData(data []byte) {
	pkt, err := decodePacket(data)
	if err != nil {
		s.logger.Debug("undecodable data packet", zap.Error(err))
		s.emit(media.DataReceived{Payload: data})
		return
	}
	if pkt.Topic != TopicChat {
		s.emit(media.DataReceived{Topic: pkt.Topic, Payload: pkt.Payload, Sender: pkt.Sender})
		return
	}
	c, err := decodeChat(pkt.Payload)
	if err != nil {
		s.logger.Warn("dropping chat packet", zap.Error(err))
		return
	}
	msg := media.ChatMessage{
		ID:           c.ID,
		FromIdentity: pkt.Sender,
		FromName:     s.participantName(pkt.Sender),
		Message:      c.Message,
		Timestamp:    c.Timestamp,
	}
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.messages <- msg:
	case <-s.ctx.Done():
	}
}

func (s *Session) participantName(identity string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.roster {
		if p.Identity == identity {
			return p.Name
		}
	}
	return ""
}

func (s *Session) emit(ev media.Event) {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// RoomName returns the joined room.
func (s *Session) RoomName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// LocalParticipant describes this client.
func (s *Session) LocalParticipant() media.Participant {
	return media.Participant{Identity: s.grant.Identity, Name: s.grant.Name, IsLocal: true}
}

// Participants returns the remote participants in join order.
func (s *Session) Participants() []media.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]media.Participant(nil), s.roster...)
}

// Tracks returns the local microphone, when published, followed by remote
// tracks in arrival order. Owners are resolved against the current roster.
func (s *Session) Tracks() []media.TrackRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]media.TrackRef, 0, len(s.tracks)+1)
	if s.mic != nil {
		out = append(out, s.mic.ref)
	}
	for _, t := range s.tracks {
		owner := media.Participant{Identity: t.identity}
		for _, p := range s.roster {
			if p.Identity == t.identity {
				owner = p
				break
			}
		}
		source := media.SourceMicrophone
		if t.kind == media.KindVideo {
			source = media.SourceCamera
		}
		out = append(out, media.TrackRef{SID: t.sid, Participant: owner, Kind: t.kind, Source: source, Handle: t.handle})
	}
	return out
}

// ConnectionState returns the last observed connection state.
func (s *Session) ConnectionState() media.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Events delivers session changes. It is closed by Close.
func (s *Session) Events() <-chan media.Event { return s.events }

// Messages delivers chat messages from other participants. It is closed by
// Close.
func (s *Session) Messages() <-chan media.ChatMessage { return s.messages }

// Send publishes a chat message on the data channel.
func (s *Session) Send(ctx context.Context, text string) (media.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return media.ChatMessage{}, err
	}
	if s.dc == nil || s.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return media.ChatMessage{}, ErrNotConnected
	}
	c := chatPayload{ID: uuid.NewString(), Message: text, Timestamp: time.Now().UnixMilli()}
	body, err := json.Marshal(c)
	if err != nil {
		return media.ChatMessage{}, err
	}
	pkt, err := encodePacket(dataPacket{Topic: TopicChat, Sender: s.grant.Identity, Payload: body})
	if err != nil {
		return media.ChatMessage{}, err
	}
	if err := s.dc.Send(pkt); err != nil {
		return media.ChatMessage{}, fmt.Errorf("rtc: send chat: %w", err)
	}
	return media.ChatMessage{
		ID:           c.ID,
		FromIdentity: s.grant.Identity,
		FromName:     s.grant.Name,
		Message:      text,
		Timestamp:    c.Timestamp,
	}, nil
}

// Close leaves the room and releases every track. Events and Messages are
// closed once all background work has stopped.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.sig.write(signalMessage{Type: "bye"})

		s.mu.Lock()
		mic := s.mic
		s.mu.Unlock()
		if mic != nil {
			mic.Close()
		}
		if s.pc != nil {
			err = s.pc.Close()
		}
		_ = s.sig.close()
		s.wg.Wait()

		s.emitMu.Lock()
		s.closed = true
		close(s.events)
		close(s.messages)
		s.emitMu.Unlock()
		s.logger.Info("left room")
	})
	return err
}
