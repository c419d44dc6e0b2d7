// Package playground runs the session core: it observes a media session and
// a chat channel, keeps the derived View and conversation log current and
// fans them out to subscribers.
//
// All session events, chat messages and analyzer updates are handled on the
// single goroutine started by Run. Analyzer callbacks only nudge that loop.
package playground

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/agent-playground/internal/activity"
	"github.com/chadiek/agent-playground/internal/agent"
	"github.com/chadiek/agent-playground/internal/bands"
	"github.com/chadiek/agent-playground/internal/media"
	"github.com/chadiek/agent-playground/internal/tracks"
	"github.com/chadiek/agent-playground/internal/transcript"
	"github.com/chadiek/agent-playground/internal/visual"
)

var (
	ErrClosed       = errors.New("playground: closed")
	ErrChatDisabled = errors.New("playground: chat is disabled")
	ErrEmptyMessage = errors.New("playground: empty chat message")
)

// Config holds the display preferences and analysis settings. It is read
// once by New.
type Config struct {
	ThemeColor string
	VideoFit   string
	Outputs    visual.Outputs
	AgentBands bands.Config
	LocalBands bands.Config
	Activity   activity.Config
}

// DefaultConfig returns the stock preferences: blue theme, cover fit, audio
// and video outputs on, chat off, 5 agent bands and 20 local bands.
func DefaultConfig() Config {
	return Config{
		ThemeColor: "blue",
		VideoFit:   "cover",
		Outputs:    visual.Outputs{Audio: true, Video: true},
		AgentBands: bands.DefaultConfig(5),
		LocalBands: bands.DefaultConfig(20),
		Activity:   activity.DefaultConfig(),
	}
}

// Controller owns the per-session state. Create it with New and drive it
// with Run.
type Controller struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	chat       media.Chat
	machine    *agent.Machine
	detector   *activity.Detector
	agentBands *bands.Analyzer
	localBands *bands.Analyzer
	log        *transcript.Aggregator

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once

	// owned by the Run goroutine
	selection tracks.Selection

	mu      sync.RWMutex
	session media.Session
	view    View
	notice  *Notice
	subs    map[int]chan View
	nextSub int
	running bool
	closed  bool
}

// New builds a Controller for session. chat may be nil, which disables
// sending.
func New(session media.Session, chat media.Chat, cfg Config, logger *zap.Logger) (*Controller, error) {
	if session == nil {
		return nil, errors.New("playground: nil session")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("room", session.RoomName()))

	agentBands, err := bands.New(cfg.AgentBands, logger.Named("agent-bands"))
	if err != nil {
		return nil, err
	}
	localBands, err := bands.New(cfg.LocalBands, logger.Named("local-bands"))
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		chat:       chat,
		machine:    agent.NewMachine(logger),
		detector:   activity.NewDetector(cfg.Activity),
		agentBands: agentBands,
		localBands: localBands,
		log:        transcript.NewAggregator(transcript.WithLogger(logger)),
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		session:    session,
		subs:       make(map[int]chan View),
	}

	agentBands.OnFrame(func(bands.Frame) { c.nudge() })
	localBands.OnFrame(func(bands.Frame) { c.nudge() })
	agentBands.OnSamples(func(s []float32) {
		if _, changed := c.detector.Feed(s); changed {
			c.nudge()
		}
	})
	c.log.OnChange(func([]transcript.Entry) { c.nudge() })

	c.view = c.build(session)
	return c, nil
}

// nudge schedules a recompute without blocking.
func (c *Controller) nudge() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run processes events until ctx is cancelled, Close is called or the
// session's event stream ends. Per-track subscriptions are released before
// it returns.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrClosed
	}
	c.running = true
	session := c.session
	c.mu.Unlock()
	defer close(c.done)
	defer c.teardown()

	c.machine.SetConnectionState(session.ConnectionState())
	c.machine.SetParticipants(session.Participants())
	c.reselect(session)
	c.publish(session)

	c.logger.Info("playground running")

	events := session.Events()
	var messages <-chan media.ChatMessage
	if c.chat != nil {
		messages = c.chat.Messages()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.quit:
			return nil
		case ev, ok := <-events:
			if !ok {
				c.logger.Info("session event stream ended")
				return nil
			}
			c.handle(session, ev)
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			c.ingestChat(session, msg)
		case <-c.wake:
		}
		c.publish(session)
	}
}

func (c *Controller) handle(session media.Session, ev media.Event) {
	switch e := ev.(type) {
	case media.ConnectionStateChanged:
		c.logger.Info("connection state changed", zap.String("state", string(e.State)))
		c.machine.SetConnectionState(e.State)
	case media.ParticipantsChanged:
		c.machine.SetParticipants(session.Participants())
		// the agent flag lives on the participant, so track ownership may change too
		c.reselect(session)
	case media.TracksChanged:
		c.reselect(session)
	case media.DataReceived:
		c.log.OnDataPayload(e.Topic, e.Payload)
	case media.TransportError:
		c.logger.Warn("transport error", zap.Error(e.Err))
		if e.Err != nil {
			n := noticeFor(e.Err, c.now())
			c.mu.Lock()
			c.notice = n
			c.mu.Unlock()
		}
	default:
		c.logger.Debug("ignoring session event", zap.Any("event", ev))
	}
}

// reselect re-runs track selection and moves the analyzers when the selected
// agent or local audio track changed.
func (c *Controller) reselect(session media.Session) {
	next := tracks.Select(session.Tracks())
	prev := c.selection
	c.selection = next

	if !tracks.SameTrack(prev.AgentAudio, next.AgentAudio) {
		c.logger.Info("agent audio track changed", zap.String("sid", sid(next.AgentAudio)))
		c.agentBands.Attach(audioOf(next.AgentAudio))
		c.detector.Reset()
	}
	if !tracks.SameTrack(prev.LocalAudio, next.LocalAudio) {
		c.localBands.Attach(audioOf(next.LocalAudio))
	}
}

func audioOf(t *media.TrackRef) media.AudioSource {
	if t == nil {
		return nil
	}
	src, ok := t.Audio()
	if !ok {
		return nil
	}
	return src
}

func (c *Controller) ingestChat(session media.Session, msg media.ChatMessage) {
	c.log.OnChatMessage(msg, transcript.Identities{
		Local: session.LocalParticipant().Identity,
		Agent: c.machine.Snapshot().AgentIdentity,
	})
}

// build derives a View from the current inputs.
func (c *Controller) build(session media.Session) View {
	c.machine.SetSpeaking(c.detector.Speaking())
	snap := c.machine.Snapshot()
	sel := c.selection

	c.mu.RLock()
	notice := c.notice
	c.mu.RUnlock()

	return View{
		RoomName:         session.RoomName(),
		LocalIdentity:    session.LocalParticipant().Identity,
		ConnectionState:  snap.Connection,
		AgentState:       snap.Agent,
		VisualizerState:  visual.StateFor(snap.Agent),
		IsAgentConnected: snap.IsAgentConnected,
		AgentIdentity:    snap.AgentIdentity,
		AgentAudioTrack:  sid(sel.AgentAudio),
		AgentVideoTrack:  sid(sel.AgentVideo),
		LocalMicTrack:    sid(sel.LocalAudio),
		LocalCameraTrack: sid(sel.LocalVideo),
		Surface:          visual.SurfaceFor(sel, c.cfg.Outputs),
		Indicator:        visual.Compose(snap.Agent, c.agentBands.Frame()),
		LocalBands:       c.localBands.Frame(),
		ThemeColor:       c.cfg.ThemeColor,
		VideoFit:         c.cfg.VideoFit,
		ChatEnabled:      c.chatEnabled(),
		Notice:           notice,
	}
}

func (c *Controller) chatEnabled() bool {
	return c.chat != nil && c.cfg.Outputs.Chat
}

func (c *Controller) publish(session media.Session) {
	v := c.build(session)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = v
	for _, ch := range c.subs {
		offer(ch, v)
	}
}

// offer replaces whatever is buffered in ch with v.
func offer(ch chan View, v View) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// View returns the latest projection.
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// Conversation returns the conversation log in display order.
func (c *Controller) Conversation() []transcript.Entry {
	return c.log.Entries()
}

// Subscribe returns a channel that always holds the most recent View; slow
// readers skip intermediate ones. The channel is closed when the returned
// cancel func is called or the controller shuts down.
func (c *Controller) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.view

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// SendChatMessage forwards text to the chat channel and records the sent
// message in the conversation log.
func (c *Controller) SendChatMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	c.mu.RLock()
	closed, session := c.closed, c.session
	c.mu.RUnlock()
	switch {
	case closed || session == nil:
		return ErrClosed
	case !c.chatEnabled():
		return ErrChatDisabled
	case text == "":
		return ErrEmptyMessage
	}
	msg, err := c.chat.Send(ctx, text)
	if err != nil {
		c.logger.Warn("chat send failed", zap.Error(err))
		return err
	}
	if msg.FromIdentity == "" {
		msg.FromIdentity = session.LocalParticipant().Identity
	}
	c.ingestChat(session, msg)
	return nil
}

// Close stops Run, if it is running, and releases every subscription. It is
// safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		running := c.running
		// Run may not start once Close has begun
		c.running = true
		c.mu.Unlock()
		close(c.quit)
		if running {
			<-c.done
			return
		}
		c.teardown()
	})
}

func (c *Controller) teardown() {
	c.agentBands.Close()
	c.localBands.Close()
	c.detector.Reset()
	c.selection = tracks.Selection{}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.session = nil
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.logger.Info("playground stopped")
}
