// Package transcript merges chat messages and speech transcriptions into a
// single conversation log ordered by timestamp.
package transcript

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/agent-playground/internal/media"
)

// Entry is one line of the conversation. Entries are never modified after
// they are appended.
type Entry struct {
	SenderName      string `json:"name"`
	Text            string `json:"message"`
	TimestampMillis int64  `json:"timestamp"`
	IsSelf          bool   `json:"is_self"`
}

// Identities are the participants chat senders are matched against.
type Identities struct {
	Local string
	Agent string
}

type entry struct {
	Entry
	seq uint64
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the clock used to stamp entries that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// Aggregator holds the conversation log. Ingestion is safe from any goroutine
// and from within an OnChange callback: entries arriving during a merge are
// queued and folded into the next merge round.
type Aggregator struct {
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	entries  []entry
	seq      uint64
	merging  bool
	pending  []entry
	onChange func([]Entry)
}

// NewAggregator returns an empty Aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// OnChange registers fn to receive the full log after each merge.
func (a *Aggregator) OnChange(fn func([]Entry)) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// OnChatMessage appends a chat message, resolving the sender name against ids.
func (a *Aggregator) OnChatMessage(msg media.ChatMessage, ids Identities) {
	isAgent := ids.Agent != "" && msg.FromIdentity == ids.Agent
	isSelf := ids.Local != "" && msg.FromIdentity == ids.Local
	name := msg.FromName
	if name == "" {
		switch {
		case isAgent:
			name = "Agent"
		case isSelf:
			name = "You"
		default:
			name = "Unknown"
		}
	}
	a.add(Entry{
		SenderName:      name,
		Text:            msg.Message,
		TimestampMillis: a.stamp(msg.Timestamp),
		IsSelf:          isSelf,
	})
}

// OnDataPayload consumes transcription payloads and ignores other topics.
// Malformed payloads are logged and dropped.
func (a *Aggregator) OnDataPayload(topic string, payload []byte) {
	if topic != TopicTranscription {
		return
	}
	t, err := DecodeTranscription(payload)
	if err != nil {
		a.logger.Warn("dropping transcription payload", zap.Error(err), zap.Int("bytes", len(payload)))
		return
	}
	a.add(Entry{
		SenderName:      "You",
		Text:            t.Text,
		TimestampMillis: a.stamp(t.Timestamp),
		IsSelf:          true,
	})
}

// Entries returns a copy of the log in display order.
func (a *Aggregator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Len returns the number of entries in the log.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *Aggregator) stamp(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return a.now().UnixMilli()
}

func (a *Aggregator) add(e Entry) {
	a.mu.Lock()
	a.seq++
	a.pending = append(a.pending, entry{Entry: e, seq: a.seq})
	if a.merging {
		a.mu.Unlock()
		return
	}
	a.merging = true
	for len(a.pending) > 0 {
		a.entries = append(a.entries, a.pending...)
		a.pending = a.pending[:0]
		sort.SliceStable(a.entries, func(i, j int) bool {
			if a.entries[i].TimestampMillis != a.entries[j].TimestampMillis {
				return a.entries[i].TimestampMillis < a.entries[j].TimestampMillis
			}
			return a.entries[i].seq < a.entries[j].seq
		})
		fn := a.onChange
		if fn == nil {
			continue
		}
		snap := a.snapshotLocked()
		a.mu.Unlock()
		fn(snap)
		a.mu.Lock()
	}
	a.merging = false
	a.mu.Unlock()
}

func (a *Aggregator) snapshotLocked() []Entry {
	out := make([]Entry, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Entry
	}
	return out
}
