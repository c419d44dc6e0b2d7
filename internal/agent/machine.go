package agent

import (
	"sync"

	"go.uber.org/zap"

	"github.com/chadiek/agent-playground/internal/media"
)

// Snapshot is the derived session state at one instant.
type Snapshot struct {
	Connection       media.ConnectionState `json:"connection_state"`
	Agent            State                 `json:"agent_state"`
	AgentIdentity    string                `json:"agent_identity,omitempty"`
	IsAgentConnected bool                  `json:"is_agent_connected"`
}

// Machine holds the latest inputs and recomputes the whole Snapshot from them
// on every read, so a missed event is healed by the next one.
type Machine struct {
	logger *zap.Logger

	mu       sync.Mutex
	conn     media.ConnectionState
	agent    *media.Participant
	signal   State
	badMeta  string
	speaking bool
}

// NewMachine returns a Machine in the disconnected state with no agent.
func NewMachine(logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{logger: logger, conn: media.Disconnected}
}

// SetConnectionState records the transport's connection state.
func (m *Machine) SetConnectionState(s media.ConnectionState) {
	m.mu.Lock()
	m.conn = s
	m.mu.Unlock()
}

// SetParticipants records the current remote participants. The first one
// flagged as an agent is the recognized agent.
func (m *Machine) SetParticipants(ps []media.Participant) {
	var agent *media.Participant
	for i := range ps {
		if ps[i].IsAgent {
			p := ps[i]
			agent = &p
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.agent = agent
	m.signal = ""
	if agent == nil {
		return
	}
	s, err := DecodeMetadata(agent.Metadata)
	if err != nil {
		// log each distinct bad value once
		if agent.Metadata != m.badMeta {
			m.logger.Warn("ignoring agent metadata",
				zap.String("identity", agent.Identity), zap.Error(err))
			m.badMeta = agent.Metadata
		}
		return
	}
	m.signal = s
}

// SetSpeaking records whether voice activity is detected on the agent's audio.
func (m *Machine) SetSpeaking(speaking bool) {
	m.mu.Lock()
	m.speaking = speaking
	m.mu.Unlock()
}

// Snapshot derives the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{Connection: m.conn, Agent: Offline}
	if m.agent == nil {
		return snap
	}
	snap.AgentIdentity = m.agent.Identity
	switch {
	case m.speaking || m.signal == Speaking:
		snap.Agent = Speaking
	case m.signal == Thinking:
		snap.Agent = Thinking
	default:
		snap.Agent = Listening
	}
	snap.IsAgentConnected = snap.Agent.Connected()
	return snap
}
