package rtc

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/chadiek/agent-playground/internal/media"
)

// signalMessage is the JSON frame exchanged with the signaling server.
// Types: "join", "joined", "offer", "answer", "candidate", "participants",
// "error", "bye".
type signalMessage struct {
	Type string `json:"type"`
	// join
	Token    string `json:"token,omitempty"`
	Identity string `json:"identity,omitempty"`
	Name     string `json:"name,omitempty"`
	Room     string `json:"room,omitempty"`
	// offer/answer
	SDP string `json:"sdp,omitempty"`
	// candidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	// joined/participants
	Participants []participantInfo `json:"participants,omitempty"`
	// error
	Error string `json:"error,omitempty"`
}

type participantInfo struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
	Metadata string `json:"metadata,omitempty"`
	Kind     string `json:"kind,omitempty"` // "agent" or "standard"
}

func (p participantInfo) participant() media.Participant {
	return media.Participant{
		Identity: p.Identity,
		Name:     p.Name,
		Metadata: p.Metadata,
		IsAgent:  strings.EqualFold(p.Kind, "agent"),
	}
}

// signalConn serializes writes on a websocket; gorilla allows one writer.
type signalConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *signalConn) write(m signalMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(m)
}

func (c *signalConn) read() (signalMessage, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return signalMessage{}, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		m.Type = strings.ToLower(m.Type)
		return m, nil
	}
}

func (c *signalConn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func candidateMessage(c *webrtc.ICECandidate) signalMessage {
	init := c.ToJSON()
	return signalMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex}
}

// parseICEServers reads a JSON array of ICE servers, falling back to a public
// STUN server.
func parseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

// parseStreamID splits a "<identity>|<track sid>" stream id. Servers that send
// a bare identity get the track id as sid.
func parseStreamID(streamID, trackID string) (identity, sid string) {
	if i := strings.IndexByte(streamID, '|'); i >= 0 {
		identity, sid = streamID[:i], streamID[i+1:]
	} else {
		identity = streamID
	}
	if sid == "" {
		sid = trackID
	}
	return identity, sid
}
