// Package agent derives the connection and agent lifecycle states shown to the
// user from the current session inputs.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// State is the agent lifecycle state.
type State string

const (
	Offline   State = "offline"
	Listening State = "listening"
	Thinking  State = "thinking"
	Speaking  State = "speaking"
)

var ErrUnknownAgentState = errors.New("agent: unknown agent state")

// Connected reports whether s implies an agent is present.
func (s State) Connected() bool { return s != Offline && s != "" }

type metadata struct {
	AgentState string `json:"agent_state"`
}

// DecodeMetadata extracts the activity state an agent advertises in its
// participant metadata. Empty metadata, or metadata without the field, yields
// an empty State and no error.
func DecodeMetadata(raw string) (State, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	var m metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return "", fmt.Errorf("agent: decode metadata: %w", err)
	}
	switch s := State(strings.ToLower(m.AgentState)); s {
	case "":
		return "", nil
	case Listening, Thinking, Speaking:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAgentState, m.AgentState)
	}
}
