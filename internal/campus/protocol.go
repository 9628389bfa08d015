package campus

import (
	"encoding/json"

	"github.com/campusverse/campus/backend-go/internal/presence"
)

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	// Client -> server
	TypeJoin     = "join"
	TypeMove     = "move"
	TypeSpeaking = "speaking"
	TypeLeave    = "leave"

	// Both directions
	TypeVoiceSignal = "voiceSignal"

	// Server -> client
	TypeWelcome        = "welcome"
	TypeUpdatePresence = "updatePresence"
	TypeError          = "error"
)

type JoinPayload struct {
	UserKey     string             `json:"userId"`
	DisplayName string             `json:"playerName"`
	AvatarID    string             `json:"avatarID"`
	Position    *presence.Position `json:"position,omitempty"`
}

type MovePayload struct {
	UserKey  string             `json:"userId"`
	Position *presence.Position `json:"position"`
}

type SpeakingPayload struct {
	UserKey  string `json:"userId"`
	Speaking *bool  `json:"speaking"`
}

type LeavePayload struct {
	UserKey string `json:"userId"`
}

// SignalPayload carries an opaque peer-connection blob. Signal is never decoded.
type SignalPayload struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// RelayedSignal is what the addressed peer receives.
type RelayedSignal struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

type UpdatePresencePayload struct {
	Players presence.Snapshot `json:"players"`
}

type WelcomePayload struct {
	ConnectionID string `json:"connectionId"`
}

type ErrorPayload struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
