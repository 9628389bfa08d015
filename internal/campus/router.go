package campus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/campusverse/campus/backend-go/internal/metrics"
	"github.com/campusverse/campus/backend-go/internal/presence"
)

var (
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrMissingUserKey  = errors.New("missing userId")
	ErrMissingPosition = errors.New("missing position")
	ErrMissingSpeaking = errors.New("missing speaking flag")
	ErrMissingTarget   = errors.New("missing signal target")
)

// sessionState tracks one connection's progress through join and leave.
type sessionState int

const (
	stateUnjoined sessionState = iota
	stateJoined
	stateTerminated
)

func (s sessionState) String() string {
	switch s {
	case stateUnjoined:
		return "unjoined"
	case stateJoined:
		return "joined"
	case stateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("sessionState(%d)", int(s))
	}
}

func (h *Hub) dispatch(sender *Client, msg *Message) {
	// Frames can still be queued when the connection's unregister is handled first.
	if h.clients[sender.ID] != sender {
		slog.Debug("dropping frame from closed connection", "type", msg.Type, "conn", sender.ID)
		return
	}

	var err error
	switch msg.Type {
	case TypeJoin:
		err = h.handleJoin(sender, msg.Payload)
	case TypeMove:
		err = h.handleMove(sender, msg.Payload)
	case TypeSpeaking:
		err = h.handleSpeaking(sender, msg.Payload)
	case TypeLeave:
		err = h.handleLeave(sender, msg.Payload)
	case TypeVoiceSignal:
		err = h.handleVoiceSignal(sender, msg.Payload)
	default:
		slog.Warn("unknown message type", "type", msg.Type, "conn", sender.ID)
		return
	}

	if err != nil {
		h.reject(sender, msg.Type, err)
		return
	}
	h.metrics.EventsTotal.WithLabelValues(msg.Type).Inc()
}

func (h *Hub) reject(sender *Client, msgType string, err error) {
	h.metrics.RejectedTotal.WithLabelValues(msgType).Inc()
	slog.Warn("rejected message", "type", msgType, "error", err, "conn", sender.ID)
	sender.Send(newMessage(TypeError, ErrorPayload{Type: msgType, Reason: err.Error()}))
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (h *Hub) handleJoin(sender *Client, raw json.RawMessage) error {
	var p JoinPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.UserKey) == "" {
		return ErrMissingUserKey
	}

	pos := h.spawn
	if p.Position != nil {
		pos = *p.Position
	}

	h.table.Upsert(p.UserKey, presence.Attributes{
		DisplayName: p.DisplayName,
		AvatarID:    p.AvatarID,
	}, sender.ID, pos)
	sender.state = stateJoined
	sender.userKey = p.UserKey

	slog.Info("user joined", "user", p.UserKey, "conn", sender.ID)
	h.broadcastSnapshot()
	return nil
}

// activeKey resolves which record a joined connection may mutate. It returns false when the
// connection never joined, names somebody else, or has been superseded by a newer join.
func (h *Hub) activeKey(sender *Client, claimed string) (string, bool) {
	if sender.state != stateJoined {
		return "", false
	}
	if claimed != "" && claimed != sender.userKey {
		slog.Debug("ignoring event for another user", "claimed", claimed, "user", sender.userKey, "conn", sender.ID)
		return "", false
	}
	if !h.table.Owns(sender.userKey, sender.ID) {
		return "", false
	}
	return sender.userKey, true
}

func (h *Hub) handleMove(sender *Client, raw json.RawMessage) error {
	if sender.state != stateJoined {
		return nil
	}

	var p MovePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.Position == nil {
		return ErrMissingPosition
	}

	key, ok := h.activeKey(sender, p.UserKey)
	if !ok {
		return nil
	}
	if h.table.UpdatePosition(key, *p.Position) {
		h.broadcastSnapshot()
	}
	return nil
}

func (h *Hub) handleSpeaking(sender *Client, raw json.RawMessage) error {
	if sender.state != stateJoined {
		return nil
	}

	var p SpeakingPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.Speaking == nil {
		return ErrMissingSpeaking
	}

	key, ok := h.activeKey(sender, p.UserKey)
	if !ok {
		return nil
	}
	if h.table.UpdateSpeaking(key, *p.Speaking) {
		h.broadcastSnapshot()
	}
	return nil
}

func (h *Hub) handleLeave(sender *Client, raw json.RawMessage) error {
	if sender.state != stateJoined {
		return nil
	}

	var p LeavePayload
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	key := p.UserKey
	if key == "" {
		key = sender.userKey
	}

	removed := h.table.RemoveIfBound(key, sender.ID)
	if removed || key == sender.userKey {
		sender.state = stateTerminated
	}
	if !removed {
		return nil
	}

	slog.Info("user left", "user", key, "conn", sender.ID)
	h.broadcastSnapshot()
	return nil
}

// handleVoiceSignal forwards the blob to the target's current connection. A missing target
// is dropped without telling the sender; the peer-connection protocol retries on its own.
func (h *Hub) handleVoiceSignal(sender *Client, raw json.RawMessage) error {
	var p SignalPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.To == "" {
		return ErrMissingTarget
	}

	from := p.From
	if sender.state == stateJoined {
		from = sender.userKey
	}

	connID, ok := h.table.ConnID(p.To)
	target := h.clients[connID]
	if !ok || target == nil {
		h.metrics.SignalsTotal.WithLabelValues(metrics.SignalDropped).Inc()
		slog.Debug("signal target not present", "from", from, "to", p.To)
		return nil
	}

	if !target.Send(newMessage(TypeVoiceSignal, RelayedSignal{From: from, Signal: p.Signal})) {
		h.metrics.DroppedFrames.Inc()
		h.metrics.SignalsTotal.WithLabelValues(metrics.SignalDropped).Inc()
		return nil
	}
	h.metrics.SignalsTotal.WithLabelValues(metrics.SignalDelivered).Inc()
	slog.Debug("relayed voice signal", "from", from, "to", p.To)
	return nil
}
