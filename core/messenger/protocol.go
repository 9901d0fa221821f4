// Package messenger bridges the conversation to a chat display running as a
// separate process, speaking a small JSON envelope protocol over a local
// WebSocket.
package messenger

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// MessageType enumerates all messages exchanged with the display.
type MessageType string

const (
	// Core -> display
	MsgTurnStarted   MessageType = "display.turn_started"
	MsgTurnDelta     MessageType = "display.turn_delta"
	MsgTurnComplete  MessageType = "display.turn_complete"
	MsgTurnCancelled MessageType = "display.turn_cancelled"
	MsgNotice        MessageType = "display.notice"
	MsgHistoryReset  MessageType = "display.history_reset"

	// Display -> core
	MsgUserSubmit   MessageType = "user.submit"
	MsgUserCancel   MessageType = "user.cancel"
	MsgClearHistory MessageType = "user.clear_history"
)

// Envelope is the outer JSON wrapper for all WebSocket messages.
type Envelope struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	TurnID  int64           `json:"turn_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TextPayload carries the text body shared by deltas, completions, prompts
// and notices.
type TextPayload struct {
	Text string `json:"text"`
	Role string `json:"role,omitempty"`
}

// Marshal creates a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType MessageType, turnID int64, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("messenger: marshal payload for %q: %w", msgType, err)
		}
		raw = b
	}
	return sonic.Marshal(Envelope{
		ID:      uuid.NewString(),
		Type:    msgType,
		TurnID:  turnID,
		Payload: raw,
	})
}

// Unmarshal parses a JSON-encoded Envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("messenger: unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("messenger: envelope missing type field")
	}
	return env, nil
}

// UnmarshalPayload decodes a raw JSON payload into a typed struct.
func UnmarshalPayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("messenger: unmarshal payload: %w", err)
	}
	return v, nil
}
