// Package protocol defines the chat WebSocket payloads.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage      MessageType = "user_message"
	TypeClientControl    MessageType = "client_control"
	TypeAssistantMessage MessageType = "assistant_message"
	TypeSessionState     MessageType = "session_state"
	TypeErrorEvent       MessageType = "error_event"
)

// Client control actions.
const (
	ActionNewSession    = "new_session"
	ActionLoadSession   = "load_session"
	ActionDeleteSession = "delete_session"
	ActionRefresh       = "refresh"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type UserMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	Action    string      `json:"action"`
	SessionID string      `json:"session_id,omitempty"`
}

type AssistantMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
	HTML      string      `json:"html"`
	Title     string      `json:"title,omitempty"`
	Warning   string      `json:"warning,omitempty"`
}

// RenderedMessage is a stored message plus its HTML rendering.
type RenderedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	HTML    string `json:"html"`
}

type SessionSummary struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Corrupt bool   `json:"corrupt,omitempty"`
}

type SessionState struct {
	Type     MessageType       `json:"type"`
	ActiveID string            `json:"active_id"`
	Title    string            `json:"title"`
	Titled   bool              `json:"titled"`
	Messages []RenderedMessage `json:"messages"`
	Sessions []SessionSummary  `json:"sessions"`
	Warning  string            `json:"warning,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid user_message: empty text")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionNewSession, ActionRefresh:
		case ActionLoadSession, ActionDeleteSession:
			if msg.SessionID == "" {
				return nil, fmt.Errorf("invalid client_control: %s requires session_id", msg.Action)
			}
		default:
			return nil, fmt.Errorf("invalid client_control: unknown action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
