// Package protocol defines the JSON messages exchanged on the memory websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/antoniostano/recall/internal/memory"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeSaveConversation MessageType = "save_conversation"
	TypeContextRequest   MessageType = "context_request"
	TypeMemorySaved      MessageType = "memory_saved"
	TypeMemoryContext    MessageType = "memory_context"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// SaveConversation carries the full transcript of the session so far.
type SaveConversation struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"session_id"`
	Turns     []memory.Turn `json:"turns"`
}

type ContextRequest struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type MemorySaved struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id"`
	MessageCount    int         `json:"message_count"`
	Topics          []string    `json:"topics"`
	LastInteraction time.Time   `json:"last_interaction"`
}

type MemoryContext struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Context   string      `json:"context"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
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
	case TypeSaveConversation:
		var msg SaveConversation
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid save_conversation")
		}
		return msg, nil
	case TypeContextRequest:
		var msg ContextRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid context_request")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
