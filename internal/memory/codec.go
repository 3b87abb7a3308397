package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const cacheKeyPrefix = "memory_"

// errMalformed marks a persisted record that does not have the required shape.
var errMalformed = errors.New("malformed memory record")

func memoryKey(userID, sessionID string) string {
	return userID + "_" + sessionID
}

func cacheKey(key string) string {
	return cacheKeyPrefix + key
}

// storedMemory mirrors ConversationMemory with Messages as a pointer so a
// missing or null array can be told apart from an empty one.
type storedMemory struct {
	UserID    string     `json:"userId"`
	SessionID string     `json:"sessionId"`
	Messages  *[]Message `json:"messages"`
	Context   Context    `json:"context"`
}

// encodeMemory serializes m with every timestamp as RFC 3339 text in UTC.
func encodeMemory(m *ConversationMemory) ([]byte, error) {
	msgs := make([]Message, len(m.Messages))
	for i, msg := range m.Messages {
		msg.Timestamp = msg.Timestamp.UTC()
		msgs[i] = msg
	}
	ctx := m.Context
	ctx.LastInteraction = ctx.LastInteraction.UTC()

	return json.Marshal(storedMemory{
		UserID:    m.UserID,
		SessionID: m.SessionID,
		Messages:  &msgs,
		Context:   ctx,
	})
}

// decodeMemory parses a persisted record, rejecting anything without a user,
// a session and a messages array.
func decodeMemory(raw []byte) (*ConversationMemory, error) {
	var s storedMemory
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if s.UserID == "" || s.SessionID == "" || s.Messages == nil {
		return nil, errMalformed
	}

	m := &ConversationMemory{
		UserID:    s.UserID,
		SessionID: s.SessionID,
		Messages:  *s.Messages,
		Context:   s.Context,
	}
	if m.Messages == nil {
		m.Messages = []Message{}
	}
	m.Context.LastInteraction = m.Context.LastInteraction.In(time.UTC)
	return m, nil
}
