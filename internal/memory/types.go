// Package memory keeps per-session conversation memory and turns it into a
// context block for the next model prompt.
//
// A Manager owns an in-process index keyed by user and session, writes every
// memory through to a cache.Cache, and derives topics, preferences, names and a
// one-line summary from the transcript with plain pattern matching.
package memory

import (
	"errors"
	"strings"
	"time"
)

// Sender values accepted on incoming turns. SenderAI is the chat UI's spelling
// of the assistant.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderAI        = "ai"
)

// Roles stored on Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultRetention is how long a memory survives without a save.
const DefaultRetention = 30 * 24 * time.Hour

// ErrInvalidInput is returned when a call is rejected before touching state.
var ErrInvalidInput = errors.New("invalid memory input")

// Turn is one chat message as the UI hands it over.
type Turn struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is a stored turn with its sender mapped to a role.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Preferences are user preferences inferred from the conversation.
type Preferences struct {
	PreferredLanguage  string   `json:"preferredLanguage,omitempty"`
	CommunicationStyle string   `json:"communicationStyle,omitempty"`
	Interests          []string `json:"interests,omitempty"`
}

// Context is the metadata derived from a session transcript.
type Context struct {
	Topics              []string    `json:"topics"`
	UserPreferences     Preferences `json:"userPreferences"`
	ConversationSummary string      `json:"conversationSummary"`
	LastInteraction     time.Time   `json:"lastInteraction"`
}

// ConversationMemory is everything remembered about one user session.
type ConversationMemory struct {
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Messages  []Message `json:"messages"`
	Context   Context   `json:"context"`
}

// Pairs renders the non-empty preferences as "key: value" strings in a fixed order.
func (p Preferences) Pairs() []string {
	var out []string
	if p.PreferredLanguage != "" {
		out = append(out, "preferredLanguage: "+p.PreferredLanguage)
	}
	if p.CommunicationStyle != "" {
		out = append(out, "communicationStyle: "+p.CommunicationStyle)
	}
	if len(p.Interests) > 0 {
		out = append(out, "interests: "+strings.Join(p.Interests, ","))
	}
	return out
}

// merge overlays next on p: scalars are replaced only when next has a value,
// interests accumulate without duplicates.
func (p Preferences) merge(next Preferences) Preferences {
	out := Preferences{
		PreferredLanguage:  p.PreferredLanguage,
		CommunicationStyle: p.CommunicationStyle,
	}
	if next.PreferredLanguage != "" {
		out.PreferredLanguage = next.PreferredLanguage
	}
	if next.CommunicationStyle != "" {
		out.CommunicationStyle = next.CommunicationStyle
	}
	out.Interests = appendUnique(append([]string(nil), p.Interests...), next.Interests...)
	return out
}

func (m *ConversationMemory) clone() *ConversationMemory {
	if m == nil {
		return nil
	}
	c := *m
	c.Messages = append([]Message(nil), m.Messages...)
	c.Context.Topics = append([]string(nil), m.Context.Topics...)
	c.Context.UserPreferences.Interests = append([]string(nil), m.Context.UserPreferences.Interests...)
	return &c
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		seen := false
		for _, d := range dst {
			if d == it {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, it)
		}
	}
	return dst
}
