package memory

import (
	"strconv"
	"strings"
)

const (
	contextHeader   = "\n\n--- USER MEMORY CONTEXT ---\n"
	contextFooter   = "--- END MEMORY CONTEXT ---\n\n"
	contextReminder = "REMEMBER: Use any personal information (especially names) naturally in your responses. The user expects you to remember what they've told you.\n\n"

	recentSummaries = 3
)

// GenerateContextPrompt builds the memory block to splice into the next
// outbound prompt for the session. It returns "" when nothing is known about
// the user yet.
func (m *Manager) GenerateContextPrompt(userID, sessionID string) string {
	if userID == "" || sessionID == "" {
		return ""
	}

	m.mu.Lock()
	hist := m.historyLocked(userID)
	current := m.lookupLocked(memoryKey(userID, sessionID), userID, sessionID).clone()
	for i, h := range hist {
		hist[i] = h.clone()
	}
	m.mu.Unlock()

	if len(hist) == 0 && (current == nil || len(current.Messages) == 0) {
		m.metrics.ObserveContextPrompt("empty")
		return ""
	}

	var b strings.Builder
	b.WriteString(contextHeader)

	if current != nil {
		if prefs := current.Context.UserPreferences.Pairs(); len(prefs) > 0 {
			b.WriteString("IMPORTANT - User preferences and personal info: ")
			b.WriteString(strings.Join(prefs, ", "))
			b.WriteString("\n")
		}
	}

	var names []string
	if current != nil {
		names = extractNames(current.Messages, names)
	}
	for _, h := range hist {
		names = extractNames(h.Messages, names)
	}
	if len(names) > 0 {
		b.WriteString("IMPORTANT - User's name(s): ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(" - Always use their name when appropriate!\n")
	}

	var summaries []string
	for i, h := range hist {
		if i == recentSummaries {
			break
		}
		if h.Context.ConversationSummary != "" {
			summaries = append(summaries, h.Context.ConversationSummary)
		}
	}
	if len(summaries) > 0 {
		b.WriteString("\nRecent conversation summaries:\n")
		for i, s := range summaries {
			b.WriteString(strconv.Itoa(i + 1))
			b.WriteString(". ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	b.WriteString(contextFooter)
	b.WriteString(contextReminder)

	m.metrics.ObserveContextPrompt("built")
	return b.String()
}
