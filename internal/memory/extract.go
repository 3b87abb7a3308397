package memory

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxTopics         = 10
	summaryTopics     = 3
	summaryFirstRunes = 100
)

// Order matters only for readability; every pattern is tried on every turn.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is (\w+)`),
	regexp.MustCompile(`(?i)\bi['’]m (\w+)`),
	regexp.MustCompile(`(?i)\bi am (\w+)`),
	regexp.MustCompile(`(?i)\bcall me (\w+)`),
	regexp.MustCompile(`(?i)\bname['’]s (\w+)`),
	regexp.MustCompile(`(?i)\bi['’]m called (\w+)`),
}

var (
	topicPattern    = regexp.MustCompile(`\b\w{4,}\b`)
	languagePattern = regexp.MustCompile(`prefer\s+(\w+)\s+language|like\s+(\w+)\s+language`)
	interestPattern = regexp.MustCompile(`interested in (\w+)|love (\w+)|enjoy (\w+)`)
)

var stopWords = func() map[string]struct{} {
	words := []string{
		"the", "and", "for", "are", "but", "not", "you", "all", "can", "had",
		"her", "was", "one", "our", "out", "day", "get", "has", "him", "his",
		"how", "its", "may", "new", "now", "old", "see", "two", "who", "boy",
		"did", "does", "let", "man", "way", "oil", "sit", "set", "run", "eat",
		"far", "sea", "eye", "ask", "own", "under", "think", "also", "back", "after",
		"first", "well", "year", "work", "such", "make", "even", "here", "only", "many",
		"know", "take", "than", "them", "good", "some", "this", "that", "with", "have",
		"from", "they", "been", "said", "each", "which", "their", "time", "will", "about",
		"would", "there", "could", "other", "more", "very", "what", "just", "into", "over",
	}
	return wordSet(words)
}()

// Words that follow "I'm"/"I am" far more often than a name does. They are
// only rejected as names; as topics they stay.
var nameStopWords = wordSet([]string{
	"called", "fine", "sure", "sorry", "glad", "happy", "okay", "going", "doing",
	"looking", "trying", "interested",
})

func wordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func isStopWord(word string) bool {
	_, ok := stopWords[strings.ToLower(word)]
	return ok
}

func isNameStopWord(word string) bool {
	_, ok := nameStopWords[strings.ToLower(word)]
	return ok || isStopWord(word)
}

// extractNames returns the names a user introduced themselves with across
// messages, deduplicated in discovery order.
func extractNames(messages []Message, into []string) []string {
	for _, msg := range messages {
		if msg.Role != RoleUser {
			continue
		}
		for _, p := range namePatterns {
			match := p.FindStringSubmatch(msg.Content)
			if match == nil {
				continue
			}
			name := capitalize(match[1])
			if utf8.RuneCountInString(name) <= 1 || isNameStopWord(name) {
				continue
			}
			into = appendUnique(into, name)
		}
	}
	return into
}

func capitalize(word string) string {
	lower := strings.ToLower(word)
	r, size := utf8.DecodeRuneInString(lower)
	if r == utf8.RuneError {
		return lower
	}
	return string(unicode.ToUpper(r)) + lower[size:]
}

// extractTopics returns up to ten distinct keywords of four or more word
// characters from user turns, in the order they first appear.
func extractTopics(turns []Turn) []string {
	var topics []string
	for _, t := range turns {
		if !isUserSender(t.Sender) || t.Content == "" {
			continue
		}
		for _, kw := range topicPattern.FindAllString(strings.ToLower(t.Content), -1) {
			if isStopWord(kw) {
				continue
			}
			topics = appendUnique(topics, kw)
		}
	}
	if len(topics) > maxTopics {
		topics = topics[:maxTopics]
	}
	return topics
}

// extractPreferences scans user turns in order; later turns overwrite language
// and style, interests accumulate.
func extractPreferences(turns []Turn) Preferences {
	var prefs Preferences
	for _, t := range turns {
		if !isUserSender(t.Sender) || t.Content == "" {
			continue
		}
		content := strings.ToLower(t.Content)

		if (strings.Contains(content, "prefer") || strings.Contains(content, "like")) &&
			strings.Contains(content, "language") {
			if m := languagePattern.FindStringSubmatch(content); m != nil {
				prefs.PreferredLanguage = firstGroup(m)
			}
		}

		if strings.Contains(content, "formal") {
			prefs.CommunicationStyle = "formal"
		} else if strings.Contains(content, "casual") {
			prefs.CommunicationStyle = "casual"
		}

		if m := interestPattern.FindStringSubmatch(content); m != nil {
			prefs.Interests = appendUnique(prefs.Interests, firstGroup(m))
		}
	}
	return prefs
}

// generateSummary anchors the synopsis to the first user message.
func generateSummary(turns []Turn, topics []string) string {
	var first string
	for _, t := range turns {
		if isUserSender(t.Sender) && t.Content != "" {
			first = t.Content
			break
		}
	}
	if first == "" {
		return ""
	}

	if len(topics) > summaryTopics {
		topics = topics[:summaryTopics]
	}

	opening := first
	ellipsis := ""
	if utf8.RuneCountInString(first) > summaryFirstRunes {
		opening = string([]rune(first)[:summaryFirstRunes])
		ellipsis = "..."
	}
	return fmt.Sprintf("Discussed %s. Started with: \"%s%s\"", strings.Join(topics, ", "), opening, ellipsis)
}

func firstGroup(match []string) string {
	for _, g := range match[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// isUserSender matches the sender tag exactly; "User" or " user" is not the user.
func isUserSender(sender string) bool {
	return sender == SenderUser
}

func roleFor(sender string) string {
	if isUserSender(sender) {
		return RoleUser
	}
	return RoleAssistant
}
