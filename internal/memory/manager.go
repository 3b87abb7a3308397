package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/recall/internal/cache"
	"github.com/antoniostano/recall/internal/logging"
	"github.com/antoniostano/recall/internal/observability"
)

// Manager is the conversation memory service. Build one per process and
// share it; it is safe for concurrent use, but callers are still expected to
// have a single writer per user session.
//
// Cache failures never escape: the Manager logs them and keeps serving from
// its in-process index.
type Manager struct {
	mu    sync.Mutex
	index map[string]*ConversationMemory

	cache     cache.Cache
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	retention time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(l) }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock replaces time.Now, mainly for retention tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// NewManager returns a Manager writing through to c. A nil cache keeps all
// memory in-process.
func NewManager(c cache.Cache, opts ...Option) *Manager {
	m := &Manager{
		index:     make(map[string]*ConversationMemory),
		cache:     c,
		logger:    zap.NewNop(),
		now:       time.Now,
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("memory")
	if c == nil {
		m.logger.Warn("no cache configured, conversation memory is in-process only")
	}
	return m
}

// SaveConversation replaces the memory of (userID, sessionID) with one built
// from turns, the full transcript so far. Only invalid input is reported;
// persistence problems are logged.
func (m *Manager) SaveConversation(userID, sessionID string, turns []Turn) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		m.logger.Warn("invalid parameters for save conversation",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
		)
		m.metrics.ObserveSave("invalid")
		return fmt.Errorf("%w: user and session ids are required", ErrInvalidInput)
	}

	key := memoryKey(userID, sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.lookupLocked(key, userID, sessionID)
	if prev != nil && len(turns) < len(prev.Messages) {
		m.logger.Warn("rejecting transcript shorter than stored memory",
			zap.String("key", key),
			zap.Int("stored", len(prev.Messages)),
			zap.Int("given", len(turns)),
		)
		m.metrics.ObserveSave("invalid")
		return fmt.Errorf("%w: transcript shrank from %d to %d turns", ErrInvalidInput, len(prev.Messages), len(turns))
	}

	now := m.now().UTC()
	if prev != nil && prev.Context.LastInteraction.After(now) {
		now = prev.Context.LastInteraction
	}

	messages := make([]Message, len(turns))
	for i, t := range turns {
		ts := t.Timestamp
		if ts.IsZero() {
			ts = now
		}
		messages[i] = Message{Role: roleFor(t.Sender), Content: t.Content, Timestamp: ts}
	}

	topics := extractTopics(turns)
	prefs := extractPreferences(turns)
	if prev != nil {
		prefs = prev.Context.UserPreferences.merge(prefs)
	}

	mem := &ConversationMemory{
		UserID:    userID,
		SessionID: sessionID,
		Messages:  messages,
		Context: Context{
			Topics:              topics,
			UserPreferences:     prefs,
			ConversationSummary: generateSummary(turns, topics),
			LastInteraction:     now,
		},
	}

	m.index[key] = mem
	m.metrics.SetMemoryEntries(len(m.index))
	if m.persistLocked(key, mem) {
		m.metrics.ObserveSave("ok")
	} else {
		m.metrics.ObserveSave("degraded")
	}

	m.logger.Debug("conversation saved",
		zap.String("key", key),
		zap.Int("messages", len(messages)),
		zap.Strings("topics", topics),
	)
	return nil
}

// GetConversationMemory returns the memory for the session, or nil.
func (m *Manager) GetConversationMemory(userID, sessionID string) *ConversationMemory {
	if userID == "" || sessionID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(memoryKey(userID, sessionID), userID, sessionID).clone()
}

// GetUserHistory returns every memory of userID, most recent first. Sessions
// saved at the same instant are ordered by session id.
func (m *Manager) GetUserHistory(userID string) []ConversationMemory {
	if userID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	hist := m.historyLocked(userID)
	out := make([]ConversationMemory, len(hist))
	for i, h := range hist {
		out[i] = *h.clone()
	}
	return out
}

// ClearUserMemories forgets every session of userID and returns how many
// memories were removed. Clearing an unknown user removes nothing.
func (m *Manager) ClearUserMemories(userID string) int {
	if userID == "" {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := make(map[string]struct{})
	for key, mem := range m.index {
		if mem.UserID == userID {
			delete(m.index, key)
			removed[key] = struct{}{}
		}
	}

	m.scanCacheLocked(cacheKey(userID+"_"), func(key string, mem *ConversationMemory) bool {
		if mem == nil {
			// Undecodable: the key is all that says whose it is. A further "_"
			// means a user id that extends this one.
			if strings.Contains(strings.TrimPrefix(key, userID+"_"), "_") {
				return false
			}
		} else if mem.UserID != userID {
			return false
		}
		removed[key] = struct{}{}
		return true
	})

	m.metrics.SetMemoryEntries(len(m.index))
	m.metrics.ObserveRemoved("clear", len(removed))
	m.logger.Info("user memories cleared", zap.String("user_id", userID), zap.Int("removed", len(removed)))
	return len(removed)
}

// CleanupOldMemories removes memories whose last interaction is older than the
// retention window and returns how many were removed.
func (m *Manager) CleanupOldMemories() int {
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := make(map[string]struct{})
	for key, mem := range m.index {
		if mem.Context.LastInteraction.Before(cutoff) {
			delete(m.index, key)
			removed[key] = struct{}{}
		}
	}

	m.scanCacheLocked(cacheKeyPrefix, func(key string, mem *ConversationMemory) bool {
		if mem != nil && !mem.Context.LastInteraction.Before(cutoff) {
			return false
		}
		removed[key] = struct{}{}
		return true
	})

	m.metrics.SetMemoryEntries(len(m.index))
	m.metrics.ObserveRemoved("retention", len(removed))
	if len(removed) > 0 {
		m.logger.Info("old memories removed", zap.Int("removed", len(removed)), zap.Time("cutoff", cutoff))
	}
	return len(removed)
}

// lookupLocked returns the indexed memory for key, loading it from the cache
// on a miss. The result is shared; callers must not mutate it.
func (m *Manager) lookupLocked(key, userID, sessionID string) *ConversationMemory {
	if mem, ok := m.index[key]; ok {
		return mem
	}
	mem := m.loadLocked(key)
	if mem == nil {
		return nil
	}
	if mem.UserID != userID || mem.SessionID != sessionID {
		m.logger.Warn("cached memory does not match its key", zap.String("key", key))
		return nil
	}
	m.index[key] = mem
	m.metrics.SetMemoryEntries(len(m.index))
	return mem
}

func (m *Manager) historyLocked(userID string) []*ConversationMemory {
	var hist []*ConversationMemory
	for _, mem := range m.index {
		if mem.UserID == userID {
			hist = append(hist, mem)
		}
	}

	if m.cache != nil {
		keys, err := m.cache.ListKeys(cacheKey(userID + "_"))
		if err != nil {
			m.cacheFailure("list", "", err)
		}
		for _, ck := range keys {
			key := strings.TrimPrefix(ck, cacheKeyPrefix)
			if _, ok := m.index[key]; ok {
				continue
			}
			mem := m.loadLocked(key)
			// The prefix also matches users whose id extends this one ("bob" vs "bob_x").
			if mem == nil || mem.UserID != userID {
				continue
			}
			hist = append(hist, mem)
		}
	}

	sort.Slice(hist, func(i, j int) bool {
		a, b := hist[i].Context.LastInteraction, hist[j].Context.LastInteraction
		if !a.Equal(b) {
			return a.After(b)
		}
		return hist[i].SessionID < hist[j].SessionID
	})
	return hist
}

// scanCacheLocked decodes every cached memory under prefix and removes those
// for which remove returns true. Records that fail to decode reach remove with
// a nil memory.
func (m *Manager) scanCacheLocked(prefix string, remove func(key string, mem *ConversationMemory) bool) {
	if m.cache == nil {
		return
	}
	keys, err := m.cache.ListKeys(prefix)
	if err != nil {
		m.cacheFailure("list", "", err)
		return
	}
	for _, ck := range keys {
		key := strings.TrimPrefix(ck, cacheKeyPrefix)
		mem, malformed := m.readLocked(key)
		if mem == nil && !malformed {
			continue
		}
		if !remove(key, mem) {
			continue
		}
		if err := m.cache.Remove(ck); err != nil {
			m.cacheFailure("remove", key, err)
		}
	}
}

func (m *Manager) loadLocked(key string) *ConversationMemory {
	mem, _ := m.readLocked(key)
	return mem
}

// readLocked fetches and decodes the record at key. malformed is true only
// when a record exists but cannot be decoded.
func (m *Manager) readLocked(key string) (mem *ConversationMemory, malformed bool) {
	if m.cache == nil {
		return nil, false
	}
	raw, ok, err := m.cache.Get(cacheKey(key))
	if err != nil {
		m.cacheFailure("get", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	mem, err = decodeMemory(raw)
	if err != nil {
		m.logger.Warn("ignoring malformed cached memory", zap.String("key", key), zap.Error(err))
		return nil, true
	}
	return mem, false
}

// persistLocked writes mem to the cache and reports whether it landed.
func (m *Manager) persistLocked(key string, mem *ConversationMemory) bool {
	if m.cache == nil {
		return false
	}
	raw, err := encodeMemory(mem)
	if err != nil {
		m.logger.Warn("encode memory failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := m.cache.Set(cacheKey(key), raw); err != nil {
		m.cacheFailure("set", key, err)
		return false
	}
	return true
}

func (m *Manager) cacheFailure(op, key string, err error) {
	m.metrics.ObserveCacheError("memory", op)
	m.logger.Warn("local cache "+op+" failed, continuing with in-process memory",
		zap.String("key", key),
		zap.Error(err),
	)
}
