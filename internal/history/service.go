package history

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antoniostano/recall/internal/cache"
	"github.com/antoniostano/recall/internal/logging"
	"github.com/antoniostano/recall/internal/observability"
	"github.com/antoniostano/recall/internal/worker"
)

const (
	defaultLocalLimit    = 20
	defaultRecentLimit   = 5
	defaultInspectLimit  = 10
	defaultRemoteTimeout = 10 * time.Second

	localKeyPrefix = "chat_messages_"
)

// ErrInvalidMessage is reported for messages without a user or sender.
var ErrInvalidMessage = errors.New("invalid message")

// Config wires a Service to its collaborators. Only Cache is required for
// useful behavior; a nil Remote means local-only operation.
type Config struct {
	Cache   cache.Cache
	Remote  Store
	Pool    *worker.Pool
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// LocalLimit caps the per-user local mirror.
	LocalLimit int
	// RecentLimit is the number of messages Recent returns.
	RecentLimit int
	// RemoteTimeout bounds each background remote call.
	RemoteTimeout time.Duration
}

// Service is the message history adapter used by the chat UI.
type Service struct {
	cache   cache.Cache
	remote  Store
	pool    *worker.Pool
	logger  *zap.Logger
	metrics *observability.Metrics

	localLimit    int
	recentLimit   int
	remoteTimeout time.Duration

	// mu serializes read-modify-write cycles on the local mirror.
	mu sync.Mutex
}

func NewService(cfg Config) *Service {
	if cfg.LocalLimit <= 0 {
		cfg.LocalLimit = defaultLocalLimit
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = defaultRecentLimit
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = defaultRemoteTimeout
	}
	return &Service{
		cache:         cfg.Cache,
		remote:        cfg.Remote,
		pool:          cfg.Pool,
		logger:        logging.OrNop(cfg.Logger).Named("history"),
		metrics:       cfg.Metrics,
		localLimit:    cfg.LocalLimit,
		recentLimit:   cfg.RecentLimit,
		remoteTimeout: cfg.RemoteTimeout,
	}
}

// RemoteConfigured reports whether a durable store is attached.
func (s *Service) RemoteConfigured() bool {
	return s.remote != nil
}

// Save records msg in the local mirror and schedules the remote insert. The
// returned task completes when the remote write finishes; callers are free to
// ignore it.
func (s *Service) Save(msg Message) *worker.Task {
	msg.UserID = strings.TrimSpace(msg.UserID)
	if msg.UserID == "" || (msg.Sender != SenderUser && msg.Sender != SenderAI) {
		s.logger.Warn("rejecting invalid message",
			zap.String("user_id", msg.UserID),
			zap.String("sender", msg.Sender),
		)
		return worker.Completed(ErrInvalidMessage)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	s.appendLocal(msg)

	if s.remote == nil {
		s.logger.Debug("remote store not configured, message kept locally",
			zap.String("user_id", msg.UserID),
		)
		return worker.Completed(nil)
	}

	return s.dispatch("insert", func(ctx context.Context) error {
		return s.remote.Insert(ctx, msg)
	}, zap.String("user_id", msg.UserID), zap.String("message_id", msg.ID))
}

// Recent returns the user's latest messages in chronological order. The remote
// store wins when it answers with at least one row.
func (s *Service) Recent(ctx context.Context, userID string) []Message {
	if s.remote != nil {
		msgs, err := s.remote.Recent(ctx, userID, s.recentLimit)
		s.metrics.ObserveRemote("recent", err)
		switch {
		case err != nil:
			s.logger.Warn("remote recent failed, using local mirror",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		case len(msgs) > 0:
			s.logger.Debug("loaded messages from remote store",
				zap.String("user_id", userID),
				zap.Int("count", len(msgs)),
			)
			return msgs
		}
	}

	local := s.loadLocal(userID)
	if len(local) > s.recentLimit {
		local = local[len(local)-s.recentLimit:]
	}
	s.logger.Debug("loaded messages from local mirror",
		zap.String("user_id", userID),
		zap.Int("count", len(local)),
	)
	return local
}

// Clear drops the user's local mirror and schedules the remote delete.
func (s *Service) Clear(userID string) *worker.Task {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		s.logger.Warn("rejecting clear without user id")
		return worker.Completed(ErrInvalidMessage)
	}

	if s.cache != nil {
		s.mu.Lock()
		err := s.cache.Remove(localKeyPrefix + userID)
		s.mu.Unlock()
		if err != nil {
			s.cacheFailure("remove", userID, err)
		}
	}

	if s.remote == nil {
		return worker.Completed(nil)
	}
	return s.dispatch("delete_user", func(ctx context.Context) error {
		return s.remote.DeleteUser(ctx, userID)
	}, zap.String("user_id", userID))
}

// Snapshot is a diagnostic view of what each side holds for a user.
type Snapshot struct {
	UserID           string    `json:"user_id"`
	Local            []Message `json:"local"`
	Remote           []Message `json:"remote"`
	RemoteConfigured bool      `json:"remote_configured"`
	RemoteError      string    `json:"remote_error,omitempty"`
}

// Inspect reports the local mirror and the newest remote rows for userID.
func (s *Service) Inspect(ctx context.Context, userID string) Snapshot {
	snap := Snapshot{
		UserID:           userID,
		Local:            s.loadLocal(userID),
		RemoteConfigured: s.remote != nil,
	}
	if s.remote == nil {
		snap.RemoteError = ErrNotConfigured.Error()
		return snap
	}
	msgs, err := s.remote.Recent(ctx, userID, defaultInspectLimit)
	s.metrics.ObserveRemote("inspect", err)
	if err != nil {
		snap.RemoteError = err.Error()
		return snap
	}
	snap.Remote = msgs
	return snap
}

// Close stops background work and releases the remote store.
func (s *Service) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.remote != nil {
		return s.remote.Close()
	}
	return nil
}

func (s *Service) dispatch(op string, fn func(ctx context.Context) error, fields ...zap.Field) *worker.Task {
	if s.pool == nil {
		// No pool: run inline so the remote still sees the write.
		err := s.runRemote(op, fn, fields...)
		return worker.Completed(err)
	}
	return s.pool.Submit("history."+op, func(context.Context) error {
		return s.runRemote(op, fn, fields...)
	})
}

func (s *Service) runRemote(op string, fn func(ctx context.Context) error, fields ...zap.Field) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.remoteTimeout)
	defer cancel()

	err := fn(ctx)
	s.metrics.ObserveRemote(op, err)
	if err != nil {
		s.logger.Warn("remote "+op+" failed, local mirror remains authoritative",
			append(fields, zap.Error(err))...,
		)
		return err
	}
	s.logger.Debug("remote "+op+" done", fields...)
	return nil
}

func (s *Service) appendLocal(msg Message) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.readLocal(msg.UserID)
	msgs = append(msgs, msg)
	if len(msgs) > s.localLimit {
		msgs = msgs[len(msgs)-s.localLimit:]
	}

	raw, err := json.Marshal(msgs)
	if err != nil {
		s.logger.Warn("encode local messages failed", zap.Error(err))
		return
	}
	if err := s.cache.Set(localKeyPrefix+msg.UserID, raw); err != nil {
		s.cacheFailure("set", msg.UserID, err)
		return
	}
	s.logger.Debug("message saved to local mirror",
		zap.String("user_id", msg.UserID),
		zap.Int("total", len(msgs)),
	)
}

func (s *Service) loadLocal(userID string) []Message {
	if s.cache == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocal(userID)
}

// readLocal must be called with mu held.
func (s *Service) readLocal(userID string) []Message {
	raw, ok, err := s.cache.Get(localKeyPrefix + userID)
	if err != nil {
		s.cacheFailure("get", userID, err)
		return nil
	}
	if !ok {
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		s.logger.Warn("discarding malformed local messages",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil
	}
	return msgs
}

func (s *Service) cacheFailure(op, userID string, err error) {
	s.metrics.ObserveCacheError("history", op)
	s.logger.Warn("local cache "+op+" failed",
		zap.String("user_id", userID),
		zap.Error(err),
	)
}
