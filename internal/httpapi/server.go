package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/antoniostano/recall/internal/config"
	"github.com/antoniostano/recall/internal/history"
	"github.com/antoniostano/recall/internal/logging"
	"github.com/antoniostano/recall/internal/memory"
	"github.com/antoniostano/recall/internal/observability"
	"github.com/antoniostano/recall/internal/session"
)

// Deps are the services the HTTP surface fronts.
type Deps struct {
	Sessions *session.Manager
	Memory   *memory.Manager
	History  *history.Service
	Metrics  *observability.Metrics
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
	CacheMode string
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	memory    *memory.Manager
	history   *history.Service
	metrics   *observability.Metrics
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	cacheMode string
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:       cfg,
		sessions:  deps.Sessions,
		memory:    deps.Memory,
		history:   deps.History,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		logger:    logging.OrNop(deps.Logger).Named("http"),
		cacheMode: deps.CacheMode,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may open the memory channel unless opted out.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", observability.MetricsHandler(s.gatherer))

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)

	r.Get("/v1/memory/ws", s.handleMemoryWS)
	r.Post("/v1/memory/cleanup", s.handleCleanup)
	r.Get("/v1/memory/{userID}", s.handleUserHistory)
	r.Delete("/v1/memory/{userID}", s.handleClearMemories)
	r.Put("/v1/memory/{userID}/{sessionID}", s.handleSaveConversation)
	r.Get("/v1/memory/{userID}/{sessionID}", s.handleGetConversation)
	r.Get("/v1/memory/{userID}/{sessionID}/context", s.handleContextPrompt)

	r.Post("/v1/messages", s.handleSaveMessage)
	r.Get("/v1/messages/{userID}/recent", s.handleRecentMessages)
	r.Get("/v1/messages/{userID}/debug", s.handleInspectMessages)
	r.Delete("/v1/messages/{userID}", s.handleClearMessages)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"cache_mode":        s.cacheMode,
		"remote_configured": s.history != nil && s.history.RemoteConfigured(),
		"active_sessions":   s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess := s.sessions.Create(req.UserID)
	s.metrics.ObserveSessionEvent("created", s.sessions.ActiveCount())

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ObserveSessionEvent("ended", s.sessions.ActiveCount())
	respondJSON(w, http.StatusOK, sess)
}

type saveConversationRequest struct {
	Turns []memory.Turn `json:"turns"`
}

func (s *Server) handleSaveConversation(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := chi.URLParam(r, "userID"), chi.URLParam(r, "sessionID")

	var req saveConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	mem, err := s.saveConversation(userID, sessionID, req.Turns)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, mem)
}

// saveConversation stores the transcript and credits the save to the live
// session, when the session id is one this process handed out.
func (s *Server) saveConversation(userID, sessionID string, turns []memory.Turn) (*memory.ConversationMemory, error) {
	if err := s.memory.SaveConversation(userID, sessionID, turns); err != nil {
		return nil, err
	}
	if err := s.sessions.RecordSave(sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.logger.Warn("record save failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return s.memory.GetConversationMemory(userID, sessionID), nil
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := chi.URLParam(r, "userID"), chi.URLParam(r, "sessionID")
	mem := s.memory.GetConversationMemory(userID, sessionID)
	if mem == nil {
		respondError(w, http.StatusNotFound, "memory_not_found", "no memory for this session")
		return
	}
	respondJSON(w, http.StatusOK, mem)
}

func (s *Server) handleContextPrompt(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := chi.URLParam(r, "userID"), chi.URLParam(r, "sessionID")
	respondJSON(w, http.StatusOK, map[string]string{
		"user_id":    userID,
		"session_id": sessionID,
		"context":    s.memory.GenerateContextPrompt(userID, sessionID),
	})
}

func (s *Server) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	hist := s.memory.GetUserHistory(userID)
	if hist == nil {
		hist = []memory.ConversationMemory{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"memories": hist,
	})
}

func (s *Server) handleClearMemories(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"removed": s.memory.ClearUserMemories(userID),
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int{
		"removed": s.memory.CleanupOldMemories(),
	})
}

func (s *Server) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var msg history.Message
	if err := decodeJSON(r, &msg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	task := s.history.Save(msg)
	if errors.Is(task.Err(), history.ErrInvalidMessage) {
		respondError(w, http.StatusBadRequest, "invalid_message", task.Err().Error())
		return
	}

	resp := map[string]any{
		"message":           msg,
		"remote_configured": s.history.RemoteConfigured(),
	}
	// wait=true holds the response until the remote write settles.
	if r.URL.Query().Get("wait") == "true" {
		if err := task.Wait(r.Context()); err != nil {
			resp["remote_error"] = err.Error()
		}
	}
	respondJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	msgs := s.history.Recent(r.Context(), userID)
	if msgs == nil {
		msgs = []history.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"messages": msgs,
	})
}

func (s *Server) handleInspectMessages(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.history.Inspect(r.Context(), chi.URLParam(r, "userID")))
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	task := s.history.Clear(userID)
	if errors.Is(task.Err(), history.ErrInvalidMessage) {
		respondError(w, http.StatusBadRequest, "invalid_user_id", task.Err().Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"user_id": userID,
		"cleared": true,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
