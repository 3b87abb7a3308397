package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/recall/internal/memory"
	"github.com/antoniostano/recall/internal/protocol"
)

// handleMemoryWS serves the chat UI's memory channel. Every client message is
// answered in order on a single writer goroutine.
func (s *Server) handleMemoryWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID != "" {
		if _, err := s.sessions.Get(sessionID); err != nil {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		_ = s.sessions.Touch(sessionID)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if sessionID == "" {
		sessionID = s.sessions.Create(userID).ID
		s.metrics.ObserveSessionEvent("created", s.sessions.ActiveCount())
	}
	s.metrics.ObserveSessionEvent("ws_connected", s.sessions.ActiveCount())
	logger := s.logger.With(zap.String("user_id", userID), zap.String("session_id", sessionID))
	logger.Debug("memory channel opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					logger.Debug("websocket write failed", zap.Error(err))
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	send := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}

	send(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      "session_ready",
	})

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			if !send(errorEvent(sessionID, "invalid_client_message", "gateway", err)) {
				break
			}
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		if !send(s.reply(userID, sessionID, parsed)) {
			break
		}
	}

	cancel()
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected", s.sessions.ActiveCount())
	logger.Debug("memory channel closed")
}

// reply answers one client message. A message naming a session other than
// the channel's own is refused.
func (s *Server) reply(userID, sessionID string, msg any) any {
	switch m := msg.(type) {
	case protocol.SaveConversation:
		if m.SessionID != sessionID {
			return errorEvent(sessionID, "session_mismatch", "gateway", errSessionMismatch)
		}
		mem, err := s.saveConversation(userID, m.SessionID, m.Turns)
		if err != nil {
			code := "save_failed"
			if errors.Is(err, memory.ErrInvalidInput) {
				code = "invalid_input"
			}
			return errorEvent(m.SessionID, code, "memory", err)
		}
		return protocol.MemorySaved{
			Type:            protocol.TypeMemorySaved,
			SessionID:       m.SessionID,
			MessageCount:    len(mem.Messages),
			Topics:          mem.Context.Topics,
			LastInteraction: mem.Context.LastInteraction,
		}
	case protocol.ContextRequest:
		if m.SessionID != sessionID {
			return errorEvent(sessionID, "session_mismatch", "gateway", errSessionMismatch)
		}
		_ = s.sessions.Touch(m.SessionID)
		return protocol.MemoryContext{
			Type:      protocol.TypeMemoryContext,
			SessionID: m.SessionID,
			Context:   s.memory.GenerateContextPrompt(userID, m.SessionID),
		}
	default:
		return errorEvent("", "unsupported_message", "gateway", protocol.ErrUnsupportedType)
	}
}

var errSessionMismatch = errors.New("session_id does not match this channel's session")

func errorEvent(sessionID, code, source string, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: false,
		Detail:    err.Error(),
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.SaveConversation:
		return m.Type, true
	case protocol.ContextRequest:
		return m.Type, true
	case protocol.MemorySaved:
		return m.Type, true
	case protocol.MemoryContext:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
