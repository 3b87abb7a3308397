package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/antoniostano/recall/internal/cache"
	"github.com/antoniostano/recall/internal/config"
	"github.com/antoniostano/recall/internal/history"
	"github.com/antoniostano/recall/internal/memory"
	"github.com/antoniostano/recall/internal/observability"
	"github.com/antoniostano/recall/internal/protocol"
	"github.com/antoniostano/recall/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
	}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test_httpapi", reg)
	c := cache.NewMap()

	srv := New(cfg, Deps{
		Sessions:  session.NewManager(cfg.SessionInactivityTimeout),
		Memory:    memory.NewManager(c, memory.WithMetrics(metrics)),
		History:   history.NewService(history.Config{Cache: c, Metrics: metrics}),
		Metrics:   metrics,
		Gatherer:  reg,
		CacheMode: cache.Mode(c),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer res.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil && err != io.EOF {
		t.Fatalf("decode %s %s response: %v", method, url, err)
	}
	return res, payload
}

func TestCreateAndEndSession(t *testing.T) {
	ts := newTestServer(t)

	res, created := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions", map[string]string{"user_id": "user-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	if created["user_id"] != "user-1" {
		t.Fatalf("user_id = %v, want user-1", created["user_id"])
	}

	endRes, ended := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/"+sessionID+"/end", nil)
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}
	if ended["status"] != string(session.StatusEnded) {
		t.Fatalf("status = %v, want ended", ended["status"])
	}

	missing, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/nope/end", nil)
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("end unknown status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestMemoryLifecycle(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/v1/memory/u1/s1"

	res, saved := doJSON(t, http.MethodPut, base, map[string]any{
		"turns": []map[string]string{
			{"id": "1", "sender": "user", "content": "Hi, I'm Bob and I love chess"},
			{"id": "2", "sender": "ai", "content": "Nice to meet you, Bob!"},
		},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d, want %d (%v)", res.StatusCode, http.StatusOK, saved)
	}
	if saved["userId"] != "u1" || saved["sessionId"] != "s1" {
		t.Fatalf("unexpected saved memory: %+v", saved)
	}

	res, got := doJSON(t, http.MethodGet, base, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 2 {
		t.Fatalf("messages = %v, want 2 entries", got["messages"])
	}

	res, ctxPayload := doJSON(t, http.MethodGet, base+"/context", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("context status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	prompt, _ := ctxPayload["context"].(string)
	if !strings.Contains(prompt, "Bob") || !strings.Contains(prompt, "interests: chess") {
		t.Fatalf("context = %q, want name and interests", prompt)
	}

	res, hist := doJSON(t, http.MethodGet, ts.URL+"/v1/memory/u1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if memories, _ := hist["memories"].([]any); len(memories) != 1 {
		t.Fatalf("memories = %v, want 1 entry", hist["memories"])
	}

	res, cleared := doJSON(t, http.MethodDelete, ts.URL+"/v1/memory/u1", nil)
	if res.StatusCode != http.StatusOK || cleared["removed"] != float64(1) {
		t.Fatalf("clear = %d %v, want removed 1", res.StatusCode, cleared)
	}

	res, _ = doJSON(t, http.MethodGet, base, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after clear status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestSaveConversationRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/v1/memory/u1/s1"

	res, payload := doJSON(t, http.MethodPut, base, nil)
	if res.StatusCode != http.StatusBadRequest || payload["code"] != "invalid_request" {
		t.Fatalf("empty body = %d %v, want 400 invalid_request", res.StatusCode, payload)
	}

	two := map[string]any{"turns": []map[string]string{
		{"sender": "user", "content": "one"},
		{"sender": "ai", "content": "two"},
	}}
	if res, _ := doJSON(t, http.MethodPut, base, two); res.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	one := map[string]any{"turns": []map[string]string{{"sender": "user", "content": "one"}}}
	res, payload = doJSON(t, http.MethodPut, base, one)
	if res.StatusCode != http.StatusBadRequest || payload["code"] != "invalid_input" {
		t.Fatalf("shrinking save = %d %v, want 400 invalid_input", res.StatusCode, payload)
	}
}

func TestContextEmptyForUnknownUser(t *testing.T) {
	ts := newTestServer(t)
	res, payload := doJSON(t, http.MethodGet, ts.URL+"/v1/memory/ghost/s1/context", nil)
	if res.StatusCode != http.StatusOK || payload["context"] != "" {
		t.Fatalf("context = %d %v, want empty context", res.StatusCode, payload)
	}

	res, payload = doJSON(t, http.MethodPost, ts.URL+"/v1/memory/cleanup", nil)
	if res.StatusCode != http.StatusOK || payload["removed"] != float64(0) {
		t.Fatalf("cleanup = %d %v, want removed 0", res.StatusCode, payload)
	}
}

func TestMessagesLifecycle(t *testing.T) {
	ts := newTestServer(t)

	for i, content := range []string{"hello", "hi there", "how are you"} {
		sender := history.SenderUser
		if i%2 == 1 {
			sender = history.SenderAI
		}
		res, payload := doJSON(t, http.MethodPost, ts.URL+"/v1/messages", map[string]any{
			"user_id": "u1",
			"sender":  sender,
			"content": content,
		})
		if res.StatusCode != http.StatusAccepted {
			t.Fatalf("save message status = %d, want %d (%v)", res.StatusCode, http.StatusAccepted, payload)
		}
		msg, _ := payload["message"].(map[string]any)
		if id, _ := msg["id"].(string); id == "" {
			t.Fatalf("saved message missing id: %+v", payload)
		}
	}

	res, recent := doJSON(t, http.MethodGet, ts.URL+"/v1/messages/u1/recent", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("recent status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	msgs, _ := recent["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("recent messages = %v, want 3", recent["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["content"] != "hello" {
		t.Fatalf("first recent message = %v, want hello", msgs[0])
	}

	res, debug := doJSON(t, http.MethodGet, ts.URL+"/v1/messages/u1/debug", nil)
	if res.StatusCode != http.StatusOK || debug["remote_configured"] != false {
		t.Fatalf("debug = %d %v, want local-only snapshot", res.StatusCode, debug)
	}

	if res, _ := doJSON(t, http.MethodDelete, ts.URL+"/v1/messages/u1", nil); res.StatusCode != http.StatusAccepted {
		t.Fatalf("clear status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	_, recent = doJSON(t, http.MethodGet, ts.URL+"/v1/messages/u1/recent", nil)
	if msgs, _ := recent["messages"].([]any); len(msgs) != 0 {
		t.Fatalf("recent after clear = %v, want empty", recent["messages"])
	}
}

func TestSaveMessageRejectsUnknownSender(t *testing.T) {
	ts := newTestServer(t)
	res, payload := doJSON(t, http.MethodPost, ts.URL+"/v1/messages", map[string]any{
		"user_id": "u1",
		"sender":  "robot",
		"content": "beep",
	})
	if res.StatusCode != http.StatusBadRequest || payload["code"] != "invalid_message" {
		t.Fatalf("save = %d %v, want 400 invalid_message", res.StatusCode, payload)
	}
}

func TestReadyAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	res, ready := doJSON(t, http.MethodGet, ts.URL+"/readyz", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ready["cache_mode"] != "in-memory" || ready["remote_configured"] != false {
		t.Fatalf("readyz = %v, want in-memory local-only", ready)
	}

	doJSON(t, http.MethodGet, ts.URL+"/v1/memory/u1/s1/context", nil)

	metricsRes, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer metricsRes.Body.Close()
	body, _ := io.ReadAll(metricsRes.Body)
	if !strings.Contains(string(body), "test_httpapi_context_prompts_total") {
		t.Fatalf("metrics output missing context prompt counter:\n%s", body)
	}
}

func TestMemoryWebsocket(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/memory/ws?user_id=u1"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ready protocol.SystemEvent
	if err := conn.ReadJSON(&ready); err != nil {
		t.Fatalf("read session_ready: %v", err)
	}
	if ready.Code != "session_ready" || ready.SessionID == "" {
		t.Fatalf("unexpected first event: %+v", ready)
	}

	save := protocol.SaveConversation{
		Type:      protocol.TypeSaveConversation,
		SessionID: ready.SessionID,
		Turns: []memory.Turn{
			{ID: "1", Sender: "user", Content: "My name is Alice"},
			{ID: "2", Sender: "ai", Content: "Hello Alice"},
		},
	}
	if err := conn.WriteJSON(save); err != nil {
		t.Fatalf("write save_conversation: %v", err)
	}
	var saved protocol.MemorySaved
	if err := conn.ReadJSON(&saved); err != nil {
		t.Fatalf("read memory_saved: %v", err)
	}
	if saved.Type != protocol.TypeMemorySaved || saved.MessageCount != 2 {
		t.Fatalf("unexpected memory_saved: %+v", saved)
	}

	if err := conn.WriteJSON(protocol.ContextRequest{Type: protocol.TypeContextRequest, SessionID: ready.SessionID}); err != nil {
		t.Fatalf("write context_request: %v", err)
	}
	var ctxMsg protocol.MemoryContext
	if err := conn.ReadJSON(&ctxMsg); err != nil {
		t.Fatalf("read memory_context: %v", err)
	}
	if !strings.Contains(ctxMsg.Context, "Alice") {
		t.Fatalf("context = %q, want Alice", ctxMsg.Context)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"wat"}`)); err != nil {
		t.Fatalf("write unknown message: %v", err)
	}
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("read error_event: %v", err)
	}
	if errEvent.Type != protocol.TypeErrorEvent || errEvent.Code != "invalid_client_message" {
		t.Fatalf("unexpected error event: %+v", errEvent)
	}
}

func TestMemoryWebsocketRejectsForeignSession(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/memory/ws?user_id=u1"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ready protocol.SystemEvent
	if err := conn.ReadJSON(&ready); err != nil {
		t.Fatalf("read session_ready: %v", err)
	}

	save := protocol.SaveConversation{
		Type:      protocol.TypeSaveConversation,
		SessionID: "someone-elses",
		Turns:     []memory.Turn{{ID: "1", Sender: "user", Content: "My name is Mallory"}},
	}
	if err := conn.WriteJSON(save); err != nil {
		t.Fatalf("write save_conversation: %v", err)
	}
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("read error_event: %v", err)
	}
	if errEvent.Code != "session_mismatch" || errEvent.SessionID != ready.SessionID {
		t.Fatalf("unexpected error event: %+v", errEvent)
	}

	if err := conn.WriteJSON(protocol.ContextRequest{Type: protocol.TypeContextRequest, SessionID: "someone-elses"}); err != nil {
		t.Fatalf("write context_request: %v", err)
	}
	errEvent = protocol.ErrorEvent{}
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("read error_event: %v", err)
	}
	if errEvent.Code != "session_mismatch" {
		t.Fatalf("unexpected error event: %+v", errEvent)
	}

	res, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/memory/u1/someone-elses", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("GET foreign session memory = %d, want 404", res.StatusCode)
	}
}

func TestMemoryWebsocketRequiresUser(t *testing.T) {
	ts := newTestServer(t)
	res, payload := doJSON(t, http.MethodGet, ts.URL+"/v1/memory/ws", nil)
	if res.StatusCode != http.StatusBadRequest || payload["code"] != "missing_user_id" {
		t.Fatalf("ws without user = %d %v, want 400 missing_user_id", res.StatusCode, payload)
	}
}
