package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/auth"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chat"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/metrics"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/model"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/prompt"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/streamreg"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/userstore"
)

type testServer struct {
	srv   *Server
	users *memUsers
	chats *memChats
	auth  *auth.Manager
}

func newTestServer(t *testing.T, engine model.Engine) *testServer {
	t.Helper()
	return newTestServerOpts(t, newScriptedRuntime(t, engine), nil)
}

func newTestServerOpts(t *testing.T, gen chat.Generator, collector *metrics.Collector) *testServer {
	t.Helper()
	users := newMemUsers()
	chats := newMemChats()
	svc, err := chat.NewService(chat.Config{
		StallTimeout: 2 * time.Second,
		Metrics:      recorderOrNil(collector),
		Logger:       log.New(io.Discard, "", 0),
	}, gen, chats, streamreg.New(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	manager := auth.NewManager("test-secret")
	srv := New(svc, users, chats, manager)
	srv.SetLogger("info", log.New(io.Discard, "", 0))
	if collector != nil {
		srv.SetMetrics(collector)
	}
	return &testServer{srv: srv, users: users, chats: chats, auth: manager}
}

// recorderOrNil avoids storing a typed nil in the service's Recorder field.
func recorderOrNil(collector *metrics.Collector) chat.Recorder {
	if collector == nil {
		return nil
	}
	return collector
}

func newScriptedRuntime(t *testing.T, engine model.Engine) *model.Runtime {
	t.Helper()
	tpl, ok := prompt.NewRegistry().Lookup("chatml")
	if !ok {
		t.Fatalf("chatml template missing")
	}
	rt, err := model.NewRuntime(model.RuntimeConfig{
		ModelPath: "scripted.gguf",
		ModelName: "scripted",
		Template:  tpl,
		Logger:    log.New(io.Discard, "", 0),
	}, engine)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) signupAndLogin(t *testing.T, email, password string) *http.Cookie {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/signup", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status %d: %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie && c.Value != "" {
			return c
		}
	}
	t.Fatalf("login did not set a session cookie")
	return nil
}

func (ts *testServer) initiate(t *testing.T, cookie *http.Cookie, sessionID, message string) initiateResponse {
	t.Helper()
	body, _ := json.Marshal(initiateRequest{SessionID: sessionID, UserMessage: message})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/initiate", strings.NewReader(string(body)))
	req.AddCookie(cookie)
	rec := ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("initiate status %d: %s", rec.Code, rec.Body.String())
	}
	var res initiateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode initiate response: %v", err)
	}
	return res
}

// sseData extracts the payloads of the data events in an SSE body.
func sseData(body string) []string {
	var events []string
	for _, block := range strings.Split(body, "\n\n") {
		if strings.HasPrefix(block, "data: ") {
			events = append(events, strings.TrimPrefix(block, "data: "))
		}
	}
	return events
}

func TestSignupValidation(t *testing.T) {
	ts := newTestServer(t, model.NewScriptedEngine("ok"))

	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/signup", strings.NewReader(`{"email":"nobody","password":"pw"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid email, got %d", rec.Code)
	}
	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/signup", strings.NewReader(`{"email":"a@b.dev"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", rec.Code)
	}

	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/signup", strings.NewReader(`{"email":"a@b.dev","password":"pw"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created userPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if created.ID == 0 || created.Email != "a@b.dev" {
		t.Fatalf("unexpected signup payload %+v", created)
	}

	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/signup", strings.NewReader(`{"email":"a@b.dev","password":"other"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate email, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "already registered") {
		t.Fatalf("unexpected duplicate error body %s", rec.Body.String())
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t, model.NewScriptedEngine("ok"))
	ts.signupAndLogin(t, "a@b.dev", "correct")

	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"email":"a@b.dev","password":"wrong"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}
	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"email":"ghost@b.dev","password":"whatever"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown email, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t, model.NewScriptedEngine("ok"))

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/users/me"},
		{http.MethodGet, "/api/sessions"},
		{http.MethodGet, "/api/sessions/sess-1"},
		{http.MethodDelete, "/api/sessions/sess-1"},
		{http.MethodPost, "/api/chat/initiate"},
	} {
		rec := ts.do(t, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestUsersMeReturnsIdentity(t *testing.T) {
	ts := newTestServer(t, model.NewScriptedEngine("ok"))
	cookie := ts.signupAndLogin(t, "me@b.dev", "pw")

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.AddCookie(cookie)
	rec := ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload userPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Email != "me@b.dev" || payload.ID == 0 {
		t.Fatalf("unexpected identity %+v", payload)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	ts := newTestServer(t, model.NewScriptedEngine("ok"))

	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/logout", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected expired session cookie")
	}
}

func TestChatInitiateAndStreamEndToEnd(t *testing.T) {
	ts := newTestServer(t, model.NewScriptedEngine("The ", "quick ", "fox"))
	cookie := ts.signupAndLogin(t, "fox@b.dev", "pw")

	res := ts.initiate(t, cookie, "", "Tell me about foxes")
	if res.SessionID == "" || res.UserMessageID == 0 || res.StreamID == "" {
		t.Fatalf("incomplete initiate response %+v", res)
	}

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/chat/stream/"+res.StreamID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("unexpected cache control %q", cc)
	}
	events := sseData(rec.Body.String())
	if strings.Join(events, "") != "The quick fox" {
		t.Fatalf("unexpected events %q", events)
	}

	messages, _ := ts.chats.MessagesBySession(context.Background(), res.SessionID)
	if len(messages) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(messages))
	}
	if messages[1].Role != chatstore.RoleAssistant || messages[1].Content != "The quick fox" {
		t.Fatalf("unexpected assistant turn %+v", messages[1])
	}

	// the handle is single-use
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/chat/stream/"+res.StreamID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on replay, got %d", rec.Code)
	}
}

func TestChatStreamUnknownHandle(t *testing.T) {
	ts := newTestServer(t, model.NewScriptedEngine("ok"))

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/chat/stream/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not found or expired") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestChatRequiresLoadedModel(t *testing.T) {
	ts := newTestServerOpts(t, &stubGenerator{loaded: false, name: "unloaded"}, nil)
	cookie := ts.signupAndLogin(t, "cold@b.dev", "pw")

	body := strings.NewReader(`{"user_message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/initiate", body)
	req.AddCookie(cookie)
	rec := ts.do(t, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("initiate: expected 503, got %d", rec.Code)
	}

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/chat/stream/any", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("stream: expected 503, got %d", rec.Code)
	}
}

func TestChatInitiateRejectsForeignSession(t *testing.T) {
	ts := newTestServer(t, model.NewScriptedEngine("ok"))
	owner := ts.signupAndLogin(t, "owner@b.dev", "pw")
	other := ts.signupAndLogin(t, "other@b.dev", "pw")

	res := ts.initiate(t, owner, "", "mine")

	body, _ := json.Marshal(initiateRequest{SessionID: res.SessionID, UserMessage: "sneaky"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/initiate", strings.NewReader(string(body)))
	req.AddCookie(other)
	rec := ts.do(t, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign session, got %d", rec.Code)
	}
}

func TestChatStreamDeliversErrorSentinel(t *testing.T) {
	engine := model.NewScriptedEngine()
	engine.GenErr = errors.New("cuda device lost")
	ts := newTestServer(t, engine)
	cookie := ts.signupAndLogin(t, "err@b.dev", "pw")

	res := ts.initiate(t, cookie, "", "boom")
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/chat/stream/"+res.StreamID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status %d", rec.Code)
	}
	events := sseData(rec.Body.String())
	if len(events) == 0 {
		t.Fatalf("expected a terminal error event")
	}
	last := events[len(events)-1]
	if !strings.HasPrefix(last, "[ERROR]") || !strings.Contains(last, "cuda device lost") {
		t.Fatalf("unexpected terminal event %q", last)
	}

	messages, _ := ts.chats.MessagesBySession(context.Background(), res.SessionID)
	if len(messages) != 1 {
		t.Fatalf("error outcome must not persist an assistant turn, got %d messages", len(messages))
	}
}

func TestSessionListDetailDelete(t *testing.T) {
	ts := newTestServer(t, model.NewScriptedEngine("ok"))
	cookie := ts.signupAndLogin(t, "hist@b.dev", "pw")

	res := ts.initiate(t, cookie, "", "First conversation")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.AddCookie(cookie)
	rec := ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	var infos []sessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != res.SessionID || infos[0].Title != "First conversation" {
		t.Fatalf("unexpected session list %+v", infos)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+res.SessionID, nil)
	req.AddCookie(cookie)
	rec = ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status %d", rec.Code)
	}
	var detail sessionDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.Messages) != 1 || detail.Messages[0].Role != "user" {
		t.Fatalf("unexpected detail %+v", detail)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/sessions/"+res.SessionID, nil)
	req.AddCookie(cookie)
	rec = ts.do(t, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+res.SessionID, nil)
	req.AddCookie(cookie)
	rec = ts.do(t, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestSessionDeleteForeignIsNotFound(t *testing.T) {
	ts := newTestServer(t, model.NewScriptedEngine("ok"))
	owner := ts.signupAndLogin(t, "owner2@b.dev", "pw")
	other := ts.signupAndLogin(t, "other2@b.dev", "pw")

	res := ts.initiate(t, owner, "", "keep out")

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+res.SessionID, nil)
	req.AddCookie(other)
	rec := ts.do(t, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if cs, _ := ts.chats.SessionByID(context.Background(), res.SessionID, 1); cs == nil {
		t.Fatalf("foreign delete must not remove the session")
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, model.NewScriptedEngine("ok"))

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if payload["status"] != "ok" || payload["model_loaded"] != true {
		t.Fatalf("unexpected health payload %v", payload)
	}

	cold := newTestServerOpts(t, &stubGenerator{loaded: false}, nil)
	rec = cold.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if payload["status"] != "degraded" || payload["model_loaded"] != false {
		t.Fatalf("unexpected cold health payload %v", payload)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.NewCollector()
	engine := model.NewScriptedEngine("one", " two")
	ts := newTestServerOpts(t, newScriptedRuntime(t, engine), collector)
	cookie := ts.signupAndLogin(t, "mtr@b.dev", "pw")

	res := ts.initiate(t, cookie, "", "count me")
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/chat/stream/"+res.StreamID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status %d", rec.Code)
	}

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`chatd_requests_total{endpoint="chat_initiate"} 1`,
		`chatd_requests_total{endpoint="chat_stream"} 1`,
		`chatd_generations_total{outcome="complete"} 1`,
		"chatd_generation_fragments_total 2",
		"chatd_first_fragment_events_total 1",
		"chatd_active_streams 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics body missing %q:\n%s", want, body)
		}
	}
}

func TestMetricsDisabledReturnsNotFound(t *testing.T) {
	ts := newTestServer(t, model.NewScriptedEngine("ok"))
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a collector, got %d", rec.Code)
	}
}

// --- in-memory stores ---

type memUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*userstore.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[int64]*userstore.User{}}
}

func (m *memUsers) Create(ctx context.Context, email, hashedPassword string) (*userstore.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return nil, userstore.ErrEmailTaken
		}
	}
	m.nextID++
	u := &userstore.User{ID: m.nextID, Email: email, HashedPassword: hashedPassword, CreatedAt: time.Now()}
	m.byID[u.ID] = u
	out := *u
	return &out, nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*userstore.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memUsers) FindByID(ctx context.Context, id int64) (*userstore.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		out := *u
		return &out, nil
	}
	return nil, nil
}

func (m *memUsers) Close() error { return nil }

type memChats struct {
	mu       sync.Mutex
	nextSess int
	nextMsg  int64
	sessions map[string]*chatstore.Session
	messages map[string][]chatstore.Message
}

func newMemChats() *memChats {
	return &memChats{
		sessions: map[string]*chatstore.Session{},
		messages: map[string][]chatstore.Message{},
	}
}

func (m *memChats) CreateSession(ctx context.Context, userID int64, title string) (*chatstore.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSess++
	s := &chatstore.Session{
		ID:            fmt.Sprintf("sess-%d", m.nextSess),
		UserID:        userID,
		Title:         title,
		CreatedAt:     time.Now(),
		LastUpdatedAt: time.Now(),
	}
	m.sessions[s.ID] = s
	out := *s
	return &out, nil
}

func (m *memChats) SessionByID(ctx context.Context, sessionID string, userID int64) (*chatstore.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, nil
	}
	out := *s
	return &out, nil
}

func (m *memChats) SessionsByUser(ctx context.Context, userID int64) ([]chatstore.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chatstore.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt) })
	return out, nil
}

func (m *memChats) DeleteSession(ctx context.Context, sessionID string, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return false, nil
	}
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	return true, nil
}

func (m *memChats) AppendMessage(ctx context.Context, sessionID string, role chatstore.Role, content string) (*chatstore.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	m.nextMsg++
	msg := chatstore.Message{
		ID:        m.nextMsg,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	s.LastUpdatedAt = msg.Timestamp
	return &msg, nil
}

func (m *memChats) MessagesBySession(ctx context.Context, sessionID string) ([]chatstore.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chatstore.Message(nil), m.messages[sessionID]...), nil
}

func (m *memChats) Close() error { return nil }

type stubGenerator struct {
	loaded bool
	name   string
	ch     <-chan model.Fragment
	err    error
}

func (g *stubGenerator) Generate(ctx context.Context, window []chatstore.Message) (<-chan model.Fragment, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.ch, nil
}

func (g *stubGenerator) Loaded() bool  { return g.loaded }
func (g *stubGenerator) Model() string { return g.name }
