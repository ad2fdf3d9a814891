package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"thoth/internal/assets"
	"thoth/internal/auth"
	"thoth/internal/chat"
	"thoth/internal/config"
	"thoth/internal/logging"
	"thoth/internal/page"
	"thoth/internal/session"
	"thoth/internal/storage"
)

// 1x1 transparent PNG.
const pixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func TestHandlersEndToEndFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.newClient(t)

	home := client.get("/")
	assertStatus(t, home, http.StatusOK)
	assertContains(t, home, "Войти")
	assertContains(t, home, "data:image/png;base64,")

	// Registration logs the user in and lands on the welcome page.
	reg := client.postForm("/register", url.Values{"username": {"alice"}, "password": {"pw1"}})
	assertRedirectHome(t, reg)
	welcome := client.get("/")
	assertStatus(t, welcome, http.StatusOK)
	assertContains(t, welcome, "Привет, alice!")
	assertContains(t, welcome, "Перейти к решению")

	assertRedirectHome(t, client.postForm("/solution", nil))
	chatPage := client.get("/")
	assertStatus(t, chatPage, http.StatusOK)
	assertContains(t, chatPage, "Чат-помощник")
	if view := client.snapshot().View; view != "chat" {
		t.Fatalf("expected chat view, got %s", view)
	}

	firstMessage := "what does the data say?"
	streamResp := client.postJSON("/chat/stream", map[string]string{"content": firstMessage})
	assertStatus(t, streamResp, http.StatusOK)
	events := parseSSE(t, streamResp.Body.String())
	// ack, one stream event per token ("lorem ", "ipsum ", "\n"), done.
	if len(events) != 5 {
		t.Fatalf("expected 5 SSE events, got %d: %+v", len(events), events)
	}
	if events[0].Name != "ack" {
		t.Fatalf("expected first SSE event to be ack, got %s", events[0].Name)
	}
	var ackPayload struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	decodeJSON(t, []byte(events[0].Data), &ackPayload)
	if ackPayload.Message.Content != firstMessage {
		t.Fatalf("ack payload mismatch, want %q got %q", firstMessage, ackPayload.Message.Content)
	}
	var streamed strings.Builder
	for _, evt := range events[1:4] {
		if evt.Name != "stream" {
			t.Fatalf("expected stream event, got %s", evt.Name)
		}
		var chunk struct {
			Content string `json:"content"`
		}
		decodeJSON(t, []byte(evt.Data), &chunk)
		streamed.WriteString(chunk.Content)
	}
	if events[4].Name != "done" {
		t.Fatalf("expected done event, got %s", events[4].Name)
	}
	var donePayload struct {
		AI struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"ai_message"`
	}
	decodeJSON(t, []byte(events[4].Data), &donePayload)
	if donePayload.AI.Role != "assistant" || donePayload.AI.Content != streamed.String() {
		t.Fatalf("done payload mismatch: %+v, streamed %q", donePayload.AI, streamed.String())
	}
	if donePayload.AI.Content != "lorem ipsum \n" {
		t.Fatalf("unexpected reply %q", donePayload.AI.Content)
	}

	// Form fallback without JavaScript.
	assertRedirectHome(t, client.postForm("/chat", url.Values{"content": {"second"}}))
	snap := client.snapshot()
	if len(snap.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(snap.Messages))
	}
	if snap.Messages[2].Role != "user" || snap.Messages[2].Content != "second" {
		t.Fatalf("unexpected message order: %+v", snap.Messages)
	}
	transcript := client.get("/")
	assertContains(t, transcript, "Ваша история чата здесь")
	assertContains(t, transcript, "second")

	assertRedirectHome(t, client.postForm("/chat/clear", nil))
	if n := len(client.snapshot().Messages); n != 0 {
		t.Fatalf("expected cleared history, got %d messages", n)
	}

	assertRedirectHome(t, client.postForm("/nav/welcome", nil))
	if view := client.snapshot().View; view != "welcome" {
		t.Fatalf("expected welcome view, got %s", view)
	}
	assertRedirectHome(t, client.postForm("/nav/chat", nil))

	client.postJSON("/chat/stream", map[string]string{"content": "before logout"})
	assertRedirectHome(t, client.postForm("/logout", nil))
	snap = client.snapshot()
	if snap.View != "unauthenticated" || snap.Username != "" || len(snap.Messages) != 0 {
		t.Fatalf("logout must reset the session, got %+v", snap)
	}

	// Login again lands on the welcome page regardless of the previous page.
	assertRedirectHome(t, client.postForm("/login", url.Values{"username": {"alice"}, "password": {"pw1"}}))
	if view := client.snapshot().View; view != "welcome" {
		t.Fatalf("expected welcome view after login, got %s", view)
	}
}

func TestLoginAndRegisterFailures(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.newClient(t)
	client.get("/")

	assertRedirectHome(t, client.postForm("/register", url.Values{"username": {"bob"}, "password": {"pw"}}))
	assertRedirectHome(t, client.postForm("/logout", nil))

	dup := client.postForm("/register", url.Values{"username": {"bob"}, "password": {"other"}})
	assertStatus(t, dup, http.StatusConflict)
	assertContains(t, dup, msgDuplicateUsername)
	assertContains(t, dup, "Зарегистрироваться")

	empty := client.postForm("/register", url.Values{"username": {""}, "password": {""}})
	assertStatus(t, empty, http.StatusBadRequest)
	assertContains(t, empty, msgMissingCredentials)

	bad := client.postForm("/login", url.Values{"username": {"bob"}, "password": {"wrong"}})
	assertStatus(t, bad, http.StatusUnauthorized)
	assertContains(t, bad, msgInvalidCredentials)
	assertContains(t, bad, "Войти")

	unknown := client.postForm("/login", url.Values{"username": {"nobody"}, "password": {"pw"}})
	assertStatus(t, unknown, http.StatusUnauthorized)

	if view := client.snapshot().View; view != "unauthenticated" {
		t.Fatalf("failed attempts must not log in, got %s", view)
	}
}

func TestRegisterTabSelectedByQuery(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.newClient(t)
	resp := client.get("/?tab=register")
	assertStatus(t, resp, http.StatusOK)
	assertContains(t, resp, "Давайте знакомиться!")
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.newClient(t)
	client.get("/")

	form := url.Values{"username": {"eve"}, "password": {"pw"}}
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := client.do(req)
	assertStatus(t, rec, http.StatusForbidden)

	req = httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("X-CSRF-Token", "forged")
	assertStatus(t, client.do(req), http.StatusForbidden)
}

func TestNavigateUnknownView(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.newClient(t)
	client.get("/")
	resp := client.postForm("/nav/admin", nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestChatRequiresLoginAndContent(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.newClient(t)
	client.get("/")

	assertStatus(t, client.postJSON("/chat/stream", map[string]string{"content": "hi"}), http.StatusUnauthorized)
	// The form endpoint falls back to rendering the login page.
	assertRedirectHome(t, client.postForm("/chat", url.Values{"content": {"hi"}}))

	assertRedirectHome(t, client.postForm("/register", url.Values{"username": {"carol"}, "password": {"pw"}}))
	assertRedirectHome(t, client.postForm("/solution", nil))

	assertStatus(t, client.postJSON("/chat/stream", map[string]string{"content": "   "}), http.StatusBadRequest)
	empty := client.postForm("/chat", url.Values{"content": {""}})
	assertStatus(t, empty, http.StatusBadRequest)
	assertContains(t, empty, msgEmptyMessage)
	if n := len(client.snapshot().Messages); n != 0 {
		t.Fatalf("rejected messages must not be recorded, got %d", n)
	}
}

func TestChatStreamSSEError(t *testing.T) {
	srv := newTestServer(t, failingModel{err: errors.New("responder offline")})
	client := srv.newClient(t)
	client.get("/")
	assertRedirectHome(t, client.postForm("/register", url.Values{"username": {"dave"}, "password": {"pw"}}))

	resp := client.postJSON("/chat/stream", map[string]string{"content": "hello"})
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if len(events) != 2 {
		t.Fatalf("expected ack and error events, got %+v", events)
	}
	if events[0].Name != "ack" || events[1].Name != "error" {
		t.Fatalf("unexpected events %+v", events)
	}
	if !strings.Contains(events[1].Data, "responder offline") {
		t.Fatalf("error event missing cause: %s", events[1].Data)
	}
	snap := client.snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Role != "user" {
		t.Fatalf("only the user message should be kept, got %+v", snap.Messages)
	}
}

func TestMissingAssetFailsRender(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.newClient(t)
	client.get("/")
	assertRedirectHome(t, client.postForm("/register", url.Values{"username": {"frank"}, "password": {"pw"}}))

	if err := os.Remove(filepath.Join(srv.assetsDir, assets.Sample)); err != nil {
		t.Fatalf("remove sample: %v", err)
	}
	// The welcome page does not show the sample image.
	assertStatus(t, client.get("/"), http.StatusOK)

	assertRedirectHome(t, client.postForm("/solution", nil))
	resp := client.get("/")
	assertStatus(t, resp, http.StatusInternalServerError)
	assertContains(t, resp, assets.Sample)

	if err := os.Remove(filepath.Join(srv.assetsDir, assets.Background)); err != nil {
		t.Fatalf("remove background: %v", err)
	}
	assertRedirectHome(t, client.postForm("/nav/welcome", nil))
	resp = client.get("/")
	assertStatus(t, resp, http.StatusInternalServerError)
	assertContains(t, resp, "missing asset")
}

func TestSessionsAreIsolated(t *testing.T) {
	srv := newTestServer(t, nil)
	first := srv.newClient(t)
	second := srv.newClient(t)
	first.get("/")
	second.get("/")

	assertRedirectHome(t, first.postForm("/register", url.Values{"username": {"gina"}, "password": {"pw"}}))
	if view := second.snapshot().View; view != "unauthenticated" {
		t.Fatalf("second browser must stay logged out, got %s", view)
	}
	assertRedirectHome(t, second.postForm("/login", url.Values{"username": {"gina"}, "password": {"pw"}}))
	first.postJSON("/chat/stream", map[string]string{"content": "only mine"})
	if n := len(second.snapshot().Messages); n != 0 {
		t.Fatalf("history leaked across sessions: %d messages", n)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assertStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health body: %s", rec.Body.String())
	}
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

type testServer struct {
	router    *gin.Engine
	assetsDir string
}

func newTestServer(t *testing.T, responder model.BaseChatModel) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	dir := t.TempDir()
	pixel, err := base64.StdEncoding.DecodeString(pixelPNG)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	for _, name := range []string{assets.Background, assets.Sample} {
		if err := os.WriteFile(filepath.Join(dir, name), pixel, 0o644); err != nil {
			t.Fatalf("write asset: %v", err)
		}
	}

	if responder == nil {
		responder = chat.NewStub(chat.WithText("lorem ipsum"), chat.WithDelay(0))
	}
	authSvc := auth.NewService(storage.NewUserStore(db), bcrypt.MinCost)
	sessions := session.NewManager(session.NewMemoryStore(time.Hour), logging.Discard())
	handler := NewHandler(page.NewController(authSvc, responder), authSvc, sessions, assets.NewLoader(dir), db, logging.Discard())

	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, assetsDir: dir}
}

// testClient keeps cookies between requests like a browser would.
type testClient struct {
	t       *testing.T
	router  *gin.Engine
	cookies map[string]*http.Cookie
}

func (s *testServer) newClient(t *testing.T) *testClient {
	return &testClient{t: t, router: s.router, cookies: make(map[string]*http.Cookie)}
}

func (tc *testClient) do(req *http.Request) *httptest.ResponseRecorder {
	tc.t.Helper()
	for _, ck := range tc.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	tc.router.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		tc.cookies[ck.Name] = ck
	}
	return rec
}

func (tc *testClient) csrfToken() string {
	if ck, ok := tc.cookies["csrf_token"]; ok {
		return ck.Value
	}
	return ""
}

func (tc *testClient) get(path string) *httptest.ResponseRecorder {
	tc.t.Helper()
	return tc.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (tc *testClient) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	tc.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", tc.csrfToken())
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return tc.do(req)
}

func (tc *testClient) postJSON(path string, body interface{}) *httptest.ResponseRecorder {
	tc.t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		tc.t.Fatalf("encode body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", tc.csrfToken())
	return tc.do(req)
}

type sessionSnapshot struct {
	View     string `json:"view"`
	Username string `json:"username"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func (tc *testClient) snapshot() sessionSnapshot {
	tc.t.Helper()
	rec := tc.get("/api/session")
	assertStatus(tc.t, rec, http.StatusOK)
	var snap sessionSnapshot
	decodeJSON(tc.t, rec.Body.Bytes(), &snap)
	return snap
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func assertRedirectHome(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assertStatus(t, rec, http.StatusSeeOther)
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Fatalf("expected redirect to /, got %q", loc)
	}
}

func assertContains(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("response does not contain %q", want)
	}
}

type failingModel struct {
	err error
}

func (f failingModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return nil, f.err
}

func (f failingModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, f.err
}
