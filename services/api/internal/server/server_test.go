package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"afggram/pkg/realtime"
	"afggram/pkg/store"
	"afggram/services/api/internal/app"
)

const testPassword = "Correct-Horse-9"

type testServer struct {
	*httptest.Server
	store *store.MemoryStore
}

func newTestServer(t *testing.T, client *redis.Client, mutate func(*Config)) *testServer {
	t.Helper()
	mem := store.NewMemoryStore()
	broker := realtime.NewMemoryBroker()
	// Inside payout hours so withdrawal gates past the first one are reachable.
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	hub, err := realtime.NewHub(realtime.HubConfig{Broker: broker})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	a, err := app.New(app.Config{
		Store:   mem,
		Events:  broker,
		Sockets: hub,
		Now:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	cfg := Config{App: a, Hub: hub, Redis: client}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, store: mem}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (ts *testServer) signUp(t *testing.T, username string) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":    username + "@example.com",
		"password": testPassword,
		"username": username,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %v", username, resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("signup %s: missing token in %v", username, body)
	}
	return token
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	resp, body := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("expected ok, got %d %v", resp.StatusCode, body)
	}
}

func TestAuthenticatedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	resp, body := ts.do(t, http.MethodGet, "/api/users/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body["code"] != "AUTH_INVALID_TOKEN" {
		t.Fatalf("expected AUTH_INVALID_TOKEN, got %v", body["code"])
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}

	resp, _ = ts.do(t, http.MethodGet, "/api/users/me", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", resp.StatusCode)
	}
}

func TestSignupLoginMeAndLogout(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	token := ts.signUp(t, "alice")

	resp, body := ts.do(t, http.MethodGet, "/api/users/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", resp.StatusCode)
	}
	if body["username"] != "alice" || body["role"] != "admin" {
		t.Fatalf("unexpected me body: %v", body)
	}
	if _, leaked := body["passwordHash"]; leaked {
		t.Fatalf("password hash leaked: %v", body)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password-1",
	})
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "AUTH_INVALID_CREDENTIALS" {
		t.Fatalf("expected invalid credentials, got %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": testPassword,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d %v", resp.StatusCode, body)
	}
	loginToken, _ := body["token"].(string)
	refresh, _ := body["refreshToken"].(string)

	resp, _ = ts.do(t, http.MethodPost, "/api/auth/logout", loginToken, map[string]string{"refreshToken": refresh})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodGet, "/api/users/me", loginToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected deleted refresh token to be rejected, got %d", resp.StatusCode)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	admin := ts.signUp(t, "alice")
	user := ts.signUp(t, "bob")

	resp, body := ts.do(t, http.MethodGet, "/api/admin/users", user, nil)
	if resp.StatusCode != http.StatusForbidden || body["code"] != "FORBIDDEN" {
		t.Fatalf("expected 403, got %d %v", resp.StatusCode, body)
	}
	resp, body = ts.do(t, http.MethodGet, "/api/admin/users", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if count, _ := body["count"].(float64); count != 2 {
		t.Fatalf("expected 2 users, got %v", body["count"])
	}
}

func TestFeedAndLike(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	alice := ts.signUp(t, "alice")
	bob := ts.signUp(t, "bob")

	resp, _ := ts.do(t, http.MethodPost, "/api/users/alice/follow", bob, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("follow: expected 200, got %d", resp.StatusCode)
	}
	resp, post := ts.do(t, http.MethodPost, "/api/posts", alice, map[string]string{"content": "hello kigali"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create post: expected 201, got %d %v", resp.StatusCode, post)
	}
	postID, _ := post["id"].(string)

	resp, feed := ts.do(t, http.MethodGet, "/api/feed", bob, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("feed: expected 200, got %d", resp.StatusCode)
	}
	items, _ := feed["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one post in feed, got %v", feed)
	}

	resp, like := ts.do(t, http.MethodPost, "/api/posts/"+postID+"/like", bob, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("like: expected 200, got %d", resp.StatusCode)
	}
	if like["liked"] != true || like["likesCount"] != float64(1) {
		t.Fatalf("unexpected like state: %v", like)
	}
	_, like = ts.do(t, http.MethodPost, "/api/posts/"+postID+"/like", bob, nil)
	if like["likesCount"] != float64(1) {
		t.Fatalf("expected double like to be idempotent, got %v", like)
	}

	resp, _ = ts.do(t, http.MethodGet, "/api/feed?before=yesterday", bob, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodDelete, "/api/posts/"+postID, bob, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected non-author delete to be forbidden, got %d", resp.StatusCode)
	}
}

func TestWithdrawalRejectionBody(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.signUp(t, "alice")
	bob := ts.signUp(t, "bob")

	resp, body := ts.do(t, http.MethodPost, "/api/withdrawals", bob, map[string]any{
		"amount": 500,
		"method": "mtn",
		"phone":  "0781234567",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %v", resp.StatusCode, body)
	}
	if body["code"] != "below_minimum" {
		t.Fatalf("expected below_minimum, got %v", body)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/withdrawals", bob, map[string]any{
		"amount": "abc",
		"method": "mtn",
		"phone":  "0781234567",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity || body["code"] != "invalid_amount" {
		t.Fatalf("expected invalid_amount, got %d %v", resp.StatusCode, body)
	}
}

func TestWithdrawalAmountKeepsRawForm(t *testing.T) {
	cases := map[string]string{
		`{"amount": 1500}`:      "1500",
		`{"amount": "1500.50"}`: "1500.50",
		`{"amount": "lots"}`:    "lots",
		`{"amount": null}`:      "",
		`{}`:                    "",
		`{"amount": true}`:      "true",
	}
	for body, want := range cases {
		var req withdrawalRequest
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
		if got := req.amount(); got != want {
			t.Fatalf("%s: amount() = %q, want %q", body, got, want)
		}
	}
}

func TestMessagingRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	alice := ts.signUp(t, "alice")
	bob := ts.signUp(t, "bob")

	bobUser, ok, err := ts.store.GetUserByUsername("bob")
	if err != nil || !ok {
		t.Fatalf("lookup bob: %v %v", ok, err)
	}
	resp, msg := ts.do(t, http.MethodPost, "/api/messages", alice, map[string]any{
		"to":      bobUser.ID,
		"content": "muraho",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d %v", resp.StatusCode, msg)
	}
	convID, _ := msg["conversationId"].(string)

	_, counts := ts.do(t, http.MethodGet, "/api/notifications/counts", bob, nil)
	if counts["messages"] != float64(1) {
		t.Fatalf("expected one unread message, got %v", counts)
	}
	resp, read := ts.do(t, http.MethodPost, "/api/conversations/"+convID+"/read", bob, nil)
	if resp.StatusCode != http.StatusOK || read["updated"] != float64(1) {
		t.Fatalf("mark read: got %d %v", resp.StatusCode, read)
	}
	resp, _ = ts.do(t, http.MethodGet, "/api/conversations/"+convID+"/messages", ts.signUp(t, "carol"), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected outsider to get 404, got %d", resp.StatusCode)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	resp, body := ts.do(t, http.MethodGet, "/api/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound || body["code"] != "SYSTEM_NOT_FOUND" {
		t.Fatalf("expected 404, got %d %v", resp.StatusCode, body)
	}
	resp, body = ts.do(t, http.MethodPut, "/api/auth/login", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed || body["code"] != "SYSTEM_METHOD_NOT_ALLOWED" {
		t.Fatalf("expected 405, got %d %v", resp.StatusCode, body)
	}
}

func TestMetricsNotServedOnPublicRouter(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	resp, body := ts.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for /metrics, got %d %v", resp.StatusCode, body)
	}
}

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ts := newTestServer(t, client, func(cfg *Config) {
		cfg.LoginRateLimitPerMinute = 1
	})

	body := map[string]string{"email": "nobody@example.com", "password": testPassword}
	resp, _ := ts.do(t, http.MethodPost, "/api/auth/login", "", body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first request expected 401, got %d", resp.StatusCode)
	}
	resp, out := ts.do(t, http.MethodPost, "/api/auth/login", "", body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" || out["code"] != "RATE_LIMITED" {
		t.Fatalf("unexpected rate limit response: %v %v", resp.Header, out)
	}
}

func TestRealtimeRequiresToken(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	token := ts.signUp(t, "alice")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/realtime"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(map[string]string{"type": "ping", "id": "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if frame["type"] != "pong" || frame["id"] != "p1" {
		t.Fatalf("unexpected frame: %v", frame)
	}
}

func TestLogoutClosesRealtimeSocket(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	token := ts.signUp(t, "alice")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/realtime?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]string{"type": "ping", "id": "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil || frame["type"] != "pong" {
		t.Fatalf("expected pong, got %v err=%v", frame, err)
	}

	resp, _ := ts.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", resp.StatusCode)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close after logout, got %v", err)
	}
}
