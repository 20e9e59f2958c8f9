package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"nasmusic.dev/internal/audit"
	"nasmusic.dev/internal/auth"
	"nasmusic.dev/internal/download"
	"nasmusic.dev/internal/history"
)

// stubExecutor drops a fake mp3 into workDir, or reports the configured failure.
type stubExecutor struct {
	fail  string
	title string
}

func (s *stubExecutor) Attempt(_ context.Context, _ string, workDir string) (download.Result, error) {
	if s.fail != "" {
		return download.Result{Error: s.fail}, nil
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return download.Result{}, err
	}
	p := filepath.Join(workDir, "raw.mp3")
	if err := os.WriteFile(p, []byte("ID3"), 0o644); err != nil {
		return download.Result{}, err
	}
	return download.Result{Success: true, FilePath: p, Title: s.title, Artist: "Artist", DurationSeconds: 61}, nil
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	users   *auth.MemoryStore
	ledger  *history.MemoryStore
	audit   *audit.MemoryStore
	exec    *stubExecutor
	library string
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	users := auth.NewMemoryStore()
	ledger := history.NewMemoryStore()
	auditStore := audit.NewMemoryStore()
	auditLog := audit.NewLogger(auditStore)

	tokens, err := auth.NewTokens("test-secret", "HS256", "nasmusic", 30*time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	authSvc, err := auth.NewService(users, tokens, auditLog)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}

	exec := &stubExecutor{title: "Track"}
	library := t.TempDir()
	downloads := download.NewService(ledger, exec, auditLog, library)
	if err := downloads.PrepareOutputDir(); err != nil {
		t.Fatalf("PrepareOutputDir: %v", err)
	}

	api := New(ReadyProbe{}, authSvc, downloads, auditLog, Options{
		Version:       "test",
		CORSOrigins:   []string{"http://localhost:3000"},
		RateBurst:     100,
		RatePerSecond: 100,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		users:   users,
		ledger:  ledger,
		audit:   auditStore,
		exec:    exec,
		library: library,
	}
}

func (c *apiClient) do(method, path string, body []byte, contentType, token string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) send(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	return c.do(method, path, payload, "application/json", token)
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, "", token)
}

func (c *apiClient) register(username, password string) *http.Response {
	c.t.Helper()
	return c.send(http.MethodPost, "/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	}, "")
}

func (c *apiClient) login(username, password string) *http.Response {
	c.t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	return c.do(http.MethodPost, "/auth/login", []byte(form.Encode()), "application/x-www-form-urlencoded", "")
}

// signUp registers and logs in, returning the bearer token.
func (c *apiClient) signUp(username string) string {
	c.t.Helper()
	resp := c.register(username, "s3cret-pass")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
	resp.Body.Close()
	resp = c.login(username, "s3cret-pass")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	tok := decode[tokenResponse](c.t, resp)
	if tok.AccessToken == "" || tok.TokenType != "bearer" {
		c.t.Fatalf("unexpected token response: %+v", tok)
	}
	return tok.AccessToken
}

func (c *apiClient) promote(username string) {
	c.t.Helper()
	ctx := context.Background()
	u, err := c.users.Users(ctx).FindByUsername(ctx, username)
	if err != nil {
		c.t.Fatalf("find %s: %v", username, err)
	}
	yes := true
	if _, err := c.users.Users(ctx).SetFlags(ctx, u.ID, auth.Flags{IsAdmin: &yes}, time.Now()); err != nil {
		c.t.Fatalf("promote %s: %v", username, err)
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type errorBody struct {
	Detail    string `json:"detail"`
	RequestID string `json:"request_id"`
}

func TestMonitorEndpoints(t *testing.T) {
	c := newTestAPI(t)

	root := decode[map[string]any](t, c.get("/", nil, ""))
	if root["status"] != "running" || root["version"] != "test" {
		t.Fatalf("unexpected root: %v", root)
	}
	health := decode[map[string]any](t, c.get("/health", nil, ""))
	if health["status"] != "healthy" {
		t.Fatalf("unexpected health: %v", health)
	}
	ready := c.get("/readiness", nil, "")
	if ready.StatusCode != http.StatusOK {
		t.Fatalf("readiness status %d", ready.StatusCode)
	}
	body := decode[map[string]string](t, ready)
	if _, err := time.Parse(time.RFC3339Nano, body["utc_dt"]); err != nil {
		t.Fatalf("utc_dt not RFC3339: %q", body["utc_dt"])
	}
	live := decode[map[string]string](t, c.get("/liveness", nil, ""))
	if live["status"] != "Success" {
		t.Fatalf("unexpected liveness: %v", live)
	}

	metrics := c.get("/metrics", nil, "")
	metrics.Body.Close()
	if metrics.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", metrics.StatusCode)
	}

	missing := c.get("/nope", nil, "")
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
	if eb := decode[errorBody](t, missing); eb.Detail != "Not Found" || eb.RequestID == "" {
		t.Fatalf("unexpected 404 body: %+v", eb)
	}
}

type failingProbe struct{}

func (failingProbe) Check(context.Context) error { return errors.New("db down") }

func TestReadinessReportsProbeFailure(t *testing.T) {
	api := New(failingProbe{}, nil, nil, nil, Options{})
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "db down") {
		t.Fatalf("expected probe error in body: %s", rr.Body.String())
	}
}

func TestRegisterLoginMe(t *testing.T) {
	c := newTestAPI(t)
	token := c.signUp("alice")

	resp := c.get("/auth/me", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status %d", resp.StatusCode)
	}
	me := decode[map[string]any](t, resp)
	if me["username"] != "alice" || me["is_active"] != true || me["is_admin"] != false {
		t.Fatalf("unexpected me: %v", me)
	}
	if _, leaked := me["password_hash"]; leaked {
		t.Fatal("password hash must not be serialised")
	}

	got := c.audit.Actions()
	want := []string{audit.ActionRegisterSuccess, audit.ActionLoginSuccess}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("audit actions %v, want %v", got, want)
	}
}

func TestRegisterDuplicateCreatesNoSecondUser(t *testing.T) {
	c := newTestAPI(t)
	c.signUp("alice")

	resp := c.register("alice", "other-pass")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if eb := decode[errorBody](t, resp); eb.Detail != "Username or email already registered" {
		t.Fatalf("unexpected detail %q", eb.Detail)
	}
	if n := c.users.UserCount(); n != 1 {
		t.Fatalf("expected 1 user, got %d", n)
	}
	entries := c.audit.Entries()
	last := entries[len(entries)-1]
	if last.Action != audit.ActionRegisterFailed || last.Status != audit.StatusFailed {
		t.Fatalf("unexpected last audit entry: %+v", last)
	}
}

func TestRegisterRejectsBadBody(t *testing.T) {
	c := newTestAPI(t)

	resp := c.send(http.MethodPost, "/auth/register", map[string]string{"username": "bob", "email": "nope", "password": "x"}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad email, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.send(http.MethodPost, "/auth/register", map[string]any{"username": "bob", "role": "admin"}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLoginFailures(t *testing.T) {
	c := newTestAPI(t)
	c.signUp("alice")

	resp := c.login("alice", "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("missing WWW-Authenticate header")
	}
	if eb := decode[errorBody](t, resp); eb.Detail != "Incorrect username or password" {
		t.Fatalf("unexpected detail %q", eb.Detail)
	}

	ctx := context.Background()
	u, _ := c.users.Users(ctx).FindByUsername(ctx, "alice")
	no := false
	if _, err := c.users.Users(ctx).SetFlags(ctx, u.ID, auth.Flags{IsActive: &no}, time.Now()); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	resp = c.login("alice", "s3cret-pass")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for inactive user, got %d", resp.StatusCode)
	}
	if eb := decode[errorBody](t, resp); eb.Detail != "Inactive user" {
		t.Fatalf("unexpected detail %q", eb.Detail)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	c := newTestAPI(t)
	token := c.signUp("alice")

	resp := c.send(http.MethodPost, "/auth/logout", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status %d", resp.StatusCode)
	}
	if body := decode[map[string]string](t, resp); body["message"] != "Successfully logged out" {
		t.Fatalf("unexpected logout body: %v", body)
	}

	resp = c.get("/auth/me", nil, token)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
	if eb := decode[errorBody](t, resp); eb.Detail != "Token has been revoked" {
		t.Fatalf("unexpected detail %q", eb.Detail)
	}

	resp = c.send(http.MethodPost, "/auth/logout", nil, token)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected second logout to be rejected, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDownloadSuccess(t *testing.T) {
	c := newTestAPI(t)
	token := c.signUp("alice")

	resp := c.send(http.MethodPost, "/api/download", map[string]string{"url": "https://example.com/watch?v=1"}, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	rec := decode[history.Record](t, resp)
	if rec.Status != history.StatusCompleted {
		t.Fatalf("unexpected status %s", rec.Status)
	}
	if rec.FilePath == nil || *rec.FilePath != filepath.Join(c.library, "Track.mp3") {
		t.Fatalf("unexpected file path %v", rec.FilePath)
	}
	if _, err := os.Stat(*rec.FilePath); err != nil {
		t.Fatalf("filed audio missing: %v", err)
	}

	resp = c.get("/api/downloads/"+itoa(rec.ID), nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", resp.StatusCode)
	}
	if got := decode[history.Record](t, resp); got.ID != rec.ID {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestDownloadFailureIsRecorded(t *testing.T) {
	c := newTestAPI(t)
	token := c.signUp("alice")
	c.exec.fail = "network timeout"

	resp := c.send(http.MethodPost, "/api/download", map[string]string{"url": "https://example.com/slow"}, token)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	body := decode[downloadFailure](t, resp)
	if body.Detail != "network timeout" {
		t.Fatalf("unexpected detail %q", body.Detail)
	}
	if body.Download == nil || body.Download.Status != history.StatusFailed {
		t.Fatalf("expected failed record in body: %+v", body.Download)
	}
	if body.Download.ErrorMessage == nil || *body.Download.ErrorMessage != "network timeout" {
		t.Fatalf("unexpected error message %v", body.Download.ErrorMessage)
	}

	trail := c.ledger.Trail(body.Download.ID)
	want := []history.Status{history.StatusPending, history.StatusDownloading, history.StatusFailed}
	if len(trail) != len(want) {
		t.Fatalf("trail %v, want %v", trail, want)
	}
	for i := range want {
		if trail[i] != want[i] {
			t.Fatalf("trail %v, want %v", trail, want)
		}
	}

	actions := c.audit.Actions()
	if actions[len(actions)-1] != audit.ActionDownloadFailed {
		t.Fatalf("expected download_failed last, got %v", actions)
	}
}

func TestDownloadRequiresURLAndAuth(t *testing.T) {
	c := newTestAPI(t)

	resp := c.send(http.MethodPost, "/api/download", map[string]string{"url": "https://example.com"}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if eb := decode[errorBody](t, resp); eb.Detail != "Not authenticated" {
		t.Fatalf("unexpected detail %q", eb.Detail)
	}

	token := c.signUp("alice")
	resp = c.send(http.MethodPost, "/api/download", map[string]string{"url": "   "}, token)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank url, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if c.ledger.Len() != 0 {
		t.Fatalf("blank url must not create a record")
	}
}

func TestListDownloadsPaginatesNewestFirst(t *testing.T) {
	c := newTestAPI(t)
	token := c.signUp("alice")
	other := c.signUp("bob")

	for i := 0; i < 12; i++ {
		resp := c.send(http.MethodPost, "/api/download", map[string]string{"url": "https://example.com/" + itoa(int64(i))}, token)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("download %d: status %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := c.get("/api/downloads", url.Values{"page": {"2"}, "per_page": {"5"}}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", resp.StatusCode)
	}
	list := decode[downloadList](t, resp)
	if list.Total != 12 || list.Page != 2 || list.PerPage != 5 {
		t.Fatalf("unexpected envelope: %+v", list)
	}
	if len(list.Downloads) != 5 {
		t.Fatalf("expected 5 records, got %d", len(list.Downloads))
	}
	for i, rec := range list.Downloads {
		if want := int64(7 - i); rec.ID != want {
			t.Fatalf("position %d: id %d, want %d", i, rec.ID, want)
		}
	}

	resp = c.get("/api/downloads", nil, other)
	empty := decode[map[string]any](t, resp)
	if downloads, ok := empty["downloads"].([]any); !ok || len(downloads) != 0 {
		t.Fatalf("expected empty downloads array, got %v", empty["downloads"])
	}

	resp = c.get("/api/downloads/1", nil, other)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's record, got %d", resp.StatusCode)
	}
	if eb := decode[errorBody](t, resp); eb.Detail != "Download not found" {
		t.Fatalf("unexpected detail %q", eb.Detail)
	}

	resp = c.get("/api/downloads/abc", nil, token)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminRoutes(t *testing.T) {
	c := newTestAPI(t)
	userToken := c.signUp("alice")
	c.signUp("root")
	c.promote("root")
	adminToken := c.signUp("root2")
	c.promote("root2")

	resp := c.get("/admin/users", nil, userToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", resp.StatusCode)
	}
	if eb := decode[errorBody](t, resp); eb.Detail != "Not enough permissions" {
		t.Fatalf("unexpected detail %q", eb.Detail)
	}

	users := decode[userList](t, c.get("/admin/users", url.Values{"per_page": {"2"}}, adminToken))
	if users.Total != 3 || len(users.Users) != 2 {
		t.Fatalf("unexpected users page: %+v", users)
	}

	no := false
	resp = c.send(http.MethodPatch, "/admin/users/1", auth.Flags{IsActive: &no}, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d", resp.StatusCode)
	}
	if u := decode[auth.User](t, resp); u.IsActive {
		t.Fatalf("expected user deactivated: %+v", u)
	}

	resp = c.get("/auth/me", nil, userToken)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for deactivated user, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.send(http.MethodPatch, "/admin/users/99", auth.Flags{IsActive: &no}, adminToken)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.send(http.MethodPatch, "/admin/users/1", map[string]any{}, adminToken)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty patch, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	entries := decode[auditList](t, c.get("/admin/audit", url.Values{"per_page": {"100"}}, adminToken))
	if entries.Total == 0 || len(entries.Entries) != entries.Total {
		t.Fatalf("unexpected audit page: total=%d len=%d", entries.Total, len(entries.Entries))
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
