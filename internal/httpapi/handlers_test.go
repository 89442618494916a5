package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"classdesk.org/internal/auth"
)

type testNotifier struct {
	mu        sync.Mutex
	passwords map[string]string
	kinds     []string
}

func (n *testNotifier) record(kind, email, password string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.passwords == nil {
		n.passwords = make(map[string]string)
	}
	if password != "" {
		n.passwords[email] = password
	}
	n.kinds = append(n.kinds, kind)
	return nil
}

func (n *testNotifier) Welcome(_ context.Context, email, pw string) error {
	return n.record("welcome", email, pw)
}

func (n *testNotifier) PasswordChanged(_ context.Context, email string) error {
	return n.record("changed", email, "")
}

func (n *testNotifier) PasswordReset(_ context.Context, email, pw string) error {
	return n.record("reset", email, pw)
}

func (n *testNotifier) password(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.passwords[email]
}

type failingProbe struct{}

func (failingProbe) Check(context.Context) error { return errors.New("db down") }

type testEnv struct {
	*apiClient
	store    *auth.MemoryStore
	pw       *auth.PasswordManager
	tokens   *auth.TokenService
	notifier *testNotifier
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

type envConfig struct {
	denylist bool
	probe    readinessChecker
	opts     []Option
}

func newTestAPI(t *testing.T, cfg envConfig) *testEnv {
	t.Helper()

	store := auth.NewMemoryStore()
	store.AddRole(1, "admin")
	store.AddRole(2, "trainer")

	pw, err := auth.NewPasswordManager(auth.WithBcryptCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("password manager: %v", err)
	}
	var tokenOpts []auth.TokenOption
	if cfg.denylist {
		tokenOpts = append(tokenOpts, auth.WithDenylist(auth.NewMemoryDenylist()))
	}
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: []byte("test-secret"),
		TTL:    30 * time.Minute,
		Issuer: "classdesk",
	}, tokenOpts...)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	notifier := &testNotifier{}
	svc, err := auth.NewService(store, pw, tokens, auth.WithNotifier(notifier))
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	opts := append([]Option{WithLoginRateLimit(100, 100)}, cfg.opts...)
	api := New(svc, cfg.probe, "test", opts...)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		apiClient: &apiClient{baseURL: srv.URL, client: srv.Client(), t: t},
		store:     store,
		pw:        pw,
		tokens:    tokens,
		notifier:  notifier,
	}
}

func (e *testEnv) seed(email, password string, active bool) *auth.User {
	e.t.Helper()
	digest, err := e.pw.Hash(password)
	if err != nil {
		e.t.Fatalf("hash: %v", err)
	}
	u, err := e.store.Insert(context.Background(), auth.NewUser{
		OrganizationID: 7,
		RoleID:         1,
		Email:          email,
		Active:         active,
	}, digest)
	if err != nil {
		e.t.Fatalf("insert: %v", err)
	}
	return u
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) login(email, password string) loginResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.t.Fatalf("unexpected login status: %d %s", resp.StatusCode, body)
	}
	payload := decode[loginResponse](c.t, resp)
	if payload.AccessToken == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
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

func expectStatus(t *testing.T, resp *http.Response, want int) map[string]any {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil
	}
	return decode[map[string]any](t, resp)
}

func TestPublicEndpointsNeedNoToken(t *testing.T) {
	env := newTestAPI(t, envConfig{})

	for _, path := range []string{"/healthz", "/health", "/readyz"} {
		body := expectStatus(t, env.get(path, nil), http.StatusOK)
		if body["status"] == nil {
			t.Fatalf("%s: missing status field", path)
		}
	}

	resp := env.get("/openapi.yaml", nil)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "openapi:") {
		t.Fatalf("unexpected openapi response: %d", resp.StatusCode)
	}

	resp = env.get("/docs", nil)
	raw, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "/openapi.yaml") {
		t.Fatalf("unexpected docs response: %d", resp.StatusCode)
	}
}

func TestReadyzNotReady(t *testing.T) {
	env := newTestAPI(t, envConfig{probe: failingProbe{}})
	body := expectStatus(t, env.get("/readyz", nil), http.StatusServiceUnavailable)
	if body["status"] != "not_ready" {
		t.Fatalf("unexpected body: %v", body)
	}
	if strings.Contains(body["error"].(string), "db down") {
		t.Fatalf("probe error leaked to client: %v", body)
	}
}

func TestProtectedEndpointRejections(t *testing.T) {
	env := newTestAPI(t, envConfig{})
	u := env.seed("ops@example.com", "Secret-123", true)

	expired, _, err := env.tokens.IssueWithTTL(auth.Identity{UserID: u.ID, Email: u.Email}, -time.Minute)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}

	cases := []struct {
		name    string
		headers map[string]string
		reason  string
	}{
		{"missing", nil, "Missing authorization header"},
		{"basic", map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}, "Invalid authentication scheme"},
		{"garbage", bearerHeader("not-a-jwt"), "Invalid token"},
		{"empty bearer", map[string]string{"Authorization": "Bearer"}, "Invalid token"},
		{"expired", bearerHeader(expired), "Token has expired"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.get("/v1/info", tc.headers)
			if got := resp.Header.Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
				t.Fatalf("expected WWW-Authenticate challenge, got %q", got)
			}
			body := expectStatus(t, resp, http.StatusUnauthorized)
			if body["error"] != tc.reason {
				t.Fatalf("unexpected reason: %v", body["error"])
			}
			if body["request_id"] == "" || body["request_id"] == nil {
				t.Fatalf("expected request_id in body")
			}
		})
	}
}

func TestLoginAndMe(t *testing.T) {
	env := newTestAPI(t, envConfig{})
	u := env.seed("owner@example.com", "Secret-123", true)

	res := env.login("owner@example.com", "Secret-123")
	if res.TokenType != "bearer" || res.UserID != u.ID || res.Email != u.Email {
		t.Fatalf("unexpected login response: %+v", res)
	}
	if res.ExpiresInSeconds != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expires_in_seconds: %d", res.ExpiresInSeconds)
	}

	me := expectStatus(t, env.get("/v1/me", bearerHeader(res.AccessToken)), http.StatusOK)
	if me["email"] != u.Email || me["role_name"] != "admin" || me["organization_id"] != float64(7) {
		t.Fatalf("unexpected identity: %v", me)
	}

	stored, err := env.store.FindByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.LastLoginAt == nil {
		t.Fatalf("expected last login to be recorded")
	}
}

func TestLoginFailures(t *testing.T) {
	env := newTestAPI(t, envConfig{})
	env.seed("active@example.com", "Secret-123", true)
	env.seed("inactive@example.com", "Secret-123", false)

	body := expectStatus(t, env.post("/v1/auth/login", map[string]any{
		"email": "active@example.com", "password": "wrong-pass",
	}, nil), http.StatusUnauthorized)
	if body["error"] != "Invalid email or password" {
		t.Fatalf("unexpected error: %v", body)
	}

	unknown := expectStatus(t, env.post("/v1/auth/login", map[string]any{
		"email": "nobody@example.com", "password": "wrong-pass",
	}, nil), http.StatusUnauthorized)
	if unknown["error"] != body["error"] {
		t.Fatalf("unknown email must look like a wrong password: %v", unknown)
	}

	body = expectStatus(t, env.post("/v1/auth/login", map[string]any{
		"email": "inactive@example.com", "password": "Secret-123",
	}, nil), http.StatusForbidden)
	if body["error"] != "Account is inactive" {
		t.Fatalf("unexpected error: %v", body)
	}

	expectStatus(t, env.post("/v1/auth/login", map[string]any{"email": "active@example.com"}, nil), http.StatusBadRequest)
	expectStatus(t, env.post("/v1/auth/login", map[string]any{
		"email": "active@example.com", "password": "x", "extra": true,
	}, nil), http.StatusBadRequest)

	resp := env.get("/v1/auth/login", nil)
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow header, got %q", resp.Header.Get("Allow"))
	}
	expectStatus(t, resp, http.StatusMethodNotAllowed)
}

func TestChangePassword(t *testing.T) {
	env := newTestAPI(t, envConfig{})
	env.seed("trainer@example.com", "Secret-123", true)
	token := env.login("trainer@example.com", "Secret-123").AccessToken
	headers := bearerHeader(token)

	path := "/v1/users/change-password/trainer@example.com"

	body := expectStatus(t, env.do(http.MethodPut, path, map[string]any{
		"old_password": "nope-nope", "new_password": "Another-456",
	}, headers), http.StatusUnauthorized)
	if body["error"] != "Old password is incorrect" {
		t.Fatalf("unexpected error: %v", body)
	}

	expectStatus(t, env.do(http.MethodPut, path, map[string]any{
		"old_password": "Secret-123", "new_password": "short",
	}, headers), http.StatusBadRequest)

	expectStatus(t, env.do(http.MethodPut, "/v1/users/change-password/ghost@example.com", map[string]any{
		"old_password": "Secret-123", "new_password": "Another-456",
	}, headers), http.StatusNotFound)

	expectStatus(t, env.do(http.MethodPut, path, map[string]any{
		"old_password": "Secret-123", "new_password": "Another-456",
	}, nil), http.StatusUnauthorized)

	body = expectStatus(t, env.do(http.MethodPut, path, map[string]any{
		"old_password": "Secret-123", "new_password": "Another-456",
	}, headers), http.StatusOK)
	if body["email"] != "trainer@example.com" || body["message"] != "Password changed successfully" {
		t.Fatalf("unexpected body: %v", body)
	}

	expectStatus(t, env.post("/v1/auth/login", map[string]any{
		"email": "trainer@example.com", "password": "Secret-123",
	}, nil), http.StatusUnauthorized)
	env.login("trainer@example.com", "Another-456")
}

func TestForgotPasswordKeepsTemporaryPasswordOutOfResponse(t *testing.T) {
	env := newTestAPI(t, envConfig{})
	env.seed("admin@example.com", "Secret-123", true)
	env.seed("student@example.com", "Student-123", true)
	token := env.login("admin@example.com", "Secret-123").AccessToken

	resp := env.post("/v1/users/forgot-password", map[string]any{"email": "student@example.com"}, bearerHeader(token))
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, raw)
	}
	temp := env.notifier.password("student@example.com")
	if len(temp) != auth.DefaultPasswordLength {
		t.Fatalf("expected generated password to reach the notifier, got %q", temp)
	}
	if strings.Contains(string(raw), temp) {
		t.Fatalf("temporary password leaked in response")
	}

	env.login("student@example.com", temp)
	expectStatus(t, env.post("/v1/auth/login", map[string]any{
		"email": "student@example.com", "password": "Student-123",
	}, nil), http.StatusUnauthorized)

	body := expectStatus(t, env.post("/v1/users/forgot-password", map[string]any{"email": "ghost@example.com"}, bearerHeader(token)), http.StatusNotFound)
	if body["error"] != "User with this email address not found" {
		t.Fatalf("unexpected error: %v", body)
	}

	expectStatus(t, env.post("/v1/users/forgot-password", map[string]any{"email": "student@example.com"}, nil), http.StatusUnauthorized)
}

func TestCreateUser(t *testing.T) {
	env := newTestAPI(t, envConfig{})
	env.seed("admin@example.com", "Secret-123", true)
	headers := bearerHeader(env.login("admin@example.com", "Secret-123").AccessToken)

	resp := env.post("/v1/users", map[string]any{
		"organization_id": 7,
		"role_id":         2,
		"email":           "new.trainer@example.com",
		"phone":           "+15550100",
	}, headers)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, raw)
	}
	var created createUserResponse
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.UserID == 0 || created.Email != "new.trainer@example.com" {
		t.Fatalf("unexpected body: %+v", created)
	}
	temp := env.notifier.password("new.trainer@example.com")
	if temp == "" || strings.Contains(string(raw), temp) {
		t.Fatalf("welcome password must be mailed and not returned")
	}

	res := env.login("new.trainer@example.com", temp)
	if res.UserID != created.UserID {
		t.Fatalf("unexpected user id %d", res.UserID)
	}

	expectStatus(t, env.post("/v1/users", map[string]any{
		"organization_id": 7, "role_id": 2, "email": "new.trainer@example.com",
	}, headers), http.StatusConflict)

	expectStatus(t, env.post("/v1/users", map[string]any{
		"organization_id": 7, "role_id": 2, "email": "not-an-email",
	}, headers), http.StatusBadRequest)

	expectStatus(t, env.post("/v1/users", map[string]any{
		"organization_id": 0, "role_id": 2, "email": "other@example.com",
	}, headers), http.StatusBadRequest)

	expectStatus(t, env.post("/v1/users", map[string]any{
		"organization_id": 7, "role_id": 2, "email": "anon@example.com",
	}, nil), http.StatusUnauthorized)
}

func TestLogout(t *testing.T) {
	env := newTestAPI(t, envConfig{denylist: true})
	env.seed("owner@example.com", "Secret-123", true)
	headers := bearerHeader(env.login("owner@example.com", "Secret-123").AccessToken)

	expectStatus(t, env.get("/v1/me", headers), http.StatusOK)
	expectStatus(t, env.post("/v1/auth/logout", nil, headers), http.StatusOK)

	body := expectStatus(t, env.get("/v1/me", headers), http.StatusUnauthorized)
	if body["error"] != "Invalid token" {
		t.Fatalf("unexpected error: %v", body)
	}

	fresh := bearerHeader(env.login("owner@example.com", "Secret-123").AccessToken)
	expectStatus(t, env.get("/v1/me", fresh), http.StatusOK)
}

func TestLogoutWithoutDenylist(t *testing.T) {
	env := newTestAPI(t, envConfig{})
	env.seed("owner@example.com", "Secret-123", true)
	headers := bearerHeader(env.login("owner@example.com", "Secret-123").AccessToken)

	expectStatus(t, env.post("/v1/auth/logout", nil, headers), http.StatusNotImplemented)
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestAPI(t, envConfig{opts: []Option{WithLoginRateLimit(0.01, 2)}})
	env.seed("owner@example.com", "Secret-123", true)

	env.login("owner@example.com", "Secret-123")
	env.login("owner@example.com", "Secret-123")

	resp := env.post("/v1/auth/login", map[string]any{
		"email": "owner@example.com", "password": "Secret-123",
	}, nil)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	expectStatus(t, resp, http.StatusTooManyRequests)

	// the limit is scoped to login
	expectStatus(t, env.get("/healthz", nil), http.StatusOK)
}

func TestUnknownPath(t *testing.T) {
	env := newTestAPI(t, envConfig{})
	env.seed("owner@example.com", "Secret-123", true)
	headers := bearerHeader(env.login("owner@example.com", "Secret-123").AccessToken)

	expectStatus(t, env.get("/v1/nothing-here", nil), http.StatusUnauthorized)
	expectStatus(t, env.get("/v1/nothing-here", headers), http.StatusNotFound)
}

func TestRequestBodyLimit(t *testing.T) {
	env := newTestAPI(t, envConfig{opts: []Option{WithMaxBodyBytes(64)}})
	env.seed("owner@example.com", "Secret-123", true)

	env.login("owner@example.com", "Secret-123")

	resp := env.post("/v1/auth/login", map[string]any{
		"email":    "owner@example.com",
		"password": strings.Repeat("x", 200),
	}, nil)
	body := expectStatus(t, resp, http.StatusRequestEntityTooLarge)
	if body["error"] != "request body too large" {
		t.Fatalf("unexpected error body: %v", body)
	}
}
