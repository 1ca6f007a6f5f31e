package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/authz"
)

type testServer struct {
	handler http.Handler
	svc     *auth.Service
	grants  *authz.MemoryStore
}

func newTestServer(t *testing.T, apiOpts ...Option) *testServer {
	t.Helper()

	issuer, err := auth.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), "gatehouse", 30*time.Minute,
		auth.WithRevocationList(auth.NewMemoryRevocationList()))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	grants := authz.NewMemoryStore()
	grants.AddScope("org1", "")
	grants.AddScope("res-reports", "org1")
	resolver, err := authz.NewResolver(grants)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	svc, err := auth.NewService(
		auth.NewMemoryPrincipalStore(),
		auth.NewMemoryRefreshTokenStore(),
		auth.NewHasher(bcrypt.MinCost, 4),
		issuer,
		auth.WithAuthorizer(resolver),
		auth.WithLockoutPolicy(auth.LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	opts := append([]Option{WithRateLimit(1000, 1000)}, apiOpts...)
	api := New(ReadyProbe{}, svc, "test", opts...)
	return &testServer{handler: api.Handler(), svc: svc, grants: grants}
}

func (ts *testServer) provision(t *testing.T, email, password string) string {
	t.Helper()
	id, err := ts.svc.Provision(context.Background(), email, password, "org1")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	return id
}

func (ts *testServer) post(t *testing.T, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) login(t *testing.T, email, password string) sessionResponse {
	t.Helper()
	rec := ts.post(t, "/v1/auth/login", "", loginRequest{Email: email, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var session sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestLoginEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.provision(t, "alice@example.com", "s3cret-pass")

	session := ts.login(t, "alice@example.com", "s3cret-pass")
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if session.TokenType != "bearer" {
		t.Fatalf("token_type = %q", session.TokenType)
	}
	if _, err := time.Parse(time.RFC3339, session.ExpiresAt); err != nil {
		t.Fatalf("expires_at not RFC3339: %v", err)
	}
}

func TestLoginFailuresShareOneBody(t *testing.T) {
	ts := newTestServer(t)
	ts.provision(t, "alice@example.com", "s3cret-pass")

	wrongPassword := ts.post(t, "/v1/auth/login", "", loginRequest{Email: "alice@example.com", Password: "nope"})
	unknownEmail := ts.post(t, "/v1/auth/login", "", loginRequest{Email: "ghost@example.com", Password: "nope"})

	for _, rec := range []*httptest.ResponseRecorder{wrongPassword, unknownEmail} {
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status %d", rec.Code)
		}
		if msg := decodeError(t, rec); msg != authFailedMsg {
			t.Fatalf("body %q", msg)
		}
	}
	if a, b := wrongPassword.Body.String(), unknownEmail.Body.String(); a != b {
		t.Fatalf("bodies differ: %q vs %q", a, b)
	}
}

func TestLoginLockoutSurfacesOnlyRetryAfter(t *testing.T) {
	ts := newTestServer(t)
	ts.provision(t, "alice@example.com", "s3cret-pass")

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = ts.post(t, "/v1/auth/login", "", loginRequest{Email: "alice@example.com", Password: "nope"})
	}
	if last.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", last.Code)
	}
	if last.Header().Get("Retry-After") != "900" {
		t.Fatalf("Retry-After = %q", last.Header().Get("Retry-After"))
	}

	// With the right password and while locked the body is still the shared
	// one; the header is the only hint.
	rec := ts.post(t, "/v1/auth/login", "", loginRequest{Email: "alice@example.com", Password: "s3cret-pass"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After on a locked account")
	}
	if msg := decodeError(t, rec); msg != authFailedMsg {
		t.Fatalf("body %q", msg)
	}
}

func TestLoginRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status %d", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow = %q", rec.Header().Get("Allow"))
	}

	empty := ts.post(t, "/v1/auth/login", "", nil)
	if empty.Code != http.StatusBadRequest {
		t.Fatalf("empty body status %d", empty.Code)
	}

	unknown := ts.post(t, "/v1/auth/login", "", map[string]any{"email": "a@b.c", "password": "x", "extra": true})
	if unknown.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status %d", unknown.Code)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.provision(t, "alice@example.com", "s3cret-pass")
	first := ts.login(t, "alice@example.com", "s3cret-pass")

	rec := ts.post(t, "/v1/auth/refresh", "", refreshRequest{RefreshToken: first.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status %d body %s", rec.Code, rec.Body.String())
	}
	var second sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected a rotated refresh token")
	}

	replay := ts.post(t, "/v1/auth/refresh", "", refreshRequest{RefreshToken: first.RefreshToken})
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replay status %d", replay.Code)
	}
	if msg := decodeError(t, replay); msg != "invalid token" {
		t.Fatalf("replay body %q", msg)
	}
}

func TestProtectedPathsRequireBearerToken(t *testing.T) {
	ts := newTestServer(t)

	missing := ts.post(t, "/v1/authz/check", "", checkRequest{Action: "resource:read", Resource: "res-reports"})
	if missing.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status %d", missing.Code)
	}

	garbage := ts.post(t, "/v1/authz/check", "not-a-jwt", checkRequest{Action: "resource:read", Resource: "res-reports"})
	if garbage.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status %d", garbage.Code)
	}
	if msg := decodeError(t, garbage); msg != "invalid token" {
		t.Fatalf("garbage token body %q", msg)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/authz/check", bytes.NewBufferString("{}"))
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("basic scheme status %d", rec.Code)
	}
}

func TestAuthzCheckEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.provision(t, "alice@example.com", "s3cret-pass")
	ts.grants.AddGrant(authz.Grant{
		ID: "g1", SubjectID: id, SubjectType: authz.SubjectPrincipal,
		Scope: "org1", Action: "resource:read", Effect: authz.EffectAllow,
	})
	session := ts.login(t, "alice@example.com", "s3cret-pass")

	allow := ts.post(t, "/v1/authz/check", session.AccessToken,
		checkRequest{Action: "resource:read", Resource: "res-reports"})
	if allow.Code != http.StatusOK {
		t.Fatalf("allow status %d body %s", allow.Code, allow.Body.String())
	}
	var decision map[string]string
	if err := json.Unmarshal(allow.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision["decision"] != "allow" {
		t.Fatalf("decision %q", decision["decision"])
	}

	deny := ts.post(t, "/v1/authz/check", session.AccessToken,
		checkRequest{Action: "resource:write", Resource: "res-reports"})
	if deny.Code != http.StatusForbidden {
		t.Fatalf("deny status %d", deny.Code)
	}

	bad := ts.post(t, "/v1/authz/check", session.AccessToken, checkRequest{Action: "", Resource: ""})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("blank check status %d", bad.Code)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.provision(t, "alice@example.com", "s3cret-pass")
	session := ts.login(t, "alice@example.com", "s3cret-pass")

	rec := ts.post(t, "/v1/auth/logout", session.AccessToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout status %d body %s", rec.Code, rec.Body.String())
	}

	after := ts.post(t, "/v1/authz/check", session.AccessToken,
		checkRequest{Action: "resource:read", Resource: "res-reports"})
	if after.Code != http.StatusUnauthorized {
		t.Fatalf("post-logout status %d", after.Code)
	}

	replay := ts.post(t, "/v1/auth/refresh", "", refreshRequest{RefreshToken: session.RefreshToken})
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("post-logout refresh status %d", replay.Code)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, WithRateLimit(2, 1))

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "203.0.113.7:4711"
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the burst, got %d", last)
	}

	// A different client keeps its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.8:4711"
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected fresh bucket for new client, got %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	// Unknown paths sit behind the auth gate like everything else.
	req := httptest.NewRequest(http.MethodGet, "/v1/definitely/not/here", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}

	root := httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, root)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("root status %d", rec.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); err == nil {
		t.Fatal("empty header must fail")
	}
	if _, err := extractBearerToken("Basic dXNlcjpwYXNz"); err == nil {
		t.Fatal("non-bearer scheme must fail")
	}
	if _, err := extractBearerToken("Bearer "); err == nil {
		t.Fatal("blank token must fail")
	}
	tok, err := extractBearerToken("bearer abc.def.ghi")
	if err != nil {
		t.Fatalf("lowercase scheme: %v", err)
	}
	if tok != "abc.def.ghi" {
		t.Fatalf("token %q", tok)
	}
}
