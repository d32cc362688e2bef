package eventauth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	ea "github.com/panyam/eventauth"
	"github.com/panyam/eventauth/stores/fs"
)

const (
	alicePassword = "Str0ng!Pass"
	accessSecret  = "test-access-secret"
	refreshSecret = "test-refresh-secret"
)

// fastParams keeps argon2 at its floor so tests stay quick
var fastParams = ea.Argon2Params{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newHasher(t *testing.T) *ea.Hasher {
	t.Helper()
	hasher, err := ea.NewHasher("test-pepper", fastParams)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return hasher
}

// fakeVerifier accepts the raw tokens it was seeded with
type fakeVerifier map[string]*ea.ProviderClaims

func (f fakeVerifier) VerifyIDToken(ctx context.Context, rawToken string) (*ea.ProviderClaims, error) {
	claims, ok := f[rawToken]
	if !ok {
		return nil, ea.ErrInvalidProviderToken
	}
	return claims, nil
}

// fakeLimiter records keys and answers with a fixed decision
type fakeLimiter struct {
	mu      sync.Mutex
	allowed bool
	err     error
	keys    []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return f.allowed, f.err
}

type testEnv struct {
	Store    *fs.FSIdentityStore
	Auth     *ea.Authenticator
	Verifier fakeVerifier
	API      *ea.API
	Handler  http.Handler
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	store := fs.NewFSIdentityStore(t.TempDir())
	tokens := &ea.TokenIssuer{
		Store:         store,
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		Issuer:        "eventauth-test",
	}
	verifier := fakeVerifier{
		"google-token": {Subject: "g-sub-1", Email: "G@X.com", EmailVerified: true},
		"unverified":   {Subject: "g-sub-2", Email: "u@x.com", EmailVerified: false},
		"clash-token":  {Subject: "g-sub-3", Email: "a@x.com", EmailVerified: true},
	}
	auth := ea.NewAuthenticator(store, newHasher(t), tokens)
	auth.Verifier = verifier

	api := ea.NewAPI(auth, ea.NewCookieTransport(false))
	return &testEnv{
		Store:    store,
		Auth:     auth,
		Verifier: verifier,
		API:      api,
		Handler:  api.Router(),
	}
}

func aliceRequest() ea.RegisterRequest {
	return ea.RegisterRequest{
		Email:       "a@x.com",
		Username:    "alice",
		Password:    alicePassword,
		DateOfBirth: "2000-01-01",
	}
}

func (e *testEnv) registerAlice(t *testing.T) *ea.Session {
	t.Helper()
	session, err := e.Auth.Register(context.Background(), aliceRequest())
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	return session
}

// do sends a JSON request through the router and decodes the envelope
func (e *testEnv) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) (*httptest.ResponseRecorder, ea.Result) {
	t.Helper()
	var reader *bytes.Reader
	if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.Handler.ServeHTTP(rec, req)

	var result ea.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode envelope %q: %v", rec.Body.String(), err)
	}
	return rec, result
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func expectAuthError(t *testing.T, err error, status int, code string) *ea.AuthError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d %s, got nil error", status, code)
	}
	authErr := ea.AsAuthError(err)
	if authErr.StatusCode() != status || authErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s (%s)", status, code, authErr.StatusCode(), authErr.Code, authErr.Message)
	}
	return authErr
}
