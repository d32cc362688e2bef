package eventauth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	ea "github.com/panyam/eventauth"
)

func TestAliceJourney(t *testing.T) {
	env := setupEnv(t)

	rec, result := env.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email":    "a@x.com",
		"username": "alice",
		"password": alicePassword,
		"dob":      "2000-01-01",
	})
	if rec.Code != http.StatusCreated || !result.Success || result.Code != 201 || result.Status != "success" {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	if result.Data == nil || result.Data.Email != "a@x.com" || result.Error != nil {
		t.Fatalf("unexpected envelope %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"error":null`) {
		t.Errorf("success envelope should carry a null error: %s", rec.Body.String())
	}
	aliceID := result.Data.ID

	access := findCookie(rec, ea.DefaultAccessCookieName)
	refresh := findCookie(rec, ea.DefaultRefreshCookieName)
	if access == nil || refresh == nil {
		t.Fatalf("expected both session cookies, got %v", rec.Result().Cookies())
	}
	if !access.HttpOnly || !refresh.HttpOnly {
		t.Error("session cookies must be HttpOnly")
	}
	if access.Path != "/" || refresh.Path != "/auth/refresh" {
		t.Errorf("cookie paths: access %q refresh %q", access.Path, refresh.Path)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected no-store on auth responses")
	}

	rec, result = env.do(t, http.MethodPost, "/auth/login", map[string]string{"user": "alice", "password": alicePassword})
	if rec.Code != http.StatusOK || result.Data.ID != aliceID {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}

	rec, result = env.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email":    "other@x.com",
		"username": "alice",
		"password": alicePassword,
		"dob":      "2000-01-01",
	})
	if rec.Code != http.StatusConflict || result.Success || result.Status != "error" || result.Data != nil {
		t.Fatalf("duplicate username: %d %s", rec.Code, rec.Body.String())
	}
	if *result.Error != "Username already taken" {
		t.Errorf("message %q", *result.Error)
	}

	rec, result = env.do(t, http.MethodGet, "/auth/me", nil, access)
	if rec.Code != http.StatusOK || result.Data.ID != aliceID || result.Data.Email != "a@x.com" {
		t.Fatalf("me: %d %s", rec.Code, rec.Body.String())
	}
}

func TestChangePasswordOnFederatedIdentityOverHTTP(t *testing.T) {
	env := setupEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/auth/google/register", map[string]string{
		"token":    "google-token",
		"username": "gina",
		"dob":      "1990-05-05",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("google register: %d %s", rec.Code, rec.Body.String())
	}
	access := findCookie(rec, ea.DefaultAccessCookieName)

	rec, result := env.do(t, http.MethodPost, "/auth/change-password", map[string]string{
		"current_password": "anything",
		"new_password":     "N3w!Password",
	}, access)
	if rec.Code != http.StatusForbidden || result.Code != 403 {
		t.Fatalf("expected 403, got %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = env.do(t, http.MethodPost, "/auth/google/login", map[string]string{"token": "google-token"})
	if rec.Code != http.StatusOK {
		t.Errorf("google login: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRefreshAndLogoutOverHTTP(t *testing.T) {
	env := setupEnv(t)
	rec, _ := env.do(t, http.MethodPost, "/auth/register", aliceRequest())
	refresh := findCookie(rec, ea.DefaultRefreshCookieName)

	rec, result := env.do(t, http.MethodPost, "/auth/refresh", nil, refresh)
	if rec.Code != http.StatusOK || !result.Success {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body.String())
	}
	if findCookie(rec, ea.DefaultAccessCookieName) == nil {
		t.Error("refresh should set a new access cookie")
	}
	if findCookie(rec, ea.DefaultRefreshCookieName) != nil {
		t.Error("refresh must not rotate the refresh cookie")
	}

	// a refresh token sent anywhere but its cookie is ignored
	rec, result = env.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": refresh.Value})
	if rec.Code != http.StatusUnauthorized || *result.Error != "Invalid refresh token" {
		t.Errorf("expected 401 without cookie, got %d %s", rec.Code, rec.Body.String())
	}

	rec, result = env.do(t, http.MethodPost, "/auth/logout", nil, refresh)
	if rec.Code != http.StatusOK || !result.Success {
		t.Fatalf("logout: %d %s", rec.Code, rec.Body.String())
	}
	for _, name := range []string{ea.DefaultAccessCookieName, ea.DefaultRefreshCookieName} {
		if c := findCookie(rec, name); c == nil || c.MaxAge >= 0 {
			t.Errorf("expected %s to be cleared, got %v", name, c)
		}
	}

	rec, result = env.do(t, http.MethodPost, "/auth/refresh", nil, refresh)
	if rec.Code != http.StatusForbidden || *result.Error != "Invalid refresh token" {
		t.Errorf("refresh after logout: %d %s", rec.Code, rec.Body.String())
	}

	// logout without a session still succeeds
	rec, _ = env.do(t, http.MethodPost, "/auth/logout", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("anonymous logout: %d", rec.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	env := setupEnv(t)
	for _, path := range []string{"/auth/register", "/auth/login", "/auth/google/register", "/auth/google/login"} {
		rec, result := env.do(t, http.MethodPost, path, "{not json")
		if rec.Code != http.StatusBadRequest || result.Success || result.Status != "error" {
			t.Errorf("%s: %d %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := setupEnv(t)
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/auth/me"},
		{http.MethodPost, "/auth/change-password"},
	} {
		rec, result := env.do(t, route.method, route.path, nil)
		if rec.Code != http.StatusUnauthorized || *result.Error != "Authentication required" {
			t.Errorf("%s %s: %d %s", route.method, route.path, rec.Code, rec.Body.String())
		}
	}
}

func TestInternalErrorsHideTheirCause(t *testing.T) {
	env := setupEnv(t)
	env.Auth.Verifier = nil
	body := map[string]string{"token": "google-token"}

	rec, result := env.do(t, http.MethodPost, "/auth/google/login", body)
	if rec.Code != http.StatusInternalServerError || *result.Error != "Internal server error" {
		t.Fatalf("production: %d %s", rec.Code, rec.Body.String())
	}

	env.API.Development = true
	rec, result = env.do(t, http.MethodPost, "/auth/google/login", body)
	if rec.Code != http.StatusInternalServerError || *result.Error != "Internal server error: no ID token verifier" {
		t.Errorf("development: %d %s", rec.Code, rec.Body.String())
	}
}

func TestLoginRateLimitedOverHTTP(t *testing.T) {
	env := setupEnv(t)
	limiter := &fakeLimiter{allowed: false}
	env.Auth.Limiter = limiter

	req := map[string]string{"user": "alice", "password": alicePassword}
	rec, result := env.do(t, http.MethodPost, "/auth/login", req)
	if rec.Code != http.StatusTooManyRequests || result.Code != 429 {
		t.Errorf("expected 429, got %d %s", rec.Code, rec.Body.String())
	}
	if len(limiter.keys) != 1 || !strings.HasSuffix(limiter.keys[0], ":alice") {
		t.Errorf("limiter keys = %v", limiter.keys)
	}
}

func TestBrowserLogoutRevokesRefreshToken(t *testing.T) {
	env := setupEnv(t)
	server := httptest.NewServer(env.Handler)
	defer server.Close()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New: %v", err)
	}
	browser := &http.Client{Jar: jar}
	post := func(path string, body any) *http.Response {
		t.Helper()
		data, _ := json.Marshal(body)
		resp, err := browser.Post(server.URL+path, "application/json", bytes.NewReader(data))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		return resp
	}

	if resp := post("/auth/register", aliceRequest()); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d", resp.StatusCode)
	}
	ctx := context.Background()
	alice, _ := env.Store.GetIdentityByUsername(ctx, "alice")
	refreshToken := alice.RefreshToken
	if refreshToken == "" {
		t.Fatal("expected a stored refresh token after register")
	}

	// the jar only sends the access cookie to the logout path
	if resp := post("/auth/logout", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: %d", resp.StatusCode)
	}

	alice, _ = env.Store.GetIdentityByUsername(ctx, "alice")
	if alice.RefreshToken != "" {
		t.Error("logout should clear the stored refresh token")
	}
	_, err = env.Auth.Refresh(ctx, refreshToken)
	expectAuthError(t, err, http.StatusForbidden, ea.ErrCodeInvalidRefreshToken)
}

func TestLoginRateLimitKeyIgnoresForwardedHeaders(t *testing.T) {
	login := func(api *ea.API, limiter *fakeLimiter) string {
		t.Helper()
		api.Auth.Limiter = limiter
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"user":"alice","password":"wrong"}`))
		req.RemoteAddr = "192.0.2.7:5555"
		req.Header.Set("X-Forwarded-For", "10.0.0.9, 192.0.2.7")
		req.Header.Set("X-Real-IP", "10.0.0.8")
		api.Router().ServeHTTP(httptest.NewRecorder(), req)
		if len(limiter.keys) != 1 {
			t.Fatalf("limiter keys = %v", limiter.keys)
		}
		return limiter.keys[0]
	}

	env := setupEnv(t)
	if key := login(env.API, &fakeLimiter{allowed: true}); key != "192.0.2.7:alice" {
		t.Errorf("untrusted proxy headers changed the key: %q", key)
	}

	env.API.TrustProxyHeaders = true
	if key := login(env.API, &fakeLimiter{allowed: true}); key != "10.0.0.9:alice" {
		t.Errorf("trusted proxy key = %q", key)
	}
}
