package eventauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// ErrUnauthenticated is the only error the session validator returns, so a
// missing, malformed, forged or expired credential cannot be told apart.
var ErrUnauthenticated = errors.New("authentication required")

type identityIDKey struct{}

// SessionValidator checks access credentials without touching storage
type SessionValidator struct {
	Tokens *TokenIssuer

	// AccessCookie is consulted when no Authorization header is sent
	AccessCookie CookieChannel
}

// Authenticate returns the identity id an access token was issued for
func (v *SessionValidator) Authenticate(token string) (int64, error) {
	if token == "" {
		return 0, ErrUnauthenticated
	}
	claims, err := v.Tokens.ParseAccessToken(token)
	if err != nil {
		return 0, ErrUnauthenticated
	}
	id, err := claims.IdentityID()
	if err != nil {
		return 0, ErrUnauthenticated
	}
	return id, nil
}

// AuthenticateHeader authenticates an "Authorization: Bearer <token>" value
func (v *SessionValidator) AuthenticateHeader(header string) (int64, error) {
	token, ok := BearerToken(header)
	if !ok {
		return 0, ErrUnauthenticated
	}
	return v.Authenticate(token)
}

// AuthenticateRequest reads the bearer header first and falls back to the
// access cookie. A header with the wrong scheme fails without the fallback.
func (v *SessionValidator) AuthenticateRequest(r *http.Request) (int64, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return v.AuthenticateHeader(header)
	}
	if v.AccessCookie.Name != "" {
		return v.Authenticate(v.AccessCookie.Read(r))
	}
	return 0, ErrUnauthenticated
}

// BearerToken extracts the token from a Bearer authorization value
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// ContextWithIdentityID returns a copy of ctx carrying the authenticated id
func ContextWithIdentityID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, identityIDKey{}, id)
}

// IdentityIDFromContext returns the id set by the session middleware
func IdentityIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(identityIDKey{}).(int64)
	return id, ok
}

// Middleware gates HTTP handlers behind a valid access credential
type Middleware struct {
	Validator *SessionValidator
	Logger    *slog.Logger
}

func (m *Middleware) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

// RequireSession rejects requests without a valid access credential with the
// uniform 401 result
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.Validator.AuthenticateRequest(r)
		if err != nil {
			m.logger().Debug("rejected unauthenticated request", "path", r.URL.Path)
			writeResult(w, nil, errUnauthenticated(), false)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentityID(r.Context(), id)))
	})
}

// Optional attaches the identity id when a valid credential is present and
// passes every request through
func (m *Middleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := m.Validator.AuthenticateRequest(r); err == nil {
			r = r.WithContext(ContextWithIdentityID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func errUnauthenticated() *AuthError {
	return NewAuthError(KindUnauthenticated, ErrCodeUnauthenticated, "Authentication required", "")
}
