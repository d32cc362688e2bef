package oauth2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	ea "github.com/panyam/eventauth"
)

// GoogleIssuer is the issuer of Google ID tokens
const GoogleIssuer = "https://accounts.google.com"

// Google verifies Google ID tokens and runs Google's authorization code flow.
// It implements ea.IDTokenVerifier.
type Google struct {
	*BaseOAuth2
	verifier *oidc.IDTokenVerifier
	Logger   *slog.Logger
}

// NewGoogle discovers Google's OIDC configuration. The returned verifier
// fetches and caches Google's signing keys.
func NewGoogle(ctx context.Context, clientID, clientSecret, callbackURL string) (*Google, error) {
	if clientID == "" {
		return nil, errors.New("google client id is required")
	}
	provider, err := oidc.NewProvider(ctx, GoogleIssuer)
	if err != nil {
		return nil, fmt.Errorf("init google oidc provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return NewGoogleWithVerifier(clientID, clientSecret, callbackURL, provider.Endpoint(), verifier), nil
}

// NewGoogleWithVerifier creates a Google provider around an existing verifier,
// e.g. one built with oidc.NewVerifier over a static key set
func NewGoogleWithVerifier(clientID, clientSecret, callbackURL string, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *Google {
	return &Google{
		BaseOAuth2: NewBaseOAuth2(clientID, clientSecret, callbackURL, endpoint, oidc.ScopeOpenID, "email", "profile"),
		verifier:   verifier,
	}
}

func (g *Google) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

type googleClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
}

// VerifyIDToken checks signature, audience, issuer and expiry. Every failure
// wraps ea.ErrInvalidProviderToken.
func (g *Google) VerifyIDToken(ctx context.Context, rawToken string) (*ea.ProviderClaims, error) {
	idToken, err := g.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ea.ErrInvalidProviderToken, err)
	}

	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ea.ErrInvalidProviderToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ea.ErrInvalidProviderToken)
	}

	g.logger().Debug("google id token verified",
		"issuer", idToken.Issuer,
		"email_present", claims.Email != "",
		"expiry_unix", idToken.Expiry.Unix())

	return &ea.ProviderClaims{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: isTrue(claims.EmailVerified),
	}, nil
}

// CallbackHandler completes the code flow and passes the ID token on. The
// token is not verified here; onIDToken is expected to do so.
func (g *Google) CallbackHandler(onIDToken IDTokenHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawIDToken, err := g.exchangeIDToken(r.Context(), w, r)
		if err != nil {
			g.logger().Warn("google callback failed", "error", err)
			status := http.StatusUnauthorized
			if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrMissingCode) {
				status = http.StatusBadRequest
			}
			http.Error(w, "google login failed", status)
			return
		}
		onIDToken(w, r, rawIDToken)
	}
}

// isTrue accepts email_verified as a boolean or as the string "true", which
// some Google token versions send
func isTrue(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true"
	}
	return false
}
