package eventauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token expiry durations
const (
	TokenExpiryAccessToken  = 15 * time.Minute
	TokenExpiryRefreshToken = 7 * 24 * time.Hour
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// AccessClaims are carried by access tokens. Subject is the identity id.
type AccessClaims struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// IdentityID returns the identity id carried in the subject claim
func (c *AccessClaims) IdentityID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// RefreshClaims are carried by refresh tokens. They hold the identity id only.
type RefreshClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

func (c *RefreshClaims) IdentityID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// TokenPair is a freshly issued session
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenIssuer mints access and refresh tokens and keeps the identity's stored
// refresh token in step with what it hands out
type TokenIssuer struct {
	Store IdentityStore

	AccessSecret  string // HMAC key for access tokens
	RefreshSecret string // HMAC key for refresh tokens, must differ from AccessSecret
	Issuer        string

	AccessTokenExpiry  time.Duration // Defaults to 15 minutes
	RefreshTokenExpiry time.Duration // Defaults to 7 days

	// Now is the clock, defaults to time.Now
	Now func() time.Time

	Logger *slog.Logger
}

// EnsureDefaults fills in unset expiries, clock and logger. Call it once
// before sharing the issuer; the minting and parsing paths only read fields.
func (t *TokenIssuer) EnsureDefaults() *TokenIssuer {
	if t.AccessTokenExpiry <= 0 {
		t.AccessTokenExpiry = TokenExpiryAccessToken
	}
	if t.RefreshTokenExpiry <= 0 {
		t.RefreshTokenExpiry = TokenExpiryRefreshToken
	}
	if t.Now == nil {
		t.Now = time.Now
	}
	if t.Logger == nil {
		t.Logger = slog.Default()
	}
	return t
}

// Issue mints a token pair for the identity and stores the refresh token on it.
// The pair is only returned once the refresh token is persisted.
func (t *TokenIssuer) Issue(ctx context.Context, identity *Identity) (*TokenPair, error) {
	accessToken, accessExpiresAt, err := t.MintAccessToken(identity)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshExpiresAt, err := t.mintRefreshToken(identity)
	if err != nil {
		return nil, err
	}

	if err := t.Store.SetRefreshToken(ctx, identity.ID, refreshToken); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}
	identity.RefreshToken = refreshToken

	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// MintAccessToken signs a new access token only. Nothing is persisted.
func (t *TokenIssuer) MintAccessToken(identity *Identity) (string, time.Time, error) {
	if t.AccessSecret == "" {
		return "", time.Time{}, errors.New("access token secret not configured")
	}

	now := t.now()
	expiresAt := now.Add(orDefault(t.AccessTokenExpiry, TokenExpiryAccessToken))
	claims := AccessClaims{
		Email:            identity.Email,
		Type:             tokenTypeAccess,
		RegisteredClaims: t.registeredClaims(identity.ID, now, expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.AccessSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

func (t *TokenIssuer) mintRefreshToken(identity *Identity) (string, time.Time, error) {
	if t.RefreshSecret == "" {
		return "", time.Time{}, errors.New("refresh token secret not configured")
	}

	now := t.now()
	expiresAt := now.Add(orDefault(t.RefreshTokenExpiry, TokenExpiryRefreshToken))
	claims := RefreshClaims{
		Type:             tokenTypeRefresh,
		RegisteredClaims: t.registeredClaims(identity.ID, now, expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.RefreshSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, expiresAt, nil
}

func (t *TokenIssuer) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (t *TokenIssuer) registeredClaims(identityID int64, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(identityID, 10),
		Issuer:    t.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

// Revoke clears the identity's stored refresh token. Revoking an identity
// that has no stored token, or does not exist, is a no-op.
func (t *TokenIssuer) Revoke(ctx context.Context, identityID int64) error {
	err := t.Store.SetRefreshToken(ctx, identityID, "")
	if errors.Is(err, ErrIdentityNotFound) {
		return nil
	}
	return err
}

// ParseAccessToken verifies an access token's signature, expiry, issuer and type
func (t *TokenIssuer) ParseAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := t.parse(tokenString, t.AccessSecret, claims); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeAccess {
		return nil, errors.New("invalid token type")
	}
	if _, err := claims.IdentityID(); err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	return claims, nil
}

// ParseRefreshToken verifies a refresh token's signature, expiry, issuer and type
func (t *TokenIssuer) ParseRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := t.parse(tokenString, t.RefreshSecret, claims); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeRefresh {
		return nil, errors.New("invalid token type")
	}
	if _, err := claims.IdentityID(); err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	return claims, nil
}

func (t *TokenIssuer) parse(tokenString, secret string, claims jwt.Claims) error {
	if secret == "" {
		return errors.New("token secret not configured")
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.Issuer != "" {
		options = append(options, jwt.WithIssuer(t.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, options...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}
