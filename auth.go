package eventauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/panyam/eventauth"

// RegisterRequest is the input of a local registration
type RegisterRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DateOfBirth string `json:"dob"`
}

// LoginRequest is the input of a local login. User is an email or a username.
type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`

	// ClientIP keys the rate limiter together with User
	ClientIP string `json:"-"`
}

// ProviderRegisterRequest is the input of a federated registration
type ProviderRegisterRequest struct {
	IDToken     string `json:"token"`
	Username    string `json:"username"`
	DateOfBirth string `json:"dob"`
}

// ProviderLoginRequest is the input of a federated login
type ProviderLoginRequest struct {
	IDToken string `json:"token"`
}

// ChangePasswordRequest is the input of a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Session is the outcome of a successful register or login
type Session struct {
	Identity *Identity
	Tokens   *TokenPair
}

// AccessGrant is the outcome of a refresh
type AccessGrant struct {
	Identity        *Identity
	AccessToken     string
	AccessExpiresAt time.Time
}

// Authenticator runs the authentication flows. Each flow is a chain of gates;
// the first failing gate returns its *AuthError and nothing after it runs.
type Authenticator struct {
	Identities *IdentityResolver
	Hasher     CredentialHasher
	Tokens     *TokenIssuer

	// Verifier checks federated ID tokens. Federated flows fail with an
	// internal error when it is nil.
	Verifier IDTokenVerifier

	// FederatedProvider is the provider tag given to federated identities
	FederatedProvider Provider

	PasswordPolicy PasswordPolicy

	// Limiter is optional and only consulted by local login
	Limiter RateLimiter

	Now    func() time.Time
	Logger *slog.Logger

	tracer trace.Tracer
}

// NewAuthenticator creates an Authenticator over store with the default
// password policy
func NewAuthenticator(store IdentityStore, hasher CredentialHasher, tokens *TokenIssuer) *Authenticator {
	a := &Authenticator{
		Identities:     NewIdentityResolver(store),
		Hasher:         hasher,
		Tokens:         tokens,
		PasswordPolicy: DefaultPasswordPolicy(),
	}
	return a.EnsureDefaults()
}

// EnsureDefaults fills in unset optional fields. An Authenticator built as a
// struct literal must call it once before it serves requests.
func (a *Authenticator) EnsureDefaults() *Authenticator {
	if a.PasswordPolicy == (PasswordPolicy{}) {
		a.PasswordPolicy = DefaultPasswordPolicy()
	}
	if a.FederatedProvider == "" {
		a.FederatedProvider = ProviderGoogle
	}
	if a.Now == nil {
		a.Now = time.Now
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer(tracerName)
	}
	if a.Tokens != nil {
		a.Tokens.EnsureDefaults()
	}
	return a
}

func (a *Authenticator) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	tracer := a.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return tracer.Start(ctx, "eventauth."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, AsAuthError(err).Code)
	}
	span.End()
}

// Register creates a LOCAL identity and starts a session for it
func (a *Authenticator) Register(ctx context.Context, req RegisterRequest) (session *Session, err error) {
	ctx, span := a.startSpan(ctx, "Register")
	defer func() { endSpan(span, err) }()

	email := NormalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)

	if email == "" {
		return nil, invalidInput(ErrCodeMissingField, "Email is required", "email")
	}
	if !IsValidEmail(email) {
		return nil, invalidInput(ErrCodeInvalidEmail, "Invalid email format", "email")
	}
	if req.Password == "" {
		return nil, invalidInput(ErrCodeMissingField, "Password is required", "password")
	}
	if perr := a.PasswordPolicy.Validate(req.Password); perr != nil {
		return nil, perr
	}
	if username == "" {
		return nil, invalidInput(ErrCodeMissingField, "Username is required", "username")
	}
	if err := a.requireUsernameFree(ctx, username); err != nil {
		return nil, err
	}
	dob, derr := ParseDateOfBirth(req.DateOfBirth, a.Now())
	if derr != nil {
		return nil, derr
	}

	existing, err := a.Identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, internalError("failed to look up email", err)
	}
	if existing != nil {
		return nil, NewAuthError(KindConflict, ErrCodeEmailExists, "Email already registered", "email")
	}

	hash, err := a.Hasher.Derive(req.Password)
	if err != nil {
		return nil, internalError("failed to hash password", err)
	}

	if _, err := a.Identities.Create(ctx, NewIdentity{
		Email:        email,
		PasswordHash: hash,
		Username:     username,
		DateOfBirth:  dob,
		Provider:     ProviderLocal,
	}); err != nil {
		return nil, a.createFailed(err)
	}

	identity, err := a.Identities.FindByEmail(ctx, email)
	if err != nil || identity == nil {
		return nil, internalError("failed to read created identity", err)
	}

	session, err = a.issue(ctx, identity)
	if err != nil {
		return nil, err
	}
	a.Logger.Info("registered identity", "identity_id", identity.ID, "provider", identity.Provider)
	return session, nil
}

// Login authenticates a LOCAL identity by email or username and password.
// Unknown identifiers, federated accounts and wrong passwords all fail with the
// same invalid credentials error.
func (a *Authenticator) Login(ctx context.Context, req LoginRequest) (session *Session, err error) {
	ctx, span := a.startSpan(ctx, "Login")
	defer func() { endSpan(span, err) }()

	if req.Password == "" {
		return nil, invalidInput(ErrCodeMissingField, "Password is required", "password")
	}
	identifier := strings.TrimSpace(req.User)
	if identifier == "" {
		return nil, invalidInput(ErrCodeMissingField, "Email or username is required", "user")
	}

	if a.Limiter != nil {
		allowed, lerr := a.Limiter.Allow(ctx, req.ClientIP+":"+strings.ToLower(identifier))
		if lerr != nil {
			// the limiter fails open
			a.Logger.Warn("rate limiter unavailable", "error", lerr)
		} else if !allowed {
			return nil, NewAuthError(KindRateLimited, ErrCodeRateLimited, "Too many login attempts", "")
		}
	}

	span.SetAttributes(attribute.String("auth.identifier_type", DetectIdentifierType(identifier)))
	identity, err := a.Identities.FindByLogin(ctx, identifier)
	if err != nil {
		return nil, internalError("failed to resolve identity", err)
	}
	if identity == nil || !identity.IsLocal() {
		return nil, errInvalidCredentials()
	}
	if !a.Hasher.Verify(req.Password, identity.PasswordHash) {
		a.Logger.Info("password verification failed", "identity_id", identity.ID)
		return nil, errInvalidCredentials()
	}

	return a.issue(ctx, identity)
}

// RegisterWithProvider creates a federated identity from a provider ID token
func (a *Authenticator) RegisterWithProvider(ctx context.Context, req ProviderRegisterRequest) (session *Session, err error) {
	ctx, span := a.startSpan(ctx, "RegisterWithProvider")
	defer func() { endSpan(span, err) }()

	username := strings.TrimSpace(req.Username)
	if req.IDToken == "" {
		return nil, invalidInput(ErrCodeMissingField, "Provider token is required", "token")
	}
	if username == "" {
		return nil, invalidInput(ErrCodeMissingField, "Username is required", "username")
	}
	dob, derr := ParseDateOfBirth(req.DateOfBirth, a.Now())
	if derr != nil {
		return nil, derr
	}

	claims, err := a.verifyProviderToken(ctx, req.IDToken)
	if err != nil {
		return nil, err
	}
	email := NormalizeEmail(claims.Email)

	if err := a.requireUsernameFree(ctx, username); err != nil {
		return nil, err
	}

	existing, err := a.Identities.FindByProviderSubject(ctx, a.FederatedProvider, claims.Subject)
	if err != nil {
		return nil, internalError("failed to look up provider account", err)
	}
	if existing != nil {
		return nil, NewAuthError(KindConflict, ErrCodeProviderAccountExists, "Account already registered with this provider", "")
	}

	// A federated identity never merges into an existing account on shared email
	existing, err = a.Identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, internalError("failed to look up email", err)
	}
	if existing != nil {
		return nil, NewAuthError(KindConflict, ErrCodeEmailExists, fmt.Sprintf("An account with email %s already exists", email), "email")
	}

	if _, err := a.Identities.Create(ctx, NewIdentity{
		Email:           email,
		Username:        username,
		DateOfBirth:     dob,
		Provider:        a.FederatedProvider,
		ProviderSubject: claims.Subject,
	}); err != nil {
		return nil, a.createFailed(err)
	}

	identity, err := a.Identities.FindByProviderSubject(ctx, a.FederatedProvider, claims.Subject)
	if err != nil || identity == nil {
		return nil, internalError("failed to read created identity", err)
	}

	session, err = a.issue(ctx, identity)
	if err != nil {
		return nil, err
	}
	a.Logger.Info("registered identity", "identity_id", identity.ID, "provider", identity.Provider)
	return session, nil
}

// LoginWithProvider starts a session for a registered federated identity
func (a *Authenticator) LoginWithProvider(ctx context.Context, req ProviderLoginRequest) (session *Session, err error) {
	ctx, span := a.startSpan(ctx, "LoginWithProvider")
	defer func() { endSpan(span, err) }()

	if req.IDToken == "" {
		return nil, invalidInput(ErrCodeMissingField, "Provider token is required", "token")
	}

	claims, err := a.verifyProviderToken(ctx, req.IDToken)
	if err != nil {
		return nil, err
	}

	identity, err := a.Identities.FindByProviderSubject(ctx, a.FederatedProvider, claims.Subject)
	if err != nil {
		return nil, internalError("failed to look up provider account", err)
	}
	if identity == nil {
		return nil, NewAuthError(KindNotFound, ErrCodeNotRegistered, "Account not registered, please register first", "")
	}
	if identity.Provider != a.FederatedProvider || identity.PasswordHash != "" {
		a.Logger.Warn("provider tag mismatch on federated login", "identity_id", identity.ID, "provider", identity.Provider)
		return nil, NewAuthError(KindForbidden, ErrCodeProviderMismatch, "Account is not registered with this provider", "")
	}

	return a.issue(ctx, identity)
}

// Refresh mints a new access token for a refresh token that matches the one
// stored on its identity. The refresh token itself is not rotated.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (grant *AccessGrant, err error) {
	ctx, span := a.startSpan(ctx, "Refresh")
	defer func() { endSpan(span, err) }()

	if refreshToken == "" {
		return nil, errInvalidRefresh(KindUnauthenticated)
	}
	claims, err := a.Tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, errInvalidRefresh(KindUnauthenticated)
	}
	id, err := claims.IdentityID()
	if err != nil {
		return nil, errInvalidRefresh(KindUnauthenticated)
	}

	identity, err := a.Identities.FindByID(ctx, id)
	if err != nil {
		return nil, internalError("failed to load identity", err)
	}
	if identity == nil {
		return nil, errInvalidRefresh(KindUnauthenticated)
	}
	if identity.RefreshToken == "" || subtle.ConstantTimeCompare([]byte(identity.RefreshToken), []byte(refreshToken)) != 1 {
		a.Logger.Info("refresh token does not match stored value", "identity_id", id)
		return nil, errInvalidRefresh(KindForbidden)
	}

	accessToken, expiresAt, err := a.Tokens.MintAccessToken(identity)
	if err != nil {
		return nil, internalError("failed to mint access token", err)
	}
	return &AccessGrant{Identity: identity, AccessToken: accessToken, AccessExpiresAt: expiresAt}, nil
}

// Logout revokes the session a refresh token belongs to. It never fails; an
// unparseable or missing token only means there is nothing to revoke.
func (a *Authenticator) Logout(ctx context.Context, refreshToken string) {
	ctx, span := a.startSpan(ctx, "Logout")
	defer span.End()

	if refreshToken == "" {
		return
	}
	claims, err := a.Tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		a.Logger.Debug("logout with invalid refresh token", "error", err)
		return
	}
	id, err := claims.IdentityID()
	if err != nil {
		return
	}
	a.revoke(ctx, span, id)
}

// LogoutIdentity revokes the stored refresh token of an identity already
// authenticated by its access token. Like Logout it never fails.
func (a *Authenticator) LogoutIdentity(ctx context.Context, identityID int64) {
	ctx, span := a.startSpan(ctx, "LogoutIdentity")
	defer span.End()
	a.revoke(ctx, span, identityID)
}

func (a *Authenticator) revoke(ctx context.Context, span trace.Span, id int64) {
	if err := a.Tokens.Revoke(ctx, id); err != nil {
		span.RecordError(err)
		a.Logger.Error("failed to revoke refresh token", "identity_id", id, "error", err)
	}
}

// ChangePassword replaces a LOCAL identity's password. Existing sessions are
// left alone.
func (a *Authenticator) ChangePassword(ctx context.Context, identityID int64, req ChangePasswordRequest) (err error) {
	ctx, span := a.startSpan(ctx, "ChangePassword")
	defer func() { endSpan(span, err) }()

	identity, err := a.Identities.FindByID(ctx, identityID)
	if err != nil {
		return internalError("failed to load identity", err)
	}
	if identity == nil {
		return errUnauthenticated()
	}
	if !identity.IsLocal() {
		return NewAuthError(KindForbidden, ErrCodeNotLocalAccount, "Password change is only available for local accounts", "")
	}
	if req.CurrentPassword == "" {
		return invalidInput(ErrCodeMissingField, "Current password is required", "current_password")
	}
	if req.NewPassword == "" {
		return invalidInput(ErrCodeMissingField, "New password is required", "new_password")
	}
	if !a.Hasher.Verify(req.CurrentPassword, identity.PasswordHash) {
		return NewAuthError(KindUnauthenticated, ErrCodeInvalidCreds, "Current password is incorrect", "current_password")
	}
	if perr := a.PasswordPolicy.Validate(req.NewPassword); perr != nil {
		perr.Field = "new_password"
		return perr
	}

	hash, err := a.Hasher.Derive(req.NewPassword)
	if err != nil {
		return internalError("failed to hash password", err)
	}
	if err := a.Identities.Store.SetPasswordHash(ctx, identity.ID, hash); err != nil {
		return internalError("failed to store password", err)
	}
	a.Logger.Info("password changed", "identity_id", identity.ID)
	return nil
}

// Me returns the identity a session belongs to
func (a *Authenticator) Me(ctx context.Context, identityID int64) (*Identity, error) {
	identity, err := a.Identities.FindByID(ctx, identityID)
	if err != nil {
		return nil, internalError("failed to load identity", err)
	}
	if identity == nil {
		return nil, errUnauthenticated()
	}
	return identity, nil
}

func (a *Authenticator) requireUsernameFree(ctx context.Context, username string) error {
	free, err := a.Identities.IsUsernameFree(ctx, username)
	if err != nil {
		return internalError("failed to check username", err)
	}
	if !free {
		return NewAuthError(KindConflict, ErrCodeUsernameTaken, "Username already taken", "username")
	}
	return nil
}

// verifyProviderToken applies the verified email policy on top of the verifier
func (a *Authenticator) verifyProviderToken(ctx context.Context, rawToken string) (*ProviderClaims, error) {
	if a.Verifier == nil {
		return nil, internalError("federated login not configured", errors.New("no ID token verifier"))
	}
	claims, err := a.Verifier.VerifyIDToken(ctx, rawToken)
	if errors.Is(err, ErrInvalidProviderToken) {
		a.Logger.Info("provider token rejected", "error", err)
		return nil, NewAuthError(KindUnauthenticated, ErrCodeInvalidProviderToken, "Invalid provider token", "token")
	}
	if err != nil {
		return nil, internalError("failed to verify provider token", err)
	}
	if claims.Subject == "" {
		return nil, NewAuthError(KindUnauthenticated, ErrCodeInvalidProviderToken, "Invalid provider token", "token")
	}
	if !claims.EmailVerified || strings.TrimSpace(claims.Email) == "" {
		return nil, NewAuthError(KindUnauthenticated, ErrCodeEmailNotVerified, "Provider email is not verified", "")
	}
	return claims, nil
}

// createFailed maps a create error; a uniqueness race that slipped past the
// gates is still a conflict
func (a *Authenticator) createFailed(err error) error {
	if errors.Is(err, ErrIdentityExists) {
		return NewAuthError(KindConflict, ErrCodeEmailExists, "Account already exists", "")
	}
	return internalError("failed to create identity", err)
}

func (a *Authenticator) issue(ctx context.Context, identity *Identity) (*Session, error) {
	pair, err := a.Tokens.Issue(ctx, identity)
	if err != nil {
		return nil, internalError("failed to issue session", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("auth.identity_id", identity.ID))
	return &Session{Identity: identity, Tokens: pair}, nil
}
