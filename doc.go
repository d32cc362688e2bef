// Package eventauth provides the identity and session layer of an events
// application: local password accounts, Google sign-in, and the JWT sessions
// issued for both.
//
// # Architecture
//
// Identity: the durable user record. An identity is either LOCAL (it has a
// password hash) or federated (it has a provider subject), never both. Email
// and username are unique across all identities.
//
// Session: an access token (15 minutes) and a refresh token (7 days), signed
// with different secrets. The refresh token is stored on the identity and a
// presented refresh token is only honoured while it equals the stored value.
// Access tokens are never stored; they stay valid until they expire.
//
// Authenticator: runs register, login, federated register and login, refresh,
// logout and password change as chains of gates. Every failure is an
// *AuthError whose Kind decides the HTTP status.
//
// # Basic Usage
//
// Pick a store, then wire the hasher, token issuer and authenticator:
//
//	import (
//	    "github.com/panyam/eventauth"
//	    gormstore "github.com/panyam/eventauth/stores/gorm"
//	)
//
//	store := gormstore.NewIdentityStore(db)
//	hasher, _ := eventauth.NewHasher(pepper, eventauth.DefaultArgon2Params())
//	tokens := &eventauth.TokenIssuer{
//	    Store:         store,
//	    AccessSecret:  accessSecret,
//	    RefreshSecret: refreshSecret,
//	    Issuer:        "myapp",
//	}
//	auth := eventauth.NewAuthenticator(store, hasher, tokens)
//
// Serve the HTTP endpoints:
//
//	api := eventauth.NewAPI(auth, eventauth.NewCookieTransport(true))
//	http.ListenAndServe(":8080", api.Router())
//
// # Endpoints
//
//	POST /auth/register          local registration (201)
//	POST /auth/login             local login by email or username
//	POST /auth/google/register   federated registration from a Google ID token (201)
//	POST /auth/google/login      federated login from a Google ID token
//	POST /auth/refresh           new access token from the refresh cookie
//	POST /auth/logout            revoke and clear both cookies, always 200
//	POST /auth/change-password   requires a session
//	GET  /auth/me                requires a session
//
// Every endpoint responds with the same envelope:
//
//	{"success": true, "data": {"id": 1, "email": "a@x.com"}, "error": null, "code": 200, "status": "success"}
//
// # Protecting Routes
//
// Wrap handlers with Middleware.RequireSession and read the caller with
// IdentityIDFromContext:
//
//	r.Handle("/events", api.Middleware.RequireSession(eventsHandler))
//
// # Subpackages
//
//   - stores/fs, stores/gorm, stores/gae: IdentityStore implementations
//   - stores/redis: login rate limiter
//   - oauth2: Google ID token verification and the authorization code flow
//   - grpc: session interceptors for gRPC servers
//   - client: HTTP client that keeps and refreshes a session
//   - client/stores/fs: file-backed session storage for the client
//   - cmd/eventauth-server: standalone server configured from EVENTAUTH_* variables
package eventauth
