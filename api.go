package eventauth

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

const maxRequestBody = 1 << 20

// IdentityData is the data payload of a successful result
type IdentityData struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Result is the envelope every endpoint responds with
type Result struct {
	Success bool          `json:"success"`
	Data    *IdentityData `json:"data"`
	Error   *string       `json:"error"`
	Code    int           `json:"code"`
	Status  string        `json:"status"`
}

// API exposes the authentication flows over HTTP
type API struct {
	Auth       *Authenticator
	Transport  *CookieTransport
	Middleware *Middleware

	// Development appends the cause of internal errors to their message
	Development bool

	// TrustProxyHeaders takes the client IP for rate limiting from
	// X-Forwarded-For / X-Real-IP. Only set it behind a proxy that overwrites them.
	TrustProxyHeaders bool

	Logger *slog.Logger
}

// NewAPI creates an API whose session middleware validates access tokens
// from the bearer header or the transport's access cookie
func NewAPI(auth *Authenticator, transport *CookieTransport) *API {
	auth.EnsureDefaults()
	return &API{
		Auth:      auth,
		Transport: transport,
		Middleware: &Middleware{
			Validator: &SessionValidator{Tokens: auth.Tokens, AccessCookie: transport.Access},
			Logger:    auth.Logger,
		},
		Logger: auth.Logger,
	}
}

// Router returns a router with every auth route mounted under /auth
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	a.RegisterRoutes(r.PathPrefix("/auth").Subrouter())
	return r
}

// RegisterRoutes mounts the auth routes on r
func (a *API) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/register", a.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc("/login", a.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/google/register", a.HandleProviderRegister).Methods(http.MethodPost)
	r.HandleFunc("/google/login", a.HandleProviderLogin).Methods(http.MethodPost)
	r.HandleFunc("/refresh", a.HandleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/logout", a.HandleLogout).Methods(http.MethodPost)
	r.Handle("/change-password", a.Middleware.RequireSession(http.HandlerFunc(a.HandleChangePassword))).Methods(http.MethodPost)
	r.Handle("/me", a.Middleware.RequireSession(http.HandlerFunc(a.HandleMe))).Methods(http.MethodGet)
}

// HandleRegister handles POST /auth/register
func (a *API) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !a.decode(w, r, &req) {
		return
	}
	session, err := a.Auth.Register(r.Context(), req)
	a.sessionResult(w, session, err, http.StatusCreated)
}

// HandleLogin handles POST /auth/login
func (a *API) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !a.decode(w, r, &req) {
		return
	}
	req.ClientIP = clientIP(r, a.TrustProxyHeaders)
	session, err := a.Auth.Login(r.Context(), req)
	a.sessionResult(w, session, err, http.StatusOK)
}

// HandleProviderRegister handles POST /auth/google/register
func (a *API) HandleProviderRegister(w http.ResponseWriter, r *http.Request) {
	var req ProviderRegisterRequest
	if !a.decode(w, r, &req) {
		return
	}
	session, err := a.Auth.RegisterWithProvider(r.Context(), req)
	a.sessionResult(w, session, err, http.StatusCreated)
}

// HandleProviderLogin handles POST /auth/google/login
func (a *API) HandleProviderLogin(w http.ResponseWriter, r *http.Request) {
	var req ProviderLoginRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.CompleteProviderLogin(w, r, req.IDToken)
}

// CompleteProviderLogin runs the federated login for an already obtained ID
// token, e.g. from an authorization code callback
func (a *API) CompleteProviderLogin(w http.ResponseWriter, r *http.Request, rawIDToken string) {
	session, err := a.Auth.LoginWithProvider(r.Context(), ProviderLoginRequest{IDToken: rawIDToken})
	a.sessionResult(w, session, err, http.StatusOK)
}

// HandleRefresh handles POST /auth/refresh. The refresh token is only ever
// read from its own cookie.
func (a *API) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	grant, err := a.Auth.Refresh(r.Context(), a.Transport.Refresh.Read(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.Transport.Access.Set(w, grant.AccessToken, grant.AccessExpiresAt)
	writeResult(w, identityData(grant.Identity), nil, false)
}

// HandleLogout handles POST /auth/logout. It always succeeds.
// The refresh cookie is scoped to the refresh path, so browsers usually only
// send the access credential here; either one identifies the session to revoke.
func (a *API) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if refreshToken := a.Transport.Refresh.Read(r); refreshToken != "" {
		a.Auth.Logout(r.Context(), refreshToken)
	} else if id, err := a.Middleware.Validator.AuthenticateRequest(r); err == nil {
		a.Auth.LogoutIdentity(r.Context(), id)
	}
	a.Transport.ClearAll(w)
	writeResult(w, nil, nil, false)
}

// HandleChangePassword handles POST /auth/change-password
func (a *API) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityIDFromContext(r.Context())
	if !ok {
		a.writeError(w, errUnauthenticated())
		return
	}
	var req ChangePasswordRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Auth.ChangePassword(r.Context(), id, req); err != nil {
		a.writeError(w, err)
		return
	}
	writeResult(w, nil, nil, false)
}

// HandleMe handles GET /auth/me
func (a *API) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityIDFromContext(r.Context())
	if !ok {
		a.writeError(w, errUnauthenticated())
		return
	}
	identity, err := a.Auth.Me(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeResult(w, identityData(identity), nil, false)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v); err != nil {
		a.writeError(w, invalidInput(ErrCodeInvalidRequest, "Invalid request body", ""))
		return false
	}
	return true
}

func (a *API) sessionResult(w http.ResponseWriter, session *Session, err error, status int) {
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.Transport.Deliver(w, session.Tokens)
	writeResultStatus(w, status, identityData(session.Identity))
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	authErr := AsAuthError(err)
	if authErr.Kind == KindInternal {
		a.logger().Error("internal error", "message", authErr.Message, "error", authErr.Err)
	}
	writeResult(w, nil, authErr, a.Development)
}

func (a *API) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func identityData(identity *Identity) *IdentityData {
	return &IdentityData{ID: identity.ID, Email: identity.Email}
}

// writeResult writes the envelope for authErr if set, else a 200 success
func writeResult(w http.ResponseWriter, data *IdentityData, authErr *AuthError, development bool) {
	if authErr == nil {
		writeResultStatus(w, http.StatusOK, data)
		return
	}

	message := authErr.Message
	if authErr.Kind == KindInternal {
		message = "Internal server error"
		if development && authErr.Err != nil {
			message += ": " + authErr.Err.Error()
		}
	}
	status := authErr.StatusCode()
	writeJSON(w, status, Result{
		Success: false,
		Error:   &message,
		Code:    status,
		Status:  "error",
	})
}

func writeResultStatus(w http.ResponseWriter, status int, data *IdentityData) {
	writeJSON(w, status, Result{
		Success: true,
		Data:    data,
		Code:    status,
		Status:  "success",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// clientIP returns the peer address of the request, or the address reported
// by a trusted proxy
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ips := strings.Split(xff, ",")
			return strings.TrimSpace(ips[0])
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
