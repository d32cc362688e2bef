package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	ea "github.com/panyam/eventauth"
)

// RefreshThreshold is how long before expiry to proactively refresh
const RefreshThreshold = 1 * time.Minute

// APIError is a failure envelope returned by the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eventauth: %d %s", e.StatusCode, e.Message)
}

// AuthClient is an HTTP client with automatic token management
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	basePath      string
	accessCookie  string
	refreshCookie string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithBasePath sets where the auth routes are mounted (default "/auth")
func WithBasePath(path string) ClientOption {
	return func(c *AuthClient) {
		c.basePath = path
	}
}

// WithCookieNames matches a server that renamed its session cookies
func WithCookieNames(access, refresh string) ClientOption {
	return func(c *AuthClient) {
		c.accessCookie = access
		c.refreshCookie = refresh
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds every request made by the client
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *AuthClient) {
		c.httpClient.Timeout = timeout
	}
}

// NewAuthClient creates a client for serverURL. A nil store keeps
// credentials in memory.
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}
	if store == nil {
		store = NewMemoryCredentialStore()
	}

	c := &AuthClient{
		serverURL:     serverURL,
		basePath:      "/auth",
		accessCookie:  ea.DefaultAccessCookieName,
		refreshCookie: ea.DefaultRefreshCookieName,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &refreshTransport{client: c, base: c.baseTransport}
	return c
}

// HTTPClient returns a client that authenticates every request it sends
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// GetCredential returns the stored credential for this server
func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn returns true if the session can still produce an access token
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return false
	}
	return !cred.IsExpired() || cred.HasRefreshToken()
}

// GetToken returns the current access token, refreshing it if it is about
// to expire. It returns "" when there is no usable session.
func (c *AuthClient) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return "", err
	}

	if cred.IsExpiringSoon(RefreshThreshold) && cred.HasRefreshToken() {
		if err := c.refreshLocked(ctx, cred); err != nil {
			if !cred.IsExpired() {
				return cred.AccessToken, nil
			}
			return "", fmt.Errorf("token expired and refresh failed: %w", err)
		}
	}
	if cred.IsExpired() {
		return "", nil
	}
	return cred.AccessToken, nil
}

// forceRefresh renews the access token after the server rejected stale.
// A concurrent caller may already have renewed it.
func (c *AuthClient) forceRefresh(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil || !cred.HasRefreshToken() {
		return "", err
	}
	if cred.AccessToken != stale && !cred.IsExpired() {
		return cred.AccessToken, nil
	}
	if err := c.refreshLocked(ctx, cred); err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Register creates a local account and keeps the resulting session
func (c *AuthClient) Register(ctx context.Context, req ea.RegisterRequest) (*ea.IdentityData, error) {
	return c.startSession(ctx, "/register", req)
}

// Login signs in with an email or username and keeps the resulting session
func (c *AuthClient) Login(ctx context.Context, user, password string) (*ea.IdentityData, error) {
	return c.startSession(ctx, "/login", ea.LoginRequest{User: user, Password: password})
}

// LoginWithGoogle exchanges a Google ID token for a session
func (c *AuthClient) LoginWithGoogle(ctx context.Context, idToken string) (*ea.IdentityData, error) {
	return c.startSession(ctx, "/google/login", ea.ProviderLoginRequest{IDToken: idToken})
}

// Refresh renews the access token from the held refresh token
func (c *AuthClient) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return err
	}
	if cred == nil || !cred.HasRefreshToken() {
		return &APIError{StatusCode: http.StatusUnauthorized, Message: "Invalid refresh token"}
	}
	return c.refreshLocked(ctx, cred)
}

// Me returns the identity behind the current session
func (c *AuthClient) Me(ctx context.Context) (*ea.IdentityData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/me"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	result, err := decodeResult(resp)
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

// ChangePassword changes the password of the signed-in local account
func (c *AuthClient) ChangePassword(ctx context.Context, current, next string) error {
	req, err := newJSONRequest(ctx, c.endpoint("/change-password"), ea.ChangePasswordRequest{
		CurrentPassword: current,
		NewPassword:     next,
	})
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_, err = decodeResult(resp)
	return err
}

// Logout revokes the session on the server and forgets it locally.
// The local credential is dropped even if the server is unreachable.
func (c *AuthClient) Logout(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, _ := c.store.GetCredential(c.serverURL)
	defer func() {
		if rerr := c.store.RemoveCredential(c.serverURL); rerr != nil {
			err = rerr
			return
		}
		if serr := c.store.Save(); serr != nil {
			err = serr
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/logout"), nil)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}
	if cred != nil {
		if cred.RefreshToken != "" {
			req.AddCookie(&http.Cookie{Name: c.refreshCookie, Value: cred.RefreshToken})
		}
		if cred.AccessToken != "" {
			req = withBearer(req, cred.AccessToken)
		}
	}
	resp, err := c.baseClient().Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	resp.Body.Close()
	return nil
}

// startSession posts body to an endpoint that answers with a new session
func (c *AuthClient) startSession(ctx context.Context, path string, body any) (*ea.IdentityData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := newJSONRequest(ctx, c.endpoint(path), body)
	if err != nil {
		return nil, err
	}
	resp, err := c.baseClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	cookies := resp.Cookies()
	result, err := decodeResult(resp)
	if err != nil {
		return nil, err
	}

	cred := &ServerCredential{CreatedAt: time.Now()}
	if result.Data != nil {
		cred.IdentityID = result.Data.ID
		cred.Email = result.Data.Email
	}
	for _, cookie := range cookies {
		switch cookie.Name {
		case c.accessCookie:
			cred.AccessToken, cred.AccessExpiresAt = cookie.Value, cookieExpiry(cookie)
		case c.refreshCookie:
			cred.RefreshToken, cred.RefreshExpiresAt = cookie.Value, cookieExpiry(cookie)
		}
	}
	if cred.AccessToken == "" {
		return nil, fmt.Errorf("server did not return an access token")
	}

	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return result.Data, nil
}

// refreshLocked renews cred's access token in place. Caller must hold c.mu
func (c *AuthClient) refreshLocked(ctx context.Context, cred *ServerCredential) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/refresh"), nil)
	if err != nil {
		return err
	}
	req.AddCookie(&http.Cookie{Name: c.refreshCookie, Value: cred.RefreshToken})

	resp, err := c.baseClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	cookies := resp.Cookies()
	if _, err := decodeResult(resp); err != nil {
		return err
	}

	for _, cookie := range cookies {
		if cookie.Name == c.accessCookie && cookie.Value != "" {
			cred.AccessToken, cred.AccessExpiresAt = cookie.Value, cookieExpiry(cookie)
			if err := c.store.SetCredential(c.serverURL, cred); err != nil {
				return fmt.Errorf("failed to store refreshed credential: %w", err)
			}
			return c.store.Save()
		}
	}
	return fmt.Errorf("server did not return an access token")
}

// baseClient skips the refresh transport so session calls cannot loop
func (c *AuthClient) baseClient() *http.Client {
	return &http.Client{Transport: c.baseTransport, Timeout: c.httpClient.Timeout}
}

func (c *AuthClient) endpoint(path string) string {
	return c.serverURL + c.basePath + path
}

func newJSONRequest(ctx context.Context, url string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// decodeResult reads the envelope and turns a failure into an *APIError
func decodeResult(resp *http.Response) (*ea.Result, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result ea.Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if !result.Success {
		message := http.StatusText(resp.StatusCode)
		if result.Error != nil {
			message = *result.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	return &result, nil
}

func cookieExpiry(cookie *http.Cookie) time.Time {
	if cookie.MaxAge > 0 {
		return time.Now().Add(time.Duration(cookie.MaxAge) * time.Second)
	}
	return cookie.Expires
}
