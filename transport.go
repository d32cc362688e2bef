package eventauth

import (
	"net/http"
	"time"
)

// Default cookie names
const (
	DefaultAccessCookieName  = "access_token"
	DefaultRefreshCookieName = "refresh_token"
	DefaultRefreshPath       = "/auth/refresh"
)

// CookieChannel is one cookie sink a credential is delivered through
type CookieChannel struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func (c CookieChannel) normalize() CookieChannel {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	return c
}

// Set writes value into the channel, expiring at expiresAt.
// Channel cookies are always HttpOnly.
func (c CookieChannel) Set(w http.ResponseWriter, value string, expiresAt time.Time) {
	c = c.normalize()
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  expiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// Clear removes the channel's cookie from the client
func (c CookieChannel) Clear(w http.ResponseWriter) {
	c = c.normalize()
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// Read returns the channel's value on r, or "" if it was not sent
func (c CookieChannel) Read(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// CookieTransport delivers a session through two independently scoped cookies.
// The refresh cookie is only sent back to the renewal endpoint.
type CookieTransport struct {
	Access  CookieChannel
	Refresh CookieChannel
}

// NewCookieTransport creates a transport with the default names and paths
func NewCookieTransport(secure bool) *CookieTransport {
	return &CookieTransport{
		Access:  CookieChannel{Name: DefaultAccessCookieName, Path: "/", Secure: secure},
		Refresh: CookieChannel{Name: DefaultRefreshCookieName, Path: DefaultRefreshPath, Secure: secure},
	}
}

// Deliver sets both channels from a freshly issued pair
func (t *CookieTransport) Deliver(w http.ResponseWriter, pair *TokenPair) {
	t.Access.Set(w, pair.AccessToken, pair.AccessExpiresAt)
	t.Refresh.Set(w, pair.RefreshToken, pair.RefreshExpiresAt)
}

// ClearAll removes both channels
func (t *CookieTransport) ClearAll(w http.ResponseWriter) {
	t.Access.Clear(w)
	t.Refresh.Clear(w)
}
