package oauth2

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	stateCookieName = "oauthstate"
	stateTTL        = 10 * time.Minute
)

// IDTokenHandler receives the raw ID token once a callback completed
type IDTokenHandler func(w http.ResponseWriter, r *http.Request, rawIDToken string)

func generateStateOauthCookie(w http.ResponseWriter, secure bool) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

// validateState checks the state query parameter against the state cookie
// and clears the cookie either way
func validateState(w http.ResponseWriter, r *http.Request) bool {
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/", MaxAge: -1})

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	state := r.FormValue("state")
	return state != "" && subtle.ConstantTimeCompare([]byte(state), []byte(cookie.Value)) == 1
}

// OauthRedirector returns a handler that sets a state cookie and redirects to
// the provider's consent page
func OauthRedirector(oauthConfig *oauth2.Config, secure bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := generateStateOauthCookie(w, secure)
		if err != nil {
			http.Error(w, "failed to start login", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline), http.StatusFound)
	}
}
