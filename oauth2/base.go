package oauth2

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

var (
	ErrInvalidState = errors.New("invalid oauth state")
	ErrMissingCode  = errors.New("missing authorization code")
	ErrNoIDToken    = errors.New("provider did not return an id_token")
)

// BaseOAuth2 runs the authorization code flow against one provider
type BaseOAuth2 struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string

	// SecureCookies marks the state cookie Secure
	SecureCookies bool

	oauthConfig oauth2.Config
}

func NewBaseOAuth2(clientID, clientSecret, callbackURL string, endpoint oauth2.Endpoint, scopes ...string) *BaseOAuth2 {
	return &BaseOAuth2{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		CallbackURL:   callbackURL,
		SecureCookies: true,
		oauthConfig: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

// Config returns the underlying oauth2 configuration
func (b *BaseOAuth2) Config() *oauth2.Config {
	return &b.oauthConfig
}

// StartHandler redirects to the provider's consent page
func (b *BaseOAuth2) StartHandler() http.HandlerFunc {
	return OauthRedirector(&b.oauthConfig, b.SecureCookies)
}

// exchangeIDToken validates the callback state, exchanges the code and
// returns the raw id_token from the token response
func (b *BaseOAuth2) exchangeIDToken(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error) {
	if !validateState(w, r) {
		return "", ErrInvalidState
	}
	code := r.FormValue("code")
	if code == "" {
		return "", ErrMissingCode
	}
	token, err := b.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("code exchange: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", ErrNoIDToken
	}
	return rawIDToken, nil
}
