package client

import (
	"net/http"
)

// refreshTransport adds the bearer header and renews the access token
// once when the server answers 401
type refreshTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// may renew a token that is about to expire
	token, err := t.client.GetToken(req.Context())
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(withBearer(req, token))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || (req.GetBody == nil && req.Body != nil) {
		return resp, nil
	}

	newToken, err := t.client.forceRefresh(req.Context(), token)
	if err != nil || newToken == "" {
		return resp, nil
	}
	resp.Body.Close()

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		if retry.Body, err = req.GetBody(); err != nil {
			return nil, err
		}
	}
	return t.base.RoundTrip(withBearer(retry, newToken))
}

func withBearer(req *http.Request, token string) *http.Request {
	if token == "" {
		return req
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
