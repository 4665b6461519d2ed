package client

import (
	"net/http"
)

// AuthTransport wraps an http.RoundTripper to add a fixed bearer token.
// AuthClient uses refreshTransport instead, which also renews the token.
type AuthTransport struct {
	Base  http.RoundTripper
	Token string
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != "" {
		req = withBearer(req, t.Token)
	}
	return base(t.Base).RoundTrip(req)
}

// NewAuthTransport creates an AuthTransport with the given token
func NewAuthTransport(token string) *AuthTransport {
	return &AuthTransport{Base: http.DefaultTransport, Token: token}
}

func base(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		return http.DefaultTransport
	}
	return rt
}

// withBearer clones req with the Authorization header set
func withBearer(req *http.Request, token string) *http.Request {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+token)
	return req2
}

// refreshTransport adds the client's current token and retries once with a
// refreshed token when the server answers 401.
type refreshTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.client.GetToken(req.Context())
	if err != nil {
		return nil, err
	}
	if token != "" {
		req = withBearer(req, token)
	}

	resp, err := base(t.base).RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || token == "" {
		return resp, err
	}
	// bodies that cannot be replayed are not retried
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	if err := t.client.Refresh(req.Context()); err != nil {
		return resp, nil
	}
	newToken, _ := t.client.GetToken(req.Context())
	if newToken == "" || newToken == token {
		return resp, nil
	}
	resp.Body.Close()

	retry := withBearer(req, newToken)
	if req.GetBody != nil {
		if retry.Body, err = req.GetBody(); err != nil {
			return nil, err
		}
	}
	return base(t.base).RoundTrip(retry)
}
