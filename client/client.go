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

	"github.com/golang-jwt/jwt/v5"

	oa "github.com/panyam/authsdk"
)

// RefreshThreshold is how long before expiry to proactively refresh
const RefreshThreshold = 5 * time.Minute

// APIError is a non-2xx response from the server
type APIError struct {
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("auth server: %s (HTTP %d)", e.Description, e.Status)
	}
	return fmt.Sprintf("auth server: HTTP %d", e.Status)
}

// AuthClient is an HTTP client with automatic token management
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	basePath      string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithBasePath sets the path the auth endpoints are mounted under, e.g. "/auth"
func WithBasePath(path string) ClientOption {
	return func(c *AuthClient) {
		c.basePath = path
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a new authenticated HTTP client for a server. A nil
// store keeps credentials in memory.
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

// HTTPClient returns the underlying HTTP client with auth handling
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

func (c *AuthClient) endpoint(path string) string {
	return c.serverURL + c.basePath + path
}

// GetToken returns the current access token, refreshing if needed. It
// returns "" when there is no usable credential.
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
		cred, _ = c.store.GetCredential(c.serverURL)
	}

	if cred == nil || cred.IsExpired() {
		return "", nil
	}
	return cred.AccessToken, nil
}

// GetCredential returns the stored credential for this server
func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// RegisterRequest is the body of POST /register. Extra fields are sent
// alongside the credentials and stored on the user record.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
	Extra    map[string]any
}

// Register creates an account. It does not log in.
func (c *AuthClient) Register(ctx context.Context, req RegisterRequest) (*oa.User, error) {
	body := map[string]any{}
	for k, v := range req.Extra {
		body[k] = v
	}
	if req.Username != "" {
		body["username"] = req.Username
	}
	if req.Email != "" {
		body["email"] = req.Email
	}
	body["password"] = req.Password

	var resp struct {
		User *oa.User `json:"user"`
	}
	if err := c.postJSON(ctx, "/register", body, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Login authenticates with a username or email and password and stores the
// issued tokens.
func (c *AuthClient) Login(ctx context.Context, username, email, password string) (*ServerCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp tokenResponse
	err := c.postJSON(ctx, "/login", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.storeLocked(resp, "")
}

// Refresh exchanges the stored refresh token for a new access token. It
// needs a server that returns refresh tokens from /login, i.e. one without a
// secret store.
func (c *AuthClient) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return err
	}
	if cred == nil || !cred.HasRefreshToken() {
		return fmt.Errorf("no refresh token available")
	}
	return c.refreshLocked(ctx, cred)
}

// Me fetches the logged in user.
func (c *AuthClient) Me(ctx context.Context) (*oa.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/me"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		User *oa.User `json:"user"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Logout removes the credential for this server
func (c *AuthClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

// IsLoggedIn returns true if there is a valid (non-expired) credential
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return false
	}
	return !cred.IsExpired()
}

type tokenResponse struct {
	User         *oa.User `json:"user"`
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
}

// refreshLocked refreshes the access token using the refresh token
// Caller must hold c.mu
func (c *AuthClient) refreshLocked(ctx context.Context, cred *ServerCredential) error {
	var resp tokenResponse
	if err := c.postJSON(ctx, "/refresh", map[string]string{"refreshToken": cred.RefreshToken}, &resp); err != nil {
		return err
	}
	_, err := c.storeLocked(resp, cred.RefreshToken)
	return err
}

// storeLocked saves the tokens in resp. The previous refresh token is kept
// when the server does not issue a new one.
func (c *AuthClient) storeLocked(resp tokenResponse, prevRefresh string) (*ServerCredential, error) {
	cred := &ServerCredential{
		AccessToken:  resp.Token,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    tokenExpiry(resp.Token),
		CreatedAt:    time.Now(),
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = prevRefresh
	}
	if resp.User != nil {
		cred.UserID = resp.User.ID
		cred.Username = resp.User.Username
		cred.Email = resp.User.Email
	}

	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// client never holds the signing secret. Unparseable tokens are treated
// as already expired.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// postJSON sends body to path over the base transport so that token
// requests never recurse through refreshTransport.
func (c *AuthClient) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Transport: c.baseTransport, Timeout: c.httpClient.Timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		json.Unmarshal(body, apiErr)
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}
