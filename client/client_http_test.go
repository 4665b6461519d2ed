package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"

	oa "github.com/panyam/authsdk"
	"github.com/panyam/authsdk/stores/memory"
)

// newSDKServer runs the auth endpoints under /auth. Without a secret store
// the refresh token is handed to the client instead of being persisted.
func newSDKServer(t *testing.T, requireRefresh bool) *httptest.Server {
	t.Helper()
	sdk := oa.New(&oa.Config{
		JWTSecret:           "client-e2e-secret",
		RequireRefreshToken: requireRefresh,
	}, memory.NewModels(true, false))

	r := mux.NewRouter()
	sdk.Mount(r.PathPrefix("/auth").Subrouter())
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func TestAuthClient_RegisterLoginMe(t *testing.T) {
	server := newSDKServer(t, true)
	ctx := context.Background()
	c := NewAuthClient(server.URL, nil, WithBasePath("/auth"))

	user, err := c.Register(ctx, RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "s3cret",
		Extra:    map[string]any{"display_name": "Alice"},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.ID == "" || user.Username != "alice" {
		t.Errorf("unexpected registered user %+v", user)
	}
	if user.Password != "" {
		t.Error("password hash must not be returned")
	}
	if c.IsLoggedIn() {
		t.Error("register should not log in")
	}

	cred, err := c.Login(ctx, "alice", "", "s3cret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		t.Fatalf("expected access and refresh tokens, got %+v", cred)
	}
	if cred.UserID != user.ID {
		t.Errorf("UserID = %q, want %q", cred.UserID, user.ID)
	}
	if time.Until(cred.ExpiresAt) < 23*time.Hour {
		t.Errorf("expected default one day expiry, got %v", cred.ExpiresAt)
	}
	if !c.IsLoggedIn() {
		t.Error("expected client to be logged in")
	}

	me, err := c.Me(ctx)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if me.ID != user.ID || me.Extra["display_name"] != "Alice" {
		t.Errorf("unexpected /me user %+v", me)
	}

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	refreshed, _ := c.GetCredential()
	if refreshed.RefreshToken != cred.RefreshToken {
		t.Error("refresh token should be kept across a refresh")
	}

	if err := c.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := c.Me(ctx); err == nil {
		t.Error("expected /me to fail after logout")
	}
}

func TestAuthClient_Login_InvalidCredentials(t *testing.T) {
	server := newSDKServer(t, false)
	ctx := context.Background()
	c := NewAuthClient(server.URL, nil, WithBasePath("/auth"))

	if _, err := c.Register(ctx, RegisterRequest{Username: "bob", Password: "right"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := c.Login(ctx, "bob", "", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", apiErr.Status)
	}
	if apiErr.Description != oa.MsgInvalidCredentials {
		t.Errorf("Description = %q, want %q", apiErr.Description, oa.MsgInvalidCredentials)
	}
}

func TestAuthClient_Register_Duplicate(t *testing.T) {
	server := newSDKServer(t, false)
	ctx := context.Background()
	c := NewAuthClient(server.URL, nil, WithBasePath("/auth"))

	c.Register(ctx, RegisterRequest{Username: "carol", Password: "pw"})
	_, err := c.Register(ctx, RegisterRequest{Username: "carol", Password: "pw2"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 APIError, got %v", err)
	}
}

func TestAuthClient_GetToken_RefreshesExpiringToken(t *testing.T) {
	var refreshCalls int32
	newToken := makeToken(t, "u1", time.Hour)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/refresh" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		atomic.AddInt32(&refreshCalls, 1)
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["refreshToken"] != "old-refresh-token" {
			t.Errorf("expected old refresh token, got %q", req["refreshToken"])
		}
		json.NewEncoder(w).Encode(map[string]any{"token": newToken})
	}))
	defer server.Close()

	store := NewMemoryCredentialStore()
	c := NewAuthClient(server.URL, store)
	store.SetCredential(c.ServerURL(), &ServerCredential{
		AccessToken:  "expiring-token",
		RefreshToken: "old-refresh-token",
		UserID:       "u1",
		ExpiresAt:    time.Now().Add(2 * time.Minute),
	})

	token, err := c.GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if token != newToken {
		t.Errorf("expected refreshed token")
	}
	if atomic.LoadInt32(&refreshCalls) != 1 {
		t.Errorf("expected 1 refresh call, got %d", refreshCalls)
	}
	cred, _ := store.GetCredential(c.ServerURL())
	if cred.RefreshToken != "old-refresh-token" {
		t.Error("refresh token should be preserved when none is issued")
	}
}

func TestAuthClient_RetriesOnceAfter401(t *testing.T) {
	staleToken := makeToken(t, "u1", time.Hour)
	freshToken := makeToken(t, "u1", 2*time.Hour)

	var apiCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/refresh":
			json.NewEncoder(w).Encode(map[string]any{"token": freshToken})
		case "/api":
			atomic.AddInt32(&apiCalls, 1)
			if r.Header.Get("Authorization") != "Bearer "+freshToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte("ok"))
		}
	}))
	defer server.Close()

	store := NewMemoryCredentialStore()
	c := NewAuthClient(server.URL, store)
	store.SetCredential(c.ServerURL(), &ServerCredential{
		AccessToken:  staleToken,
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	})

	resp, err := c.HTTPClient().Get(server.URL + "/api")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&apiCalls); n != 2 {
		t.Errorf("expected 2 api calls, got %d", n)
	}
}
