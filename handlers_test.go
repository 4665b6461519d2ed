package authsdk_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	oa "github.com/panyam/authsdk"
	"github.com/panyam/authsdk/stores/memory"
)

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]any
	json.Unmarshal(rr.Body.Bytes(), &out)
	return rr, out
}

func TestHandlers_RegisterLoginMe(t *testing.T) {
	sdk := newTestSDK(t, memory.NewModels(true, false), requireRefresh)
	router := sdk.Router()

	rr, body := doJSON(t, router, http.MethodPost, "/register", "", map[string]any{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "pw1",
		"team":     "blue",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rr.Code, rr.Body.String())
	}
	user := body["user"].(map[string]any)
	if user["username"] != "alice" || user["team"] != "blue" {
		t.Errorf("unexpected user %v", user)
	}
	if _, ok := user["password"]; ok {
		t.Error("password hash leaked in register response")
	}

	rr, body = doJSON(t, router, http.MethodPost, "/login", "", map[string]any{"username": "alice", "password": "pw1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Error("token responses must not be cached")
	}
	token, _ := body["token"].(string)
	refresh, _ := body["refreshToken"].(string)
	if token == "" || refresh == "" {
		t.Fatalf("expected token and refreshToken, got %v", body)
	}

	rr, body = doJSON(t, router, http.MethodGet, "/me", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if body["user"].(map[string]any)["email"] != "alice@example.com" {
		t.Errorf("unexpected /me body %v", body)
	}

	rr, body = doJSON(t, router, http.MethodPost, "/refresh", "", map[string]any{"refreshToken": refresh})
	if rr.Code != http.StatusOK || body["token"] == "" {
		t.Fatalf("refresh status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestHandlers_RefreshWithSecretStore(t *testing.T) {
	ctx := context.Background()
	models := memory.NewModels(true, true)
	sdk := newTestSDK(t, models, requireRefresh)
	router := sdk.Router()

	doJSON(t, router, http.MethodPost, "/register", "", map[string]any{"username": "alice", "password": "pw1"})
	rr, body := doJSON(t, router, http.MethodPost, "/login", "", map[string]any{"username": "alice", "password": "pw1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if _, ok := body["refreshToken"]; ok {
		t.Fatalf("refreshToken must stay in the secret store, got %v", body)
	}
	userID := body["user"].(map[string]any)["id"].(string)

	secret, err := models.Secrets.FindOne(ctx, oa.Filter{UserRef: userID})
	if err != nil || secret == nil || secret.RefreshToken == "" {
		t.Fatalf("secret = %+v, err = %v", secret, err)
	}
	rr, body = doJSON(t, router, http.MethodPost, "/refresh", "", map[string]any{"refreshToken": secret.RefreshToken})
	if rr.Code != http.StatusOK || body["token"] == "" {
		t.Fatalf("refresh status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestHandlers_Errors(t *testing.T) {
	sdk := newTestSDK(t, memory.NewModels(false, false))
	router := sdk.Router()
	doJSON(t, router, http.MethodPost, "/register", "", map[string]any{"username": "bob", "password": "pw"})

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		kind   string
	}{
		{"register missing password", http.MethodPost, "/register", "", map[string]any{"username": "x"}, http.StatusUnprocessableEntity, "validation_error"},
		{"register duplicate", http.MethodPost, "/register", "", map[string]any{"username": "bob", "password": "pw"}, http.StatusUnprocessableEntity, "validation_error"},
		{"login wrong password", http.MethodPost, "/login", "", map[string]any{"username": "bob", "password": "nope"}, http.StatusUnauthorized, "unauthorized"},
		{"login unknown user", http.MethodPost, "/login", "", map[string]any{"username": "zed", "password": "pw"}, http.StatusUnauthorized, "unauthorized"},
		{"me without token", http.MethodGet, "/me", "", nil, http.StatusUnauthorized, "unauthorized"},
		{"me with garbage token", http.MethodGet, "/me", "garbage", nil, http.StatusUnauthorized, "invalid_token"},
		{"refresh without token", http.MethodPost, "/refresh", "", map[string]any{}, http.StatusUnprocessableEntity, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := doJSON(t, router, tt.method, tt.path, tt.token, tt.body)
			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.status, rr.Body.String())
			}
			if body["error"] != tt.kind {
				t.Errorf("error = %v, want %q", body["error"], tt.kind)
			}
			if desc, _ := body["error_description"].(string); desc == "" {
				t.Error("expected error_description")
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("malformed body status = %d, want 422", rr.Code)
	}
}

func TestHandlers_LoginFailuresIndistinguishable(t *testing.T) {
	sdk := newTestSDK(t, memory.NewModels(false, false))
	router := sdk.Router()
	doJSON(t, router, http.MethodPost, "/register", "", map[string]any{"username": "bob", "password": "pw"})

	a, _ := doJSON(t, router, http.MethodPost, "/login", "", map[string]any{"username": "bob", "password": "nope"})
	b, _ := doJSON(t, router, http.MethodPost, "/login", "", map[string]any{"username": "nobody", "password": "pw"})
	if a.Code != b.Code || a.Body.String() != b.Body.String() {
		t.Errorf("responses differ:\n%s\n%s", a.Body.String(), b.Body.String())
	}
}

func TestMiddleware_RequireUser(t *testing.T) {
	ctx := context.Background()
	sdk := newTestSDK(t, memory.NewModels(false, false))
	sdk.Register(ctx, oa.RegisterInput{Username: "cy", Password: "pw"})
	res, _ := sdk.Login(ctx, oa.LoginInput{Username: "cy", Password: "pw"})

	var seen *oa.User
	h := sdk.Middleware().RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = oa.UserFromContext(r.Context())
	}))

	rr, _ := doJSON(t, h, http.MethodGet, "/", res.Token, nil)
	if rr.Code != http.StatusOK || seen == nil || seen.ID != res.User.ID {
		t.Fatalf("status = %d, user = %+v", rr.Code, seen)
	}

	seen = nil
	rr, _ = doJSON(t, h, http.MethodGet, "/", "", nil)
	if rr.Code != http.StatusUnauthorized || seen != nil {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("WWW-Authenticate"), "Bearer") {
		t.Errorf("WWW-Authenticate = %q", rr.Header().Get("WWW-Authenticate"))
	}
}

func TestMiddleware_OptionalUser(t *testing.T) {
	ctx := context.Background()
	sdk := newTestSDK(t, memory.NewModels(false, false))
	sdk.Register(ctx, oa.RegisterInput{Username: "dee", Password: "pw"})
	res, _ := sdk.Login(ctx, oa.LoginInput{Username: "dee", Password: "pw"})

	var seen *oa.User
	calls := 0
	h := sdk.Middleware().OptionalUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		seen = oa.UserFromContext(r.Context())
	}))

	doJSON(t, h, http.MethodGet, "/", "", nil)
	if seen != nil {
		t.Error("expected anonymous request")
	}
	doJSON(t, h, http.MethodGet, "/", "forged", nil)
	if seen != nil {
		t.Error("expected invalid token to be ignored")
	}
	doJSON(t, h, http.MethodGet, "/", res.Token, nil)
	if seen == nil || seen.Username != "dee" {
		t.Errorf("expected dee, got %+v", seen)
	}
	if calls != 3 {
		t.Errorf("handler called %d times, want 3", calls)
	}
}

func TestMiddleware_CustomErrorHandler(t *testing.T) {
	sdk := newTestSDK(t, memory.NewModels(false, false))
	m := sdk.Middleware()
	m.AuthHeader = "X-Api-Token"
	var got error
	m.OnAuthError = func(w http.ResponseWriter, r *http.Request, err error) {
		got = err
		w.WriteHeader(http.StatusTeapot)
	}
	h := m.RequireUser(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ignored")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusTeapot || !errors.Is(got, oa.ErrUnauthorized) {
		t.Errorf("status = %d, err = %v", rr.Code, got)
	}
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	ctx := context.Background()
	sdk := newTestSDK(t, memory.NewModels(false, false))

	token, err := sdk.Tokens.SignToken(map[string]any{"id": "ghost", "type": oa.TokenTypeAccess}, time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	if _, err := sdk.Authenticate(ctx, token); !errors.Is(err, oa.ErrUnauthorized) {
		t.Errorf("token for a missing user: got %v, want UnauthorizedError", err)
	}

	noID, _ := sdk.Tokens.SignToken(map[string]any{"type": oa.TokenTypeAccess}, time.Hour)
	if _, err := sdk.Authenticate(ctx, noID); !errors.Is(err, oa.ErrInvalidToken) {
		t.Errorf("token without id: got %v, want InvalidTokenError", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := oa.BearerToken(tt.header)
		if token != tt.token || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, token, ok, tt.token, tt.ok)
		}
	}
}
