package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const userContextKey contextKey = "authsdk_user"

// Authenticator resolves an access token to the user it was issued for.
type Authenticator struct {
	Tokens   *TokenService
	Registry *Registry
}

// Authenticate verifies tokenString and loads the user named by its "id"
// claim. Refresh tokens are not accepted.
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (*User, error) {
	payload, err := a.Tokens.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if t, ok := payload["type"].(string); ok && t != TokenTypeAccess {
		return nil, InvalidTokenError(fmt.Errorf("unexpected token type %q", t))
	}
	userID, _ := payload["id"].(string)
	if userID == "" {
		return nil, InvalidTokenError(errors.New("missing subject"))
	}

	models, err := a.Registry.Models()
	if err != nil {
		return nil, err
	}
	user, err := models.Users.FindOne(ctx, Filter{UserRef: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, UnauthorizedError("")
	}
	return user, nil
}

// ResolveUserID is Authenticate reduced to the user id.
func (a *Authenticator) ResolveUserID(ctx context.Context, tokenString string) (string, error) {
	user, err := a.Authenticate(ctx, tokenString)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// UserFromContext returns the user stored by Middleware, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userContextKey).(*User)
	return u
}

// ContextWithUser stores user in ctx.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// Middleware guards net/http handlers with bearer token authentication.
type Middleware struct {
	Authenticator *Authenticator

	// AuthHeader defaults to "Authorization"
	AuthHeader string

	// OnAuthError replaces the default JSON 401 response
	OnAuthError func(w http.ResponseWriter, r *http.Request, err error)
}

func (m *Middleware) header() string {
	if m.AuthHeader == "" {
		return "Authorization"
	}
	return m.AuthHeader
}

func (m *Middleware) authenticate(r *http.Request) (*User, error) {
	token, ok := BearerToken(r.Header.Get(m.header()))
	if !ok {
		return nil, UnauthorizedError("missing bearer token")
	}
	return m.Authenticator.Authenticate(r.Context(), token)
}

// RequireUser rejects requests without a valid access token and stores the
// resolved user in the request context otherwise.
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.authenticate(r)
		if err != nil {
			m.handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// OptionalUser stores the user when a valid token is present and lets the
// request through either way.
func (m *Middleware) OptionalUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, err := m.authenticate(r); err == nil {
			r = r.WithContext(ContextWithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if m.OnAuthError != nil {
		m.OnAuthError(w, r, err)
		return
	}
	status := StatusOf(err)
	if status >= 500 {
		slog.Error("authentication failed", "error", err)
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	writeError(w, err)
}

// writeError renders err as {"error": kind, "error_description": message}.
func writeError(w http.ResponseWriter, err error) {
	kind := string(KindOf(err))
	if kind == "" {
		kind = "server_error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusOf(err))
	json.NewEncoder(w).Encode(map[string]string{
		"error":             kind,
		"error_description": MessageOf(err),
	})
}
