package authsdk

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// Router returns the JSON endpoints:
//
//	POST /register  body {username?, email?, password, ...extra}
//	POST /login     body {username?, email?, password}
//	POST /refresh   body {refreshToken}
//	GET  /me        Authorization: Bearer <token>
func (s *SDK) Router() *mux.Router {
	r := mux.NewRouter()
	s.Mount(r)
	return r
}

// Mount adds the endpoints to an existing router, e.g. a PathPrefix subrouter.
//
// /login only returns a refreshToken when RequireRefreshToken is set and no
// secret store is configured. With a secret store the token is kept on the
// user's SecretRecord, so /refresh is only reachable by server code that
// reads it from there; HTTP clients log in again instead.
func (s *SDK) Mount(r *mux.Router) {
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.Handle("/me", s.Middleware().RequireUser(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)
}

func (s *SDK) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, ValidationError("Invalid request body"))
		return
	}
	user, err := s.Register(r.Context(), CredentialsFromMap(body))
	if err != nil {
		s.logFailure("register", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user.Public()})
}

func (s *SDK) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ValidationError("Invalid request body"))
		return
	}
	res, err := s.Login(r.Context(), LoginInput{Username: req.Username, Email: req.Email, Password: req.Password})
	if err != nil {
		s.logFailure("login", err)
		writeError(w, err)
		return
	}
	writeTokens(w, res)
}

func (s *SDK) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, ValidationError("Refresh token required"))
		return
	}
	res, err := s.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.logFailure("refresh", err)
		writeError(w, err)
		return
	}
	writeTokens(w, res)
}

func (s *SDK) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": UserFromContext(r.Context()).Public()})
}

func (s *SDK) logFailure(op string, err error) {
	if StatusOf(err) >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
		return
	}
	s.logger.Debug(op+" rejected", "kind", KindOf(err))
}

func writeTokens(w http.ResponseWriter, res *LoginResult) {
	body := map[string]any{
		"user":  res.User.Public(),
		"token": res.Token,
	}
	if res.RefreshToken != "" {
		body["refreshToken"] = res.RefreshToken
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
