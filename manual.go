package authsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RegisterInput is a registration request. Extra holds any additional
// profile fields; they are stored on the user record as given.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Extra    map[string]any
}

// LoginInput is a login request. Either Username or Email identifies the user.
type LoginInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult is returned by a successful login. RefreshToken is only set
// when a refresh token is required and no secret store exists to hold it.
type LoginResult struct {
	User         *User  `json:"user"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// CredentialsFromMap splits a decoded request body into a RegisterInput.
// Non-string identity fields are treated as absent.
func CredentialsFromMap(body map[string]any) RegisterInput {
	in := RegisterInput{}
	in.Username, _ = body["username"].(string)
	in.Email, _ = body["email"].(string)
	in.Password, _ = body["password"].(string)
	for k, v := range body {
		if reservedUserKeys[k] {
			continue
		}
		if in.Extra == nil {
			in.Extra = map[string]any{}
		}
		in.Extra[k] = v
	}
	return in
}

// ManualOption customizes a ManualAuthService.
type ManualOption func(*ManualAuthService)

// WithHasher replaces the default bcrypt hasher.
func WithHasher(h PasswordHasher) ManualOption {
	return func(s *ManualAuthService) { s.hasher = h }
}

// WithLogger sets the logger used for flow tracing.
func WithLogger(l *slog.Logger) ManualOption {
	return func(s *ManualAuthService) { s.logger = l }
}

// WithClock overrides the clock used for record timestamps.
func WithClock(now func() time.Time) ManualOption {
	return func(s *ManualAuthService) { s.now = now }
}

// WithIDGenerator overrides how user references are minted.
func WithIDGenerator(gen func() string) ManualOption {
	return func(s *ManualAuthService) { s.newID = gen }
}

// WithSignupPolicy applies policy to every registration after the baseline
// checks.
func WithSignupPolicy(policy SignupPolicy) ManualOption {
	return func(s *ManualAuthService) { s.policy = &policy }
}

// ManualAuthService registers and logs in users with username/email and
// password. It holds no per-request state and is safe for concurrent use.
type ManualAuthService struct {
	registry *Registry
	tokens   *TokenService
	hasher   PasswordHasher
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	policy   *SignupPolicy
}

func NewManualAuthService(reg *Registry, tokens *TokenService, opts ...ManualOption) *ManualAuthService {
	s := &ManualAuthService{
		registry: reg,
		tokens:   tokens,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ManualAuthService) passwordHasher() (PasswordHasher, error) {
	if s.hasher != nil {
		return s.hasher, nil
	}
	cfg, err := s.registry.Config()
	if err != nil {
		return nil, err
	}
	return BcryptHasher{Cost: cfg.BcryptCost}, nil
}

func validateCredentials(username, email, password string) error {
	if (username == "" && email == "") || password == "" {
		return ValidationError(MsgCredentialsRequired)
	}
	return nil
}

// Register creates a user record, then the optional email and secret
// records. The three writes are not atomic: if a later write fails the user
// record stays and a *PartialWriteError is returned.
func (s *ManualAuthService) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := validateCredentials(in.Username, in.Email, in.Password); err != nil {
		return nil, err
	}
	if s.policy != nil {
		if err := s.policy.Validate(in); err != nil {
			return nil, err
		}
	}
	models, err := s.registry.Models()
	if err != nil {
		return nil, err
	}
	hasher, err := s.passwordHasher()
	if err != nil {
		return nil, err
	}

	existing, err := models.Users.FindOne(ctx, Filter{Username: in.Username, Email: in.Email})
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return nil, ValidationError(MsgUserExists)
	}

	hashed, err := hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &User{
		ID:        s.newID(),
		Username:  in.Username,
		Email:     in.Email,
		Password:  hashed,
		CreatedAt: now,
	}
	for k, v := range in.Extra {
		if reservedUserKeys[k] {
			continue
		}
		if user.Extra == nil {
			user.Extra = map[string]any{}
		}
		user.Extra[k] = v
	}

	created, err := models.Users.Create(ctx, user)
	if err != nil {
		// Two registrations can both pass the existence check; the store's
		// unique constraint decides the loser.
		if errors.Is(err, ErrDuplicateRecord) {
			return nil, ValidationError(MsgUserExists)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if models.Emails != nil && in.Email != "" {
		_, err := models.Emails.Create(ctx, &EmailRecord{
			User:      created.ID,
			Email:     in.Email,
			Verified:  false,
			CreatedAt: now,
		})
		if err != nil {
			s.logger.Warn("email record not created, user left in place", "user", created.ID, "error", err)
			return nil, &PartialWriteError{UserID: created.ID, Step: "email", Err: err}
		}
	}

	if models.Secrets != nil {
		_, err := models.Secrets.Create(ctx, &SecretRecord{
			User:      created.ID,
			Password:  hashed,
			UpdatedAt: now,
		})
		if err != nil {
			s.logger.Warn("secret record not created, user left in place", "user", created.ID, "error", err)
			return nil, &PartialWriteError{UserID: created.ID, Step: "secret", Err: err}
		}
	}

	s.logger.Info("registered user", "user", created.ID)
	return created, nil
}

// Login verifies credentials and issues tokens. Every credential failure
// returns the same UnauthorizedError.
func (s *ManualAuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := validateCredentials(in.Username, in.Email, in.Password); err != nil {
		return nil, err
	}
	cfg, err := s.registry.Config()
	if err != nil {
		return nil, err
	}
	models, err := s.registry.Models()
	if err != nil {
		return nil, err
	}
	hasher, err := s.passwordHasher()
	if err != nil {
		return nil, err
	}
	invalid := UnauthorizedError(MsgInvalidCredentials)

	s.logger.Debug("login: looking up")
	if models.Emails != nil && in.Email != "" {
		rec, err := models.Emails.FindOne(ctx, Filter{Email: in.Email})
		if err != nil {
			return nil, fmt.Errorf("failed to look up email: %w", err)
		}
		if rec == nil {
			return nil, invalid
		}
	}

	user, err := models.Users.FindOne(ctx, Filter{Username: in.Username, Email: in.Email})
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, invalid
	}

	s.logger.Debug("login: verifying", "user", user.ID)
	if models.Secrets != nil {
		secret, err := models.Secrets.FindOne(ctx, Filter{UserRef: user.ID})
		if err != nil {
			return nil, fmt.Errorf("failed to look up secret: %w", err)
		}
		if secret == nil || !hasher.Compare(secret.Password, in.Password) {
			return nil, invalid
		}
	}
	// The user record's own hash must match as well, secret store or not.
	if !hasher.Compare(user.Password, in.Password) {
		return nil, invalid
	}

	s.logger.Debug("login: issuing", "user", user.ID)
	token, err := s.tokens.SignToken(accessClaims(user), cfg.TokenExpiry)
	if err != nil {
		return nil, err
	}
	result := &LoginResult{User: user, Token: token}

	if !cfg.RequireRefreshToken {
		return result, nil
	}
	refresh, err := s.tokens.SignToken(map[string]any{"id": user.ID, "type": TokenTypeRefresh}, cfg.RefreshTokenExpiry)
	if err != nil {
		return nil, err
	}
	if models.Secrets == nil {
		result.RefreshToken = refresh
		return result, nil
	}
	updated, err := models.Secrets.UpdateOne(ctx, Filter{UserRef: user.ID}, func(sr *SecretRecord) {
		sr.RefreshToken = refresh
		sr.UpdatedAt = s.now()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	if updated == nil {
		return nil, invalid
	}
	return result, nil
}

func accessClaims(user *User) map[string]any {
	claims := map[string]any{"id": user.ID, "type": TokenTypeAccess}
	if user.Username != "" {
		claims["username"] = user.Username
	}
	if user.Email != "" {
		claims["email"] = user.Email
	}
	return claims
}

// Refresh exchanges a refresh token for a new access token. When a secret
// store is configured the token must also be the one last persisted for
// the user, so each login invalidates earlier refresh tokens. Login never
// returns the token in that mode: callers read it from the user's
// SecretRecord.
func (s *ManualAuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	cfg, err := s.registry.Config()
	if err != nil {
		return nil, err
	}
	models, err := s.registry.Models()
	if err != nil {
		return nil, err
	}
	payload, err := s.tokens.VerifyToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if t, _ := payload["type"].(string); t != TokenTypeRefresh {
		return nil, InvalidTokenError(errors.New("not a refresh token"))
	}
	userID, _ := payload["id"].(string)
	if userID == "" {
		return nil, InvalidTokenError(errors.New("missing subject"))
	}

	user, err := models.Users.FindOne(ctx, Filter{UserRef: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, UnauthorizedError(MsgInvalidCredentials)
	}
	if models.Secrets != nil {
		secret, err := models.Secrets.FindOne(ctx, Filter{UserRef: userID})
		if err != nil {
			return nil, fmt.Errorf("failed to look up secret: %w", err)
		}
		if secret == nil || secret.RefreshToken != refreshToken {
			return nil, InvalidTokenError(errors.New("refresh token superseded"))
		}
	}

	token, err := s.tokens.SignToken(accessClaims(user), cfg.TokenExpiry)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Token: token}, nil
}

// MarkEmailVerified flips the verified flag on an email record.
func (s *ManualAuthService) MarkEmailVerified(ctx context.Context, email string) error {
	models, err := s.registry.Models()
	if err != nil {
		return err
	}
	if models.Emails == nil {
		return ConfigurationError("email store not configured")
	}
	rec, err := models.Emails.UpdateOne(ctx, Filter{Email: email}, func(e *EmailRecord) {
		e.Verified = true
	})
	if err != nil {
		return fmt.Errorf("failed to verify email: %w", err)
	}
	if rec == nil {
		return ValidationError("email not found")
	}
	return nil
}
