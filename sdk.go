package authsdk

import (
	"context"
	"log/slog"
)

// SDK wires the registry, token service, manual auth service and
// authenticator together. Build one with New at startup.
type SDK struct {
	Registry      *Registry
	Tokens        *TokenService
	Manual        *ManualAuthService
	Authenticator *Authenticator

	logger *slog.Logger
}

// New sets cfg (with defaults applied) and models on a fresh registry and
// builds the services around it.
func New(cfg *Config, models *Models, opts ...ManualOption) *SDK {
	reg := NewRegistry()
	if cfg != nil {
		reg.SetConfig(cfg.EnsureDefaults())
	}
	if models != nil {
		reg.SetModels(models)
	}
	tokens := NewTokenService(reg)
	manual := NewManualAuthService(reg, tokens, opts...)
	return &SDK{
		Registry:      reg,
		Tokens:        tokens,
		Manual:        manual,
		Authenticator: &Authenticator{Tokens: tokens, Registry: reg},
		logger:        manual.logger,
	}
}

func (s *SDK) Register(ctx context.Context, in RegisterInput) (*User, error) {
	return s.Manual.Register(ctx, in)
}

func (s *SDK) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	return s.Manual.Login(ctx, in)
}

func (s *SDK) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	return s.Manual.Refresh(ctx, refreshToken)
}

func (s *SDK) VerifyToken(token string) (map[string]any, error) {
	return s.Tokens.VerifyToken(token)
}

func (s *SDK) Authenticate(ctx context.Context, token string) (*User, error) {
	return s.Authenticator.Authenticate(ctx, token)
}

// Middleware returns an HTTP middleware bound to this SDK.
func (s *SDK) Middleware() *Middleware {
	return &Middleware{Authenticator: s.Authenticator}
}
