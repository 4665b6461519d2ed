package authsdk

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types stamped into login issued tokens
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// claims managed by the token service and stripped from verified payloads
var registeredClaims = []string{"iat", "exp", "nbf", "iss"}

// TokenClaims is a verified token: the caller payload plus its timing.
type TokenClaims struct {
	Payload   map[string]any
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService signs and verifies bearer tokens with the configured secret.
// It keeps no state between calls.
type TokenService struct {
	registry *Registry
	now      func() time.Time
}

func NewTokenService(reg *Registry) *TokenService {
	return &TokenService{registry: reg, now: time.Now}
}

// WithClock overrides the clock used for iat/exp and for expiry checks.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

func (s *TokenService) secret() (*Config, []byte, error) {
	cfg, err := s.registry.Config()
	if err != nil {
		return nil, nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, nil, ConfigurationError(MsgSecretNotConfigured)
	}
	return cfg, []byte(cfg.JWTSecret), nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	}
	return nil, ConfigurationError(fmt.Sprintf("unsupported signing algorithm %q", alg))
}

// SignToken signs payload with an iat of now and an exp of now+expiry.
// A zero expiry means one day.
func (s *TokenService) SignToken(payload map[string]any, expiry time.Duration) (string, error) {
	cfg, key, err := s.secret()
	if err != nil {
		return "", err
	}
	method, err := signingMethod(cfg.SigningAlg)
	if err != nil {
		return "", err
	}
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}

	now := s.now()
	claims := jwt.MapClaims{}
	for k, v := range payload {
		claims[k] = v
	}
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(expiry).Unix()
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}

	tokenString, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// VerifyToken checks the signature and expiry of tokenString and returns the
// payload it was signed with. Every failure other than missing configuration
// is an InvalidTokenError; the jwt cause (jwt.ErrTokenExpired and so on)
// stays reachable with errors.Is.
func (s *TokenService) VerifyToken(tokenString string) (map[string]any, error) {
	claims, err := s.ParseClaims(tokenString)
	if err != nil {
		return nil, err
	}
	return claims.Payload, nil
}

// ParseClaims is VerifyToken with the timing claims broken out.
func (s *TokenService) ParseClaims(tokenString string) (*TokenClaims, error) {
	cfg, key, err := s.secret()
	if err != nil {
		return nil, err
	}
	method, err := signingMethod(cfg.SigningAlg)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	}, opts...)
	if err != nil {
		return nil, InvalidTokenError(err)
	}
	if !token.Valid {
		return nil, InvalidTokenError(jwt.ErrTokenSignatureInvalid)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, InvalidTokenError(jwt.ErrTokenInvalidClaims)
	}

	out := &TokenClaims{Payload: make(map[string]any, len(mc))}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	out.Issuer, _ = mc.GetIssuer()
	for k, v := range mc {
		out.Payload[k] = v
	}
	for _, k := range registeredClaims {
		delete(out.Payload, k)
	}
	return out, nil
}
