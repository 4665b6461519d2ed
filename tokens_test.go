package authsdk_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	oa "github.com/panyam/authsdk"
)

func newTokenService(cfg *oa.Config) *oa.TokenService {
	reg := oa.NewRegistry()
	if cfg != nil {
		reg.SetConfig(cfg.EnsureDefaults())
	}
	return oa.NewTokenService(reg)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	tokens := newTokenService(&oa.Config{JWTSecret: "round-trip-secret"})

	payload := map[string]any{"id": "user-1", "role": "admin"}
	token, err := tokens.SignToken(payload, time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Fatalf("expected three segment token, got %q", token)
	}

	got, err := tokens.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if len(got) != len(payload) {
		t.Errorf("payload = %v, want exactly %v", got, payload)
	}
	for k, v := range payload {
		if got[k] != v {
			t.Errorf("payload[%q] = %v, want %v", k, got[k], v)
		}
	}

	claims, err := tokens.ParseClaims(token)
	if err != nil {
		t.Fatalf("ParseClaims() error = %v", err)
	}
	if d := claims.ExpiresAt.Sub(claims.IssuedAt); d != time.Hour {
		t.Errorf("lifetime = %v, want 1h", d)
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	now := time.Now()
	tokens := newTokenService(&oa.Config{JWTSecret: "expiry-secret"}).WithClock(func() time.Time { return now })

	token, err := tokens.SignToken(map[string]any{"id": "u"}, time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}

	now = now.Add(59 * time.Minute)
	if _, err := tokens.VerifyToken(token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}

	now = now.Add(2 * time.Minute)
	_, err = tokens.VerifyToken(token)
	if !errors.Is(err, oa.ErrInvalidToken) {
		t.Fatalf("expected InvalidTokenError past expiry, got %v", err)
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expected jwt.ErrTokenExpired cause, got %v", err)
	}
}

func TestSignToken_DefaultExpiry(t *testing.T) {
	tokens := newTokenService(&oa.Config{JWTSecret: "s"})
	token, _ := tokens.SignToken(map[string]any{"id": "u"}, 0)
	claims, err := tokens.ParseClaims(token)
	if err != nil {
		t.Fatalf("ParseClaims() error = %v", err)
	}
	if d := claims.ExpiresAt.Sub(claims.IssuedAt); d != oa.DefaultTokenExpiry {
		t.Errorf("lifetime = %v, want %v", d, oa.DefaultTokenExpiry)
	}
}

func TestTokens_MissingConfiguration(t *testing.T) {
	unset := newTokenService(nil)
	if _, err := unset.SignToken(map[string]any{"id": "u"}, time.Hour); !errors.Is(err, oa.ErrConfiguration) {
		t.Errorf("SignToken() without config: got %v, want ConfigurationError", err)
	}

	noSecret := newTokenService(&oa.Config{})
	_, err := noSecret.SignToken(map[string]any{"id": "u"}, time.Hour)
	if !errors.Is(err, oa.ConfigurationError(oa.MsgSecretNotConfigured)) {
		t.Errorf("SignToken() without secret: got %v", err)
	}
	if _, err := noSecret.VerifyToken("a.b.c"); !errors.Is(err, oa.ErrConfiguration) {
		t.Errorf("VerifyToken() without secret: got %v, want ConfigurationError", err)
	}
}

func TestVerifyToken_Rejections(t *testing.T) {
	tokens := newTokenService(&oa.Config{JWTSecret: "right-secret"})
	other := newTokenService(&oa.Config{JWTSecret: "wrong-secret"})
	good, _ := tokens.SignToken(map[string]any{"id": "u"}, time.Hour)
	foreign, _ := other.SignToken(map[string]any{"id": "u"}, time.Hour)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": "u"})
	noExpToken, _ := noExp.SignedString([]byte("right-secret"))

	wrongAlg := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"id": "u", "exp": time.Now().Add(time.Hour).Unix()})
	wrongAlgToken, _ := wrongAlg.SignedString([]byte("right-secret"))

	parts := strings.Split(good, ".")
	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"id":"admin","exp":9999999999}`))
	tampered := parts[0] + "." + forged + "." + parts[2]

	tests := map[string]string{
		"garbage":         "not-a-token",
		"empty":           "",
		"wrong secret":    foreign,
		"tampered":        tampered,
		"no expiry":       noExpToken,
		"wrong algorithm": wrongAlgToken,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tokens.VerifyToken(token)
			if !errors.Is(err, oa.ErrInvalidToken) {
				t.Errorf("got %v, want InvalidTokenError", err)
			}
			if oa.MessageOf(err) != oa.MsgInvalidToken {
				t.Errorf("message = %q, want uniform %q", oa.MessageOf(err), oa.MsgInvalidToken)
			}
		})
	}
}

func TestTokens_Issuer(t *testing.T) {
	issuing := newTokenService(&oa.Config{JWTSecret: "shared", Issuer: "auth.example.com"})
	token, _ := issuing.SignToken(map[string]any{"id": "u"}, time.Hour)

	claims, err := issuing.ParseClaims(token)
	if err != nil {
		t.Fatalf("ParseClaims() error = %v", err)
	}
	if claims.Issuer != "auth.example.com" {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
	if _, ok := claims.Payload["iss"]; ok {
		t.Error("iss should not be part of the payload")
	}

	strict := newTokenService(&oa.Config{JWTSecret: "shared", Issuer: "other.example.com"})
	if _, err := strict.VerifyToken(token); !errors.Is(err, oa.ErrInvalidToken) {
		t.Errorf("expected issuer mismatch to be rejected, got %v", err)
	}
}

func TestTokens_SigningAlgorithm(t *testing.T) {
	tokens := newTokenService(&oa.Config{JWTSecret: "s", SigningAlg: "HS512"})
	token, err := tokens.SignToken(map[string]any{"id": "u"}, time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	if _, err := tokens.VerifyToken(token); err != nil {
		t.Errorf("VerifyToken() error = %v", err)
	}

	bad := newTokenService(&oa.Config{JWTSecret: "s", SigningAlg: "none"})
	if _, err := bad.SignToken(map[string]any{"id": "u"}, time.Hour); !errors.Is(err, oa.ErrConfiguration) {
		t.Errorf("expected ConfigurationError for unsupported algorithm, got %v", err)
	}
}
