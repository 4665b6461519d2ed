package authsdk

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// AuthType selects the authentication strategy. Only AuthTypeManual is
// implemented; the others are reserved.
type AuthType string

const (
	AuthTypeManual    AuthType = "MANUAL"
	AuthTypeGoogle    AuthType = "GOOGLE"
	AuthTypeFacebook  AuthType = "FACEBOOK"
	AuthTypeTwoFactor AuthType = "2FA"
)

// Default token lifetimes
const (
	DefaultTokenExpiry        = 24 * time.Hour
	DefaultRefreshTokenExpiry = 7 * 24 * time.Hour
	DefaultBcryptCost         = 10
)

// Config holds the authentication settings. It is set once at startup and
// read on every call.
type Config struct {
	AuthType            AuthType      `env:"TYPE" envDefault:"MANUAL"`
	JWTSecret           string        `env:"JWT_SECRET"`
	TokenExpiry         time.Duration `env:"TOKEN_EXPIRY"`         // e.g. "1d", "2h"
	RefreshTokenExpiry  time.Duration `env:"REFRESH_TOKEN_EXPIRY"` // e.g. "7d", "30d"
	RequireRefreshToken bool          `env:"REQUIRE_REFRESH_TOKEN"`
	SigningAlg          string        `env:"JWT_SIGNING_ALG"` // HS256 (default), HS384, HS512
	Issuer              string        `env:"JWT_ISSUER"`
	BcryptCost          int           `env:"BCRYPT_COST"`
}

// EnsureDefaults fills in zero fields.
func (c *Config) EnsureDefaults() *Config {
	if c.AuthType == "" {
		c.AuthType = AuthTypeManual
	}
	if c.TokenExpiry <= 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.RefreshTokenExpiry <= 0 {
		c.RefreshTokenExpiry = DefaultRefreshTokenExpiry
	}
	if c.SigningAlg == "" {
		c.SigningAlg = "HS256"
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = DefaultBcryptCost
	}
	return c
}

// LoadConfigFromEnv reads a Config from environment variables. With prefix
// "AUTH_" the secret is read from AUTH_JWT_SECRET and so on. Durations
// accept day and week units as well as Go duration syntax.
func LoadConfigFromEnv(prefix string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{
		Prefix: prefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(time.Duration(0)): func(v string) (any, error) {
				return ParseExpiry(v)
			},
		},
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg.EnsureDefaults(), nil
}

// ParseExpiry parses lifetimes such as "1d", "7d", "2w", "1d12h", "90m".
// A bare integer is a number of seconds.
func ParseExpiry(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty expiry")
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	var total time.Duration
	rest := s
	for rest != "" {
		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9') {
			i++
		}
		if i == 0 || i == len(rest) {
			break
		}
		var unit time.Duration
		switch rest[i] {
		case 'd':
			unit = 24 * time.Hour
		case 'w':
			unit = 7 * 24 * time.Hour
		default:
			unit = 0
		}
		if unit == 0 {
			break
		}
		n, _ := strconv.ParseInt(rest[:i], 10, 64)
		total += time.Duration(n) * unit
		rest = rest[i+1:]
	}
	if rest == "" {
		return total, nil
	}
	d, err := time.ParseDuration(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid expiry %q: %w", s, err)
	}
	return total + d, nil
}

// Registry holds the active Config and storage Models. It replaces a
// package-level global: construct one at startup, set both values, and hand
// it to the services.
type Registry struct {
	mu     sync.RWMutex
	config *Config
	models *Models
}

func NewRegistry() *Registry {
	return &Registry{}
}

// SetConfig stores cfg. Later calls overwrite earlier ones.
func (r *Registry) SetConfig(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = cfg
}

// Config returns the active config or a ConfigurationError if none was set.
func (r *Registry) Config() (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.config == nil {
		return nil, ConfigurationError(MsgNotConfigured)
	}
	return r.config, nil
}

// SetModels stores the storage bindings. Later calls overwrite earlier ones.
func (r *Registry) SetModels(m *Models) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = m
}

// Models returns the storage bindings or a ConfigurationError if none were
// registered.
func (r *Registry) Models() (*Models, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.models == nil || r.models.Users == nil {
		return nil, ConfigurationError(MsgModelsNotRegistered)
	}
	return r.models, nil
}
