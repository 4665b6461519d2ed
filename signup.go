package authsdk

import (
	"fmt"
	"regexp"
)

// SignupPolicy tightens what Register accepts beyond the baseline of one
// identifier and a password. It is opt-in through WithSignupPolicy.
type SignupPolicy struct {
	RequireUsername bool
	RequireEmail    bool

	// UsernamePattern defaults to 3-20 letters, digits, underscores or hyphens
	UsernamePattern string

	// MinPasswordLength defaults to 8 when zero
	MinPasswordLength int
}

const defaultUsernamePattern = `^[a-zA-Z0-9_-]{3,20}$`

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// DefaultSignupPolicy checks the format of whatever identifiers are given
// and requires an 8 character password.
func DefaultSignupPolicy() SignupPolicy {
	return SignupPolicy{MinPasswordLength: 8}
}

var (
	PolicyUsernameRequired = SignupPolicy{RequireUsername: true, RequireEmail: true, MinPasswordLength: 8}
	PolicyEmailOnly        = SignupPolicy{RequireEmail: true, MinPasswordLength: 8}
)

func (p SignupPolicy) GetUsernamePattern() *regexp.Regexp {
	if p.UsernamePattern != "" {
		if re, err := regexp.Compile(p.UsernamePattern); err == nil {
			return re
		}
	}
	return regexp.MustCompile(defaultUsernamePattern)
}

func (p SignupPolicy) GetMinPasswordLength() int {
	if p.MinPasswordLength > 0 {
		return p.MinPasswordLength
	}
	return 8
}

// Validate reports the first rule that in breaks as a ValidationError.
func (p SignupPolicy) Validate(in RegisterInput) error {
	if p.RequireUsername && in.Username == "" {
		return ValidationError("Username is required")
	}
	if p.RequireEmail && in.Email == "" {
		return ValidationError("Email is required")
	}
	if in.Username != "" && !p.GetUsernamePattern().MatchString(in.Username) {
		return ValidationError("Username must be 3-20 characters and contain only letters, numbers, underscores, and hyphens")
	}
	if in.Email != "" && !emailPattern.MatchString(in.Email) {
		return ValidationError("Invalid email format")
	}
	if minLen := p.GetMinPasswordLength(); len(in.Password) < minLen {
		return ValidationError(fmt.Sprintf("Password must be at least %d characters", minLen))
	}
	return nil
}
