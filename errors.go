package authsdk

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind identifies which family an authentication failure belongs to.
// The HTTP layer switches on it to pick a status code.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation_error"
	KindUnauthorized  ErrorKind = "unauthorized"
	KindConfiguration ErrorKind = "configuration_error"
	KindInvalidToken  ErrorKind = "invalid_token"
)

// Messages returned to callers. Login failures always use MsgInvalidCredentials
// so a caller cannot tell a missing account from a wrong password.
const (
	MsgCredentialsRequired = "Email/Username and Password required"
	MsgUserExists          = "User already exists"
	MsgInvalidCredentials  = "Invalid credentials"
	MsgNotConfigured       = "Auth SDK is not configured yet!"
	MsgModelsNotRegistered = "Storage models not registered yet!"
	MsgSecretNotConfigured = "JWT Secret is not configured for the current authentication type."
	MsgInvalidToken        = "Invalid token"
)

// Error is the single error type surfaced by the SDK.
type Error struct {
	Kind    ErrorKind
	Message string
	Status  int   // suggested HTTP status
	Err     error // underlying cause, never shown to callers
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so the Err*
// sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is comparisons. They match any error of their kind.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrUnauthorized  = &Error{Kind: KindUnauthorized}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrInvalidToken  = &Error{Kind: KindInvalidToken}
)

// ErrDuplicateRecord is returned by stores when a create violates one of
// their uniqueness constraints.
var ErrDuplicateRecord = errors.New("duplicate record")

func ValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Status: http.StatusUnprocessableEntity}
}

func UnauthorizedError(msg string) *Error {
	if msg == "" {
		msg = "Unauthorized"
	}
	return &Error{Kind: KindUnauthorized, Message: msg, Status: http.StatusUnauthorized}
}

func ConfigurationError(msg string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg, Status: http.StatusInternalServerError}
}

func InvalidTokenError(cause error) *Error {
	return &Error{Kind: KindInvalidToken, Message: MsgInvalidToken, Status: http.StatusUnauthorized, Err: cause}
}

// KindOf returns the kind of err, or "" if err is not an SDK error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusOf maps err to an HTTP status. Errors outside the taxonomy
// (storage failures and the like) are server errors.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}

// PartialWriteError reports a registration whose user record was committed
// but whose email or secret record could not be written. No rollback is
// attempted; the user record stays in place.
type PartialWriteError struct {
	UserID string
	Step   string // "email" or "secret"
	Err    error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("user %s created but %s record failed: %v", e.UserID, e.Step, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }
