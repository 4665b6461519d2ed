package authsdk

import (
	"context"
	"encoding/json"
	"maps"
	"time"
)

// Filter selects a record by any of its identifiers. Non-empty fields are
// OR-combined; a filter with no fields set matches nothing.
type Filter struct {
	Username string
	Email    string
	UserRef  string
}

// IsEmpty reports whether no identifier is set.
func (f Filter) IsEmpty() bool {
	return f.Username == "" && f.Email == "" && f.UserRef == ""
}

// Entity is implemented by pointers to every persisted record kind. Generic
// store backends use it to key, match and index records.
type Entity interface {
	// Key is the primary key of the record.
	Key() string
	// Matches reports whether the record satisfies f.
	Matches(f Filter) bool
	// UniqueKeys lists the values that must be unique across the store.
	UniqueKeys() []string
}

// Store is the contract every collaborator store satisfies. FindOne and
// UpdateOne return (nil, nil) when nothing matches. Create returns
// ErrDuplicateRecord (possibly wrapped) when the backend rejects a
// uniqueness violation.
type Store[T any] interface {
	FindOne(ctx context.Context, filter Filter) (*T, error)
	Create(ctx context.Context, record *T) (*T, error)
	UpdateOne(ctx context.Context, filter Filter, update func(*T)) (*T, error)
}

// Models binds the collaborator stores. Users is required; Emails and
// Secrets are optional and nil when not configured.
type Models struct {
	Users   Store[User]
	Emails  Store[EmailRecord]
	Secrets Store[SecretRecord]
}

// User is the canonical identity record. Extra carries caller supplied
// profile fields verbatim.
type User struct {
	ID        string
	Username  string
	Email     string
	Password  string // salted hash, never plaintext
	CreatedAt time.Time
	Extra     map[string]any
}

// reserved keys cannot be overridden by pass-through fields
var reservedUserKeys = map[string]bool{
	"id": true, "_id": true, "username": true, "email": true, "password": true, "created_at": true,
}

func (u *User) Key() string { return u.ID }

func (u *User) Matches(f Filter) bool {
	return (f.UserRef != "" && f.UserRef == u.ID) ||
		(f.Username != "" && f.Username == u.Username) ||
		(f.Email != "" && f.Email == u.Email)
}

func (u *User) UniqueKeys() []string {
	var out []string
	if u.Username != "" {
		out = append(out, "username:"+u.Username)
	}
	if u.Email != "" {
		out = append(out, "email:"+u.Email)
	}
	return out
}

// Clone returns a deep enough copy for stores to hand out safely.
func (u *User) Clone() *User {
	out := *u
	out.Extra = maps.Clone(u.Extra)
	return &out
}

// MarshalJSON flattens Extra into the top level object.
func (u User) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(u.Extra)+5)
	for k, v := range u.Extra {
		if !reservedUserKeys[k] {
			m[k] = v
		}
	}
	m["id"] = u.ID
	if u.Username != "" {
		m["username"] = u.Username
	}
	if u.Email != "" {
		m["email"] = u.Email
	}
	m["password"] = u.Password
	m["created_at"] = u.CreatedAt
	return json.Marshal(m)
}

func (u *User) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*u = User{}
	u.ID, _ = m["id"].(string)
	u.Username, _ = m["username"].(string)
	u.Email, _ = m["email"].(string)
	u.Password, _ = m["password"].(string)
	if s, ok := m["created_at"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		u.CreatedAt = t
	}
	for k, v := range m {
		if reservedUserKeys[k] {
			continue
		}
		if u.Extra == nil {
			u.Extra = map[string]any{}
		}
		u.Extra[k] = v
	}
	return nil
}

// Public returns the user without the password hash, for responses.
func (u *User) Public() map[string]any {
	out := make(map[string]any, len(u.Extra)+4)
	for k, v := range u.Extra {
		if !reservedUserKeys[k] {
			out[k] = v
		}
	}
	out["id"] = u.ID
	if u.Username != "" {
		out["username"] = u.Username
	}
	if u.Email != "" {
		out["email"] = u.Email
	}
	out["created_at"] = u.CreatedAt
	return out
}

// EmailRecord ties an email address to a user independently of the user
// record's own email field.
type EmailRecord struct {
	User      string    `json:"user"`
	Email     string    `json:"email"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *EmailRecord) Key() string { return e.Email }

func (e *EmailRecord) Matches(f Filter) bool {
	return (f.Email != "" && f.Email == e.Email) ||
		(f.UserRef != "" && f.UserRef == e.User)
}

func (e *EmailRecord) UniqueKeys() []string {
	return []string{"email:" + e.Email}
}

// SecretRecord holds the password hash and the latest refresh token for a
// user. When configured it is authoritative for credential checks.
type SecretRecord struct {
	User         string    `json:"user"`
	Password     string    `json:"password"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *SecretRecord) Key() string { return s.User }

func (s *SecretRecord) Matches(f Filter) bool {
	return f.UserRef != "" && f.UserRef == s.User
}

func (s *SecretRecord) UniqueKeys() []string {
	return []string{"user:" + s.User}
}
