//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"

	oa "github.com/panyam/authsdk"
)

// Kind constants for Datastore entities
const (
	KindUser      = "AuthUser"
	KindEmail     = "AuthEmail"
	KindSecret    = "AuthSecret"
	KindUniqueKey = "AuthUniqueKey"
)

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Username  string         `datastore:"username"`
	Email     string         `datastore:"email"`
	Password  string         `datastore:"password,noindex"`
	Extra     []byte         `datastore:"extra,noindex"` // JSON encoded
	CreatedAt time.Time      `datastore:"created_at"`
}

func userToEntity(u *oa.User) *UserEntity {
	var extra []byte
	if len(u.Extra) > 0 {
		extra, _ = json.Marshal(u.Extra)
	}
	return &UserEntity{
		Username:  u.Username,
		Email:     u.Email,
		Password:  u.Password,
		Extra:     extra,
		CreatedAt: u.CreatedAt,
	}
}

func (e *UserEntity) toUser() *oa.User {
	u := &oa.User{
		Username:  e.Username,
		Email:     e.Email,
		Password:  e.Password,
		CreatedAt: e.CreatedAt,
	}
	if e.Key != nil {
		u.ID = e.Key.Name
	}
	if len(e.Extra) > 0 {
		json.Unmarshal(e.Extra, &u.Extra)
	}
	return u
}

// EmailEntity is the Datastore entity for email records
type EmailEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	Verified  bool           `datastore:"verified"`
	CreatedAt time.Time      `datastore:"created_at"`
}

func emailToEntity(r *oa.EmailRecord) *EmailEntity {
	return &EmailEntity{UserID: r.User, Verified: r.Verified, CreatedAt: r.CreatedAt}
}

func (e *EmailEntity) toEmailRecord() *oa.EmailRecord {
	r := &oa.EmailRecord{User: e.UserID, Verified: e.Verified, CreatedAt: e.CreatedAt}
	if e.Key != nil {
		r.Email = e.Key.Name
	}
	return r
}

// SecretEntity is the Datastore entity for credential secrets
type SecretEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Password     string         `datastore:"password,noindex"`
	RefreshToken string         `datastore:"refresh_token,noindex"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
}

func secretToEntity(r *oa.SecretRecord) *SecretEntity {
	return &SecretEntity{Password: r.Password, RefreshToken: r.RefreshToken, UpdatedAt: r.UpdatedAt}
}

func (e *SecretEntity) toSecretRecord() *oa.SecretRecord {
	r := &oa.SecretRecord{Password: e.Password, RefreshToken: e.RefreshToken, UpdatedAt: e.UpdatedAt}
	if e.Key != nil {
		r.User = e.Key.Name
	}
	return r
}

// UniqueKeyEntity reserves one unique key ("username:alice") for a record
type UniqueKeyEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Kind      string         `datastore:"kind"`
	Owner     string         `datastore:"owner"`
	CreatedAt time.Time      `datastore:"created_at"`
}
