//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	oa "github.com/panyam/authsdk"
)

// JSONMap is a helper type for storing JSON maps in GORM
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *JSONMap) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
	return json.Unmarshal(data, m)
}

// UserModel is the GORM model for user records. Username and Email are
// nullable so that the unique indexes ignore users without them.
type UserModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Username  *string   `gorm:"size:255;uniqueIndex"`
	Email     *string   `gorm:"size:255;uniqueIndex"`
	Password  string    `gorm:"size:255"`
	Extra     JSONMap   `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (m *UserModel) ToUser() *oa.User {
	return &oa.User{
		ID:        m.ID,
		Username:  deref(m.Username),
		Email:     deref(m.Email),
		Password:  m.Password,
		CreatedAt: m.CreatedAt,
		Extra:     map[string]any(m.Extra),
	}
}

func UserToModel(u *oa.User) *UserModel {
	return &UserModel{
		ID:        u.ID,
		Username:  nullable(u.Username),
		Email:     nullable(u.Email),
		Password:  u.Password,
		Extra:     JSONMap(u.Extra),
		CreatedAt: u.CreatedAt,
	}
}

// EmailModel is the GORM model for email records
type EmailModel struct {
	Email     string    `gorm:"primaryKey;size:255"`
	UserID    string    `gorm:"size:64;index"`
	Verified  bool      `gorm:"default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (EmailModel) TableName() string {
	return "user_emails"
}

func (m *EmailModel) ToEmailRecord() *oa.EmailRecord {
	return &oa.EmailRecord{
		User:      m.UserID,
		Email:     m.Email,
		Verified:  m.Verified,
		CreatedAt: m.CreatedAt,
	}
}

func EmailRecordToModel(e *oa.EmailRecord) *EmailModel {
	return &EmailModel{
		Email:     e.Email,
		UserID:    e.User,
		Verified:  e.Verified,
		CreatedAt: e.CreatedAt,
	}
}

// SecretModel is the GORM model for secret records
type SecretModel struct {
	UserID       string    `gorm:"primaryKey;size:64"`
	Password     string    `gorm:"size:255"`
	RefreshToken string    `gorm:"size:2048"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (SecretModel) TableName() string {
	return "user_secrets"
}

func (m *SecretModel) ToSecretRecord() *oa.SecretRecord {
	return &oa.SecretRecord{
		User:         m.UserID,
		Password:     m.Password,
		RefreshToken: m.RefreshToken,
		UpdatedAt:    m.UpdatedAt,
	}
}

func SecretRecordToModel(s *oa.SecretRecord) *SecretModel {
	return &SecretModel{
		UserID:       s.User,
		Password:     s.Password,
		RefreshToken: s.RefreshToken,
		UpdatedAt:    s.UpdatedAt,
	}
}
