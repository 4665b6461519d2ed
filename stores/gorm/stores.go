//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	oa "github.com/panyam/authsdk"
)

// AutoMigrate runs database migrations for all authsdk tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&EmailModel{},
		&SecretModel{},
	)
}

// NewModels returns GORM backed stores sharing db.
func NewModels(db *gorm.DB, withEmails, withSecrets bool) *oa.Models {
	m := &oa.Models{Users: NewUserStore(db)}
	if withEmails {
		m.Emails = NewEmailStore(db)
	}
	if withSecrets {
		m.Secrets = NewSecretStore(db)
	}
	return m
}

// isDuplicate recognizes unique constraint violations. gorm translates them
// to ErrDuplicatedKey when the dialector supports it (TranslateError: true);
// the string checks cover drivers opened without translation.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}

func wrapWriteErr(err error) error {
	if isDuplicate(err) {
		return fmt.Errorf("%w: %v", oa.ErrDuplicateRecord, err)
	}
	return err
}

// where builds an OR of the non-empty filter fields against their columns
func where(db *gorm.DB, pairs ...string) (*gorm.DB, bool) {
	var conds []string
	var args []any
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		conds = append(conds, pairs[i]+" = ?")
		args = append(args, pairs[i+1])
	}
	if len(conds) == 0 {
		return db, false
	}
	return db.Where(strings.Join(conds, " OR "), args...), true
}

// =============================================================================
// Users
// =============================================================================

// UserStore implements authsdk.Store[authsdk.User] using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) query(ctx context.Context, db *gorm.DB, f oa.Filter) (*UserModel, error) {
	q, ok := where(db.WithContext(ctx), "id", f.UserRef, "username", f.Username, "email", f.Email)
	if !ok {
		return nil, nil
	}
	var model UserModel
	if err := q.Order("created_at").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &model, nil
}

func (s *UserStore) FindOne(ctx context.Context, f oa.Filter) (*oa.User, error) {
	model, err := s.query(ctx, s.db, f)
	if err != nil || model == nil {
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *UserStore) Create(ctx context.Context, u *oa.User) (*oa.User, error) {
	model := UserToModel(u)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, wrapWriteErr(err)
	}
	return model.ToUser(), nil
}

func (s *UserStore) UpdateOne(ctx context.Context, f oa.Filter, update func(*oa.User)) (*oa.User, error) {
	var out *oa.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := s.query(ctx, tx, f)
		if err != nil || model == nil {
			return err
		}
		user := model.ToUser()
		update(user)
		if user.ID != model.ID {
			return fmt.Errorf("update may not change the record key")
		}
		if err := tx.Save(UserToModel(user)).Error; err != nil {
			return wrapWriteErr(err)
		}
		out = user
		return nil
	})
	return out, err
}

// =============================================================================
// Emails
// =============================================================================

// EmailStore implements authsdk.Store[authsdk.EmailRecord] using GORM
type EmailStore struct {
	db *gorm.DB
}

func NewEmailStore(db *gorm.DB) *EmailStore {
	return &EmailStore{db: db}
}

func (s *EmailStore) query(ctx context.Context, db *gorm.DB, f oa.Filter) (*EmailModel, error) {
	q, ok := where(db.WithContext(ctx), "email", f.Email, "user_id", f.UserRef)
	if !ok {
		return nil, nil
	}
	var model EmailModel
	if err := q.Order("created_at").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &model, nil
}

func (s *EmailStore) FindOne(ctx context.Context, f oa.Filter) (*oa.EmailRecord, error) {
	model, err := s.query(ctx, s.db, f)
	if err != nil || model == nil {
		return nil, err
	}
	return model.ToEmailRecord(), nil
}

func (s *EmailStore) Create(ctx context.Context, e *oa.EmailRecord) (*oa.EmailRecord, error) {
	model := EmailRecordToModel(e)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, wrapWriteErr(err)
	}
	return model.ToEmailRecord(), nil
}

func (s *EmailStore) UpdateOne(ctx context.Context, f oa.Filter, update func(*oa.EmailRecord)) (*oa.EmailRecord, error) {
	var out *oa.EmailRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := s.query(ctx, tx, f)
		if err != nil || model == nil {
			return err
		}
		rec := model.ToEmailRecord()
		update(rec)
		if rec.Email != model.Email {
			return fmt.Errorf("update may not change the record key")
		}
		if err := tx.Save(EmailRecordToModel(rec)).Error; err != nil {
			return wrapWriteErr(err)
		}
		out = rec
		return nil
	})
	return out, err
}

// =============================================================================
// Secrets
// =============================================================================

// SecretStore implements authsdk.Store[authsdk.SecretRecord] using GORM
type SecretStore struct {
	db *gorm.DB
}

func NewSecretStore(db *gorm.DB) *SecretStore {
	return &SecretStore{db: db}
}

func (s *SecretStore) query(ctx context.Context, db *gorm.DB, f oa.Filter) (*SecretModel, error) {
	q, ok := where(db.WithContext(ctx), "user_id", f.UserRef)
	if !ok {
		return nil, nil
	}
	var model SecretModel
	if err := q.First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &model, nil
}

func (s *SecretStore) FindOne(ctx context.Context, f oa.Filter) (*oa.SecretRecord, error) {
	model, err := s.query(ctx, s.db, f)
	if err != nil || model == nil {
		return nil, err
	}
	return model.ToSecretRecord(), nil
}

func (s *SecretStore) Create(ctx context.Context, rec *oa.SecretRecord) (*oa.SecretRecord, error) {
	model := SecretRecordToModel(rec)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, wrapWriteErr(err)
	}
	return model.ToSecretRecord(), nil
}

func (s *SecretStore) UpdateOne(ctx context.Context, f oa.Filter, update func(*oa.SecretRecord)) (*oa.SecretRecord, error) {
	var out *oa.SecretRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := s.query(ctx, tx, f)
		if err != nil || model == nil {
			return err
		}
		rec := model.ToSecretRecord()
		update(rec)
		if rec.User != model.UserID {
			return fmt.Errorf("update may not change the record key")
		}
		if err := tx.Save(SecretRecordToModel(rec)).Error; err != nil {
			return wrapWriteErr(err)
		}
		out = rec
		return nil
	})
	return out, err
}
