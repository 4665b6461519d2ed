// Package storetest holds the behavior every authsdk store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	oa "github.com/panyam/authsdk"
)

// Factory returns empty models, with email and secret stores, for one test.
type Factory func(t *testing.T) *oa.Models

// Run exercises the user, email and secret stores returned by newModels and
// a register/login round trip through the SDK on top of them.
func Run(t *testing.T, newModels Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newModels(t)) })
	t.Run("UserUpdates", func(t *testing.T) { testUserUpdates(t, newModels(t)) })
	t.Run("Emails", func(t *testing.T) { testEmails(t, newModels(t)) })
	t.Run("Secrets", func(t *testing.T) { testSecrets(t, newModels(t)) })
	t.Run("ConcurrentUpdates", func(t *testing.T) { testConcurrentUpdates(t, newModels(t)) })
	t.Run("SDK", func(t *testing.T) { testSDK(t, newModels(t)) })
	t.Run("ConcurrentLogins", func(t *testing.T) { testConcurrentLogins(t, newModels(t)) })
}

// concurrency is the number of goroutines racing on one record
const concurrency = 20

func user(id, username, email string) *oa.User {
	return &oa.User{
		ID:        id,
		Username:  username,
		Email:     email,
		Password:  "hash-" + id,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func testUsers(t *testing.T, m *oa.Models) {
	ctx := context.Background()
	require.NotNil(t, m.Users)

	alice := user("u-alice", "alice", "alice@example.com")
	alice.Extra = map[string]any{"team": "blue"}
	created, err := m.Users.Create(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "u-alice", created.ID)

	_, err = m.Users.Create(ctx, user("u-nomail", "nomail", ""))
	require.NoError(t, err, "users without an email must not collide")
	_, err = m.Users.Create(ctx, user("u-noname", "", "noname@example.com"))
	require.NoError(t, err, "users without a username must not collide")

	for name, f := range map[string]oa.Filter{
		"by id":       {UserRef: "u-alice"},
		"by username": {Username: "alice"},
		"by email":    {Email: "alice@example.com"},
		"or-combined": {Username: "nobody", Email: "alice@example.com"},
	} {
		got, err := m.Users.FindOne(ctx, f)
		require.NoError(t, err, name)
		require.NotNil(t, got, name)
		assert.Equal(t, "u-alice", got.ID, name)
		assert.Equal(t, "hash-u-alice", got.Password, name)
		assert.Equal(t, "blue", got.Extra["team"], name)
	}

	got, err := m.Users.FindOne(ctx, oa.Filter{Username: "nobody"})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = m.Users.FindOne(ctx, oa.Filter{})
	require.NoError(t, err)
	assert.Nil(t, got, "an empty filter matches nothing")

	for name, dup := range map[string]*oa.User{
		"same id":       user("u-alice", "other", "other@example.com"),
		"same username": user("u-2", "alice", "two@example.com"),
		"same email":    user("u-3", "three", "alice@example.com"),
	} {
		_, err := m.Users.Create(ctx, dup)
		assert.ErrorIs(t, err, oa.ErrDuplicateRecord, name)
	}
}

func testUserUpdates(t *testing.T, m *oa.Models) {
	ctx := context.Background()
	_, err := m.Users.Create(ctx, user("u-1", "bob", "bob@example.com"))
	require.NoError(t, err)
	_, err = m.Users.Create(ctx, user("u-2", "carol", "carol@example.com"))
	require.NoError(t, err)

	updated, err := m.Users.UpdateOne(ctx, oa.Filter{Username: "bob"}, func(u *oa.User) {
		u.Email = "robert@example.com"
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "robert@example.com", updated.Email)

	got, err := m.Users.FindOne(ctx, oa.Filter{Email: "robert@example.com"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u-1", got.ID)

	got, err = m.Users.FindOne(ctx, oa.Filter{Email: "bob@example.com"})
	require.NoError(t, err)
	assert.Nil(t, got, "the old email no longer resolves")

	// the freed email can be taken by someone else
	_, err = m.Users.Create(ctx, user("u-3", "bobby", "bob@example.com"))
	require.NoError(t, err)

	_, err = m.Users.UpdateOne(ctx, oa.Filter{UserRef: "u-1"}, func(u *oa.User) {
		u.Username = "carol"
	})
	assert.ErrorIs(t, err, oa.ErrDuplicateRecord)

	got, err = m.Users.FindOne(ctx, oa.Filter{Username: "bob"})
	require.NoError(t, err)
	require.NotNil(t, got, "a rejected update leaves the record untouched")
	assert.Equal(t, "u-1", got.ID)

	got, err = m.Users.UpdateOne(ctx, oa.Filter{UserRef: "missing"}, func(u *oa.User) {
		t.Error("update must not run without a match")
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testEmails(t *testing.T, m *oa.Models) {
	ctx := context.Background()
	require.NotNil(t, m.Emails)

	_, err := m.Emails.Create(ctx, &oa.EmailRecord{User: "u-1", Email: "a@example.com", CreatedAt: time.Now()})
	require.NoError(t, err)
	_, err = m.Emails.Create(ctx, &oa.EmailRecord{User: "u-2", Email: "b@example.com", CreatedAt: time.Now()})
	require.NoError(t, err)

	got, err := m.Emails.FindOne(ctx, oa.Filter{Email: "a@example.com"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u-1", got.User)
	assert.False(t, got.Verified)

	got, err = m.Emails.FindOne(ctx, oa.Filter{UserRef: "u-2"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b@example.com", got.Email)

	_, err = m.Emails.Create(ctx, &oa.EmailRecord{User: "u-3", Email: "a@example.com"})
	assert.ErrorIs(t, err, oa.ErrDuplicateRecord)

	got, err = m.Emails.UpdateOne(ctx, oa.Filter{Email: "a@example.com"}, func(e *oa.EmailRecord) {
		e.Verified = true
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Verified)

	got, err = m.Emails.FindOne(ctx, oa.Filter{Email: "a@example.com"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Verified)

	got, err = m.Emails.FindOne(ctx, oa.Filter{Email: "zzz@example.com"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testSecrets(t *testing.T, m *oa.Models) {
	ctx := context.Background()
	require.NotNil(t, m.Secrets)

	_, err := m.Secrets.Create(ctx, &oa.SecretRecord{User: "u-1", Password: "h1", UpdatedAt: time.Now()})
	require.NoError(t, err)

	got, err := m.Secrets.FindOne(ctx, oa.Filter{UserRef: "u-1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h1", got.Password)
	assert.Empty(t, got.RefreshToken)

	_, err = m.Secrets.Create(ctx, &oa.SecretRecord{User: "u-1", Password: "h2"})
	assert.ErrorIs(t, err, oa.ErrDuplicateRecord)

	for i := 1; i <= 3; i++ {
		token := fmt.Sprintf("refresh-%d", i)
		got, err = m.Secrets.UpdateOne(ctx, oa.Filter{UserRef: "u-1"}, func(s *oa.SecretRecord) {
			s.RefreshToken = token
			s.UpdatedAt = time.Now()
		})
		require.NoError(t, err)
		require.NotNil(t, got)
	}

	got, err = m.Secrets.FindOne(ctx, oa.Filter{UserRef: "u-1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "refresh-3", got.RefreshToken)
	assert.Equal(t, "h1", got.Password)

	got, err = m.Secrets.FindOne(ctx, oa.Filter{Username: "u-1"})
	require.NoError(t, err)
	assert.Nil(t, got, "secrets are only addressed by user")
}

func testSDK(t *testing.T, m *oa.Models) {
	ctx := context.Background()
	sdk := oa.New(&oa.Config{
		JWTSecret:           "storetest-secret",
		BcryptCost:          bcrypt.MinCost,
		RequireRefreshToken: true,
	}, m)

	u, err := sdk.Register(ctx, oa.RegisterInput{Username: "dana", Email: "dana@example.com", Password: "pw"})
	require.NoError(t, err)

	_, err = sdk.Register(ctx, oa.RegisterInput{Username: "dana", Password: "pw"})
	assert.ErrorIs(t, err, oa.ErrValidation)

	res, err := sdk.Login(ctx, oa.LoginInput{Email: "dana@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)
	assert.Empty(t, res.RefreshToken, "refresh tokens stay in the secret store")

	secret, err := m.Secrets.FindOne(ctx, oa.Filter{UserRef: u.ID})
	require.NoError(t, err)
	require.NotNil(t, secret)
	require.NotEmpty(t, secret.RefreshToken)

	refreshed, err := sdk.Refresh(ctx, secret.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.Token)

	who, err := sdk.Authenticate(ctx, refreshed.Token)
	require.NoError(t, err)
	assert.Equal(t, "dana", who.Username)

	_, err = sdk.Login(ctx, oa.LoginInput{Username: "dana", Password: "wrong"})
	assert.ErrorIs(t, err, oa.ErrUnauthorized)
}

// asInt reads a counter that may have been round-tripped through JSON.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func testConcurrentUpdates(t *testing.T, m *oa.Models) {
	ctx := context.Background()
	_, err := m.Users.Create(ctx, user("u-1", "erin", "erin@example.com"))
	require.NoError(t, err)
	_, err = m.Secrets.Create(ctx, &oa.SecretRecord{User: "u-1", Password: "h1", UpdatedAt: time.Now()})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2*concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := m.Users.UpdateOne(ctx, oa.Filter{UserRef: "u-1"}, func(u *oa.User) {
				if u.Extra == nil {
					u.Extra = map[string]any{}
				}
				u.Extra["updates"] = asInt(u.Extra["updates"]) + 1
			})
			errs <- err
		}()
		go func(i int) {
			defer wg.Done()
			_, err := m.Secrets.UpdateOne(ctx, oa.Filter{UserRef: "u-1"}, func(s *oa.SecretRecord) {
				s.RefreshToken = fmt.Sprintf("refresh-%d", i)
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	got, err := m.Users.FindOne(ctx, oa.Filter{UserRef: "u-1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, concurrency, asInt(got.Extra["updates"]), "no update may be lost")
	assert.Equal(t, "erin", got.Username)

	secret, err := m.Secrets.FindOne(ctx, oa.Filter{UserRef: "u-1"})
	require.NoError(t, err)
	require.NotNil(t, secret)
	assert.Regexp(t, `^refresh-\d+$`, secret.RefreshToken)
	assert.Equal(t, "h1", secret.Password)
}

func testConcurrentLogins(t *testing.T, m *oa.Models) {
	ctx := context.Background()
	sdk := oa.New(&oa.Config{
		JWTSecret:           "storetest-secret",
		BcryptCost:          bcrypt.MinCost,
		RequireRefreshToken: true,
	}, m)
	u, err := sdk.Register(ctx, oa.RegisterInput{Username: "frank", Password: "pw"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sdk.Login(ctx, oa.LoginInput{Username: "frank", Password: "pw"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	secret, err := m.Secrets.FindOne(ctx, oa.Filter{UserRef: u.ID})
	require.NoError(t, err)
	require.NotNil(t, secret)
	_, err = sdk.Refresh(ctx, secret.RefreshToken)
	assert.NoError(t, err, "the last persisted refresh token is usable")
}
