package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oa "github.com/panyam/authsdk"
	"github.com/panyam/authsdk/stores/memory"
	"github.com/panyam/authsdk/stores/storetest"
)

func TestMemoryStores(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *oa.Models {
		return memory.NewModels(true, true)
	})
}

func TestNewModels_OptionalStores(t *testing.T) {
	m := memory.NewModels(false, false)
	assert.NotNil(t, m.Users)
	assert.Nil(t, m.Emails)
	assert.Nil(t, m.Secrets)
}

func TestFindOne_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New[oa.User]()
	_, err := s.Create(ctx, &oa.User{ID: "u1", Username: "alice", Extra: map[string]any{"team": "blue"}})
	require.NoError(t, err)

	got, err := s.FindOne(ctx, oa.Filter{UserRef: "u1"})
	require.NoError(t, err)
	got.Username = "mallory"
	got.Extra["team"] = "red"

	again, err := s.FindOne(ctx, oa.Filter{UserRef: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Username)
	assert.Equal(t, "blue", again.Extra["team"])
}

func TestUpdateOne_KeyIsImmutable(t *testing.T) {
	ctx := context.Background()
	s := memory.New[oa.User]()
	_, err := s.Create(ctx, &oa.User{ID: "u1", Username: "alice"})
	require.NoError(t, err)

	_, err = s.UpdateOne(ctx, oa.Filter{UserRef: "u1"}, func(u *oa.User) { u.ID = "u2" })
	assert.Error(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestCreate_ConcurrentSameUsername(t *testing.T) {
	ctx := context.Background()
	s := memory.New[oa.User]()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, dups := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Create(ctx, &oa.User{ID: fmt.Sprintf("u%d", i), Username: "same"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, oa.ErrDuplicateRecord):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	assert.Equal(t, 49, dups)
	assert.Equal(t, 1, s.Len())
}
