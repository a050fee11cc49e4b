package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorageContract(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		return NewMemoryStorage("")
	})
}

func TestMemoryStorageOwnerRole(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage("boss")

	require.NoError(t, s.RegisterUser(ctx, "boss", "pw"))
	require.NoError(t, s.RegisterUser(ctx, "alice", "pw"))

	users, err := s.GetAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)

	roles := map[string]string{}
	for _, u := range users {
		roles[u.Username] = u.Role
	}
	assert.Equal(t, RoleOwner, roles["boss"])
	assert.Equal(t, RoleUser, roles["alice"])
}

func TestMemoryStorageReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage("")
	key := Key("src", "1")

	require.NoError(t, s.SetPlayRecord(ctx, "alice", key, &PlayRecord{Title: "original"}))

	got, err := s.GetPlayRecord(ctx, "alice", key)
	require.NoError(t, err)
	got.Title = "mutated"

	again, err := s.GetPlayRecord(ctx, "alice", key)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Title)
}

func TestMemoryStorageConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage("")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.AddSearchHistory(ctx, "alice", "kw")
				_, _ = s.GetSearchHistory(ctx, "alice")
			}
		}()
	}
	wg.Wait()

	history, err := s.GetSearchHistory(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"kw"}, history)
}
