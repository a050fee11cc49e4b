package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	s := Open(Config{Backend: BackendMemory})
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(context.Background()))
}

func TestOpenDefaultsToMemory(t *testing.T) {
	s := Open(Config{})
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(context.Background()))
}

func TestOpenSQLite(t *testing.T) {
	s := Open(Config{
		Backend: BackendSQLite,
		SQLite:  SQLiteConfig{Path: filepath.Join(t.TempDir(), "f.db")},
	})
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(context.Background()))
}

func TestOpenFallsBackToMemoryOnBadConfig(t *testing.T) {
	// No Redis URL configured: construction fails and Open degrades to the
	// in-memory backend instead of returning an error.
	s := Open(Config{Backend: BackendRedis})
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.SetPlayRecord(ctx, "alice", "k", &PlayRecord{Title: "x"}))
	got, err := s.GetPlayRecord(ctx, "alice", "k")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Title)
}

func TestOpenUnknownBackendFallsBack(t *testing.T) {
	s := Open(Config{Backend: "etcd"})
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(context.Background()))
}

func TestOpenWiresOwnerThrough(t *testing.T) {
	ctx := context.Background()
	s := Open(Config{Backend: BackendMemory, Owner: "boss"})
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.RegisterUser(ctx, "boss", "pw"))
	users, err := s.GetAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, RoleOwner, users[0].Role)
}

func TestOpenRedisAgainstLiveServer(t *testing.T) {
	mr := miniredis.RunT(t)
	s := Open(Config{Backend: BackendRedis, Redis: RedisConfig{URL: "redis://" + mr.Addr()}})
	t.Cleanup(func() {
		_ = s.Close()
	})

	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.AddSearchHistory(ctx, "alice", "kw"))
	history, err := s.GetSearchHistory(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"kw"}, history)
}
