package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mgr := NewClientManager()
	s, err := newRedisProtocol("redis", RedisConfig{URL: "redis://" + mr.Addr()}, mgr)
	require.NoError(t, err)
	s.pol = retryPolicy{attempts: 3, backoff: time.Millisecond}
	t.Cleanup(func() { _ = mgr.Close() })
	return s, mr
}

func TestRedisStorageContract(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		s, _ := newMiniredisStorage(t)
		return s
	})
}

func TestRedisStorageRequiresURL(t *testing.T) {
	_, err := NewRedisStorage(RedisConfig{})
	require.Error(t, err)
}

func TestRedisStorageRejectsBadURL(t *testing.T) {
	_, err := newRedisProtocol("redis", RedisConfig{URL: "://not-a-url"}, NewClientManager())
	require.Error(t, err)
}

func TestRedisStorageBlankPasswordSkipsAuth(t *testing.T) {
	// miniredis has no password configured; sending AUTH would fail every
	// command, so a whitespace-only credential must be dropped entirely.
	mr := miniredis.RunT(t)
	mgr := NewClientManager()
	t.Cleanup(func() { _ = mgr.Close() })

	s, err := newRedisProtocol("redis", RedisConfig{URL: "redis://" + mr.Addr(), Password: "   "}, mgr)
	require.NoError(t, err)

	require.NoError(t, s.Ping(context.Background()))
}

func TestRedisStorageUnavailableBackend(t *testing.T) {
	s, mr := newMiniredisStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SetPlayRecord(ctx, "alice", "k", &PlayRecord{Title: "x"}))
	mr.Close()

	_, err := s.GetPlayRecord(ctx, "alice", "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendUnavailable), "exhausted retries must wrap ErrBackendUnavailable, got %v", err)
}

func TestRedisStorageRecoversAfterRestart(t *testing.T) {
	s, mr := newMiniredisStorage(t)
	ctx := context.Background()
	addr := mr.Addr()

	require.NoError(t, s.SetFavorite(ctx, "alice", "k", &Favorite{Title: "x"}))

	mr.Close()
	_, err := s.GetFavorite(ctx, "alice", "k")
	require.Error(t, err)

	// Same address, fresh server. The pool caches the dial failure and the
	// revive backoff holds a 1s window, so recovery is not instant; poll
	// until the backend answers before asserting on data.
	restarted := miniredis.NewMiniRedis()
	require.NoError(t, restarted.StartAddr(addr))
	defer restarted.Close()

	require.Eventually(t, func() bool {
		return s.Ping(ctx) == nil
	}, 10*time.Second, 50*time.Millisecond, "pool must reconnect once the server is back")

	got, err := s.GetFavorite(ctx, "alice", "k")
	require.NoError(t, err)
	assert.Nil(t, got) // fresh server, data gone, but the backend answers
}

func TestKvrocksStorageAgainstLiveServer(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr := NewClientManager()
	t.Cleanup(func() { _ = mgr.Close() })

	s, err := newRedisProtocol("kvrocks", RedisConfig{URL: "redis://" + mr.Addr()}, mgr)
	require.NoError(t, err)
	s.pol = retryPolicy{attempts: 3, backoff: time.Millisecond}

	ctx := context.Background()
	require.NoError(t, s.RegisterUser(ctx, "alice", "pw"))
	ok, err := s.VerifyUser(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKvrocksStorageDefaultsURL(t *testing.T) {
	// Construction must not dial; an unreachable default URL is fine.
	s, err := NewKvrocksStorage(RedisConfig{})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "kvrocks", s.name)
	require.NoError(t, s.Close())
}

func TestRedisStorageLegacySettingsBlobKeepsFilterOn(t *testing.T) {
	s, mr := newMiniredisStorage(t)
	ctx := context.Background()

	// A stored blob without the filter key, as older clients wrote it.
	require.NoError(t, mr.Set(settingsKey("alice"), `{"theme":"dark"}`))

	theme := "light"
	require.NoError(t, s.UpdateUserSettings(ctx, "alice", SettingsPatch{Theme: &theme}))

	settings, err := s.GetUserSettings(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, settings.FilterAdultContent, "absent filter key must resolve to true")
	assert.Equal(t, "light", settings.Theme)
}

func TestRedisStorageHistoryTrimmedServerSide(t *testing.T) {
	s, mr := newMiniredisStorage(t)
	ctx := context.Background()

	for i := 0; i < SearchHistoryLimit+10; i++ {
		require.NoError(t, s.AddSearchHistory(ctx, "alice", string(rune('a'+i))))
	}

	// The list itself is trimmed, not just the read path.
	stored, err := mr.List(searchHistoryKey("alice"))
	require.NoError(t, err)
	assert.Len(t, stored, SearchHistoryLimit)
}
