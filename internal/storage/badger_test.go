package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBadgerTestStorage(t *testing.T) Storage {
	t.Helper()
	s, err := NewBadgerStorage(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStorageContract(t *testing.T) {
	runStorageContract(t, newBadgerTestStorage)
}

func TestBadgerStorageRequiresPath(t *testing.T) {
	_, err := NewBadgerStorage(BadgerConfig{})
	require.Error(t, err)
}

func TestBadgerStorageSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "badger")
	key := Key("src", "1")

	s, err := NewBadgerStorage(BadgerConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.SetFavorite(ctx, "alice", key, &Favorite{Title: "kept"}))
	require.NoError(t, s.Close())

	s, err = NewBadgerStorage(BadgerConfig{Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.GetFavorite(ctx, "alice", key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "kept", got.Title)
}

func TestBadgerStoragePingAfterClose(t *testing.T) {
	s, err := NewBadgerStorage(BadgerConfig{InMemory: true})
	require.NoError(t, err)

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	require.Error(t, s.Ping(context.Background()))
}
