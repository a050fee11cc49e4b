package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storageFactory builds a fresh, empty backend for one test. Cleanup is
// registered by the factory itself.
type storageFactory func(t *testing.T) Storage

// runStorageContract exercises the behavior every backend must share. Each
// adapter's test file runs this against its own factory.
func runStorageContract(t *testing.T, open storageFactory) {
	t.Helper()
	ctx := context.Background()

	t.Run("play record round trip", func(t *testing.T) {
		s := open(t)
		key := Key("netflix", "tt123")
		rec := &PlayRecord{
			Title:         "Some Show",
			SourceName:    "netflix",
			Cover:         "https://example.com/cover.jpg",
			Year:          "2023",
			Index:         3,
			TotalEpisodes: 12,
			PlayTime:      600,
			TotalTime:     2400,
			SaveTime:      1700000000000,
			SearchTitle:   "some show",
		}

		require.NoError(t, s.SetPlayRecord(ctx, "alice", key, rec))

		got, err := s.GetPlayRecord(ctx, "alice", key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, rec, got)
	})

	t.Run("missing play record is nil without error", func(t *testing.T) {
		s := open(t)
		got, err := s.GetPlayRecord(ctx, "alice", Key("src", "nope"))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("set play record is an upsert", func(t *testing.T) {
		s := open(t)
		key := Key("src", "1")
		require.NoError(t, s.SetPlayRecord(ctx, "alice", key, &PlayRecord{Title: "v1", Index: 1}))
		require.NoError(t, s.SetPlayRecord(ctx, "alice", key, &PlayRecord{Title: "v2", Index: 2}))

		got, err := s.GetPlayRecord(ctx, "alice", key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "v2", got.Title)
		assert.Equal(t, 2, got.Index)
	})

	t.Run("delete play record is idempotent", func(t *testing.T) {
		s := open(t)
		key := Key("src", "1")
		require.NoError(t, s.SetPlayRecord(ctx, "alice", key, &PlayRecord{Title: "x"}))
		require.NoError(t, s.DeletePlayRecord(ctx, "alice", key))
		require.NoError(t, s.DeletePlayRecord(ctx, "alice", key))

		got, err := s.GetPlayRecord(ctx, "alice", key)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("get all play records is scoped per user", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 3; i++ {
			key := Key("src", fmt.Sprintf("%d", i))
			require.NoError(t, s.SetPlayRecord(ctx, "alice", key, &PlayRecord{Title: fmt.Sprintf("t%d", i)}))
		}
		require.NoError(t, s.SetPlayRecord(ctx, "bob", Key("src", "9"), &PlayRecord{Title: "other"}))

		all, err := s.GetAllPlayRecords(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "t1", all[Key("src", "1")].Title)

		empty, err := s.GetAllPlayRecords(ctx, "carol")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("favorite round trip and delete", func(t *testing.T) {
		s := open(t)
		key := Key("src", "42")
		fav := &Favorite{Title: "Fav", SourceName: "src", Year: "2020", TotalEpisodes: 8, SaveTime: 1700000000000}

		require.NoError(t, s.SetFavorite(ctx, "alice", key, fav))
		got, err := s.GetFavorite(ctx, "alice", key)
		require.NoError(t, err)
		assert.Equal(t, fav, got)

		all, err := s.GetAllFavorites(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, all, 1)

		require.NoError(t, s.DeleteFavorite(ctx, "alice", key))
		got, err = s.GetFavorite(ctx, "alice", key)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("user lifecycle", func(t *testing.T) {
		s := open(t)

		exists, err := s.CheckUserExist(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, s.RegisterUser(ctx, "alice", "secret"))

		exists, err = s.CheckUserExist(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, exists)

		ok, err := s.VerifyUser(ctx, "alice", "secret")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.VerifyUser(ctx, "alice", "wrong")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.VerifyUser(ctx, "nobody", "secret")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.ChangePassword(ctx, "alice", "rotated"))
		ok, err = s.VerifyUser(ctx, "alice", "rotated")
		require.NoError(t, err)
		assert.True(t, ok)

		users, err := s.GetAllUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "alice", users[0].Username)
		assert.Equal(t, RoleUser, users[0].Role)
		assert.NotEmpty(t, users[0].CreatedAt)
	})

	t.Run("delete user cascades", func(t *testing.T) {
		s := open(t)
		key := Key("src", "1")

		require.NoError(t, s.RegisterUser(ctx, "alice", "pw"))
		require.NoError(t, s.SetPlayRecord(ctx, "alice", key, &PlayRecord{Title: "x"}))
		require.NoError(t, s.SetFavorite(ctx, "alice", key, &Favorite{Title: "x"}))
		require.NoError(t, s.AddSearchHistory(ctx, "alice", "query"))
		require.NoError(t, s.SetSkipConfig(ctx, "alice", key, &EpisodeSkipConfig{Source: "src", ID: "1"}))
		require.NoError(t, s.SetUserSettings(ctx, "alice", DefaultUserSettings()))

		require.NoError(t, s.DeleteUser(ctx, "alice"))

		exists, err := s.CheckUserExist(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, exists)

		rec, err := s.GetPlayRecord(ctx, "alice", key)
		require.NoError(t, err)
		assert.Nil(t, rec)

		fav, err := s.GetFavorite(ctx, "alice", key)
		require.NoError(t, err)
		assert.Nil(t, fav)

		history, err := s.GetSearchHistory(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, history)

		skip, err := s.GetSkipConfig(ctx, "alice", key)
		require.NoError(t, err)
		assert.Nil(t, skip)

		users, err := s.GetAllUsers(ctx)
		require.NoError(t, err)
		assert.Empty(t, users)
	})

	t.Run("settings default when unset", func(t *testing.T) {
		s := open(t)
		settings, err := s.GetUserSettings(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, settings)
		assert.True(t, settings.FilterAdultContent)
		assert.Equal(t, "auto", settings.Theme)
		assert.Equal(t, "zh-CN", settings.Language)
		assert.True(t, settings.AutoPlay)
		assert.Equal(t, "auto", settings.VideoQuality)
	})

	t.Run("settings patch merge", func(t *testing.T) {
		s := open(t)
		theme := "dark"
		require.NoError(t, s.UpdateUserSettings(ctx, "alice", SettingsPatch{Theme: &theme}))

		settings, err := s.GetUserSettings(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "dark", settings.Theme)
		// Untouched fields keep defaults.
		assert.Equal(t, "zh-CN", settings.Language)
		assert.True(t, settings.FilterAdultContent)

		off := false
		require.NoError(t, s.UpdateUserSettings(ctx, "alice", SettingsPatch{FilterAdultContent: &off}))
		settings, err = s.GetUserSettings(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, settings.FilterAdultContent)
		assert.Equal(t, "dark", settings.Theme)
	})

	t.Run("empty patch keeps stored settings", func(t *testing.T) {
		s := open(t)
		stored := DefaultUserSettings()
		stored.Theme = "light"
		require.NoError(t, s.SetUserSettings(ctx, "alice", stored))

		require.NoError(t, s.UpdateUserSettings(ctx, "alice", SettingsPatch{}))
		settings, err := s.GetUserSettings(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "light", settings.Theme)
	})

	t.Run("search history dedup and order", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.AddSearchHistory(ctx, "alice", "a"))
		require.NoError(t, s.AddSearchHistory(ctx, "alice", "b"))
		require.NoError(t, s.AddSearchHistory(ctx, "alice", "a"))

		history, err := s.GetSearchHistory(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, history)
	})

	t.Run("search history is capped", func(t *testing.T) {
		s := open(t)
		for i := 0; i < SearchHistoryLimit+5; i++ {
			require.NoError(t, s.AddSearchHistory(ctx, "alice", fmt.Sprintf("kw%02d", i)))
		}
		history, err := s.GetSearchHistory(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, history, SearchHistoryLimit)
		assert.Equal(t, fmt.Sprintf("kw%02d", SearchHistoryLimit+4), history[0])
		assert.Equal(t, "kw05", history[SearchHistoryLimit-1])
	})

	t.Run("search history delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.AddSearchHistory(ctx, "alice", "a"))
		require.NoError(t, s.AddSearchHistory(ctx, "alice", "b"))

		require.NoError(t, s.DeleteSearchHistory(ctx, "alice", "a"))
		history, err := s.GetSearchHistory(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, history)

		require.NoError(t, s.DeleteSearchHistory(ctx, "alice", ""))
		history, err = s.GetSearchHistory(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("skip config round trip", func(t *testing.T) {
		s := open(t)
		key := Key("src", "77")
		cfg := &EpisodeSkipConfig{
			Source: "src",
			ID:     "77",
			Title:  "Show",
			Segments: []SkipSegment{
				{Start: 0, End: 90, Type: SegmentOpening},
				{Start: 2500, End: 2600, Type: SegmentEnding},
			},
			UpdatedTime: 1700000000000,
		}

		require.NoError(t, s.SetSkipConfig(ctx, "alice", key, cfg))
		got, err := s.GetSkipConfig(ctx, "alice", key)
		require.NoError(t, err)
		assert.Equal(t, cfg, got)

		all, err := s.GetAllSkipConfigs(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, cfg, all[key])

		require.NoError(t, s.DeleteSkipConfig(ctx, "alice", key))
		got, err = s.GetSkipConfig(ctx, "alice", key)
		require.NoError(t, err)
		assert.Nil(t, got)

		all, err = s.GetAllSkipConfigs(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("admin config singleton", func(t *testing.T) {
		s := open(t)
		got, err := s.GetAdminConfig(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)

		cfg := &AdminConfig{
			SiteConfig: SiteConfig{SiteName: "KatelyaTV"},
			UserConfig: UserConfig{AllowRegister: true},
			SourceConfig: []SourceConfig{
				{Key: "src", Name: "Source", API: "https://api.example.com", From: SourceFromConfig},
			},
		}
		require.NoError(t, s.SetAdminConfig(ctx, cfg))

		got, err = s.GetAdminConfig(ctx)
		require.NoError(t, err)
		assert.Equal(t, cfg, got)
	})

	t.Run("ping", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Ping(ctx))
	})
}
