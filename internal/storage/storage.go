// Package storage provides one behavioral contract over multiple physical
// backends: an in-process map, Redis and Kvrocks over the Redis wire
// protocol, SQLite, an Upstash-style HTTP REST store and Badger. All
// application code depends on the Storage interface; the concrete backend
// is selected once at process start (see Open).
package storage

import "context"

// SearchHistoryLimit caps the per-user search history, most recent first.
const SearchHistoryLimit = 20

// Key builds the public composite identifier for one piece of content.
func Key(source, id string) string {
	return source + "+" + id
}

// Storage is the contract every backend adapter implements in full; there is
// no optional-capability probing. Reads of missing entries return (nil, nil):
// not found is never an error. The one exception is GetUserSettings, which
// synthesizes the default settings object. Set operations are upserts.
// Delete on a missing key is a no-op success.
type Storage interface {
	// Play records, keyed by the source+contentId composite.
	GetPlayRecord(ctx context.Context, user, key string) (*PlayRecord, error)
	SetPlayRecord(ctx context.Context, user, key string, rec *PlayRecord) error
	GetAllPlayRecords(ctx context.Context, user string) (map[string]*PlayRecord, error)
	DeletePlayRecord(ctx context.Context, user, key string) error

	// Favorites, keyed like play records.
	GetFavorite(ctx context.Context, user, key string) (*Favorite, error)
	SetFavorite(ctx context.Context, user, key string, fav *Favorite) error
	GetAllFavorites(ctx context.Context, user string) (map[string]*Favorite, error)
	DeleteFavorite(ctx context.Context, user, key string) error

	// Accounts. The credential is stored as given; hashing happens upstream.
	// DeleteUser cascades best-effort across every entity keyed under the
	// username and reports the first error after attempting all of them.
	RegisterUser(ctx context.Context, user, password string) error
	VerifyUser(ctx context.Context, user, password string) (bool, error)
	CheckUserExist(ctx context.Context, user string) (bool, error)
	ChangePassword(ctx context.Context, user, newPassword string) error
	DeleteUser(ctx context.Context, user string) error
	GetAllUsers(ctx context.Context) ([]User, error)

	// Per-user settings. UpdateUserSettings merges the patch over the stored
	// state and the hard-coded defaults (see MergeSettings).
	GetUserSettings(ctx context.Context, user string) (*UserSettings, error)
	SetUserSettings(ctx context.Context, user string, settings *UserSettings) error
	UpdateUserSettings(ctx context.Context, user string, patch SettingsPatch) error

	// Search history, most recent first, deduplicated on re-insert and
	// trimmed to SearchHistoryLimit. An empty keyword deletes the whole
	// history.
	GetSearchHistory(ctx context.Context, user string) ([]string, error)
	AddSearchHistory(ctx context.Context, user, keyword string) error
	DeleteSearchHistory(ctx context.Context, user, keyword string) error

	// Skip configs, keyed like play records.
	GetSkipConfig(ctx context.Context, user, key string) (*EpisodeSkipConfig, error)
	SetSkipConfig(ctx context.Context, user, key string, cfg *EpisodeSkipConfig) error
	GetAllSkipConfigs(ctx context.Context, user string) (map[string]*EpisodeSkipConfig, error)
	DeleteSkipConfig(ctx context.Context, user, key string) error

	// Admin configuration singleton.
	GetAdminConfig(ctx context.Context) (*AdminConfig, error)
	SetAdminConfig(ctx context.Context, cfg *AdminConfig) error

	// Ping reports backend reachability for readiness checks.
	Ping(ctx context.Context) error
	// Close releases the backend handle. Adapters sharing a process-wide
	// client handle release it through the client manager.
	Close() error
}
