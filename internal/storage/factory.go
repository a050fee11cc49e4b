package storage

import (
	"context"
	"fmt"

	"github.com/zwkere/KatelyaTV/internal/log"
	"github.com/zwkere/KatelyaTV/internal/metrics"
)

// Backend identifies a storage implementation.
type Backend string

const (
	BackendMemory  Backend = "memory"
	BackendRedis   Backend = "redis"
	BackendKvrocks Backend = "kvrocks"
	BackendSQLite  Backend = "sqlite"
	BackendUpstash Backend = "upstash"
	BackendBadger  Backend = "badger"
)

// Config selects and configures a backend. Only the section matching
// Backend is consulted.
type Config struct {
	Backend Backend
	Owner   string // owner username, granted the owner role everywhere

	Redis   RedisConfig
	Kvrocks RedisConfig
	SQLite  SQLiteConfig
	Badger  BadgerConfig
	Upstash UpstashConfig
}

// Open builds the configured backend and wraps it with operation metrics.
// Construction failures degrade to the in-memory backend with a loud log
// line and a fallback counter bump: the application stays up, persistence
// does not.
func Open(cfg Config) Storage {
	logger := log.WithComponent("storage")

	store, err := open(cfg)
	if err != nil {
		metrics.StorageFallbacks.Inc()
		logger.Error().Err(err).
			Str("backend", string(cfg.Backend)).
			Msg("backend unavailable, falling back to memory; data will not survive restarts")
		return instrument(string(BackendMemory), NewMemoryStorage(cfg.Owner))
	}

	logger.Info().Str("backend", string(cfg.Backend)).Msg("storage backend selected")
	return instrument(string(cfg.Backend), store)
}

func open(cfg Config) (Storage, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStorage(cfg.Owner), nil
	case BackendRedis:
		c := cfg.Redis
		c.Owner = cfg.Owner
		return NewRedisStorage(c)
	case BackendKvrocks:
		c := cfg.Kvrocks
		c.Owner = cfg.Owner
		return NewKvrocksStorage(c)
	case BackendSQLite:
		c := cfg.SQLite
		c.Owner = cfg.Owner
		return NewSQLiteStorage(c)
	case BackendBadger:
		c := cfg.Badger
		c.Owner = cfg.Owner
		return NewBadgerStorage(c)
	case BackendUpstash:
		c := cfg.Upstash
		c.Owner = cfg.Owner
		return NewUpstashStorage(c)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

// instrumented decorates a Storage with per-operation counters. It is the
// only layer that knows the backend label, so adapters stay metrics-free.
type instrumented struct {
	backend string
	next    Storage
}

func instrument(backend string, next Storage) Storage {
	return &instrumented{backend: backend, next: next}
}

func (m *instrumented) count(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StorageOperations.WithLabelValues(m.backend, op, status).Inc()
}

func (m *instrumented) GetPlayRecord(ctx context.Context, user, key string) (*PlayRecord, error) {
	v, err := m.next.GetPlayRecord(ctx, user, key)
	m.count("get_play_record", err)
	return v, err
}

func (m *instrumented) SetPlayRecord(ctx context.Context, user, key string, rec *PlayRecord) error {
	err := m.next.SetPlayRecord(ctx, user, key, rec)
	m.count("set_play_record", err)
	return err
}

func (m *instrumented) GetAllPlayRecords(ctx context.Context, user string) (map[string]*PlayRecord, error) {
	v, err := m.next.GetAllPlayRecords(ctx, user)
	m.count("get_all_play_records", err)
	return v, err
}

func (m *instrumented) DeletePlayRecord(ctx context.Context, user, key string) error {
	err := m.next.DeletePlayRecord(ctx, user, key)
	m.count("delete_play_record", err)
	return err
}

func (m *instrumented) GetFavorite(ctx context.Context, user, key string) (*Favorite, error) {
	v, err := m.next.GetFavorite(ctx, user, key)
	m.count("get_favorite", err)
	return v, err
}

func (m *instrumented) SetFavorite(ctx context.Context, user, key string, fav *Favorite) error {
	err := m.next.SetFavorite(ctx, user, key, fav)
	m.count("set_favorite", err)
	return err
}

func (m *instrumented) GetAllFavorites(ctx context.Context, user string) (map[string]*Favorite, error) {
	v, err := m.next.GetAllFavorites(ctx, user)
	m.count("get_all_favorites", err)
	return v, err
}

func (m *instrumented) DeleteFavorite(ctx context.Context, user, key string) error {
	err := m.next.DeleteFavorite(ctx, user, key)
	m.count("delete_favorite", err)
	return err
}

func (m *instrumented) RegisterUser(ctx context.Context, user, password string) error {
	err := m.next.RegisterUser(ctx, user, password)
	m.count("register_user", err)
	return err
}

func (m *instrumented) VerifyUser(ctx context.Context, user, password string) (bool, error) {
	v, err := m.next.VerifyUser(ctx, user, password)
	m.count("verify_user", err)
	return v, err
}

func (m *instrumented) CheckUserExist(ctx context.Context, user string) (bool, error) {
	v, err := m.next.CheckUserExist(ctx, user)
	m.count("check_user_exist", err)
	return v, err
}

func (m *instrumented) ChangePassword(ctx context.Context, user, newPassword string) error {
	err := m.next.ChangePassword(ctx, user, newPassword)
	m.count("change_password", err)
	return err
}

func (m *instrumented) DeleteUser(ctx context.Context, user string) error {
	err := m.next.DeleteUser(ctx, user)
	m.count("delete_user", err)
	return err
}

func (m *instrumented) GetAllUsers(ctx context.Context) ([]User, error) {
	v, err := m.next.GetAllUsers(ctx)
	m.count("get_all_users", err)
	return v, err
}

func (m *instrumented) GetUserSettings(ctx context.Context, user string) (*UserSettings, error) {
	v, err := m.next.GetUserSettings(ctx, user)
	m.count("get_user_settings", err)
	return v, err
}

func (m *instrumented) SetUserSettings(ctx context.Context, user string, settings *UserSettings) error {
	err := m.next.SetUserSettings(ctx, user, settings)
	m.count("set_user_settings", err)
	return err
}

func (m *instrumented) UpdateUserSettings(ctx context.Context, user string, patch SettingsPatch) error {
	err := m.next.UpdateUserSettings(ctx, user, patch)
	m.count("update_user_settings", err)
	return err
}

func (m *instrumented) GetSearchHistory(ctx context.Context, user string) ([]string, error) {
	v, err := m.next.GetSearchHistory(ctx, user)
	m.count("get_search_history", err)
	return v, err
}

func (m *instrumented) AddSearchHistory(ctx context.Context, user, keyword string) error {
	err := m.next.AddSearchHistory(ctx, user, keyword)
	m.count("add_search_history", err)
	return err
}

func (m *instrumented) DeleteSearchHistory(ctx context.Context, user, keyword string) error {
	err := m.next.DeleteSearchHistory(ctx, user, keyword)
	m.count("delete_search_history", err)
	return err
}

func (m *instrumented) GetSkipConfig(ctx context.Context, user, key string) (*EpisodeSkipConfig, error) {
	v, err := m.next.GetSkipConfig(ctx, user, key)
	m.count("get_skip_config", err)
	return v, err
}

func (m *instrumented) SetSkipConfig(ctx context.Context, user, key string, cfg *EpisodeSkipConfig) error {
	err := m.next.SetSkipConfig(ctx, user, key, cfg)
	m.count("set_skip_config", err)
	return err
}

func (m *instrumented) GetAllSkipConfigs(ctx context.Context, user string) (map[string]*EpisodeSkipConfig, error) {
	v, err := m.next.GetAllSkipConfigs(ctx, user)
	m.count("get_all_skip_configs", err)
	return v, err
}

func (m *instrumented) DeleteSkipConfig(ctx context.Context, user, key string) error {
	err := m.next.DeleteSkipConfig(ctx, user, key)
	m.count("delete_skip_config", err)
	return err
}

func (m *instrumented) GetAdminConfig(ctx context.Context) (*AdminConfig, error) {
	v, err := m.next.GetAdminConfig(ctx)
	m.count("get_admin_config", err)
	return v, err
}

func (m *instrumented) SetAdminConfig(ctx context.Context, cfg *AdminConfig) error {
	err := m.next.SetAdminConfig(ctx, cfg)
	m.count("set_admin_config", err)
	return err
}

func (m *instrumented) Ping(ctx context.Context) error {
	return m.next.Ping(ctx)
}

func (m *instrumented) Close() error {
	return m.next.Close()
}
