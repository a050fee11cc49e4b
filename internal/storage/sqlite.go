package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/zwkere/KatelyaTV/internal/log"
)

const sqliteSchemaVersion = 1

// SQLiteConfig holds settings for the relational backend.
type SQLiteConfig struct {
	Path         string
	BusyTimeout  time.Duration
	MaxOpenConns int
	Owner        string
}

// SQLiteStorage implements the storage contract on SQLite. Each entity maps
// to one table keyed by (username, key); structured fields are serialized to
// TEXT columns.
type SQLiteStorage struct {
	db     *sql.DB
	owner  string
	logger zerolog.Logger
}

// NewSQLiteStorage opens (and migrates) the database at cfg.Path. WAL mode
// and busy_timeout are applied through the DSN so they hold for every
// connection in the pool.
func NewSQLiteStorage(cfg SQLiteConfig) (*SQLiteStorage, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage: sqlite path not configured")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 25
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		cfg.Path, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite open: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: sqlite ping: %w", err)
	}

	s := &SQLiteStorage{db: db, owner: cfg.Owner, logger: log.WithComponent("sqlite")}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: sqlite migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS play_records (
		username TEXT NOT NULL,
		key TEXT NOT NULL,
		title TEXT NOT NULL,
		source_name TEXT NOT NULL,
		cover TEXT NOT NULL,
		year TEXT NOT NULL,
		episode_index INTEGER NOT NULL,
		total_episodes INTEGER NOT NULL,
		play_time INTEGER NOT NULL,
		total_time INTEGER NOT NULL,
		save_time INTEGER NOT NULL,
		search_title TEXT,
		PRIMARY KEY (username, key)
	);

	CREATE TABLE IF NOT EXISTS favorites (
		username TEXT NOT NULL,
		key TEXT NOT NULL,
		title TEXT NOT NULL,
		source_name TEXT NOT NULL,
		cover TEXT NOT NULL,
		year TEXT NOT NULL,
		total_episodes INTEGER NOT NULL,
		save_time INTEGER NOT NULL,
		search_title TEXT,
		PRIMARY KEY (username, key)
	);

	CREATE TABLE IF NOT EXISTS search_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		keyword TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_search_history_user ON search_history(username, created_at DESC);

	CREATE TABLE IF NOT EXISTS skip_configs (
		username TEXT NOT NULL,
		key TEXT NOT NULL,
		source TEXT NOT NULL,
		video_id TEXT NOT NULL,
		title TEXT NOT NULL,
		segments TEXT NOT NULL,
		updated_time INTEGER NOT NULL,
		PRIMARY KEY (username, key)
	);

	CREATE TABLE IF NOT EXISTS user_settings (
		username TEXT PRIMARY KEY,
		settings TEXT NOT NULL,
		updated_time INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS admin_config (
		config_key TEXT PRIMARY KEY,
		config_value TEXT NOT NULL
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info().
		Int("from_version", current).
		Int("to_version", sqliteSchemaVersion).
		Msg("schema migrated")
	return nil
}

// --- play records ---

func (s *SQLiteStorage) GetPlayRecord(ctx context.Context, user, key string) (*PlayRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT title, source_name, cover, year, episode_index, total_episodes, play_time, total_time, save_time, search_title
		 FROM play_records WHERE username = ? AND key = ?`, user, key)
	return scanPlayRecord(row)
}

func (s *SQLiteStorage) SetPlayRecord(ctx context.Context, user, key string, rec *PlayRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO play_records
			(username, key, title, source_name, cover, year, episode_index, total_episodes, play_time, total_time, save_time, search_title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username, key) DO UPDATE SET
			title = excluded.title,
			source_name = excluded.source_name,
			cover = excluded.cover,
			year = excluded.year,
			episode_index = excluded.episode_index,
			total_episodes = excluded.total_episodes,
			play_time = excluded.play_time,
			total_time = excluded.total_time,
			save_time = excluded.save_time,
			search_title = excluded.search_title`,
		user, key, rec.Title, rec.SourceName, rec.Cover, rec.Year, rec.Index,
		rec.TotalEpisodes, rec.PlayTime, rec.TotalTime, rec.SaveTime, nullString(rec.SearchTitle))
	return err
}

func (s *SQLiteStorage) GetAllPlayRecords(ctx context.Context, user string) (map[string]*PlayRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, title, source_name, cover, year, episode_index, total_episodes, play_time, total_time, save_time, search_title
		 FROM play_records WHERE username = ? ORDER BY save_time DESC`, user)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*PlayRecord)
	for rows.Next() {
		var key string
		var rec PlayRecord
		var searchTitle sql.NullString
		if err := rows.Scan(&key, &rec.Title, &rec.SourceName, &rec.Cover, &rec.Year,
			&rec.Index, &rec.TotalEpisodes, &rec.PlayTime, &rec.TotalTime, &rec.SaveTime, &searchTitle); err != nil {
			return nil, err
		}
		rec.SearchTitle = searchTitle.String
		out[key] = &rec
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) DeletePlayRecord(ctx context.Context, user, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM play_records WHERE username = ? AND key = ?", user, key)
	return err
}

// --- favorites ---

func (s *SQLiteStorage) GetFavorite(ctx context.Context, user, key string) (*Favorite, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT title, source_name, cover, year, total_episodes, save_time, search_title
		 FROM favorites WHERE username = ? AND key = ?`, user, key)
	var fav Favorite
	var searchTitle sql.NullString
	err := row.Scan(&fav.Title, &fav.SourceName, &fav.Cover, &fav.Year, &fav.TotalEpisodes, &fav.SaveTime, &searchTitle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fav.SearchTitle = searchTitle.String
	return &fav, nil
}

func (s *SQLiteStorage) SetFavorite(ctx context.Context, user, key string, fav *Favorite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO favorites
			(username, key, title, source_name, cover, year, total_episodes, save_time, search_title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username, key) DO UPDATE SET
			title = excluded.title,
			source_name = excluded.source_name,
			cover = excluded.cover,
			year = excluded.year,
			total_episodes = excluded.total_episodes,
			save_time = excluded.save_time,
			search_title = excluded.search_title`,
		user, key, fav.Title, fav.SourceName, fav.Cover, fav.Year,
		fav.TotalEpisodes, fav.SaveTime, nullString(fav.SearchTitle))
	return err
}

func (s *SQLiteStorage) GetAllFavorites(ctx context.Context, user string) (map[string]*Favorite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, title, source_name, cover, year, total_episodes, save_time, search_title
		 FROM favorites WHERE username = ? ORDER BY save_time DESC`, user)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*Favorite)
	for rows.Next() {
		var key string
		var fav Favorite
		var searchTitle sql.NullString
		if err := rows.Scan(&key, &fav.Title, &fav.SourceName, &fav.Cover, &fav.Year,
			&fav.TotalEpisodes, &fav.SaveTime, &searchTitle); err != nil {
			return nil, err
		}
		fav.SearchTitle = searchTitle.String
		out[key] = &fav
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) DeleteFavorite(ctx context.Context, user, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM favorites WHERE username = ? AND key = ?", user, key)
	return err
}

// --- accounts ---

func (s *SQLiteStorage) RegisterUser(ctx context.Context, user, password string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, created_at) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET password = excluded.password`,
		user, password, time.Now().UnixMilli())
	return err
}

func (s *SQLiteStorage) VerifyUser(ctx context.Context, user, password string) (bool, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, "SELECT password FROM users WHERE username = ?", user).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == password, nil
}

func (s *SQLiteStorage) CheckUserExist(ctx context.Context, user string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM users WHERE username = ?", user).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStorage) ChangePassword(ctx context.Context, user, newPassword string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE users SET password = ? WHERE username = ?", newPassword, user)
	return err
}

// DeleteUser removes the account and every entity keyed under it in one
// transaction, the strongest atomicity any backend here offers.
func (s *SQLiteStorage) DeleteUser(ctx context.Context, user string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		"DELETE FROM users WHERE username = ?",
		"DELETE FROM play_records WHERE username = ?",
		"DELETE FROM favorites WHERE username = ?",
		"DELETE FROM search_history WHERE username = ?",
		"DELETE FROM skip_configs WHERE username = ?",
		"DELETE FROM user_settings WHERE username = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, user); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) GetAllUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT username, created_at FROM users ORDER BY created_at ASC, username ASC")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []User
	for rows.Next() {
		var name string
		var createdAt int64
		if err := rows.Scan(&name, &createdAt); err != nil {
			return nil, err
		}
		out = append(out, User{
			Username:  name,
			Role:      roleFor(name, s.owner),
			CreatedAt: time.UnixMilli(createdAt).UTC().Format(time.RFC3339),
		})
	}
	return out, rows.Err()
}

// --- settings ---

func (s *SQLiteStorage) rawUserSettings(ctx context.Context, user string) (*UserSettings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT settings FROM user_settings WHERE username = ?", user).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var settings UserSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, decodeError("user_settings/"+user, err)
	}
	return &settings, nil
}

func (s *SQLiteStorage) GetUserSettings(ctx context.Context, user string) (*UserSettings, error) {
	stored, err := s.rawUserSettings(ctx, user)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return DefaultUserSettings(), nil
	}
	return stored, nil
}

func (s *SQLiteStorage) SetUserSettings(ctx context.Context, user string, settings *UserSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_settings (username, settings, updated_time) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			settings = excluded.settings,
			updated_time = excluded.updated_time`,
		user, string(data), time.Now().UnixMilli())
	return err
}

func (s *SQLiteStorage) UpdateUserSettings(ctx context.Context, user string, patch SettingsPatch) error {
	current, err := s.rawUserSettings(ctx, user)
	if err != nil {
		return err
	}
	return s.SetUserSettings(ctx, user, MergeSettings(current, patch))
}

// --- search history ---

func (s *SQLiteStorage) GetSearchHistory(ctx context.Context, user string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT keyword FROM search_history WHERE username = ? ORDER BY created_at DESC LIMIT ?",
		user, SearchHistoryLimit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []string{}
	for rows.Next() {
		var keyword string
		if err := rows.Scan(&keyword); err != nil {
			return nil, err
		}
		out = append(out, keyword)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) AddSearchHistory(ctx context.Context, user, keyword string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM search_history WHERE username = ? AND keyword = ?", user, keyword); err != nil {
		return err
	}
	// Nanosecond timestamps keep insertion order strict within one burst.
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO search_history (username, keyword, created_at) VALUES (?, ?, ?)",
		user, keyword, time.Now().UnixNano()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM search_history
		WHERE username = ? AND id NOT IN (
			SELECT id FROM search_history
			WHERE username = ?
			ORDER BY created_at DESC
			LIMIT ?
		)`, user, user, SearchHistoryLimit); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) DeleteSearchHistory(ctx context.Context, user, keyword string) error {
	if keyword == "" {
		_, err := s.db.ExecContext(ctx, "DELETE FROM search_history WHERE username = ?", user)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM search_history WHERE username = ? AND keyword = ?", user, keyword)
	return err
}

// --- skip configs ---

func (s *SQLiteStorage) GetSkipConfig(ctx context.Context, user, key string) (*EpisodeSkipConfig, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT source, video_id, title, segments, updated_time FROM skip_configs WHERE username = ? AND key = ?",
		user, key)
	cfg, err := scanSkipConfig(row)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *SQLiteStorage) SetSkipConfig(ctx context.Context, user, key string, cfg *EpisodeSkipConfig) error {
	segments, err := json.Marshal(cfg.Segments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO skip_configs (username, key, source, video_id, title, segments, updated_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username, key) DO UPDATE SET
			source = excluded.source,
			video_id = excluded.video_id,
			title = excluded.title,
			segments = excluded.segments,
			updated_time = excluded.updated_time`,
		user, key, cfg.Source, cfg.ID, cfg.Title, string(segments), cfg.UpdatedTime)
	return err
}

func (s *SQLiteStorage) GetAllSkipConfigs(ctx context.Context, user string) (map[string]*EpisodeSkipConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, source, video_id, title, segments, updated_time FROM skip_configs WHERE username = ?", user)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*EpisodeSkipConfig)
	for rows.Next() {
		var key, segments string
		var cfg EpisodeSkipConfig
		if err := rows.Scan(&key, &cfg.Source, &cfg.ID, &cfg.Title, &segments, &cfg.UpdatedTime); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(segments), &cfg.Segments); err != nil {
			return nil, decodeError("skip_configs/"+key, err)
		}
		out[key] = &cfg
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) DeleteSkipConfig(ctx context.Context, user, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM skip_configs WHERE username = ? AND key = ?", user, key)
	return err
}

// --- admin config ---

func (s *SQLiteStorage) GetAdminConfig(ctx context.Context) (*AdminConfig, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT config_value FROM admin_config WHERE config_key = ?", "main").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg AdminConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, decodeError("admin_config", err)
	}
	return &cfg, nil
}

func (s *SQLiteStorage) SetAdminConfig(ctx context.Context, cfg *AdminConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO admin_config (config_key, config_value) VALUES (?, ?)
		ON CONFLICT(config_key) DO UPDATE SET config_value = excluded.config_value`,
		"main", string(data))
	return err
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers ---

func scanPlayRecord(row *sql.Row) (*PlayRecord, error) {
	var rec PlayRecord
	var searchTitle sql.NullString
	err := row.Scan(&rec.Title, &rec.SourceName, &rec.Cover, &rec.Year,
		&rec.Index, &rec.TotalEpisodes, &rec.PlayTime, &rec.TotalTime, &rec.SaveTime, &searchTitle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.SearchTitle = searchTitle.String
	return &rec, nil
}

func scanSkipConfig(row *sql.Row) (*EpisodeSkipConfig, error) {
	var cfg EpisodeSkipConfig
	var segments string
	err := row.Scan(&cfg.Source, &cfg.ID, &cfg.Title, &segments, &cfg.UpdatedTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(segments), &cfg.Segments); err != nil {
		return nil, decodeError("skip_configs", err)
	}
	return &cfg, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
