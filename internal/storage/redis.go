package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zwkere/KatelyaTV/internal/log"
)

// RedisConfig holds connection settings for the Redis-protocol backends.
type RedisConfig struct {
	URL         string // redis://[:password@]host:port[/db]
	Password    string // overrides the URL credential when non-blank
	DB          int    // overrides the URL database when non-zero
	DialTimeout time.Duration
	Owner       string // owner username for role derivation
}

// RedisStorage implements the storage contract over the Redis wire protocol.
// It serves both Redis and Kvrocks, which differ only in default transport
// and auth conventions. Every operation goes through the retry wrapper; the
// shared client handle lives in the client manager.
type RedisStorage struct {
	client *redis.Client
	mgr    *ClientManager
	name   string
	pol    retryPolicy
	owner  string
	logger zerolog.Logger
}

// NewRedisStorage connects to a Redis backend. The URL is mandatory: an
// unconfigured Redis deployment is a configuration error, not something to
// guess at.
func NewRedisStorage(cfg RedisConfig) (*RedisStorage, error) {
	if cfg.URL == "" {
		return nil, errors.New("storage: redis URL not configured")
	}
	return newRedisProtocol("redis", cfg, defaultClientManager)
}

// NewKvrocksStorage connects to a Kvrocks backend, defaulting to the
// conventional local port when no URL is configured.
func NewKvrocksStorage(cfg RedisConfig) (*RedisStorage, error) {
	if cfg.URL == "" {
		cfg.URL = "redis://localhost:6666"
	}
	return newRedisProtocol("kvrocks", cfg, defaultClientManager)
}

func newRedisProtocol(name string, cfg RedisConfig, mgr *ClientManager) (*RedisStorage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse %s url: %w", name, err)
	}
	// A blank credential means no AUTH at all: sending AUTH to a server
	// with no password configured fails authentication.
	if pw := strings.TrimSpace(cfg.Password); pw != "" {
		opts.Password = pw
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	} else {
		opts.DialTimeout = 10 * time.Second
	}
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 5

	// The handle is dialed lazily by the pool; construction never blocks on
	// an unreachable backend.
	client := mgr.Client(name, func() *redis.Client { return redis.NewClient(opts) })

	return &RedisStorage{
		client: client,
		mgr:    mgr,
		name:   name,
		pol:    defaultRetryPolicy(),
		owner:  cfg.Owner,
		logger: log.WithComponent(name),
	}, nil
}

func (s *RedisStorage) revive(ctx context.Context) error {
	return s.mgr.Revive(ctx, s.name)
}

// --- shared KV helpers ---

func redisGetJSON[T any](ctx context.Context, s *RedisStorage, key string) (*T, error) {
	raw, err := withRetry(ctx, s.pol, s.revive, func(ctx context.Context) (string, error) {
		return s.client.Get(ctx, key).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, decodeError(key, err)
	}
	return &v, nil
}

func (s *RedisStorage) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return withRetryErr(ctx, s.pol, s.revive, func(ctx context.Context) error {
		return s.client.Set(ctx, key, data, 0).Err()
	})
}

func (s *RedisStorage) del(ctx context.Context, keys ...string) error {
	return withRetryErr(ctx, s.pol, s.revive, func(ctx context.Context) error {
		return s.client.Del(ctx, keys...).Err()
	})
}

// redisGetAll enumerates a user's keys by pattern, batch-fetches them and
// re-keys the result by the stripped composite key.
func redisGetAll[T any](ctx context.Context, s *RedisStorage, prefix string) (map[string]*T, error) {
	keys, err := withRetry(ctx, s.pol, s.revive, func(ctx context.Context) ([]string, error) {
		return s.client.Keys(ctx, prefix+"*").Result()
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*T, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := withRetry(ctx, s.pol, s.revive, func(ctx context.Context) ([]interface{}, error) {
		return s.client.MGet(ctx, keys...).Result()
	})
	if err != nil {
		return nil, err
	}
	for i, fullKey := range keys {
		raw, ok := vals[i].(string)
		if !ok {
			continue // deleted between KEYS and MGET
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, decodeError(fullKey, err)
		}
		out[subKey(fullKey, prefix)] = &v
	}
	return out, nil
}

func (s *RedisStorage) deleteByPattern(ctx context.Context, pattern string) error {
	keys, err := withRetry(ctx, s.pol, s.revive, func(ctx context.Context) ([]string, error) {
		return s.client.Keys(ctx, pattern).Result()
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.del(ctx, keys...)
}

// --- play records ---

func (s *RedisStorage) GetPlayRecord(ctx context.Context, user, key string) (*PlayRecord, error) {
	return redisGetJSON[PlayRecord](ctx, s, playRecordKey(user, key))
}

func (s *RedisStorage) SetPlayRecord(ctx context.Context, user, key string, rec *PlayRecord) error {
	return s.setJSON(ctx, playRecordKey(user, key), rec)
}

func (s *RedisStorage) GetAllPlayRecords(ctx context.Context, user string) (map[string]*PlayRecord, error) {
	return redisGetAll[PlayRecord](ctx, s, playRecordPrefix(user))
}

func (s *RedisStorage) DeletePlayRecord(ctx context.Context, user, key string) error {
	return s.del(ctx, playRecordKey(user, key))
}

// --- favorites ---

func (s *RedisStorage) GetFavorite(ctx context.Context, user, key string) (*Favorite, error) {
	return redisGetJSON[Favorite](ctx, s, favoriteKey(user, key))
}

func (s *RedisStorage) SetFavorite(ctx context.Context, user, key string, fav *Favorite) error {
	return s.setJSON(ctx, favoriteKey(user, key), fav)
}

func (s *RedisStorage) GetAllFavorites(ctx context.Context, user string) (map[string]*Favorite, error) {
	return redisGetAll[Favorite](ctx, s, favoritePrefix(user))
}

func (s *RedisStorage) DeleteFavorite(ctx context.Context, user, key string) error {
	return s.del(ctx, favoriteKey(user, key))
}

// --- accounts ---

func (s *RedisStorage) RegisterUser(ctx context.Context, user, password string) error {
	doc := userDoc{Username: user, Password: password, CreatedAt: time.Now().UnixMilli()}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return withRetryErr(ctx, s.pol, s.revive, func(ctx context.Context) error {
		_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, userInfoKey(user), data, 0)
			p.SAdd(ctx, userSetKey, user)
			return nil
		})
		return err
	})
}

func (s *RedisStorage) VerifyUser(ctx context.Context, user, password string) (bool, error) {
	doc, err := redisGetJSON[userDoc](ctx, s, userInfoKey(user))
	if err != nil {
		return false, err
	}
	return doc != nil && doc.Password == password, nil
}

func (s *RedisStorage) CheckUserExist(ctx context.Context, user string) (bool, error) {
	n, err := withRetry(ctx, s.pol, s.revive, func(ctx context.Context) (int64, error) {
		return s.client.Exists(ctx, userInfoKey(user)).Result()
	})
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStorage) ChangePassword(ctx context.Context, user, newPassword string) error {
	doc, err := redisGetJSON[userDoc](ctx, s, userInfoKey(user))
	if err != nil || doc == nil {
		return err
	}
	doc.Password = newPassword
	return s.setJSON(ctx, userInfoKey(user), doc)
}

func (s *RedisStorage) GetAllUsers(ctx context.Context) ([]User, error) {
	names, err := withRetry(ctx, s.pol, s.revive, func(ctx context.Context) ([]string, error) {
		return s.client.SMembers(ctx, userSetKey).Result()
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]User, 0, len(names))
	for _, name := range names {
		u := User{Username: name, Role: roleFor(name, s.owner)}
		doc, err := redisGetJSON[userDoc](ctx, s, userInfoKey(name))
		if err != nil {
			return nil, err
		}
		if doc != nil && doc.CreatedAt > 0 {
			u.CreatedAt = time.UnixMilli(doc.CreatedAt).UTC().Format(time.RFC3339)
		}
		out = append(out, u)
	}
	return out, nil
}

// DeleteUser removes every entity keyed under the username. Sub-deletions
// are best-effort: each is attempted regardless of earlier failures, and
// the first error is reported once all have run.
func (s *RedisStorage) DeleteUser(ctx context.Context, user string) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(s.del(ctx,
		userInfoKey(user),
		settingsKey(user),
		searchHistoryKey(user),
		skipConfigIndexKey(user),
	))
	record(withRetryErr(ctx, s.pol, s.revive, func(ctx context.Context) error {
		return s.client.SRem(ctx, userSetKey, user).Err()
	}))
	for _, prefix := range []string{playRecordPrefix(user), favoritePrefix(user), skipConfigPrefix(user)} {
		record(s.deleteByPattern(ctx, prefix+"*"))
	}

	if firstErr != nil {
		s.logger.Warn().Err(firstErr).Str("user", user).Msg("user deletion incomplete")
	}
	return firstErr
}

// --- settings ---

func (s *RedisStorage) GetUserSettings(ctx context.Context, user string) (*UserSettings, error) {
	stored, err := redisGetJSON[UserSettings](ctx, s, settingsKey(user))
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return DefaultUserSettings(), nil
	}
	return stored, nil
}

func (s *RedisStorage) SetUserSettings(ctx context.Context, user string, settings *UserSettings) error {
	return s.setJSON(ctx, settingsKey(user), settings)
}

func (s *RedisStorage) UpdateUserSettings(ctx context.Context, user string, patch SettingsPatch) error {
	current, err := redisGetJSON[UserSettings](ctx, s, settingsKey(user))
	if err != nil {
		return err
	}
	return s.SetUserSettings(ctx, user, MergeSettings(current, patch))
}

// --- search history ---

func (s *RedisStorage) GetSearchHistory(ctx context.Context, user string) ([]string, error) {
	return withRetry(ctx, s.pol, s.revive, func(ctx context.Context) ([]string, error) {
		return s.client.LRange(ctx, searchHistoryKey(user), 0, -1).Result()
	})
}

func (s *RedisStorage) AddSearchHistory(ctx context.Context, user, keyword string) error {
	key := searchHistoryKey(user)
	return withRetryErr(ctx, s.pol, s.revive, func(ctx context.Context) error {
		_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			p.LRem(ctx, key, 0, keyword)
			p.LPush(ctx, key, keyword)
			p.LTrim(ctx, key, 0, SearchHistoryLimit-1)
			return nil
		})
		return err
	})
}

func (s *RedisStorage) DeleteSearchHistory(ctx context.Context, user, keyword string) error {
	key := searchHistoryKey(user)
	if keyword == "" {
		return s.del(ctx, key)
	}
	return withRetryErr(ctx, s.pol, s.revive, func(ctx context.Context) error {
		return s.client.LRem(ctx, key, 0, keyword).Err()
	})
}

// --- skip configs ---
//
// Individual entity keys plus a set-membership index per user: the backend
// has no prefix-delete, and the index keeps enumeration off the keyspace
// scan path.

func (s *RedisStorage) GetSkipConfig(ctx context.Context, user, key string) (*EpisodeSkipConfig, error) {
	return redisGetJSON[EpisodeSkipConfig](ctx, s, skipConfigKey(user, key))
}

func (s *RedisStorage) SetSkipConfig(ctx context.Context, user, key string, cfg *EpisodeSkipConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return withRetryErr(ctx, s.pol, s.revive, func(ctx context.Context) error {
		_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, skipConfigKey(user, key), data, 0)
			p.SAdd(ctx, skipConfigIndexKey(user), key)
			return nil
		})
		return err
	})
}

func (s *RedisStorage) GetAllSkipConfigs(ctx context.Context, user string) (map[string]*EpisodeSkipConfig, error) {
	members, err := withRetry(ctx, s.pol, s.revive, func(ctx context.Context) ([]string, error) {
		return s.client.SMembers(ctx, skipConfigIndexKey(user)).Result()
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*EpisodeSkipConfig, len(members))
	if len(members) == 0 {
		return out, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = skipConfigKey(user, m)
	}
	vals, err := withRetry(ctx, s.pol, s.revive, func(ctx context.Context) ([]interface{}, error) {
		return s.client.MGet(ctx, keys...).Result()
	})
	if err != nil {
		return nil, err
	}
	for i, m := range members {
		raw, ok := vals[i].(string)
		if !ok {
			continue // index entry without a value, skip
		}
		var cfg EpisodeSkipConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, decodeError(keys[i], err)
		}
		out[m] = &cfg
	}
	return out, nil
}

func (s *RedisStorage) DeleteSkipConfig(ctx context.Context, user, key string) error {
	return withRetryErr(ctx, s.pol, s.revive, func(ctx context.Context) error {
		_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, skipConfigKey(user, key))
			p.SRem(ctx, skipConfigIndexKey(user), key)
			return nil
		})
		return err
	})
}

// --- admin config ---

func (s *RedisStorage) GetAdminConfig(ctx context.Context) (*AdminConfig, error) {
	return redisGetJSON[AdminConfig](ctx, s, adminConfigKey)
}

func (s *RedisStorage) SetAdminConfig(ctx context.Context, cfg *AdminConfig) error {
	return s.setJSON(ctx, adminConfigKey, cfg)
}

func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) Close() error {
	return s.mgr.CloseClient(s.name)
}
