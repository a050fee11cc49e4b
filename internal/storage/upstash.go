package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zwkere/KatelyaTV/internal/log"
)

// UpstashConfig holds settings for the Upstash REST backend.
type UpstashConfig struct {
	URL     string // https://<name>.upstash.io
	Token   string
	Timeout time.Duration
	Owner   string
}

// UpstashStorage implements the storage contract over the Upstash Redis REST
// API. Commands are JSON arrays POSTed over HTTPS; there is no persistent
// connection to manage, so recovery is plain per-request retry with no
// revive hook.
type UpstashStorage struct {
	base   string
	token  string
	http   *http.Client
	pol    retryPolicy
	owner  string
	logger zerolog.Logger
}

// NewUpstashStorage builds a client for the configured REST endpoint. Both
// the URL and token are mandatory.
func NewUpstashStorage(cfg UpstashConfig) (*UpstashStorage, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, errors.New("storage: upstash URL and token must be configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &UpstashStorage{
		base:   strings.TrimRight(cfg.URL, "/"),
		token:  cfg.Token,
		http:   &http.Client{Timeout: timeout},
		pol:    defaultRetryPolicy(),
		owner:  cfg.Owner,
		logger: log.WithComponent("upstash"),
	}, nil
}

type upstashResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (s *UpstashStorage) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	// Server-side failures are worth retrying; 4xx means the request itself
	// is wrong and will not improve on repeat.
	if resp.StatusCode >= 500 {
		return nil, markTransient(fmt.Errorf("storage: upstash status %d: %s", resp.StatusCode, buf.String()))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("storage: upstash status %d: %s", resp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}

// command executes one Redis command and returns its raw result.
func (s *UpstashStorage) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	return withRetry(ctx, s.pol, nil, func(ctx context.Context) (json.RawMessage, error) {
		body, err := s.post(ctx, "", args)
		if err != nil {
			return nil, err
		}
		var r upstashResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, decodeError("upstash response", err)
		}
		if r.Error != "" {
			return nil, fmt.Errorf("storage: upstash: %s", r.Error)
		}
		return r.Result, nil
	})
}

// pipeline executes commands back to back on one request. Per-command errors
// surface as one combined error; results keep command order.
func (s *UpstashStorage) pipeline(ctx context.Context, cmds [][]any) ([]json.RawMessage, error) {
	return withRetry(ctx, s.pol, nil, func(ctx context.Context) ([]json.RawMessage, error) {
		body, err := s.post(ctx, "/pipeline", cmds)
		if err != nil {
			return nil, err
		}
		var rs []upstashResponse
		if err := json.Unmarshal(body, &rs); err != nil {
			return nil, decodeError("upstash pipeline response", err)
		}
		out := make([]json.RawMessage, len(rs))
		for i, r := range rs {
			if r.Error != "" {
				return nil, fmt.Errorf("storage: upstash pipeline command %d: %s", i, r.Error)
			}
			out[i] = r.Result
		}
		return out, nil
	})
}

// --- result decoding ---

func rawIsNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func rawString(raw json.RawMessage) (string, bool, error) {
	if rawIsNull(raw) {
		return "", false, nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false, decodeError("upstash result", err)
	}
	return v, true, nil
}

func rawStrings(raw json.RawMessage) ([]string, error) {
	if rawIsNull(raw) {
		return nil, nil
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, decodeError("upstash result", err)
	}
	return v, nil
}

func rawInt(raw json.RawMessage) (int64, error) {
	if rawIsNull(raw) {
		return 0, nil
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, decodeError("upstash result", err)
	}
	return v, nil
}

// --- shared KV helpers ---

func upstashGetJSON[T any](ctx context.Context, s *UpstashStorage, key string) (*T, error) {
	raw, err := s.command(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	str, found, err := rawString(raw)
	if err != nil || !found {
		return nil, err
	}
	var v T
	if err := json.Unmarshal([]byte(str), &v); err != nil {
		return nil, decodeError(key, err)
	}
	return &v, nil
}

func (s *UpstashStorage) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.command(ctx, "SET", key, string(data))
	return err
}

func (s *UpstashStorage) del(ctx context.Context, keys ...string) error {
	args := make([]any, 0, len(keys)+1)
	args = append(args, "DEL")
	for _, k := range keys {
		args = append(args, k)
	}
	_, err := s.command(ctx, args...)
	return err
}

func upstashGetAll[T any](ctx context.Context, s *UpstashStorage, prefix string) (map[string]*T, error) {
	raw, err := s.command(ctx, "KEYS", prefix+"*")
	if err != nil {
		return nil, err
	}
	keys, err := rawStrings(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*T, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(keys)+1)
	args = append(args, "MGET")
	for _, k := range keys {
		args = append(args, k)
	}
	raw, err = s.command(ctx, args...)
	if err != nil {
		return nil, err
	}
	var vals []*string
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, decodeError("upstash mget result", err)
	}
	for i, fullKey := range keys {
		if i >= len(vals) || vals[i] == nil {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(*vals[i]), &v); err != nil {
			return nil, decodeError(fullKey, err)
		}
		out[subKey(fullKey, prefix)] = &v
	}
	return out, nil
}

func (s *UpstashStorage) deleteByPattern(ctx context.Context, pattern string) error {
	raw, err := s.command(ctx, "KEYS", pattern)
	if err != nil {
		return err
	}
	keys, err := rawStrings(raw)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.del(ctx, keys...)
}

// --- play records ---

func (s *UpstashStorage) GetPlayRecord(ctx context.Context, user, key string) (*PlayRecord, error) {
	return upstashGetJSON[PlayRecord](ctx, s, playRecordKey(user, key))
}

func (s *UpstashStorage) SetPlayRecord(ctx context.Context, user, key string, rec *PlayRecord) error {
	return s.setJSON(ctx, playRecordKey(user, key), rec)
}

func (s *UpstashStorage) GetAllPlayRecords(ctx context.Context, user string) (map[string]*PlayRecord, error) {
	return upstashGetAll[PlayRecord](ctx, s, playRecordPrefix(user))
}

func (s *UpstashStorage) DeletePlayRecord(ctx context.Context, user, key string) error {
	return s.del(ctx, playRecordKey(user, key))
}

// --- favorites ---

func (s *UpstashStorage) GetFavorite(ctx context.Context, user, key string) (*Favorite, error) {
	return upstashGetJSON[Favorite](ctx, s, favoriteKey(user, key))
}

func (s *UpstashStorage) SetFavorite(ctx context.Context, user, key string, fav *Favorite) error {
	return s.setJSON(ctx, favoriteKey(user, key), fav)
}

func (s *UpstashStorage) GetAllFavorites(ctx context.Context, user string) (map[string]*Favorite, error) {
	return upstashGetAll[Favorite](ctx, s, favoritePrefix(user))
}

func (s *UpstashStorage) DeleteFavorite(ctx context.Context, user, key string) error {
	return s.del(ctx, favoriteKey(user, key))
}

// --- accounts ---

func (s *UpstashStorage) RegisterUser(ctx context.Context, user, password string) error {
	doc := userDoc{Username: user, Password: password, CreatedAt: time.Now().UnixMilli()}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.pipeline(ctx, [][]any{
		{"SET", userInfoKey(user), string(data)},
		{"SADD", userSetKey, user},
	})
	return err
}

func (s *UpstashStorage) VerifyUser(ctx context.Context, user, password string) (bool, error) {
	doc, err := upstashGetJSON[userDoc](ctx, s, userInfoKey(user))
	if err != nil {
		return false, err
	}
	return doc != nil && doc.Password == password, nil
}

func (s *UpstashStorage) CheckUserExist(ctx context.Context, user string) (bool, error) {
	raw, err := s.command(ctx, "EXISTS", userInfoKey(user))
	if err != nil {
		return false, err
	}
	n, err := rawInt(raw)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *UpstashStorage) ChangePassword(ctx context.Context, user, newPassword string) error {
	doc, err := upstashGetJSON[userDoc](ctx, s, userInfoKey(user))
	if err != nil || doc == nil {
		return err
	}
	doc.Password = newPassword
	return s.setJSON(ctx, userInfoKey(user), doc)
}

func (s *UpstashStorage) GetAllUsers(ctx context.Context) ([]User, error) {
	raw, err := s.command(ctx, "SMEMBERS", userSetKey)
	if err != nil {
		return nil, err
	}
	names, err := rawStrings(raw)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]User, 0, len(names))
	for _, name := range names {
		u := User{Username: name, Role: roleFor(name, s.owner)}
		doc, err := upstashGetJSON[userDoc](ctx, s, userInfoKey(name))
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

// DeleteUser mirrors the wire-protocol backend: best-effort sub-deletions,
// first error reported after all have run.
func (s *UpstashStorage) DeleteUser(ctx context.Context, user string) error {
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
	_, err := s.command(ctx, "SREM", userSetKey, user)
	record(err)
	for _, prefix := range []string{playRecordPrefix(user), favoritePrefix(user), skipConfigPrefix(user)} {
		record(s.deleteByPattern(ctx, prefix+"*"))
	}

	if firstErr != nil {
		s.logger.Warn().Err(firstErr).Str("user", user).Msg("user deletion incomplete")
	}
	return firstErr
}

// --- settings ---

func (s *UpstashStorage) GetUserSettings(ctx context.Context, user string) (*UserSettings, error) {
	stored, err := upstashGetJSON[UserSettings](ctx, s, settingsKey(user))
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return DefaultUserSettings(), nil
	}
	return stored, nil
}

func (s *UpstashStorage) SetUserSettings(ctx context.Context, user string, settings *UserSettings) error {
	return s.setJSON(ctx, settingsKey(user), settings)
}

func (s *UpstashStorage) UpdateUserSettings(ctx context.Context, user string, patch SettingsPatch) error {
	current, err := upstashGetJSON[UserSettings](ctx, s, settingsKey(user))
	if err != nil {
		return err
	}
	return s.SetUserSettings(ctx, user, MergeSettings(current, patch))
}

// --- search history ---

func (s *UpstashStorage) GetSearchHistory(ctx context.Context, user string) ([]string, error) {
	raw, err := s.command(ctx, "LRANGE", searchHistoryKey(user), 0, -1)
	if err != nil {
		return nil, err
	}
	out, err := rawStrings(raw)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (s *UpstashStorage) AddSearchHistory(ctx context.Context, user, keyword string) error {
	key := searchHistoryKey(user)
	_, err := s.pipeline(ctx, [][]any{
		{"LREM", key, 0, keyword},
		{"LPUSH", key, keyword},
		{"LTRIM", key, 0, SearchHistoryLimit - 1},
	})
	return err
}

func (s *UpstashStorage) DeleteSearchHistory(ctx context.Context, user, keyword string) error {
	key := searchHistoryKey(user)
	if keyword == "" {
		return s.del(ctx, key)
	}
	_, err := s.command(ctx, "LREM", key, 0, keyword)
	return err
}

// --- skip configs ---

func (s *UpstashStorage) GetSkipConfig(ctx context.Context, user, key string) (*EpisodeSkipConfig, error) {
	return upstashGetJSON[EpisodeSkipConfig](ctx, s, skipConfigKey(user, key))
}

func (s *UpstashStorage) SetSkipConfig(ctx context.Context, user, key string, cfg *EpisodeSkipConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.pipeline(ctx, [][]any{
		{"SET", skipConfigKey(user, key), string(data)},
		{"SADD", skipConfigIndexKey(user), key},
	})
	return err
}

func (s *UpstashStorage) GetAllSkipConfigs(ctx context.Context, user string) (map[string]*EpisodeSkipConfig, error) {
	raw, err := s.command(ctx, "SMEMBERS", skipConfigIndexKey(user))
	if err != nil {
		return nil, err
	}
	members, err := rawStrings(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*EpisodeSkipConfig, len(members))
	for _, m := range members {
		cfg, err := upstashGetJSON[EpisodeSkipConfig](ctx, s, skipConfigKey(user, m))
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			continue // index entry without a value, skip
		}
		out[m] = cfg
	}
	return out, nil
}

func (s *UpstashStorage) DeleteSkipConfig(ctx context.Context, user, key string) error {
	_, err := s.pipeline(ctx, [][]any{
		{"DEL", skipConfigKey(user, key)},
		{"SREM", skipConfigIndexKey(user), key},
	})
	return err
}

// --- admin config ---

func (s *UpstashStorage) GetAdminConfig(ctx context.Context) (*AdminConfig, error) {
	return upstashGetJSON[AdminConfig](ctx, s, adminConfigKey)
}

func (s *UpstashStorage) SetAdminConfig(ctx context.Context, cfg *AdminConfig) error {
	return s.setJSON(ctx, adminConfigKey, cfg)
}

func (s *UpstashStorage) Ping(ctx context.Context) error {
	_, err := s.command(ctx, "PING")
	return err
}

// Close is a no-op beyond dropping idle connections; the REST client holds
// no long-lived state.
func (s *UpstashStorage) Close() error {
	s.http.CloseIdleConnections()
	return nil
}
