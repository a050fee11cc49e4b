package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is the in-process adapter: no network, no retry, gone when
// the process exits. It doubles as the degraded-mode fallback when the
// configured backend is unreachable at startup.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]map[string]PlayRecord
	favs    map[string]map[string]Favorite
	users   map[string]userDoc
	setting map[string]UserSettings
	history map[string][]string
	skips   map[string]map[string]EpisodeSkipConfig
	admin   []byte // JSON snapshot, so callers can't mutate shared state
	owner   string
}

// NewMemoryStorage returns an empty in-process store. owner is the
// deployment's owner username, used for role derivation.
func NewMemoryStorage(owner string) *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]map[string]PlayRecord),
		favs:    make(map[string]map[string]Favorite),
		users:   make(map[string]userDoc),
		setting: make(map[string]UserSettings),
		history: make(map[string][]string),
		skips:   make(map[string]map[string]EpisodeSkipConfig),
		owner:   owner,
	}
}

// --- play records ---

func (s *MemoryStorage) GetPlayRecord(_ context.Context, user, key string) (*PlayRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[user][key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStorage) SetPlayRecord(_ context.Context, user, key string, rec *PlayRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[user] == nil {
		s.records[user] = make(map[string]PlayRecord)
	}
	s.records[user][key] = *rec
	return nil
}

func (s *MemoryStorage) GetAllPlayRecords(_ context.Context, user string) (map[string]*PlayRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*PlayRecord, len(s.records[user]))
	for k, rec := range s.records[user] {
		rec := rec
		out[k] = &rec
	}
	return out, nil
}

func (s *MemoryStorage) DeletePlayRecord(_ context.Context, user, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[user], key)
	return nil
}

// --- favorites ---

func (s *MemoryStorage) GetFavorite(_ context.Context, user, key string) (*Favorite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fav, ok := s.favs[user][key]
	if !ok {
		return nil, nil
	}
	return &fav, nil
}

func (s *MemoryStorage) SetFavorite(_ context.Context, user, key string, fav *Favorite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.favs[user] == nil {
		s.favs[user] = make(map[string]Favorite)
	}
	s.favs[user][key] = *fav
	return nil
}

func (s *MemoryStorage) GetAllFavorites(_ context.Context, user string) (map[string]*Favorite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Favorite, len(s.favs[user]))
	for k, fav := range s.favs[user] {
		fav := fav
		out[k] = &fav
	}
	return out, nil
}

func (s *MemoryStorage) DeleteFavorite(_ context.Context, user, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.favs[user], key)
	return nil
}

// --- accounts ---

func (s *MemoryStorage) RegisterUser(_ context.Context, user, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user] = userDoc{Username: user, Password: password, CreatedAt: time.Now().UnixMilli()}
	return nil
}

func (s *MemoryStorage) VerifyUser(_ context.Context, user, password string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.users[user]
	return ok && doc.Password == password, nil
}

func (s *MemoryStorage) CheckUserExist(_ context.Context, user string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[user]
	return ok, nil
}

func (s *MemoryStorage) ChangePassword(_ context.Context, user, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.users[user]
	if !ok {
		return nil
	}
	doc.Password = newPassword
	s.users[user] = doc
	return nil
}

func (s *MemoryStorage) DeleteUser(_ context.Context, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, user)
	delete(s.records, user)
	delete(s.favs, user)
	delete(s.setting, user)
	delete(s.history, user)
	delete(s.skips, user)
	return nil
}

func (s *MemoryStorage) GetAllUsers(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for name, doc := range s.users {
		out = append(out, User{
			Username:  name,
			Role:      roleFor(name, s.owner),
			CreatedAt: time.UnixMilli(doc.CreatedAt).UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// --- settings ---

func (s *MemoryStorage) GetUserSettings(_ context.Context, user string) (*UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.setting[user]
	if !ok {
		return DefaultUserSettings(), nil
	}
	return stored.clone(), nil
}

func (s *MemoryStorage) SetUserSettings(_ context.Context, user string, settings *UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setting[user] = *settings.clone()
	return nil
}

func (s *MemoryStorage) UpdateUserSettings(_ context.Context, user string, patch SettingsPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current *UserSettings
	if stored, ok := s.setting[user]; ok {
		current = stored.clone()
	}
	s.setting[user] = *MergeSettings(current, patch)
	return nil
}

// --- search history ---

func (s *MemoryStorage) GetSearchHistory(_ context.Context, user string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.history[user]...), nil
}

func (s *MemoryStorage) AddSearchHistory(_ context.Context, user, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[user] = pushKeyword(s.history[user], keyword)
	return nil
}

func (s *MemoryStorage) DeleteSearchHistory(_ context.Context, user, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keyword == "" {
		delete(s.history, user)
		return nil
	}
	s.history[user] = removeKeyword(s.history[user], keyword)
	return nil
}

// pushKeyword deduplicates, prepends and trims to the history cap.
func pushKeyword(history []string, keyword string) []string {
	out := append([]string{keyword}, removeKeyword(history, keyword)...)
	if len(out) > SearchHistoryLimit {
		out = out[:SearchHistoryLimit]
	}
	return out
}

func removeKeyword(history []string, keyword string) []string {
	out := make([]string, 0, len(history))
	for _, k := range history {
		if k != keyword {
			out = append(out, k)
		}
	}
	return out
}

// --- skip configs ---

func (s *MemoryStorage) GetSkipConfig(_ context.Context, user, key string) (*EpisodeSkipConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.skips[user][key]
	if !ok {
		return nil, nil
	}
	return cloneSkipConfig(&cfg), nil
}

func (s *MemoryStorage) SetSkipConfig(_ context.Context, user, key string, cfg *EpisodeSkipConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skips[user] == nil {
		s.skips[user] = make(map[string]EpisodeSkipConfig)
	}
	s.skips[user][key] = *cloneSkipConfig(cfg)
	return nil
}

func (s *MemoryStorage) GetAllSkipConfigs(_ context.Context, user string) (map[string]*EpisodeSkipConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*EpisodeSkipConfig, len(s.skips[user]))
	for k, cfg := range s.skips[user] {
		out[k] = cloneSkipConfig(&cfg)
	}
	return out, nil
}

func (s *MemoryStorage) DeleteSkipConfig(_ context.Context, user, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.skips[user], key)
	return nil
}

func cloneSkipConfig(cfg *EpisodeSkipConfig) *EpisodeSkipConfig {
	out := *cfg
	out.Segments = append([]SkipSegment(nil), cfg.Segments...)
	return &out
}

// --- admin config ---

func (s *MemoryStorage) GetAdminConfig(_ context.Context) (*AdminConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.admin == nil {
		return nil, nil
	}
	var cfg AdminConfig
	if err := json.Unmarshal(s.admin, &cfg); err != nil {
		return nil, decodeError(adminConfigKey, err)
	}
	return &cfg, nil
}

func (s *MemoryStorage) SetAdminConfig(_ context.Context, cfg *AdminConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = data
	return nil
}

func (s *MemoryStorage) Ping(context.Context) error { return nil }
func (s *MemoryStorage) Close() error               { return nil }
