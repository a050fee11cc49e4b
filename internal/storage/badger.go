package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/zwkere/KatelyaTV/internal/log"
)

// BadgerConfig holds settings for the embedded KV backend.
type BadgerConfig struct {
	Path     string
	InMemory bool // no files on disk, for tests and throwaway deployments
	Owner    string
}

// BadgerStorage implements the storage contract on an embedded Badger
// database. The key schema matches the wire-protocol backends; enumeration
// uses native prefix iteration, so no membership index is kept.
type BadgerStorage struct {
	db     *badger.DB
	owner  string
	logger zerolog.Logger
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// NewBadgerStorage opens the database at cfg.Path, or an in-memory instance
// when cfg.InMemory is set.
func NewBadgerStorage(cfg BadgerConfig) (*BadgerStorage, error) {
	logger := log.WithComponent("badger")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("storage: badger path not configured")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(badgerLogger{l: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: badger open: %w", err)
	}
	return &BadgerStorage{db: db, owner: cfg.Owner, logger: logger}, nil
}

// --- shared KV helpers ---

func badgerGetJSON[T any](s *BadgerStorage, key string) (*T, error) {
	var v *T
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded T
			if err := json.Unmarshal(val, &decoded); err != nil {
				return decodeError(key, err)
			}
			v = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *BadgerStorage) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *BadgerStorage) del(keys ...string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func badgerGetAll[T any](s *BadgerStorage, prefix string) (map[string]*T, error) {
	out := make(map[string]*T)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			fullKey := string(item.Key())
			err := item.Value(func(val []byte) error {
				var v T
				if err := json.Unmarshal(val, &v); err != nil {
					return decodeError(fullKey, err)
				}
				out[subKey(fullKey, prefix)] = &v
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStorage) deleteByPrefix(txn *badger.Txn, prefix string) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// --- play records ---

func (s *BadgerStorage) GetPlayRecord(ctx context.Context, user, key string) (*PlayRecord, error) {
	return badgerGetJSON[PlayRecord](s, playRecordKey(user, key))
}

func (s *BadgerStorage) SetPlayRecord(ctx context.Context, user, key string, rec *PlayRecord) error {
	return s.setJSON(playRecordKey(user, key), rec)
}

func (s *BadgerStorage) GetAllPlayRecords(ctx context.Context, user string) (map[string]*PlayRecord, error) {
	return badgerGetAll[PlayRecord](s, playRecordPrefix(user))
}

func (s *BadgerStorage) DeletePlayRecord(ctx context.Context, user, key string) error {
	return s.del(playRecordKey(user, key))
}

// --- favorites ---

func (s *BadgerStorage) GetFavorite(ctx context.Context, user, key string) (*Favorite, error) {
	return badgerGetJSON[Favorite](s, favoriteKey(user, key))
}

func (s *BadgerStorage) SetFavorite(ctx context.Context, user, key string, fav *Favorite) error {
	return s.setJSON(favoriteKey(user, key), fav)
}

func (s *BadgerStorage) GetAllFavorites(ctx context.Context, user string) (map[string]*Favorite, error) {
	return badgerGetAll[Favorite](s, favoritePrefix(user))
}

func (s *BadgerStorage) DeleteFavorite(ctx context.Context, user, key string) error {
	return s.del(favoriteKey(user, key))
}

// --- accounts ---
//
// The username roster lives in a single JSON document; badger transactions
// make the read-modify-write safe.

func (s *BadgerStorage) readRoster(txn *badger.Txn) (map[string]bool, error) {
	roster := make(map[string]bool)
	item, err := txn.Get([]byte(userSetKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return roster, nil
	}
	if err != nil {
		return nil, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &roster)
	})
	if err != nil {
		return nil, decodeError(userSetKey, err)
	}
	return roster, nil
}

func (s *BadgerStorage) writeRoster(txn *badger.Txn, roster map[string]bool) error {
	data, err := json.Marshal(roster)
	if err != nil {
		return err
	}
	return txn.Set([]byte(userSetKey), data)
}

func (s *BadgerStorage) RegisterUser(ctx context.Context, user, password string) error {
	doc := userDoc{Username: user, Password: password, CreatedAt: time.Now().UnixMilli()}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(userInfoKey(user)), data); err != nil {
			return err
		}
		roster, err := s.readRoster(txn)
		if err != nil {
			return err
		}
		roster[user] = true
		return s.writeRoster(txn, roster)
	})
}

func (s *BadgerStorage) VerifyUser(ctx context.Context, user, password string) (bool, error) {
	doc, err := badgerGetJSON[userDoc](s, userInfoKey(user))
	if err != nil {
		return false, err
	}
	return doc != nil && doc.Password == password, nil
}

func (s *BadgerStorage) CheckUserExist(ctx context.Context, user string) (bool, error) {
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(userInfoKey(user)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (s *BadgerStorage) ChangePassword(ctx context.Context, user, newPassword string) error {
	doc, err := badgerGetJSON[userDoc](s, userInfoKey(user))
	if err != nil || doc == nil {
		return err
	}
	doc.Password = newPassword
	return s.setJSON(userInfoKey(user), doc)
}

// DeleteUser removes the roster entry and every key under the user's prefix
// in one transaction.
func (s *BadgerStorage) DeleteUser(ctx context.Context, user string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		roster, err := s.readRoster(txn)
		if err != nil {
			return err
		}
		delete(roster, user)
		if err := s.writeRoster(txn, roster); err != nil {
			return err
		}
		return s.deleteByPrefix(txn, "u:"+user+":")
	})
}

func (s *BadgerStorage) GetAllUsers(ctx context.Context) ([]User, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		roster, err := s.readRoster(txn)
		if err != nil {
			return err
		}
		for name := range roster {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]User, 0, len(names))
	for _, name := range names {
		u := User{Username: name, Role: roleFor(name, s.owner)}
		doc, err := badgerGetJSON[userDoc](s, userInfoKey(name))
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

// --- settings ---

func (s *BadgerStorage) GetUserSettings(ctx context.Context, user string) (*UserSettings, error) {
	stored, err := badgerGetJSON[UserSettings](s, settingsKey(user))
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return DefaultUserSettings(), nil
	}
	return stored, nil
}

func (s *BadgerStorage) SetUserSettings(ctx context.Context, user string, settings *UserSettings) error {
	return s.setJSON(settingsKey(user), settings)
}

func (s *BadgerStorage) UpdateUserSettings(ctx context.Context, user string, patch SettingsPatch) error {
	current, err := badgerGetJSON[UserSettings](s, settingsKey(user))
	if err != nil {
		return err
	}
	return s.SetUserSettings(ctx, user, MergeSettings(current, patch))
}

// --- search history ---
//
// Stored as one JSON array, newest first; the read-modify-write runs inside
// a transaction.

func (s *BadgerStorage) GetSearchHistory(ctx context.Context, user string) ([]string, error) {
	history, err := badgerGetJSON[[]string](s, searchHistoryKey(user))
	if err != nil {
		return nil, err
	}
	if history == nil {
		return []string{}, nil
	}
	return *history, nil
}

func (s *BadgerStorage) AddSearchHistory(ctx context.Context, user, keyword string) error {
	key := searchHistoryKey(user)
	return s.db.Update(func(txn *badger.Txn) error {
		var history []string
		item, err := txn.Get([]byte(key))
		if err == nil {
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &history)
			})
			if err != nil {
				return decodeError(key, err)
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		history = pushKeyword(history, keyword)
		data, err := json.Marshal(history)
		if err != nil {
			return err
		}
		return txn.Set([]byte(key), data)
	})
}

func (s *BadgerStorage) DeleteSearchHistory(ctx context.Context, user, keyword string) error {
	key := searchHistoryKey(user)
	if keyword == "" {
		return s.del(key)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var history []string
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &history)
		})
		if err != nil {
			return decodeError(key, err)
		}

		history = removeKeyword(history, keyword)
		data, err := json.Marshal(history)
		if err != nil {
			return err
		}
		return txn.Set([]byte(key), data)
	})
}

// --- skip configs ---

func (s *BadgerStorage) GetSkipConfig(ctx context.Context, user, key string) (*EpisodeSkipConfig, error) {
	return badgerGetJSON[EpisodeSkipConfig](s, skipConfigKey(user, key))
}

func (s *BadgerStorage) SetSkipConfig(ctx context.Context, user, key string, cfg *EpisodeSkipConfig) error {
	return s.setJSON(skipConfigKey(user, key), cfg)
}

func (s *BadgerStorage) GetAllSkipConfigs(ctx context.Context, user string) (map[string]*EpisodeSkipConfig, error) {
	return badgerGetAll[EpisodeSkipConfig](s, skipConfigPrefix(user))
}

func (s *BadgerStorage) DeleteSkipConfig(ctx context.Context, user, key string) error {
	return s.del(skipConfigKey(user, key))
}

// --- admin config ---

func (s *BadgerStorage) GetAdminConfig(ctx context.Context) (*AdminConfig, error) {
	return badgerGetJSON[AdminConfig](s, adminConfigKey)
}

func (s *BadgerStorage) SetAdminConfig(ctx context.Context, cfg *AdminConfig) error {
	return s.setJSON(adminConfigKey, cfg)
}

func (s *BadgerStorage) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("storage: badger database is closed")
	}
	return nil
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}
