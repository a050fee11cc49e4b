package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zwkere/KatelyaTV/internal/storage"
)

// Config is the full daemon configuration. Values come from an optional YAML
// file (CONFIG_FILE) with environment variables taking precedence, so
// container deployments can override single settings without a file.
type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	LogLevel   string        `yaml:"log_level"`
	Storage    StorageConfig `yaml:"storage"`
}

// StorageConfig mirrors storage.Config in YAML-friendly form.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Owner   string `yaml:"owner"`

	Redis struct {
		URL      string `yaml:"url"`
		Password string `yaml:"password"`
		Database int    `yaml:"database"`
	} `yaml:"redis"`

	Kvrocks struct {
		URL      string `yaml:"url"`
		Password string `yaml:"password"`
		Database int    `yaml:"database"`
	} `yaml:"kvrocks"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	Badger struct {
		Path string `yaml:"path"`
	} `yaml:"badger"`

	Upstash struct {
		URL   string `yaml:"url"`
		Token string `yaml:"token"`
	} `yaml:"upstash"`
}

// Load assembles the configuration. Missing values fall back to defaults; a
// bad YAML file is a hard error because running with half a config silently
// ignored is worse than not starting.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.ListenAddr = ParseString("LISTEN_ADDR", defaultString(cfg.ListenAddr, ":8080"))
	cfg.LogLevel = ParseString("LOG_LEVEL", defaultString(cfg.LogLevel, "info"))

	s := &cfg.Storage
	s.Backend = ParseString("STORAGE_TYPE", defaultString(s.Backend, "memory"))
	s.Owner = ParseString("USERNAME", s.Owner)

	s.Redis.URL = ParseString("REDIS_URL", s.Redis.URL)
	s.Redis.Password = ParseString("REDIS_PASSWORD", s.Redis.Password)
	s.Redis.Database = ParseInt("REDIS_DATABASE", s.Redis.Database)

	s.Kvrocks.URL = ParseString("KVROCKS_URL", s.Kvrocks.URL)
	s.Kvrocks.Password = ParseString("KVROCKS_PASSWORD", s.Kvrocks.Password)
	s.Kvrocks.Database = ParseInt("KVROCKS_DATABASE", s.Kvrocks.Database)

	s.SQLite.Path = ParseString("SQLITE_PATH", defaultString(s.SQLite.Path, "./data/katelyatv.db"))
	s.Badger.Path = ParseString("BADGER_PATH", defaultString(s.Badger.Path, "./data/badger"))

	s.Upstash.URL = ParseString("UPSTASH_URL", s.Upstash.URL)
	s.Upstash.Token = ParseString("UPSTASH_TOKEN", s.Upstash.Token)

	return cfg, nil
}

// StorageConfig converts the loaded configuration into the storage package's
// selection struct.
func (c *Config) StorageConfig() storage.Config {
	dialTimeout := ParseDuration("STORAGE_CONNECT_TIMEOUT", 10*time.Second)
	s := c.Storage
	return storage.Config{
		Backend: storage.Backend(s.Backend),
		Owner:   s.Owner,
		Redis: storage.RedisConfig{
			URL:         s.Redis.URL,
			Password:    s.Redis.Password,
			DB:          s.Redis.Database,
			DialTimeout: dialTimeout,
		},
		Kvrocks: storage.RedisConfig{
			URL:         s.Kvrocks.URL,
			Password:    s.Kvrocks.Password,
			DB:          s.Kvrocks.Database,
			DialTimeout: dialTimeout,
		},
		SQLite: storage.SQLiteConfig{
			Path: s.SQLite.Path,
		},
		Badger: storage.BadgerConfig{
			Path: s.Badger.Path,
		},
		Upstash: storage.UpstashConfig{
			URL:   s.Upstash.URL,
			Token: s.Upstash.Token,
		},
	}
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
