// Package config loads the runtime configuration of the turnpike binaries.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// TURNPIKE_ environment variables. A double underscore in a variable name
// separates sections, so TURNPIKE_REDIS__ADDR sets redis.addr.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/persistence/middleware"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "TURNPIKE_"

// Backends accepted by the audit and conversation sections.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

type Config struct {
	Log          LogConfig          `koanf:"log"`
	Server       ServerConfig       `koanf:"server"`
	Catalog      CatalogConfig      `koanf:"catalog"`
	Audit        AuditConfig        `koanf:"audit"`
	Conversation ConversationConfig `koanf:"conversation"`
	Redis        RedisConfig        `koanf:"redis"`
	Engine       EngineConfig       `koanf:"engine"`
	Tasks        TasksConfig        `koanf:"tasks"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type CatalogConfig struct {
	// Path is a YAML file or a directory of YAML files.
	Path     string        `koanf:"path"`
	Watch    bool          `koanf:"watch"`
	Debounce time.Duration `koanf:"debounce"`
}

type AuditConfig struct {
	Backend    string `koanf:"backend"`
	SQLitePath string `koanf:"sqlite_path"`
	// Async enables bounded per-listener delivery with Capacity slots.
	Async    bool `koanf:"async"`
	Capacity int  `koanf:"capacity"`
}

type ConversationConfig struct {
	Backend string `koanf:"backend"`
	// Dir is the directory of the file backend.
	Dir string `koanf:"dir"`
	// EncryptionKey is a base64 AES-256 key; when set, conversations are
	// stored encrypted. FallbackKeys decrypt data written before a rotation.
	EncryptionKey string   `koanf:"encryption_key"`
	FallbackKeys  []string `koanf:"fallback_keys"`
	// MaskKeys are patterns of context keys whose values are never stored.
	MaskKeys []string `koanf:"mask_keys"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Prefix   string        `koanf:"prefix"`
	TTL      time.Duration `koanf:"ttl"`
	// Lock serializes turns across processes with a Redis lock.
	Lock    bool          `koanf:"lock"`
	LockTTL time.Duration `koanf:"lock_ttl"`
}

type TasksConfig struct {
	// ToolsPath lists external commands exposed as process.<name> tasks.
	ToolsPath string        `koanf:"tools_path"`
	Dir       string        `koanf:"dir"`
	Timeout   time.Duration `koanf:"timeout"`
}

type EngineConfig struct {
	LockWait       time.Duration `koanf:"lock_wait"`
	PersistTimeout time.Duration `koanf:"persist_timeout"`
	MaxInputSize   int           `koanf:"max_input_size"`
}

var defaults = map[string]any{
	"log.level":              "info",
	"server.addr":            ":8080",
	"catalog.path":           "catalog.yaml",
	"catalog.watch":          false,
	"catalog.debounce":       "100ms",
	"audit.backend":          BackendMemory,
	"audit.sqlite_path":      "turnpike-audit.db",
	"audit.async":            false,
	"audit.capacity":         256,
	"conversation.backend":   BackendMemory,
	"conversation.dir":       ".turnpike/conversations",
	"redis.addr":             "localhost:6379",
	"redis.db":               0,
	"redis.prefix":           "turnpike:",
	"redis.ttl":              "24h",
	"redis.lock":             false,
	"redis.lock_ttl":         "30s",
	"engine.lock_wait":       "0s",
	"engine.persist_timeout": "5s",
	"engine.max_input_size":  0,
	"tasks.timeout":          "10s",
}

// Load reads the configuration. An empty path skips the file layer; a
// missing file is an error only when the path was given explicitly.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Environment overrides the file
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// LoadDefault loads path when the file exists and falls back to defaults
// plus environment otherwise.
func LoadDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Load("")
		}
		return nil, err
	}
	return Load(path)
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if strings.TrimSpace(c.Catalog.Path) == "" {
		errs = append(errs, errors.New("catalog.path is required"))
	}
	if c.Catalog.Debounce < 0 {
		errs = append(errs, errors.New("catalog.debounce must not be negative"))
	}

	switch c.Audit.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Audit.SQLitePath == "" {
			errs = append(errs, errors.New("audit.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.backend: unknown backend %q (memory|sqlite)", c.Audit.Backend))
	}
	if c.Audit.Async && c.Audit.Capacity <= 0 {
		errs = append(errs, errors.New("audit.capacity must be positive when audit.async is set"))
	}

	switch c.Conversation.Backend {
	case BackendMemory, BackendRedis:
	case BackendFile:
		if c.Conversation.Dir == "" {
			errs = append(errs, errors.New("conversation.dir is required for the file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("conversation.backend: unknown backend %q (memory|redis|file)", c.Conversation.Backend))
	}

	if c.Conversation.EncryptionKey != "" {
		if _, err := middleware.DecodeKey(c.Conversation.EncryptionKey); err != nil {
			errs = append(errs, fmt.Errorf("conversation.encryption_key: %w", err))
		}
	}
	for i, k := range c.Conversation.FallbackKeys {
		if _, err := middleware.DecodeKey(k); err != nil {
			errs = append(errs, fmt.Errorf("conversation.fallback_keys[%d]: %w", i, err))
		}
	}
	if _, err := middleware.NewPIIMiddleware(c.Conversation.MaskKeys); err != nil {
		errs = append(errs, fmt.Errorf("conversation.mask_keys: %w", err))
	}

	if c.UsesRedis() {
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required"))
		}
		if c.Redis.TTL < 0 {
			errs = append(errs, errors.New("redis.ttl must not be negative"))
		}
		if c.Redis.Lock && c.Redis.LockTTL <= 0 {
			errs = append(errs, errors.New("redis.lock_ttl must be positive"))
		}
	}

	if c.Engine.LockWait < 0 {
		errs = append(errs, errors.New("engine.lock_wait must not be negative"))
	}
	if c.Engine.PersistTimeout <= 0 {
		errs = append(errs, errors.New("engine.persist_timeout must be positive"))
	}
	if c.Tasks.Timeout <= 0 {
		errs = append(errs, errors.New("tasks.timeout must be positive"))
	}
	if c.Engine.MaxInputSize < 0 {
		errs = append(errs, errors.New("engine.max_input_size must not be negative"))
	}

	return errors.Join(errs...)
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Conversation.Backend == BackendRedis || c.Redis.Lock
}
