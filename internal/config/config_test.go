package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, 100*time.Millisecond, cfg.Catalog.Debounce)
	assert.Equal(t, BackendMemory, cfg.Audit.Backend)
	assert.Equal(t, BackendMemory, cfg.Conversation.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, 5*time.Second, cfg.Engine.PersistTimeout)
	assert.Equal(t, 10*time.Second, cfg.Tasks.Timeout)
	assert.Empty(t, cfg.Conversation.EncryptionKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnpike.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
catalog:
  path: rules/
  watch: true
audit:
  backend: sqlite
  sqlite_path: /tmp/audit.db
conversation:
  backend: redis
  mask_keys: ["(?i)card"]
redis:
  addr: redis:6379
  ttl: 1h
tasks:
  tools_path: tools.yaml
  timeout: 3s
`), 0644))

	t.Setenv("TURNPIKE_REDIS__ADDR", "cache:6380")
	t.Setenv("TURNPIKE_ENGINE__LOCK_WAIT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "rules/", cfg.Catalog.Path)
	assert.True(t, cfg.Catalog.Watch)
	assert.Equal(t, BackendSQLite, cfg.Audit.Backend)
	assert.Equal(t, "/tmp/audit.db", cfg.Audit.SQLitePath)
	assert.Equal(t, BackendRedis, cfg.Conversation.Backend)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr, "environment overrides the file")
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, 2*time.Second, cfg.Engine.LockWait)
	assert.Equal(t, []string{"(?i)card"}, cfg.Conversation.MaskKeys)
	assert.Equal(t, "tools.yaml", cfg.Tasks.ToolsPath)
	assert.Equal(t, 3*time.Second, cfg.Tasks.Timeout)
	assert.True(t, cfg.UsesRedis())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	cfg, err := LoadDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Log.Level = "loud"
	cfg.Audit.Backend = "postgres"
	cfg.Conversation.Backend = "s3"
	cfg.Redis.Lock = true
	cfg.Redis.LockTTL = 0
	cfg.Engine.PersistTimeout = 0
	cfg.Conversation.EncryptionKey = "c2hvcnQ="
	cfg.Conversation.MaskKeys = []string{"("}
	cfg.Tasks.Timeout = 0

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"log.level",
		"audit.backend",
		"conversation.backend",
		"conversation.encryption_key",
		"conversation.mask_keys",
		"redis.lock_ttl",
		"engine.persist_timeout",
		"tasks.timeout",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
