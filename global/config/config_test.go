package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizlink/tools/errs"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Server.AuthTimeout)
	assert.Equal(t, 25*time.Second, cfg.Heartbeat.PingEvery)
	assert.Equal(t, 30*time.Second, cfg.Backoff.Max)
	assert.Equal(t, 100, cfg.Offline.Capacity)
	assert.Equal(t, StoreFile, cfg.Offline.Store)
	assert.Equal(t, "quizlink:offline_actions", cfg.Offline.Key)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quizlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  url: wss://game.example/ws
  authTimeout: 3s
identity:
  userId: u1
  displayName: Alice
offline:
  store: redis
  redis:
    addr: 10.0.0.5:6379
nats:
  enabled: true
  servers: [nats://a:4222]
`), 0o600))

	t.Setenv("QUIZLINK_IDENTITY_USER_ID", "u2")
	t.Setenv("QUIZLINK_NATS_SERVERS", "nats://b:4222,nats://c:4222")
	t.Setenv("QUIZLINK_HEARTBEAT_PING_EVERY", "5s")
	t.Setenv("QUIZLINK_OFFLINE_REDIS_DB", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://game.example/ws", cfg.Server.URL)
	assert.Equal(t, 3*time.Second, cfg.Server.AuthTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.HandshakeTimeout, "untouched keys keep defaults")
	assert.Equal(t, "u2", cfg.Identity.UserID, "env wins over file")
	assert.Equal(t, "Alice", cfg.Identity.DisplayName)
	assert.Equal(t, StoreRedis, cfg.Offline.Store)
	assert.Equal(t, "10.0.0.5:6379", cfg.Offline.Redis.Addr)
	assert.Equal(t, 2, cfg.Offline.Redis.DB)
	assert.True(t, cfg.Nats.Enabled)
	assert.Equal(t, []string{"nats://b:4222", "nats://c:4222"}, cfg.Nats.Servers)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.PingEvery)

	assert.Equal(t, []string{"nats://127.0.0.1:4222"}, Global.Nats.Servers, "defaults are not mutated")
}

func TestValidate(t *testing.T) {
	cfg := Global
	cfg.Offline.Store = "s3"
	assert.True(t, errors.Is(cfg.Validate(), errs.ErrInvalidState))

	cfg = Global
	cfg.Offline.Store = StorePostgres
	assert.Error(t, cfg.Validate())

	cfg = Global
	cfg.Heartbeat.PingEvery = time.Minute
	assert.Error(t, cfg.Validate())

	cfg = Global
	cfg.Server.URL = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfigIdsFillsDevice(t *testing.T) {
	cfg := Global
	ConfigIds(&cfg)
	assert.NotEmpty(t, cfg.Identity.DeviceID)

	fixed := Global
	fixed.Identity.DeviceID = "dev-1"
	ConfigIds(&fixed)
	assert.Equal(t, "dev-1", fixed.Identity.DeviceID)
}
