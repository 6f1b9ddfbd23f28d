package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadParsesEveryTopLevelSection(t *testing.T) {
	path := writeConfig(t, `
server:
  tag: srv-1
wal:
  volumes: ["/data/v0", "/data/v1"]
  replication: 3
  max_size: 1000000
  sync_mode: true
  queue_capacity: 256
  backend: local
crypto:
  module_class: chacha20poly1305
  key_hex: deadbeef
coord:
  connect_string: "zk1:2181,zk2:2181"
  session_timeout: 5s
metrics:
  enabled: true
  port: 9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "srv-1", cfg.Server.Tag)
	assert.Equal(t, []string{"/data/v0", "/data/v1"}, cfg.WAL.Volumes)
	assert.Equal(t, 3, cfg.WAL.Replication)
	assert.True(t, cfg.WAL.SyncMode)
	assert.Equal(t, 256, cfg.WAL.QueueCapacity)
	assert.Equal(t, "chacha20poly1305", cfg.Crypto.ModuleClass)
	assert.Equal(t, "zk1:2181,zk2:2181", cfg.Coord.ConnectString)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	path := writeConfig(t, "wal: [this is not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEffectiveBlockSizePrefersExplicitOverride(t *testing.T) {
	cfg := &Config{}
	cfg.WAL.BlockSize = 500
	cfg.WAL.MaxSize = 1000
	assert.Equal(t, int64(500), cfg.EffectiveBlockSize())
}

func TestEffectiveBlockSizeDerivesFromMaxSize(t *testing.T) {
	cfg := &Config{}
	cfg.WAL.MaxSize = 1000
	assert.Equal(t, int64(1100), cfg.EffectiveBlockSize())
}
