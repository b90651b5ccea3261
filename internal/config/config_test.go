package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FairForge/tierbank/internal/bank"
	"github.com/FairForge/tierbank/internal/hotstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults_without_file", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file_overrides_defaults", func(t *testing.T) {
		// Arrange
		path := filepath.Join(t.TempDir(), "tierbank.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
bank:
  name: assets
  max_memory_bytes: 1048576
  codec: zstd
  purge_interval: 250ms
hot_store:
  backend: bolt
  path: /var/cache/tierbank/hot.db
watch:
  dir: /srv/assets
  extensions: [".png", ".ttf"]
`), 0o600))

		// Act
		cfg, err := Load(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.Server.Addr)
		assert.Equal(t, "info", cfg.Server.LogLevel, "unset keys keep defaults")
		assert.Equal(t, "assets", cfg.Bank.Name)
		assert.Equal(t, int64(1<<20), cfg.Bank.MaxMemoryBytes)
		assert.Equal(t, "zstd", cfg.Bank.Codec)
		assert.Equal(t, 250*time.Millisecond, cfg.Bank.PurgeInterval)
		assert.Equal(t, hotstore.BackendBolt, cfg.HotStore.Backend)
		assert.Equal(t, []string{".png", ".ttf"}, cfg.Watch.Extensions)
	})

	t.Run("unknown_keys_rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("bank:\n  nmae: typo\n"), 0o600))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TIERBANK_ADDR", ":7070")
	t.Setenv("TIERBANK_MAX_MEMORY_BYTES", "4096")
	t.Setenv("TIERBANK_WORKERS", "not-a-number")
	t.Setenv("TIERBANK_HOT_BACKEND", "S3")
	t.Setenv("TIERBANK_S3_BUCKET", "cache")
	t.Setenv("TIERBANK_WATCH_DIR", "/data")

	cfg := Default()
	LoadFromEnv(&cfg)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, int64(4096), cfg.Bank.MaxMemoryBytes)
	assert.Equal(t, 4, cfg.Bank.Workers, "bad numbers are ignored")
	assert.Equal(t, hotstore.BackendS3, cfg.HotStore.Backend)
	assert.Equal(t, "cache", cfg.HotStore.S3.Bucket)
	assert.Equal(t, "/data", cfg.Watch.Dir)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("TIERBANK_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnvOrDefault("TIERBANK_TEST_VALUE", "default"))
	assert.Equal(t, "default", GetEnvOrDefault("TIERBANK_TEST_UNSET", "default"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty_name", func(c *Config) { c.Bank.Name = " " }},
		{"long_separator", func(c *Config) { c.Bank.Separator = "::" }},
		{"negative_workers", func(c *Config) { c.Bank.Workers = -1 }},
		{"unknown_codec", func(c *Config) { c.Bank.Codec = "lz4" }},
		{"unknown_backend", func(c *Config) { c.HotStore.Backend = "tape" }},
		{"bolt_without_path", func(c *Config) { c.HotStore.Backend = hotstore.BackendBolt }},
		{"s3_without_bucket", func(c *Config) { c.HotStore.Backend = hotstore.BackendS3 }},
		{"no_watch_dir", func(c *Config) { c.Watch.Dir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestToBankConfig(t *testing.T) {
	cfg := Default()
	cfg.Bank.ClearHotStorageOnClose = true
	cfg.Bank.Separator = "."
	cfg.HotStore.Path = "/tmp/hot"

	bc := cfg.ToBankConfig()

	assert.Equal(t, "files", bc.Name)
	assert.True(t, bc.Flags.Has(bank.BackgroundThread))
	assert.True(t, bc.Flags.Has(bank.ClearHotStorageWhenBankDestroyed))
	assert.False(t, bc.Flags.Has(bank.DisableHotStorage))
	assert.Equal(t, '.', bc.Separator)
	assert.Equal(t, "/tmp/hot", bc.HotStorageLocation)
	assert.Equal(t, int64(256<<20), bc.MaxMemoryBytes)
	assert.Equal(t, bank.Unlimited, bc.MaxHotBytes)
	assert.True(t, bc.AutoPurge)

	cfg.Bank.Separator = ""
	assert.Equal(t, '.', cfg.ToBankConfig().Separator, "empty separator keeps the default")
}

func TestHotStoreOptions(t *testing.T) {
	cfg := Default()
	opts := cfg.HotStoreOptions()
	assert.Equal(t, hotstore.BackendFS, opts.Backend)
	assert.Equal(t, bank.DefaultHotStorageLocation("files"), opts.Path)

	cfg.HotStore.Backend = hotstore.BackendS3
	cfg.HotStore.S3.Bucket = "cache"
	opts = cfg.HotStoreOptions()
	assert.Empty(t, opts.Path)
	assert.Equal(t, "cache", opts.S3.Bucket)
}
