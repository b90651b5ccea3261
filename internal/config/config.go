package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/FairForge/tierbank/internal/bank"
	"github.com/FairForge/tierbank/internal/hotstore"
	"github.com/FairForge/tierbank/internal/serializer"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Bank     BankConfig     `yaml:"bank"`
	HotStore HotStoreConfig `yaml:"hot_store"`
	Watch    WatchConfig    `yaml:"watch"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type BankConfig struct {
	Name                   string        `yaml:"name"`
	Background             bool          `yaml:"background"`
	Workers                int           `yaml:"workers"`
	Separator              string        `yaml:"separator"`
	MaxHotBytes            int64         `yaml:"max_hot_bytes"`    // -1 = unlimited
	MaxMemoryBytes         int64         `yaml:"max_memory_bytes"` // -1 = unlimited
	DisableHotStorage      bool          `yaml:"disable_hot_storage"`
	ClearHotStorageOnClose bool          `yaml:"clear_hot_storage_on_close"`
	Codec                  string        `yaml:"codec"`
	AutoPurge              bool          `yaml:"auto_purge"`
	PurgeInterval          time.Duration `yaml:"purge_interval"`
}

type HotStoreConfig struct {
	Backend string            `yaml:"backend"` // fs, bolt or s3
	Path    string            `yaml:"path"`
	S3      hotstore.S3Config `yaml:"s3"`
}

type WatchConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"` // empty = every file
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Bank: BankConfig{
			Name:           "files",
			Background:     true,
			Workers:        4,
			Separator:      "/",
			MaxHotBytes:    bank.Unlimited,
			MaxMemoryBytes: 256 << 20,
			Codec:          serializer.CodecSnappy,
			AutoPurge:      true,
			PurgeInterval:  time.Second,
		},
		HotStore: HotStoreConfig{
			Backend: hotstore.BackendFS,
		},
		Watch: WatchConfig{
			Dir: ".",
		},
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	LoadFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, rejecting unknown keys
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks the settings that cannot be defaulted
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Bank.Name) == "" {
		errs = append(errs, errors.New("bank.name is required"))
	}
	if utf8.RuneCountInString(c.Bank.Separator) > 1 {
		errs = append(errs, fmt.Errorf("bank.separator must be one character, got %q", c.Bank.Separator))
	}
	if c.Bank.Workers < 0 {
		errs = append(errs, errors.New("bank.workers cannot be negative"))
	}
	if _, err := serializer.CodecByName(c.Bank.Codec); err != nil {
		errs = append(errs, err)
	}

	switch c.HotStore.Backend {
	case "", hotstore.BackendFS, hotstore.BackendBolt:
		if c.HotStore.Backend == hotstore.BackendBolt && c.HotStore.Path == "" {
			errs = append(errs, errors.New("hot_store.path is required for bolt"))
		}
	case hotstore.BackendS3:
		if c.HotStore.S3.Bucket == "" {
			errs = append(errs, errors.New("hot_store.s3.bucket is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown hot_store.backend %q", c.HotStore.Backend))
	}

	if c.Watch.Dir == "" {
		errs = append(errs, errors.New("watch.dir is required"))
	}

	return errors.Join(errs...)
}

// ToBankConfig converts the bank section into bank settings. The fs
// backend's path becomes the hot storage location.
func (c *Config) ToBankConfig() bank.Config {
	cfg := bank.DefaultConfig(c.Bank.Name)

	if c.Bank.Background {
		cfg.Flags |= bank.BackgroundThread
	}
	if c.Bank.DisableHotStorage {
		cfg.Flags |= bank.DisableHotStorage
	}
	if c.Bank.ClearHotStorageOnClose {
		cfg.Flags |= bank.ClearHotStorageWhenBankDestroyed
	}
	if sep, _ := utf8.DecodeRuneInString(c.Bank.Separator); sep != utf8.RuneError {
		cfg.Separator = sep
	}
	if c.Bank.Workers > 0 {
		cfg.Workers = c.Bank.Workers
	}
	if c.HotStore.Backend == "" || c.HotStore.Backend == hotstore.BackendFS {
		cfg.HotStorageLocation = c.HotStore.Path
	}

	cfg.MaxHotBytes = c.Bank.MaxHotBytes
	cfg.MaxMemoryBytes = c.Bank.MaxMemoryBytes
	cfg.Codec = c.Bank.Codec
	cfg.AutoPurge = c.Bank.AutoPurge
	if c.Bank.PurgeInterval > 0 {
		cfg.PurgeInterval = c.Bank.PurgeInterval
	}
	return cfg
}

// HotStoreOptions returns the options to open the configured backend
func (c *Config) HotStoreOptions() hotstore.Options {
	opts := hotstore.Options{
		Backend: c.HotStore.Backend,
		Path:    c.HotStore.Path,
		S3:      c.HotStore.S3,
	}
	if opts.Backend == "" {
		opts.Backend = hotstore.BackendFS
	}
	if opts.Path == "" && opts.Backend == hotstore.BackendFS {
		opts.Path = bank.DefaultHotStorageLocation(c.Bank.Name)
	}
	return opts
}
