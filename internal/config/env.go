package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if addr := os.Getenv("TIERBANK_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}

	if logLevel := os.Getenv("TIERBANK_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	// Bank settings
	if name := os.Getenv("TIERBANK_NAME"); name != "" {
		cfg.Bank.Name = name
	}
	if workers := os.Getenv("TIERBANK_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			cfg.Bank.Workers = n
		}
	}
	if size := os.Getenv("TIERBANK_MAX_MEMORY_BYTES"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			cfg.Bank.MaxMemoryBytes = n
		}
	}
	if size := os.Getenv("TIERBANK_MAX_HOT_BYTES"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			cfg.Bank.MaxHotBytes = n
		}
	}
	if codec := os.Getenv("TIERBANK_CODEC"); codec != "" {
		cfg.Bank.Codec = codec
	}
	if v := os.Getenv("TIERBANK_BACKGROUND"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bank.Background = b
		}
	}
	if v := os.Getenv("TIERBANK_PURGE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bank.PurgeInterval = d
		}
	}

	// Hot storage
	if backend := os.Getenv("TIERBANK_HOT_BACKEND"); backend != "" {
		cfg.HotStore.Backend = strings.ToLower(backend)
	}
	if path := os.Getenv("TIERBANK_HOT_PATH"); path != "" {
		cfg.HotStore.Path = path
	}
	if bucket := os.Getenv("TIERBANK_S3_BUCKET"); bucket != "" {
		cfg.HotStore.S3.Bucket = bucket
	}
	if endpoint := os.Getenv("TIERBANK_S3_ENDPOINT"); endpoint != "" {
		cfg.HotStore.S3.Endpoint = endpoint
	}
	if region := os.Getenv("TIERBANK_S3_REGION"); region != "" {
		cfg.HotStore.S3.Region = region
	}

	if dir := os.Getenv("TIERBANK_WATCH_DIR"); dir != "" {
		cfg.Watch.Dir = dir
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
