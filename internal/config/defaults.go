package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/drivera73/alfresco-bulk-import/internal/retry"
)

// Defaults returns the configuration used when nothing else is set
func Defaults() Config {
	policy := retry.DefaultPolicy()
	return Config{
		Logging: LoggingConfig{Level: "INFO"},
		Import: ImportConfig{
			BatchSize:           100,
			Threads:             runtime.NumCPU(),
			MaxOutOfOrderRounds: 3,
			Principal:           "admin",
		},
		Repository: RepositoryConfig{
			Path:      "bulk-import-repo",
			CacheSize: 4096,
		},
		Content: ContentConfig{Type: "filesystem"},
		Retry: RetryConfig{
			MaxRetries: policy.MaxRetries,
			BaseDelay:  policy.BaseDelay,
			MaxDelay:   policy.MaxDelay,
		},
	}
}

// ApplyDefaults fills zero values and normalises the configuration.
// Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	def := Defaults()

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Level == "WARNING" {
		cfg.Logging.Level = "WARN"
	}

	if cfg.Import.BatchSize == 0 {
		cfg.Import.BatchSize = def.Import.BatchSize
	}
	if cfg.Import.Threads == 0 {
		cfg.Import.Threads = def.Import.Threads
	}
	if cfg.Import.QueueCapacity == 0 {
		cfg.Import.QueueCapacity = cfg.Import.Threads * 2
	}
	if cfg.Import.Principal == "" {
		cfg.Import.Principal = def.Import.Principal
	}

	if cfg.Repository.Path == "" && !cfg.Repository.InMemory {
		cfg.Repository.Path = def.Repository.Path
	}

	cfg.Content.Type = strings.ToLower(cfg.Content.Type)
	if cfg.Content.Type == "" || cfg.Content.Type == "fs" {
		cfg.Content.Type = def.Content.Type
	}
	if cfg.Content.Type == "filesystem" && cfg.Content.Path == "" && cfg.Repository.Path != "" {
		cfg.Content.Path = filepath.Join(cfg.Repository.Path, "content")
	}

	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = def.Retry.MaxDelay
	}
}

// registerDefaults makes every configuration key known to viper
func registerDefaults(v *viper.Viper) error {
	var tree map[string]interface{}
	if err := mapstructure.Decode(Defaults(), &tree); err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if sub, ok := value.(map[string]interface{}); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, value)
	}
}
