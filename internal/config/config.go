// Package config loads the bulk import configuration from a YAML file, the
// environment and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/drivera73/alfresco-bulk-import/internal/retry"
	"github.com/drivera73/alfresco-bulk-import/pkg/content"
	"github.com/drivera73/alfresco-bulk-import/pkg/importer"
)

// EnvPrefix prefixes every environment override, e.g. BULKIMPORT_IMPORT_THREADS
const EnvPrefix = "BULKIMPORT"

// Config is the complete tool configuration.
//
// Precedence, highest first: CLI flags, BULKIMPORT_* environment variables,
// the configuration file, defaults.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Import     ImportConfig     `mapstructure:"import"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Content    ContentConfig    `mapstructure:"content"`
	Retry      RetryConfig      `mapstructure:"retry"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (normalised to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	// Quiet suppresses everything below ERROR
	Quiet bool `mapstructure:"quiet"`
}

// ImportConfig controls scanning, batching and the worker pool
type ImportConfig struct {
	// BatchSize caps the number of items per batch
	BatchSize int `mapstructure:"batch_size" validate:"gt=0"`
	// BatchBytes caps the content bytes per batch; 0 disables the cap
	BatchBytes int64 `mapstructure:"batch_bytes" validate:"gte=0"`

	Threads       int `mapstructure:"threads" validate:"gt=0,lte=1024"`
	QueueCapacity int `mapstructure:"queue_capacity" validate:"gt=0"`

	ReplaceExisting bool `mapstructure:"replace_existing"`
	Pessimistic     bool `mapstructure:"pessimistic"`
	DryRun          bool `mapstructure:"dry_run"`
	InPlace         bool `mapstructure:"in_place"`

	// ScanCacheDir holds scan.folders.xml and scan.files.xml. Empty disables
	// the scan cache.
	ScanCacheDir string   `mapstructure:"scan_cache_dir"`
	Excludes     []string `mapstructure:"excludes"`

	MaxOutOfOrderRounds int `mapstructure:"max_out_of_order_rounds" validate:"gte=0"`

	// Principal is recorded as the acting user
	Principal string `mapstructure:"principal" validate:"required"`
}

// RepositoryConfig selects the target repository
type RepositoryConfig struct {
	// Path of the badger database directory
	Path string `mapstructure:"path"`
	// Dictionary is an optional YAML content model merged over the built-in one
	Dictionary string `mapstructure:"dictionary" validate:"omitempty,file"`
	InMemory   bool   `mapstructure:"in_memory"`
	CacheSize  int    `mapstructure:"cache_size" validate:"gte=0"`
}

// ContentConfig selects the store for streamed content
type ContentConfig struct {
	Type    string `mapstructure:"type" validate:"required,oneof=filesystem s3"`
	Path    string `mapstructure:"path"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// RetryConfig is the backoff policy for conflicting transactions and
// remote content store calls
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"`
	BaseDelay  time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay   time.Duration `mapstructure:"max_delay" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath looks for config.yaml in the default directory, where
// a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	if err := setupViper(v, configPath); err != nil {
		return nil, err
	}

	// Read configuration file if it exists
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) error {
	// Known keys are registered through their defaults so that environment
	// variables are honoured even when the file does not mention them
	if err := registerDefaults(v); err != nil {
		return err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return nil
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	return nil
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/bulk-import, ~/.config/bulk-import
// or the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "bulk-import")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "bulk-import")
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// RetryPolicy converts the retry section
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  c.Retry.BaseDelay,
		MaxDelay:   c.Retry.MaxDelay,
	}
}

// ContentOptions converts the content section
func (c *Config) ContentOptions() content.Options {
	return content.Options{
		Type:    c.Content.Type,
		Path:    c.Content.Path,
		Bucket:  c.Content.Bucket,
		Prefix:  c.Content.Prefix,
		Region:  c.Content.Region,
		Profile: c.Content.Profile,
		Retry:   c.RetryPolicy(),
	}
}

// ImportOptions converts the per-batch import switches
func (c *Config) ImportOptions() importer.Options {
	return importer.Options{
		ReplaceExisting: c.Import.ReplaceExisting,
		Pessimistic:     c.Import.Pessimistic,
		DryRun:          c.Import.DryRun,
		Principal:       c.Import.Principal,
	}
}
