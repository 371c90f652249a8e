// Package config persists clipvault settings as YAML and maps them onto
// the store, search and cleanup options.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/yiblet/clipvault/internal/blobfs"
	"github.com/yiblet/clipvault/internal/cleanup"
	"github.com/yiblet/clipvault/internal/history"
	"github.com/yiblet/clipvault/internal/search"
)

const (
	FileName = "config.yaml"

	watchDebounce = 100 * time.Millisecond
)

// Config represents the clipvault configuration. Zero retention limits
// disable the corresponding cleanup pass.
type Config struct {
	DataDir string `yaml:"data_dir,omitempty"`

	MaxItems         int   `yaml:"max_items"`
	MaxDaysAge       int   `yaml:"max_days_age"`
	MaxDBBytes       int64 `yaml:"max_db_bytes"`
	MaxExternalBytes int64 `yaml:"max_external_bytes"`

	InlineThresholdBytes int64 `yaml:"inline_threshold_bytes"`

	RecentCacheSize        int           `yaml:"recent_cache_size"`
	RecentCacheTTL         time.Duration `yaml:"recent_cache_ttl"`
	ShortQueryLength       int           `yaml:"short_query_length"`
	PrefilterMinCandidates int           `yaml:"prefilter_min_candidates"`
	PrefilterLimit         int           `yaml:"prefilter_limit"`
	SearchTimeout          time.Duration `yaml:"search_timeout"`

	OrphanSweepInterval time.Duration `yaml:"orphan_sweep_interval"`
	WALCheckpointBytes  int64         `yaml:"wal_checkpoint_bytes"`
	DeleteConcurrency   int           `yaml:"delete_concurrency"`
	CleanupRate         int           `yaml:"cleanup_rate"`
	PollInterval        time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxItems:               5000,
		MaxDBBytes:             500 << 20,
		MaxExternalBytes:       2 << 30,
		InlineThresholdBytes:   history.DefaultInlineThreshold,
		RecentCacheSize:        search.DefaultRecentCacheSize,
		RecentCacheTTL:         search.DefaultRecentCacheTTL,
		ShortQueryLength:       search.DefaultShortQueryLength,
		PrefilterMinCandidates: search.DefaultPrefilterMinCandidates,
		PrefilterLimit:         search.DefaultPrefilterLimit,
		SearchTimeout:          search.DefaultTimeout,
		OrphanSweepInterval:    time.Hour,
		WALCheckpointBytes:     64 << 20,
		DeleteConcurrency:      4,
		CleanupRate:            6,
		PollInterval:           500 * time.Millisecond,
	}
}

// Limits returns the retention limits for the cleanup engine.
func (c *Config) Limits() cleanup.Limits {
	return cleanup.Limits{
		MaxItems:           c.MaxItems,
		MaxDaysAge:         c.MaxDaysAge,
		MaxDBBytes:         c.MaxDBBytes,
		MaxExternalBytes:   c.MaxExternalBytes,
		WALCheckpointBytes: c.WALCheckpointBytes,
	}
}

// SearchOptions returns the search engine tuning.
func (c *Config) SearchOptions() search.Options {
	return search.Options{
		RecentCacheSize:        c.RecentCacheSize,
		RecentCacheTTL:         c.RecentCacheTTL,
		ShortQueryLength:       c.ShortQueryLength,
		PrefilterMinCandidates: c.PrefilterMinCandidates,
		PrefilterLimit:         c.PrefilterLimit,
		Timeout:                c.SearchTimeout,
	}
}

// HistoryOptions returns the store facade options.
func (c *Config) HistoryOptions() history.Options {
	return history.Options{
		InlineThreshold:  c.InlineThresholdBytes,
		Limits:           c.Limits(),
		CleanupPerMinute: c.CleanupRate,
		Search:           c.SearchOptions(),
	}
}

// BlobOptions returns the blob storage options.
func (c *Config) BlobOptions() blobfs.Options {
	return blobfs.Options{
		DeleteConcurrency: c.DeleteConcurrency,
		SweepGrace:        time.Minute,
	}
}

// ConfigManager manages configuration persistence
type ConfigManager struct {
	configPath string
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() (*ConfigManager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	return &ConfigManager{
		configPath: filepath.Join(homeDir, blobfs.ConfigDir, FileName),
	}, nil
}

// NewConfigManagerWithPath creates a config manager with custom config path
func NewConfigManagerWithPath(configPath string) *ConfigManager {
	return &ConfigManager{
		configPath: configPath,
	}
}

// Load reads the configuration from file, or returns default if file doesn't exist.
// Keys missing from the file keep their defaults.
func (cm *ConfigManager) Load() (*Config, error) {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cm.validateAndSetDefaults(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save writes the configuration to file
func (cm *ConfigManager) Save(config *Config) error {
	if err := cm.validateAndSetDefaults(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	configDir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// validateAndSetDefaults rejects negative limits and fills zero tuning
// values with defaults.
func (cm *ConfigManager) validateAndSetDefaults(config *Config) error {
	switch {
	case config.MaxItems < 0:
		return fmt.Errorf("max_items cannot be negative")
	case config.MaxDaysAge < 0:
		return fmt.Errorf("max_days_age cannot be negative")
	case config.MaxDBBytes < 0:
		return fmt.Errorf("max_db_bytes cannot be negative")
	case config.MaxExternalBytes < 0:
		return fmt.Errorf("max_external_bytes cannot be negative")
	case config.WALCheckpointBytes < 0:
		return fmt.Errorf("wal_checkpoint_bytes cannot be negative")
	case config.InlineThresholdBytes < 0:
		return fmt.Errorf("inline_threshold_bytes cannot be negative")
	case config.CleanupRate < 0:
		return fmt.Errorf("cleanup_rate cannot be negative")
	case config.RecentCacheSize > 100_000:
		return fmt.Errorf("recent_cache_size cannot exceed 100000 items")
	}

	defaults := DefaultConfig()
	if config.InlineThresholdBytes == 0 {
		config.InlineThresholdBytes = defaults.InlineThresholdBytes
	}
	if config.RecentCacheSize <= 0 {
		config.RecentCacheSize = defaults.RecentCacheSize
	}
	if config.RecentCacheTTL <= 0 {
		config.RecentCacheTTL = defaults.RecentCacheTTL
	}
	if config.ShortQueryLength <= 0 {
		config.ShortQueryLength = defaults.ShortQueryLength
	}
	if config.PrefilterMinCandidates == 0 {
		config.PrefilterMinCandidates = defaults.PrefilterMinCandidates
	}
	if config.PrefilterLimit <= 0 {
		config.PrefilterLimit = defaults.PrefilterLimit
	}
	if config.SearchTimeout <= 0 {
		config.SearchTimeout = defaults.SearchTimeout
	}
	if config.OrphanSweepInterval <= 0 {
		config.OrphanSweepInterval = defaults.OrphanSweepInterval
	}
	if config.DeleteConcurrency <= 0 {
		config.DeleteConcurrency = defaults.DeleteConcurrency
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	return nil
}

// GetConfigPath returns the path to the config file
func (cm *ConfigManager) GetConfigPath() string {
	return cm.configPath
}

// field binds a command-line key to a Config field.
type field struct {
	get func(*Config) string
	set func(*Config, string) error
}

func intField(key string, p func(*Config) *int) field {
	return field{
		get: func(c *Config) string { return strconv.Itoa(*p(c)) },
		set: func(c *Config, value string) error {
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %s", key, value)
			}
			*p(c) = n
			return nil
		},
	}
}

// bytesField accepts plain numbers and sizes such as "500 MB" or "2GiB".
func bytesField(key string, p func(*Config) *int64) field {
	return field{
		get: func(c *Config) string { return humanize.IBytes(uint64(*p(c))) },
		set: func(c *Config, value string) error {
			n, err := humanize.ParseBytes(value)
			if err != nil {
				return fmt.Errorf("invalid size value for %s: %s", key, value)
			}
			*p(c) = int64(n)
			return nil
		},
	}
}

func durationField(key string, p func(*Config) *time.Duration) field {
	return field{
		get: func(c *Config) string { return p(c).String() },
		set: func(c *Config, value string) error {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value for %s: %s", key, value)
			}
			*p(c) = d
			return nil
		},
	}
}

var fields = map[string]field{
	"data-dir": {
		get: func(c *Config) string {
			if c.DataDir == "" {
				return "[default]"
			}
			return c.DataDir
		},
		set: func(c *Config, value string) error {
			c.DataDir = value
			return nil
		},
	},
	"max-items":                intField("max-items", func(c *Config) *int { return &c.MaxItems }),
	"max-days-age":             intField("max-days-age", func(c *Config) *int { return &c.MaxDaysAge }),
	"max-db-bytes":             bytesField("max-db-bytes", func(c *Config) *int64 { return &c.MaxDBBytes }),
	"max-external-bytes":       bytesField("max-external-bytes", func(c *Config) *int64 { return &c.MaxExternalBytes }),
	"inline-threshold-bytes":   bytesField("inline-threshold-bytes", func(c *Config) *int64 { return &c.InlineThresholdBytes }),
	"recent-cache-size":        intField("recent-cache-size", func(c *Config) *int { return &c.RecentCacheSize }),
	"recent-cache-ttl":         durationField("recent-cache-ttl", func(c *Config) *time.Duration { return &c.RecentCacheTTL }),
	"short-query-length":       intField("short-query-length", func(c *Config) *int { return &c.ShortQueryLength }),
	"prefilter-min-candidates": intField("prefilter-min-candidates", func(c *Config) *int { return &c.PrefilterMinCandidates }),
	"prefilter-limit":          intField("prefilter-limit", func(c *Config) *int { return &c.PrefilterLimit }),
	"search-timeout":           durationField("search-timeout", func(c *Config) *time.Duration { return &c.SearchTimeout }),
	"orphan-sweep-interval":    durationField("orphan-sweep-interval", func(c *Config) *time.Duration { return &c.OrphanSweepInterval }),
	"wal-checkpoint-bytes":     bytesField("wal-checkpoint-bytes", func(c *Config) *int64 { return &c.WALCheckpointBytes }),
	"delete-concurrency":       intField("delete-concurrency", func(c *Config) *int { return &c.DeleteConcurrency }),
	"cleanup-rate":             intField("cleanup-rate", func(c *Config) *int { return &c.CleanupRate }),
	"poll-interval":            durationField("poll-interval", func(c *Config) *time.Duration { return &c.PollInterval }),
}

// Keys returns every configuration key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Update modifies a specific configuration value
func (cm *ConfigManager) Update(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	config, err := cm.Load()
	if err != nil {
		return err
	}
	if err := f.set(config, value); err != nil {
		return err
	}
	return cm.Save(config)
}

// Get returns the value for a specific configuration key
func (cm *ConfigManager) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}

	config, err := cm.Load()
	if err != nil {
		return "", err
	}
	return f.get(config), nil
}

// List returns all configuration keys and values
func (cm *ConfigManager) List() (map[string]string, error) {
	config, err := cm.Load()
	if err != nil {
		return nil, err
	}

	result := make(map[string]string, len(fields))
	for key, f := range fields {
		result[key] = f.get(config)
	}
	return result, nil
}

// Watch calls fn with the reloaded configuration whenever the config file
// changes, until ctx is done. The directory is watched rather than the file
// so editors that replace the file are seen. A failed reload passes the error.
func (cm *ConfigManager) Watch(ctx context.Context, fn func(*Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	target := filepath.Clean(cm.configPath)
	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op == fsnotify.Chmod {
				continue
			}
			// editors emit bursts of events per save
			reload = time.After(watchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fn(nil, fmt.Errorf("config watcher: %w", err))

		case <-reload:
			reload = nil
			fn(cm.Load())
		}
	}
}
