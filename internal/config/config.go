package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`
	Sources   SourcesConfig   `json:"sources" mapstructure:"sources"`
	Download  DownloadConfig  `json:"download" mapstructure:"download"`
	Network   NetworkConfig   `json:"network" mapstructure:"network"`
	Storage   StorageConfig   `json:"storage" mapstructure:"storage"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// ProvidersConfig contains lookup provider and byte-fetcher endpoints
type ProvidersConfig struct {
	TorrentBaseURL string `json:"torrent_base_url" mapstructure:"torrent_base_url"`
	StreamBaseURL  string `json:"stream_base_url" mapstructure:"stream_base_url"`
	FetcherBaseURL string `json:"fetcher_base_url" mapstructure:"fetcher_base_url"`
	RequestsPerSec int    `json:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// SourcesConfig contains candidate-resolution settings
type SourcesConfig struct {
	MaxCandidates   int           `json:"max_candidates" mapstructure:"max_candidates"`
	MinSeeders      int           `json:"min_seeders" mapstructure:"min_seeders"`
	FileListTimeout time.Duration `json:"file_list_timeout" mapstructure:"file_list_timeout"`
	PrefetchWorkers int           `json:"prefetch_workers" mapstructure:"prefetch_workers"`
	PrefetchPause   time.Duration `json:"prefetch_pause" mapstructure:"prefetch_pause"`
}

// DownloadConfig contains download-orchestration settings. The poll tiers
// and ceiling mirror the byte-fetcher's expected completion windows; tests
// shrink them.
type DownloadConfig struct {
	CacheCheckTTL   time.Duration `json:"cache_check_ttl" mapstructure:"cache_check_ttl"`
	PollFast        time.Duration `json:"poll_fast" mapstructure:"poll_fast"`
	PollFastWindow  time.Duration `json:"poll_fast_window" mapstructure:"poll_fast_window"`
	PollMid         time.Duration `json:"poll_mid" mapstructure:"poll_mid"`
	PollMidWindow   time.Duration `json:"poll_mid_window" mapstructure:"poll_mid_window"`
	PollSlow        time.Duration `json:"poll_slow" mapstructure:"poll_slow"`
	PollCeiling     time.Duration `json:"poll_ceiling" mapstructure:"poll_ceiling"`
	CompletionGrace time.Duration `json:"completion_grace" mapstructure:"completion_grace"`
}

// NetworkConfig contains network-related settings
type NetworkConfig struct {
	ProxyURL   string `json:"proxy_url" mapstructure:"proxy_url"`
	Timeout    int    `json:"timeout" mapstructure:"timeout"`
	MaxRetries int    `json:"max_retries" mapstructure:"max_retries"`
}

// StorageConfig contains durable-store settings
type StorageConfig struct {
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
	DBPath  string `json:"db_path" mapstructure:"db_path"`
}

// MetricsConfig contains the prometheus endpoint settings
type MetricsConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else if os.IsNotExist(err) {
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SOUNDRIFT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Sources.MaxCandidates < 1 {
		return fmt.Errorf("max candidates must be at least 1")
	}
	if c.Sources.MinSeeders < 0 {
		return fmt.Errorf("min seeders cannot be negative")
	}
	if c.Sources.FileListTimeout <= 0 {
		return fmt.Errorf("file list timeout must be positive")
	}
	if c.Sources.PrefetchWorkers < 1 {
		return fmt.Errorf("prefetch workers must be at least 1")
	}

	if c.Download.CacheCheckTTL <= 0 {
		return fmt.Errorf("cache check ttl must be positive")
	}
	if c.Download.PollFast <= 0 || c.Download.PollMid <= 0 || c.Download.PollSlow <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Download.PollCeiling <= c.Download.PollFast {
		return fmt.Errorf("poll ceiling must exceed the fast poll interval")
	}

	if c.Network.Timeout < 1 {
		return fmt.Errorf("network timeout must be at least 1 second")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("providers", c.Providers)
	v.Set("sources", c.Sources)
	v.Set("download", c.Download)
	v.Set("network", c.Network)
	v.Set("storage", c.Storage)
	v.Set("metrics", c.Metrics)
	v.Set("logging", c.Logging)

	return v.WriteConfig()
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("providers.torrent_base_url", "http://127.0.0.1:9117")
	v.SetDefault("providers.stream_base_url", "http://127.0.0.1:9118")
	v.SetDefault("providers.fetcher_base_url", "http://127.0.0.1:9120")
	v.SetDefault("providers.requests_per_sec", 10)

	v.SetDefault("sources.max_candidates", 50)
	v.SetDefault("sources.min_seeders", 1)
	v.SetDefault("sources.file_list_timeout", 10*time.Second)
	v.SetDefault("sources.prefetch_workers", 3)
	v.SetDefault("sources.prefetch_pause", 300*time.Millisecond)

	v.SetDefault("download.cache_check_ttl", 3*time.Second)
	v.SetDefault("download.poll_fast", 250*time.Millisecond)
	v.SetDefault("download.poll_fast_window", 5*time.Second)
	v.SetDefault("download.poll_mid", 500*time.Millisecond)
	v.SetDefault("download.poll_mid_window", 15*time.Second)
	v.SetDefault("download.poll_slow", time.Second)
	v.SetDefault("download.poll_ceiling", 90*time.Second)
	v.SetDefault("download.completion_grace", time.Second)

	v.SetDefault("network.timeout", 30)
	v.SetDefault("network.max_retries", 2)

	v.SetDefault("storage.data_dir", GetDataDir())
	v.SetDefault("storage.db_path", filepath.Join(GetDataDir(), "data", "sources.db"))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9464")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(GetDataDir(), "logs", "core.log"))
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	return filepath.Join(GetDataDir(), "settings.json")
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "Soundrift")
		}
		appData = os.Getenv("HOME")
	}
	return filepath.Join(appData, "Soundrift")
}
