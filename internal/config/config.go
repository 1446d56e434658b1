package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Library  LibraryConfig  `json:"library" mapstructure:"library"`
	Download DownloadConfig `json:"download" mapstructure:"download"`
	Fetch    FetchConfig    `json:"fetch" mapstructure:"fetch"`
	Metadata MetadataConfig `json:"metadata" mapstructure:"metadata"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// LibraryConfig contains library layout settings
type LibraryConfig struct {
	Path            string `json:"path" mapstructure:"path"`
	DeviceName      string `json:"device_name" mapstructure:"device_name"`
	DeviceCapacityGB int   `json:"device_capacity_gb" mapstructure:"device_capacity_gb"`
}

// DownloadConfig contains download-related settings
type DownloadConfig struct {
	SpotdlPath       string `json:"spotdl_path" mapstructure:"spotdl_path"`
	Format           string `json:"format" mapstructure:"format"`
	Bitrate          string `json:"bitrate" mapstructure:"bitrate"`
	TimeoutSeconds   int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MinValidFileSize int64  `json:"min_valid_file_size" mapstructure:"min_valid_file_size"`
}

// FetchConfig contains playlist fetch settings
type FetchConfig struct {
	TimeoutSeconds    int     `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second"`
}

// MetadataConfig contains tag and artwork settings
type MetadataConfig struct {
	VerifyTags   bool `json:"verify_tags" mapstructure:"verify_tags"`
	EmbedArtwork bool `json:"embed_artwork" mapstructure:"embed_artwork"`
	ArtworkSize  int  `json:"artwork_size" mapstructure:"artwork_size"`
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

	// Set defaults
	setDefaults(v)

	// Determine config path
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	// Set config file
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Ensure config directory exists
	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create with defaults
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

	// Allow environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("SWIMSYNC")

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Library validation
	if c.Library.Path == "" {
		return fmt.Errorf("library path cannot be empty")
	}

	if c.Library.DeviceCapacityGB < 1 {
		return fmt.Errorf("device capacity must be at least 1 GB")
	}

	// Download validation
	if c.Download.Format != "mp3" && c.Download.Format != "flac" {
		return fmt.Errorf("invalid format: %s (must be mp3 or flac)", c.Download.Format)
	}

	if c.Download.TimeoutSeconds < 1 {
		return fmt.Errorf("download timeout must be at least 1 second")
	}

	if c.Download.MinValidFileSize < 0 {
		return fmt.Errorf("minimum valid file size cannot be negative")
	}

	// Fetch validation
	if c.Fetch.TimeoutSeconds < 1 {
		return fmt.Errorf("fetch timeout must be at least 1 second")
	}

	if c.Fetch.RequestsPerSecond <= 0 {
		return fmt.Errorf("fetch requests per second must be positive")
	}

	// Metadata validation
	if c.Metadata.EmbedArtwork && (c.Metadata.ArtworkSize < 100 || c.Metadata.ArtworkSize > 5000) {
		return fmt.Errorf("artwork size must be between 100 and 5000 pixels")
	}

	// Logging validation
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

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("log max backups cannot be negative")
	}

	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("log max age cannot be negative")
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("library", c.Library)
	v.Set("download", c.Download)
	v.Set("fetch", c.Fetch)
	v.Set("metadata", c.Metadata)
	v.Set("logging", c.Logging)

	return v.WriteConfig()
}

// Reload reloads the configuration from file
func (c *Config) Reload(configPath string) error {
	newConfig, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	*c = *newConfig
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Library defaults
	v.SetDefault("library.path", getDefaultLibraryDir())
	v.SetDefault("library.device_name", "Shokz OpenSwim Pro")
	v.SetDefault("library.device_capacity_gb", 32)

	// Download defaults
	v.SetDefault("download.spotdl_path", "spotdl")
	v.SetDefault("download.format", "mp3")
	v.SetDefault("download.bitrate", "320k")
	v.SetDefault("download.timeout_seconds", 120)
	// Files smaller than this are treated as truncated downloads
	v.SetDefault("download.min_valid_file_size", 100*1024)

	// Fetch defaults
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.requests_per_second", 2.0)

	// Metadata defaults
	v.SetDefault("metadata.verify_tags", true)
	v.SetDefault("metadata.embed_artwork", true)
	v.SetDefault("metadata.artwork_size", 1200)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(GetDataDir(), "logs", "app.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	return filepath.Join(GetDataDir(), "settings.json")
}

// getDefaultLibraryDir returns the default library directory
func getDefaultLibraryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "SwimSync")
	}
	return filepath.Join(home, "Music", "SwimSync")
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	appData := os.Getenv("APPDATA")
	if appData != "" {
		return filepath.Join(appData, "SwimSync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".swimsync")
}

// GetConfigPath returns the configuration file path
func GetConfigPath() string {
	return getDefaultConfigPath()
}
