package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Storage   StorageConfig   `toml:"storage"`
	Downloads DownloadsConfig `toml:"downloads"`
	Remote    RemoteConfig    `toml:"remote"`
	Server    ServerConfig    `toml:"server"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// StorageConfig locates the offline media and cover art directories.
type StorageConfig struct {
	DataDir  string `toml:"data_dir"`
	MediaDir string `toml:"media_dir"`
	CoverDir string `toml:"cover_dir"`
}

// DownloadsConfig tunes the background download pipeline.
type DownloadsConfig struct {
	Workers            int     `toml:"workers"`
	RateLimit          float64 `toml:"rate_limit"`
	BufferSize         int     `toml:"buffer_size"`
	ProgressIntervalMS int     `toml:"progress_interval_ms"`
	DefaultQuality     string  `toml:"default_quality"`
	Resume             bool    `toml:"resume"`
}

// RemoteConfig points at the music server that media bytes are fetched from.
type RemoteConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ServerConfig contains local status API settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// MediaPath returns the offline media directory.
func (s StorageConfig) MediaPath() string {
	return filepath.Join(s.DataDir, s.MediaDir)
}

// CoverPath returns the offline cover art directory.
func (s StorageConfig) CoverPath() string {
	return filepath.Join(s.DataDir, s.CoverDir)
}

// ProgressInterval is the minimum spacing between persisted progress updates for one job.
func (d DownloadsConfig) ProgressInterval() time.Duration {
	return time.Duration(d.ProgressIntervalMS) * time.Millisecond
}

// Timeout returns the HTTP client timeout for the remote server.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Addr returns the host:port pair the status API listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate reports configuration values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is empty", ErrInvalidConfig)
	}
	if c.Storage.DataDir == "" || c.Storage.MediaDir == "" || c.Storage.CoverDir == "" {
		return fmt.Errorf("%w: storage directories must be set", ErrInvalidConfig)
	}
	if c.Storage.MediaDir == c.Storage.CoverDir {
		return fmt.Errorf("%w: storage.media_dir and storage.cover_dir must differ", ErrInvalidConfig)
	}
	if c.Downloads.Workers <= 0 {
		return fmt.Errorf("%w: downloads.workers must be positive, got %d", ErrInvalidConfig, c.Downloads.Workers)
	}
	if c.Downloads.BufferSize <= 0 {
		return fmt.Errorf("%w: downloads.buffer_size must be positive", ErrInvalidConfig)
	}
	if c.Downloads.ProgressIntervalMS < 0 {
		return fmt.Errorf("%w: downloads.progress_interval_ms cannot be negative", ErrInvalidConfig)
	}
	switch c.Downloads.DefaultQuality {
	case "low", "medium", "high", "lossless":
	default:
		return fmt.Errorf("%w: unknown downloads.default_quality %q", ErrInvalidConfig, c.Downloads.DefaultQuality)
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// LoadConfigOrDefault loads path when it exists and falls back to [DefaultConfig] otherwise.
func LoadConfigOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
