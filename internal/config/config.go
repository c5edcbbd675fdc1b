package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the process-level configuration. The search/sync core treats
// these values as inputs supplied at startup.
type Config struct {
	DataDir                 string  `toml:"data_dir"`
	FeedURL                 string  `toml:"feed_url"`
	StalenessThresholdHours float64 `toml:"staleness_threshold_hours"`
	BatchSize               int     `toml:"batch_size"`
	MaxRetries              int     `toml:"max_retries"`
	ListenAddr              string  `toml:"listen_addr"`
}

// Default returns the configuration used when no config file exists.
func Default() (*Config, error) {
	dataDir, err := defaultDataDir()
	if err != nil {
		return nil, err
	}
	return &Config{
		DataDir:                 dataDir,
		FeedURL:                 "https://roadmap.example.com/api/v1",
		StalenessThresholdHours: 24,
		BatchSize:               200,
		MaxRetries:              3,
		ListenAddr:              "localhost:6893",
	}, nil
}

// Load reads the TOML config at path, falling back to defaults when the file
// does not exist. Fields left unset in the file keep their default values.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.StalenessThresholdHours <= 0 {
		return nil, fmt.Errorf("staleness_threshold_hours must be positive")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must not be negative")
	}

	return cfg, nil
}

// DBPath returns the sqlite database location under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "roadmap.db")
}

// IndexPath returns the bleve index location under the data directory.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "bleve")
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "roadmap-search"), nil
}
