package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds application configuration.
type Config struct {
	DataDir           string   `json:"dataDir"`
	DownloadPath      string   `json:"downloadPath"`
	StreamURL         string   `json:"streamUrl"`
	StreamMetadataURL string   `json:"streamMetadataUrl"`
	ShowFeeds         []string `json:"showFeeds"`
	ListenAddr        string   `json:"listenAddr"`
	ProgressTickMs    int      `json:"progressTickMs"`
	MetadataTickSec   int      `json:"metadataTickSec"`
}

// DefaultConfig returns the default application configuration.
func DefaultConfig() *Config {
	return &Config{
		StreamURL:       "https://radio.paradigmamedia.org/stream",
		ListenAddr:      "127.0.0.1:8720",
		ProgressTickMs:  250,
		MetadataTickSec: 15,
	}
}

// ProgressTick returns the progress polling interval.
func (c *Config) ProgressTick() time.Duration {
	if c.ProgressTickMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.ProgressTickMs) * time.Millisecond
}

// MetadataTick returns the live metadata refresh interval.
func (c *Config) MetadataTick() time.Duration {
	if c.MetadataTickSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.MetadataTickSec) * time.Second
}

// Manager handles loading and saving application configuration.
type Manager struct {
	configPath string
	config     *Config
}

// NewManager creates a configuration manager rooted at configDir.
func NewManager(configDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(configDir, "config.json"),
		config:     DefaultConfig(),
	}
}

// Load loads the configuration from disk, creating the default if missing.
func (m *Manager) Load() error {
	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		return m.Save()
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, m.config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Save saves the configuration to disk.
func (m *Manager) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	return m.config
}

// GetDataDir returns the directory for databases and preference files.
func (m *Manager) GetDataDir() string {
	if m.config.DataDir != "" {
		return m.config.DataDir
	}
	return filepath.Dir(m.configPath)
}

// GetDownloadDir returns the directory for downloaded episode audio.
func (m *Manager) GetDownloadDir() string {
	if m.config.DownloadPath != "" {
		return m.config.DownloadPath
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(filepath.Dir(m.configPath), "downloads")
	}
	return filepath.Join(homeDir, "Music", "Paradigma")
}
