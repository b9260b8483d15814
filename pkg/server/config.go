package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds the resolved server configuration.
type Config struct {
	TCPPort                 int
	HTTPPort                int
	HeartbeatCheckSeconds   int
	HeartbeatTimeoutSeconds int
	MaxMessageLength        int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		TCPPort:                 5000,
		HTTPPort:                5080,
		HeartbeatCheckSeconds:   15, // watchdog wake interval
		HeartbeatTimeoutSeconds: 45, // silence before forced close
		MaxMessageLength:        4096,
	}
}

// TOMLConfig represents the structure of the server config file.
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	TCPPort      int    `toml:"tcp_port"`
	HTTPPort     int    `toml:"http_port"`
	DatabasePath string `toml:"database_path"`
}

type LimitsSection struct {
	HeartbeatCheckSeconds   int `toml:"heartbeat_check_seconds"`
	HeartbeatTimeoutSeconds int `toml:"heartbeat_timeout_seconds"`
	MaxMessageLength        int `toml:"max_message_length"`
}

// DefaultTOMLConfig returns the default TOML configuration.
func DefaultTOMLConfig() TOMLConfig {
	defaults := DefaultConfig()
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:      defaults.TCPPort,
			HTTPPort:     defaults.HTTPPort,
			DatabasePath: "~/.luckychat/luckychat.db",
		},
		Limits: LimitsSection{
			HeartbeatCheckSeconds:   defaults.HeartbeatCheckSeconds,
			HeartbeatTimeoutSeconds: defaults.HeartbeatTimeoutSeconds,
			MaxMessageLength:        defaults.MaxMessageLength,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating a default
// file if none exists.
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Could not persist the default (permissions, read-only fs);
			// still run with in-memory defaults.
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# LuckyChat Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToConfig converts the file form to the resolved Config, filling gaps
// with defaults.
func (c *TOMLConfig) ToConfig() Config {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}
	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	if c.Limits.HeartbeatCheckSeconds != 0 {
		cfg.HeartbeatCheckSeconds = c.Limits.HeartbeatCheckSeconds
	}
	if c.Limits.HeartbeatTimeoutSeconds != 0 {
		cfg.HeartbeatTimeoutSeconds = c.Limits.HeartbeatTimeoutSeconds
	}
	if c.Limits.MaxMessageLength != 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}
	return cfg
}

// GetDatabasePath returns the database path with ~ expanded.
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	path := c.Server.DatabasePath
	if path == "" {
		path = DefaultTOMLConfig().Server.DatabasePath
	}
	return expandHome(path)
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
