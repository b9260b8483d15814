package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.TCPPort != 5000 {
		t.Fatalf("expected default TCP port 5000, got %d", cfg.TCPPort)
	}

	if cfg.HeartbeatCheckSeconds <= 0 || cfg.HeartbeatTimeoutSeconds <= 0 {
		t.Fatal("expected positive heartbeat intervals")
	}

	if cfg.HeartbeatTimeoutSeconds <= cfg.HeartbeatCheckSeconds {
		t.Fatalf("timeout %ds must exceed check interval %ds",
			cfg.HeartbeatTimeoutSeconds, cfg.HeartbeatCheckSeconds)
	}
}

func TestToConfigMapsAllSections(t *testing.T) {
	cfg := DefaultTOMLConfig()
	cfg.Server.TCPPort = 6000
	cfg.Server.HTTPPort = 6080
	cfg.Limits.HeartbeatCheckSeconds = 5
	cfg.Limits.HeartbeatTimeoutSeconds = 20
	cfg.Limits.MaxMessageLength = 8192

	resolved := cfg.ToConfig()

	if resolved.TCPPort != 6000 {
		t.Fatalf("expected TCPPort 6000, got %d", resolved.TCPPort)
	}

	if resolved.HTTPPort != 6080 {
		t.Fatalf("expected HTTPPort 6080, got %d", resolved.HTTPPort)
	}

	if resolved.HeartbeatCheckSeconds != 5 || resolved.HeartbeatTimeoutSeconds != 20 {
		t.Fatalf("expected heartbeat 5/20, got %d/%d",
			resolved.HeartbeatCheckSeconds, resolved.HeartbeatTimeoutSeconds)
	}

	if resolved.MaxMessageLength != 8192 {
		t.Fatalf("expected MaxMessageLength 8192, got %d", resolved.MaxMessageLength)
	}
}

func TestToConfigFallsBackToDefaults(t *testing.T) {
	var cfg TOMLConfig

	resolved := cfg.ToConfig()
	defaults := DefaultConfig()

	if resolved.TCPPort != defaults.TCPPort {
		t.Fatalf("expected fallback TCPPort %d, got %d", defaults.TCPPort, resolved.TCPPort)
	}

	if resolved.HeartbeatTimeoutSeconds != defaults.HeartbeatTimeoutSeconds {
		t.Fatalf("expected fallback timeout %d, got %d",
			defaults.HeartbeatTimeoutSeconds, resolved.HeartbeatTimeoutSeconds)
	}

	if resolved.MaxMessageLength != defaults.MaxMessageLength {
		t.Fatalf("expected fallback MaxMessageLength %d, got %d",
			defaults.MaxMessageLength, resolved.MaxMessageLength)
	}
}

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.TCPPort != DefaultConfig().TCPPort {
		t.Fatalf("expected default port, got %d", cfg.Server.TCPPort)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file to be written: %v", err)
	}

	// A second load reads the file it just wrote.
	again, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if again.Server.TCPPort != cfg.Server.TCPPort {
		t.Fatalf("reloaded port %d differs from written %d", again.Server.TCPPort, cfg.Server.TCPPort)
	}
}

func TestLoadConfigParsesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
tcp_port = 7000
database_path = "/tmp/chat.db"

[limits]
heartbeat_timeout_seconds = 90
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.TCPPort != 7000 {
		t.Fatalf("expected tcp_port 7000, got %d", cfg.Server.TCPPort)
	}

	dbPath, err := cfg.GetDatabasePath()
	if err != nil {
		t.Fatalf("GetDatabasePath failed: %v", err)
	}
	if dbPath != "/tmp/chat.db" {
		t.Fatalf("expected /tmp/chat.db, got %s", dbPath)
	}

	resolved := cfg.ToConfig()
	if resolved.HeartbeatTimeoutSeconds != 90 {
		t.Fatalf("expected timeout 90, got %d", resolved.HeartbeatTimeoutSeconds)
	}
	// Unset fields keep defaults.
	if resolved.HeartbeatCheckSeconds != DefaultConfig().HeartbeatCheckSeconds {
		t.Fatalf("expected default check interval, got %d", resolved.HeartbeatCheckSeconds)
	}
}

func TestLoadConfigRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not [valid toml"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error for invalid TOML")
	}
}
