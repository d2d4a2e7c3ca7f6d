package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
)

// setupTestEnv creates a temporary config directory and clears env vars.
// Returns cleanup function to restore state.
func setupTestEnv(t *testing.T) func() {
	t.Helper()

	origConfigDir := os.Getenv("LINEFORGE_CONFIG_DIR")
	origPort := os.Getenv("LINEFORGE_PORT")
	origBind := os.Getenv("LINEFORGE_BIND")
	origTool := os.Getenv("LINEFORGE_DEFAULT_TOOL")
	origToolPath := os.Getenv("LINEFORGE_TOOL_PATH")
	origRetention := os.Getenv("LINEFORGE_LOG_RETENTION_DAYS")
	origMaxLines := os.Getenv("LINEFORGE_MAX_LOG_LINES")
	origYolo := os.Getenv("LINEFORGE_YOLO_MODE")

	tmpDir := t.TempDir()
	os.Setenv("LINEFORGE_CONFIG_DIR", tmpDir)

	os.Unsetenv("LINEFORGE_PORT")
	os.Unsetenv("LINEFORGE_BIND")
	os.Unsetenv("LINEFORGE_DEFAULT_TOOL")
	os.Unsetenv("LINEFORGE_TOOL_PATH")
	os.Unsetenv("LINEFORGE_LOG_RETENTION_DAYS")
	os.Unsetenv("LINEFORGE_MAX_LOG_LINES")
	os.Unsetenv("LINEFORGE_YOLO_MODE")

	return func() {
		os.Setenv("LINEFORGE_CONFIG_DIR", origConfigDir)
		if origPort != "" {
			os.Setenv("LINEFORGE_PORT", origPort)
		}
		if origBind != "" {
			os.Setenv("LINEFORGE_BIND", origBind)
		}
		if origTool != "" {
			os.Setenv("LINEFORGE_DEFAULT_TOOL", origTool)
		}
		if origToolPath != "" {
			os.Setenv("LINEFORGE_TOOL_PATH", origToolPath)
		}
		if origRetention != "" {
			os.Setenv("LINEFORGE_LOG_RETENTION_DAYS", origRetention)
		}
		if origMaxLines != "" {
			os.Setenv("LINEFORGE_MAX_LOG_LINES", origMaxLines)
		}
		if origYolo != "" {
			os.Setenv("LINEFORGE_YOLO_MODE", origYolo)
		}
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want %d", cfg.Port, 8080)
	}
	if cfg.Bind != "127.0.0.1" {
		t.Errorf("Bind = %q, want %q", cfg.Bind, "127.0.0.1")
	}
	if cfg.DefaultTool != "claude" {
		t.Errorf("DefaultTool = %q, want %q", cfg.DefaultTool, "claude")
	}
	if cfg.LogRetentionDays != 14 {
		t.Errorf("LogRetentionDays = %d, want %d", cfg.LogRetentionDays, 14)
	}
	if cfg.MaxLogLines != 10000 {
		t.Errorf("MaxLogLines = %d, want %d", cfg.MaxLogLines, 10000)
	}
	if cfg.YoloMode {
		t.Errorf("YoloMode = %v, want false", cfg.YoloMode)
	}
}

func TestConfigSerialization(t *testing.T) {
	cfg := Default()
	cfg.ToolPath = "/usr/local/bin/claude"
	cfg.DefaultDirs = []string{"/home/dev/proj"}

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var loaded Config
	if err := toml.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if loaded.Port != cfg.Port {
		t.Errorf("Port = %d, want %d", loaded.Port, cfg.Port)
	}
	if loaded.ToolPath != cfg.ToolPath {
		t.Errorf("ToolPath = %q, want %q", loaded.ToolPath, cfg.ToolPath)
	}
	if len(loaded.DefaultDirs) != 1 || loaded.DefaultDirs[0] != "/home/dev/proj" {
		t.Errorf("DefaultDirs = %v, want %v", loaded.DefaultDirs, cfg.DefaultDirs)
	}
}

func TestLoadFromFile(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	configPath, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath() failed: %v", err)
	}

	fileConfig := &Config{
		Port:             9090,
		Bind:             "tailscale",
		DefaultTool:      "codex",
		LogRetentionDays: 30,
		MaxLogLines:      5000,
	}

	data, err := toml.Marshal(fileConfig)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want %d", cfg.Port, 9090)
	}
	if cfg.Bind != "tailscale" {
		t.Errorf("Bind = %q, want %q", cfg.Bind, "tailscale")
	}
	if cfg.DefaultTool != "codex" {
		t.Errorf("DefaultTool = %q, want %q", cfg.DefaultTool, "codex")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	configPath, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath() failed: %v", err)
	}

	fileConfig := &Config{Port: 9090, Bind: "tailscale", DefaultTool: "codex"}
	data, _ := toml.Marshal(fileConfig)
	os.WriteFile(configPath, data, 0o600)

	os.Setenv("LINEFORGE_PORT", "7000")
	os.Setenv("LINEFORGE_BIND", "0.0.0.0:7000")
	defer os.Unsetenv("LINEFORGE_PORT")
	defer os.Unsetenv("LINEFORGE_BIND")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want %d (env override)", cfg.Port, 7000)
	}
	if cfg.Bind != "0.0.0.0:7000" {
		t.Errorf("Bind = %q, want %q (env override)", cfg.Bind, "0.0.0.0:7000")
	}
	// Untouched-by-env field still comes from the file.
	if cfg.DefaultTool != "codex" {
		t.Errorf("DefaultTool = %q, want %q (from file)", cfg.DefaultTool, "codex")
	}
}

func TestAllEnvOverrides(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("LINEFORGE_PORT", "6000")
	os.Setenv("LINEFORGE_BIND", "tailscale")
	os.Setenv("LINEFORGE_DEFAULT_TOOL", "codex")
	os.Setenv("LINEFORGE_TOOL_PATH", "/opt/codex/bin/codex")
	os.Setenv("LINEFORGE_LOG_RETENTION_DAYS", "3")
	os.Setenv("LINEFORGE_MAX_LOG_LINES", "500")
	os.Setenv("LINEFORGE_YOLO_MODE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != 6000 {
		t.Errorf("Port = %d, want %d", cfg.Port, 6000)
	}
	if cfg.Bind != "tailscale" {
		t.Errorf("Bind = %q, want %q", cfg.Bind, "tailscale")
	}
	if cfg.DefaultTool != "codex" {
		t.Errorf("DefaultTool = %q, want %q", cfg.DefaultTool, "codex")
	}
	if cfg.ToolPath != "/opt/codex/bin/codex" {
		t.Errorf("ToolPath = %q, want %q", cfg.ToolPath, "/opt/codex/bin/codex")
	}
	if cfg.LogRetentionDays != 3 {
		t.Errorf("LogRetentionDays = %d, want %d", cfg.LogRetentionDays, 3)
	}
	if cfg.MaxLogLines != 500 {
		t.Errorf("MaxLogLines = %d, want %d", cfg.MaxLogLines, 500)
	}
	if !cfg.YoloMode {
		t.Errorf("YoloMode = %v, want true", cfg.YoloMode)
	}
}

func TestSaveAndLoad(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg := Default()
	cfg.Port = 9999
	cfg.Bind = "tailscale"

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if loaded.Port != 9999 {
		t.Errorf("Port = %d, want %d", loaded.Port, 9999)
	}
	if loaded.Bind != "tailscale" {
		t.Errorf("Bind = %q, want %q", loaded.Bind, "tailscale")
	}
}

func TestConfigDirOverride(t *testing.T) {
	tmpDir := t.TempDir()
	customDir := filepath.Join(tmpDir, "custom_config")

	os.Setenv("LINEFORGE_CONFIG_DIR", customDir)
	defer os.Unsetenv("LINEFORGE_CONFIG_DIR")

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() failed: %v", err)
	}

	if dir != customDir {
		t.Errorf("ConfigDir() = %q, want %q", dir, customDir)
	}

	if _, err := os.Stat(customDir); os.IsNotExist(err) {
		t.Errorf("Config directory was not created")
	}
}

func TestLoadWithNoFile(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default", cfg.Port)
	}
	if cfg.DefaultTool != "claude" {
		t.Errorf("DefaultTool = %q, want default", cfg.DefaultTool)
	}
}

func TestSessionsAndSocketsDirsAreDistinctAndCreated(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	sessions, err := SessionsDir()
	if err != nil {
		t.Fatalf("SessionsDir() failed: %v", err)
	}
	sockets, err := SocketsDir()
	if err != nil {
		t.Fatalf("SocketsDir() failed: %v", err)
	}

	if sessions == sockets {
		t.Fatalf("expected sessions and sockets directories to differ, both %q", sessions)
	}
	for _, dir := range []string{sessions, sockets} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("expected %q to exist", dir)
		}
	}
}

func TestInvalidEnvVarsIgnored(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("LINEFORGE_PORT", "not_a_number")
	os.Setenv("LINEFORGE_LOG_RETENTION_DAYS", "invalid")
	os.Setenv("LINEFORGE_YOLO_MODE", "not_a_bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default 8080 (invalid env ignored)", cfg.Port)
	}
	if cfg.LogRetentionDays != 14 {
		t.Errorf("LogRetentionDays = %d, want default 14 (invalid env ignored)", cfg.LogRetentionDays)
	}
	if cfg.YoloMode {
		t.Errorf("YoloMode = %v, want default false (invalid env ignored)", cfg.YoloMode)
	}
}
