// Package config provides configuration loading and persistence for
// lineforge.
//
// Configuration is loaded from:
// 1. Defaults.
// 2. <os.UserConfigDir()>/lineforge/config.toml (file), overriding defaults.
// 3. Environment variables of the form LINEFORGE_<KEY>, overriding the file.
//
// Environment variables:
//   - LINEFORGE_PORT: listening port
//   - LINEFORGE_BIND: address or the token "tailscale"
//   - LINEFORGE_DEFAULT_TOOL: tool kind used when a caller omits one
//   - LINEFORGE_TOOL_PATH: override binary path for the default tool
//   - LINEFORGE_ITERM_ENABLED: "true"/"false"
//   - LINEFORGE_LOG_RETENTION_DAYS: sweep threshold for old session directories
//   - LINEFORGE_MAX_LOG_LINES: ring capacity in entries
//   - LINEFORGE_YOLO_MODE: "true"/"false"
//   - LINEFORGE_SSH_ENABLED: "true"/"false"
//   - LINEFORGE_CONFIG_DIR: override config directory (for testing)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for lineforge.
type Config struct {
	// Port is the listening port for the HTTP/attach surface.
	Port int `toml:"port"`

	// Bind is a literal address ("127.0.0.1:8080") or the token
	// "tailscale", which resolves to an ephemeral tsnet listener.
	Bind string `toml:"bind"`

	// DefaultTool is the tool kind used when a caller omits one.
	DefaultTool string `toml:"default_tool"`

	// ToolPath overrides the binary path for DefaultTool.
	ToolPath string `toml:"tool_path,omitempty"`

	// DefaultDirs is a UI suggestion list; the core never consumes it.
	DefaultDirs []string `toml:"default_dirs,omitempty"`

	// ITermEnabled allows a collaborator to auto-open a desktop terminal.
	ITermEnabled bool `toml:"iterm_enabled"`

	// LogRetentionDays is the sweep threshold for old session directories.
	LogRetentionDays int `toml:"log_retention_days"`

	// MaxLogLines is the Log Ring capacity in entries.
	MaxLogLines int `toml:"max_log_lines"`

	// YoloMode passes an auto-approve flag to the child.
	YoloMode bool `toml:"yolo_mode"`

	// SSHEnabled gates the optional SSH attach transport.
	SSHEnabled bool `toml:"ssh_enabled"`
}

// Default returns configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Port:             8080,
		Bind:             "127.0.0.1",
		DefaultTool:      "claude",
		ITermEnabled:     false,
		LogRetentionDays: 14,
		MaxLogLines:      10000,
		YoloMode:         false,
		SSHEnabled:       false,
	}
}

// ConfigDir returns the configuration directory path, creating it if
// necessary. Respects LINEFORGE_CONFIG_DIR for testing.
func ConfigDir() (string, error) {
	if testDir := os.Getenv("LINEFORGE_CONFIG_DIR"); testDir != "" {
		if err := os.MkdirAll(testDir, 0o700); err != nil {
			return "", fmt.Errorf("config: create config directory: %w", err)
		}
		return testDir, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: determine user config dir: %w", err)
	}

	dir := filepath.Join(base, "lineforge")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("config: create config directory: %w", err)
	}
	return dir, nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads configuration from file and applies environment variable
// overrides. Priority: environment variables > config file > defaults.
func Load() (*Config, error) {
	cfg := Default()

	if err := cfg.loadFromFile(); err != nil {
		// Missing or invalid file is not fatal; defaults stand.
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

func (c *Config) loadFromFile() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return toml.Unmarshal(data, c)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LINEFORGE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("LINEFORGE_BIND"); v != "" {
		c.Bind = v
	}
	if v := os.Getenv("LINEFORGE_DEFAULT_TOOL"); v != "" {
		c.DefaultTool = v
	}
	if v := os.Getenv("LINEFORGE_TOOL_PATH"); v != "" {
		c.ToolPath = v
	}
	if v := os.Getenv("LINEFORGE_ITERM_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ITermEnabled = b
		}
	}
	if v := os.Getenv("LINEFORGE_LOG_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LogRetentionDays = n
		}
	}
	if v := os.Getenv("LINEFORGE_MAX_LOG_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxLogLines = n
		}
	}
	if v := os.Getenv("LINEFORGE_YOLO_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.YoloMode = b
		}
	}
	if v := os.Getenv("LINEFORGE_SSH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SSHEnabled = b
		}
	}
}

// SessionsDir returns the directory holding each session's persisted
// meta.json and output.log, creating it if necessary.
func SessionsDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	sessions := filepath.Join(dir, "sessions")
	if err := os.MkdirAll(sessions, 0o700); err != nil {
		return "", fmt.Errorf("config: create sessions directory: %w", err)
	}
	return sessions, nil
}

// SocketsDir returns the runtime directory holding attach sockets,
// creating it if necessary. Unlike SessionsDir this is meant to be
// purged on every clean shutdown and startup (spec.md §6).
func SocketsDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	sockets := filepath.Join(dir, "sockets")
	if err := os.MkdirAll(sockets, 0o700); err != nil {
		return "", fmt.Errorf("config: create sockets directory: %w", err)
	}
	return sockets, nil
}

// Save writes configuration to the config file.
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write config file: %w", err)
	}

	return nil
}
