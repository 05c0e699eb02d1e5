package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.nimbusdesk/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8090
// backend:
//   base_url: https://api.nimbusdesk.app
//   api_key: nd_xxx
//   timeout_seconds: 15
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.

type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	State   StateConfig   `yaml:"state"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

// BackendConfig points at the remote workspace backend that hosts the
// record tables, file storage and AI gateways.
type BackendConfig struct {
	BaseURL        *string `yaml:"base_url"`
	APIKey         *string `yaml:"api_key"`
	TimeoutSeconds *int    `yaml:"timeout_seconds"`
}

// StateConfig controls where locally persisted client state lives.
type StateConfig struct {
	DBPath *string `yaml:"db_path"`
}

const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8090
	DefaultBackendBaseURL = "https://api.nimbusdesk.app"
	DefaultTimeoutSeconds = 15
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".nimbusdesk")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.nimbusdesk/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	if strings.TrimSpace(cfg.Host()) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}
	if port := cfg.Port(); port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}
	if strings.TrimSpace(cfg.BackendBaseURL()) == "" {
		return nil, "", fmt.Errorf("invalid backend.base_url (empty) in %s", configFile)
	}
	if cfg.BackendTimeoutSeconds() < 1 {
		return nil, "", fmt.Errorf("invalid backend.timeout_seconds in %s", configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:  ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Backend: BackendConfig{BaseURL: ptr(DefaultBackendBaseURL), TimeoutSeconds: ptr(DefaultTimeoutSeconds)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions; the file may hold an API key.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) BackendBaseURL() string {
	if c == nil || c.Backend.BaseURL == nil {
		return DefaultBackendBaseURL
	}
	v := strings.TrimSpace(*c.Backend.BaseURL)
	if v == "" {
		return DefaultBackendBaseURL
	}
	return strings.TrimRight(v, "/")
}

func (c *AppConfig) BackendAPIKey() string {
	if c == nil || c.Backend.APIKey == nil {
		return ""
	}
	return strings.TrimSpace(*c.Backend.APIKey)
}

func (c *AppConfig) BackendTimeoutSeconds() int {
	if c == nil || c.Backend.TimeoutSeconds == nil {
		return DefaultTimeoutSeconds
	}
	return *c.Backend.TimeoutSeconds
}

// StateDBPath returns the sqlite path for locally persisted client state.
func (c *AppConfig) StateDBPath() (string, error) {
	if c != nil && c.State.DBPath != nil && strings.TrimSpace(*c.State.DBPath) != "" {
		return *c.State.DBPath, nil
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "state.db"), nil
}

func ptr[T any](v T) *T { return &v }
