package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFile_ReturnsDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path == "" {
		t.Fatalf("expected config path")
	}
	if got := cfg.Host(); got != DefaultHost {
		t.Fatalf("cfg.Host() = %q, want %q", got, DefaultHost)
	}
	if got := cfg.Port(); got != DefaultPort {
		t.Fatalf("cfg.Port() = %d, want %d", got, DefaultPort)
	}
	if got := cfg.BackendBaseURL(); got != DefaultBackendBaseURL {
		t.Fatalf("cfg.BackendBaseURL() = %q, want %q", got, DefaultBackendBaseURL)
	}
}

func TestEnsureDefaultConfig_CreatesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := EnsureDefaultConfig()
	if err != nil {
		t.Fatalf("EnsureDefaultConfig() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist at %s: %v", path, err)
	}

	cfg, gotPath, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if filepath.Clean(gotPath) != filepath.Clean(path) {
		t.Fatalf("Load() path = %s, want %s", gotPath, path)
	}
	if got := cfg.Host(); got != DefaultHost {
		t.Fatalf("cfg.Host() = %q, want %q", got, DefaultHost)
	}
}

func TestLoad_ParsesServerAndBackend(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".nimbusdesk")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	yaml := "server:\n  host: 0.0.0.0\n  port: 9090\nbackend:\n  base_url: https://backend.example.com/\n  api_key: nd_test\n  timeout_seconds: 5\n"
	if err := os.WriteFile(configPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Host(); got != "0.0.0.0" {
		t.Fatalf("cfg.Host() = %q, want %q", got, "0.0.0.0")
	}
	if got := cfg.Port(); got != 9090 {
		t.Fatalf("cfg.Port() = %d, want %d", got, 9090)
	}
	if got := cfg.BackendBaseURL(); got != "https://backend.example.com" {
		t.Fatalf("cfg.BackendBaseURL() = %q, want trailing slash trimmed", got)
	}
	if got := cfg.BackendAPIKey(); got != "nd_test" {
		t.Fatalf("cfg.BackendAPIKey() = %q, want %q", got, "nd_test")
	}
	if got := cfg.BackendTimeoutSeconds(); got != 5 {
		t.Fatalf("cfg.BackendTimeoutSeconds() = %d, want 5", got)
	}
}

func TestLoad_InvalidPort_ReturnsError(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".nimbusdesk")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("server:\n  port: 70000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := Load(); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestStateDBPath_Default(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := &AppConfig{}
	path, err := cfg.StateDBPath()
	if err != nil {
		t.Fatalf("StateDBPath() error = %v", err)
	}
	want := filepath.Join(home, ".nimbusdesk", "state.db")
	if path != want {
		t.Fatalf("StateDBPath() = %q, want %q", path, want)
	}
}
