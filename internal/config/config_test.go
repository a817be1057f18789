package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// mockEnv creates an environment lookup function from a map.
func mockEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}
	if cfg.Throttle.Leading != 100*time.Millisecond {
		t.Errorf("DefaultConfig() Throttle.Leading = %v, want %v", cfg.Throttle.Leading, 100*time.Millisecond)
	}
	if cfg.Throttle.Trailing != time.Second {
		t.Errorf("DefaultConfig() Throttle.Trailing = %v, want %v", cfg.Throttle.Trailing, time.Second)
	}
	if cfg.Mount.DefaultPath != "" {
		t.Errorf("DefaultConfig() Mount.DefaultPath = %q, want empty", cfg.Mount.DefaultPath)
	}
	if cfg.Mount.AllowOther != false {
		t.Error("DefaultConfig() Mount.AllowOther should be false")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("DefaultConfig() Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Storage.Path != "" {
		t.Errorf("DefaultConfig() Storage.Path should be empty, got %q", cfg.Storage.Path)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "grovefs")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
storage:
  path: /var/lib/grovefs/store.db
network:
  listen: "127.0.0.1:7420"
  connect:
    - "ws://peer-a:7420/grovefs"
throttle:
  leading: 250ms
  trailing: 2s
mount:
  default_path: ~/grove
  allow_other: true
log:
  level: debug
  file: /var/log/grovefs.log
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Storage.Path != "/var/lib/grovefs/store.db" {
		t.Errorf("LoadWithEnv() Storage.Path = %q, want %q", cfg.Storage.Path, "/var/lib/grovefs/store.db")
	}
	if cfg.Network.Listen != "127.0.0.1:7420" {
		t.Errorf("LoadWithEnv() Network.Listen = %q, want %q", cfg.Network.Listen, "127.0.0.1:7420")
	}
	if len(cfg.Network.Connect) != 1 || cfg.Network.Connect[0] != "ws://peer-a:7420/grovefs" {
		t.Errorf("LoadWithEnv() Network.Connect = %v, want one peer URL", cfg.Network.Connect)
	}
	if cfg.Throttle.Leading != 250*time.Millisecond {
		t.Errorf("LoadWithEnv() Throttle.Leading = %v, want %v", cfg.Throttle.Leading, 250*time.Millisecond)
	}
	if cfg.Throttle.Trailing != 2*time.Second {
		t.Errorf("LoadWithEnv() Throttle.Trailing = %v, want %v", cfg.Throttle.Trailing, 2*time.Second)
	}
	if cfg.Mount.DefaultPath != "~/grove" {
		t.Errorf("LoadWithEnv() Mount.DefaultPath = %q, want %q", cfg.Mount.DefaultPath, "~/grove")
	}
	if cfg.Mount.AllowOther != true {
		t.Error("LoadWithEnv() Mount.AllowOther should be true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("LoadWithEnv() Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.File != "/var/log/grovefs.log" {
		t.Errorf("LoadWithEnv() Log.File = %q, want %q", cfg.Log.File, "/var/log/grovefs.log")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "grovefs")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
storage:
  path: /file/path/store.db
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME":    tmpDir,
		"GROVEFS_STORAGE_PATH": "/env/path/store.db",
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Storage.Path != "/env/path/store.db" {
		t.Errorf("LoadWithEnv() Storage.Path = %q, want %q (env override)", cfg.Storage.Path, "/env/path/store.db")
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Throttle.Leading != 100*time.Millisecond {
		t.Errorf("LoadWithEnv() without file should use default Throttle.Leading, got %v", cfg.Throttle.Leading)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("LoadWithEnv() without file should use default Log.Level, got %q", cfg.Log.Level)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "grovefs")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	invalidContent := `
storage: [this is invalid yaml
throttle:
  leading: not a duration
`
	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	_, err := LoadWithEnv(env)
	if err == nil {
		t.Error("LoadWithEnv() with invalid YAML should return error")
	}
}

func TestGetConfigPathXDG(t *testing.T) {
	t.Parallel()
	tmpDir := "/custom/config/path"

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	path := getConfigPathWithEnv(env)
	expected := filepath.Join(tmpDir, "grovefs", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestGetConfigPathFallback(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{})

	path := getConfigPathWithEnv(env)
	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, ".config", "grovefs", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "grovefs")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	// Only set the throttle leading window, leave everything else to defaults.
	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
throttle:
  leading: 5ms
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Throttle.Leading != 5*time.Millisecond {
		t.Errorf("LoadWithEnv() Throttle.Leading = %v, want %v", cfg.Throttle.Leading, 5*time.Millisecond)
	}
	// Default value preserved (this is how YAML unmarshaling works with pre-initialized structs).
	if cfg.Throttle.Trailing != time.Second {
		t.Errorf("LoadWithEnv() Throttle.Trailing = %v, want %v (default)", cfg.Throttle.Trailing, time.Second)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("LoadWithEnv() Log.Level = %q, want %q (default)", cfg.Log.Level, "info")
	}
}
