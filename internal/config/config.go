// Package config loads grovefs's YAML configuration file, layered with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Network  NetworkConfig  `yaml:"network"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Mount    MountConfig    `yaml:"mount"`
	Log      LogConfig      `yaml:"log"`
}

// StorageConfig selects and configures the storage adapter.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// NetworkConfig configures the peer transport.
type NetworkConfig struct {
	Listen  string   `yaml:"listen"`
	Connect []string `yaml:"connect"`
}

// ThrottleConfig mirrors internal/repo.ThrottleConfig in YAML-friendly form.
type ThrottleConfig struct {
	Leading  time.Duration `yaml:"leading"`
	Trailing time.Duration `yaml:"trailing"`
}

type MountConfig struct {
	DefaultPath string `yaml:"default_path"`
	AllowOther  bool   `yaml:"allow_other"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{Path: ""},
		Throttle: ThrottleConfig{
			Leading:  100 * time.Millisecond,
			Trailing: time.Second,
		},
		Mount: MountConfig{
			DefaultPath: "",
			AllowOther:  false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadFrom loads configuration from an explicit file path, still layering
// in environment overrides. Used by the CLI's --config flag.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if p := os.Getenv("GROVEFS_STORAGE_PATH"); p != "" {
		cfg.Storage.Path = p
	}
	if listen := os.Getenv("GROVEFS_LISTEN"); listen != "" {
		cfg.Network.Listen = listen
	}

	return cfg, nil
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can supply isolated values.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPathWithEnv(getenv)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if path := getenv("GROVEFS_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if listen := getenv("GROVEFS_LISTEN"); listen != "" {
		cfg.Network.Listen = listen
	}

	return cfg, nil
}

func getConfigPath() string {
	return getConfigPathWithEnv(os.Getenv)
}

func getConfigPathWithEnv(getenv func(string) string) string {
	if xdgConfig := getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "grovefs", "config.yaml")
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "grovefs", "config.yaml")
}
