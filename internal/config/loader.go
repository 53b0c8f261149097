package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"m365gate/pkg/logging"
)

const (
	userConfigDir  = ".config/m365gate"
	configFileName = "config.yaml"
)

// GetDefaultConfigPath returns ~/.config/m365gate.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// FilePath returns the config.yaml path inside configPath.
func FilePath(configPath string) string {
	return filepath.Join(configPath, configFileName)
}

// LoadConfig loads config.yaml from configPath on top of the defaults and
// applies environment overrides. A missing file is not an error.
func LoadConfig(configPath string) (Config, error) {
	cfg := GetDefaultConfig()

	if configPath != "" {
		if err := loadFile(FilePath(configPath), &cfg); err != nil {
			return Config{}, err
		}
	}

	ApplyEnv(&cfg, os.Getenv)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "No config.yaml found at %s, using defaults", path)
			return nil
		}
		return fmt.Errorf("error reading config from %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("error loading config from %s: %w", path, err)
	}
	logging.Info("Config", "Loaded configuration from %s", path)
	return nil
}
