package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dayuer/qqbridge/internal/utils"
)

// GetConfigPath returns the config file path under the data directory,
// honoring the QQBRIDGE_HOME override.
func GetConfigPath() string {
	return filepath.Join(utils.GetDataPath(), "config.json")
}

// GetAccountsPath returns the multi-account spec path (accounts.yaml next
// to config.json).
func GetAccountsPath() string {
	return filepath.Join(utils.GetDataPath(), "accounts.yaml")
}

// Load reads configuration from a JSON file. An empty path means the
// default location. A missing file is not an error: the defaults apply,
// so a bare `qqbridge gateway` run works before onboarding.
func Load(path string) (Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	// Unmarshal over the defaults so unset fields keep their values.
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes configuration as indented JSON, creating parent directories
// as needed. An empty path means the default location.
func Save(cfg Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}
	if _, err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
