package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the resolved filesystem locations pdsync uses; only the
// environment variables below override them.
//
// Environment variables:
//   - PDSYNC_CONFIG_PATH: config file location (default: ~/.config/pdsync.json)
//   - PDSYNC_STATE_DIR: state store + log directory (default: ~/.local/state/pdsync,
//     or $XDG_STATE_HOME/pdsync if set)
type Defaults struct {
	ConfigPath string
	StateDir   string
	LogDir     string
}

// GetDefaults resolves Defaults from the environment, falling back to the
// XDG base directory spec.
func GetDefaults() (*Defaults, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	stateDir, err := getStateDir()
	if err != nil {
		return nil, err
	}
	return &Defaults{
		ConfigPath: configPath,
		StateDir:   stateDir,
		LogDir:     filepath.Join(stateDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("PDSYNC_CONFIG_PATH"); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "pdsync.json"), nil
}

func getStateDir() (string, error) {
	if path := os.Getenv("PDSYNC_STATE_DIR"); path != "" {
		return path, nil
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "pdsync"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "state", "pdsync"), nil
}
