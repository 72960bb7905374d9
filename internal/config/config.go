package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755
)

var (
	// ConfigDir is the global configuration directory (~/.swarm)
	ConfigDir string

	// ReportsDir is where generated HTML reports are written by default
	ReportsDir string

	// DatabasePath is the SQLite database file for run history
	DatabasePath string

	// SettingsFile is the global settings file
	SettingsFile string
)

// Initialize sets up the configuration directories
// It creates ~/.swarm/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	return InitializeAt(filepath.Join(homeDir, ".swarm"))
}

// InitializeAt sets up the configuration directories below root
func InitializeAt(root string) error {
	ConfigDir = root
	ReportsDir = filepath.Join(ConfigDir, "reports")
	DatabasePath = filepath.Join(ConfigDir, "swarm.db")
	SettingsFile = filepath.Join(ConfigDir, "swarm.yaml")

	dirs := []string{ConfigDir, ReportsDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// GetSettingsFilePath returns the settings file path (local or global).
// A swarm.yaml, swarm.json or swarm.jsonc in the current directory wins.
func GetSettingsFilePath() string {
	for _, name := range []string{"swarm.yaml", "swarm.yml", "swarm.json", "swarm.jsonc"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	if SettingsFile != "" {
		if _, err := os.Stat(SettingsFile); err == nil {
			return SettingsFile
		}
	}
	return ""
}

// ExpandPath expands a leading ~/ to the home directory
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
