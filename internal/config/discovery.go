package config

import (
	"os"
	"path/filepath"
)

// EnvConfigFile points at an explicit configuration file.
const EnvConfigFile = "ASC_LARK_CONFIG"

const (
	configFileName  = "config.yaml"
	systemConfigDir = "/etc/asc-lark"
)

// DiscoverConfigFile returns the first configuration file found, checking
// $ASC_LARK_CONFIG, ~/.config/asc-lark, /etc/asc-lark and ./config.yaml in
// that order. It returns "" when there is none; the file is optional because
// everything can come from the environment.
func DiscoverConfigFile() string {
	home, _ := os.UserHomeDir()
	return discoverConfigFile(os.Getenv(EnvConfigFile), home, systemConfigDir, ".")
}

func discoverConfigFile(envPath, homeDir, systemDir, workDir string) string {
	candidates := []string{envPath}
	if homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "asc-lark", configFileName))
	}
	candidates = append(candidates,
		filepath.Join(systemDir, configFileName),
		filepath.Join(workDir, configFileName),
	)

	for _, path := range candidates {
		if path != "" && fileExists(path) {
			return path
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
