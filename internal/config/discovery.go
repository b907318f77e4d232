package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath names the environment variable that overrides discovery.
const EnvConfigPath = "HOOKGUARD_CONFIG"

// DiscoverConfig returns the first config file found, in order:
// $HOOKGUARD_CONFIG, ~/.config/hookguard/config.yaml,
// /etc/hookguard/config.yaml, ./config.yaml.
func DiscoverConfig() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		if !fileExists(p) && !dirExists(p) {
			return "", fmt.Errorf("%s=%s does not exist", EnvConfigPath, p)
		}
		return p, nil
	}

	candidates := make([]string, 0, 3)
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "hookguard", "config.yaml"))
	}
	candidates = append(candidates, "/etc/hookguard/config.yaml", "config.yaml")

	for _, c := range candidates {
		if fileExists(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config file found (set %s or use --config); looked in %v", EnvConfigPath, candidates)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
