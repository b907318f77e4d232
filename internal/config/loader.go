package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configPath (a file, or a directory holding config.yaml), follows
// include directives, verifies the .checksums manifest when one is present,
// and validates the result. Values not set in any file keep their defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg := Defaults()
	cfg.Dispatch.Routes = nil
	if err := loadConfigFile(cfg, absPath, make(map[string]bool)); err != nil {
		return nil, err
	}
	if len(cfg.Dispatch.Routes) == 0 {
		cfg.Dispatch.Routes = Defaults().Dispatch.Routes
	}

	if err := verifyAllConfigHashes(cfg.SourceFiles); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadConfigFile decodes path onto cfg, then its includes in order. Later
// files override earlier ones field by field; maps are merged key by key.
func loadConfigFile(cfg *Config, path string, visited map[string]bool) error {
	if visited[path] {
		return fmt.Errorf("include cycle detected at %s", path)
	}
	visited[path] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.Include = nil
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	includes := cfg.Include
	cfg.Include = nil
	cfg.SourceFiles = append(cfg.SourceFiles, path)

	baseDir := filepath.Dir(path)
	for i, inc := range includes {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(baseDir, incPath)
		}
		incPath = filepath.Clean(incPath)

		if _, err := os.Stat(incPath); err != nil {
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, incPath, err)
		}
		if err := loadConfigFile(cfg, incPath, visited); err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, inc, err)
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with the environment value. Unset variables
// are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// verifyAllConfigHashes checks every loaded file against the .checksums
// manifest in its directory. Directories without a manifest are skipped.
func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: hookguard config lock --config %s", basename, dir, dir)
			}
			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: hookguard config lock --config %s", path, err, dir)
			}
		}
	}
	return nil
}
