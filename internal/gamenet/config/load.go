package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads and parses a YAML config file, falling back to
// DefaultConfig() if the file does not exist — the same fallback the
// teacher's cmd/*/main.go loadConfig helpers use.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("gamenet/config: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("gamenet/config: parse %q: %w", path, err)
	}
	return cfg, nil
}
