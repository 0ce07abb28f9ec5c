package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates the configuration at path. Fields absent from
// the file keep their defaults, so a file may override just one value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
