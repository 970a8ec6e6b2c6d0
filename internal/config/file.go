package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadFile merges the YAML file at path into cfg. Keys absent from the
// file leave the current values untouched, preserving precedence.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
