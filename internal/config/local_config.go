package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of evolu.yaml fields that must be readable
// directly from disk rather than through the viper singleton: schema
// bootstrap runs before the engine owns a logger or config singleton, so
// it needs name/enableLogging before Initialize has ever been called.
//
// Mirrors the teacher's internal/config/local_config.go split.
type LocalConfig struct {
	Name          string `yaml:"name"`
	EnableLogging bool   `yaml:"enableLogging"`
}

// LoadLocalConfig reads and parses path directly, bypassing viper.
// Returns an empty (not nil) LocalConfig if the file is missing or
// malformed, so callers never need a nil check.
func LoadLocalConfig(path string) *LocalConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}
