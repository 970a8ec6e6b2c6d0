package config

import (
	"flag"
	"fmt"
)

var (
	commandLineSpec *flagSpec
)

func init() {
	commandLineSpec = registerFlags(flag.CommandLine)
}

// Load loads configuration with precedence: defaults → YAML file →
// environment variables → command line flags, then validates.
func Load() (*Config, error) {
	if !flag.Parsed() {
		flag.Parse()
	}
	return load(flag.CommandLine, commandLineSpec)
}

func load(fs *flag.FlagSet, spec *flagSpec) (*Config, error) {
	// Step 1: Start with defaults
	cfg := defaultConfig()

	// Step 2: Merge the optional YAML file
	if spec.configFile != "" {
		if err := loadFile(cfg, spec.configFile); err != nil {
			return nil, err
		}
	}

	// Step 3: Apply environment variables
	loadAppFromEnv(&cfg.App)
	loadRuntimeFromEnv(&cfg.Runtime)
	loadMetricsFromEnv(&cfg.Metrics)
	loadMQTTFromEnv(&cfg.MQTT)

	// Step 4: Apply command line flags (highest precedence)
	applyFlags(cfg, fs, spec)

	// Step 5: Validate the final configuration
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
