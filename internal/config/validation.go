package config

import (
	"fmt"
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "fatal": true, "panic": true,
}

var validLogFormats = map[string]bool{
	"text": true, "json": true,
}

// Validate checks the final configuration for consistency.
func Validate(cfg *Config) error {
	if !validLogLevels[cfg.App.LogLevel] {
		return fmt.Errorf("invalid log level %q", cfg.App.LogLevel)
	}
	if !validLogFormats[cfg.App.LogFormat] {
		return fmt.Errorf("invalid log format %q", cfg.App.LogFormat)
	}
	if cfg.App.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if cfg.Runtime.DefaultPoolSize < 0 {
		return fmt.Errorf("default pool size must be positive or zero")
	}
	for _, cpu := range cfg.Runtime.CPUAffinity {
		if cpu < 0 {
			return fmt.Errorf("invalid CPU index %d in affinity set", cpu)
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		return fmt.Errorf("metrics enabled without a listen address")
	}
	if cfg.MQTT.Enabled {
		if len(cfg.MQTT.Brokers) == 0 {
			return fmt.Errorf("mqtt bridge enabled without brokers")
		}
		if cfg.MQTT.SubscribeTopic == "" && cfg.MQTT.PublishTopic == "" {
			return fmt.Errorf("mqtt bridge enabled without topics")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("invalid MQTT QoS %d", cfg.MQTT.QoS)
		}
		if cfg.MQTT.TLS.Enabled && cfg.MQTT.TLS.CACert == "" && !cfg.MQTT.TLS.InsecureSkip {
			return fmt.Errorf("mqtt TLS enabled without a CA certificate")
		}
	}
	return nil
}
