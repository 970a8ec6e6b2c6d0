// Package config provides configuration loading and validation from an
// optional YAML file, environment variables and command line flags.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can use "250ms"/"10s" forms.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the complete configuration
type Config struct {
	App     AppConfig     `yaml:"app"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Metrics MetricsConfig `yaml:"metrics"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// AppConfig holds process-level settings
type AppConfig struct {
	Name            string   `yaml:"name"`
	LogLevel        string   `yaml:"log_level"`
	LogFormat       string   `yaml:"log_format"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// RuntimeConfig holds scheduler settings
type RuntimeConfig struct {
	DefaultPoolSize int   `yaml:"default_pool_size"`
	StepBudget      int   `yaml:"step_budget"`
	LockOSThread    bool  `yaml:"lock_os_thread"`
	CPUAffinity     []int `yaml:"cpu_affinity"`
}

// MetricsConfig holds the metrics endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// MQTTConfig holds the MQTT bridge settings
type MQTTConfig struct {
	Enabled              bool      `yaml:"enabled"`
	Brokers              []string  `yaml:"brokers"`
	ClientID             string    `yaml:"client_id"`
	SubscribeTopic       string    `yaml:"subscribe_topic"`
	PublishTopic         string    `yaml:"publish_topic"`
	QoS                  byte      `yaml:"qos"`
	ConnectTimeout       Duration  `yaml:"connect_timeout"`
	WriteTimeout         Duration  `yaml:"write_timeout"`
	KeepAlive            Duration  `yaml:"keep_alive"`
	MaxReconnectInterval Duration  `yaml:"max_reconnect_interval"`
	TLS                  TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS material for the MQTT bridge
type TLSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	CACert       string `yaml:"ca_cert"`
	ClientCert   string `yaml:"client_cert"`
	ClientKey    string `yaml:"client_key"`
	InsecureSkip bool   `yaml:"insecure_skip"`
}
