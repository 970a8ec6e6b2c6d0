package config

import (
	"flag"
	"strings"
	"time"
)

// flagSpec binds command-line flags to a FlagSet so the loader can
// apply only the flags the user actually set (flag.Visit), keeping the
// defaults → file → env → flags precedence intact.
type flagSpec struct {
	configFile string

	logLevel        string
	logFormat       string
	shutdownTimeout time.Duration

	poolSize     int
	stepBudget   int
	lockOSThread bool

	metricsEnabled bool
	metricsAddress string

	mqttEnabled bool
	mqttBrokers string
	mqttQoS     int
}

// registerFlags declares all flags on fs.
func registerFlags(fs *flag.FlagSet) *flagSpec {
	s := &flagSpec{}
	fs.StringVar(&s.configFile, "config", "", "path to YAML configuration file")
	fs.StringVar(&s.logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	fs.StringVar(&s.logFormat, "log-format", "text", "log format (text|json)")
	fs.DurationVar(&s.shutdownTimeout, "shutdown-timeout", 30*time.Second, "graceful shutdown timeout")
	fs.IntVar(&s.poolSize, "pool-size", 0, "default pool worker count (0 = CPU count)")
	fs.IntVar(&s.stepBudget, "step-budget", 64, "messages per cooperative step (<0 = unlimited)")
	fs.BoolVar(&s.lockOSThread, "lock-os-thread", false, "pin workers to OS threads")
	fs.BoolVar(&s.metricsEnabled, "metrics", false, "enable the Prometheus endpoint")
	fs.StringVar(&s.metricsAddress, "metrics-address", ":9090", "Prometheus endpoint listen address")
	fs.BoolVar(&s.mqttEnabled, "mqtt", false, "enable the MQTT bridge")
	fs.StringVar(&s.mqttBrokers, "mqtt-brokers", "", "comma-separated MQTT broker URLs")
	fs.IntVar(&s.mqttQoS, "mqtt-qos", 1, "MQTT QoS level (0-2)")
	return s
}

// applyFlags copies every flag the user set on fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet, s *flagSpec) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.App.LogLevel = s.logLevel
		case "log-format":
			cfg.App.LogFormat = s.logFormat
		case "shutdown-timeout":
			cfg.App.ShutdownTimeout = Duration(s.shutdownTimeout)
		case "pool-size":
			cfg.Runtime.DefaultPoolSize = s.poolSize
		case "step-budget":
			cfg.Runtime.StepBudget = s.stepBudget
		case "lock-os-thread":
			cfg.Runtime.LockOSThread = s.lockOSThread
		case "metrics":
			cfg.Metrics.Enabled = s.metricsEnabled
		case "metrics-address":
			cfg.Metrics.Address = s.metricsAddress
		case "mqtt":
			cfg.MQTT.Enabled = s.mqttEnabled
		case "mqtt-brokers":
			cfg.MQTT.Brokers = splitNonEmpty(s.mqttBrokers)
		case "mqtt-qos":
			if s.mqttQoS >= 0 && s.mqttQoS <= 2 {
				cfg.MQTT.QoS = byte(s.mqttQoS)
			}
		}
	})
}

func splitNonEmpty(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
