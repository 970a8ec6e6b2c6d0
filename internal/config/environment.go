package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable helpers. Unset or malformed values leave the
// current configuration untouched.

func envString(key string, target *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*target = v
	}
}

func envInt(key string, target *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func envBool(key string, target *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func envDuration(key string, target *Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*target = Duration(d)
		}
	}
}

func envStringSlice(key string, target *[]string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*target = out
		}
	}
}

func envIntSlice(key string, target *[]int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return
			}
			out = append(out, n)
		}
		*target = out
	}
}

// loadAppFromEnv applies COPROC_* app variables.
func loadAppFromEnv(cfg *AppConfig) {
	envString("COPROC_APP_NAME", &cfg.Name)
	envString("COPROC_LOG_LEVEL", &cfg.LogLevel)
	envString("COPROC_LOG_FORMAT", &cfg.LogFormat)
	envDuration("COPROC_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
}

// loadRuntimeFromEnv applies COPROC_* scheduler variables.
func loadRuntimeFromEnv(cfg *RuntimeConfig) {
	envInt("COPROC_POOL_SIZE", &cfg.DefaultPoolSize)
	envInt("COPROC_STEP_BUDGET", &cfg.StepBudget)
	envBool("COPROC_LOCK_OS_THREAD", &cfg.LockOSThread)
	envIntSlice("COPROC_CPU_AFFINITY", &cfg.CPUAffinity)
}

// loadMetricsFromEnv applies COPROC_METRICS_* variables.
func loadMetricsFromEnv(cfg *MetricsConfig) {
	envBool("COPROC_METRICS_ENABLED", &cfg.Enabled)
	envString("COPROC_METRICS_ADDRESS", &cfg.Address)
}

// loadMQTTFromEnv applies COPROC_MQTT_* variables.
func loadMQTTFromEnv(cfg *MQTTConfig) {
	envBool("COPROC_MQTT_ENABLED", &cfg.Enabled)
	envStringSlice("COPROC_MQTT_BROKERS", &cfg.Brokers)
	envString("COPROC_MQTT_CLIENT_ID", &cfg.ClientID)
	envString("COPROC_MQTT_SUBSCRIBE_TOPIC", &cfg.SubscribeTopic)
	envString("COPROC_MQTT_PUBLISH_TOPIC", &cfg.PublishTopic)
	envDuration("COPROC_MQTT_CONNECT_TIMEOUT", &cfg.ConnectTimeout)
	envDuration("COPROC_MQTT_WRITE_TIMEOUT", &cfg.WriteTimeout)
	envDuration("COPROC_MQTT_KEEP_ALIVE", &cfg.KeepAlive)
	envDuration("COPROC_MQTT_MAX_RECONNECT_INTERVAL", &cfg.MaxReconnectInterval)
	if v, ok := os.LookupEnv("COPROC_MQTT_QOS"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 2 {
			cfg.QoS = byte(n)
		}
	}
	envBool("COPROC_MQTT_TLS_ENABLED", &cfg.TLS.Enabled)
	envString("COPROC_MQTT_TLS_CA_CERT", &cfg.TLS.CACert)
	envString("COPROC_MQTT_TLS_CLIENT_CERT", &cfg.TLS.ClientCert)
	envString("COPROC_MQTT_TLS_CLIENT_KEY", &cfg.TLS.ClientKey)
	envBool("COPROC_MQTT_TLS_INSECURE_SKIP", &cfg.TLS.InsecureSkip)
}
