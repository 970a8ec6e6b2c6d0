package config

import "time"

// defaultConfig returns the baseline configuration before file,
// environment and flag overrides.
func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:            "coproc",
			LogLevel:        "info",
			LogFormat:       "text",
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Runtime: RuntimeConfig{
			DefaultPoolSize: 0, // 0 selects the CPU count
			StepBudget:      64,
			LockOSThread:    false,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		MQTT: MQTTConfig{
			Enabled:              false,
			Brokers:              []string{"tcp://localhost:1883"},
			ClientID:             "coproc-bridge",
			SubscribeTopic:       "coproc/in",
			PublishTopic:         "coproc/out",
			QoS:                  1,
			ConnectTimeout:       Duration(10 * time.Second),
			WriteTimeout:         Duration(5 * time.Second),
			KeepAlive:            Duration(30 * time.Second),
			MaxReconnectInterval: Duration(time.Minute),
		},
	}
}
