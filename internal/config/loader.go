package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes viper for process-config loading. If configFile
// is empty, viper looks for mcpgate.yaml/.yml in the current directory.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("mcpgate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("SENTINELGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	bindNestedEnvKeys()
}

func bindNestedEnvKeys() {
	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("policy_file")
	_ = viper.BindEnv("upstream.command")
	_ = viper.BindEnv("transport.max_frame_bytes")
	_ = viper.BindEnv("dispatch.channel_capacity")
	_ = viper.BindEnv("dispatch.max_in_flight")
	_ = viper.BindEnv("dispatch.drain_timeout_seconds")
	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("telemetry.enabled")
	_ = viper.BindEnv("telemetry.service_name")
	_ = viper.BindEnv("telemetry.metrics_addr")
}

// LoadProcessConfig reads the config file (if any), applies environment
// overrides and defaults, and validates the result.
func LoadProcessConfig() (*ProcessConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	var cfg ProcessConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path viper loaded the process config from,
// or "" if none was found (environment-only configuration).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
