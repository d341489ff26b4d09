// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the process configuration for tools built on the
// serial core. The core library itself only consumes ConnectionConfig
// values; parsing files and environment is this package's job.
type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Trace   TraceConfig   `mapstructure:"trace"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SerialConfig represents default serial link parameters.
type SerialConfig struct {
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	StopBits int           `mapstructure:"stop_bits"`
	Parity   string        `mapstructure:"parity"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RetryConfig represents the default retry and backoff policy.
type RetryConfig struct {
	Attempts      int           `mapstructure:"attempts"`
	Backoff       string        `mapstructure:"backoff"`
	Delay         time.Duration `mapstructure:"delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// TraceConfig represents trace emission configuration.
type TraceConfig struct {
	BufferSize int    `mapstructure:"buffer_size"`
	Listen     string `mapstructure:"listen"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Load loads configuration from file and environment variables. A missing
// config file is not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("serialcore")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/serialcore")

	// Environment variable support
	v.SetEnvPrefix("SERIAL_CORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Serial defaults
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.timeout", "1s")

	// Retry defaults
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.backoff", "fixed")
	v.SetDefault("retry.delay", "100ms")
	v.SetDefault("retry.max_delay", "2s")
	v.SetDefault("retry.shutdown_grace", "5s")

	// Trace defaults
	v.SetDefault("trace.buffer_size", 1000)
	v.SetDefault("trace.listen", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)
}

// validate validates the configuration.
func validate(config *Config) error {
	if config.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive")
	}
	if config.Serial.Timeout <= 0 {
		return fmt.Errorf("serial.timeout must be positive")
	}
	if config.Retry.Attempts < 0 {
		return fmt.Errorf("retry.attempts must not be negative")
	}

	switch config.Retry.Backoff {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("retry.backoff must be fixed or exponential")
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}
