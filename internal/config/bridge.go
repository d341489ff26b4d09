// internal/config/bridge.go
package config

import (
	"serial-core/pkg/driver"
)

// ConnectionConfig builds a driver configuration for the given port path
// from the process defaults.
func (c *Config) ConnectionConfig(path string) driver.ConnectionConfig {
	return driver.ConnectionConfig{
		Path:          path,
		BaudRate:      c.Serial.BaudRate,
		DataBits:      c.Serial.DataBits,
		StopBits:      c.Serial.StopBits,
		Parity:        c.Serial.Parity,
		Timeout:       c.Serial.Timeout,
		Retries:       c.Retry.Attempts,
		ShutdownGrace: c.Retry.ShutdownGrace,
		Backoff: driver.BackoffPolicy{
			Kind:     driver.BackoffKind(c.Retry.Backoff),
			Delay:    c.Retry.Delay,
			MaxDelay: c.Retry.MaxDelay,
		},
	}
}
