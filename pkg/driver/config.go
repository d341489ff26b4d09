// pkg/driver/config.go
package driver

import (
	"fmt"
	"time"
)

// Default connection parameters applied by ConnectionConfig.withDefaults.
const (
	DefaultBaudRate      = 9600
	DefaultDataBits      = 8
	DefaultStopBits      = 1
	DefaultParity        = "none"
	DefaultTimeout       = 1 * time.Second
	DefaultRetries       = 3
	DefaultBackoffDelay  = 100 * time.Millisecond
	DefaultBackoffMax    = 2 * time.Second
	DefaultShutdownGrace = 5 * time.Second
)

// BackoffKind selects the delay schedule between retry attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// BackoffPolicy describes the retry delay schedule for a connection.
type BackoffPolicy struct {
	Kind     BackoffKind   `json:"kind" mapstructure:"kind"`
	Delay    time.Duration `json:"delay" mapstructure:"delay"`
	MaxDelay time.Duration `json:"max_delay" mapstructure:"max_delay"`
}

// ConnectionConfig carries everything needed to open and drive one serial
// endpoint. It is immutable once the connection is registered; changing
// parameters means removing and re-registering the connection.
type ConnectionConfig struct {
	// Path is the device path or port name, e.g. /dev/ttyUSB0 or COM3.
	Path string `json:"path" mapstructure:"path"`

	// Link parameters
	BaudRate int    `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits int    `json:"data_bits" mapstructure:"data_bits"`
	StopBits int    `json:"stop_bits" mapstructure:"stop_bits"`
	Parity   string `json:"parity" mapstructure:"parity"`

	// Timeout is the default overall deadline for one operation.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// AttemptTimeout bounds a single raw I/O attempt. Zero derives
	// Timeout / (Retries + 1) so every retry gets a fair share of the
	// operation budget.
	AttemptTimeout time.Duration `json:"attempt_timeout" mapstructure:"attempt_timeout"`

	// Retries is the number of retries after the initial attempt.
	Retries int `json:"retries" mapstructure:"retries"`

	// Backoff is the delay schedule between retries.
	Backoff BackoffPolicy `json:"backoff" mapstructure:"backoff"`

	// ShutdownGrace bounds how long removal waits for an in-flight
	// operation before forcing closure. Zero means do not wait: removal
	// fails with Busy instead.
	ShutdownGrace time.Duration `json:"shutdown_grace" mapstructure:"shutdown_grace"`
}

// withDefaults fills unset fields with the package defaults.
func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = DefaultDataBits
	}
	if c.StopBits == 0 {
		c.StopBits = DefaultStopBits
	}
	if c.Parity == "" {
		c.Parity = DefaultParity
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Backoff.Kind == "" {
		c.Backoff.Kind = BackoffFixed
	}
	if c.Backoff.Delay == 0 {
		c.Backoff.Delay = DefaultBackoffDelay
	}
	if c.Backoff.MaxDelay == 0 {
		c.Backoff.MaxDelay = DefaultBackoffMax
	}
	return c
}

// validate checks the configuration for structural validity.
func (c ConnectionConfig) validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate must be positive, got %d", ErrInvalidConfig, c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("%w: data bits must be 5..8, got %d", ErrInvalidConfig, c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("%w: stop bits must be 1 or 2, got %d", ErrInvalidConfig, c.StopBits)
	}
	switch c.Parity {
	case "none", "odd", "even":
	default:
		return fmt.Errorf("%w: parity must be none, odd or even, got %q", ErrInvalidConfig, c.Parity)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidConfig, c.Timeout)
	}
	if c.AttemptTimeout < 0 {
		return fmt.Errorf("%w: attempt timeout must not be negative, got %s", ErrInvalidConfig, c.AttemptTimeout)
	}
	if c.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative, got %d", ErrInvalidConfig, c.Retries)
	}
	switch c.Backoff.Kind {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("%w: unknown backoff kind %q", ErrInvalidConfig, c.Backoff.Kind)
	}
	if c.Backoff.Delay <= 0 {
		return fmt.Errorf("%w: backoff delay must be positive, got %s", ErrInvalidConfig, c.Backoff.Delay)
	}
	if c.Backoff.MaxDelay < c.Backoff.Delay {
		return fmt.Errorf("%w: backoff max delay %s below base delay %s",
			ErrInvalidConfig, c.Backoff.MaxDelay, c.Backoff.Delay)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("%w: shutdown grace must not be negative, got %s", ErrInvalidConfig, c.ShutdownGrace)
	}
	return nil
}
