// internal/port/port.go
package port

import (
	"errors"
	"time"
)

// Handle is a single open serial link capable of raw byte I/O.
// Exactly one owner is assumed; serialization happens above this layer.
type Handle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(d time.Duration) error
	Flush() error
	Close() error
}

// Settings describes the link parameters used to open a port.
type Settings struct {
	Path     string        `json:"path"`
	BaudRate int           `json:"baud_rate"`
	DataBits int           `json:"data_bits"`
	StopBits int           `json:"stop_bits"`
	Parity   string        `json:"parity"`
	Timeout  time.Duration `json:"timeout"`
}

// Opener opens a Handle for the given settings. The production opener talks
// to real hardware; tests substitute a fake.
type Opener func(Settings) (Handle, error)

// Predefined low-level port errors
var (
	ErrNotFound         = errors.New("serial device not found")
	ErrPermissionDenied = errors.New("permission denied accessing serial device")
	ErrBusy             = errors.New("serial device already in use")
	ErrClosed           = errors.New("serial port is closed")
	ErrReadTimeout      = errors.New("read operation timed out")
	ErrInvalidSettings  = errors.New("invalid serial settings")
)

// Info describes one enumerated serial port with its default link parameters.
type Info struct {
	Name        string `json:"name"`
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	FlowControl string `json:"flow_control"`
}
