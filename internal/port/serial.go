// internal/port/serial.go
package port

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// serialHandle wraps a go.bug.st/serial port as a Handle.
type serialHandle struct {
	port serial.Port
}

// Open opens a physical or virtual serial port with the given settings.
// Buffers are flushed right after opening to guarantee emptiness before
// the first write.
func Open(settings Settings) (Handle, error) {
	if settings.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidSettings)
	}

	mode := &serial.Mode{
		BaudRate: settings.BaudRate,
		DataBits: settings.DataBits,
	}

	switch settings.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: unsupported stop bits %d", ErrInvalidSettings, settings.StopBits)
	}

	switch settings.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("%w: unsupported parity %q", ErrInvalidSettings, settings.Parity)
	}

	p, err := serial.Open(settings.Path, mode)
	if err != nil {
		return nil, mapPortError(err)
	}

	if err := p.SetReadTimeout(settings.Timeout); err != nil {
		p.Close()
		return nil, mapPortError(err)
	}

	h := &serialHandle{port: p}
	if err := h.Flush(); err != nil {
		p.Close()
		return nil, err
	}

	return h, nil
}

func (h *serialHandle) Read(p []byte) (int, error) {
	n, err := h.port.Read(p)
	if err != nil {
		return n, mapPortError(err)
	}
	// go.bug.st/serial signals an expired read timeout with a zero-byte
	// read and a nil error.
	if n == 0 {
		return 0, ErrReadTimeout
	}
	return n, nil
}

func (h *serialHandle) Write(p []byte) (int, error) {
	n, err := h.port.Write(p)
	if err != nil {
		return n, mapPortError(err)
	}
	return n, nil
}

func (h *serialHandle) SetReadTimeout(d time.Duration) error {
	if err := h.port.SetReadTimeout(d); err != nil {
		return mapPortError(err)
	}
	return nil
}

// Flush discards both the input and output buffers.
func (h *serialHandle) Flush() error {
	if err := h.port.ResetInputBuffer(); err != nil {
		return mapPortError(err)
	}
	if err := h.port.ResetOutputBuffer(); err != nil {
		return mapPortError(err)
	}
	return nil
}

func (h *serialHandle) Close() error {
	if err := h.port.Close(); err != nil {
		return mapPortError(err)
	}
	return nil
}

// mapPortError translates go.bug.st/serial error codes onto the package
// sentinel errors so the layers above never see library types.
func mapPortError(err error) error {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return err
	}

	switch portErr.Code() {
	case serial.PortNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, portErr.Error())
	case serial.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, portErr.Error())
	case serial.PortBusy:
		return fmt.Errorf("%w: %s", ErrBusy, portErr.Error())
	case serial.PortClosed:
		return fmt.Errorf("%w: %s", ErrClosed, portErr.Error())
	case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity,
		serial.InvalidStopBits, serial.InvalidTimeoutValue:
		return fmt.Errorf("%w: %s", ErrInvalidSettings, portErr.Error())
	default:
		return err
	}
}
