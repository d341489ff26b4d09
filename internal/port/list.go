// internal/port/list.go
package port

import (
	"fmt"

	"go.bug.st/serial"
)

// Default link parameters reported for enumerated ports.
const (
	DefaultBaudRate = 9600
	DefaultDataBits = 8
	DefaultStopBits = 1
	DefaultParity   = "none"
)

// List enumerates the serial ports available on this system. Each entry
// carries the default link parameters; actual parameters are chosen by the
// caller at connection time.
func List() ([]Info, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	infos := make([]Info, 0, len(names))
	for _, name := range names {
		infos = append(infos, Info{
			Name:        name,
			BaudRate:    DefaultBaudRate,
			DataBits:    DefaultDataBits,
			StopBits:    DefaultStopBits,
			Parity:      DefaultParity,
			FlowControl: "none",
		})
	}

	return infos, nil
}
