// pkg/behavior/line.go
package behavior

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrProtocol marks a device framing violation detected by a behavior.
var ErrProtocol = errors.New("protocol framing error")

// LineFraming frames each logical payload as a terminated line, the common
// convention for command/response serial devices. Writes get the terminator
// appended; reads must end with it or decoding fails.
type LineFraming struct {
	terminator []byte
}

// NewLineFraming creates a line-framed behavior. An empty terminator
// defaults to CRLF.
func NewLineFraming(terminator string) *LineFraming {
	if terminator == "" {
		terminator = "\r\n"
	}
	return &LineFraming{terminator: []byte(terminator)}
}

// Name returns the behavior name.
func (*LineFraming) Name() string {
	return "line-framing"
}

// Encode appends the line terminator unless the payload already carries one.
func (lf *LineFraming) Encode(payload []byte) ([]byte, error) {
	if bytes.HasSuffix(payload, lf.terminator) {
		return payload, nil
	}

	framed := make([]byte, 0, len(payload)+len(lf.terminator))
	framed = append(framed, payload...)
	framed = append(framed, lf.terminator...)
	return framed, nil
}

// Decode strips the line terminator from a device response.
func (lf *LineFraming) Decode(raw []byte) ([]byte, error) {
	if !bytes.HasSuffix(raw, lf.terminator) {
		return nil, fmt.Errorf("%w: response missing %q terminator", ErrProtocol, lf.terminator)
	}
	return raw[:len(raw)-len(lf.terminator)], nil
}

// Classify defers every error to the core policy.
func (*LineFraming) Classify(error) ErrorClass {
	return ClassDefault
}
