// pkg/behavior/behavior.go
package behavior

// ErrorClass is a behavior's verdict on how the pipeline should treat an
// I/O error raised while talking to its device.
type ErrorClass int

const (
	// ClassDefault defers to the core policy table.
	ClassDefault ErrorClass = iota
	// ClassTransient marks the error retryable up to the configured limit.
	ClassTransient
	// ClassFatal fails the operation immediately, no retry.
	ClassFatal
)

// Behavior is the extension point device-specific modules implement to plug
// their framing into the operation pipeline. Implementations are shared
// across connections and must be safe for concurrent use; stateless
// implementations are strongly preferred.
type Behavior interface {
	// Name identifies the behavior in logs and trace events.
	Name() string

	// Encode transforms a logical write payload into the raw bytes sent to
	// the device.
	Encode(payload []byte) ([]byte, error)

	// Decode transforms raw bytes received from the device into the logical
	// read result. A framing violation is reported as a protocol error.
	Decode(raw []byte) ([]byte, error)

	// Classify lets a device module override the transient/fatal retry
	// policy for I/O error classes it understands better than the core.
	// Return ClassDefault to keep the core's classification.
	Classify(err error) ErrorClass
}
