// pkg/behavior/passthrough.go
package behavior

// RawPassthrough is the default behavior: bytes go to and from the device
// unmodified. It is stateless and safe to share across connections.
type RawPassthrough struct{}

// NewRawPassthrough creates the identity behavior.
func NewRawPassthrough() *RawPassthrough {
	return &RawPassthrough{}
}

// Name returns the behavior name.
func (RawPassthrough) Name() string {
	return "raw-passthrough"
}

// Encode returns the payload unmodified.
func (RawPassthrough) Encode(payload []byte) ([]byte, error) {
	return payload, nil
}

// Decode returns the raw bytes unmodified.
func (RawPassthrough) Decode(raw []byte) ([]byte, error) {
	return raw, nil
}

// Classify defers every error to the core policy.
func (RawPassthrough) Classify(error) ErrorClass {
	return ClassDefault
}
