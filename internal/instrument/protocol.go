package instrument

// Protocol is the capability both instrument drivers share: a raw
// write/read exchange, a validated query, and identity.
//
// Implementations are not safe for concurrent use. The serial link is half
// duplex, so a caller with several goroutines must serialise access to one
// driver itself.
type Protocol interface {
	// Name returns the human-readable instrument name.
	Name() string
	// Write sends one command frame and returns the trimmed reply line.
	Write(command string) (string, error)
	// Query performs the device's validated request/response exchange.
	Query(command string) (Result[string], error)
	// Version returns the firmware or software version string.
	Version() (Result[string], error)
	// SelfTest reads the version and checks it against the expected
	// model identifier. A mismatch is a diagnostic, not an error.
	SelfTest() (Result[string], error)
	// Close releases the underlying transport.
	Close() error
}
