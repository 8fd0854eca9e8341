package smtptest

// Server contains state information for an SMTP relay used in tests. The
// relay should be able to return the payloads of messages sent to it
// during the test. The relay is meant to start during a test (or test
// suite) and stop right after.
type Server interface {
	// Start launches the relay and returns once it accepts connections, or
	// returns an error if this fails. Retry behavior is left to the caller.
	Start() error

	// Close stops the relay and releases its resources. While this is
	// designed not to return an error so it's easier to use with defer,
	// implementations should log failures to close.
	Close()

	// RetrieveEmails returns the payloads of all email messages sent to the
	// relay after time t in Unix epoch nanoseconds.
	RetrieveEmails(t int64) ([]string, error)

	// Address returns the host:port of the relay.
	Address() string
}

var _ Server = &InProcessServer{}
