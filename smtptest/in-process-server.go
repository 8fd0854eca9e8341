package smtptest

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-smtp"
)

// Envelope is a message the server accepted, along with the addresses the
// client gave in MAIL FROM and RCPT TO.
type Envelope struct {
	From    string
	To      []string
	Data    string
	created time.Time
}

// Backend implements smtp.Backend. It checks credentials and hands each
// authenticated connection its own session.
type Backend struct {
	store *InMemoryEmailStore
	opts  options
}

// Login implements smtp.Backend. With WithCredentials, only the matching
// username and password are accepted. Otherwise any non-empty pair is fine,
// since we don't want to couple this with specific test configurations.
func (be *Backend) Login(_ *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	if username == "" || password == "" ||
		(be.opts.username != "" && (username != be.opts.username || password != be.opts.password)) {
		return nil, &smtp.SMTPError{
			Code:         535,
			EnhancedCode: smtp.EnhancedCode{5, 7, 8},
			Message:      "Authentication credentials invalid",
		}
	}
	return &session{store: be.store, opts: be.opts}, nil
}

// AnonymousLogin implements smtp.Backend. Not supported since we want to
// enforce AUTH.
func (be *Backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	return nil, smtp.ErrAuthRequired
}

// session implements smtp.Session for one authenticated connection.
type session struct {
	store *InMemoryEmailStore
	opts  options
	from  string
	to    []string
}

// Reset implements smtp.Session.
func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

// Logout implements smtp.Session. No-op here.
func (s *session) Logout() error { return nil }

// Mail implements smtp.Session.
func (s *session) Mail(from string, _ smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt implements smtp.Session. Recipients named with WithRejectedRecipient
// get a permanent failure.
func (s *session) Rcpt(to string) error {
	for _, r := range s.opts.rejected {
		if r == to {
			return &smtp.SMTPError{
				Code:         550,
				EnhancedCode: smtp.EnhancedCode{5, 1, 1},
				Message:      "Mailbox unavailable",
			}
		}
	}
	s.to = append(s.to, to)
	return nil
}

// Data implements smtp.Session. Stores the message in memory for retrieval
// at the end of the test.
func (s *session) Data(r io.Reader) error {
	// doubtful we'll get an email this big, but we need a limit
	var maxEmailSize int64 = 100 * units.MiB
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}

	s.store.saveEmail(Envelope{
		From: s.from,
		To:   append([]string(nil), s.to...),
		Data: string(buf),
	})
	return nil
}

// InMemoryEmailStore retains accepted messages in memory for comparison
// against a test's expected output. Goroutine safe, since every client
// connection gets its own goroutine in the server.
type InMemoryEmailStore struct {
	mu       sync.Mutex
	messages []Envelope
}

// saveEmail stores the message along with a timestamp created just prior
// to saving
func (es *InMemoryEmailStore) saveEmail(e Envelope) {
	es.mu.Lock()
	defer es.mu.Unlock()

	e.created = time.Now()
	es.messages = append(es.messages, e)
}

// RetrieveEmails returns a slice of all message payloads (as strings)
// sent after epoch nanoseconds t.
// Satisfies smtptest.Server but isn't expected to return an error.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]string, 0, len(es.messages))
	for _, m := range es.messages {
		if m.created.UnixNano() >= t {
			r = append(r, m.Data)
		}
	}
	return r, nil
}

// Envelopes returns every message accepted so far, oldest first.
func (es *InMemoryEmailStore) Envelopes() []Envelope {
	es.mu.Lock()
	defer es.mu.Unlock()

	return append([]Envelope(nil), es.messages...)
}

type options struct {
	username     string
	password     string
	rejected     []string
	insecureAuth bool
	noTLS        bool
}

// Option changes how an InProcessServer behaves.
type Option func(*options)

// WithCredentials restricts AUTH to a single username and password.
func WithCredentials(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

// WithRejectedRecipient makes RCPT TO fail with a 550 for addr.
func WithRejectedRecipient(addr string) Option {
	return func(o *options) {
		o.rejected = append(o.rejected, addr)
	}
}

// WithInsecureAuth allows AUTH on connections that were never upgraded to
// TLS.
func WithInsecureAuth() Option {
	return func(o *options) {
		o.insecureAuth = true
	}
}

// WithoutTLS stops the server from advertising STARTTLS.
func WithoutTLS() Option {
	return func(o *options) {
		o.noTLS = true
	}
}

// InProcessServer is a Server that runs in the same process as the test
// suite, letting us inspect sent emails. You must initialize this via
// NewInProcessServer.
type InProcessServer struct {
	*smtp.Server
	*InMemoryEmailStore
	listener net.Listener
}

// NewInProcessServer creates an InProcessServer, including configuring
// its SMTP server to store incoming messages in memory. files supplies the
// certificate offered on STARTTLS and is unused WithoutTLS.
func NewInProcessServer(files TLSFiles, opts ...Option) *InProcessServer {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	is := &InMemoryEmailStore{}

	srv := smtp.NewServer(&Backend{
		store: is,
		opts:  o,
	})

	srv.Domain = "localhost"
	srv.AllowInsecureAuth = o.insecureAuth
	srv.AuthDisabled = false // need AUTH here
	// Strict enforces <address> syntax in MAIL and RCPT:
	// https://github.com/emersion/go-smtp/blob/f92bf7f1a25777bcdaa28a142b1cd1a54b74c8f4/conn.go#L321-L325
	srv.Strict = true
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second

	if !o.noTLS {
		tlsc, err := files.serverConfig()

		// No way to carry on without a cert, so we panic. We're in a test
		// suite, so this should be fine.
		if err != nil {
			panic(err)
		}
		srv.TLSConfig = tlsc
	}

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: is,
	}
}

// Start listens on an ephemeral loopback port and serves in the
// background. Not using ListenAndServeTLS: the client should upgrade the
// connection to TLS.
func (is *InProcessServer) Start() error {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	is.listener = l
	is.Server.Addr = l.Addr().String()

	go is.Server.Serve(l)
	return nil
}

// Close shuts down the test server. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
}

// Address returns the host:port of the test SMTP server. Only valid after
// Start.
func (is *InProcessServer) Address() string {
	return is.listener.Addr().String()
}

// Port returns the port the server listens on. Only valid after Start.
func (is *InProcessServer) Port() int {
	return is.listener.Addr().(*net.TCPAddr).Port
}
