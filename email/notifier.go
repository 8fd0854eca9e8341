package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Session is the part of an SMTP client session a Notifier uses.
// *smtp.Client from github.com/emersion/go-smtp satisfies it.
type Session interface {
	Auth(a sasl.Client) error
	Mail(from string, opts *smtp.MailOptions) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	// Quit sends QUIT and closes the connection
	Quit() error
	// Close drops the connection without QUIT
	Close() error
}

// Dialer opens a Session with the relay, including any TLS negotiation. It
// must not return a non-nil Session along with an error.
type Dialer func(ctx context.Context, rc RelayConfig) (Session, error)

// Notifier delivers Requests through one SMTP relay. It holds no mutable
// state, so Send may be called from multiple goroutines. Each call opens
// its own connection.
type Notifier struct {
	relay RelayConfig
	dial  Dialer
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithDialer replaces DialRelay, e.g. with a test double.
func WithDialer(d Dialer) Option {
	return func(n *Notifier) {
		n.dial = d
	}
}

// NewNotifier returns a Notifier for the relay. rc should be the result of
// RelayConfig.CheckAndSetDefaults.
func NewNotifier(rc RelayConfig, opts ...Option) *Notifier {
	n := &Notifier{
		relay: rc,
		dial:  DialRelay,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Relay returns the configuration the Notifier was built with.
func (n *Notifier) Relay() RelayConfig {
	return n.relay
}

// Send builds the message for r and submits it to the relay in a single
// attempt. A nil error means the relay accepted the message for delivery.
// Any failure is a *DeliveryError: compare it against ErrEncoding,
// ErrConnection, ErrAuthentication and ErrSubmission with errors.Is. The
// whole attempt is bounded by the relay's Timeout and by ctx. Send never
// retries, and the connection is always released before it returns.
func (n *Notifier) Send(ctx context.Context, r Request) error {
	if r.From == "" {
		r.From = n.relay.FromAddress
	}

	m, err := BuildMessage(r)
	if err != nil {
		return err
	}
	size := len(m.Bytes())

	if n.relay.MaxMessageBytes > 0 && int64(size) > n.relay.MaxMessageBytes {
		return fail(StageSubmit, fmt.Errorf(
			"the message is %v bytes, over the %v byte limit",
			size, n.relay.MaxMessageBytes,
		))
	}

	timeout := n.relay.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s, err := n.dial(ctx, n.relay)
	if err != nil {
		return fail(StageConnect, interrupted(ctx, err))
	}
	// Commands block on the connection rather than ctx. Dropping the
	// connection is what unblocks them.
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer func() {
		if stop() {
			release(s)
		}
	}()

	if err := s.Auth(sasl.NewPlainClient("", n.relay.Username, n.relay.Password)); err != nil {
		return fail(StageAuthenticate, interrupted(ctx, err))
	}

	if err := submit(s, m.EnvelopeFrom, m.EnvelopeTo, size, m); err != nil {
		return fail(StageSubmit, interrupted(ctx, err))
	}

	return nil
}

// interrupted attaches ctx's error to err if ctx ended first, since err is
// then usually a closed connection.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	return fmt.Errorf("%w: %w", ctx.Err(), err)
}

// submit runs the MAIL, RCPT and DATA transaction for a single recipient.
func submit(s Session, from, to string, size int, msg io.WriterTo) error {
	if err := s.Mail(from, &smtp.MailOptions{Size: size}); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := s.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO rejected: %w", err)
	}
	w, err := s.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := msg.WriteTo(w); err != nil {
		w.Close()
		return fmt.Errorf("can't write the message: %w", err)
	}
	// The relay's verdict on the message arrives when the writer closes.
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}
	return nil
}

// release ends the session exactly once. QUIT is polite, but if the relay
// doesn't answer it we still need the socket gone.
func release(s Session) {
	if err := s.Quit(); err != nil {
		s.Close()
	}
}

// DialRelay is the default Dialer. It connects to rc.Address() and secures
// the connection according to rc.TLSMode. With TLSModeStartTLS, a relay
// that doesn't advertise STARTTLS is an error rather than a reason to
// continue in plaintext. No single read or write on the session waits
// longer than the earlier of the context's deadline and rc.Timeout from
// now.
func DialRelay(ctx context.Context, rc RelayConfig) (Session, error) {
	timeout := rc.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	tlsc, err := rc.tlsConfig()
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", rc.Address())
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}

	if rc.TLSMode == TLSModeImplicit {
		tc := tls.Client(conn, tlsc)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		conn = tc
	}

	// NewClient closes the connection itself if the greeting fails.
	c, err := smtp.NewClient(conn, rc.Host)
	if err != nil {
		return nil, err
	}
	// The client replaces the connection deadline before every command,
	// so bound each command by what is left of ours.
	c.CommandTimeout = time.Until(deadline)
	c.SubmissionTimeout = c.CommandTimeout

	if rc.TLSMode != TLSModeStartTLS {
		return c, nil
	}

	if ok, _ := c.Extension("STARTTLS"); !ok {
		c.Close()
		return nil, errors.New("the relay does not offer STARTTLS")
	}
	if err := c.StartTLS(tlsc); err != nil {
		c.Close()
		return nil, fmt.Errorf("STARTTLS failed: %w", err)
	}

	return c, nil
}
