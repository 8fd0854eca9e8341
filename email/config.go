package email

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/units"
)

const (
	smtpScheme  string = "smtp"
	smtpsScheme string = "smtps"

	// Bounds dialing and the whole session when the caller's context has
	// no earlier deadline.
	defaultTimeout = time.Duration(30) * time.Second
)

// TLSMode controls how the connection to the relay is secured.
type TLSMode string

const (
	// TLSModeStartTLS upgrades a plaintext connection with STARTTLS. The
	// relay must advertise the extension, otherwise the send fails.
	TLSModeStartTLS TLSMode = "starttls"
	// TLSModeImplicit speaks TLS from the first byte, as on port 465.
	TLSModeImplicit TLSMode = "tls"
	// TLSModeNone sends credentials and mail in the clear. It must be
	// chosen explicitly.
	TLSModeNone TLSMode = "none"
)

// RelayConfig represents the options for reaching the SMTP relay. Read it
// from user input with UnmarshalYAML, then validate it with
// CheckAndSetDefaults before handing it to NewNotifier. A Notifier never
// modifies its RelayConfig.
type RelayConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// Used when a Request doesn't name a sender
	FromAddress string
	TLSMode     TLSMode
	// Accept any certificate the relay presents. Only meant for testing
	// against self-signed relays.
	SkipCertVerification bool
	// Path to a PEM bundle used instead of the system roots when verifying
	// the relay's certificate
	CACertPath string
	Timeout    time.Duration
	// Messages larger than this are refused before connecting. Zero means
	// no local limit.
	MaxMessageBytes int64
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors. Checks that need the whole document, such as required
// fields, happen in CheckAndSetDefaults, since credentials may also come
// from the environment.
func (rc *RelayConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the email config: %v", err)
	}

	if a, ok := v["relayAddress"]; ok {
		host, port, implicitTLS, err := parseRelayAddress(a)
		if err != nil {
			return err
		}
		rc.Host = host
		rc.Port = port
		if implicitTLS {
			rc.TLSMode = TLSModeImplicit
		}
	}

	rc.Username = v["username"]
	rc.Password = v["password"]
	rc.FromAddress = v["fromAddress"]
	rc.CACertPath = v["caCert"]

	if m, ok := v["tls"]; ok {
		rc.TLSMode = TLSMode(strings.ToLower(strings.TrimSpace(m)))
	}

	if s, ok := v["skipCertVerification"]; ok {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("can't parse skipCertVerification as a boolean: %v", err)
		}
		rc.SkipCertVerification = b
	}

	if t, ok := v["timeout"]; ok {
		d, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("can't parse the relay timeout as a duration: %v", err)
		}
		rc.Timeout = d
	}

	if s, ok := v["maxMessageSize"]; ok {
		// Accepts both "10MiB" and "10MB", with the usual base 2/base 10
		// meanings.
		b, err := units.ParseStrictBytes(s)
		if err != nil {
			return fmt.Errorf("can't parse maxMessageSize as a byte size: %v", err)
		}
		rc.MaxMessageBytes = b
	}

	return nil
}

// parseRelayAddress splits a relay address into its host and port. Don't
// require the user to include a scheme. If we can't find one, use the one
// for SMTP. The smtps scheme means the relay expects implicit TLS.
func parseRelayAddress(s string) (host string, port int, implicitTLS bool, err error) {
	ra := s
	if !strings.Contains(ra, "://") {
		ra = smtpScheme + "://" + ra
	}

	u, err := url.Parse(ra)
	if err != nil {
		return "", 0, false, fmt.Errorf("can't parse the relay address: %v", err)
	}

	switch u.Scheme {
	case smtpScheme:
	case smtpsScheme:
		implicitTLS = true
	default:
		return "", 0, false, fmt.Errorf(
			"the relay address %v must use the %v or %v scheme",
			s, smtpScheme, smtpsScheme,
		)
	}

	if u.Hostname() == "" {
		return "", 0, false, fmt.Errorf("the relay address %v has no host", s)
	}

	if u.Port() == "" {
		return "", 0, false, fmt.Errorf("the relay address %v must include a port", s)
	}

	port, err = strconv.Atoi(u.Port())
	if err != nil {
		return "", 0, false, fmt.Errorf("can't parse the relay port: %v", err)
	}

	return u.Hostname(), port, implicitTLS, nil
}

// CheckAndSetDefaults validates rc and either returns a copy of rc with
// default settings applied or returns an error due to an invalid
// configuration
func (rc *RelayConfig) CheckAndSetDefaults() (RelayConfig, error) {
	c := *rc

	if c.Host == "" {
		return RelayConfig{}, errors.New("must supply a relay address")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return RelayConfig{}, fmt.Errorf("the relay port %v is out of range", c.Port)
	}

	if c.Username == "" || c.Password == "" {
		return RelayConfig{}, errors.New("must supply a username and password")
	}

	switch c.TLSMode {
	case "":
		c.TLSMode = TLSModeStartTLS
	case TLSModeStartTLS, TLSModeImplicit, TLSModeNone:
	default:
		return RelayConfig{}, fmt.Errorf(
			"unknown TLS mode %q: expecting %q, %q or %q",
			c.TLSMode, TLSModeStartTLS, TLSModeImplicit, TLSModeNone,
		)
	}

	if c.Timeout < 0 {
		return RelayConfig{}, errors.New("the relay timeout can't be negative")
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}

	if c.MaxMessageBytes < 0 {
		return RelayConfig{}, errors.New("the maximum message size can't be negative")
	}

	if c.FromAddress == "" {
		c.FromAddress = DefaultSender
	}

	// Fail at startup rather than on the first send.
	if _, err := c.tlsConfig(); err != nil {
		return RelayConfig{}, err
	}

	return c, nil
}

// Address returns the host:port of the relay.
func (rc RelayConfig) Address() string {
	return net.JoinHostPort(rc.Host, strconv.Itoa(rc.Port))
}

// tlsConfig builds the client TLS settings used for both STARTTLS and
// implicit TLS.
func (rc RelayConfig) tlsConfig() (*tls.Config, error) {
	c := &tls.Config{
		ServerName:         rc.Host,
		InsecureSkipVerify: rc.SkipCertVerification,
		MinVersion:         tls.VersionTLS12,
	}

	if rc.CACertPath == "" {
		return c, nil
	}

	pem, err := os.ReadFile(rc.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("can't read the relay CA certificate: %v", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no PEM certificates found in %v", rc.CACertPath)
	}
	c.RootCAs = pool

	return c, nil
}
