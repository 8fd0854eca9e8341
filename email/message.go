package email

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/idna"
	gomail "gopkg.in/gomail.v2"
)

const (
	// DefaultSender is used when neither the Request nor the RelayConfig
	// names a sender.
	DefaultSender = "Infinit <no-reply@infinit.io>"
	// DefaultEncoding is the charset label used when a Request leaves
	// Encoding empty.
	DefaultEncoding = "utf8"

	// RFC 5322 section 2.1.1, not counting the CRLF
	maxLineLength = 998
)

// now is swapped in tests that need a stable Date header.
var now = time.Now

// Request is a single notification to deliver. To and From are RFC 5322
// addresses, optionally with a display name, e.g. "Jane <jane@example.com>".
// Body is plain text. Encoding is a charset label such as "utf8" or
// "iso-8859-1" used for the body and for any non-ASCII header text.
type Request struct {
	To       string
	Subject  string
	Body     string
	From     string
	Encoding string
}

// Message is the wire form of a Request. It only lives for the duration of
// one send.
type Message struct {
	// Bare addr-specs used for MAIL FROM and RCPT TO. These are never
	// the encoded header text.
	EnvelopeFrom string
	EnvelopeTo   string
	// Header holds the fields as written, with folded lines joined
	Header mail.Header
	// Transfer-encoded, with CRLF line endings
	Body []byte

	raw []byte
}

// Get returns the first value of the named header field, or "" if it isn't
// present.
func (m *Message) Get(name string) string {
	return m.Header.Get(name)
}

// Bytes returns the message as it is sent after DATA.
func (m *Message) Bytes() []byte {
	return m.raw
}

// WriteTo implements io.WriterTo.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m.raw)
	return int64(n), err
}

// BuildMessage turns r into a single-part text/plain message. Empty From
// and Encoding fields take DefaultSender and DefaultEncoding. A printable
// ASCII subject is written verbatim and ASCII display names are quoted.
// Anything else is written as RFC 2047 encoded-words in r.Encoding. Long header values are folded,
// and a value with a word that can't be folded under the RFC 5322 line
// limit is rejected. Errors are *DeliveryErrors with StageEncode.
func BuildMessage(r Request) (*Message, error) {
	if r.From == "" {
		r.From = DefaultSender
	}
	if r.Encoding == "" {
		r.Encoding = DefaultEncoding
	}

	cs, err := lookupCharset(r.Encoding)
	if err != nil {
		return nil, fail(StageEncode, err)
	}

	for _, f := range []struct{ name, value string }{
		{"Subject", r.Subject},
		{"From", r.From},
		{"To", r.To},
	} {
		if strings.ContainsAny(f.value, "\r\n") {
			return nil, encodingErrorf("the %v header can't contain line breaks", f.name)
		}
	}

	from, err := parseAddress(cs, r.From)
	if err != nil {
		return nil, encodingErrorf("can't encode the sender: %v", err)
	}

	to, err := parseAddress(cs, r.To)
	if err != nil {
		return nil, encodingErrorf("can't encode the recipient: %v", err)
	}

	subject, err := cs.encode(r.Subject)
	if err != nil {
		return nil, encodingErrorf("can't encode the subject: %v", err)
	}

	body, enc, err := encodeBody(cs, r.Body)
	if err != nil {
		return nil, encodingErrorf("can't encode the body: %v", err)
	}

	gm := gomail.NewMessage(gomail.SetCharset(cs.name), gomail.SetEncoding(enc))
	gm.SetDateHeader("Date", now())
	gm.SetHeader("Message-ID", messageID(from.envelope))
	// Values are already in the charset. gomail only adds the
	// encoded-words.
	gm.SetHeader("Subject", subject)
	gm.SetAddressHeader("From", from.envelope, from.name)
	gm.SetAddressHeader("To", to.envelope, to.name)
	gm.SetBody("text/plain", body)

	var buf bytes.Buffer
	if _, err := gm.WriteTo(&buf); err != nil {
		return nil, encodingErrorf("can't write the message: %v", err)
	}
	raw := buf.Bytes()

	if err := checkHeaderLines(raw); err != nil {
		return nil, fail(StageEncode, err)
	}

	// Reading our own output back gives the unfolded values.
	pm, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, encodingErrorf("can't read back the message header: %v", err)
	}
	b, err := io.ReadAll(pm.Body)
	if err != nil {
		return nil, encodingErrorf("can't read back the message body: %v", err)
	}

	return &Message{
		EnvelopeFrom: from.envelope,
		EnvelopeTo:   to.envelope,
		Header:       pm.Header,
		Body:         b,
		raw:          raw,
	}, nil
}

// checkHeaderLines fails if the header block has a line over the RFC 5322
// limit. gomail folds at spaces only, so a single long word stays on one
// line. That includes any encoded-word outside UTF-8, since the mime
// encoder only splits UTF-8 words.
// TODO: split non-UTF-8 encoded-words at character boundaries so long
// Latin-1 or Shift_JIS subjects fold too.
func checkHeaderLines(raw []byte) error {
	end := bytes.Index(raw, []byte("\r\n\r\n"))
	if end < 0 {
		end = len(raw)
	}
	var field string
	for _, l := range bytes.Split(raw[:end], []byte("\r\n")) {
		if len(l) > 0 && l[0] != ' ' && l[0] != '\t' {
			if i := bytes.IndexByte(l, ':'); i > 0 {
				field = string(l[:i])
			}
		}
		if len(l) > maxLineLength {
			return fmt.Errorf(
				"a line of the %v header is %v octets, over the %v octet limit, and has no space to fold at",
				field, len(l), maxLineLength,
			)
		}
	}
	return nil
}

// address is a parsed header address. name is already in the message
// charset.
type address struct {
	name     string
	envelope string
}

// parseAddress splits raw into a display name and the envelope form of
// its addr-spec. Only the display name is ever encoded: encoded-words
// aren't allowed inside an addr-spec.
func parseAddress(cs charset, raw string) (address, error) {
	raw = strings.TrimSpace(raw)
	a, err := mail.ParseAddress(raw)
	if err != nil {
		return address{}, fmt.Errorf("can't parse %q as an email address: %v", raw, err)
	}

	envelope, err := envelopeAddress(a.Address)
	if err != nil {
		return address{}, err
	}

	name, err := cs.encode(a.Name)
	if err != nil {
		return address{}, err
	}
	return address{name: name, envelope: envelope}, nil
}

// envelopeAddress converts an addr-spec into the form used in MAIL FROM
// and RCPT TO. Internationalized domains are converted to their ASCII
// (punycode) form. Non-ASCII local parts would need SMTPUTF8, which we
// don't negotiate.
func envelopeAddress(addr string) (string, error) {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", fmt.Errorf("%q is not an addr-spec", addr)
	}
	local, domain := addr[:at], addr[at+1:]

	if needsEncoding(local) {
		return "", fmt.Errorf("the local part of %q must be ASCII", addr)
	}

	if needsEncoding(domain) {
		d, err := idna.Lookup.ToASCII(domain)
		if err != nil {
			return "", fmt.Errorf("can't convert the domain %q to ASCII: %v", domain, err)
		}
		domain = d
	}

	// mail.Address re-quotes local parts like "john doe" that
	// ParseAddress unquoted.
	s := (&mail.Address{Address: local + "@" + domain}).String()
	return strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">"), nil
}

// messageID builds a globally unique Message-ID on the sender's domain.
func messageID(envFrom string) string {
	domain := envFrom[strings.LastIndex(envFrom, "@")+1:]
	return fmt.Sprintf("<%v@%v>", uuid.NewString(), domain)
}

// encodeBody transcodes the body into the charset, normalizes line breaks
// to CRLF and picks a transfer encoding: none when the result is
// short-lined ASCII, quoted-printable otherwise. gomail labels the first
// case 8bit.
func encodeBody(cs charset, body string) (string, gomail.Encoding, error) {
	text := strings.ReplaceAll(body, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\n", "\r\n")

	b, err := cs.encode(text)
	if err != nil {
		return "", "", err
	}

	if is7bit(b) {
		return b, gomail.Unencoded, nil
	}
	return b, gomail.QuotedPrintable, nil
}

// is7bit reports whether s can be sent without a transfer encoding
// (RFC 2045 section 2.7). Line breaks must already be CRLF.
func is7bit(s string) bool {
	for _, l := range strings.Split(s, "\r\n") {
		if len(l) > maxLineLength {
			return false
		}
		for i := 0; i < len(l); i++ {
			if l[i] == 0 || l[i] > 127 || l[i] == '\r' || l[i] == '\n' {
				return false
			}
		}
	}
	return true
}
