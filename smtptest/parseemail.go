package smtptest

import (
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// ParsedMessage is a message payload split into its header and its
// transfer-decoded body. The body is still in the message's charset.
type ParsedMessage struct {
	Header mail.Header
	Body   []byte
}

// Charset returns the charset parameter of the Content-Type header, or ""
// if there isn't one.
func (p ParsedMessage) Charset() string {
	_, params, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return params["charset"]
}

// ParseMessage reads a payload returned by RetrieveEmails. If a test is
// failing here, check that the payload has a header section followed by a
// blank line.
func ParseMessage(payload string) (ParsedMessage, error) {
	m, err := mail.ReadMessage(strings.NewReader(payload))
	if err != nil {
		return ParsedMessage{}, err
	}

	var r io.Reader = m.Body
	if strings.EqualFold(m.Header.Get("Content-Transfer-Encoding"), "quoted-printable") {
		r = quotedprintable.NewReader(r)
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return ParsedMessage{}, err
	}

	return ParsedMessage{
		Header: m.Header,
		Body:   b,
	}, nil
}
