package email

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// charset pairs the name we write into Content-Type parameters and
// encoded-words with the transcoder for it.
type charset struct {
	name string
	enc  encoding.Encoding
}

// lookupCharset resolves a user-supplied label like "utf8", "latin1" or
// "ISO-2022-JP". IANA names and aliases are tried first. WHATWG labels come
// second, since they cover common spellings IANA doesn't register, e.g.
// "utf8".
func lookupCharset(label string) (charset, error) {
	l := strings.TrimSpace(label)
	if l == "" {
		return charset{}, errors.New("no charset given")
	}

	enc, err := ianaindex.MIME.Encoding(l)
	// A nil Encoding with a nil error means IANA knows the name but x/text
	// can't transcode it.
	if err != nil || enc == nil {
		enc, err = htmlindex.Get(l)
		if err != nil {
			return charset{}, fmt.Errorf("unknown charset %q", label)
		}
	}

	name, err := ianaindex.MIME.Name(enc)
	if err != nil {
		name, err = htmlindex.Name(enc)
		if err != nil {
			return charset{}, fmt.Errorf("charset %q has no MIME name", label)
		}
	}

	// Headers and line breaks are written as ASCII, so charsets like UTF-16
	// that change the width of ASCII text can't be used.
	if a, err := enc.NewEncoder().String("a\r\n"); err != nil || a != "a\r\n" {
		return charset{}, fmt.Errorf("charset %v is not ASCII compatible", name)
	}

	return charset{name: name, enc: enc}, nil
}

func (c charset) isUTF8() bool {
	return strings.EqualFold(c.name, "UTF-8")
}

// encode transcodes UTF-8 text into the charset. It fails rather than
// substituting when a rune has no representation.
func (c charset) encode(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", errors.New("text is not valid UTF-8")
	}
	if c.isUTF8() {
		return s, nil
	}
	out, err := c.enc.NewEncoder().String(s)
	if err != nil {
		return "", fmt.Errorf("text can't be represented in %v: %v", c.name, err)
	}
	return out, nil
}

// needsEncoding reports whether s has bytes outside printable ASCII, the
// same test the mime package makes before writing an encoded-word.
func needsEncoding(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if (b < ' ' || b > '~') && b != '\t' {
			return true
		}
	}
	return false
}

// CharsetReader converts input in the named charset to UTF-8. It has the
// signature expected by mime.WordDecoder and mail.Message consumers, and
// knows every charset BuildMessage can write.
func CharsetReader(label string, input io.Reader) (io.Reader, error) {
	c, err := lookupCharset(label)
	if err != nil {
		return nil, err
	}
	return c.enc.NewDecoder().Reader(input), nil
}

var headerDecoder = &mime.WordDecoder{CharsetReader: CharsetReader}

// DecodeHeader reverses the encoded-words BuildMessage writes into header
// values. Values without encoded-words are returned unchanged.
func DecodeHeader(v string) (string, error) {
	return headerDecoder.DecodeHeader(v)
}
