// Package templates holds the subjects and bodies of the notifications we
// send, along with the %(name)s interpolation they are written in.
package templates

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Template keys
const (
	Invitation     = "invitation"
	UserNewFile    = "user_new_file"
	UserInvitation = "user_invitation"
)

var (
	// ErrMissingParameter means a format names a parameter the caller
	// didn't supply.
	ErrMissingParameter = errors.New("missing template parameter")
	// ErrBadFormat means a format has a % that doesn't start a
	// %(name)s placeholder or a %% escape.
	ErrBadFormat = errors.New("malformed template placeholder")
	// ErrUnknownTemplate is returned by Lookup.
	ErrUnknownTemplate = errors.New("unknown template")
)

// Template is a subject and body format pair. Defaults supplies values for
// parameters the caller may leave out.
type Template struct {
	Key      string
	Subject  string
	Body     string
	Defaults map[string]string
}

var store = map[string]Template{
	Invitation: {
		Key:     Invitation,
		Subject: invitationSubject,
		Body:    invitationBody,
		// The signature separator is "-- " followed by a line break
		Defaults: map[string]string{"space": " "},
	},
	UserNewFile: {
		Key:     UserNewFile,
		Subject: userInvitationSubject,
		Body:    userNewFileBody,
	},
	UserInvitation: {
		Key:     UserInvitation,
		Subject: userInvitationSubject,
		Body:    userInvitationBody,
	},
}

// Lookup returns the template stored under key.
func Lookup(key string) (Template, error) {
	t, ok := store[key]
	if !ok {
		return Template{}, fmt.Errorf("%w %q: expecting one of %v", ErrUnknownTemplate, key, strings.Join(Keys(), ", "))
	}
	return t, nil
}

// Keys returns the keys of every stored template in lexical order.
func Keys() []string {
	k := make([]string, 0, len(store))
	for key := range store {
		k = append(k, key)
	}
	sort.Strings(k)
	return k
}

// Params returns the names of the parameters a caller has to supply,
// i.e. every placeholder in the subject or body without a default.
func (t Template) Params() []string {
	seen := map[string]bool{}
	var p []string
	for _, f := range []string{t.Subject, t.Body} {
		names, err := placeholders(f)
		if err != nil {
			continue
		}
		for _, n := range names {
			if _, ok := t.Defaults[n]; ok || seen[n] {
				continue
			}
			seen[n] = true
			p = append(p, n)
		}
	}
	sort.Strings(p)
	return p
}

// Render interpolates params into the subject and body. Values in params
// take precedence over t.Defaults.
func (t Template) Render(params map[string]string) (subject string, body string, err error) {
	p := make(map[string]string, len(t.Defaults)+len(params))
	for k, v := range t.Defaults {
		p[k] = v
	}
	for k, v := range params {
		p[k] = v
	}

	subject, err = Interpolate(t.Subject, p)
	if err != nil {
		return "", "", fmt.Errorf("can't render the subject of %v: %w", t.Key, err)
	}

	body, err = Interpolate(t.Body, p)
	if err != nil {
		return "", "", fmt.Errorf("can't render the body of %v: %w", t.Key, err)
	}

	return subject, body, nil
}

// Interpolate replaces each %(name)s in format with params[name] and each
// %% with %. Parameters that format doesn't mention are ignored. A
// placeholder without a matching parameter, or a % that starts neither
// form, is an error, so a successful result never contains a placeholder.
func Interpolate(format string, params map[string]string) (string, error) {
	var b strings.Builder
	err := scan(format, func(lit string, name string, isParam bool) error {
		if !isParam {
			b.WriteString(lit)
			return nil
		}
		v, ok := params[name]
		if !ok {
			return fmt.Errorf("%w %q", ErrMissingParameter, name)
		}
		b.WriteString(v)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// placeholders lists the parameter names in format in order of
// appearance, including repeats.
func placeholders(format string) ([]string, error) {
	var names []string
	err := scan(format, func(_ string, name string, isParam bool) error {
		if isParam {
			names = append(names, name)
		}
		return nil
	})
	return names, err
}

// scan splits format into literal text and placeholders, calling emit for
// each in order. An escaped %% is emitted as the literal "%".
func scan(format string, emit func(lit string, name string, isParam bool) error) error {
	for {
		i := strings.IndexByte(format, '%')
		if i < 0 {
			return emit(format, "", false)
		}
		if err := emit(format[:i], "", false); err != nil {
			return err
		}
		rest := format[i+1:]

		switch {
		case strings.HasPrefix(rest, "%"):
			if err := emit("%", "", false); err != nil {
				return err
			}
			format = rest[1:]
		case strings.HasPrefix(rest, "("):
			end := strings.IndexByte(rest, ')')
			if end < 0 {
				return fmt.Errorf("%w %q: unclosed parenthesis", ErrBadFormat, snippet(format[i:]))
			}
			name := rest[1:end]
			if name == "" {
				return fmt.Errorf("%w %q: empty parameter name", ErrBadFormat, snippet(format[i:]))
			}
			if !strings.HasPrefix(rest[end+1:], "s") {
				return fmt.Errorf("%w %q: only the s conversion is supported", ErrBadFormat, snippet(format[i:]))
			}
			if err := emit("", name, true); err != nil {
				return err
			}
			format = rest[end+2:]
		default:
			return fmt.Errorf("%w %q", ErrBadFormat, snippet(format[i:]))
		}
	}
}

// snippet shortens s for error messages.
func snippet(s string) string {
	const limit = 20
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
