package email

import (
	"errors"
	"fmt"
)

// Stage names the step of a delivery attempt that failed.
type Stage string

const (
	// StageEncode covers building the MIME message: charset lookup,
	// transcoding, address parsing and header validation.
	StageEncode Stage = "encode"
	// StageConnect covers dialing the relay, reading its greeting and
	// negotiating TLS.
	StageConnect Stage = "connect"
	// StageAuthenticate covers SMTP AUTH.
	StageAuthenticate Stage = "authenticate"
	// StageSubmit covers MAIL, RCPT and DATA.
	StageSubmit Stage = "submit"
)

// Sentinels for use with errors.Is. Every *DeliveryError unwraps to exactly
// one of them.
var (
	ErrEncoding       = errors.New("message encoding failed")
	ErrConnection     = errors.New("relay connection failed")
	ErrAuthentication = errors.New("relay authentication failed")
	ErrSubmission     = errors.New("message submission failed")
)

// DeliveryError is returned by Notifier.Send and BuildMessage. Err is the
// underlying cause, e.g. a *smtp.SMTPError returned by the relay.
type DeliveryError struct {
	Stage Stage
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%v: %v", e.Stage.sentinel(), e.Err)
}

// Unwrap lets errors.Is match the stage sentinel and errors.As reach the
// cause.
func (e *DeliveryError) Unwrap() []error {
	return []error{e.Stage.sentinel(), e.Err}
}

func (s Stage) sentinel() error {
	switch s {
	case StageEncode:
		return ErrEncoding
	case StageConnect:
		return ErrConnection
	case StageAuthenticate:
		return ErrAuthentication
	default:
		return ErrSubmission
	}
}

// fail wraps err in a *DeliveryError for stage s.
func fail(s Stage, err error) error {
	return &DeliveryError{Stage: s, Err: err}
}

// encodingErrorf is shorthand for a formatted StageEncode failure.
func encodingErrorf(format string, args ...interface{}) error {
	return fail(StageEncode, fmt.Errorf(format, args...))
}
