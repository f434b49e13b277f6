package keelson

import (
	"errors"
	"fmt"
)

var (
	ErrNoRegistryConfigured        = errors.New("keelson: no registry configured")
	ErrUnknownEntrypoint           = errors.New("keelson: unknown entrypoint")
	ErrInvalidKey                  = errors.New("keelson: invalid key")
	ErrSessionClosed               = errors.New("keelson: session is closed")
	ErrInvalidSubject              = errors.New("keelson: subject must be one non-empty key chunk")
	ErrHandlerPanic                = errors.New("keelson: handler panic")
	ErrObserverPoolShutdownTimeout = errors.New("keelson: observer pool shutdown timeout")
)

type ErrUnknownTransport struct{ name string }

func (e ErrUnknownTransport) Error() string { return fmt.Sprintf("unknown transport: %s", e.name) }

// UnknownTagError reports a tag that is not present in the registry.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string { return fmt.Sprintf("keelson: unknown tag %q", e.Tag) }

// DecodeError reports an input that is not valid in its claimed text encoding
// (base64, UTF-8, JSON string).
type DecodeError struct {
	Input string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("keelson: decode %s: %v", e.Input, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// MalformedEnvelopeError reports bytes that do not parse as an envelope.
type MalformedEnvelopeError struct {
	Err error
}

func (e *MalformedEnvelopeError) Error() string {
	return fmt.Sprintf("keelson: malformed envelope: %v", e.Err)
}

func (e *MalformedEnvelopeError) Unwrap() error { return e.Err }

// SchemaMismatchError reports a value or payload that does not conform to the
// schema registered for its tag.
type SchemaMismatchError struct {
	Tag    string
	Schema string
	Err    error
}

func (e *SchemaMismatchError) Error() string {
	if e.Schema == "" {
		return fmt.Sprintf("keelson: tag %q: schema mismatch: %v", e.Tag, e.Err)
	}
	return fmt.Sprintf("keelson: tag %q (%s): schema mismatch: %v", e.Tag, e.Schema, e.Err)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }

// IsCodecError reports whether err is one of the codec's input errors:
// UnknownTagError, DecodeError, MalformedEnvelopeError or SchemaMismatchError.
func IsCodecError(err error) bool {
	var (
		unknown   *UnknownTagError
		decode    *DecodeError
		malformed *MalformedEnvelopeError
		mismatch  *SchemaMismatchError
	)
	return errors.As(err, &unknown) ||
		errors.As(err, &decode) ||
		errors.As(err, &malformed) ||
		errors.As(err, &mismatch)
}

func schemaMismatch(entry TagEntry, err error) error {
	return &SchemaMismatchError{Tag: entry.Name, Schema: entry.SchemaName(), Err: err}
}
