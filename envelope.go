package keelson

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Envelope wire field numbers. 1 and 2 are shared with tag-unaware peers.
const (
	envelopeFieldEnclosedAt protowire.Number = 1
	envelopeFieldPayload    protowire.Number = 2
	envelopeFieldTag        protowire.Number = 3
)

// Envelope is the wire unit exchanged over the pub/sub transport.
// It is immutable: the payload is copied on construction and on access.
type Envelope struct {
	tag        string
	enclosedAt time.Time
	payload    []byte
}

// NewEnvelope builds an envelope. The payload is copied.
func NewEnvelope(tag string, enclosedAt time.Time, payload []byte) Envelope {
	return Envelope{
		tag:        tag,
		enclosedAt: enclosedAt,
		payload:    cloneBytes(payload),
	}
}

func (e Envelope) Tag() string           { return e.tag }
func (e Envelope) EnclosedAt() time.Time { return e.enclosedAt }
func (e Envelope) Payload() []byte       { return cloneBytes(e.payload) }
func (e Envelope) PayloadSize() int      { return len(e.payload) }

// MarshalBinary encodes the envelope in protobuf wire format.
func (e Envelope) MarshalBinary() ([]byte, error) {
	var ts []byte
	if !e.enclosedAt.IsZero() {
		pb := timestamppb.New(e.enclosedAt)
		if err := pb.CheckValid(); err != nil {
			return nil, fmt.Errorf("keelson: enclosed_at: %w", err)
		}
		var err error
		ts, err = proto.MarshalOptions{Deterministic: true}.Marshal(pb)
		if err != nil {
			return nil, fmt.Errorf("keelson: enclosed_at: %w", err)
		}
	}

	b := make([]byte, 0, len(ts)+len(e.payload)+len(e.tag)+16)
	if ts != nil {
		b = protowire.AppendTag(b, envelopeFieldEnclosedAt, protowire.BytesType)
		b = protowire.AppendBytes(b, ts)
	}
	if len(e.payload) > 0 {
		b = protowire.AppendTag(b, envelopeFieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, e.payload)
	}
	if e.tag != "" {
		b = protowire.AppendTag(b, envelopeFieldTag, protowire.BytesType)
		b = protowire.AppendString(b, e.tag)
	}
	return b, nil
}

// ParseEnvelope decodes protobuf wire bytes into an Envelope. Unknown fields
// are skipped; a known field carrying the wrong wire type is an error.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Envelope{}, &MalformedEnvelopeError{Err: protowire.ParseError(n)}
		}
		data = data[n:]

		switch num {
		case envelopeFieldEnclosedAt, envelopeFieldPayload, envelopeFieldTag:
			if typ != protowire.BytesType {
				return Envelope{}, &MalformedEnvelopeError{
					Err: fmt.Errorf("field %d: unexpected wire type %d", num, typ),
				}
			}
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Envelope{}, &MalformedEnvelopeError{Err: protowire.ParseError(n)}
			}
			data = data[n:]
			if err := env.setField(num, v); err != nil {
				return Envelope{}, &MalformedEnvelopeError{Err: err}
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Envelope{}, &MalformedEnvelopeError{Err: protowire.ParseError(n)}
			}
			data = data[n:]
		}
	}
	return env, nil
}

func (e *Envelope) setField(num protowire.Number, v []byte) error {
	switch num {
	case envelopeFieldEnclosedAt:
		ts := &timestamppb.Timestamp{}
		if err := proto.Unmarshal(v, ts); err != nil {
			return fmt.Errorf("enclosed_at: %w", err)
		}
		if err := ts.CheckValid(); err != nil {
			return fmt.Errorf("enclosed_at: %w", err)
		}
		e.enclosedAt = ts.AsTime()
	case envelopeFieldPayload:
		e.payload = cloneBytes(v)
	case envelopeFieldTag:
		if !utf8.Valid(v) {
			return errors.New("tag: invalid UTF-8")
		}
		e.tag = string(v)
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
