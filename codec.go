package keelson

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/trickstertwo/xlog"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Clock supplies envelope timestamps. xclock clocks satisfy it.
type Clock interface {
	Now() time.Time
}

// Codec transforms payloads into tagged envelopes and back. It holds no
// mutable state besides its counters, so every method is safe for
// concurrent use.
type Codec struct {
	registry     *Registry
	clock        Clock
	logger       *xlog.Logger
	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer
	metrics      codecMetrics
	closed       atomic.Bool
	closeOnce    sync.Once
}

type codecMetrics struct {
	enclosed  atomic.Uint64
	uncovered atomic.Uint64
	errors    atomic.Uint64
}

// Uncovered is a parsed envelope together with its resolved tag.
type Uncovered struct {
	Envelope   Envelope
	Entry      TagEntry
	ReceivedAt time.Time
}

// Registry returns the registry the codec resolves tags against.
func (c *Codec) Registry() *Registry { return c.registry }

// Logger returns the codec logger.
func (c *Codec) Logger() *xlog.Logger { return c.logger }

// Enclose wraps already-encoded payload bytes, stamped with the codec clock.
// The payload must conform to the tag's encoding.
func (c *Codec) Enclose(tag string, payload []byte) ([]byte, error) {
	return c.EncloseAt(tag, payload, time.Time{})
}

// EncloseAt is Enclose with an explicit enclosed_at. A zero at uses the
// codec clock.
func (c *Codec) EncloseAt(tag string, payload []byte, at time.Time) ([]byte, error) {
	return c.enclose(OpEnclose, tag, at, func(entry TagEntry) ([]byte, error) {
		if err := validatePayload(entry, payload); err != nil {
			return nil, err
		}
		return cloneBytes(payload), nil
	})
}

// EncloseFromText encodes text for tag. Protobuf tags have no text form.
func (c *Codec) EncloseFromText(tag, text string) ([]byte, error) {
	return c.enclose(OpEncloseFromText, tag, time.Time{}, func(entry TagEntry) ([]byte, error) {
		if !utf8.ValidString(text) {
			return nil, &DecodeError{Input: "text", Err: errors.New("invalid UTF-8")}
		}
		switch entry.Encoding {
		case EncodingProtobuf:
			return nil, schemaMismatch(entry, errors.New("protobuf payloads have no text form"))
		case EncodingJSON:
			if err := validateJSON(entry, []byte(text)); err != nil {
				return nil, err
			}
		}
		return []byte(text), nil
	})
}

// EncloseFromBase64 decodes standard base64 and encloses the raw bytes.
func (c *Codec) EncloseFromBase64(tag, encoded string) ([]byte, error) {
	return c.enclose(OpEncloseFromBase64, tag, time.Time{}, func(entry TagEntry) ([]byte, error) {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, &DecodeError{Input: "base64", Err: err}
		}
		if err := validatePayload(entry, raw); err != nil {
			return nil, err
		}
		return raw, nil
	})
}

// EncloseFromJSON converts a JSON document into the tag's payload encoding.
//
//	protobuf: protojson document of the registered message type
//	json:     the document itself (compacted)
//	text:     a JSON string
//	binary:   a JSON string holding standard base64
func (c *Codec) EncloseFromJSON(tag string, doc []byte) ([]byte, error) {
	return c.enclose(OpEncloseFromJSON, tag, time.Time{}, func(entry TagEntry) ([]byte, error) {
		if !json.Valid(doc) {
			return nil, &DecodeError{Input: "json", Err: errors.New("invalid JSON document")}
		}
		switch entry.Encoding {
		case EncodingProtobuf:
			msg := dynamicpb.NewMessage(entry.message)
			if err := protojson.Unmarshal(doc, msg); err != nil {
				return nil, schemaMismatch(entry, err)
			}
			b, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
			if err != nil {
				return nil, schemaMismatch(entry, err)
			}
			return b, nil
		case EncodingJSON:
			if err := validateJSON(entry, doc); err != nil {
				return nil, err
			}
			return compactJSON(doc)
		case EncodingText:
			var s string
			if err := json.Unmarshal(doc, &s); err != nil {
				return nil, schemaMismatch(entry, errors.New("expected a JSON string"))
			}
			return []byte(s), nil
		default:
			var s string
			if err := json.Unmarshal(doc, &s); err != nil {
				return nil, schemaMismatch(entry, errors.New("expected a JSON string of base64"))
			}
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, &DecodeError{Input: "base64", Err: err}
			}
			return raw, nil
		}
	})
}

// EncloseProto marshals a generated or dynamic message. Its full name must
// match the tag's registered type.
func (c *Codec) EncloseProto(tag string, m proto.Message) ([]byte, error) {
	return c.enclose(OpEnclose, tag, time.Time{}, func(entry TagEntry) ([]byte, error) {
		if err := checkMessageType(entry, m); err != nil {
			return nil, err
		}
		b, err := proto.MarshalOptions{Deterministic: true}.Marshal(m)
		if err != nil {
			return nil, schemaMismatch(entry, err)
		}
		return b, nil
	})
}

// Uncover parses an envelope and resolves its tag.
func (c *Codec) Uncover(data []byte) (Uncovered, error) {
	return uncoverAs(c, OpUncover, data, func(u Uncovered) (Uncovered, error) {
		return u, nil
	})
}

// UncoverToText returns the payload as text.
func (c *Codec) UncoverToText(data []byte) (string, error) {
	return uncoverAs(c, OpUncoverToText, data, func(u Uncovered) (string, error) {
		entry, payload := u.Entry, u.Envelope.payload
		switch entry.Encoding {
		case EncodingProtobuf:
			return "", schemaMismatch(entry, errors.New("protobuf payloads have no text form"))
		case EncodingBinary:
			if !utf8.Valid(payload) {
				return "", &DecodeError{Input: "payload", Err: errors.New("binary payload is not valid UTF-8")}
			}
		default:
			if !utf8.Valid(payload) {
				return "", schemaMismatch(entry, errors.New("payload is not valid UTF-8"))
			}
		}
		return string(payload), nil
	})
}

// UncoverToBase64 returns the payload as standard base64. It accepts any
// payload of a resolvable envelope.
func (c *Codec) UncoverToBase64(data []byte) (string, error) {
	return uncoverAs(c, OpUncoverToBase64, data, func(u Uncovered) (string, error) {
		return base64.StdEncoding.EncodeToString(u.Envelope.payload), nil
	})
}

// UncoverToJSON renders the payload as a compact JSON document, the inverse
// of EncloseFromJSON.
func (c *Codec) UncoverToJSON(data []byte) ([]byte, error) {
	return uncoverAs(c, OpUncoverToJSON, data, func(u Uncovered) ([]byte, error) {
		entry, payload := u.Entry, u.Envelope.payload
		switch entry.Encoding {
		case EncodingProtobuf:
			msg := dynamicpb.NewMessage(entry.message)
			if err := proto.Unmarshal(payload, msg); err != nil {
				return nil, schemaMismatch(entry, err)
			}
			// Scalar zeros are written out so {"angle":0} survives the round
			// trip; unset message fields stay absent.
			b, err := protojson.MarshalOptions{UseProtoNames: true, EmitDefaultValues: true}.Marshal(msg)
			if err != nil {
				return nil, schemaMismatch(entry, err)
			}
			return compactJSON(b)
		case EncodingJSON:
			if err := validateJSON(entry, payload); err != nil {
				return nil, err
			}
			return compactJSON(payload)
		case EncodingText:
			if !utf8.Valid(payload) {
				return nil, schemaMismatch(entry, errors.New("payload is not valid UTF-8"))
			}
			return json.Marshal(string(payload))
		default:
			return json.Marshal(base64.StdEncoding.EncodeToString(payload))
		}
	})
}

// UncoverProto unmarshals the payload into m, whose full name must match the
// envelope tag's registered type.
func (c *Codec) UncoverProto(data []byte, m proto.Message) (Uncovered, error) {
	return uncoverAs(c, OpUncover, data, func(u Uncovered) (Uncovered, error) {
		if err := checkMessageType(u.Entry, m); err != nil {
			return Uncovered{}, err
		}
		if err := proto.Unmarshal(u.Envelope.payload, m); err != nil {
			return Uncovered{}, schemaMismatch(u.Entry, err)
		}
		return u, nil
	})
}

// GetMetrics returns current codec counters.
func (c *Codec) GetMetrics() Metrics {
	m := Metrics{
		Enclosed:  c.metrics.enclosed.Load(),
		Uncovered: c.metrics.uncovered.Load(),
		Errors:    c.metrics.errors.Load(),
	}
	if c.observerPool != nil {
		m.EventsDropped = c.observerPool.Stats().Dropped
	}
	return m
}

// AddObserver registers an observer (thread-safe).
func (c *Codec) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	c.observersMu.Lock()
	c.observers = append(c.observers, obs)
	c.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (c *Codec) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	c.observersMu.Lock()
	defer c.observersMu.Unlock()

	for i, o := range c.observers {
		if o == obs {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			break
		}
	}
}

// Close drains the observer pool. Codec operations keep working afterwards
// but no longer emit events.
func (c *Codec) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.observerPool != nil {
			if err := c.observerPool.Close(5 * time.Second); err != nil {
				c.logger.Warn().Err(err).Msg("keelson: observer pool shutdown timeout")
				closeErr = err
			}
		}
	})
	return closeErr
}

func (c *Codec) enclose(op Operation, tag string, at time.Time, encode func(TagEntry) ([]byte, error)) ([]byte, error) {
	start := c.clock.Now()
	entry, err := c.registry.Lookup(tag)
	if err != nil {
		return nil, c.fail(op, tag, err)
	}
	payload, err := encode(entry)
	if err != nil {
		return nil, c.fail(op, tag, err)
	}
	if at.IsZero() {
		at = start
	}
	env := Envelope{tag: tag, enclosedAt: at, payload: payload}
	out, err := env.MarshalBinary()
	if err != nil {
		return nil, c.fail(op, tag, err)
	}

	c.metrics.enclosed.Add(1)
	c.notify(Event{
		Type:      EventEnclosed,
		Operation: op,
		Tag:       tag,
		Size:      len(out),
		Duration:  c.clock.Now().Sub(start),
	})
	return out, nil
}

func uncoverAs[T any](c *Codec, op Operation, data []byte, decode func(Uncovered) (T, error)) (T, error) {
	var zero T
	start := c.clock.Now()
	env, err := ParseEnvelope(data)
	if err != nil {
		return zero, c.fail(op, "", err)
	}
	entry, err := c.registry.Lookup(env.tag)
	if err != nil {
		return zero, c.fail(op, env.tag, err)
	}
	out, err := decode(Uncovered{Envelope: env, Entry: entry, ReceivedAt: start})
	if err != nil {
		return zero, c.fail(op, env.tag, err)
	}

	c.metrics.uncovered.Add(1)
	c.notify(Event{
		Type:      EventUncovered,
		Operation: op,
		Tag:       env.tag,
		Size:      len(data),
		Duration:  c.clock.Now().Sub(start),
	})
	return out, nil
}

func (c *Codec) fail(op Operation, tag string, err error) error {
	c.metrics.errors.Add(1)
	c.notify(Event{Type: EventError, Operation: op, Tag: tag, Err: err})
	return err
}

// notify dispatches events asynchronously. It is a no-op once closed.
func (c *Codec) notify(e Event) {
	if c.observerPool == nil || c.closed.Load() {
		return
	}

	c.observersMu.RLock()
	if len(c.observers) == 0 {
		c.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.observersMu.RUnlock()

	c.observerPool.Notify(e, observers)
}

func validatePayload(entry TagEntry, payload []byte) error {
	switch entry.Encoding {
	case EncodingProtobuf:
		if err := proto.Unmarshal(payload, dynamicpb.NewMessage(entry.message)); err != nil {
			return schemaMismatch(entry, err)
		}
	case EncodingJSON:
		return validateJSON(entry, payload)
	case EncodingText:
		if !utf8.Valid(payload) {
			return schemaMismatch(entry, errors.New("payload is not valid UTF-8"))
		}
	}
	return nil
}

// validateJSON checks syntax and, when the tag lists fields, that the
// document is an object with exactly those keys.
func validateJSON(entry TagEntry, doc []byte) error {
	if !json.Valid(doc) {
		return schemaMismatch(entry, errors.New("payload is not valid JSON"))
	}
	if len(entry.Fields) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil || obj == nil {
		return schemaMismatch(entry, errors.New("expected a JSON object"))
	}

	allowed := make(map[string]struct{}, len(entry.Fields))
	for _, f := range entry.Fields {
		allowed[f] = struct{}{}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := allowed[k]; !ok {
			return schemaMismatch(entry, fmt.Errorf("unexpected field %q", k))
		}
	}
	for _, f := range entry.Fields {
		if _, ok := obj[f]; !ok {
			return schemaMismatch(entry, fmt.Errorf("missing field %q", f))
		}
	}
	return nil
}

func checkMessageType(entry TagEntry, m proto.Message) error {
	if entry.Encoding != EncodingProtobuf {
		return schemaMismatch(entry, fmt.Errorf("tag is %s-encoded, not protobuf", entry.Encoding))
	}
	if m == nil {
		return schemaMismatch(entry, errors.New("nil message"))
	}
	if got, want := m.ProtoReflect().Descriptor().FullName(), entry.message.FullName(); got != want {
		return schemaMismatch(entry, fmt.Errorf("message type %s", got))
	}
	return nil
}

func compactJSON(doc []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
