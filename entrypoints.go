package keelson

import (
	"fmt"
	"sort"
	"strings"
)

// EncoderFunc is the plugin-host signature of an enclose entrypoint. The
// value is text, base64 or a JSON document depending on the entrypoint.
type EncoderFunc func(tag, value string) ([]byte, error)

// DecoderFunc is the plugin-host signature of an uncover entrypoint.
type DecoderFunc func(data []byte) (string, error)

// Entrypoint names exposed to encoder/decoder plugin hosts.
const (
	EntrypointEncloseFromText   = "keelson-enclose-from-text"
	EntrypointEncloseFromBase64 = "keelson-enclose-from-base64"
	EntrypointEncloseFromJSON   = "keelson-enclose-from-json"
	EntrypointUncoverToText     = "keelson-uncover-to-text"
	EntrypointUncoverToBase64   = "keelson-uncover-to-base64"
	EntrypointUncoverToJSON     = "keelson-uncover-to-json"
)

// Entrypoints is the static name → function table for one Codec. It is
// built once and never mutated.
type Entrypoints struct {
	encoders map[string]EncoderFunc
	decoders map[string]DecoderFunc
}

// NewEntrypoints binds the six codec operations under both their
// plugin-host names and their operation names.
func NewEntrypoints(c *Codec) *Entrypoints {
	encFromText := EncoderFunc(c.EncloseFromText)
	encFromBase64 := EncoderFunc(c.EncloseFromBase64)
	encFromJSON := EncoderFunc(func(tag, value string) ([]byte, error) {
		return c.EncloseFromJSON(tag, []byte(value))
	})
	decToText := DecoderFunc(c.UncoverToText)
	decToBase64 := DecoderFunc(c.UncoverToBase64)
	decToJSON := DecoderFunc(func(data []byte) (string, error) {
		b, err := c.UncoverToJSON(data)
		if err != nil {
			return "", err
		}
		return string(b), nil
	})

	return &Entrypoints{
		encoders: map[string]EncoderFunc{
			EntrypointEncloseFromText:   encFromText,
			EntrypointEncloseFromBase64: encFromBase64,
			EntrypointEncloseFromJSON:   encFromJSON,

			string(OpEncloseFromText):   encFromText,
			string(OpEncloseFromBase64): encFromBase64,
			string(OpEncloseFromJSON):   encFromJSON,
		},
		decoders: map[string]DecoderFunc{
			EntrypointUncoverToText:   decToText,
			EntrypointUncoverToBase64: decToBase64,
			EntrypointUncoverToJSON:   decToJSON,

			string(OpUncoverToText):   decToText,
			string(OpUncoverToBase64): decToBase64,
			string(OpUncoverToJSON):   decToJSON,
		},
	}
}

// Encoder returns the enclose entrypoint registered under name.
func (e *Entrypoints) Encoder(name string) (EncoderFunc, error) {
	f, ok := e.encoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: encoder %q", ErrUnknownEntrypoint, name)
	}
	return f, nil
}

// Decoder returns the uncover entrypoint registered under name.
func (e *Entrypoints) Decoder(name string) (DecoderFunc, error) {
	f, ok := e.decoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: decoder %q", ErrUnknownEntrypoint, name)
	}
	return f, nil
}

// EncoderNames lists the plugin-host encoder names in sorted order.
func (e *Entrypoints) EncoderNames() []string { return hostNames(e.encoders) }

// DecoderNames lists the plugin-host decoder names in sorted order.
func (e *Entrypoints) DecoderNames() []string { return hostNames(e.decoders) }

func hostNames[F any](m map[string]F) []string {
	out := make([]string, 0, len(m)/2)
	for name := range m {
		if strings.HasPrefix(name, "keelson-") {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
