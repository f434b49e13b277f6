package keelson

import (
	"encoding/json"
	"fmt"
)

// DecodeJSON uncovers data to its JSON form and unmarshals that into T.
// Protobuf payloads uncover to their protojson document, which writes
// 64-bit integers as JSON strings: decode those into fields tagged
// `json:",string"`.
func DecodeJSON[T any](c *Codec, data []byte) (T, error) {
	var v T
	doc, err := c.UncoverToJSON(data)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(doc, &v); err != nil {
		return v, fmt.Errorf("keelson: decode %T: %w", v, err)
	}
	return v, nil
}
