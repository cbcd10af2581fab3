// internal/protocol/codec.go
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for frames that are not a JSON object.
	ErrMalformed = errors.New("protocol: malformed frame")
	// ErrMissingType is returned for objects without a non-empty string "type".
	ErrMissingType = errors.New("protocol: frame has no type")
)

// Envelope is a decoded frame: its tag plus the raw object for typed binding.
type Envelope struct {
	Type MessageType
	Raw  json.RawMessage
}

// Decode parses one frame. It never panics; anything that is not an object
// with a string type is rejected with ErrMalformed or ErrMissingType.
func Decode(data []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return Envelope{}, fmt.Errorf("%w: null frame", ErrMalformed)
	}
	rawType, ok := fields["type"]
	if !ok {
		return Envelope{}, ErrMissingType
	}
	var t string
	if err := json.Unmarshal(rawType, &t); err != nil || t == "" {
		return Envelope{}, ErrMissingType
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Envelope{Type: MessageType(t), Raw: raw}, nil
}

// Bind unmarshals the envelope body into v.
func (e Envelope) Bind(v interface{}) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("bind %s: %w", e.Type, err)
	}
	return nil
}

// Encode produces a frame {type, ...payload}. payload must marshal to a JSON
// object or be nil.
func Encode(t MessageType, payload interface{}) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		if string(body) != "null" {
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, fmt.Errorf("encode %s: payload is not an object: %w", t, err)
			}
		}
	}
	tag, _ := json.Marshal(string(t))
	fields["type"] = tag
	return json.Marshal(fields)
}
