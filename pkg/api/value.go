package api

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// Value is a JSON-encoded payload. Step results, run inputs, child outputs,
// and page content are all stored as Values so that a memoized result is
// returned byte-for-byte identical on every replay
type Value json.RawMessage

var ErrInvalidValue = errors.New("value is not valid JSON")

var nullValue = []byte("null")

// NewValue encodes v as a Value. Raw JSON is validated and re-encoded the
// way the ledger stores it (compact, HTML-escaped), so the first pass and
// every replay see the same bytes. JSON null becomes the empty Value
func NewValue(v any) (Value, error) {
	var raw json.RawMessage
	switch v := v.(type) {
	case nil:
		return nil, nil
	case Value:
		raw = json.RawMessage(v)
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, ErrInvalidValue
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(data, nullValue) {
		return nil, nil
	}
	return Value(data), nil
}

// MustValue encodes v as a Value, panicking if it cannot be encoded
func MustValue(v any) Value {
	res, err := NewValue(v)
	if err != nil {
		panic(err)
	}
	return res
}

// IsEmpty returns true if the Value holds nothing or JSON null
func (v Value) IsEmpty() bool {
	trimmed := bytes.TrimSpace(v)
	return len(trimmed) == 0 || bytes.Equal(trimmed, nullValue)
}

// Decode unmarshals the Value into dst
func (v Value) Decode(dst any) error {
	if v.IsEmpty() {
		return nil
	}
	return json.Unmarshal(v, dst)
}

// Any decodes the Value into its generic JSON representation
func (v Value) Any() any {
	var res any
	if err := v.Decode(&res); err != nil {
		return nil
	}
	return res
}

// Get queries the Value with a gjson path expression
func (v Value) Get(path string) gjson.Result {
	return gjson.GetBytes(v, path)
}

// Equal returns true if both Values hold the same bytes
func (v Value) Equal(other Value) bool {
	return bytes.Equal(v, other)
}

// String returns the raw JSON text
func (v Value) String() string {
	return string(v)
}

// MarshalJSON emits the raw JSON, or null when empty
func (v Value) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return nullValue, nil
	}
	return v, nil
}

// UnmarshalJSON stores a copy of the raw JSON
func (v *Value) UnmarshalJSON(data []byte) error {
	if v == nil {
		return ErrInvalidValue
	}
	if bytes.Equal(bytes.TrimSpace(data), nullValue) {
		*v = nil
		return nil
	}
	*v = append((*v)[0:0], data...)
	return nil
}
