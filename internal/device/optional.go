package device

import (
	"bytes"
	"encoding/json"
)

// Optional is a patch field that distinguishes an absent field from an
// explicit JSON null and from a value.
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// Null returns an Optional that is present and explicitly null.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true, Null: true}
}

// UnmarshalJSON is only invoked for keys present in the document, so a
// missing key leaves Set false.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Null = true
		var zero T
		o.Value = zero
		return nil
	}
	o.Null = false
	return json.Unmarshal(data, &o.Value)
}

// HasValue reports whether the field is present with a non-null value.
func (o Optional[T]) HasValue() bool {
	return o.Set && !o.Null
}
