package jsonx

import (
	"bytes"
	"encoding/json"
)

// Field[T] tracks presence of a JSON key for partial updates:
//   - IsSet() == true  => the key appeared, possibly as null
//   - Value() == nil   => the value was null or the key was absent
type Field[T any] struct {
	set bool
	val *T
}

func (o Field[T]) IsSet() bool  { return o.set }
func (o Field[T]) IsNull() bool { return o.set && o.val == nil }
func (o Field[T]) Value() *T    { return o.val }

// Apply copies the value into dst when the key was present and not null.
func (o Field[T]) Apply(dst *T) {
	if o.val != nil {
		*dst = *o.val
	}
}

func (o *Field[T]) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		o.set, o.val = true, nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.set, o.val = true, &v
	return nil
}
