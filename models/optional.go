package models

import (
	"encoding/json"
)

// Optional holds a value that may be unavailable, typically because an
// external quote could not be fetched. It marshals to null when empty so that
// absence stays distinguishable from a legitimate zero.
type Optional[T any] struct {
	value T
	valid bool
}

// Some wraps an available value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, valid: true}
}

// None is an unavailable value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) Valid() bool { return o.valid }

// Get returns the value and whether it is available.
func (o Optional[T]) Get() (T, bool) { return o.value, o.valid }

// OrElse returns the value, or fallback when unavailable.
func (o Optional[T]) OrElse(fallback T) T {
	if !o.valid {
		return fallback
	}
	return o.value
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
