package parser

import "encoding/json"

// State is the condition of one field slot of a PartialRecord.
type State uint8

const (
	// NotRequested means the caller did not ask for the field.
	NotRequested State = iota
	// Present means the field was requested and has a value.
	Present
	// Absent means the field was requested but the record has no value.
	Absent
)

func (s State) String() string {
	switch s {
	case NotRequested:
		return "not_requested"
	case Present:
		return "present"
	case Absent:
		return "absent"
	default:
		return "invalid"
	}
}

// Value is a tri-state field slot. The zero Value is NotRequested.
type Value[T any] struct {
	state State
	v     T
}

// Some returns a Present value.
func Some[T any](v T) Value[T] {
	return Value[T]{state: Present, v: v}
}

// None returns an Absent value.
func None[T any]() Value[T] {
	return Value[T]{state: Absent}
}

func (v Value[T]) State() State      { return v.state }
func (v Value[T]) IsRequested() bool { return v.state != NotRequested }
func (v Value[T]) IsPresent() bool   { return v.state == Present }
func (v Value[T]) IsAbsent() bool    { return v.state == Absent }

// Get returns the value and whether it is Present.
func (v Value[T]) Get() (T, bool) {
	return v.v, v.state == Present
}

// OrElse returns the value when Present and def otherwise.
func (v Value[T]) OrElse(def T) T {
	if v.state == Present {
		return v.v
	}
	return def
}

// Ptr returns a pointer to a copy of the value, or nil unless Present.
func (v Value[T]) Ptr() *T {
	if v.state != Present {
		return nil
	}
	c := v.v
	return &c
}

// markAbsent turns a NotRequested slot into Absent.
func (v *Value[T]) markAbsent() {
	if v.state == NotRequested {
		*v = None[T]()
	}
}

// MarshalJSON encodes Present as the value and anything else as null.
func (v Value[T]) MarshalJSON() ([]byte, error) {
	if v.state != Present {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}
