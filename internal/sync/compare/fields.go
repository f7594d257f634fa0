package compare

import (
	"strconv"

	"netsync/internal/domain/models"
)

const nullValue = "null"

// String compares a plain string attribute
func String[T any](name string, get func(T) string) Field[T] {
	return Field[T]{Name: name, Value: get}
}

// Int compares an integer attribute
func Int[T any](name string, get func(T) int) Field[T] {
	return Field[T]{
		Name:  name,
		Value: func(v T) string { return strconv.Itoa(get(v)) },
	}
}

// Bool compares a boolean attribute
func Bool[T any](name string, get func(T) bool) Field[T] {
	return Field[T]{
		Name:  name,
		Value: func(v T) string { return strconv.FormatBool(get(v)) },
	}
}

// OptionalString compares a nullable string. nil and "" are different values.
func OptionalString[T any](name string, get func(T) *string) Field[T] {
	return Field[T]{
		Name: name,
		Value: func(v T) string {
			if p := get(v); p != nil {
				return *p
			}
			return nullValue
		},
		Equal: func(local, remote T) bool {
			l, r := get(local), get(remote)
			if l == nil || r == nil {
				return l == nil && r == nil
			}
			return *l == *r
		},
	}
}

// OptionalInt compares a nullable integer
func OptionalInt[T any](name string, get func(T) *int) Field[T] {
	return Field[T]{
		Name: name,
		Value: func(v T) string {
			if p := get(v); p != nil {
				return strconv.Itoa(*p)
			}
			return nullValue
		},
		Equal: func(local, remote T) bool {
			l, r := get(local), get(remote)
			if l == nil || r == nil {
				return l == nil && r == nil
			}
			return *l == *r
		},
	}
}

// Vlans compares a VLAN set
func Vlans[T any](name string, get func(T) models.VlanSet) Field[T] {
	return Field[T]{
		Name:  name,
		Value: func(v T) string { return get(v).String() },
		Equal: func(local, remote T) bool { return get(local).Equal(get(remote)) },
	}
}
