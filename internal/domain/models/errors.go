package models

import "fmt"

// FormatError is returned when a field value cannot be parsed
type FormatError struct {
	Field  string
	Value  string
	Reason string
}

// Error implements the error interface
func (e *FormatError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed value %q: %s", e.Value, e.Reason)
	}
	return fmt.Sprintf("malformed %s %q: %s", e.Field, e.Value, e.Reason)
}
