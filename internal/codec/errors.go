package codec

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrNotRecord is returned when a record envelope does not hold an object.
var ErrNotRecord = errors.New("value is not a record")

// DecodeError reports bytes that cannot be decoded.
type DecodeError struct {
	// Line is the 1-based line number within a sequence, 0 for a single value.
	Line int
	// Path is the side-channel path involved, if any.
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	msg := "decode failed"
	if e.Line > 0 {
		msg = fmt.Sprintf("decode failed at line %d", e.Line)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (path %q)", e.Path)
	}
	return msg + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// UnsupportedTypeError is returned when encoding a value of a type the codec
// cannot represent.
type UnsupportedTypeError struct {
	Type reflect.Type
	Path string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported type %s at path %q", e.Type, e.Path)
}
