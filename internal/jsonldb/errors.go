package jsonldb

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrMissingPrimaryKey = errors.New("missing primary key")
	ErrDuplicateKey      = errors.New("duplicate primary key")
	ErrInvalidTableData  = errors.New("invalid table data")
	ErrDecode            = errors.New("failed to decode table")
)

// MissingPrimaryKeyError is returned when a record or key lacks a non-empty
// primary key value.
type MissingPrimaryKeyError struct {
	Table string
	Field string
}

func (e *MissingPrimaryKeyError) Error() string {
	return fmt.Sprintf("table %s: missing value for primary key %q", e.Table, e.Field)
}

// Is implements errors.Is.
func (e *MissingPrimaryKeyError) Is(target error) bool {
	return target == ErrMissingPrimaryKey
}

// DuplicateKeyError is returned when inserting a key that already exists.
type DuplicateKeyError struct {
	Table string
	Field string
	Key   any
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("table %s: duplicate value %v for primary key %q", e.Table, e.Key, e.Field)
}

// Is implements errors.Is.
func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

// InvalidTableDataError is returned when a table file parses but does not
// hold a header followed by records.
type InvalidTableDataError struct {
	Path string
	Err  error
}

func (e *InvalidTableDataError) Error() string {
	return fmt.Sprintf("invalid table data in %s: %v", e.Path, e.Err)
}

func (e *InvalidTableDataError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is.
func (e *InvalidTableDataError) Is(target error) bool {
	return target == ErrInvalidTableData
}

// DecodeError is returned when a table file cannot be parsed. Err is usually
// a *codec.DecodeError carrying the line number.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode table %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
