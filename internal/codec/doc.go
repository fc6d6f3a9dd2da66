// Package codec serializes records to JSON while preserving value types that
// plain JSON loses.
//
// # Envelope
//
// Every value is written as an envelope:
//
//	{"json":{"id":"a","at":"2024-01-02T03:04:05Z","tags":["x","y"]},"meta":{"at":"Date","tags":"set"}}
//
// "json" holds the plain-data shape. "meta" is a flat side-channel mapping the
// path of every value needing reconstruction to its type tag. Path segments
// are joined with '.', and '.' or '\' inside a segment are escaped with '\'.
// The root value has the empty path.
//
// # Types
//
// Decoding reconstructs [time.Time] (Date), int64 (int), uint64 (uint),
// [*big.Int] (bigint), []byte (bytes), [time.Duration] (duration),
// [*url.URL] (URL), non-finite float64 (number), [Set] (set) and [Map] (map).
// Un-annotated numbers decode as float64, objects as map[string]any and
// arrays as []any.
//
// # Sequences
//
// [Encode] writes one envelope per line (JSON Lines); [Decode] reads them
// back. Output is deterministic: object keys are sorted and set elements are
// ordered by their encoding.
package codec
