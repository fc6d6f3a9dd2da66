// Package jsonldb provides a file-per-table record store.
//
// # Overview
//
// A [Table] owns one JSONL file. Every operation reads the whole file, mutates
// the rows in memory and, when something changed, writes the whole file back.
// Nothing is cached between calls, so a table always reflects what is on
// disk.
//
// Tables are obtained from a [Registry], which returns the same *Table for
// every request naming the same path.
//
// # Concurrency
//
// Each Table serializes its read-modify-write cycles with a mutex, so two
// calls on the same handle never interleave. Nothing coordinates separate
// handles on the same file (two registries, or two processes): concurrent
// writers race and the last write wins.
//
// # File Format
//
// Line 1 is a header holding the format version, the primary key field and
// the inferred columns. Each following line is one record encoded by
// [codec.EncodeRecord], which preserves dates, sets, maps and other types
// plain JSON loses. Writes go to a temporary file renamed over the table, so
// a failed write never leaves a partial file behind.
package jsonldb
