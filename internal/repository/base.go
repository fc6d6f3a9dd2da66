// Package repository provides the base embedded by domain repositories.
package repository

import (
	"errors"
	"fmt"

	"github.com/maruel/recdb/internal/jsonldb"
)

// Base owns the table backing a domain repository.
//
// Embed it and build domain methods on top of Table().
type Base struct {
	table *jsonldb.Table
}

// NewBase opens the table at path through reg, creating it empty if needed.
func NewBase(reg *jsonldb.Registry, path, primaryKey string) (Base, error) {
	if reg == nil {
		return Base{}, errors.New("registry is required")
	}
	t, err := reg.Open(path, primaryKey, nil)
	if err != nil {
		return Base{}, fmt.Errorf("failed to open repository table %s: %w", path, err)
	}
	return Base{table: t}, nil
}

// Table returns the underlying table.
func (b Base) Table() *jsonldb.Table {
	return b.table
}
