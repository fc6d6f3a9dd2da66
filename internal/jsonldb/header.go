// Handles the table header line, column inference and the file format schema.

package jsonldb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/maruel/recdb/internal/codec"
)

var errSchemaVersionRequired = errors.New("schema version is required")

// currentVersion is the current version of the JSONL table format.
const currentVersion = "1.0"

const (
	columnTypeMixed = "mixed"
	columnTypeNull  = "null"
)

// Column describes one field seen in the table.
type Column struct {
	Name string `json:"name" jsonschema:"description=Field name"`
	Type string `json:"type" jsonschema:"description=Value type as reported by codec.TypeName; mixed when several types are present"`
}

// Header is the first line of a table file.
type Header struct {
	Version    string   `json:"version" jsonschema:"description=Format version (major.minor)"`
	PrimaryKey string   `json:"primary_key" jsonschema:"description=Name of the primary key field"`
	Columns    []Column `json:"columns,omitempty" jsonschema:"description=Fields in order of first appearance"`
}

// Validate checks that the header is well-formed and readable by this
// version.
func (h *Header) Validate() error {
	if h.Version == "" {
		return errSchemaVersionRequired
	}
	major, _, _ := strings.Cut(h.Version, ".")
	if want, _, _ := strings.Cut(currentVersion, "."); major != want {
		return fmt.Errorf("unsupported format version %q", h.Version)
	}
	for i, col := range h.Columns {
		if col.Name == "" {
			return fmt.Errorf("column %d: name is required", i)
		}
		if col.Type == "" {
			return fmt.Errorf("column %d: type is required", i)
		}
	}
	return nil
}

// parseHeader decodes the header line. Unknown members are rejected so a
// record line in first position is not mistaken for a header.
func parseHeader(line []byte) (*Header, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

// inferColumns lists every field in order of first appearance with its type.
func inferColumns(records []Record) []Column {
	var columns []Column
	pos := map[string]int{}
	for _, r := range records {
		// Map iteration order is random; sort the new fields of each record
		// so the header is stable across writes.
		var fresh []string
		for name := range r {
			if _, ok := pos[name]; !ok {
				fresh = append(fresh, name)
			}
		}
		slices.Sort(fresh)
		for _, name := range fresh {
			pos[name] = len(columns)
			columns = append(columns, Column{Name: name, Type: columnTypeNull})
		}
		for name, v := range r {
			col := &columns[pos[name]]
			t := codec.TypeName(v)
			switch {
			case t == columnTypeNull || col.Type == t || col.Type == columnTypeMixed:
			case col.Type == columnTypeNull:
				col.Type = t
			default:
				col.Type = columnTypeMixed
			}
		}
	}
	return columns
}

// FormatSchema returns the JSON Schemas of the header line and of record
// lines.
func FormatSchema() map[string]*jsonschema.Schema {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	return map[string]*jsonschema.Schema{
		"header": r.Reflect(&Header{}),
		"record": r.Reflect(&codec.Envelope{}),
	}
}
