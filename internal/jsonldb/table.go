package jsonldb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maruel/recdb/internal/codec"
)

// Record is one row: a mapping from field names to values.
type Record = codec.Record

// Table handles storage for a single table in JSONL format.
//
// Every method reads the file fresh; mutating methods write it back whole.
// Returned records are copies and can be modified freely.
type Table struct {
	path       string
	name       string
	primaryKey string
	opts       options

	mu sync.Mutex
}

// Open opens the table stored at path, creating it with seed if the file
// does not exist.
//
// Open does not consult any registry: use [Registry.Open] to share one handle
// per path.
func Open(path, primaryKey string, seed []Record, opts ...Option) (*Table, error) {
	if primaryKey == "" {
		return nil, errors.New("primary key field name is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve table path %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", abs, err)
	}

	t := &Table{
		path:       abs,
		name:       strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
		primaryKey: primaryKey,
		opts:       newOptions(opts),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := os.Stat(abs); err == nil {
		return t, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat table file %s: %w", abs, err)
	}
	rows := make([]Record, 0, len(seed))
	for _, r := range seed {
		if err := t.checkKey(r[primaryKey]); err != nil {
			return nil, err
		}
		if !t.opts.allowDuplicateKeys && indexOf(rows, primaryKey, r[primaryKey]) >= 0 {
			return nil, t.duplicate(r[primaryKey])
		}
		rows = append(rows, r.Clone())
	}
	if err := t.write("create", rows); err != nil {
		return nil, err
	}
	return t, nil
}

// Path returns the absolute path of the table file.
func (t *Table) Path() string {
	return t.path
}

// Name returns the table name, the file name without extension.
func (t *Table) Name() string {
	return t.name
}

// PrimaryKey returns the name of the primary key field.
func (t *Table) PrimaryKey() string {
	return t.primaryKey
}

// All returns every record as currently persisted.
func (t *Table) All() ([]Record, error) {
	return t.ReadFile()
}

// ReadFile returns the persisted records. A missing file is recreated empty.
func (t *Table) ReadFile() ([]Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows, _, err := t.read()
	return rows, err
}

// Len returns the number of records.
func (t *Table) Len() (int, error) {
	rows, err := t.ReadFile()
	return len(rows), err
}

// Columns returns the columns recorded in the file header.
func (t *Table) Columns() ([]Column, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, h, err := t.read()
	if err != nil {
		return nil, err
	}
	return h.Columns, nil
}

// FindByID returns the first record whose primary key equals key.
func (t *Table) FindByID(key any) (Record, bool, error) {
	if isEmptyKey(key) {
		return nil, false, nil
	}
	return t.FindFirstBy(t.primaryKey, key)
}

// FindBy returns every record whose field equals value.
//
// Records without the field never match, even when value is nil.
func (t *Table) FindBy(field string, value any) ([]Record, error) {
	return t.Search(func(r Record) bool {
		v, ok := r[field]
		return ok && codec.Equal(v, value)
	})
}

// FindFirstBy returns the first record whose field equals value.
func (t *Table) FindFirstBy(field string, value any) (Record, bool, error) {
	rows, err := t.ReadFile()
	if err != nil {
		return nil, false, err
	}
	if i := indexOf(rows, field, value); i >= 0 {
		return rows[i], true, nil
	}
	return nil, false, nil
}

// Search returns every record for which pred returns true.
func (t *Table) Search(pred func(Record) bool) ([]Record, error) {
	rows, err := t.ReadFile()
	if err != nil {
		return nil, err
	}
	out := []Record{}
	for _, r := range rows {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Insert appends r.
func (t *Table) Insert(r Record) error {
	if err := t.checkKey(r[t.primaryKey]); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rows, _, err := t.read()
	if err != nil {
		return err
	}
	if !t.opts.allowDuplicateKeys && indexOf(rows, t.primaryKey, r[t.primaryKey]) >= 0 {
		return t.duplicate(r[t.primaryKey])
	}
	return t.write("insert", append(rows, r.Clone()))
}

// InsertMany appends every record with a single write.
//
// All records are validated first; if one is rejected nothing is written.
func (t *Table) InsertMany(records []Record) error {
	for _, r := range records {
		if err := t.checkKey(r[t.primaryKey]); err != nil {
			return err
		}
	}
	if len(records) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rows, _, err := t.read()
	if err != nil {
		return err
	}
	for _, r := range records {
		if !t.opts.allowDuplicateKeys && indexOf(rows, t.primaryKey, r[t.primaryKey]) >= 0 {
			return t.duplicate(r[t.primaryKey])
		}
		rows = append(rows, r.Clone())
	}
	return t.write("insert", rows)
}

// Update merges the fields of partial into the first record with the same
// primary key. Fields absent from partial are left untouched.
//
// Updating a key that does not exist is a no-op, not an error.
func (t *Table) Update(partial Record) error {
	key := partial[t.primaryKey]
	if err := t.checkKey(key); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rows, _, err := t.read()
	if err != nil {
		return err
	}
	i := indexOf(rows, t.primaryKey, key)
	if i < 0 {
		t.log("update matched no record", "key", key)
		return nil
	}
	for k, v := range partial {
		// Keep the stored key: partial's may be an equal value of another
		// numeric type.
		if k != t.primaryKey {
			rows[i][k] = v
		}
	}
	return t.write("update", rows)
}

// UpdateMany calls Update for each record in turn. Each update is its own
// read-modify-write cycle; it stops at the first error, keeping the updates
// already written.
func (t *Table) UpdateMany(partials []Record) error {
	for i, p := range partials {
		if err := t.Update(p); err != nil {
			return fmt.Errorf("failed to update record %d: %w", i, err)
		}
	}
	return nil
}

// Delete removes every record whose primary key equals key.
func (t *Table) Delete(key any) error {
	return t.DeleteMany([]any{key})
}

// DeleteMany removes every record whose primary key is in keys.
func (t *Table) DeleteMany(keys []any) error {
	for _, k := range keys {
		if err := t.checkKey(k); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rows, _, err := t.read()
	if err != nil {
		return err
	}
	kept := rows[:0]
	for _, r := range rows {
		if !containsKey(keys, r[t.primaryKey]) {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(rows) {
		return nil
	}
	return t.write("delete", kept)
}

// Truncate removes every record.
func (t *Table) Truncate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write("truncate", []Record{})
}

func (t *Table) log(msg string, args ...any) {
	t.opts.logger(msg, append([]any{"table", t.name}, args...)...)
}

func (t *Table) checkKey(key any) error {
	if isEmptyKey(key) {
		return &MissingPrimaryKeyError{Table: t.name, Field: t.primaryKey}
	}
	return nil
}

func (t *Table) duplicate(key any) error {
	return &DuplicateKeyError{Table: t.name, Field: t.primaryKey, Key: key}
}

// read loads the file. Must be called with mu held.
func (t *Table) read() ([]Record, *Header, error) {
	t.log("reading table", "path", t.path)
	start := time.Now()
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("failed to read table file %s: %w", t.path, err)
		}
		slog.Warn("Table file disappeared, recreating it empty", "table", t.name, "path", t.path)
		if err := t.write("create", []Record{}); err != nil {
			return nil, nil, err
		}
		return []Record{}, &Header{Version: currentVersion, PrimaryKey: t.primaryKey}, nil
	}
	rows, h, err := t.decode(data)
	if err != nil {
		return nil, nil, err
	}
	t.log("read table", "path", t.path, "rows", len(rows), "duration", time.Since(start))
	return rows, h, nil
}

// decode parses the header line and the records following it.
func (t *Table) decode(data []byte) ([]Record, *Header, error) {
	body := bytes.TrimLeft(data, " \t\r\n")
	if len(body) == 0 {
		return []Record{}, &Header{Version: currentVersion, PrimaryKey: t.primaryKey}, nil
	}
	skipped := bytes.Count(data[:len(data)-len(body)], []byte{'\n'})
	line, rest, _ := bytes.Cut(body, []byte{'\n'})
	if !json.Valid(line) {
		return nil, nil, &DecodeError{Path: t.path, Err: &codec.DecodeError{Line: skipped + 1, Err: errors.New("header is not valid JSON")}}
	}
	h, err := parseHeader(line)
	if err != nil {
		return nil, nil, &InvalidTableDataError{Path: t.path, Err: fmt.Errorf("bad header: %w", err)}
	}
	if h.PrimaryKey != "" && h.PrimaryKey != t.primaryKey {
		slog.Warn("Table header names another primary key", "table", t.name, "header", h.PrimaryKey, "using", t.primaryKey)
	}
	rows, err := codec.Decode(rest)
	if err != nil {
		var de *codec.DecodeError
		if errors.As(err, &de) {
			de.Line += skipped + 1
		}
		if errors.Is(err, codec.ErrNotRecord) {
			return nil, nil, &InvalidTableDataError{Path: t.path, Err: err}
		}
		return nil, nil, &DecodeError{Path: t.path, Err: err}
	}
	return rows, h, nil
}

// write replaces the file content with rows. Must be called with mu held.
func (t *Table) write(op string, rows []Record) error {
	t.log("writing table", "path", t.path, "rows", len(rows))
	start := time.Now()
	hdr, err := json.Marshal(&Header{Version: currentVersion, PrimaryKey: t.primaryKey, Columns: inferColumns(rows)})
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	body, err := codec.Encode(rows)
	if err != nil {
		return fmt.Errorf("failed to encode table %s: %w", t.name, err)
	}
	data := make([]byte, 0, len(hdr)+1+len(body))
	data = append(append(append(data, hdr...), '\n'), body...)
	if err := writeFileAtomic(t.path, data); err != nil {
		return err
	}
	t.log("wrote table", "path", t.path, "rows", len(rows), "duration", time.Since(start))
	if t.opts.committer != nil {
		if err := t.opts.committer.Commit(t.path, op+" "+t.name); err != nil {
			slog.Warn("Failed to commit table history", "table", t.name, "err", err)
		}
	}
	return nil
}

// writeFileAtomic writes data to a temporary file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary table file: %w", err)
	}
	tmp := f.Name()
	ok := false
	defer func() {
		if !ok {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write table file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync table file: %w", err)
	}
	if err := f.Chmod(0o644); err != nil { //nolint:gosec // G302: table files are meant to be readable
		return fmt.Errorf("failed to chmod table file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close table file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace table file: %w", err)
	}
	ok = true
	return nil
}

func isEmptyKey(key any) bool {
	switch k := key.(type) {
	case nil:
		return true
	case string:
		return k == ""
	}
	return false
}

func indexOf(rows []Record, field string, value any) int {
	for i, r := range rows {
		if v, ok := r[field]; ok && codec.Equal(v, value) {
			return i
		}
	}
	return -1
}

func containsKey(keys []any, key any) bool {
	if isEmptyKey(key) {
		return false
	}
	for _, k := range keys {
		if codec.Equal(k, key) {
			return true
		}
	}
	return false
}
