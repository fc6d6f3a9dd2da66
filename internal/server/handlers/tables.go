package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/maruel/recdb/internal/codec"
	apierrors "github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/jsonldb"
)

// TableHandler exposes configured tables over HTTP.
type TableHandler struct {
	tables map[string]*jsonldb.Table
}

// NewTableHandler creates a handler serving tables by name.
func NewTableHandler(tables map[string]*jsonldb.Table) *TableHandler {
	return &TableHandler{tables: tables}
}

// ListTablesRequest is the request type for ListTables (empty).
type ListTablesRequest struct{}

// TableInfo describes one table.
type TableInfo struct {
	Name       string           `json:"name"`
	Path       string           `json:"path"`
	PrimaryKey string           `json:"primary_key"`
	Columns    []jsonldb.Column `json:"columns"`
}

// ListTablesResponse is the response for ListTables.
type ListTablesResponse struct {
	Tables []TableInfo `json:"tables"`
}

// RecordsRequest selects the records of a table, optionally filtered on one
// field. Value is parsed with codec.ParseValue.
type RecordsRequest struct {
	Table string `path:"table"`
	Field string `query:"field"`
	Value string `query:"value"`
}

// RecordsResponse holds records as codec envelopes.
type RecordsResponse struct {
	Records []WireRecord `json:"records"`
}

// RecordRequest addresses one record. ID is parsed with codec.ParseValue.
type RecordRequest struct {
	Table string `path:"table"`
	ID    string `path:"id"`
}

// WriteRecordRequest carries a record envelope as the request body.
type WriteRecordRequest struct {
	Table  string `path:"table"`
	ID     string `path:"id"`
	Record WireRecord
}

// UnmarshalJSON decodes the body, a single envelope.
func (r *WriteRecordRequest) UnmarshalJSON(data []byte) error {
	return r.Record.UnmarshalJSON(data)
}

// RecordResponse holds one record.
type RecordResponse struct {
	Record WireRecord `json:"record"`
}

// TableRequest addresses a table.
type TableRequest struct {
	Table string `path:"table"`
}

// OKResponse acknowledges a mutation.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ListTables returns every table, sorted by name.
func (h *TableHandler) ListTables(ctx context.Context, req ListTablesRequest) (*ListTablesResponse, error) {
	names := make([]string, 0, len(h.tables))
	for name := range h.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	resp := &ListTablesResponse{Tables: make([]TableInfo, 0, len(names))}
	for _, name := range names {
		t := h.tables[name]
		cols, err := t.Columns()
		if err != nil {
			return nil, tableError(ctx, name, err)
		}
		resp.Tables = append(resp.Tables, TableInfo{Name: name, Path: t.Path(), PrimaryKey: t.PrimaryKey(), Columns: cols})
	}
	return resp, nil
}

// ListRecords returns every record, or those whose field equals value.
func (h *TableHandler) ListRecords(ctx context.Context, req RecordsRequest) (*RecordsResponse, error) {
	t, err := h.table(req.Table)
	if err != nil {
		return nil, err
	}
	var rows []jsonldb.Record
	if req.Field != "" {
		rows, err = t.FindBy(req.Field, codec.ParseValue(req.Value))
	} else {
		rows, err = t.All()
	}
	if err != nil {
		return nil, tableError(ctx, req.Table, err)
	}
	return &RecordsResponse{Records: wireRecords(rows)}, nil
}

// GetRecord returns the record with the requested key.
func (h *TableHandler) GetRecord(ctx context.Context, req RecordRequest) (*RecordResponse, error) {
	t, err := h.table(req.Table)
	if err != nil {
		return nil, err
	}
	key := codec.ParseValue(req.ID)
	r, found, err := t.FindByID(key)
	if err != nil {
		return nil, tableError(ctx, req.Table, err)
	}
	if !found {
		return nil, apierrors.RecordNotFound(req.Table, key)
	}
	return &RecordResponse{Record: WireRecord{r}}, nil
}

// CreateRecord inserts the body.
func (h *TableHandler) CreateRecord(ctx context.Context, req WriteRecordRequest) (*RecordResponse, error) {
	t, err := h.table(req.Table)
	if err != nil {
		return nil, err
	}
	if err := t.Insert(req.Record.Record); err != nil {
		return nil, tableError(ctx, req.Table, err)
	}
	return &RecordResponse{Record: req.Record}, nil
}

// UpdateRecord merges the body into the record with the key from the path.
func (h *TableHandler) UpdateRecord(ctx context.Context, req WriteRecordRequest) (*RecordResponse, error) {
	t, err := h.table(req.Table)
	if err != nil {
		return nil, err
	}
	key := codec.ParseValue(req.ID)
	if _, found, err := t.FindByID(key); err != nil {
		return nil, tableError(ctx, req.Table, err)
	} else if !found {
		return nil, apierrors.RecordNotFound(req.Table, key)
	}
	partial := req.Record.Record.Clone()
	if partial == nil {
		partial = jsonldb.Record{}
	}
	partial[t.PrimaryKey()] = key
	if err := t.Update(partial); err != nil {
		return nil, tableError(ctx, req.Table, err)
	}
	r, found, err := t.FindByID(key)
	if err != nil {
		return nil, tableError(ctx, req.Table, err)
	}
	if !found {
		// Deleted concurrently.
		return nil, apierrors.RecordNotFound(req.Table, key)
	}
	return &RecordResponse{Record: WireRecord{r}}, nil
}

// DeleteRecord removes the records with the key from the path.
func (h *TableHandler) DeleteRecord(ctx context.Context, req RecordRequest) (*OKResponse, error) {
	t, err := h.table(req.Table)
	if err != nil {
		return nil, err
	}
	if err := t.Delete(codec.ParseValue(req.ID)); err != nil {
		return nil, tableError(ctx, req.Table, err)
	}
	return &OKResponse{OK: true}, nil
}

// TruncateTable removes every record.
func (h *TableHandler) TruncateTable(ctx context.Context, req TableRequest) (*OKResponse, error) {
	t, err := h.table(req.Table)
	if err != nil {
		return nil, err
	}
	if err := t.Truncate(); err != nil {
		return nil, tableError(ctx, req.Table, err)
	}
	return &OKResponse{OK: true}, nil
}

func (h *TableHandler) table(name string) (*jsonldb.Table, error) {
	t, ok := h.tables[name]
	if !ok {
		return nil, apierrors.TableNotFound(name)
	}
	return t, nil
}

// tableError maps storage errors to API errors.
func tableError(ctx context.Context, table string, err error) error {
	var ute *codec.UnsupportedTypeError
	var dke *jsonldb.DuplicateKeyError
	switch {
	case errors.Is(err, jsonldb.ErrMissingPrimaryKey):
		return apierrors.NewAPIError(http.StatusBadRequest, apierrors.ErrMissingPrimaryKey, "record has no primary key").WithDetail("table", table).Wrap(err)
	case errors.As(err, &dke):
		return apierrors.NewAPIError(http.StatusConflict, apierrors.ErrDuplicateKey, "primary key already exists").
			WithDetail("table", table).WithDetail("key", dke.Key).Wrap(err)
	case errors.As(err, &ute):
		return apierrors.NewAPIError(http.StatusBadRequest, apierrors.ErrUnsupportedValue, "record holds an unsupported value").WithDetail("table", table).Wrap(err)
	case errors.Is(err, jsonldb.ErrInvalidTableData):
		slog.ErrorContext(ctx, "Invalid table data", "table", table, "err", err)
		return apierrors.NewAPIError(http.StatusInternalServerError, apierrors.ErrInvalidTableData, "table file is invalid").WithDetail("table", table).Wrap(err)
	case errors.Is(err, jsonldb.ErrDecode):
		slog.ErrorContext(ctx, "Corrupt table file", "table", table, "err", err)
		return apierrors.NewAPIError(http.StatusInternalServerError, apierrors.ErrDecodeFailed, "table file cannot be decoded").WithDetail("table", table).Wrap(err)
	default:
		return apierrors.InternalWithError("storage error", err)
	}
}
