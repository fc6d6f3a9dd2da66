package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"

	apierrors "github.com/maruel/recdb/internal/errors"
)

// maxRequestBody limits the size of any single HTTP request body.
const maxRequestBody = 10 << 20

// Wrap wraps a handler function to work as an http.Handler.
// The function must have signature: func(context.Context, In) (*Out, error)
// where In can be unmarshalled from JSON and Out is a struct.
// Path parameters are extracted into string fields tagged `path:"name"` and
// query parameters into string fields tagged `query:"name"`.
//
// Example:
//
//	type GetRecordRequest struct {
//	    Table string `path:"table"`
//	    ID    string `path:"id"`
//	}
//
//	func (h *TableHandler) GetRecord(ctx context.Context, req GetRecordRequest) (*RecordResponse, error)
func Wrap[In any, Out any](fn func(context.Context, In) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err2 := r.Body.Close(); err == nil {
			err = err2
		}
		if err != nil {
			slog.WarnContext(ctx, "Failed to read request body", "err", err)
			writeError(ctx, w, apierrors.BadRequest("Failed to read request body").Wrap(err))
			return
		}
		var input In
		if len(bytes.TrimSpace(body)) > 0 {
			d := json.NewDecoder(bytes.NewReader(body))
			d.DisallowUnknownFields()
			if err := d.Decode(&input); err != nil {
				slog.WarnContext(ctx, "Failed to decode request body", "err", err)
				writeError(ctx, w, apierrors.BadRequest("Invalid request body").Wrap(err))
				return
			}
		}

		populateTaggedParams(&input, "path", r.PathValue)
		query := r.URL.Query()
		populateTaggedParams(&input, "query", query.Get)

		output, err := fn(ctx, input)
		if err != nil {
			writeError(ctx, w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(output); err != nil {
			slog.ErrorContext(ctx, "Failed to encode response", "err", err)
		}
	})
}

// populateTaggedParams sets the string fields of the struct pointed to by
// input whose tag names a non-empty value returned by get.
func populateTaggedParams(input any, tag string, get func(string) string) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer {
		return
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Struct {
		return
	}
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		name := field.Tag.Get(tag)
		if name == "" || field.Type.Kind() != reflect.String {
			continue
		}
		if v := get(name); v != "" {
			elem.Field(i).SetString(v)
		}
	}
}

// writeError writes err as a JSON error response. Errors that do not carry
// a status are reported as 500.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	code := apierrors.ErrInternal
	var details map[string]any
	var ews apierrors.ErrorWithStatus
	if errors.As(err, &ews) {
		statusCode = ews.StatusCode()
		code = ews.Code()
		details = ews.Details()
	}
	if statusCode >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", statusCode, "code", code)
	} else {
		slog.DebugContext(ctx, "Handler error", "err", err, "statusCode", statusCode, "code", code)
	}
	writeErrorResponseWithCode(w, statusCode, code, err.Error(), details)
}

// writeErrorResponseWithCode writes a detailed error response as JSON with code and details.
func writeErrorResponseWithCode(w http.ResponseWriter, statusCode int, code apierrors.ErrorCode, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if len(details) > 0 {
		response["details"] = details
	}
	_ = json.NewEncoder(w).Encode(response)
}
