// Package server exposes tables over a JSON HTTP API.
package server

import (
	"net/http"

	apierrors "github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/jsonldb"
	"github.com/maruel/recdb/internal/server/handlers"
	"github.com/maruel/recdb/internal/server/ratelimit"
)

// Config holds the dependencies of the router.
type Config struct {
	// Tables maps the name used in URLs to its table.
	Tables map[string]*jsonldb.Table

	// Auth enables HTTP Basic authentication when non-nil. When it is backed
	// by a table, like users.Repo, that table is never served.
	Auth Authenticator

	// Limiter enables per-client rate limiting when non-nil.
	Limiter *ratelimit.Limiter

	Version string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *Config) http.Handler {
	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg.Version)
	tableHandler := handlers.NewTableHandler(servedTables(cfg))

	mux.Handle("GET /api/health", Wrap(healthHandler.Health))

	mux.Handle("GET /api/tables", Wrap(tableHandler.ListTables))
	mux.Handle("GET /api/tables/{table}/records", Wrap(tableHandler.ListRecords))
	mux.Handle("POST /api/tables/{table}/records", Wrap(tableHandler.CreateRecord))
	mux.Handle("DELETE /api/tables/{table}/records", Wrap(tableHandler.TruncateTable))
	mux.Handle("GET /api/tables/{table}/records/{id}", Wrap(tableHandler.GetRecord))
	mux.Handle("PATCH /api/tables/{table}/records/{id}", Wrap(tableHandler.UpdateRecord))
	mux.Handle("DELETE /api/tables/{table}/records/{id}", Wrap(tableHandler.DeleteRecord))

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), w, apierrors.NotFound("endpoint "+r.Method+" "+r.URL.Path))
	})

	var h http.Handler = mux
	if cfg.Auth != nil {
		h = BasicAuth(cfg.Auth)(h)
	}
	if cfg.Limiter != nil {
		reject := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(r.Context(), w, apierrors.TooManyRequests())
		})
		h = ratelimit.Middleware(cfg.Limiter, clientIP, reject)(h)
	}
	return LogRequests(h)
}

// tableBacked is implemented by authenticators storing credentials in a
// table.
type tableBacked interface {
	Table() *jsonldb.Table
}

// servedTables returns cfg.Tables minus the table holding credentials.
func servedTables(cfg *Config) map[string]*jsonldb.Table {
	tb, ok := cfg.Auth.(tableBacked)
	if !ok {
		return cfg.Tables
	}
	private := tb.Table()
	out := make(map[string]*jsonldb.Table, len(cfg.Tables))
	for name, t := range cfg.Tables {
		if t == private || t.Path() == private.Path() {
			continue
		}
		out[name] = t
	}
	return out
}
