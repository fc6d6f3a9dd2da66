package main

import (
	"fmt"
	"io"

	"github.com/maruel/recdb/internal/config"
	"github.com/maruel/recdb/internal/history"
	"github.com/maruel/recdb/internal/jsonldb"
	"github.com/maruel/recdb/internal/users"
)

// app holds what commands share: the configuration and one registry, so
// every command sees a single handle per table file.
type app struct {
	cfg    *config.Config
	reg    *jsonldb.Registry
	hist   *history.Repo // nil when history is disabled
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newApp(cfg *config.Config, stdin io.Reader, stdout, stderr io.Writer) (*app, error) {
	a := &app{cfg: cfg, stdin: stdin, stdout: stdout, stderr: stderr}
	var opts []jsonldb.Option
	if cfg.History.Enabled {
		h, err := history.Open(cfg.DataDir, cfg.History.AuthorName, cfg.History.AuthorEmail)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		a.hist = h
		opts = append(opts, jsonldb.WithCommitter(h))
	}
	a.reg = jsonldb.NewRegistry(opts...)
	return a, nil
}

// table opens the configured table name.
func (a *app) table(name string) (*jsonldb.Table, error) {
	path, err := a.cfg.TablePath(name)
	if err != nil {
		return nil, err
	}
	t := a.cfg.Tables[name]
	return a.reg.Open(path, t.PrimaryKey, nil, jsonldb.WithAllowDuplicateKeys(t.AllowDuplicateKeys))
}

// tables opens every configured table.
func (a *app) tables() (map[string]*jsonldb.Table, error) {
	out := make(map[string]*jsonldb.Table, len(a.cfg.Tables))
	for _, name := range a.cfg.TableNames() {
		t, err := a.table(name)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

// servedTables opens every configured table except the users table, whose
// records hold password hashes.
func (a *app) servedTables() (map[string]*jsonldb.Table, error) {
	tables, err := a.tables()
	if err != nil {
		return nil, err
	}
	delete(tables, config.UsersTable)
	return tables, nil
}

// users opens the users repository on the configured users table.
func (a *app) users() (*users.Repo, error) {
	path, err := a.cfg.TablePath(config.UsersTable)
	if err != nil {
		return nil, err
	}
	return users.New(a.reg, path)
}
