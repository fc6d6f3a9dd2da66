package jsonldb

import "log/slog"

// Logger receives a message before and after every read and write, with
// slog-style key/value pairs. The first pair is always "table", <name>.
//
// It must not panic nor block for long: it runs while the table is locked.
type Logger func(msg string, args ...any)

// Committer records a table file in version history after a successful
// write. See package history.
type Committer interface {
	Commit(path, msg string) error
}

// Option configures a Table.
type Option func(*options)

type options struct {
	logger             Logger
	committer          Committer
	allowDuplicateKeys bool
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Debug}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger replaces the default logger, which logs at debug level through
// log/slog.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l == nil {
			l = func(string, ...any) {}
		}
		o.logger = l
	}
}

// WithCommitter commits the table file after every successful write.
func WithCommitter(c Committer) Option {
	return func(o *options) {
		o.committer = c
	}
}

// WithAllowDuplicateKeys disables the primary key uniqueness check done by
// Insert and InsertMany.
func WithAllowDuplicateKeys(allow bool) Option {
	return func(o *options) {
		o.allowDuplicateKeys = allow
	}
}
