// Package main is the entry point for recdb.
//
// recdb stores records in JSON Lines files, one file per table, and exposes
// them on the command line and over a JSON HTTP API. Configuration is read
// from recdb.yaml and CLI flags; flags explicitly set win over the file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/recdb/internal/config"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "recdb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

// run parses the global flags, loads the configuration and runs the command
// named by the first positional argument.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("recdb", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.FileName, "Configuration file")
	dataDir := fs.String("data-dir", "./data", "Data directory, overrides data_dir")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error), overrides log_level")
	version := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: recdb [flags] <command> [args]\n\nCommands:\n")
		for _, c := range commands {
			fmt.Fprintf(stderr, "  %-36s %s\n", c.name+" "+c.args, c.help)
		}
		fmt.Fprintf(stderr, "\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *version {
		printVersion(stdout)
		return nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	ll := &slog.LevelVar{}
	slog.SetDefault(slog.New(newLogHandler(stderr, ll)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if set["data-dir"] {
		cfg.DataDir = *dataDir
	}
	if set["log-level"] {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := setLevel(ll, cfg.LogLevel); err != nil {
		return err
	}

	name := fs.Arg(0)
	c := lookupCommand(name)
	if c == nil {
		fs.Usage()
		return fmt.Errorf("unknown command %q", name)
	}
	a, err := newApp(cfg, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	return c.run(ctx, a, fs.Args()[1:])
}

// newLogHandler returns a tint handler writing to w. Colors are only used
// when w is a terminal.
func newLogHandler(w io.Writer, ll *slog.LevelVar) slog.Handler {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return tint.NewHandler(w, &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			if a.Key == "ip" {
				if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
					return slog.Attr{}
				}
			}
			if isZeroAttr(a) {
				return slog.Attr{}
			}
			return a
		},
	})
}

// isZeroAttr reports whether the attribute holds a zero value not worth
// logging.
func isZeroAttr(a slog.Attr) bool {
	switch t := a.Value.Any().(type) {
	case string:
		return t == ""
	case bool:
		return !t
	case uint64:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	case time.Time:
		return t.IsZero()
	case time.Duration:
		return t == 0
	case nil:
		return true
	}
	return false
}

func setLevel(ll *slog.LevelVar, level string) error {
	switch level {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
		ll.Set(slog.LevelInfo)
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", level)
	}
	return nil
}
