package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/recdb/internal/server"
	"github.com/maruel/recdb/internal/server/ratelimit"
)

func cmdServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	httpAddr := fs.String("http", a.cfg.HTTP.Addr, "Address to listen on (e.g., localhost:8080, :8080, 0.0.0.0:8080)")
	watchExe := fs.Bool("watch-exe", false, "Exit when the executable is modified")
	if err := parseArgs(a, fs, args, 0, 0); err != nil {
		return err
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	// Normalize addr: ":8080" becomes "localhost:8080"
	addr := *httpAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	tables, err := a.servedTables()
	if err != nil {
		return err
	}
	for name, t := range tables {
		if err := t.Watch(ctx, func() {
			slog.DebugContext(ctx, "Table file changed", "table", name)
		}); err != nil {
			return err
		}
	}

	buildVersion, _, _, _ := getBuildInfo()
	cfg := &server.Config{Tables: tables, Version: buildVersion}
	if a.cfg.HTTP.Auth {
		repo, err := a.users()
		if err != nil {
			return err
		}
		cfg.Auth = repo
	}
	if rpm := a.cfg.HTTP.RequestsPerMinute; rpm > 0 {
		burst := a.cfg.HTTP.Burst
		if burst == 0 {
			burst = rpm
		}
		cfg.Limiter = ratelimit.NewLimiter(rpm, time.Minute, burst)
		defer cfg.Limiter.Close()
	}

	if *watchExe {
		if err := watchExecutable(ctx, stop); err != nil {
			return fmt.Errorf("failed to watch executable: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(cfg),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "tables", len(tables), "auth", cfg.Auth != nil, "version", buildVersion)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

// watchExecutable calls stop when the running binary is rebuilt.
func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.InfoContext(ctx, "Executable modified, initiating shutdown")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}
