package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/config"
	"github.com/haukened/scribe/internal/httpx"
	"github.com/haukened/scribe/internal/janitor"
	"github.com/haukened/scribe/internal/metrics"
	"github.com/haukened/scribe/internal/store"
	"github.com/haukened/scribe/internal/store/filesystem"
	"github.com/haukened/scribe/internal/store/sqlite"
)

const shutdownTimeout = 15 * time.Second

// realClock implements app.Clock using time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scribe API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// ensureDataDir creates the data directory and, for the filesystem backend,
// its fragment root. It returns the fragment root ("" for sqlite).
func ensureDataDir(cfg *config.Config) (string, error) {
	st, err := os.Stat(cfg.DataDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return "", fmt.Errorf("create data directory: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("stat data directory: %w", err)
	case !st.IsDir():
		return "", fmt.Errorf("data path %s is not a directory", cfg.DataDir)
	}
	if cfg.FragmentBackend != "filesystem" {
		return "", nil
	}
	dir := cfg.FragmentDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create fragment directory: %w", err)
	}
	return dir, nil
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, *sqlite.Index, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping sqlite: %w", err)
	}
	idx, err := sqlite.New(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return db, idx, nil
}

func newFragments(cfg *config.Config, db *sql.DB, fragDir string) (store.Fragments, error) {
	if cfg.FragmentBackend == "filesystem" {
		fs, err := filesystem.New(fragDir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	frags, err := sqlite.NewFragments(db)
	if err != nil {
		return nil, err
	}
	return frags, nil
}

func buildService(st app.AttachmentStore, cfg *config.Config, rec app.Recorder) *app.Service {
	svc := app.NewService(st, realClock{}, int64(cfg.MaxAttachmentBytes), int(cfg.ChunkSize), cfg.AllowedExtensions)
	svc.Metrics = rec
	svc.Logger = slog.Default().With("component", "service")
	return svc
}

func buildHandler(cfg *config.Config, svc httpx.ServicePort, db *sql.DB, fragDir string, mgr *metrics.Manager) http.Handler {
	readiness := func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if fragDir != "" {
			if _, err := os.ReadDir(fragDir); err != nil {
				return err
			}
		}
		return nil
	}
	h := httpx.New(svc, int64(cfg.MaxRequestBytes), int(cfg.ChunkSize), readiness)
	h.Logger = slog.Default().With("component", "http")
	if mgr != nil {
		reg := metrics.NewRegistry(metrics.NewCollector(mgr, h.Logger))
		h.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
		h.MetricsJSON = metrics.Handler(mgr, cfg.MetricsToken)
	}
	return h.Router()
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	// No WriteTimeout: downloads of large attachments are streamed.
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ChunkTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// serve runs the API until ctx is cancelled, then drains in-flight requests
// and stops the background workers.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default().With("component", "server")

	fragDir, err := ensureDataDir(cfg)
	if err != nil {
		return err
	}
	logger.Info("opening database", "dir", filepath.Clean(cfg.DataDir), "backend", cfg.FragmentBackend)
	db, idx, err := openDatabase(ctx, cfg.SQLiteDSN())
	if err != nil {
		return err
	}
	defer db.Close()
	frags, err := newFragments(cfg, db, fragDir)
	if err != nil {
		return fmt.Errorf("init fragment backend: %w", err)
	}

	mgr := metrics.New(db, metrics.Config{FlushInterval: cfg.MetricsFlushInterval, Logger: logger})
	if err := mgr.InitSchema(ctx); err != nil {
		return fmt.Errorf("init metrics schema: %w", err)
	}
	st := store.New(idx, frags, realClock{})
	st.Logger = slog.Default().With("component", "store")
	svc := buildService(st, cfg, mgr)
	jan := janitor.New(st, janitor.Config{Interval: cfg.JanitorInterval, Logger: logger, Metrics: mgr})

	bg, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()
	mgr.Start(bg)
	// runs left behind by a crash between the index and fragment deletes
	jan.RunCycle(ctx)
	jan.Start(bg)

	srv := newServer(cfg, buildHandler(cfg, svc, db, fragDir, mgr))
	logger.Info("starting server", "addr", cfg.Addr, "pid", os.Getpid(), "chunk_size", int64(cfg.ChunkSize))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	jan.Stop()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	mgr.Stop(stopCtx)
	return err
}
