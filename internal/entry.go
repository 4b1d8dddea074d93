// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/gitmarks/internal/api"
	"github.com/starford/gitmarks/internal/index"
	"github.com/starford/gitmarks/internal/loader"
	"github.com/starford/gitmarks/internal/mcpserver"
	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/provider/gitrepo"
	"github.com/starford/gitmarks/internal/session"
	"github.com/starford/gitmarks/internal/sse"
	"github.com/starford/gitmarks/internal/watch"
)

// apiPrefix is where the REST API is mounted. Raw file URLs of entries
// point below it.
const apiPrefix = "/api"

// runtime is the state shared by every command.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	db     *index.DB
	svc    *session.Service
}

// start loads the configuration into a verified, reloaded session. The
// returned close function releases the index.
func start(ctx context.Context, opts []Option, events func(session.Event)) (*runtime, func(), error) {
	app := &application{logOut: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.Int("repos", len(cfg.Repos)),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize SQLite index and blob cache.
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init index: %w", err)
	}

	store := gitrepo.New(
		gitrepo.WithAuthor(cfg.Git.AuthorName, cfg.Git.AuthorEmail),
		gitrepo.WithMaxTreeEntries(cfg.Git.MaxTreeEntries),
		gitrepo.WithRawBase(apiPrefix+"/raw"),
		gitrepo.WithLogger(logger),
	)

	rt := &runtime{cfg: cfg, logger: logger, db: db}
	svc := session.New(store, cfg.Models(),
		session.WithIndex(db),
		session.WithLoaderOptions(
			loader.WithCache(db),
			loader.WithIgnore(cfg.IgnorePatterns),
			loader.WithConcurrency(cfg.Git.FetchConcurrency),
		),
		session.WithForcePush(cfg.Git.ForcePush),
		session.WithEvents(events),
		session.WithLogger(logger),
	)
	rt.svc = svc

	for _, r := range svc.VerifyRepos(ctx) {
		logger.Info("Repository verified",
			slog.String("repo", r.ID()),
			slog.Bool("enabled", r.Enabled),
			slog.String("status", r.Status.String()))
	}

	// Run initial reload.
	rep, err := svc.Reload(ctx)
	if err != nil {
		logger.Warn("initial reload failed", slog.String("error", err.Error()))
	} else {
		logger.Info("Entries loaded",
			slog.Int("entries", rep.Entries),
			slog.Int("failed", rep.Failed),
			slog.Int("staged_ops", rep.Staged))
	}

	return rt, func() { db.Close() }, nil
}

// Run starts the HTTP server, the SSE broker and the repository watcher.
func Run(ctx context.Context, opts ...Option) error {
	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, closeFn, err := start(ctx, opts, func(e session.Event) {
		switch e.Type {
		case session.EventEntryCreated, session.EventEntryUpdated, session.EventEntryDeleted:
			broker.PublishEntryEvent(e.Type, e.Key)
		default:
			broker.Publish(sse.Event{Type: e.Type, Data: e.Data})
		}
	})
	if err != nil {
		return err
	}
	defer closeFn()

	cfg, logger, svc := rt.cfg, rt.logger, rt.svc

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if svc.Status().LastReload.IsZero() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"loading"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount(apiPrefix, apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start repository watcher. Remote changes reload the session unless
	// edits are staged; those are never discarded silently.
	if cfg.Watch.Enabled {
		g.Go(func() error {
			err := watch.Watch(gCtx, svc.Repos(), cfg.Watch.Debounce, logger, func(repo models.Repo) {
				if svc.HasStaged() {
					broker.Publish(sse.Event{Type: sse.TypeRemoteChanged, Data: map[string]string{"repo": repo.ID()}})
					return
				}
				if _, err := svc.Reload(gCtx); err != nil {
					logger.Warn("reload after remote change failed",
						slog.String("repo", repo.ID()), slog.String("error", err.Error()))
				}
			})
			if err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr unless
// another output is configured.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	rt, closeFn, err := start(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	rt.logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.svc).ServeStdio()
}

// Status reloads every repository and writes the session summary to w.
func Status(ctx context.Context, w io.Writer, opts ...Option) error {
	rt, closeFn, err := start(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rt.svc.Status())
}

// Commit reloads every repository and commits what the reload staged,
// which is the rewritten link store when it was out of date. Results are
// written to w. Any failed repository makes Commit fail.
func Commit(ctx context.Context, w io.Writer, message string, opts ...Option) error {
	rt, closeFn, err := start(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	results, err := rt.svc.Commit(ctx, message)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("commit: %d of %d repositories failed", failed, len(results))
	}
	return nil
}

// ClearCache empties the blob cache so the next load reads every file from
// the repositories.
func ClearCache(opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	db, err := index.Open(app.config.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()
	if err := db.ClearBlobs(); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}
