// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/loom/internal/api"
	"github.com/starford/loom/internal/auth"
	"github.com/starford/loom/internal/codec"
	"github.com/starford/loom/internal/mcpserver"
	"github.com/starford/loom/internal/objectservice"
	"github.com/starford/loom/internal/remote"
	"github.com/starford/loom/internal/sse"
	"github.com/starford/loom/internal/store"
	"github.com/starford/loom/internal/syncengine"
)

// runtime is the wired object graph shared by every command.
type runtime struct {
	db       *store.DB
	provider auth.Provider
	engine   *syncengine.Engine
	svc      *objectservice.Service
}

func (a *application) init(opts []Option) (*Config, *slog.Logger, error) {
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	if a.version == "" {
		a.version = "dev"
	}
	out := a.logOutput
	if out == nil {
		out = os.Stdout
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return a.config, logger, nil
}

func newRuntime(cfg *Config, logger *slog.Logger, notifier syncengine.Notifier) (*runtime, error) {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	provider, err := auth.New(cfg.Auth.Options())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init auth: %w", err)
	}

	c := codec.New(db, codec.Options{
		DocumentURL: cfg.Remote.DocumentURL,
		Window:      cfg.Sync.ContextWindow,
	})
	client := remote.New(provider, c, remote.Options{
		BaseURL:    cfg.Remote.BaseURL,
		RootFolder: cfg.Remote.RootFolder,
		AssetURL:   cfg.Remote.AssetURL,
		HTTPClient: &http.Client{Timeout: cfg.Remote.Timeout},
		MaxRetries: cfg.Remote.MaxRetries,
		Logger:     logger.With(slog.String("component", "remote")),
	})
	engine := syncengine.New(db, client, c, syncengine.Options{
		Offline:              provider.Offline,
		ResyncErrorThreshold: cfg.Sync.ResyncErrorThreshold,
		Window:               cfg.Sync.ContextWindow,
		Notifier:             notifier,
		Logger:               logger.With(slog.String("component", "sync")),
	})

	return &runtime{
		db:       db,
		provider: provider,
		engine:   engine,
		svc:      objectservice.NewService(db, engine),
	}, nil
}

// watchToken keeps a file-backed token fresh until ctx is done. Without a
// watcher the token is still re-read whenever the provider rejects it.
func (rt *runtime) watchToken(ctx context.Context, logger *slog.Logger) error {
	f, ok := rt.provider.(*auth.File)
	if !ok {
		return nil
	}
	if err := f.Watch(ctx, logger); err != nil {
		logger.Warn("auth: token watcher stopped", slog.String("error", err.Error()))
	}
	return nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	cfg, logger, err := app.init(opts)
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("remote_url", cfg.Remote.BaseURL),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := newRuntime(cfg, logger, broker)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	apiRouter := api.NewRouter(rt.svc, cfg.API.AuthEnabled(), cfg.API.Token, broker)

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
		if st := rt.engine.State(); st != syncengine.StateReady && !rt.engine.Offline() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, `{"status":%q}`, st.String())
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.watchToken(gCtx, logger)
	})

	// Initial sync runs beside the server; failures leave the engine to
	// bootstrap lazily on the first save.
	g.Go(func() error {
		if err := rt.engine.Start(gCtx); err != nil {
			logger.Warn("initial sync failed", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

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
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so background goroutines stop once the
// server has shut down.
var errShutdown = errors.New("shutdown")

// RunSync performs one sync pass and exits. full wipes the local cache and
// re-imports every remote document.
func RunSync(ctx context.Context, full bool, opts ...Option) error {
	app := &application{}
	cfg, logger, err := app.init(opts)
	if err != nil {
		return err
	}
	if cfg.Auth.Offline() {
		return fmt.Errorf("sync requires a remote: auth.mode is %q", cfg.Auth.Mode)
	}

	rt, err := newRuntime(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	if full {
		if err := rt.engine.ClearCache(ctx); err != nil {
			return fmt.Errorf("resync: %w", err)
		}
	} else {
		if err := rt.engine.Bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		rep, err := rt.engine.IncrementalSync(ctx)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		logger.Info("Sync finished",
			slog.Int("imported", rep.Imported),
			slog.Int("deleted", rep.Deleted),
			slog.Int("failed", rep.Failed),
			slog.String("cursor", rep.Cursor))
	}

	st, err := rt.engine.Status(ctx)
	if err != nil {
		return err
	}
	logger.Info("Sync status",
		slog.String("state", st.State),
		slog.String("cursor", st.Cursor),
		slog.Time("last_sync", st.LastSync))
	return nil
}

// RunMCP serves the MCP tools over stdio until stdin closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{logOutput: os.Stderr}
	cfg, logger, err := app.init(opts)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.watchToken(gCtx, logger)
	})
	g.Go(func() error {
		if err := rt.engine.Start(gCtx); err != nil {
			logger.Warn("initial sync failed", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting MCP server on stdio")
		if err := mcpserver.New(rt.svc, app.version).ServeStdio(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}
