// Package server wires the sample identity server: it opens the configured
// document backend, mounts the HTTP surface, and handles graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/identikit/identikit/internal/docstore"
	"github.com/identikit/identikit/internal/logging"
	"github.com/identikit/identikit/internal/server/config"
	"github.com/identikit/identikit/internal/server/httpapi"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	openSession func() docstore.Session
	closeStore  func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewJSONLogger()

	app := &App{config: cfg, logger: logger}

	switch cfg.Backend {
	case "postgres":
		s, err := docstore.OpenPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.openSession = func() docstore.Session { return s.OpenSession() }
		app.closeStore = s.Close
	case "sqlite":
		s, err := docstore.OpenSQLite(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.openSession = func() docstore.Session { return s.OpenSession() }
		app.closeStore = s.Close
	case "memory":
		s := docstore.NewMemoryStore()
		app.openSession = func() docstore.Session { return s.OpenSession() }
		app.closeStore = func() error { return nil }
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	return app, nil
}

func (app *App) initSignalHandler(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancel()
	}()
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.initSignalHandler(cancel)

	handler := httpapi.NewHandler(app.openSession, app.logger, app.config)
	srv := &http.Server{
		Addr:    app.config.EndpointAddr,
		Handler: handler.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "starting identity server", "addr", app.config.EndpointAddr, "backend", app.config.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	app.logger.Info(ctx, "shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return app.closeStore()
}
