package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const readHeaderTimeout = 10 * time.Second

// run starts the worker, the scanner and the HTTP server, then blocks until
// ctx is cancelled or the server fails. Shutdown stops intake first: HTTP,
// then the scanner, then the worker drains in-flight jobs.
func (app *application) run(ctx context.Context) error {
	if app.worker != nil {
		if err := app.worker.Start(); err != nil {
			return err
		}
	}
	if app.scanner != nil {
		if err := app.scanner.Start(); err != nil {
			app.stopWorker()
			return fmt.Errorf("failed to start overdue scanner: %w", err)
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", slog.Int("port", app.config.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("shutting down server")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server failed: %w", err)
			app.logger.Error("server failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		runErr = errors.Join(runErr, fmt.Errorf("server shutdown failed: %w", err))
	}

	if app.scanner != nil {
		if err := app.scanner.Stop(shutdownCtx); err != nil {
			app.logger.Warn("overdue scanner did not stop in time", slog.String("error", err.Error()))
		}
	}
	app.stopWorker()

	app.logger.Info("server shutdown completed")
	return runErr
}

func (app *application) stopWorker() {
	if app.worker != nil {
		app.worker.Shutdown()
	}
}
