// Command server runs the oneVisitor API: account management, site
// administration, tracker ingest, reporting and the background maintenance
// jobs, all in one binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/onevisitor/onevisitor/internal/app"
	"github.com/onevisitor/onevisitor/internal/config"
	"github.com/onevisitor/onevisitor/internal/database"
	"github.com/onevisitor/onevisitor/internal/httpapi"
	"github.com/onevisitor/onevisitor/internal/logging"
	"github.com/onevisitor/onevisitor/internal/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(logging.LoggingConfig(cfg.Logging)).WithComponent("server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.WaitForReady(ctx, db, cfg.Database, log); err != nil {
		return err
	}
	if err := database.Migrate(db, log); err != nil {
		return err
	}

	store := postgres.New(db)
	application, err := app.New(cfg, app.Stores{
		Users:     store,
		Sites:     store,
		Visitors:  store,
		Analytics: store,
	}, log)
	if err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}

	handler := httpapi.NewHandler(application, func(ctx context.Context) error {
		return db.PingContext(ctx)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown incomplete")
	}
	log.Info("bye")
	return nil
}
