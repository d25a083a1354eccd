package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/packreg/packreg/internal/api"
	"github.com/packreg/packreg/internal/index"
	"github.com/packreg/packreg/internal/mail"
	"github.com/packreg/packreg/internal/registry"
	"github.com/packreg/packreg/internal/storage"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", ":8080", "address to listen on")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, db, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	for _, dir := range []string{cfg.TmpDir, cfg.DownloadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	var mailer mail.Mailer
	if cfg.SMTP.Addr != "" {
		mailer = &mail.SMTPMailer{Addr: cfg.SMTP.Addr, From: cfg.SMTP.From}
	} else {
		mailer = &mail.LogMailer{Logger: logger}
	}

	svc := registry.New(db, index.NewSQLIndex(db), mailer, logger)
	files := storage.New(cfg.TmpDir, cfg.DownloadDir, logger)
	router := api.New(svc, files, logger).Router()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("registry server ready",
			"listen", cfg.Listen,
			"database", cfg.Database.Type,
			"downloads", cfg.DownloadDir,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("registry server stopped")
	return nil
}
