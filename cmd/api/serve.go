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
	"go.uber.org/zap"

	"helppages/api/internal/app"
	"helppages/api/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API and published sites",
	Long: `Run the HTTP server.

Requests under /api are the editing API. Requests to <slug>.<root domain>
are served from the published doc with that slug.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	rt, err := build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	jobs := scheduler.New(rt.service, logger.Named("scheduler"))
	if err := jobs.Start(); err != nil {
		return err
	}

	httpServer := app.NewHTTPServer(rt.service, app.ServerOptions{
		CORSOrigin: rt.cfg.CORSOrigin,
		RootDomain: rt.cfg.RootDomain,
		Site:       rt.site,
		Metrics:    rt.metrics,
		Logger:     logger.Named("http"),
	})
	server := &http.Server{
		Addr:              rt.cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("helppages listening", zap.String("addr", rt.cfg.Addr), zap.String("root_domain", rt.cfg.RootDomain))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			jobs.Stop(ctx)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	jobs.Stop(shutdownCtx)
	return nil
}
