package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"github.com/datallboy/gobili/internal/api"
	"github.com/datallboy/gobili/internal/engine"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download queue behind an HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (default from config port)")

	return cmd
}

func runServe(port string) error {
	svc, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer svc.app.Close()

	log := svc.app.Logger
	if port == "" {
		port = svc.app.Config.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Server mode: pick up whatever was left unfinished by the last run
	manager := engine.NewQueueManager(svc.app, true)

	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		manager.Start(ctx)
	}()

	e := echo.New()
	api.RegisterRoutes(e, svc.app, manager)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			<-queueDone
			return err
		}
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown: %v", err)
	}

	// The running job sees the cancelled context and records itself as failed;
	// its partial files are resumed on the next start
	<-queueDone
	return nil
}
