package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/petrijr/taskgraph"
	"github.com/petrijr/taskgraph/internal/httpapi"
	"github.com/petrijr/taskgraph/pkg/worker"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control surface and run queued workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.HTTP.Addr = addr
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	b, err := openBackend(ctx, cfg, taskgraph.BuiltinExecutor(), engineOptions(a)...)
	if err != nil {
		return err
	}
	defer b.Close()

	w := worker.NewWithConfig(b.Engine, b.Queue, worker.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
		Backoff:     cfg.Worker.Backoff,
		Logger:      logger,
	})
	if n, err := w.EnqueueRecovered(ctx); err != nil {
		logger.Warn("recovery failed", "error", err)
	} else if n > 0 {
		logger.Info("recovered abandoned runs", "count", n)
	}

	srv := httpapi.NewServer(b.Engine, logger)
	if cfg.Worker.Count > 0 {
		srv.Submit = func(ctx context.Context, runID string) error {
			return w.Submit(ctx, runID, time.Time{})
		}
	}
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Echo(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Worker.Count; i++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				if _, err := w.ProcessOne(gctx); err != nil && gctx.Err() == nil {
					logger.Warn("worker task failed", "error", err)
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr, "store", cfg.Store.Driver, "workers", cfg.Worker.Count)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
