package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"escrow-backend/middleware"
	scmiddleware "escrow-backend/middleware/escrow"
)

const metricsRefreshInterval = 15 * time.Second

var serveFlags struct {
	rateLimit int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the escrow HTTP API",
	Long: `Serves the task API under /api/escrow, the health check on /healthz and,
when enabled, Prometheus metrics on /metrics. Stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveFlags.rateLimit, "rate-limit", 0, "Requests per minute per client host (0 disables)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler(serveFlags.rateLimit),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("escrow API listening on %s", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		log.Printf("shutting down escrow API")
		return srv.Shutdown(shutdownCtx)
	})
	if a.recorder != nil {
		g.Go(func() error {
			ticker := time.NewTicker(metricsRefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gCtx.Done():
					return nil
				case <-ticker.C:
					a.recorder.Refresh(gCtx, a.ledger)
				}
			}
		})
	}
	return g.Wait()
}

// handler builds the routed, middleware-wrapped HTTP handler.
func (a *app) handler(rateLimit int) http.Handler {
	mux := http.NewServeMux()
	scmiddleware.NewServer(a.ledger, a.feed, a.journal).RegisterRoutes(mux)
	if a.recorder != nil {
		mux.Handle("/metrics", a.recorder.Handler())
	}

	// Authenticate runs before Logging so request lines carry the caller.
	mws := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.SecurityHeaders,
		middleware.CORS,
		middleware.Authenticate(a.keys),
		middleware.Logging,
		middleware.ValidateFilename,
	}
	if rateLimit > 0 {
		mws = append(mws, middleware.RateLimit(rateLimit, time.Minute))
	}
	mws = append(mws,
		middleware.Timeout(a.cfg.RequestTimeout),
		middleware.ContentType,
	)
	return middleware.Chain(mux, mws...)
}
