package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/clearance/api"
	"github.com/use-agent/clearance/browser"
	"github.com/use-agent/clearance/cache"
	"github.com/use-agent/clearance/engine"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen host (default CLEARANCE_HOST).")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default CLEARANCE_PORT).")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	slog.Info("clearance starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"auth", cfg.Auth.Enabled,
	)
	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		slog.Warn("auth enabled without CLEARANCE_API_KEYS, the API is open")
	}

	// ── 1. Cascade session (browser launched lazily) ───────────────
	factory := browser.NewFactory(cfg.Browser)
	sess := engine.NewSessionFromConfig(cfg, factory)
	defer sess.Close()
	slog.Info("strategy cascade ready", "strategies", sess.Strategies())

	// ── 2. Cache + router ───────────────────────────────────────────
	cc := cache.New(cfg.Cache.MaxEntries)
	router := api.NewRouter(sess, factory, cfg, cc, time.Now())

	// ── 3. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// ── 4. Graceful shutdown ────────────────────────────────────────
	select {
	case err := <-errc:
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// sess.Close() runs via defer and closes a running browser.
	slog.Info("clearance stopped")
	return nil
}
