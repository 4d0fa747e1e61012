/*
main.go - Portal entry point

PURPOSE:
  Starts the browser-facing leave portal. Each signed-in user's calls are
  forwarded to the leave backend with their own bearer token.

STARTUP SEQUENCE:
  1. Parse flags, load config
  2. Build the zap logger
  3. Create the backend client and the cached holiday source
  4. Configure the router
  5. Serve with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional; see config package for env overrides)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM stop accepting connections and wait up to
  server.shutdown_timeout for active requests.

EXAMPLES:
  PORTAL_JWT_SECRET=... ./server -config=./config.yaml
  PORTAL_JWT_SECRET=... PORTAL_BACKEND_URL=http://leave-api:8081 ./server
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-portal/api"
	"github.com/warp/leave-portal/calendar"
	"github.com/warp/leave-portal/config"
	"github.com/warp/leave-portal/logging"
	"github.com/warp/leave-portal/session"
	"github.com/warp/leave-portal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("portal stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	client, err := transport.New(transport.Config{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
	}, session.ContextTokenSource{}, logger)
	if err != nil {
		return err
	}

	handler := api.NewHandler(
		client,
		calendar.NewCachedHolidaySource(client, cfg.Leave.HolidayCacheTTL),
		api.Config{
			AnnualAllotment: cfg.Leave.AnnualAllotment,
			SessionIdleTTL:  cfg.Leave.SessionIdleTTL,
		},
		logger,
	)
	router := api.NewRouter(handler, api.RouterOptions{
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return serve(server, cfg.Server.ShutdownTimeout, logger.With(
		zap.String("component", "portal"),
		zap.String("backend_url", cfg.Backend.URL),
	))
}

func serve(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
