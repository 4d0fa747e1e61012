/*
main.go - Reference leave backend entry point

PURPOSE:
  Runs the leave REST backend over SQLite for local development. It can
  also seed a holiday catalog and mint development tokens.

COMMAND-LINE FLAGS:
  -config     YAML config file (optional)
  -holidays   YAML holiday catalog to upsert at startup (optional)
  -token      print a token for "user:role:department:location" and exit

EXAMPLES:
  # Serve with an in-memory database
  PORTAL_JWT_SECRET=... PORTAL_DB_PATH=:memory: ./backend

  # Seed holidays, then serve
  ./backend -config=./config.yaml -holidays=./holidays.yaml

  # Token for a manager in engineering, New York office
  ./backend -config=./config.yaml -token=bob:manager:eng:nyc
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
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/warp/leave-portal/backend"
	"github.com/warp/leave-portal/config"
	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/logging"
	"github.com/warp/leave-portal/session"
	"github.com/warp/leave-portal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	holidaysPath := flag.String("holidays", "", "YAML holiday catalog to seed")
	token := flag.String("token", "", `print a dev token for "user:role:department:location" and exit`)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *token != "" {
		tok, err := devToken(cfg, *token)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *holidaysPath, logger); err != nil {
		logger.Fatal("backend stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, holidaysPath string, logger *zap.Logger) error {
	if cfg.Store.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if holidaysPath != "" {
		f, err := os.Open(holidaysPath)
		if err != nil {
			return fmt.Errorf("open holiday catalog: %w", err)
		}
		holidays, err := backend.ParseHolidaySeed(f)
		f.Close()
		if err != nil {
			return err
		}
		if err := backend.SeedHolidays(context.Background(), store, holidays); err != nil {
			return err
		}
		logger.Info("holidays seeded", zap.Int("count", len(holidays)), zap.String("file", holidaysPath))
	}

	handler := backend.NewHandler(store, logger, backend.WithAnnualAllotment(cfg.Leave.AnnualAllotment))
	server := &http.Server{
		Addr:         cfg.Backend.Addr,
		Handler:      backend.NewRouter(handler, cfg.Auth.JWTSecret),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("backend starting", zap.String("addr", server.Addr), zap.String("db", cfg.Store.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}

func devToken(cfg *config.Config, arg string) (string, error) {
	parts := strings.Split(arg, ":")
	if len(parts) != 4 || parts[0] == "" {
		return "", fmt.Errorf("token arg must be user:role:department:location, got %q", arg)
	}
	role := leave.ParseRole(parts[1])
	if role == leave.RoleUnknown {
		return "", fmt.Errorf("unknown role %q", parts[1])
	}
	return session.Issue(cfg.Auth.JWTSecret, session.Session{
		UserID:          parts[0],
		Name:            parts[0],
		Role:            role,
		DepartmentID:    parts[2],
		LocationID:      parts[3],
		AnnualAllotment: cfg.Leave.AnnualAllotment,
	}, cfg.Auth.TokenTTL)
}
