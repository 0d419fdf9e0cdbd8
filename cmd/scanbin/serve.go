package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/scanbin/internal/api"
	"github.com/erazemk/scanbin/internal/auth"
	"github.com/erazemk/scanbin/internal/clock"
	"github.com/erazemk/scanbin/internal/store"
)

var (
	addrFlag  string
	adminUser string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. If the database does not exist yet it is created
together with an admin account whose password is printed once.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&addrFlag, "addr", "a", "", "listen address (overrides config)")
	serveCmd.Flags().StringVarP(&adminUser, "user", "u", "admin", "admin username on first run")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addrFlag != "" {
		cfg.Addr = addrFlag
	}

	closeLog, err := setupLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Auto-init on first run.
	if _, err := os.Stat(cfg.DB); errors.Is(err, os.ErrNotExist) {
		password, err := initDatabase(ctx, cfg.DB, adminUser)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		printInitResult(cfg.DB, adminUser, password)
		fmt.Println()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Load JWT secret from database (auto-generated on first run).
	secret, err := store.GetJWTSecret(ctx, a.db)
	if err != nil {
		return fmt.Errorf("loading JWT secret: %w", err)
	}

	handler := api.NewRouter(api.Deps{
		DB:                a.db,
		Tree:              a.tree,
		Scans:             a.scans,
		Tokens:            auth.NewIssuer(secret, auth.DefaultTokenTTL, clock.Real{}),
		MaxPhotoDimension: cfg.Photo.MaxDimension,
		CORSOrigins:       cfg.HTTP.CORSOrigins,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", cfg.Addr, "delete_policy", a.tree.DeletePolicy())
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}

	slog.Info("server stopped, closing database")
	return nil
}
