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

	"regions-server/internal/app"
	"regions-server/internal/auth"
	"regions-server/internal/middleware"
	regionHandlers "regions-server/internal/region/handlers"
	scanHandlers "regions-server/internal/scan/handlers"
	"regions-server/internal/server"
	serverHandlers "regions-server/internal/server/handlers"
	"regions-server/internal/shared/config"
	"regions-server/internal/shared/logger"
)

func main() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.GlobalConfig

	appLogger := logger.Init(cfg.Logging, cfg.Server.Environment)
	appLogger.Info("Starting regions server",
		"environment", cfg.Server.Environment,
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
	)

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	var tokens *auth.TokenManager
	if cfg.Auth.JWTSecret != "" {
		tokens, err = auth.NewTokenManager(cfg.Auth)
		if err != nil {
			return err
		}
	} else {
		appLogger.Warn("JWT_SECRET not set, operator endpoints are disabled")
	}

	var dbPinger, cachePinger serverHandlers.Pinger
	if a.DB != nil {
		dbPinger = a.DB
	}
	if a.Redis != nil {
		cachePinger = a.Redis
	}

	routes := server.NewRoutes(
		scanHandlers.NewScanHandler(a.Scans),
		regionHandlers.NewRegionHandler(a.Regions, a.Lifecycle),
		serverHandlers.NewHealthHandler(cfg.Store.Driver, dbPinger, cachePinger),
		middleware.NewAuthenticator(tokens),
		appLogger,
	)

	handler := server.Handler(
		routes.Setup(),
		middleware.NewCORS(cfg.Frontend),
		middleware.NewRateLimiter(ctx, cfg.RateLimit),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP server listening", "addr", srv.Addr, "url", cfg.Server.URL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	appLogger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
