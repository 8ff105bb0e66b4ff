package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/digilab/digibot/db"
	"github.com/digilab/digibot/internal/api"
	"github.com/digilab/digibot/internal/assistant"
	"github.com/digilab/digibot/internal/config"
	"github.com/digilab/digibot/internal/database"
	"github.com/digilab/digibot/internal/observability"
	"github.com/digilab/digibot/internal/provider"
	"github.com/digilab/digibot/internal/relay"
	"github.com/digilab/digibot/internal/turn"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the digibot HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	logger := newLogger()
	loadDotenv(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	pool, err := database.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	turns := turn.NewStore(pool, logger.With("component", "turn_store"))
	resolver := assistant.NewStoreResolver(pool, assistant.Config{
		Model:       cfg.ModelName,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, logger.With("component", "assistant"))
	client := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey)

	svc := relay.NewService(resolver, turns, turns,
		relay.ClientCompleter{Client: client},
		config.HistoryLimit,
		logger.With("component", "relay"),
	)

	handler := api.NewServer(api.ServerConfig{
		Logger:      logger.With("component", "api"),
		Relay:       svc,
		Turns:       turns,
		DB:          pool,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
		// Long-lived streams: no WriteTimeout; the per-exchange deadline
		// lives in the handler.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
