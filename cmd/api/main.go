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

	"github.com/joho/godotenv"

	"github.com/organa/organa/internal/api"
	"github.com/organa/organa/internal/config"
	"github.com/organa/organa/internal/embedding"
	"github.com/organa/organa/internal/objstore"
	"github.com/organa/organa/internal/services"
	"github.com/organa/organa/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("API server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine in deployed environments.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	objects, err := objstore.NewGCS(ctx)
	if err != nil {
		return fmt.Errorf("creating storage client: %w", err)
	}

	embedder, err := embedding.NewOpenAI(cfg.OpenAI)
	if err != nil {
		return fmt.Errorf("creating embedding client: %w", err)
	}

	search := services.NewSearch(st, embedder)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.Port),
		Handler: api.New(cfg.Bucket, st, objects, search),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case sig := <-stop:
		slog.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
