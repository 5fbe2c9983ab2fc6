package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/organa/organa/internal/config"
	"github.com/organa/organa/internal/models"
	"github.com/organa/organa/internal/objstore"
	"github.com/organa/organa/internal/services"
	"github.com/organa/organa/internal/store"
)

var (
	instance *services.Normalizer
	once     sync.Once
	initErr  error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	functions.CloudEvent("NormalizeDocument", normalizeDocument)
}

// main is required by the Go Functions Framework.
func main() {}

// normalizeDocument is the CloudEvent entry point for uploads landing
// under the original/ prefix.
func normalizeDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		instance, initErr = newNormalizer(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	batch, err := models.DecodeNotifications(e.Data())
	if err != nil {
		slog.Error("Failed to decode storage event", "error", err, "data", string(e.Data()))
		return fmt.Errorf("decoding storage event: %w", err)
	}

	return instance.Process(ctx, batch)
}

func newNormalizer(ctx context.Context) (*services.Normalizer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}
	objects, err := objstore.NewGCS(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return services.NewNormalizer(services.NormalizerConfig{}, st, objects), nil
}
