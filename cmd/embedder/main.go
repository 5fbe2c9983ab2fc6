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
	"github.com/organa/organa/internal/embedding"
	"github.com/organa/organa/internal/models"
	"github.com/organa/organa/internal/objstore"
	"github.com/organa/organa/internal/services"
	"github.com/organa/organa/internal/store"
)

var (
	instance *services.DocEmbedder
	once     sync.Once
	initErr  error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	functions.CloudEvent("EmbedDocument", embedDocument)
}

// main is required by the Go Functions Framework.
func main() {}

// embedDocument is the CloudEvent entry point for extracted text landing
// under the extracted-text/ prefix. Unlike the earlier stages, a
// returned error here marks the invocation failed so the event is
// redelivered.
func embedDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		instance, initErr = newEmbedder(context.Background())
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

func newEmbedder(ctx context.Context) (*services.DocEmbedder, error) {
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
	embedder, err := embedding.NewOpenAI(cfg.OpenAI)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	return services.NewDocEmbedder(st, objects, embedder), nil
}
