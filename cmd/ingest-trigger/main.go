package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/forensicdocflow/internal/app"
	"github.com/Lllllllleong/forensicdocflow/internal/config"
	"github.com/Lllllllleong/forensicdocflow/internal/gcp"
	"github.com/Lllllllleong/forensicdocflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	ingestInstance *services.IngestFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("IngestDocument", ingestDocument)
}

// main is required by the Go Functions Framework.
func main() {}

func newIngest(ctx context.Context) (*services.IngestFunction, error) {
	a, err := app.New(ctx, config.Load(), nil)
	if err != nil {
		return nil, err
	}
	client, err := a.Storage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	slog.Info("Ingest trigger initialized.", "jobStore", a.Config.JobStore)
	return services.NewIngestFunction(gcp.BucketReader{Client: client}, a.Jobs, a.Processor), nil
}

// ingestDocument runs the whole pipeline for a finalized object. Clients are
// created once per instance.
func ingestDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingestInstance, initErr = newIngest(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return ingestInstance.Process(ctx, gcsEvent)
}
