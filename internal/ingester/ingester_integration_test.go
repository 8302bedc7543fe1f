package ingester

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxlab/actseg/internal/batcher"
	"github.com/voxlab/actseg/internal/store"
	"github.com/voxlab/actseg/internal/testutil"

	"github.com/nats-io/nats.go"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_ConsumeFromNATS(t *testing.T) {
	natsURL := skipWithoutNATS(t)

	ms := testutil.NewMockStore()
	bat := batcher.New(ms, batcher.Config{
		FlushInterval:  100 * time.Millisecond,
		FlushThreshold: 1,
		BufferMax:      10000,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bat.Start(ctx)

	ing, err := New(natsURL, bat)
	if err != nil {
		t.Fatalf("failed to create ingester: %v", err)
	}
	defer ing.Close()

	var handled atomic.Int32
	ing.SetBatchHandler(func(_ context.Context, subject string, data []byte) {
		handled.Add(1)
	})

	if err := ing.Start(); err != nil {
		t.Fatalf("failed to start ingester: %v", err)
	}

	// Publish a test batch via plain NATS (JetStream will capture it).
	nc, err := nats.Connect(natsURL)
	if err != nil {
		t.Fatalf("connect to NATS: %v", err)
	}
	defer nc.Drain()

	if err := nc.Publish("dialog.predictions.swda", makeBatchPayload("nats-test-batch")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	nc.Flush()

	// Wait for the batch to be consumed.
	time.Sleep(500 * time.Millisecond)

	if handled.Load() < 1 {
		t.Errorf("expected at least 1 handled batch, got %d", handled.Load())
	}
}

func TestIntegration_PublishDecodeSummary(t *testing.T) {
	natsURL := skipWithoutNATS(t)

	ms := testutil.NewMockStore()
	bat := batcher.New(ms, batcher.Config{
		FlushInterval:  1 * time.Hour,
		FlushThreshold: 1000,
		BufferMax:      10000,
	})

	ing, err := New(natsURL, bat)
	if err != nil {
		t.Fatalf("failed to create ingester: %v", err)
	}
	defer ing.Close()

	data, _ := json.Marshal(map[string]any{
		"batch_id":  "summary-test",
		"succeeded": []string{"call-1"},
	})

	if err := ing.Publish("dialog.segmentation.decoded", data); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
}

// Verify that the mock satisfies the interface at compile time.
var _ store.DataStore = (*testutil.MockStore)(nil)
