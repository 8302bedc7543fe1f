package store

import (
	"context"
	"time"
)

// SegmentRow is one functional segment as persisted in dialog_segments.
type SegmentRow struct {
	SegmentID      string
	CallID         string
	Position       int
	Speaker        string
	DialogAct      string
	Words          []string
	IsContinuation bool
}

// CallRow is the per-call summary persisted in dialog_calls.
type CallRow struct {
	CallID       string
	BatchID      string
	Convention   string
	SegmentCount int
	WordCount    int
	DecodedAt    time.Time
}

// FailureRow records a call that could not be decoded.
type FailureRow struct {
	CallID  string
	BatchID string
	Reason  string
	Detail  string
}

// DataStore is the interface consumed by the batcher, the segmenter, and
// the API. The concrete implementation is *Store (pgx-backed).
type DataStore interface {
	InsertSegments(ctx context.Context, segs []SegmentRow) error
	UpsertCall(ctx context.Context, call CallRow) error
	CallExists(ctx context.Context, callID string) (bool, error)
	GetCall(ctx context.Context, callID string) (map[string]any, error)
	QueryCalls(ctx context.Context, convention string, limit int) ([]map[string]any, error)
	QuerySegments(ctx context.Context, callID string) ([]map[string]any, error)
	UpsertBatch(ctx context.Context, batchID string, updates map[string]any) error
	GetBatch(ctx context.Context, batchID string) (map[string]any, error)
	InsertFailure(ctx context.Context, f FailureRow) error
	QueryFailures(ctx context.Context, batchID string, limit int) ([]map[string]any, error)
	UpsertActMetric(ctx context.Context, act string, date time.Time, updates map[string]any) error
	GetActSummary(ctx context.Context) ([]map[string]any, error)
	Close()
}
