// Package segmenter turns incoming tag-prediction batches into persisted,
// speaker-attributed functional segments.
package segmenter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxlab/actseg/internal/batcher"
	"github.com/voxlab/actseg/internal/decode"
	"github.com/voxlab/actseg/internal/dialog"
	"github.com/voxlab/actseg/internal/metrics"
	"github.com/voxlab/actseg/internal/predictions"
	"github.com/voxlab/actseg/internal/stats"
	"github.com/voxlab/actseg/internal/store"
)

// NATSPublishFunc is the callback signature for publishing to NATS.
type NATSPublishFunc func(subject string, data []byte) error

// FailureHook is invoked for every call that fails to decode or persist,
// after it has been recorded. Used to fan out alerts.
type FailureHook func(callID, reason, detail string)

// reasonStoreError marks calls that decoded fine but could not be persisted.
const reasonStoreError = "store_error"

// Segmenter receives prediction batches, decodes them into functional
// segments, persists the results, and publishes a decode summary.
type Segmenter struct {
	store     store.DataStore
	batcher   *batcher.Batcher
	stats     *stats.Processor
	metrics   *metrics.Metrics
	publish   NATSPublishFunc
	labels    map[string]struct{}
	workers   int
	defaults  predictions.Defaults
	onFailure FailureHook
}

// New creates a Segmenter wired to the given store, batcher, and publisher.
func New(s store.DataStore, b *batcher.Batcher, sp *stats.Processor, m *metrics.Metrics, publish NATSPublishFunc, labels map[string]struct{}, workers int, defaults predictions.Defaults) *Segmenter {
	return &Segmenter{
		store:    s,
		batcher:  b,
		stats:    sp,
		metrics:  m,
		publish:  publish,
		labels:   labels,
		workers:  workers,
		defaults: defaults,
	}
}

// SetFailureHook registers a callback invoked on every decode failure.
func (s *Segmenter) SetFailureHook(fn FailureHook) {
	s.onFailure = fn
}

// HandleBatch processes a single prediction batch message. This is the
// callback wired into the ingester's predictions handler.
func (s *Segmenter) HandleBatch(ctx context.Context, subject string, data []byte) {
	batch, err := predictions.Normalize(data, s.defaults)
	if err != nil {
		slog.Warn("segmenter: failed to normalize batch",
			"subject", subject,
			"error", err,
		)
		return
	}

	opts, err := batch.Options(s.labels)
	if err != nil {
		slog.Error("segmenter: batch has unusable convention",
			"batch_id", batch.BatchID,
			"convention", batch.Convention,
			"label_resolution", batch.LabelResolution,
			"error", err,
		)
		s.rejectBatch(ctx, batch, err)
		return
	}

	start := time.Now()
	turns, tags := batch.Transcripts()
	result := decode.Corpus(turns, tags, s.workers, opts)
	elapsed := time.Since(start)

	// Every call id from the batch lands in exactly one of these three
	// buckets; the summary event reports all of them.
	var succeeded, skipped []string
	failed := make([]predictions.FailedCall, 0, len(result.Failures))
	for _, callID := range result.Corpus.CallIDs() {
		switch outcome, err := s.storeCall(ctx, batch, callID, result.Corpus[callID]); outcome {
		case callStored:
			succeeded = append(succeeded, callID)
		case callSkipped:
			skipped = append(skipped, callID)
		case callStoreFailed:
			failed = append(failed, predictions.FailedCall{CallID: callID, Reason: reasonStoreError})
			s.recordFailure(ctx, batch.BatchID, callID, reasonStoreError, err.Error())
		}
	}

	for _, f := range result.Failures {
		reason := decode.Kind(f.Err)
		failed = append(failed, predictions.FailedCall{CallID: f.CallID, Reason: reason})
		s.recordFailure(ctx, batch.BatchID, f.CallID, reason, f.Err.Error())
	}

	status := "completed"
	switch {
	case len(succeeded)+len(skipped) == 0 && len(failed) > 0:
		status = "failed"
	case len(failed) > 0:
		status = "partial"
	}

	if err := s.store.UpsertBatch(ctx, batch.BatchID, map[string]any{
		"status":        status,
		"convention":    batch.Convention,
		"call_count":    len(batch.Calls),
		"failure_count": len(failed),
		"duration_ms":   elapsed.Milliseconds(),
		"emitted_at":    batch.EmittedAt,
	}); err != nil {
		slog.Error("segmenter: failed to upsert batch", "batch_id", batch.BatchID, "error", err)
	}

	s.metrics.RecordBatch(elapsed.Seconds())

	slog.Info("segmenter: batch decoded",
		"batch_id", batch.BatchID,
		"convention", batch.Convention,
		"succeeded", len(succeeded),
		"skipped", len(skipped),
		"failed", len(failed),
		"duration_ms", elapsed.Milliseconds(),
	)

	evt := predictions.DecodedEvent{
		BatchID:    batch.BatchID,
		Convention: batch.Convention,
		Succeeded:  succeeded,
		Skipped:    skipped,
		Failed:     failed,
		DurationMs: elapsed.Milliseconds(),
	}
	s.publishEvent(predictions.SubjectDecoded, evt)
	if len(failed) > 0 {
		s.publishEvent(predictions.SubjectFailed, evt)
	}
}

// storeCall outcomes. A skipped call is not an error; a store failure is
// reported alongside decode failures.
type storeOutcome int

const (
	callStored storeOutcome = iota
	callSkipped
	callStoreFailed
)

// storeCall persists one decoded call. The error is non-nil only for
// callStoreFailed.
func (s *Segmenter) storeCall(ctx context.Context, batch predictions.Batch, callID string, call dialog.Call) (storeOutcome, error) {
	// Idempotency check: skip calls decoded by an earlier delivery.
	exists, err := s.store.CallExists(ctx, callID)
	if err != nil {
		slog.Error("segmenter: failed to check call existence", "call_id", callID, "error", err)
		return callStoreFailed, err
	}
	if exists {
		slog.Info("segmenter: call already decoded, skipping", "call_id", callID)
		s.metrics.RecordCallSkipped()
		return callSkipped, nil
	}

	rows := make([]store.SegmentRow, len(call))
	words := 0
	for i, seg := range call {
		rows[i] = store.SegmentRow{
			SegmentID:      uuid.New().String(),
			CallID:         callID,
			Position:       i,
			Speaker:        seg.Speaker,
			DialogAct:      seg.DialogAct,
			Words:          seg.Words,
			IsContinuation: seg.IsContinuation,
		}
		words += len(seg.Words)
	}

	if err := s.store.UpsertCall(ctx, store.CallRow{
		CallID:       callID,
		BatchID:      batch.BatchID,
		Convention:   batch.Convention,
		SegmentCount: len(call),
		WordCount:    words,
		DecodedAt:    time.Now().UTC(),
	}); err != nil {
		slog.Error("segmenter: failed to upsert call", "call_id", callID, "error", err)
		return callStoreFailed, err
	}

	s.batcher.Add(rows)
	s.stats.Process(ctx, callID, call)
	s.metrics.RecordCallDecoded(len(call), words)
	return callStored, nil
}

// recordFailure writes a decode_failures row and fans the failure out to
// metrics and the alert hook.
func (s *Segmenter) recordFailure(ctx context.Context, batchID, callID, reason, detail string) {
	if err := s.store.InsertFailure(ctx, store.FailureRow{
		CallID:  callID,
		BatchID: batchID,
		Reason:  reason,
		Detail:  detail,
	}); err != nil {
		slog.Error("segmenter: failed to record failure",
			"call_id", callID,
			"reason", reason,
			"error", err,
		)
	}
	s.metrics.RecordCallFailed(reason)
	if s.onFailure != nil {
		s.onFailure(callID, reason, detail)
	}
}

// rejectBatch marks a batch whose convention fields could not be parsed.
// None of its calls are decoded.
func (s *Segmenter) rejectBatch(ctx context.Context, batch predictions.Batch, cause error) {
	failed := make([]predictions.FailedCall, 0, len(batch.Calls))
	for id := range batch.Calls {
		failed = append(failed, predictions.FailedCall{CallID: id, Reason: decode.KindOther})
		if err := s.store.InsertFailure(ctx, store.FailureRow{
			CallID:  id,
			BatchID: batch.BatchID,
			Reason:  decode.KindOther,
			Detail:  cause.Error(),
		}); err != nil {
			slog.Error("segmenter: failed to record rejected call", "call_id", id, "error", err)
		}
		s.metrics.RecordCallFailed(decode.KindOther)
	}

	if err := s.store.UpsertBatch(ctx, batch.BatchID, map[string]any{
		"status":        "failed",
		"convention":    batch.Convention,
		"call_count":    len(batch.Calls),
		"failure_count": len(failed),
		"emitted_at":    batch.EmittedAt,
	}); err != nil {
		slog.Error("segmenter: failed to upsert rejected batch", "batch_id", batch.BatchID, "error", err)
	}

	s.publishEvent(predictions.SubjectFailed, predictions.DecodedEvent{
		BatchID:    batch.BatchID,
		Convention: batch.Convention,
		Failed:     failed,
	})
}

func (s *Segmenter) publishEvent(subject string, evt predictions.DecodedEvent) {
	if s.publish == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Error("segmenter: failed to marshal decode event", "batch_id", evt.BatchID, "error", err)
		return
	}
	if err := s.publish(subject, payload); err != nil {
		slog.Error("segmenter: failed to publish decode event",
			"subject", subject,
			"batch_id", evt.BatchID,
			"error", err,
		)
	}
}
