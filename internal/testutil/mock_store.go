package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/voxlab/actseg/internal/store"
)

// MockStore is a thread-safe in-memory implementation of store.DataStore for testing.
type MockStore struct {
	mu sync.Mutex

	Segments []store.SegmentRow
	Calls    map[string]store.CallRow
	Batches  map[string]map[string]any
	Failures []store.FailureRow
	Metrics  map[string]map[string]any // key: "act|date"

	InsertErr        error
	UpsertCallErr    error
	UpsertBatchErr   error
	InsertFailErr    error
	UpsertMetricErr  error
	QuerySegmentsErr error

	InsertCalls       int
	UpsertCallCalls   int
	UpsertBatchCalls  int
	UpsertMetricCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{
		Segments: make([]store.SegmentRow, 0),
		Calls:    make(map[string]store.CallRow),
		Batches:  make(map[string]map[string]any),
		Failures: make([]store.FailureRow, 0),
		Metrics:  make(map[string]map[string]any),
	}
}

func (m *MockStore) InsertSegments(_ context.Context, segs []store.SegmentRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls++
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.Segments = append(m.Segments, segs...)
	return nil
}

func (m *MockStore) UpsertCall(_ context.Context, call store.CallRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCallCalls++
	if m.UpsertCallErr != nil {
		return m.UpsertCallErr
	}
	m.Calls[call.CallID] = call
	return nil
}

func (m *MockStore) CallExists(_ context.Context, callID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Calls[callID]
	return ok, nil
}

func (m *MockStore) GetCall(_ context.Context, callID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Calls[callID]
	if !ok {
		return nil, fmt.Errorf("call %s not found", callID)
	}
	return map[string]any{
		"call_id":       c.CallID,
		"batch_id":      c.BatchID,
		"convention":    c.Convention,
		"segment_count": c.SegmentCount,
		"word_count":    c.WordCount,
		"decoded_at":    c.DecodedAt,
	}, nil
}

func (m *MockStore) QueryCalls(_ context.Context, convention string, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []map[string]any
	for _, c := range m.Calls {
		if convention != "" && c.Convention != convention {
			continue
		}
		results = append(results, map[string]any{
			"call_id":       c.CallID,
			"batch_id":      c.BatchID,
			"convention":    c.Convention,
			"segment_count": c.SegmentCount,
			"word_count":    c.WordCount,
			"decoded_at":    c.DecodedAt,
		})
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MockStore) QuerySegments(_ context.Context, callID string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QuerySegmentsErr != nil {
		return nil, m.QuerySegmentsErr
	}
	var results []map[string]any
	for _, s := range m.Segments {
		if s.CallID == callID {
			results = append(results, map[string]any{
				"segment_id":      s.SegmentID,
				"call_id":         s.CallID,
				"position":        s.Position,
				"speaker":         s.Speaker,
				"dialog_act":      s.DialogAct,
				"words":           s.Words,
				"text":            strings.Join(s.Words, " "),
				"is_continuation": s.IsContinuation,
			})
		}
	}
	return results, nil
}

func (m *MockStore) UpsertBatch(_ context.Context, batchID string, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertBatchCalls++
	if m.UpsertBatchErr != nil {
		return m.UpsertBatchErr
	}
	if m.Batches[batchID] == nil {
		m.Batches[batchID] = map[string]any{"batch_id": batchID, "status": "processing"}
	}
	for k, v := range updates {
		m.Batches[batchID][k] = v
	}
	return nil
}

func (m *MockStore) GetBatch(_ context.Context, batchID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s not found", batchID)
	}
	// Return a copy.
	cp := make(map[string]any, len(b))
	for k, v := range b {
		cp[k] = v
	}
	return cp, nil
}

func (m *MockStore) InsertFailure(_ context.Context, f store.FailureRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertFailErr != nil {
		return m.InsertFailErr
	}
	m.Failures = append(m.Failures, f)
	return nil
}

func (m *MockStore) QueryFailures(_ context.Context, batchID string, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []map[string]any
	for _, f := range m.Failures {
		if batchID != "" && f.BatchID != batchID {
			continue
		}
		results = append(results, map[string]any{
			"call_id":  f.CallID,
			"batch_id": f.BatchID,
			"reason":   f.Reason,
			"detail":   f.Detail,
		})
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MockStore) UpsertActMetric(_ context.Context, act string, date time.Time, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertMetricCalls++
	if m.UpsertMetricErr != nil {
		return m.UpsertMetricErr
	}
	key := act + "|" + date.Format("2006-01-02")
	if m.Metrics[key] == nil {
		m.Metrics[key] = map[string]any{"dialog_act": act}
	}
	for k, v := range updates {
		m.Metrics[key][k] = v
	}
	return nil
}

func (m *MockStore) GetActSummary(_ context.Context) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []map[string]any
	for _, v := range m.Metrics {
		results = append(results, v)
	}
	return results, nil
}

func (m *MockStore) Close() {}

// SetCall seeds a call summary for testing.
func (m *MockStore) SetCall(call store.CallRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[call.CallID] = call
}

// SetSegments seeds stored segments for testing.
func (m *MockStore) SetSegments(segs []store.SegmentRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Segments = append(m.Segments, segs...)
}

// GetInsertCalls returns how many times InsertSegments was called.
func (m *MockStore) GetInsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InsertCalls
}

// GetSegmentCount returns total segments stored.
func (m *MockStore) GetSegmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Segments)
}
