package batcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/voxlab/actseg/internal/store"
	"github.com/voxlab/actseg/internal/testutil"
)

func makeSegments(callID string, n int) []store.SegmentRow {
	segs := make([]store.SegmentRow, n)
	for i := 0; i < n; i++ {
		segs[i] = store.SegmentRow{
			SegmentID: fmt.Sprintf("%s-seg-%d", callID, i),
			CallID:    callID,
			Position:  i,
			Speaker:   "A",
			DialogAct: "Statement",
			Words:     []string{"hello", "there"},
		}
	}
	return segs
}

func newTestBatcher(ms *testutil.MockStore, threshold, bufMax int) *Batcher {
	return New(ms, Config{
		FlushInterval:  1 * time.Hour, // long interval so we control flush manually
		FlushThreshold: threshold,
		BufferMax:      bufMax,
	})
}

func TestAdd_BuffersSegments(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 10000) // high threshold so no auto-flush

	b.Add(makeSegments("call-1", 2))
	b.Add(makeSegments("call-2", 3))

	if b.BufferLen() != 5 {
		t.Errorf("expected buffer length 5, got %d", b.BufferLen())
	}

	if ms.GetInsertCalls() != 0 {
		t.Errorf("expected 0 insert calls before flush, got %d", ms.GetInsertCalls())
	}
}

func TestFlush_WritesAndClearsBuffer(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 10000)

	b.Add(makeSegments("call-1", 2))
	b.flush()

	if b.BufferLen() != 0 {
		t.Errorf("expected empty buffer after flush, got %d", b.BufferLen())
	}
	if ms.GetInsertCalls() != 1 {
		t.Errorf("expected 1 insert call, got %d", ms.GetInsertCalls())
	}
	if ms.GetSegmentCount() != 2 {
		t.Errorf("expected 2 segments stored, got %d", ms.GetSegmentCount())
	}
}

func TestFlush_EmptyBufferIsNoop(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 10000)

	b.flush()
	if ms.GetInsertCalls() != 0 {
		t.Errorf("expected 0 insert calls on empty buffer, got %d", ms.GetInsertCalls())
	}
}

func TestThreshold_TriggersFlush(t *testing.T) {
	ms := testutil.NewMockStore()
	threshold := 5
	b := newTestBatcher(ms, threshold, 10000)

	for i := 0; i < threshold; i++ {
		b.Add(makeSegments(fmt.Sprintf("call-%d", i), 1))
	}

	// The threshold-triggered flush runs in a goroutine. Wait briefly.
	time.Sleep(100 * time.Millisecond)

	if ms.GetInsertCalls() < 1 {
		t.Errorf("expected at least 1 insert call after reaching threshold, got %d", ms.GetInsertCalls())
	}
}

func TestBackpressure_DropsOldestSegments(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = fmt.Errorf("db down") // prevent auto-flush from clearing buffer
	bufMax := 10
	b := newTestBatcher(ms, 1000, bufMax)

	// Fill buffer beyond capacity.
	for i := 0; i < bufMax+5; i++ {
		b.Add(makeSegments(fmt.Sprintf("call-%d", i), 1))
	}

	// Buffer should be capped at bufMax.
	if b.BufferLen() > bufMax {
		t.Errorf("expected buffer <= %d, got %d", bufMax, b.BufferLen())
	}
}

func TestBackpressure_OversizedAddIsTrimmed(t *testing.T) {
	ms := testutil.NewMockStore()
	bufMax := 5
	b := newTestBatcher(ms, 1000, bufMax)

	b.Add(makeSegments("old", 3))
	// A single Add larger than the cap keeps only its newest rows.
	b.Add(makeSegments("big", bufMax+3))

	if b.BufferLen() != bufMax {
		t.Fatalf("expected buffer capped at %d, got %d", bufMax, b.BufferLen())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if got := b.buffer[0].SegmentID; got != "big-seg-3" {
		t.Errorf("expected oldest kept row big-seg-3, got %s", got)
	}
	if got := b.buffer[bufMax-1].SegmentID; got != "big-seg-7" {
		t.Errorf("expected newest kept row big-seg-7, got %s", got)
	}
}

func TestWriteFailure_RequeueBatch(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = fmt.Errorf("connection refused")
	b := newTestBatcher(ms, 1000, 10000)

	b.Add(makeSegments("call-1", 2))
	b.flush()

	// Segments should be re-queued.
	if b.BufferLen() != 2 {
		t.Errorf("expected 2 segments re-queued, got %d", b.BufferLen())
	}
}

func TestConsecutiveFailures_AlertsAfterThree(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = fmt.Errorf("connection refused")
	b := newTestBatcher(ms, 1000, 10000)

	var alerts []string
	var mu sync.Mutex
	b.SetNATSPublisher(func(subject string, _ []byte) error {
		mu.Lock()
		alerts = append(alerts, subject)
		mu.Unlock()
		return nil
	})

	// Fail 3 times.
	for i := 0; i < 3; i++ {
		b.Add(makeSegments(fmt.Sprintf("call-%d", i), 1))
		b.flush()
	}

	mu.Lock()
	defer mu.Unlock()

	found := false
	for _, a := range alerts {
		if a == "dialog.system.actseg.write_failure" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected write_failure alert after 3 consecutive failures, got alerts: %v", alerts)
	}
}

func TestConsecutiveFailures_ResetsOnSuccess(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = fmt.Errorf("connection refused")
	b := newTestBatcher(ms, 1000, 10000)

	// Fail twice.
	b.Add(makeSegments("call-1", 1))
	b.flush()
	// Clear re-queued segments.
	b.mu.Lock()
	b.buffer = b.buffer[:0]
	b.mu.Unlock()

	b.Add(makeSegments("call-2", 1))
	b.flush()
	b.mu.Lock()
	b.buffer = b.buffer[:0]
	b.mu.Unlock()

	// Now succeed.
	ms.InsertErr = nil
	b.Add(makeSegments("call-3", 1))
	b.flush()

	b.mu.Lock()
	cf := b.consecutiveFail
	b.mu.Unlock()

	if cf != 0 {
		t.Errorf("expected consecutiveFail reset to 0, got %d", cf)
	}
}

func TestStartAndShutdown(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 10000)
	b.flushInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)

	b.Add(makeSegments("call-1", 1))

	// Let the ticker fire at least once.
	time.Sleep(150 * time.Millisecond)

	cancel()
	b.Wait()

	// After shutdown, buffer should be empty (final flush).
	if b.BufferLen() != 0 {
		t.Errorf("expected empty buffer after shutdown, got %d", b.BufferLen())
	}
}

func TestConcurrentAdds(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 100000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.Add(makeSegments(fmt.Sprintf("call-%d", n), 1))
		}(i)
	}
	wg.Wait()

	if b.BufferLen() != 100 {
		t.Errorf("expected 100 segments, got %d", b.BufferLen())
	}
}
