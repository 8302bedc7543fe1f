package batcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxlab/actseg/internal/store"
)

type Batcher struct {
	store          store.DataStore
	flushInterval  time.Duration
	flushThreshold int
	bufferMax      int

	mu              sync.Mutex
	buffer          []store.SegmentRow
	consecutiveFail int
	natsPublish     func(subject string, data []byte) error

	done chan struct{}
}

type Config struct {
	FlushInterval  time.Duration
	FlushThreshold int
	BufferMax      int
}

func New(s store.DataStore, cfg Config) *Batcher {
	return &Batcher{
		store:          s,
		flushInterval:  cfg.FlushInterval,
		flushThreshold: cfg.FlushThreshold,
		bufferMax:      cfg.BufferMax,
		buffer:         make([]store.SegmentRow, 0, cfg.FlushThreshold),
		done:           make(chan struct{}),
	}
}

// SetNATSPublisher sets the function used to publish system alerts back to NATS.
func (b *Batcher) SetNATSPublisher(fn func(subject string, data []byte) error) {
	b.natsPublish = fn
}

// Add enqueues decoded segments for batched writing.
func (b *Batcher) Add(segs []store.SegmentRow) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Backpressure: drop oldest if buffer full. An incoming slice larger
	// than the cap is itself trimmed to its newest rows.
	if len(b.buffer)+len(segs) > b.bufferMax {
		dropped := len(b.buffer) + len(segs) - b.bufferMax
		if dropped > len(b.buffer) {
			dropped = len(b.buffer)
		}
		b.buffer = b.buffer[dropped:]
		if len(segs) > b.bufferMax {
			dropped += len(segs) - b.bufferMax
			segs = segs[len(segs)-b.bufferMax:]
		}
		slog.Warn("buffer overflow, dropping oldest segments", "dropped", dropped, "buffer_size", b.bufferMax)
		b.publishAlert("dialog.system.actseg.buffer_overflow", []byte(`{"message":"buffer overflow, dropping segments"}`))
	}

	b.buffer = append(b.buffer, segs...)

	// Flush immediately if threshold reached.
	if len(b.buffer) >= b.flushThreshold {
		go b.flush()
	}
}

// Start begins the periodic flush ticker.
func (b *Batcher) Start(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.flush()
			case <-ctx.Done():
				// Final flush on shutdown.
				b.flush()
				close(b.done)
				return
			}
		}
	}()
}

// Wait blocks until the batcher has completed its final flush.
func (b *Batcher) Wait() {
	<-b.done
}

// BufferLen returns the current buffer size (for health checks).
func (b *Batcher) BufferLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

func (b *Batcher) flush() {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buffer
	b.buffer = make([]store.SegmentRow, 0, b.flushThreshold)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("flushing segment batch", "count", len(batch))

	if err := b.store.InsertSegments(ctx, batch); err != nil {
		slog.Error("failed to insert segments", "error", err, "count", len(batch))
		b.handleWriteFailure(batch)
		return
	}

	// Reset failure counter on success.
	b.mu.Lock()
	b.consecutiveFail = 0
	b.mu.Unlock()

	slog.Info("segment batch flushed", "count", len(batch))
}

func (b *Batcher) handleWriteFailure(batch []store.SegmentRow) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail++

	// Re-queue the failed batch (prepend so order is maintained).
	b.buffer = append(batch, b.buffer...)

	// Trim if re-queueing caused overflow.
	if len(b.buffer) > b.bufferMax {
		b.buffer = b.buffer[len(b.buffer)-b.bufferMax:]
	}

	if b.consecutiveFail >= 3 {
		slog.Error("3 consecutive write failures", "buffer_size", len(b.buffer))
		b.publishAlert("dialog.system.actseg.write_failure", []byte(`{"message":"3 consecutive segment write failures"}`))
	}
}

func (b *Batcher) publishAlert(subject string, data []byte) {
	if b.natsPublish != nil {
		if err := b.natsPublish(subject, data); err != nil {
			slog.Error("failed to publish alert", "subject", subject, "error", err)
		}
	}
}
