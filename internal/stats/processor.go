package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxlab/actseg/internal/dialog"
	"github.com/voxlab/actseg/internal/store"
)

type Processor struct {
	store store.DataStore
}

func NewProcessor(s store.DataStore) *Processor {
	return &Processor{store: s}
}

// Process rolls a decoded call into the per-act counters.
func (p *Processor) Process(ctx context.Context, callID string, call dialog.Call) {
	type counts struct {
		segments      int
		words         int
		continuations int
	}

	byAct := make(map[string]*counts)
	for _, seg := range call {
		c := byAct[seg.DialogAct]
		if c == nil {
			c = &counts{}
			byAct[seg.DialogAct] = c
		}
		c.segments++
		c.words += len(seg.Words)
		if seg.IsContinuation {
			c.continuations++
		}
	}

	now := time.Now().UTC()
	for act, c := range byAct {
		updates := map[string]any{
			"inc_segments": c.segments,
			"inc_words":    c.words,
		}
		if c.continuations > 0 {
			updates["inc_continuations"] = c.continuations
		}
		if err := p.store.UpsertActMetric(ctx, act, now, updates); err != nil {
			slog.Error("failed to update act metrics", "call_id", callID, "act", act, "error", err)
		}
	}
}
