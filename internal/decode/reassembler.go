package decode

import (
	"fmt"

	"github.com/voxlab/actseg/internal/dialog"
)

// Call reconstructs a labeled call from its original turn skeleton and the
// model's flat tag sequence. tags must be aligned to the call's full token
// stream: one tag per word, plus one per turn token between turns.
//
// The turn walk is the outer state machine; the convention-specific tag
// decoder is the inner one, driven one token at a time with every boundary
// made visible to it. Each resulting segment is attributed to the speaker of
// the turn holding its first word; a segment never spans two speakers.
// Continuation segments stay separate, flagged IsContinuation, and are never
// merged here.
func Call(turns []dialog.Turn, tags []string, opts Options) (dialog.Call, error) {
	streamLen := 0
	for _, t := range turns {
		streamLen += len(t.Words)
	}
	if len(turns) > 1 {
		streamLen += len(turns) - 1
	}
	if len(tags) != streamLen {
		return nil, &CountMismatchError{Expected: streamLen, Got: len(tags)}
	}

	dec := newTagDecoder(opts)
	pos := 0
	for i, turn := range turns {
		for _, w := range turn.Words {
			if err := dec.word(pos, w, tags[pos], turn.Speaker); err != nil {
				return nil, err
			}
			pos++
		}
		if i < len(turns)-1 {
			// Consume the tag aligned to the turn token. Whatever the model
			// emitted there carries no segment information.
			pos++
			dec.boundary(turn.Speaker)
		}
	}

	spans, err := dec.finish()
	if err != nil {
		return nil, err
	}

	call := make(dialog.Call, 0, len(spans))
	for _, s := range spans {
		call = append(call, dialog.FunctionalSegment{
			Words:          s.words,
			DialogAct:      s.act,
			Speaker:        s.channel,
			IsContinuation: s.continuation,
		})
	}

	if err := verifyWordOrder(turns, call); err != nil {
		return nil, err
	}
	return call, nil
}

// verifyWordOrder checks the reassembly invariant: concatenating all segment
// words in order reproduces the original word sequence exactly.
func verifyWordOrder(turns []dialog.Turn, call dialog.Call) error {
	var want []string
	for _, t := range turns {
		want = append(want, t.Words...)
	}
	var got []string
	for _, seg := range call {
		if len(seg.Words) == 0 {
			return fmt.Errorf("reassembly produced an empty segment for speaker %s", seg.Speaker)
		}
		got = append(got, seg.Words...)
	}
	if len(got) != len(want) {
		return fmt.Errorf("reassembly word count diverged: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("reassembly diverged from transcript at word %d: got %q, want %q", i, got[i], want[i])
		}
	}
	return nil
}
