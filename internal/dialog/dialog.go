// Package dialog defines the data model for dialogue-act segmented
// conversations: functional segments, calls, turns, and corpora.
package dialog

import "strings"

// TurnToken is the synthetic non-word marker inserted between speaker turns
// when a call is flattened into a single word stream. The upstream model
// emits a tag for it like for any other token, so decoded tag sequences are
// aligned against the token stream including these markers.
const TurnToken = "<turn>"

// FunctionalSegment is a contiguous run of one speaker's words carrying a
// single dialogue-act label. IsContinuation marks a segment that semantically
// resumes an earlier segment of the same speaker and act after the other
// party's interjection; it is never set within an uninterrupted turn.
type FunctionalSegment struct {
	Words          []string `json:"words"`
	DialogAct      string   `json:"dialog_act"`
	Speaker        string   `json:"speaker"`
	IsContinuation bool     `json:"is_continuation"`
}

// Text returns the segment's words joined with single spaces.
func (s FunctionalSegment) Text() string {
	return strings.Join(s.Words, " ")
}

// Turn is one speaker's uninterrupted stretch of words, the unit of the
// original transcript layout. Turn boundaries may fall inside or between
// functional segments.
type Turn struct {
	Speaker string   `json:"speaker"`
	Words   []string `json:"words"`
}

// Call is an ordered sequence of functional segments covering one full
// conversation. Concatenating all segment words in order reproduces the
// original per-speaker turn structure.
type Call []FunctionalSegment

// Turns groups the call's segments into speaker turns: each turn is a
// maximal run of consecutive segments by the same speaker.
func (c Call) Turns() []Turn {
	var turns []Turn
	for _, seg := range c {
		if len(turns) > 0 && turns[len(turns)-1].Speaker == seg.Speaker {
			last := &turns[len(turns)-1]
			last.Words = append(last.Words, seg.Words...)
			continue
		}
		words := make([]string, len(seg.Words))
		copy(words, seg.Words)
		turns = append(turns, Turn{Speaker: seg.Speaker, Words: words})
	}
	return turns
}

// Words flattens the call into a single token stream in transcript order.
// With withTurnTokens set, a TurnToken is inserted at every speaker change,
// matching the stream the upstream model was run on.
func (c Call) Words(withTurnTokens bool) []string {
	var out []string
	for i, turn := range c.Turns() {
		if withTurnTokens && i > 0 {
			out = append(out, TurnToken)
		}
		out = append(out, turn.Words...)
	}
	return out
}

// WordCount returns the number of real words in the call, turn tokens
// excluded.
func (c Call) WordCount() int {
	n := 0
	for _, seg := range c {
		n += len(seg.Words)
	}
	return n
}

// Corpus maps call identifiers to calls. Decoding produces a fresh Corpus;
// a gold corpus is never modified in place.
type Corpus map[string]Call

// CallIDs returns the corpus keys in unspecified order.
func (c Corpus) CallIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	return ids
}
