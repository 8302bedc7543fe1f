// Package predictions defines the JSON payloads exchanged with the
// model-inference service: incoming tag-prediction batches and the decode
// summary events published after a batch is processed.
package predictions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxlab/actseg/internal/decode"
	"github.com/voxlab/actseg/internal/dialog"
)

// Batch is the payload published by the inference service after running the
// sequence labeler over a set of calls. Tags are aligned to each call's full
// token stream (words plus turn tokens), exactly as the model saw it.
type Batch struct {
	BatchID         string          `json:"batch_id"`
	Convention      string          `json:"convention"`
	LabelResolution string          `json:"label_resolution"`
	EmittedAt       time.Time       `json:"emitted_at"`
	Calls           map[string]Call `json:"calls"`
}

// Call pairs one call's original turn skeleton with its predicted tags.
type Call struct {
	Turns []dialog.Turn `json:"turns"`
	Tags  []string      `json:"tags"`
}

// Defaults supplies the convention fields applied to batches that omit them.
// Zero-value fields fall back to classic/from_begin.
type Defaults struct {
	Convention      string
	LabelResolution string
}

// Normalize parses a raw batch payload and fills in missing fields, taking
// convention defaults from the service configuration. A batch without calls
// is rejected; everything else is made usable.
func Normalize(raw []byte, d Defaults) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return Batch{}, err
	}

	if len(b.Calls) == 0 {
		return Batch{}, fmt.Errorf("batch has no calls")
	}

	if b.BatchID == "" {
		b.BatchID = uuid.New().String()
	}

	if b.Convention == "" {
		b.Convention = d.Convention
		if b.Convention == "" {
			b.Convention = decode.Classic.String()
		}
	}
	if b.LabelResolution == "" {
		b.LabelResolution = d.LabelResolution
		if b.LabelResolution == "" {
			b.LabelResolution = decode.FromBegin.String()
		}
	}

	if b.EmittedAt.IsZero() {
		slog.Warn("batch missing emitted_at, using ingestion time", "batch_id", b.BatchID)
		b.EmittedAt = time.Now().UTC()
	}

	return b, nil
}

// Options resolves the batch's convention fields into decode options. labels
// is the configured act vocabulary, applied to every batch.
func (b Batch) Options(labels map[string]struct{}) (decode.Options, error) {
	conv, err := decode.ParseConvention(b.Convention)
	if err != nil {
		return decode.Options{}, err
	}
	res, err := decode.ParseLabelResolution(b.LabelResolution)
	if err != nil {
		return decode.Options{}, err
	}
	return decode.Options{Convention: conv, LabelResolution: res, Labels: labels}, nil
}

// Transcripts splits the batch into the two maps the corpus decoder takes:
// turn skeletons and tag lists, both keyed by call id.
func (b Batch) Transcripts() (map[string][]dialog.Turn, map[string][]string) {
	turns := make(map[string][]dialog.Turn, len(b.Calls))
	tags := make(map[string][]string, len(b.Calls))
	for id, c := range b.Calls {
		turns[id] = c.Turns
		tags[id] = c.Tags
	}
	return turns, tags
}

// FailedCall names one call that could not be decoded, with the reason.
type FailedCall struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}

// DecodedEvent is published after a batch decode completes, successful or
// not. Every incoming call id appears in exactly one of succeeded, skipped,
// or failed — no silent data loss. Skipped holds calls already stored by an
// earlier delivery; failed covers both decode and persistence errors.
type DecodedEvent struct {
	BatchID    string       `json:"batch_id"`
	Convention string       `json:"convention"`
	Succeeded  []string     `json:"succeeded"`
	Skipped    []string     `json:"skipped,omitempty"`
	Failed     []FailedCall `json:"failed"`
	DurationMs int64        `json:"duration_ms"`
}

// NATS subjects used by the decode pipeline.
const (
	SubjectPredictions = "dialog.predictions"
	SubjectDecoded     = "dialog.segmentation.decoded"
	SubjectFailed      = "dialog.segmentation.failed"
)
