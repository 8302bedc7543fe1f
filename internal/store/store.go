package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// InsertSegments batch-inserts decoded segments into dialog_segments.
func (s *Store) InsertSegments(ctx context.Context, segs []SegmentRow) error {
	if len(segs) == 0 {
		return nil
	}

	rows := make([][]any, len(segs))
	for i, seg := range segs {
		rows[i] = []any{seg.SegmentID, seg.CallID, seg.Position, seg.Speaker, seg.DialogAct, seg.Words, seg.IsContinuation}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"dialog_segments"},
		[]string{"segment_id", "call_id", "position", "speaker", "dialog_act", "words", "is_continuation"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy segments: %w", err)
	}

	slog.Debug("inserted segments", "count", len(segs))
	return nil
}

// UpsertCall creates or replaces the per-call summary row.
func (s *Store) UpsertCall(ctx context.Context, call CallRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dialog_calls (call_id, batch_id, convention, segment_count, word_count, decoded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (call_id) DO UPDATE SET
			batch_id = EXCLUDED.batch_id,
			convention = EXCLUDED.convention,
			segment_count = EXCLUDED.segment_count,
			word_count = EXCLUDED.word_count,
			decoded_at = EXCLUDED.decoded_at
	`, call.CallID, call.BatchID, call.Convention, call.SegmentCount, call.WordCount, call.DecodedAt)
	if err != nil {
		return fmt.Errorf("upsert call: %w", err)
	}
	return nil
}

// CallExists reports whether a call has already been decoded and stored.
func (s *Store) CallExists(ctx context.Context, callID string) (bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT 1 FROM dialog_calls WHERE call_id = $1`, callID)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetCall returns the summary row for a single call.
func (s *Store) GetCall(ctx context.Context, callID string) (map[string]any, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT call_id, batch_id, convention, segment_count, word_count, decoded_at FROM dialog_calls WHERE call_id = $1`,
		callID,
	)

	var (
		cid, bid, conv      string
		segCount, wordCount int
		decodedAt           time.Time
	)
	if err := row.Scan(&cid, &bid, &conv, &segCount, &wordCount, &decodedAt); err != nil {
		return nil, err
	}

	return map[string]any{
		"call_id":       cid,
		"batch_id":      bid,
		"convention":    conv,
		"segment_count": segCount,
		"word_count":    wordCount,
		"decoded_at":    decodedAt,
	}, nil
}

// QueryCalls returns call summaries, optionally filtered by convention.
func (s *Store) QueryCalls(ctx context.Context, convention string, limit int) ([]map[string]any, error) {
	q := `SELECT call_id, batch_id, convention, segment_count, word_count, decoded_at FROM dialog_calls`
	args := []any{}
	argN := 1

	if convention != "" {
		q += fmt.Sprintf(` WHERE convention = $%d`, argN)
		args = append(args, convention)
		argN++
	}

	q += ` ORDER BY decoded_at DESC`

	if limit > 0 {
		q += fmt.Sprintf(` LIMIT $%d`, argN)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		var (
			cid, bid, conv      string
			segCount, wordCount int
			decodedAt           time.Time
		)
		if err := rows.Scan(&cid, &bid, &conv, &segCount, &wordCount, &decodedAt); err != nil {
			return nil, err
		}
		results = append(results, map[string]any{
			"call_id":       cid,
			"batch_id":      bid,
			"convention":    conv,
			"segment_count": segCount,
			"word_count":    wordCount,
			"decoded_at":    decodedAt,
		})
	}
	return results, rows.Err()
}

// QuerySegments returns a call's segments in dialogue order.
func (s *Store) QuerySegments(ctx context.Context, callID string) ([]map[string]any, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT segment_id, call_id, position, speaker, dialog_act, words, is_continuation FROM dialog_segments WHERE call_id = $1 ORDER BY position`,
		callID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		var (
			sid, cid, speaker, act string
			position               int
			words                  []string
			continuation           bool
		)
		if err := rows.Scan(&sid, &cid, &position, &speaker, &act, &words, &continuation); err != nil {
			return nil, err
		}
		results = append(results, map[string]any{
			"segment_id":      sid,
			"call_id":         cid,
			"position":        position,
			"speaker":         speaker,
			"dialog_act":      act,
			"words":           words,
			"text":            strings.Join(words, " "),
			"is_continuation": continuation,
		})
	}
	return results, rows.Err()
}

// UpsertBatch creates or updates a decode batch record.
func (s *Store) UpsertBatch(ctx context.Context, batchID string, updates map[string]any) error {
	query := `
		INSERT INTO decode_batches (batch_id, status, updated_at)
		VALUES ($1, 'processing', now())
		ON CONFLICT (batch_id) DO UPDATE SET updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, batchID); err != nil {
		return fmt.Errorf("upsert batch base: %w", err)
	}

	for field, value := range updates {
		var q string
		switch field {
		case "status":
			q = `UPDATE decode_batches SET status = $2, updated_at = now() WHERE batch_id = $1`
		case "convention":
			q = `UPDATE decode_batches SET convention = $2, updated_at = now() WHERE batch_id = $1`
		case "call_count":
			q = `UPDATE decode_batches SET call_count = $2, updated_at = now() WHERE batch_id = $1`
		case "failure_count":
			q = `UPDATE decode_batches SET failure_count = $2, updated_at = now() WHERE batch_id = $1`
		case "duration_ms":
			q = `UPDATE decode_batches SET duration_ms = $2, updated_at = now() WHERE batch_id = $1`
		case "emitted_at":
			q = `UPDATE decode_batches SET emitted_at = $2, updated_at = now() WHERE batch_id = $1`
		default:
			continue
		}
		if _, err := s.pool.Exec(ctx, q, batchID, value); err != nil {
			return fmt.Errorf("update batch field %s: %w", field, err)
		}
	}
	return nil
}

// GetBatch returns a single decode batch by ID.
func (s *Store) GetBatch(ctx context.Context, batchID string) (map[string]any, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT batch_id, status, convention, call_count, failure_count, duration_ms, emitted_at, created_at, updated_at FROM decode_batches WHERE batch_id = $1`,
		batchID,
	)

	var (
		bid, status          string
		conv                 *string
		callCount, failCount *int
		durationMs           *int64
		emittedAt            *time.Time
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&bid, &status, &conv, &callCount, &failCount, &durationMs, &emittedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	result := map[string]any{
		"batch_id":   bid,
		"status":     status,
		"created_at": createdAt,
		"updated_at": updatedAt,
	}
	if conv != nil {
		result["convention"] = *conv
	}
	if callCount != nil {
		result["call_count"] = *callCount
	}
	if failCount != nil {
		result["failure_count"] = *failCount
	}
	if durationMs != nil {
		result["duration_ms"] = *durationMs
	}
	if emittedAt != nil {
		result["emitted_at"] = *emittedAt
	}
	return result, nil
}

// InsertFailure records one call that could not be decoded.
func (s *Store) InsertFailure(ctx context.Context, f FailureRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO decode_failures (call_id, batch_id, reason, detail)
		VALUES ($1, $2, $3, $4)
	`, f.CallID, f.BatchID, f.Reason, f.Detail)
	if err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}

// QueryFailures returns decode failures, optionally filtered by batch.
func (s *Store) QueryFailures(ctx context.Context, batchID string, limit int) ([]map[string]any, error) {
	q := `SELECT call_id, batch_id, reason, detail, created_at FROM decode_failures`
	args := []any{}
	argN := 1

	if batchID != "" {
		q += fmt.Sprintf(` WHERE batch_id = $%d`, argN)
		args = append(args, batchID)
		argN++
	}

	q += ` ORDER BY created_at DESC`

	if limit > 0 {
		q += fmt.Sprintf(` LIMIT $%d`, argN)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		var (
			cid, bid, reason, detail string
			createdAt                time.Time
		)
		if err := rows.Scan(&cid, &bid, &reason, &detail, &createdAt); err != nil {
			return nil, err
		}
		results = append(results, map[string]any{
			"call_id":    cid,
			"batch_id":   bid,
			"reason":     reason,
			"detail":     detail,
			"created_at": createdAt,
		})
	}
	return results, rows.Err()
}

// UpsertActMetric updates rolling per-act counters for a given date.
func (s *Store) UpsertActMetric(ctx context.Context, act string, date time.Time, updates map[string]any) error {
	d := date.Format("2006-01-02")

	// Ensure row exists.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO act_metrics (dialog_act, metric_date)
		VALUES ($1, $2)
		ON CONFLICT (dialog_act, metric_date) DO NOTHING
	`, act, d)
	if err != nil {
		return fmt.Errorf("ensure act_metrics row: %w", err)
	}

	for field, value := range updates {
		var q string
		switch field {
		case "inc_segments":
			q = `UPDATE act_metrics SET segment_count = segment_count + $3, updated_at = now() WHERE dialog_act = $1 AND metric_date = $2`
		case "inc_words":
			q = `UPDATE act_metrics SET word_count = word_count + $3, updated_at = now() WHERE dialog_act = $1 AND metric_date = $2`
		case "inc_continuations":
			q = `UPDATE act_metrics SET continuation_count = continuation_count + $3, updated_at = now() WHERE dialog_act = $1 AND metric_date = $2`
		default:
			continue
		}
		if _, err := s.pool.Exec(ctx, q, act, d, value); err != nil {
			return fmt.Errorf("update act metric %s: %w", field, err)
		}
	}

	return nil
}

// GetActSummary returns the latest counters for each dialogue act.
func (s *Store) GetActSummary(ctx context.Context) ([]map[string]any, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (dialog_act)
		       dialog_act, metric_date, segment_count, word_count, continuation_count
		FROM act_metrics
		ORDER BY dialog_act, metric_date DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		var (
			act                       string
			mdate                     time.Time
			segments, words, continua int
		)
		if err := rows.Scan(&act, &mdate, &segments, &words, &continua); err != nil {
			return nil, err
		}
		results = append(results, map[string]any{
			"dialog_act":         act,
			"metric_date":        mdate.Format("2006-01-02"),
			"segment_count":      segments,
			"word_count":         words,
			"continuation_count": continua,
		})
	}
	return results, rows.Err()
}
