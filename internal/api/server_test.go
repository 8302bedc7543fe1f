package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voxlab/actseg/internal/batcher"
	"github.com/voxlab/actseg/internal/store"
	"github.com/voxlab/actseg/internal/testutil"
)

func setupServer(ms store.DataStore) *Server {
	bat := batcher.New(ms, batcher.Config{
		FlushInterval:  1 * time.Hour,
		FlushThreshold: 1000,
		BufferMax:      10000,
	})
	return NewServer(ms, bat, nil, 8750)
}

func seedCall(ms *testutil.MockStore, callID, convention string) {
	ms.SetCall(store.CallRow{
		CallID:       callID,
		BatchID:      "batch-1",
		Convention:   convention,
		SegmentCount: 2,
		WordCount:    6,
		DecodedAt:    time.Now().UTC(),
	})
	ms.SetSegments([]store.SegmentRow{
		{SegmentID: callID + "-0", CallID: callID, Position: 0, Speaker: "A", DialogAct: "Question", Words: []string{"how", "are", "you"}},
		{SegmentID: callID + "-1", CallID: callID, Position: 1, Speaker: "B", DialogAct: "Statement", Words: []string{"i'm", "doing", "fine"}},
	})
}

func TestHealthEndpoint(t *testing.T) {
	ms := testutil.NewMockStore()
	srv := setupServer(ms)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["service"] != "actseg" {
		t.Errorf("expected service actseg, got %v", body["service"])
	}
}

func TestCallsEndpoint_ListAll(t *testing.T) {
	ms := testutil.NewMockStore()
	seedCall(ms, "call-1", "classic")
	seedCall(ms, "call-2", "joint_coding")
	srv := setupServer(ms)

	req := httptest.NewRequest("GET", "/api/v1/calls", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body []map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if len(body) != 2 {
		t.Errorf("expected 2 calls, got %d", len(body))
	}
}

func TestCallsEndpoint_FilterByConvention(t *testing.T) {
	ms := testutil.NewMockStore()
	seedCall(ms, "call-1", "classic")
	seedCall(ms, "call-2", "joint_coding")
	srv := setupServer(ms)

	req := httptest.NewRequest("GET", "/api/v1/calls?convention=classic", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body []map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if len(body) != 1 {
		t.Errorf("expected 1 classic call, got %d", len(body))
	}
}

func TestCallsEndpoint_CustomLimit(t *testing.T) {
	ms := testutil.NewMockStore()
	for i := 0; i < 10; i++ {
		seedCall(ms, fmt.Sprintf("call-%d", i), "classic")
	}
	srv := setupServer(ms)

	req := httptest.NewRequest("GET", "/api/v1/calls?limit=3", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body []map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if len(body) > 3 {
		t.Errorf("expected at most 3 calls, got %d", len(body))
	}
}

func TestGetCall_FoundWithSegments(t *testing.T) {
	ms := testutil.NewMockStore()
	seedCall(ms, "call-1", "classic")
	srv := setupServer(ms)

	req := httptest.NewRequest("GET", "/api/v1/calls/call-1", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["call_id"] != "call-1" {
		t.Errorf("expected call_id call-1, got %v", body["call_id"])
	}
	segs, ok := body["segments"].([]any)
	if !ok {
		t.Fatalf("expected segments array, got %T", body["segments"])
	}
	if len(segs) != 2 {
		t.Errorf("expected 2 segments, got %d", len(segs))
	}
}

func TestGetCall_SegmentsQueryError(t *testing.T) {
	ms := testutil.NewMockStore()
	seedCall(ms, "call-1", "classic")
	ms.QuerySegmentsErr = fmt.Errorf("connection reset")
	srv := setupServer(ms)

	req := httptest.NewRequest("GET", "/api/v1/calls/call-1", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestGetCall_NotFound(t *testing.T) {
	srv := setupServer(testutil.NewMockStore())

	req := httptest.NewRequest("GET", "/api/v1/calls/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetBatch(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.UpsertBatch(nil, "batch-1", map[string]any{"status": "completed", "call_count": 5})
	srv := setupServer(ms)

	req := httptest.NewRequest("GET", "/api/v1/batches/batch-1", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "completed" {
		t.Errorf("expected status completed, got %v", body["status"])
	}

	req = httptest.NewRequest("GET", "/api/v1/batches/missing", nil)
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing batch, got %d", w.Code)
	}
}

func TestListFailures(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertFailure(nil, store.FailureRow{CallID: "call-x", BatchID: "batch-1", Reason: "count_mismatch", Detail: "boom"})
	ms.InsertFailure(nil, store.FailureRow{CallID: "call-y", BatchID: "batch-2", Reason: "unknown_tag", Detail: "bad"})
	srv := setupServer(ms)

	req := httptest.NewRequest("GET", "/api/v1/failures?batch_id=batch-1", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body []map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if len(body) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(body))
	}
	if body[0]["call_id"] != "call-x" {
		t.Errorf("expected call-x, got %v", body[0]["call_id"])
	}
}

func TestActSummary(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.UpsertActMetric(nil, "Statement", time.Now().UTC(), map[string]any{"inc_segments": 4})
	ms.UpsertActMetric(nil, "Question", time.Now().UTC(), map[string]any{"inc_segments": 2})
	srv := setupServer(ms)

	req := httptest.NewRequest("GET", "/api/v1/acts/summary", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body []map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if len(body) != 2 {
		t.Errorf("expected 2 acts, got %d", len(body))
	}
}

func TestDecodeEndpoint_Classic(t *testing.T) {
	srv := setupServer(testutil.NewMockStore())

	payload := `{
		"convention": "classic",
		"turns": [
			{"speaker": "A", "words": ["hi", "how", "are", "you"]},
			{"speaker": "B", "words": ["fine"]}
		],
		"tags": ["B-Question", "I-Question", "I-Question", "I-Question", "O", "B-Statement"]
	}`

	req := httptest.NewRequest("POST", "/api/v1/decode", strings.NewReader(payload))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Segments []struct {
			Words     []string `json:"words"`
			DialogAct string   `json:"dialog_act"`
			Speaker   string   `json:"speaker"`
		} `json:"segments"`
		WordCount int `json:"word_count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(body.Segments))
	}
	if body.Segments[0].DialogAct != "Question" || body.Segments[0].Speaker != "A" {
		t.Errorf("unexpected first segment: %+v", body.Segments[0])
	}
	if body.WordCount != 5 {
		t.Errorf("expected word_count 5, got %d", body.WordCount)
	}
}

func TestDecodeEndpoint_DecodeError(t *testing.T) {
	srv := setupServer(testutil.NewMockStore())

	// Tag list too short for the token stream.
	payload := `{
		"turns": [{"speaker": "A", "words": ["hi", "there"]}],
		"tags": ["B-Statement"]
	}`

	req := httptest.NewRequest("POST", "/api/v1/decode", strings.NewReader(payload))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["reason"] != "count_mismatch" {
		t.Errorf("expected reason count_mismatch, got %v", body["reason"])
	}
}

func TestDecodeEndpoint_BadRequests(t *testing.T) {
	srv := setupServer(testutil.NewMockStore())

	cases := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{not json`},
		{"no turns", `{"tags": ["O"]}`},
		{"bad convention", `{"convention": "freestyle", "turns": [{"speaker": "A", "words": ["hi"]}], "tags": ["B-Statement"]}`},
		{"bad resolution", `{"label_resolution": "psychic", "turns": [{"speaker": "A", "words": ["hi"]}], "tags": ["B-Statement"]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/decode", strings.NewReader(tc.payload))
			w := httptest.NewRecorder()
			srv.router.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestMetricsScrapeEndpoint(t *testing.T) {
	srv := setupServer(testutil.NewMockStore())

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 from metrics endpoint, got %d", w.Code)
	}
}
