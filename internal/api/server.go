package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/voxlab/actseg/internal/batcher"
	"github.com/voxlab/actseg/internal/decode"
	"github.com/voxlab/actseg/internal/dialog"
	"github.com/voxlab/actseg/internal/metrics"
	"github.com/voxlab/actseg/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	store   store.DataStore
	batcher *batcher.Batcher
	labels  map[string]struct{}
	router  chi.Router
	port    int
}

func NewServer(s store.DataStore, b *batcher.Batcher, labels map[string]struct{}, port int) *Server {
	srv := &Server{
		store:   s,
		batcher: b,
		labels:  labels,
		port:    port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Get("/calls", srv.handleListCalls)
		r.Get("/calls/{callID}", srv.handleGetCall)
		r.Get("/batches/{batchID}", srv.handleGetBatch)
		r.Get("/failures", srv.handleListFailures)
		r.Get("/acts/summary", srv.handleActSummary)
		r.Post("/decode", srv.handleDecode)
	})
	r.Handle("/metrics", metrics.Handler())

	srv.router = r
	return srv
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "actseg",
		"buffer_size": s.batcher.BufferLen(),
	})
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	convention := r.URL.Query().Get("convention")
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	calls, err := s.store.QueryCalls(r.Context(), convention, limit)
	if err != nil {
		slog.Error("query calls failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, calls)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	call, err := s.store.GetCall(r.Context(), callID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
		return
	}

	// Include the decoded segments in dialogue order.
	segs, err := s.store.QuerySegments(r.Context(), callID)
	if err != nil {
		slog.Error("query segments failed", "call_id", callID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	call["segments"] = segs

	writeJSON(w, http.StatusOK, call)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	b, err := s.store.GetBatch(r.Context(), batchID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return
	}

	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	batchID := r.URL.Query().Get("batch_id")
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	failures, err := s.store.QueryFailures(r.Context(), batchID, limit)
	if err != nil {
		slog.Error("query failures failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, failures)
}

func (s *Server) handleActSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.GetActSummary(r.Context())
	if err != nil {
		slog.Error("query act summary failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// decodeRequest is the payload for the synchronous decode endpoint. Nothing
// is persisted; the endpoint exists for ad-hoc inspection of tag sequences.
type decodeRequest struct {
	Convention      string        `json:"convention"`
	LabelResolution string        `json:"label_resolution"`
	Turns           []dialog.Turn `json:"turns"`
	Tags            []string      `json:"tags"`
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if len(req.Turns) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "turns are required"})
		return
	}

	opts := decode.Options{Labels: s.labels}
	if req.Convention != "" {
		conv, err := decode.ParseConvention(req.Convention)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		opts.Convention = conv
	}
	if req.LabelResolution != "" {
		res, err := decode.ParseLabelResolution(req.LabelResolution)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		opts.LabelResolution = res
	}

	call, err := decode.Call(req.Turns, req.Tags, opts)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  err.Error(),
			"reason": decode.Kind(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"segments":   call,
		"word_count": call.WordCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
