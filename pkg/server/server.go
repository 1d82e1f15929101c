// Package server provides the HTTP REST collaborator for Feather.
//
// The server is a thin multi-tenant shell over the embedded engine: one
// .feather file per namespace under a data directory, opened lazily and
// exposed as CRUD + search endpoints. The engine itself imposes none of
// this; anything that can hold a *feather.DB can replace it.
//
// Endpoints (namespace matches [A-Za-z0-9_-]+):
//
//	GET  /health
//	GET  /metrics                                  (Prometheus)
//	GET  /v1/namespaces
//	GET  /v1/namespaces/{ns}/stats
//	POST /v1/{ns}/vectors                          add a record
//	POST /v1/{ns}/search
//	POST /v1/{ns}/context-chain
//	POST /v1/{ns}/auto-link
//	GET  /v1/{ns}/records/{id}                     metadata
//	PUT  /v1/{ns}/records/{id}                     update metadata
//	PUT  /v1/{ns}/records/{id}/importance
//	POST /v1/{ns}/records/{id}/touch
//	POST /v1/{ns}/records/{id}/link
//	GET  /v1/{ns}/export                           graph JSON
//	POST /v1/{ns}/save
//
// Authentication is optional: when the config carries a bcrypt API-key hash,
// every /v1 request must present a matching X-API-Key header.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/featherdb/featherdb/pkg/config"
	"github.com/featherdb/featherdb/pkg/feather"
	"github.com/featherdb/featherdb/pkg/filter"
	"github.com/featherdb/featherdb/pkg/scoring"
	"github.com/featherdb/featherdb/pkg/store"
)

// Server is the HTTP API over a tenant registry.
type Server struct {
	cfg      *config.Config
	registry *Registry
	logger   *log.Logger
	httpSrv  *http.Server

	metrics  *prometheus.Registry
	requests *prometheus.CounterVec
	latency  prometheus.Histogram
}

// New creates a server with its own registry and metrics. Metrics live in a
// per-server Prometheus registry so multiple servers can coexist in one
// process.
func New(cfg *config.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(cfg),
		logger:   logger,
		metrics:  prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feather_http_requests_total",
			Help: "HTTP requests by handler and status code.",
		}, []string{"handler", "code"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feather_http_request_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	s.metrics.MustRegister(s.requests, s.latency)
	return s
}

// Registry exposes the tenant registry, mainly for tests and the CLI.
func (s *Server) Registry() *Registry { return s.registry }

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /v1/namespaces", s.auth("namespaces", s.handleListNamespaces))
	mux.HandleFunc("POST /v1/{ns}/vectors", s.auth("add", s.handleAdd))
	mux.HandleFunc("POST /v1/{ns}/search", s.auth("search", s.handleSearch))
	mux.HandleFunc("POST /v1/{ns}/context-chain", s.auth("context_chain", s.handleContextChain))
	mux.HandleFunc("POST /v1/{ns}/auto-link", s.auth("auto_link", s.handleAutoLink))
	mux.HandleFunc("GET /v1/{ns}/records/{id}", s.auth("get_record", s.handleGetRecord))
	mux.HandleFunc("PUT /v1/{ns}/records/{id}", s.auth("update_record", s.handleUpdateRecord))
	mux.HandleFunc("PUT /v1/{ns}/records/{id}/importance", s.auth("update_importance", s.handleUpdateImportance))
	mux.HandleFunc("POST /v1/{ns}/records/{id}/touch", s.auth("touch", s.handleTouch))
	mux.HandleFunc("POST /v1/{ns}/records/{id}/link", s.auth("link", s.handleLink))
	mux.HandleFunc("GET /v1/{ns}/export", s.auth("export", s.handleExport))
	mux.HandleFunc("POST /v1/{ns}/save", s.auth("save", s.handleSave))

	// The stats route overlaps the record GET route (both match
	// /v1/namespaces/records/stats), which a single ServeMux refuses to
	// register, so it lives on its own mux that is consulted first.
	statsMux := http.NewServeMux()
	statsMux.HandleFunc("GET /v1/namespaces/{ns}/stats", s.auth("stats", s.handleStats))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := statsMux.Handler(r); pattern != "" {
			statsMux.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// ListenAndServe blocks serving HTTP until ctx is cancelled, then shuts down
// gracefully and closes every open database.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Address, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("feather http server listening", "addr", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown", "err", err)
		}
		return s.registry.CloseAll()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return s.registry.CloseAll()
		}
		return err
	}
}

// auth wraps a handler with API-key verification and metrics.
func (s *Server) auth(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		if hash := s.cfg.Server.APIKeyHash; hash != "" {
			key := r.Header.Get("X-API-Key")
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
				s.writeError(sw, http.StatusUnauthorized, "invalid api key")
				s.observe(name, sw.status, start)
				return
			}
		}

		next(sw, r)
		s.observe(name, sw.status, start)
	}
}

func (s *Server) observe(name string, status int, start time.Time) {
	s.requests.WithLabelValues(name, strconv.Itoa(status)).Inc()
	s.latency.Observe(time.Since(start).Seconds())
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ---- wire types ----

type addRequest struct {
	ID       uint64          `json:"id"`
	Vector   []float32       `json:"vector"`
	Modality string          `json:"modality"`
	Metadata *store.Metadata `json:"metadata,omitempty"`
}

type searchRequest struct {
	Vector   []float32       `json:"vector"`
	K        int             `json:"k"`
	Modality string          `json:"modality"`
	Filter   *filter.Filter  `json:"filter,omitempty"`
	Scoring  *scoring.Config `json:"scoring,omitempty"`
}

type contextChainRequest struct {
	Vector   []float32 `json:"vector"`
	K        int       `json:"k"`
	Hops     int       `json:"hops"`
	Modality string    `json:"modality"`
}

type autoLinkRequest struct {
	Modality   string  `json:"modality"`
	Threshold  float64 `json:"threshold"`
	RelType    string  `json:"rel_type"`
	Candidates int     `json:"candidates"`
}

type linkRequest struct {
	Target  uint64  `json:"target"`
	RelType string  `json:"rel_type"`
	Weight  float32 `json:"weight"`
}

type importanceRequest struct {
	Importance float32 `json:"importance"`
}

// ---- handlers ----

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"namespaces": s.registry.List()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	db, err := s.registry.Get(r.PathValue("ns"), false)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, db.Stats())
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	db, err := s.registry.Get(r.PathValue("ns"), true)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := db.Add(req.ID, req.Vector, req.Metadata, req.Modality); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]uint64{"id": req.ID})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	db, err := s.registry.Get(r.PathValue("ns"), false)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	// A request without explicit scoring inherits the configured defaults
	// when those actually weight time; otherwise searches stay raw-similarity.
	if req.Scoring == nil && s.cfg.Scoring.Weight > 0 {
		req.Scoring = &scoring.Config{
			HalfLifeDays: s.cfg.Scoring.HalfLifeDays,
			Weight:       s.cfg.Scoring.Weight,
			Min:          s.cfg.Scoring.Min,
		}
	}
	hits, err := db.Search(req.Vector, req.K, &feather.SearchOptions{
		Modality: req.Modality,
		Filter:   req.Filter,
		Scoring:  req.Scoring,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": hits, "returned": len(hits)})
}

func (s *Server) handleContextChain(w http.ResponseWriter, r *http.Request) {
	var req contextChainRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	db, err := s.registry.Get(r.PathValue("ns"), false)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	result, err := db.ContextChain(req.Vector, req.K, req.Hops, req.Modality)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAutoLink(w http.ResponseWriter, r *http.Request) {
	var req autoLinkRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	db, err := s.registry.Get(r.PathValue("ns"), false)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	created, err := db.AutoLink(req.Modality, req.Threshold, req.RelType, req.Candidates)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"links_created": created})
}

func (s *Server) recordID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "record id must be an unsigned integer")
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	db, err := s.registry.Get(r.PathValue("ns"), false)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	meta, err := db.GetMetadata(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	var meta store.Metadata
	if !s.readJSON(w, r, &meta) {
		return
	}
	db, err := s.registry.Get(r.PathValue("ns"), false)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := db.UpdateMetadata(id, meta); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleUpdateImportance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	var req importanceRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	db, err := s.registry.Get(r.PathValue("ns"), false)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := db.UpdateImportance(id, req.Importance); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	db, err := s.registry.Get(r.PathValue("ns"), false)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := db.Touch(id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "touched"})
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	var req linkRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.Weight == 0 {
		req.Weight = 1.0
	}
	db, err := s.registry.Get(r.PathValue("ns"), false)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := db.Link(id, req.Target, req.RelType, req.Weight); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "linked"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	db, err := s.registry.Get(r.PathValue("ns"), false)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	data, err := db.ExportGraphJSON(r.URL.Query().Get("namespace"), r.URL.Query().Get("entity"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	db, err := s.registry.Get(r.PathValue("ns"), false)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := db.Save(); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// ---- plumbing ----

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine errors onto HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, feather.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, feather.ErrInvalidArgument), errors.Is(err, feather.ErrDimensionMismatch):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, feather.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("internal error", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
