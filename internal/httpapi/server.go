// Package httpapi exposes a small read-only HTTP server over a job's run
// ledger and its last committed aggregate snapshot, plus a probe endpoint
// for checking a sample file before configuring a load.
//
// Routes:
//
//	GET  /healthz                → "ok"
//	GET  /api/runs/last          → last load_run row of the job
//	GET  /api/summary            → full snapshot
//	GET  /api/summary/{name}     → one aggregate
//	POST /api/probe              → body is a sample; returns probe.Result
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"txetl/internal/aggregate"
	"txetl/internal/config"
	"txetl/internal/logging"
	"txetl/internal/pipeline"
	"txetl/internal/probe"
	"txetl/internal/storage"
)

// Config controls server startup.
type Config struct {
	Addr string
	// Job selects whose runs /api/runs/last reports.
	Job string
	// HeaderMap is handed to the probe, as in parser.options.header_map.
	HeaderMap map[string]string
}

// Server wraps http.Server for convenience.
type Server struct {
	cfg  Config
	q    storage.Querier
	log  *zap.Logger
	mux  chi.Router
	srv  *http.Server
	load func(context.Context, storage.Querier) (*aggregate.Snapshot, error)
}

// NewServer constructs a Server with its routes registered.
func NewServer(cfg Config, q storage.Querier, log *zap.Logger) *Server {
	s := &Server{
		cfg:  cfg,
		q:    q,
		log:  logging.OrNop(log),
		mux:  chi.NewRouter(),
		load: aggregate.Load,
	}
	s.mux.Use(middleware.RequestID, middleware.Recoverer)
	s.Register(s.mux)
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.srv.ListenAndServe() }()
	s.log.Info("httpapi: listening", zap.String("addr", s.cfg.Addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Register mounts the endpoints on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs/last", s.handleLastRun)
		r.Get("/summary", s.handleSummary)
		r.Get("/summary/{name}", s.handleAggregate)
		r.Post("/probe", s.handleProbe)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	job := r.URL.Query().Get("job")
	if job == "" {
		job = s.cfg.Job
	}
	run, err := pipeline.LastRun(r.Context(), s.q, job)
	switch {
	case errors.Is(err, pipeline.ErrNoRuns):
		s.fail(w, r, http.StatusNotFound, err)
	case err != nil:
		s.fail(w, r, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, run)
	}
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*aggregate.Snapshot, bool) {
	snap, err := s.load(r.Context(), s.q)
	switch {
	case errors.Is(err, aggregate.ErrNoSnapshot):
		s.fail(w, r, http.StatusNotFound, err)
		return nil, false
	case err != nil:
		s.fail(w, r, http.StatusInternalServerError, err)
		return nil, false
	}
	return snap, true
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.snapshot(w, r); ok {
		s.writeJSON(w, snap)
	}
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	for _, a := range snap.Aggregates {
		if a.Name == name {
			s.writeJSON(w, a)
			return
		}
	}
	s.fail(w, r, http.StatusNotFound, errors.New("unknown aggregate "+strconv.Quote(name)))
}

// handleProbe runs the probe over the request body. Query parameters
// max_bytes, max_rows and delimiter mirror the probe command's flags.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opt := probe.Options{HeaderMap: s.cfg.HeaderMap}
	opt.MaxBytes, _ = strconv.Atoi(q.Get("max_bytes"))
	opt.MaxRows, _ = strconv.Atoi(q.Get("max_rows"))
	if d := q.Get("delimiter"); d != "" {
		opt.Delimiter = config.Options{"comma": d}.Rune("comma", ',')
	}
	limit := opt.MaxBytes
	if limit <= 0 {
		limit = probe.DefaultMaxBytes
	}
	sample, err := io.ReadAll(io.LimitReader(r.Body, int64(limit)))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	opt.MaxBytes = limit
	res, err := probe.Sample(sample, opt)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	res.Source = "request"
	s.writeJSON(w, res)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Warn("httpapi: write response", zap.Error(err))
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("httpapi: request failed",
			zap.Int("status", status),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
