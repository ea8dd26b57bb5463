// Package server exposes the admin HTTP surface: run triggering,
// fragment intake, health, stats, trends, and run events over SSE.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsflow/internal/maintenance"
	"github.com/thebtf/newsflow/internal/metrics"
	"github.com/thebtf/newsflow/internal/pipeline"
	"github.com/thebtf/newsflow/internal/server/sse"
	"github.com/thebtf/newsflow/pkg/models"
)

// FragmentStore is the slice of the entity store intake needs.
type FragmentStore interface {
	CreateFragment(ctx context.Context, f *models.Fragment) (string, error)
}

// TrendReader is the slice of the trend store the server needs.
type TrendReader interface {
	ListTrends(ctx context.Context) ([]*models.Trend, error)
}

// Runner is the slice of the pipeline the server drives.
type Runner interface {
	Run(ctx context.Context) (*pipeline.RunResult, error)
	Running() bool
}

// Deps bundles the server's collaborators.
type Deps struct {
	Runner    Runner
	Fragments FragmentStore
	Trends    TrendReader
	Sweep     *maintenance.OrganizationSweep
	Metrics   *metrics.Metrics
	Events    *sse.Broadcaster
}

// Server is the admin HTTP server.
type Server struct {
	deps Deps
	http *http.Server
}

// New builds the server and its routes.
func New(addr string, deps Deps) *Server {
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/trends", s.handleTrends)
	r.Get("/events", deps.Events.ServeHTTP)
	r.Post("/run", s.handleRun)
	r.Post("/fragments", s.handleCreateFragment)
	r.Post("/maintenance/dedupe", s.handleDedupe)

	s.http = &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server exits.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.http.Addr).Msg("Admin server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.deps.Runner.Running(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Metrics.GetSnapshot())
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	trends, err := s.deps.Trends.ListTrends(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if trends == nil {
		trends = []*models.Trend{}
	}
	writeJSON(w, http.StatusOK, trends)
}

// handleRun triggers a pipeline run synchronously. A second request
// while one is in flight gets 409. Run events reach /events subscribers
// from inside the pipeline, so scheduled runs emit them too.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Runner.Run(r.Context())
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type createFragmentRequest struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Summary     string    `json:"summary"`
	SourceName  string    `json:"source_name"`
	Instruments []string  `json:"instruments"`
	Embedding   []float32 `json:"embedding"`
	Include     *bool     `json:"include"`
	PublishedAt time.Time `json:"published_at"`
}

// handleCreateFragment accepts one extracted fragment into the intake
// table. Include defaults to true.
func (s *Server) handleCreateFragment(w http.ResponseWriter, r *http.Request) {
	var req createFragmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Body == "" && req.Summary == "" {
		writeError(w, http.StatusBadRequest, errors.New("fragment needs a body or summary"))
		return
	}

	include := true
	if req.Include != nil {
		include = *req.Include
	}
	f := &models.Fragment{
		Title:       req.Title,
		Body:        req.Body,
		Summary:     req.Summary,
		SourceName:  req.SourceName,
		Instruments: req.Instruments,
		Embedding:   req.Embedding,
		Include:     include,
		PublishedAt: req.PublishedAt,
	}
	id, err := s.deps.Fragments.CreateFragment(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleDedupe(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Sweep.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
