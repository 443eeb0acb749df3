// Package adminhttp is the operator/admin HTTP surface: remote triggers for
// rebuild, backfill, and gap-scan-with-fix, built on mux.Router +
// validator.Validate request handling.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"marketdata/internal/domain"
	"marketdata/internal/gapdetector"
	"marketdata/internal/queue"
	"marketdata/pkg/log"
)

// Builder is the subset of the Candle Builder the admin surface drives.
type Builder interface {
	BuildM1FromTicks(ctx context.Context, symbol string, from, to time.Time) (int, error)
	RebuildHigherTimeframes(ctx context.Context, symbol string, from, to time.Time) (map[domain.Timeframe]int, error)
}

// GapScanner is the subset of the Gap Detector the admin surface drives.
type GapScanner interface {
	DetectGaps(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]gapdetector.Gap, error)
}

// Server wraps a mux.Router serving the operator/admin surface.
type Server struct {
	router   *mux.Router
	builder  Builder
	gaps     GapScanner
	q        queue.Queue
	validate *validator.Validate
}

// NewServer builds the admin HTTP surface.
func NewServer(builder Builder, gaps GapScanner, q queue.Queue) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		builder:  builder,
		gaps:     gaps,
		q:        q,
		validate: validator.New(),
	}
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rebuild", s.handleRebuild).Methods(http.MethodPost)
	api.HandleFunc("/backfill", s.handleBackfill).Methods(http.MethodPost)
	api.HandleFunc("/gaps", s.handleGaps).Methods(http.MethodPost)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// rebuildRequest rebuilds the M1 candles of symbol over [from, to), then every
// derived timeframe.
type rebuildRequest struct {
	Symbol string    `json:"symbol" validate:"required"`
	From   time.Time `json:"from" validate:"required"`
	To     time.Time `json:"to" validate:"required,gtfield=From"`
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if !decodeAndValidate(w, r, s.validate, &req) {
		return
	}
	ctx := r.Context()
	if _, err := s.builder.BuildM1FromTicks(ctx, req.Symbol, req.From, req.To); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	counts, err := s.builder.RebuildHigherTimeframes(ctx, req.Symbol, req.From, req.To)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "rebuilt": counts})
}

// backfillRequest enqueues a gap directly onto the Backfill Queue, to be
// picked up by the engine's worker pool rather than executed inline.
type backfillRequest struct {
	Symbol    string    `json:"symbol" validate:"required"`
	Timeframe string    `json:"timeframe" validate:"required"`
	From      time.Time `json:"from" validate:"required"`
	To        time.Time `json:"to" validate:"required,gtfield=From"`
	Priority  int       `json:"priority"`
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if !decodeAndValidate(w, r, s.validate, &req) {
		return
	}
	job := domain.BackfillJob{
		Symbol:    req.Symbol,
		Timeframe: domain.Timeframe(req.Timeframe),
		GapStart:  req.From,
		GapEnd:    req.To,
		Priority:  req.Priority,
	}
	if err := s.q.Enqueue(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"status": "enqueued"})
}

// gapsRequest scans for gaps over a window and, when Fix is set, enqueues
// them for the worker pool.
type gapsRequest struct {
	Symbol string `json:"symbol" validate:"required"`
	Days   int    `json:"days" validate:"required,min=1"`
	Fix    bool   `json:"fix"`
}

func (s *Server) handleGaps(w http.ResponseWriter, r *http.Request) {
	var req gapsRequest
	if !decodeAndValidate(w, r, s.validate, &req) {
		return
	}
	ctx := r.Context()
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -req.Days)

	gaps, err := s.gaps.DetectGaps(ctx, req.Symbol, domain.M1, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if req.Fix {
		for _, g := range gaps {
			job := domain.BackfillJob{Symbol: g.Symbol, Timeframe: g.Timeframe, GapStart: g.From, GapEnd: g.To, Priority: 5}
			if err := s.q.Enqueue(ctx, job); err != nil {
				log.BackfillError(job.ID, "admin-triggered enqueue failed", err, nil)
			}
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"gaps": gaps, "fixed": req.Fix})
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return false
	}
	if err := v.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, err error) {
	log.Error("admin request failed: %v", err)
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
