package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/audit"
	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/metrics"
	uuidgen "github.com/JakeFAU/listing-tracker/internal/id/uuid"
)

// Runs reads the run ledger.
type Runs interface {
	Get(ctx context.Context, runID string) (crawler.Run, error)
	Recent(ctx context.Context, entity string, limit int) ([]crawler.Run, error)
}

// Audits reads the audit trail.
type Audits interface {
	Entries(ctx context.Context, runID string) ([]crawler.AuditEntry, error)
	Summarize(ctx context.Context, runID string) (audit.Summary, error)
}

// Offers reads offer versions.
type Offers interface {
	OfferHistory(ctx context.Context, resourceID string) ([]crawler.Offer, error)
}

// Deps are the read models served by the API. Ready may be nil.
type Deps struct {
	Runs   Runs
	Audits Audits
	Offers Offers
	Ready  func(context.Context) error
}

// Server wires HTTP handlers to the read models.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

const maxRunsLimit = 500

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/runs", s.listRuns)
		r.Route("/runs/{run_id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/audit", s.getRunAudit)
		})
		r.Get("/offers/{resource_id}/history", s.getOfferHistory)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRunsLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	runs, err := s.deps.Runs.Recent(r.Context(), r.URL.Query().Get("entity"), limit)
	if err != nil {
		s.internalError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []crawler.Run{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) getRunAudit(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	summary, err := s.deps.Audits.Summarize(r.Context(), run.ID)
	if err != nil {
		s.internalError(w, "summarize audit", err)
		return
	}
	entries, err := s.deps.Audits.Entries(r.Context(), run.ID)
	if err != nil {
		s.internalError(w, "list audit entries", err)
		return
	}
	if entries == nil {
		entries = []crawler.AuditEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "entries": entries})
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (crawler.Run, bool) {
	runID := chi.URLParam(r, "run_id")
	if !uuidgen.Valid(runID) {
		s.writeError(w, http.StatusBadRequest, "run_id must be a UUID")
		return crawler.Run{}, false
	}
	run, err := s.deps.Runs.Get(r.Context(), runID)
	if errors.Is(err, crawler.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return crawler.Run{}, false
	}
	if err != nil {
		s.internalError(w, "get run", err)
		return crawler.Run{}, false
	}
	return run, true
}

func (s *Server) getOfferHistory(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resource_id")
	offers, err := s.deps.Offers.OfferHistory(r.Context(), resourceID)
	if errors.Is(err, crawler.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "offer not found")
		return
	}
	if err != nil {
		s.internalError(w, "offer history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"resource_id": resourceID, "versions": offers})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "internal server error")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
