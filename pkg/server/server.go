package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/elonfeng/trendscore/internal/store"
	"github.com/elonfeng/trendscore/pkg/score"
	"github.com/elonfeng/trendscore/pkg/source"
	"github.com/elonfeng/trendscore/pkg/trend"
)

// Engine is the part of the trend engine the API uses.
type Engine interface {
	Rank(ctx context.Context, q trend.Query) (trend.Result, error)
	AnalyzeCached(ctx context.Context, ids []string, opts trend.AnalyzeOptions) (trend.AnalyzeResult, error)
	HasJudge() bool
	Sources() []source.SourceType
}

// Store is the storage the API reads and writes directly.
type Store interface {
	store.BookmarkStore
	store.UsageStore
}

// Server provides the HTTP API.
type Server struct {
	engine        Engine
	store         Store
	logger        *zerolog.Logger
	monthlyBudget float64
	server        *http.Server
	now           func() time.Time
}

// New creates a new HTTP server.
func New(engine Engine, st Store, port int, monthlyBudget float64, logger *zerolog.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	s := &Server{
		engine:        engine,
		store:         st,
		logger:        logger,
		monthlyBudget: monthlyBudget,
		now:           time.Now,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/trends", s.handleTrends)
		r.Post("/trends/save", s.handleSave)
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/usage", s.handleUsage)
	})
	return r
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("trendscore server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"judge":   s.engine.HasJudge(),
		"sources": s.engine.Sources(),
	})
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.engine.Rank(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if res.Trends == nil {
		res.Trends = []score.ScoredTrend{}
	}
	writeJSON(w, http.StatusOK, res)
}

func parseQuery(r *http.Request) (trend.Query, error) {
	v := r.URL.Query()
	var q trend.Query
	var err error

	if q.Sources, err = source.ParseSourceTypes(v.Get("sources")); err != nil {
		return q, err
	}
	if q.Window, err = trend.ParseWindow(v.Get("window")); err != nil {
		return q, err
	}
	if q.SortBy, err = score.ParseSortKey(v.Get("sort")); err != nil {
		return q, err
	}
	if q.HideRejected, err = boolParam(v.Get("hide_rejected"), true); err != nil {
		return q, fmt.Errorf("hide_rejected: %w", err)
	}
	if q.UseCache, err = boolParam(v.Get("cache"), false); err != nil {
		return q, fmt.Errorf("cache: %w", err)
	}
	if q.Analyze, err = boolParam(v.Get("analyze"), false); err != nil {
		return q, fmt.Errorf("analyze: %w", err)
	}
	if q.DetectCrossPlatform, err = boolParam(v.Get("cross_platform"), false); err != nil {
		return q, fmt.Errorf("cross_platform: %w", err)
	}
	return q, nil
}

func boolParam(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseBool(raw)
}

type analyzeRequest struct {
	TrendIDs            []string `json:"trend_ids"`
	All                 bool     `json:"all"`
	DetectCrossPlatform bool     `json:"detect_cross_platform"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if !req.All && len(req.TrendIDs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("trend_ids or all is required"))
		return
	}
	ids := req.TrendIDs
	if req.All {
		ids = nil
	}

	res, err := s.engine.AnalyzeCached(r.Context(), ids, trend.AnalyzeOptions{DetectCrossPlatform: req.DetectCrossPlatform})
	switch {
	case errors.Is(err, trend.ErrNoJudge):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, errors.New("no cached trends match trend_ids"))
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type saveRequest struct {
	TrendID string `json:"trend_id"`
	Saved   *bool  `json:"saved"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if req.TrendID == "" {
		writeError(w, http.StatusBadRequest, errors.New("trend_id is required"))
		return
	}
	saved := true
	if req.Saved != nil {
		saved = *req.Saved
	}

	err := s.store.SetSaved(r.Context(), req.TrendID, saved)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("trend %q not found", req.TrendID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trend_id": req.TrendID, "saved": saved})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.UsageSummary(r.Context(), s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := map[string]any{"usage": sum}
	if s.monthlyBudget > 0 {
		resp["budget"] = map[string]float64{
			"monthly_usd":   s.monthlyBudget,
			"remaining_usd": max(s.monthlyBudget-sum.Month.CostUSD, 0),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
