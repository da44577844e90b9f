// Package handler exposes the search pipeline, the lifecycle report and
// search analytics over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/lifecycle"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/searcher/pipeline"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/searcher/session"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/tracing"
)

// SessionHeader carries the caller's session id; it is generated when absent
// and echoed on every search response.
const SessionHeader = "X-Session-ID"

// maxBodyBytes bounds search request bodies.
const maxBodyBytes = 64 << 10

type Searcher interface {
	Title(ctx context.Context, pattern string) (pipeline.Result, error)
	Content(ctx context.Context, pattern string, maxWords, maxLength int) (pipeline.Result, error)
	Class(ctx context.Context, pattern string, maxWords, maxLength int) (pipeline.Result, error)
	Suggest(ctx context.Context, seeds []int64, topN int) (pipeline.Result, error)
}

type Lifecycle interface {
	Latest() lifecycle.Report
	State() lifecycle.State
	Running() bool
	Reload(ctx context.Context, opts lifecycle.Options) error
}

type Tracker interface {
	Track(event analytics.SearchEvent)
}

type Handler struct {
	search    Searcher
	sessions  session.Store
	lifecycle Lifecycle
	tracker   Tracker
	metrics   *metrics.Metrics
	cfg       config.SearchConfig
	base      context.Context
	logger    *slog.Logger
}

// New creates a Handler. lc, tracker and m may be nil.
func New(search Searcher, sessions session.Store, lc Lifecycle, tracker Tracker, m *metrics.Metrics, cfg config.SearchConfig) *Handler {
	return &Handler{
		search:    search,
		sessions:  sessions,
		lifecycle: lc,
		tracker:   tracker,
		metrics:   m,
		cfg:       cfg,
		base:      context.Background(),
		logger:    slog.Default().With("component", "search-handler"),
	}
}

// WithBaseContext sets the parent of background reloads. Cancelling ctx
// stops a reload that is still running.
func (h *Handler) WithBaseContext(ctx context.Context) *Handler {
	h.base = ctx
	return h
}

// Register mounts every route on mux. guard wraps the admin routes; nil
// leaves them open.
func (h *Handler) Register(mux *http.ServeMux, guard func(http.Handler) http.Handler) {
	var reload http.Handler = http.HandlerFunc(h.Reload)
	if guard != nil {
		reload = guard(reload)
	}

	mux.HandleFunc("POST /api/v1/search/title", h.Title)
	mux.HandleFunc("POST /api/v1/search/content", h.Content)
	mux.HandleFunc("POST /api/v1/search/class", h.Class)
	mux.HandleFunc("POST /api/v1/search/suggestions", h.Suggestions)
	mux.HandleFunc("GET /api/v1/lifecycle", h.LifecycleReport)
	mux.Handle("POST /api/v1/admin/reload", reload)
}

func (h *Handler) Title(w http.ResponseWriter, r *http.Request) {
	h.serveSearch(w, r, pipeline.KindTitle, validatePattern, func(ctx context.Context, req SearchRequest) (pipeline.Result, error) {
		return h.search.Title(ctx, req.Pattern)
	})
}

func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	h.serveSearch(w, r, pipeline.KindContent, withLimits(h.cfg.ContentMaxWords, h.cfg.ContentMaxLength), func(ctx context.Context, req SearchRequest) (pipeline.Result, error) {
		return h.search.Content(ctx, req.Pattern, req.MaxWords, req.MaxLength)
	})
}

func (h *Handler) Class(w http.ResponseWriter, r *http.Request) {
	h.serveSearch(w, r, pipeline.KindClass, withLimits(h.cfg.ClassMaxWords, h.cfg.ClassMaxLength), func(ctx context.Context, req SearchRequest) (pipeline.Result, error) {
		return h.search.Class(ctx, req.Pattern, req.MaxWords, req.MaxLength)
	})
}

type (
	searchFunc   func(ctx context.Context, req SearchRequest) (pipeline.Result, error)
	validateFunc func(req *SearchRequest) error
)

func withLimits(defWords, defLength int) validateFunc {
	return func(req *SearchRequest) error {
		return validateSearch(req, defWords, defLength)
	}
}

// serveSearch runs one pattern search and replaces the session's
// last-results with its outcome, empty results included.
func (h *Handler) serveSearch(w http.ResponseWriter, r *http.Request, kind pipeline.Kind, validate validateFunc, run searchFunc) {
	start := time.Now()
	ctx, sessionID := h.session(w, r)
	log := logger.FromContext(ctx)
	ctx, span := tracing.StartSpan(ctx, "http.search."+string(kind), logger.RequestID(ctx))
	defer endSpan(span, log)

	var req SearchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "request body must be a JSON object"))
		return
	}
	if err := validate(&req); err != nil {
		h.writeError(w, err)
		return
	}

	res, err := run(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("search failed", "kind", kind, "pattern", req.Pattern, "error", err)
		h.observe(ctx, kind, req.Pattern, sessionID, pipeline.Result{}, elapsed, err)
		h.writeError(w, err)
		return
	}

	if err := h.sessions.Set(ctx, sessionID, res.LastResults); err != nil {
		log.Warn("failed to store last results", "error", err)
	}

	log.Info("search completed",
		"kind", kind,
		"pattern", req.Pattern,
		"words", len(res.Words),
		"candidates", res.Candidates,
		"returned", len(res.Books),
		"latency_ms", elapsed.Milliseconds(),
	)
	span.SetAttr("returned", len(res.Books))
	h.observe(ctx, kind, req.Pattern, sessionID, res, elapsed, nil)
	h.writeJSON(w, http.StatusOK, books(res))
}

// Suggestions returns books similar to the session's last results.
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, sessionID := h.session(w, r)
	log := logger.FromContext(ctx)
	ctx, span := tracing.StartSpan(ctx, "http.search.suggestion", logger.RequestID(ctx))
	defer endSpan(span, log)

	topN, err := parseTopN(r.URL.Query().Get("top_n"), h.cfg.DefaultTopN)
	if err != nil {
		h.writeError(w, err)
		return
	}

	seeds, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		log.Warn("failed to read last results, suggesting from none", "error", err)
		seeds = nil
	}

	res, err := h.search.Suggest(ctx, seeds, topN)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("suggestion failed", "seeds", len(seeds), "error", err)
		h.observe(ctx, pipeline.KindSuggestion, "", sessionID, pipeline.Result{}, elapsed, err)
		h.writeError(w, err)
		return
	}
	log.Info("suggestions completed", "seeds", len(seeds), "returned", len(res.Books), "latency_ms", elapsed.Milliseconds())
	h.observe(ctx, pipeline.KindSuggestion, "", sessionID, res, elapsed, nil)
	h.writeJSON(w, http.StatusOK, books(res))
}

func (h *Handler) LifecycleReport(w http.ResponseWriter, r *http.Request) {
	if h.lifecycle == nil {
		h.writeError(w, apperrors.New(apperrors.ErrInternal, http.StatusServiceUnavailable, "lifecycle coordinator is not configured"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"state":   h.lifecycle.State(),
		"running": h.lifecycle.Running(),
		"report":  h.lifecycle.Latest(),
	})
}

// Reload starts a background coordinator run; force=true rebuilds indexes
// even when present.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.lifecycle == nil {
		h.writeError(w, apperrors.New(apperrors.ErrInternal, http.StatusServiceUnavailable, "lifecycle coordinator is not configured"))
		return
	}
	opts := lifecycle.Options{Force: r.URL.Query().Get("force") == "true"}
	// the run outlives the request but not the process
	runCtx := logger.WithRequestID(h.base, logger.RequestID(r.Context()))
	if err := h.lifecycle.Reload(runCtx, opts); err != nil {
		if errors.Is(err, lifecycle.ErrReloadInProgress) {
			h.writeError(w, apperrors.New(apperrors.ErrRemoteConflict, http.StatusConflict, "a reload is already in progress"))
			return
		}
		h.writeError(w, err)
		return
	}
	logger.FromContext(r.Context()).Info("reload started", "force", opts.Force)
	h.writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "force": opts.Force})
}

// session resolves the caller's session id and echoes it.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (context.Context, string) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		id = session.NewID()
	}
	w.Header().Set(SessionHeader, id)
	return logger.WithSessionID(r.Context(), id), id
}

func (h *Handler) observe(ctx context.Context, kind pipeline.Kind, pattern, sessionID string, res pipeline.Result, elapsed time.Duration, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case len(res.Books) == 0:
		result = "empty"
	}
	h.metrics.ObserveSearch(string(kind), result, len(res.Books), elapsed)

	if h.tracker == nil {
		return
	}
	h.tracker.Track(analytics.SearchEvent{
		Kind:       string(kind),
		Pattern:    pattern,
		Words:      res.Words,
		Candidates: res.Candidates,
		Returned:   len(res.Books),
		LatencyMs:  elapsed.Milliseconds(),
		Failed:     err != nil,
		SessionID:  sessionID,
		RequestID:  logger.RequestID(ctx),
		Timestamp:  time.Now().UTC(),
	})
}

func endSpan(span *tracing.Span, log *slog.Logger) {
	span.End()
	span.Log(log)
}

func books(res pipeline.Result) []catalog.Summary {
	if res.Books == nil {
		return []catalog.Summary{}
	}
	return res.Books
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	body := map[string]any{"error": http.StatusText(status)}

	var verr *ValidationError
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &verr):
		body["fields"] = verr.Fields
	case errors.As(err, &appErr):
		body["error"] = appErr.Message
	}
	h.writeJSON(w, status, body)
}
