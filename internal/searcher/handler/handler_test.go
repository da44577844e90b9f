package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/lifecycle"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/remote"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/searcher/pipeline"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/searcher/session"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/logger"
)

type call struct {
	kind      string
	pattern   string
	maxWords  int
	maxLength int
	seeds     []int64
	topN      int
}

type fakeSearcher struct {
	mu    sync.Mutex
	calls []call
	res   pipeline.Result
	err   error
}

func (f *fakeSearcher) record(c call) (pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.res, f.err
}

func (f *fakeSearcher) Title(_ context.Context, pattern string) (pipeline.Result, error) {
	return f.record(call{kind: "title", pattern: pattern})
}

func (f *fakeSearcher) Content(_ context.Context, pattern string, w, l int) (pipeline.Result, error) {
	return f.record(call{kind: "content", pattern: pattern, maxWords: w, maxLength: l})
}

func (f *fakeSearcher) Class(_ context.Context, pattern string, w, l int) (pipeline.Result, error) {
	return f.record(call{kind: "class", pattern: pattern, maxWords: w, maxLength: l})
}

func (f *fakeSearcher) Suggest(_ context.Context, seeds []int64, topN int) (pipeline.Result, error) {
	return f.record(call{kind: "suggestion", seeds: seeds, topN: topN})
}

func (f *fakeSearcher) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeLifecycle struct {
	report  lifecycle.Report
	running bool
	reloads []lifecycle.Options
	ctx     context.Context
	err     error
}

func (f *fakeLifecycle) Latest() lifecycle.Report { return f.report }
func (f *fakeLifecycle) State() lifecycle.State   { return f.report.Final }
func (f *fakeLifecycle) Running() bool            { return f.running }
func (f *fakeLifecycle) Reload(ctx context.Context, opts lifecycle.Options) error {
	if f.err != nil {
		return f.err
	}
	f.ctx = ctx
	f.reloads = append(f.reloads, opts)
	return nil
}

type recordingTracker struct {
	events []analytics.SearchEvent
}

func (r *recordingTracker) Track(e analytics.SearchEvent) { r.events = append(r.events, e) }

type harness struct {
	search   *fakeSearcher
	sessions *session.MemoryStore
	lc       *fakeLifecycle
	tracker  *recordingTracker
	mux      *http.ServeMux
}

func newHarness() *harness {
	return newGuardedHarness(nil)
}

func newGuardedHarness(guard func(http.Handler) http.Handler) *harness {
	h := &harness{
		search:   &fakeSearcher{},
		sessions: session.NewMemoryStore(time.Hour),
		lc:       &fakeLifecycle{},
		tracker:  &recordingTracker{},
		mux:      http.NewServeMux(),
	}
	cfg := config.SearchConfig{
		ContentMaxWords:  100,
		ContentMaxLength: 50,
		ClassMaxWords:    50,
		ClassMaxLength:   50,
		DefaultTopN:      5,
	}
	New(h.search, h.sessions, h.lc, h.tracker, nil, cfg).Register(h.mux, guard)
	return h
}

func (h *harness) do(t *testing.T, method, target, body, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func TestContentSearchAppliesDefaults(t *testing.T) {
	h := newHarness()
	h.search.res = pipeline.Result{
		Books:       []catalog.Summary{{ID: 2, Title: "Sea"}},
		LastResults: []int64{2},
		Words:       []string{"sea"},
		Candidates:  1,
	}

	rec := h.do(t, http.MethodPost, "/api/v1/search/content", `{"pattern":"  sea "}`, "s1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", rec.Header().Get(SessionHeader))

	var got []catalog.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, []catalog.Summary{{ID: 2, Title: "Sea"}}, got)

	assert.Equal(t, call{kind: "content", pattern: "sea", maxWords: 100, maxLength: 50}, h.search.last())

	ids, err := h.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	require.Len(t, h.tracker.events, 1)
	ev := h.tracker.events[0]
	assert.Equal(t, "content", ev.Kind)
	assert.Equal(t, 1, ev.Returned)
	assert.Equal(t, "s1", ev.SessionID)
	assert.False(t, ev.Failed)
}

func TestClassSearchUsesClassDefaults(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPost, "/api/v1/search/class", `{"pattern":"sea","max_length":20}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(SessionHeader))
	assert.Equal(t, call{kind: "class", pattern: "sea", maxWords: 50, maxLength: 20}, h.search.last())
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestEmptySearchClearsLastResults(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sessions.Set(context.Background(), "s1", []int64{1, 2}))

	rec := h.do(t, http.MethodPost, "/api/v1/search/title", `{"pattern":"zzz"}`, "s1")
	require.Equal(t, http.StatusOK, rec.Code)

	ids, err := h.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSearchValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing pattern", `{}`, "pattern"},
		{"blank pattern", `{"pattern":"   "}`, "pattern"},
		{"long pattern", `{"pattern":"` + strings.Repeat("a", 257) + `"}`, "pattern"},
		{"max words too large", `{"pattern":"a","max_words":1001}`, "max_words"},
		{"negative max length", `{"pattern":"a","max_length":-1}`, "max_length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			rec := h.do(t, http.MethodPost, "/api/v1/search/content", tt.body, "")
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body struct {
				Fields map[string]string `json:"fields"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Contains(t, body.Fields, tt.field)
			assert.Empty(t, h.search.calls)
		})
	}
}

func TestTitleSearchIgnoresWordLimits(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPost, "/api/v1/search/title", `{"pattern":"dragon","max_words":5000,"max_length":-3}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, call{kind: "title", pattern: "dragon"}, h.search.last())

	rec = h.do(t, http.MethodPost, "/api/v1/search/title", `{"pattern":"  "}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMalformedBody(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPost, "/api/v1/search/title", `{"pattern":`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchFailureMapsStatus(t *testing.T) {
	h := newHarness()
	h.search.err = &remote.StatusError{Endpoint: "generate_words", Code: http.StatusInternalServerError}
	require.NoError(t, h.sessions.Set(context.Background(), "s1", []int64{7}))

	rec := h.do(t, http.MethodPost, "/api/v1/search/content", `{"pattern":"sea"}`, "s1")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	ids, err := h.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ids, "failed search keeps previous last-results")

	require.Len(t, h.tracker.events, 1)
	assert.True(t, h.tracker.events[0].Failed)
}

func TestSuggestionsUseSessionSeeds(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sessions.Set(context.Background(), "s1", []int64{1, 2}))
	require.NoError(t, h.sessions.Set(context.Background(), "s2", []int64{9}))
	h.search.res = pipeline.Result{Books: []catalog.Summary{{ID: 3}}}

	rec := h.do(t, http.MethodPost, "/api/v1/search/suggestions?top_n=3", "", "s1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, call{kind: "suggestion", seeds: []int64{1, 2}, topN: 3}, h.search.last())

	ids, err := h.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids, "suggestions leave last-results untouched")
}

func TestSuggestionsDefaultTopNAndUnknownSession(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPost, "/api/v1/search/suggestions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	c := h.search.last()
	assert.Equal(t, 5, c.topN)
	assert.Empty(t, c.seeds)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSuggestionsRejectBadTopN(t *testing.T) {
	for _, v := range []string{"0", "101", "abc"} {
		h := newHarness()
		rec := h.do(t, http.MethodPost, "/api/v1/search/suggestions?top_n="+v, "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, v)
	}
}

func TestLifecycleReport(t *testing.T) {
	h := newHarness()
	h.lc.report = lifecycle.Report{
		Final:        lifecycle.StateReadyDegraded,
		Capabilities: lifecycle.Capabilities{Catalog: true, TitleIndex: true},
	}
	rec := h.do(t, http.MethodGet, "/api/v1/lifecycle", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		State  string           `json:"state"`
		Report lifecycle.Report `json:"report"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ready_degraded", body.State)
	assert.True(t, body.Report.Capabilities.TitleIndex)
	assert.False(t, body.Report.Capabilities.Rank)
}

func TestReload(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPost, "/api/v1/admin/reload?force=true", "", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []lifecycle.Options{{Force: true}}, h.lc.reloads)

	h.lc.err = lifecycle.ErrReloadInProgress
	rec = h.do(t, http.MethodPost, "/api/v1/admin/reload", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReloadRunsUnderBaseContext(t *testing.T) {
	base, stop := context.WithCancel(context.Background())
	defer stop()
	lc := &fakeLifecycle{}
	mux := http.NewServeMux()
	New(&fakeSearcher{}, session.NewMemoryStore(time.Hour), lc, nil, nil, config.SearchConfig{}).
		WithBaseContext(base).
		Register(mux, nil)

	reqCtx, endRequest := context.WithCancel(logger.WithRequestID(context.Background(), "req-1"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/reload", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	endRequest()

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, lc.ctx)
	assert.NoError(t, lc.ctx.Err(), "the reload outlives its request")
	assert.Equal(t, "req-1", logger.RequestID(lc.ctx))

	stop()
	assert.ErrorIs(t, lc.ctx.Err(), context.Canceled)
}

func TestValidationErrorMessageIsStable(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "two", "a": "one"}}
	assert.Equal(t, "a: one; b: two", err.Error())
}

func TestReloadGuard(t *testing.T) {
	keys := auth.NewStaticValidator()
	keys.Add("ops", "secret", nil)
	h := newGuardedHarness(auth.Require(keys))

	rec := h.do(t, http.MethodPost, "/api/v1/admin/reload", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.lc.reloads)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/reload", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, h.lc.reloads, 1)
}
