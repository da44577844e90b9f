package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/bookindex"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	cfg := config.RemoteConfig{
		BuildIndexAPI:         srv.URL + "/indexAPI/build",
		IndexStatusAPI:        srv.URL + "/indexAPI/status",
		GenerateWordsAPI:      srv.URL + "/engine/generateWords",
		JaccardLoadAPI:        srv.URL + "/jacardAPI/load",
		JaccardStatusAPI:      srv.URL + "/jacardAPI/status",
		JaccardBuildAPI:       srv.URL + "/jacardAPI/build",
		JaccardRunPageRankAPI: srv.URL + "/jacardAPI/run_pagerank",
		PageRankScoreAPI:      srv.URL + "/jacardAPI/pagerank",
		SimilarityScoreAPI:    srv.URL + "/jacardAPI/similar",
		JaccardPassword:       "secret",
		RequestTimeout:        time.Second,
		BreakerThreshold:      3,
		BreakerReset:          time.Minute,
	}
	return NewClient(cfg, nil)
}

func TestBuildIndexSendsKindAndMapsConflict(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /indexAPI/build", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "TC", body["index_type"])
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	c := newTestClient(t, mux)

	out, err := c.BuildIndex(context.Background(), bookindex.KindContent)
	require.NoError(t, err)
	assert.Equal(t, BuildAccepted, out)

	out, err = c.BuildIndex(context.Background(), bookindex.KindContent)
	require.NoError(t, err)
	assert.Equal(t, BuildConflict, out)
}

func TestBuildIndexServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /indexAPI/build", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	c := newTestClient(t, mux)

	_, err := c.BuildIndex(context.Background(), bookindex.KindTitle)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRemoteFailure)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.False(t, apperrors.IsTimeout(err))
}

func TestIndexStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /indexAPI/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "T", r.URL.Query().Get("index_type"))
		w.Write([]byte(`{"status":"in_progress"}`))
	})
	st, err := newTestClient(t, mux).IndexStatus(context.Background(), bookindex.KindTitle)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, st)
}

func TestGenerateWords(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /engine/generateWords", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Pattern   string `json:"pattern"`
			MaxWords  int    `json:"max_words"`
			MaxLength int    `json:"max_length"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "drag.*", body.Pattern)
		assert.Equal(t, 100, body.MaxWords)
		assert.Equal(t, 50, body.MaxLength)
		w.Write([]byte(`{"generated_words":["dragon","fire"]}`))
	})
	words, err := newTestClient(t, mux).GenerateWords(context.Background(), "drag.*", 100, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"dragon", "fire"}, words)
}

func TestGraphJobsSendPassword(t *testing.T) {
	mux := http.NewServeMux()
	for _, path := range []string{"/jacardAPI/load", "/jacardAPI/build", "/jacardAPI/run_pagerank"} {
		mux.HandleFunc("POST "+path, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["password"] != "secret" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write([]byte(`{"message":"started"}`))
		})
	}
	mux.HandleFunc("GET /jacardAPI/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"loaded":true,"status":"completed","rank_status":"running"}`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	for _, fn := range []func(context.Context) (BuildOutcome, error){c.LoadGraph, c.BuildGraph, c.RunPageRank} {
		out, err := fn(ctx)
		require.NoError(t, err)
		assert.Equal(t, BuildAccepted, out)
	}
	st, err := c.GraphStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, GraphStatus{Loaded: true, Status: StatusCompleted, RankStatus: StatusRunning}, st)

	c.cfg.JaccardPassword = "wrong"
	_, err = c.LoadGraph(ctx)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
}

func TestRankScores(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jacardAPI/pagerank", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"7", "9"}, r.URL.Query()["book_ids"])
		w.Write([]byte(`{"7":0.9,"9":0.2,"junk":1}`))
	})
	scores, err := newTestClient(t, mux).RankScores(context.Background(), []int64{7, 9})
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{7: 0.9, 9: 0.2}, scores)
}

func TestRankScoresNotCalculated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jacardAPI/pagerank", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"PageRank not calculated yet"}`, http.StatusBadRequest)
	})
	_, err := newTestClient(t, mux).RankScores(context.Background(), []int64{1})
	assert.True(t, IsNotReady(err))
}

func TestSimilar(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jacardAPI/similar/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.PathValue("id"))
		assert.Equal(t, "3", r.URL.Query().Get("top_n"))
		w.Write([]byte(`{"book_id":7,"similar_books":[{"book_id":9,"similarity":0.3}]}`))
	})
	got, err := newTestClient(t, mux).Similar(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{BookID: 9, Similarity: 0.3}}, got)
}

func TestCallTimeoutIsDistinct(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /indexAPI/status", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	c := newTestClient(t, mux)
	c.cfg.RequestTimeout = 20 * time.Millisecond

	_, err := c.IndexStatus(context.Background(), bookindex.KindTitle)
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeout(err))
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jacardAPI/pagerank", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	mux.HandleFunc("GET /indexAPI/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	for range 5 {
		_, err := c.RankScores(ctx, []int64{1})
		require.True(t, IsNotReady(err))
	}
	for range 3 {
		_, _ = c.IndexStatus(ctx, bookindex.KindTitle)
	}
	_, err := c.IndexStatus(ctx, bookindex.KindTitle)
	assert.ErrorIs(t, err, apperrors.ErrRemoteFailure)
	assert.Zero(t, StatusCode(err), "open breaker short-circuits the request")
}
