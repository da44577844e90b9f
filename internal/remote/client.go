package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/bookindex"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/resilience"
)

const maxErrorBody = 512

// Client talks to the index/rank service. Every call runs under its own
// timeout and through a circuit breaker; nothing is retried here.
type Client struct {
	cfg     config.RemoteConfig
	http    *http.Client
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient builds a client. m may be nil.
func NewClient(cfg config.RemoteConfig, m *metrics.Metrics) *Client {
	logger := slog.Default().With("component", "remote-client")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: http.DefaultTransport},
		breaker: resilience.NewCircuitBreaker("index-service", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.BreakerThreshold,
			ResetTimeout:     cfg.BreakerReset,
			// the service answering 4xx is healthy
			IsFailure: func(err error) bool { return err != nil && !isClientError(err) },
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("index service breaker changed state", "from", from.String(), "to", to.String())
			},
		}),
		metrics: m,
		logger:  logger,
	}
}

// BuildIndex asks the service to (re)build the index of kind.
func (c *Client) BuildIndex(ctx context.Context, kind bookindex.Kind) (BuildOutcome, error) {
	return c.startJob(ctx, "build_index", c.cfg.BuildIndexAPI, map[string]string{"index_type": string(kind)})
}

// IndexStatus returns the build status of kind.
func (c *Client) IndexStatus(ctx context.Context, kind bookindex.Kind) (string, error) {
	u, err := withQuery(c.cfg.IndexStatusAPI, url.Values{"index_type": {string(kind)}})
	if err != nil {
		return "", err
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, "index_status", http.MethodGet, u, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// GenerateWords expands pattern into at most maxWords candidate words of at
// most maxLength characters.
func (c *Client) GenerateWords(ctx context.Context, pattern string, maxWords, maxLength int) ([]string, error) {
	body := map[string]any{"pattern": pattern, "max_words": maxWords, "max_length": maxLength}
	var resp struct {
		GeneratedWords []string `json:"generated_words"`
	}
	if err := c.do(ctx, "generate_words", http.MethodPost, c.cfg.GenerateWordsAPI, body, &resp); err != nil {
		return nil, err
	}
	return resp.GeneratedWords, nil
}

// LoadGraph asks the service to load its persisted graph and rank snapshot.
func (c *Client) LoadGraph(ctx context.Context) (BuildOutcome, error) {
	return c.startJob(ctx, "graph_load", c.cfg.JaccardLoadAPI, c.credentials())
}

// BuildGraph asks the service to rebuild the similarity graph.
func (c *Client) BuildGraph(ctx context.Context) (BuildOutcome, error) {
	return c.startJob(ctx, "graph_build", c.cfg.JaccardBuildAPI, c.credentials())
}

// RunPageRank asks the service to compute rank scores over the graph.
func (c *Client) RunPageRank(ctx context.Context) (BuildOutcome, error) {
	return c.startJob(ctx, "pagerank_run", c.cfg.JaccardRunPageRankAPI, c.credentials())
}

func (c *Client) GraphStatus(ctx context.Context) (GraphStatus, error) {
	var st GraphStatus
	err := c.do(ctx, "graph_status", http.MethodGet, c.cfg.JaccardStatusAPI, nil, &st)
	return st, err
}

// RankScores returns the importance score of each requested book. Books the
// service does not know are absent from the map.
func (c *Client) RankScores(ctx context.Context, ids []int64) (map[int64]float64, error) {
	if len(ids) == 0 {
		return map[int64]float64{}, nil
	}
	q := url.Values{}
	for _, id := range ids {
		q.Add("book_ids", strconv.FormatInt(id, 10))
	}
	u, err := withQuery(c.cfg.PageRankScoreAPI, q)
	if err != nil {
		return nil, err
	}
	var raw map[string]float64
	if err := c.do(ctx, "pagerank_scores", http.MethodGet, u, nil, &raw); err != nil {
		return nil, err
	}
	scores := make(map[int64]float64, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			c.logger.Warn("ignoring rank score with non-numeric key", "key", k)
			continue
		}
		scores[id] = v
	}
	return scores, nil
}

// Similar returns up to topN nearest neighbors of bookID.
func (c *Client) Similar(ctx context.Context, bookID int64, topN int) ([]Neighbor, error) {
	base := strings.TrimRight(c.cfg.SimilarityScoreAPI, "/") + "/" + strconv.FormatInt(bookID, 10)
	u, err := withQuery(base, url.Values{"top_n": {strconv.Itoa(topN)}})
	if err != nil {
		return nil, err
	}
	var resp struct {
		SimilarBooks []Neighbor `json:"similar_books"`
	}
	if err := c.do(ctx, "similarity", http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	return resp.SimilarBooks, nil
}

func (c *Client) credentials() map[string]string {
	return map[string]string{"password": c.cfg.JaccardPassword}
}

// startJob turns a 409 into BuildConflict instead of an error.
func (c *Client) startJob(ctx context.Context, endpoint, target string, body any) (BuildOutcome, error) {
	err := c.do(ctx, endpoint, http.MethodPost, target, body, nil)
	if err == nil {
		return BuildAccepted, nil
	}
	if StatusCode(err) == http.StatusConflict {
		c.logger.Info("job already in progress", "endpoint", endpoint)
		return BuildConflict, nil
	}
	return BuildAccepted, err
}

func (c *Client) do(ctx context.Context, endpoint, method, target string, body, out any) error {
	start := time.Now()
	err := c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, c.cfg.RequestTimeout, endpoint, func(ctx context.Context) error {
			return c.roundTrip(ctx, endpoint, method, target, body, out)
		})
	})
	c.metrics.ObserveRemote(endpoint, outcome(err))
	if err != nil {
		c.logger.Debug("remote call failed",
			"endpoint", endpoint,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return fmt.Errorf("%s: %w: %w", endpoint, apperrors.ErrRemoteFailure, err)
		}
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, endpoint, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", endpoint, ctx.Err())
		}
		return fmt.Errorf("%s: %w: %v", endpoint, apperrors.ErrRemoteFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w: %v", endpoint, apperrors.ErrRemoteFailure, err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case StatusCode(err) == http.StatusConflict:
		return "conflict"
	case apperrors.IsTimeout(err):
		return "timeout"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}

func withQuery(base string, q url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint %q: %w", base, err)
	}
	existing := u.Query()
	for k, vs := range q {
		for _, v := range vs {
			existing.Add(k, v)
		}
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}
