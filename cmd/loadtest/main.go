// Command loadtest drives the search service with a rotating mix of title,
// content, class and suggestion requests. Each worker keeps its own session
// so suggestions follow that worker's previous search.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Patterns    []string
	TopN        int
}

type operation struct {
	name string
	path string
	body bool
}

var operations = []operation{
	{name: "title", path: "/api/v1/search/title", body: true},
	{name: "content", path: "/api/v1/search/content", body: true},
	{name: "suggestion", path: "/api/v1/search/suggestions", body: false},
	{name: "class", path: "/api/v1/search/class", body: true},
	{name: "suggestion", path: "/api/v1/search/suggestions", body: false},
}

type kindStats struct {
	requests  atomic.Int64
	errors    atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	emptyResults  atomic.Int64
	kinds         map[string]*kindStats
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	s := &Stats{
		kinds:       make(map[string]*kindStats),
		statusCodes: make(map[int]*atomic.Int64),
	}
	for _, op := range operations {
		if _, ok := s.kinds[op.name]; !ok {
			s.kinds[op.name] = &kindStats{latencies: make([]time.Duration, 0, 10000)}
		}
	}
	return s
}

func (s *Stats) RecordRequest(kind string, duration time.Duration, statusCode, returned int, err error) {
	s.totalRequests.Add(1)
	ks := s.kinds[kind]
	ks.requests.Add(1)

	if err != nil || statusCode < 200 || statusCode >= 300 {
		s.errorCount.Add(1)
		ks.errors.Add(1)
	} else {
		s.successCount.Add(1)
		if returned == 0 {
			s.emptyResults.Add(1)
		}
	}
	if err != nil {
		return
	}

	ks.mu.Lock()
	ks.latencies = append(ks.latencies, duration)
	ks.mu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	topN := flag.Int("top-n", 5, "neighbors requested per suggestion")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		TopN:        *topN,
		Patterns: []string{
			"sea", "war", "love", "king", "night", "river", "ship",
			"garden", "house", "island", "mystery", "letter", "winter",
			"ghost", "journey",
		},
	}

	fmt.Println("=== Book Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Patterns:    %d unique\n", len(cfg.Patterns))
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := range cfg.Concurrency {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			sessionID := uuid.NewString()
			step := workerID

			for ctx.Err() == nil {
				op := operations[step%len(operations)]
				pattern := cfg.Patterns[step%len(cfg.Patterns)]
				step++

				req, err := newRequest(ctx, cfg, op, pattern, sessionID)
				if err != nil {
					fmt.Fprintf(os.Stderr, "building request: %v\n", err)
					return
				}

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats.RecordRequest(op.name, elapsed, 0, 0, err)
					}
					continue
				}
				returned := countBooks(resp.Body)
				resp.Body.Close()
				stats.RecordRequest(op.name, elapsed, resp.StatusCode, returned, nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func newRequest(ctx context.Context, cfg Config, op operation, pattern, sessionID string) (*http.Request, error) {
	target := cfg.BaseURL + op.path
	var body io.Reader = http.NoBody
	if op.body {
		data, err := json.Marshal(map[string]string{"pattern": pattern})
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	} else {
		target = fmt.Sprintf("%s?top_n=%d", target, cfg.TopN)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", sessionID)
	return req, nil
}

func countBooks(r io.Reader) int {
	var books []json.RawMessage
	if err := json.NewDecoder(r).Decode(&books); err != nil {
		io.Copy(io.Discard, r)
		return 0
	}
	return len(books)
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Empty Results:   %d\n", stats.emptyResults.Load())
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errors)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	names := make([]string, 0, len(stats.kinds))
	for name := range stats.kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println()
	fmt.Println("=== Latency by kind ===")
	fmt.Printf("%-11s %8s %7s %10s %10s %10s %10s\n", "kind", "requests", "errors", "avg", "p50", "p95", "p99")
	for _, name := range names {
		ks := stats.kinds[name]
		ks.mu.Lock()
		latencies := make([]time.Duration, len(ks.latencies))
		copy(latencies, ks.latencies)
		ks.mu.Unlock()
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

		var avg time.Duration
		if len(latencies) > 0 {
			var sum time.Duration
			for _, l := range latencies {
				sum += l
			}
			avg = sum / time.Duration(len(latencies))
		}
		fmt.Printf("%-11s %8d %7d %10s %10s %10s %10s\n",
			name, ks.requests.Load(), ks.errors.Load(),
			avg.Round(time.Microsecond),
			percentile(latencies, 50).Round(time.Microsecond),
			percentile(latencies, 95).Round(time.Microsecond),
			percentile(latencies, 99).Round(time.Microsecond),
		)
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code].Load())
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
