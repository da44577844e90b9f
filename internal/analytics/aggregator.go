package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/kafka"
)

// maxLatencySamples bounds the latency window kept per kind.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches      int64                `json:"total_searches"`
	ZeroResultCount    int64                `json:"zero_result_count"`
	FailureCount       int64                `json:"failure_count"`
	ByKind             map[string]KindStats `json:"by_kind"`
	TopPatterns        []PatternCount       `json:"top_patterns"`
	ZeroResultPatterns []PatternCount       `json:"zero_result_patterns"`
	SearchesPerMinute  float64              `json:"searches_per_minute"`
}

type KindStats struct {
	Searches     int64   `json:"searches"`
	ZeroResults  int64   `json:"zero_results"`
	Failures     int64   `json:"failures"`
	AvgReturned  float64 `json:"avg_returned"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P50LatencyMs int64   `json:"p50_latency_ms"`
	P95LatencyMs int64   `json:"p95_latency_ms"`
	P99LatencyMs int64   `json:"p99_latency_ms"`
}

type PatternCount struct {
	Pattern string `json:"pattern"`
	Count   int64  `json:"count"`
}

type kindCounters struct {
	searches    int64
	zeroResults int64
	failures    int64
	returned    int64
	latencies   []int64
}

// Aggregator folds search events into running statistics.
type Aggregator struct {
	mu                 sync.RWMutex
	kinds              map[string]*kindCounters
	patternCounts      map[string]int64
	zeroResultPatterns map[string]int64
	startTime          time.Time

	consumer *kafka.Consumer
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator. consumer may be nil when events are
// recorded in-process.
func NewAggregator(consumer *kafka.Consumer) *Aggregator {
	return &Aggregator{
		kinds:              make(map[string]*kindCounters),
		patternCounts:      make(map[string]int64),
		zeroResultPatterns: make(map[string]int64),
		startTime:          time.Now(),
		consumer:           consumer,
		logger:             slog.Default().With("component", "analytics-aggregator"),
	}
}

// Start consumes events until ctx is cancelled.
func (a *Aggregator) Start(ctx context.Context) error {
	if a.consumer == nil {
		return errors.New("aggregator has no consumer")
	}
	a.logger.Info("analytics aggregator starting")
	return a.consumer.Start(ctx)
}

// HandleEvent decodes search events from Kafka into agg. Undecodable
// messages are logged and acknowledged.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		if msg.Type != "" && msg.Type != EventSearch {
			return nil
		}
		event, err := kafka.DecodeJSON[SearchEvent](msg.Value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

// Record adds one event.
func (a *Aggregator) Record(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k, ok := a.kinds[event.Kind]
	if !ok {
		k = &kindCounters{}
		a.kinds[event.Kind] = k
	}
	k.searches++
	k.returned += int64(event.Returned)
	k.latencies = append(k.latencies, event.LatencyMs)
	if len(k.latencies) > maxLatencySamples {
		k.latencies = k.latencies[len(k.latencies)-maxLatencySamples:]
	}
	if event.Failed {
		k.failures++
		return
	}
	a.patternCounts[event.Pattern]++
	if event.Returned == 0 {
		k.zeroResults++
		a.zeroResultPatterns[event.Pattern]++
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{ByKind: make(map[string]KindStats, len(a.kinds))}
	for name, k := range a.kinds {
		ks := KindStats{
			Searches:    k.searches,
			ZeroResults: k.zeroResults,
			Failures:    k.failures,
		}
		if k.searches > 0 {
			ks.AvgReturned = float64(k.returned) / float64(k.searches)
		}
		if len(k.latencies) > 0 {
			sorted := make([]int64, len(k.latencies))
			copy(sorted, k.latencies)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			var sum int64
			for _, l := range sorted {
				sum += l
			}
			ks.AvgLatencyMs = float64(sum) / float64(len(sorted))
			ks.P50LatencyMs = percentile(sorted, 50)
			ks.P95LatencyMs = percentile(sorted, 95)
			ks.P99LatencyMs = percentile(sorted, 99)
		}
		stats.ByKind[name] = ks
		stats.TotalSearches += k.searches
		stats.ZeroResultCount += k.zeroResults
		stats.FailureCount += k.failures
	}
	stats.TopPatterns = topN(a.patternCounts, 10)
	stats.ZeroResultPatterns = topN(a.zeroResultPatterns, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.SearchesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []PatternCount {
	result := make([]PatternCount, 0, len(counts))
	for pattern, count := range counts {
		result = append(result, PatternCount{Pattern: pattern, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Pattern < result[j].Pattern
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
