package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const stageGauge = "lifecycle_stage_status"

// StageStatus is one lifecycle stage as last recorded in g.
type StageStatus struct {
	Stage  string
	Status string
}

// NewMux serves g for scraping on /metrics and a plain-text summary of the
// lifecycle stage gauges on /.
func NewMux(g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		stages, err := Stages(g)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "scrape: /metrics")
		if len(stages) == 0 {
			fmt.Fprintln(w, "no lifecycle run recorded")
			return
		}
		for _, s := range stages {
			fmt.Fprintf(w, "%s: %s\n", s.Stage, s.Status)
		}
	})
	return mux
}

// Stages reads the lifecycle stage gauge from g, sorted by stage name.
func Stages(g prometheus.Gatherer) ([]StageStatus, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}
	var out []StageStatus
	for _, mf := range families {
		if mf.GetName() != stageGauge {
			continue
		}
		for _, m := range mf.GetMetric() {
			var stage string
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "stage" {
					stage = lp.GetValue()
				}
			}
			out = append(out, StageStatus{Stage: stage, Status: stageStatus(m.GetGauge().GetValue())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out, nil
}

func stageStatus(v float64) string {
	switch {
	case v >= 1:
		return "ok"
	case v <= 0:
		return "degraded"
	default:
		return "skipped"
	}
}

// StartServer serves NewMux(g) on port in the background. Used by processes
// whose main listener does not expose /metrics.
func StartServer(port int, g prometheus.Gatherer) (shutdown func(context.Context) error) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewMux(g),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}
