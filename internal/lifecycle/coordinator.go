// Package lifecycle bootstraps the catalog and every derived search
// structure before traffic is served: the title and title+content indexes,
// the similarity graph, and the rank scores. Each stage is isolated; a
// failed optional stage degrades one capability and the run continues.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/bookindex"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/remote"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/metrics"
)

// ErrReloadInProgress is returned when a run is requested while one is
// already executing.
var ErrReloadInProgress = errors.New("lifecycle run already in progress")

// IndexService is the part of the remote service the coordinator drives.
type IndexService interface {
	BuildIndex(ctx context.Context, kind bookindex.Kind) (remote.BuildOutcome, error)
	IndexStatus(ctx context.Context, kind bookindex.Kind) (string, error)
	LoadGraph(ctx context.Context) (remote.BuildOutcome, error)
	BuildGraph(ctx context.Context) (remote.BuildOutcome, error)
	RunPageRank(ctx context.Context) (remote.BuildOutcome, error)
	GraphStatus(ctx context.Context) (remote.GraphStatus, error)
}

// CatalogLoader is satisfied by *catalog.Loader.
type CatalogLoader interface {
	Load(ctx context.Context) (*catalog.Catalog, catalog.LoadResult, error)
}

// HandoffReader returns the rows the remote service produced for kind.
type HandoffReader func(kind bookindex.Kind) ([]bookindex.Entry, bookindex.HandoffStats, error)

// RebuiltFunc is called after an index kind has been rebuilt and persisted.
type RebuiltFunc func(ctx context.Context, kind bookindex.Kind)

// Options tunes a single run.
type Options struct {
	// Force rebuilds every index even when the store already has rows.
	Force bool
}

// Coordinator runs the bootstrap state machine.
type Coordinator struct {
	cfg       config.BootstrapConfig
	loader    CatalogLoader
	indexes   bookindex.Store
	replacer  *bookindex.Replacer
	service   IndexService
	handoff   HandoffReader
	poller    *Poller
	publisher Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
	onRebuilt []RebuiltFunc

	running atomic.Bool
	reloads sync.WaitGroup
	mu      sync.RWMutex
	state   State
	latest  Report
	catalog *catalog.Catalog
}

// New wires a coordinator. publisher and m may be nil.
func New(
	cfg config.BootstrapConfig,
	loader CatalogLoader,
	indexes bookindex.Store,
	service IndexService,
	publisher Publisher,
	m *metrics.Metrics,
) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		loader:    loader,
		indexes:   indexes,
		replacer:  bookindex.NewReplacer(indexes, cfg.BatchSize),
		service:   service,
		poller:    NewPoller(m),
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
		logger:    slog.Default().With("component", "lifecycle"),
	}
	c.handoff = c.readHandoffFile
	c.replacer.OnBatch(func(kind bookindex.Kind, rows int) {
		c.metrics.AddIndexRows(kind.String(), rows)
	})
	return c
}

// WithHandoffReader replaces how rebuilt index rows are read.
func (c *Coordinator) WithHandoffReader(r HandoffReader) *Coordinator {
	c.handoff = r
	return c
}

// OnIndexRebuilt registers fn to run after each successful index rebuild.
// Register before the first run.
func (c *Coordinator) OnIndexRebuilt(fn RebuiltFunc) *Coordinator {
	c.onRebuilt = append(c.onRebuilt, fn)
	return c
}

// State returns the current state of the machine.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Latest returns the report of the last completed run.
func (c *Coordinator) Latest() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Catalog returns the in-memory catalog of the last successful catalog stage.
func (c *Coordinator) Catalog() *catalog.Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog
}

// Running reports whether a run is executing.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Run executes one pass of the state machine and blocks until it ends.
// The returned error is non-nil only when the mandatory catalog stage
// failed; optional stages report through the Report.
func (c *Coordinator) Run(ctx context.Context, opts Options) (Report, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Report{}, ErrReloadInProgress
	}
	defer c.running.Store(false)
	return c.execute(ctx, opts)
}

// Reload starts a run in the background and returns once it is claimed.
// ctx must outlive the caller's request; cancelling it stops the run at the
// next remote call or poll. Fails with ErrReloadInProgress when a run is
// already executing.
func (c *Coordinator) Reload(ctx context.Context, opts Options) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrReloadInProgress
	}
	c.reloads.Add(1)
	go func() {
		defer c.reloads.Done()
		defer c.running.Store(false)
		if _, err := c.execute(ctx, opts); err != nil {
			c.logger.Error("reload failed", "error", err)
		}
	}()
	return nil
}

// Wait blocks until background reloads have returned. Call it before
// closing the stores a reload writes to.
func (c *Coordinator) Wait() {
	c.reloads.Wait()
}

func (c *Coordinator) execute(ctx context.Context, opts Options) (Report, error) {
	rep := Report{Forced: opts.Force, StartedAt: c.now()}
	c.transition(StateStart)

	catalogErr := c.runCatalog(ctx, &rep)
	if catalogErr == nil {
		c.runIndexes(ctx, &rep, opts.Force)
	} else {
		// indexes are derived from the catalog; still report what is there
		c.checkIndexesOnly(ctx, &rep)
	}
	c.runGraph(ctx, &rep)

	rep.FinishedAt = c.now()
	if rep.Degraded() {
		rep.Final = StateReadyDegraded
	} else {
		rep.Final = StateReady
	}
	c.transition(rep.Final)

	c.mu.Lock()
	c.latest = rep
	c.mu.Unlock()

	c.logger.Info("lifecycle run finished",
		"state", rep.Final.String(),
		"forced", opts.Force,
		"duration", rep.FinishedAt.Sub(rep.StartedAt),
		"title_index", rep.Capabilities.TitleIndex,
		"content_index", rep.Capabilities.ContentIndex,
		"graph", rep.Capabilities.Graph,
		"rank", rep.Capabilities.Rank,
	)
	if catalogErr != nil {
		c.logger.Error("catalog stage failed, serving degraded", "error", catalogErr)
		return rep, fmt.Errorf("catalog stage: %w", catalogErr)
	}
	return rep, nil
}

func (c *Coordinator) transition(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("state transition", "from", prev.String(), "state", s.String())
}

func (c *Coordinator) record(rep *Report, sr StageReport) {
	rep.Stages = append(rep.Stages, sr)
	value := 1.0
	if sr.Outcome == OutcomeDegraded || sr.Outcome == OutcomeFailed {
		value = 0
	}
	c.metrics.SetStage(sr.Stage, value)

	attrs := []any{"stage", sr.Stage, "outcome", string(sr.Outcome), "duration", sr.Duration}
	if sr.Detail != "" {
		attrs = append(attrs, "detail", sr.Detail)
	}
	if sr.Outcome == OutcomeDegraded || sr.Outcome == OutcomeFailed {
		c.logger.Warn("stage did not complete", attrs...)
	} else {
		c.logger.Info("stage finished", attrs...)
	}
}

func (c *Coordinator) runCatalog(ctx context.Context, rep *Report) error {
	start := c.now()
	c.transition(StateCatalogCheck)

	cat, res, err := c.loader.Load(ctx)
	rep.Catalog = res
	if res.Source == catalog.SourceFile {
		c.transition(StateCatalogEmpty)
		c.transition(StateLoadCatalog)
	} else if res.Source == catalog.SourceStore {
		c.transition(StateCatalogPresent)
		c.transition(StateLoadCatalogFromStore)
	}
	if err != nil {
		c.record(rep, StageReport{Stage: StageCatalog, Outcome: OutcomeFailed, Detail: err.Error(), Duration: c.now().Sub(start)})
		c.emit(ctx, EventStageDegraded, Event{Stage: StageCatalog, Outcome: OutcomeFailed, Detail: err.Error()})
		return err
	}
	if res.Source == catalog.SourceFile {
		c.transition(StatePersistCatalog)
	}

	c.mu.Lock()
	c.catalog = cat
	c.mu.Unlock()
	rep.Capabilities.Catalog = true
	c.record(rep, StageReport{
		Stage:    StageCatalog,
		Outcome:  OutcomeOK,
		Detail:   "loaded from " + string(res.Source),
		Rows:     res.Loaded,
		Skipped:  res.Skipped,
		Duration: c.now().Sub(start),
	})
	return nil
}

func (c *Coordinator) checkIndexesOnly(ctx context.Context, rep *Report) {
	for _, kind := range bookindex.Kinds {
		n, err := c.indexes.Count(ctx, kind)
		present := err == nil && n > 0
		c.setIndexCapability(rep, kind, present)
		outcome := OutcomeSkipped
		if !present {
			outcome = OutcomeDegraded
		}
		c.record(rep, StageReport{Stage: stageFor(kind), Outcome: outcome, Detail: "catalog unavailable", Rows: int(n)})
	}
}

func (c *Coordinator) runIndexes(ctx context.Context, rep *Report, force bool) {
	c.transition(StateIndexCheck)

	var missing []bookindex.Kind
	for _, kind := range bookindex.Kinds {
		n, err := c.indexes.Count(ctx, kind)
		if err != nil {
			c.logger.Warn("index count failed, treating as missing", "kind", kind.String(), "error", err)
		}
		if force || err != nil || n == 0 {
			missing = append(missing, kind)
			continue
		}
		c.setIndexCapability(rep, kind, true)
		c.record(rep, StageReport{Stage: stageFor(kind), Outcome: OutcomeSkipped, Detail: "already present", Rows: int(n)})
	}
	if len(missing) == 0 {
		c.transition(StateIndexesPresent)
		return
	}
	c.transition(StateIndexesMissing)

	// Build every missing kind first, then persist each that completed.
	built := make(map[bookindex.Kind]error, len(missing))
	started := make(map[bookindex.Kind]time.Time, len(missing))
	for _, kind := range missing {
		started[kind] = c.now()
		built[kind] = c.buildIndex(ctx, kind)
	}

	c.transition(StatePersistIndexes)
	for _, kind := range missing {
		stage := stageFor(kind)
		if err := built[kind]; err != nil {
			c.degradeIndex(ctx, rep, kind, err, started[kind])
			continue
		}
		rows, stats, err := c.persistIndex(ctx, kind)
		if err != nil {
			c.degradeIndex(ctx, rep, kind, err, started[kind])
			continue
		}
		c.setIndexCapability(rep, kind, rows > 0)
		outcome := OutcomeOK
		if rows == 0 {
			outcome = OutcomeDegraded
		}
		c.record(rep, StageReport{
			Stage:    stage,
			Outcome:  outcome,
			Detail:   "rebuilt",
			Rows:     rows,
			Skipped:  stats.Skipped,
			Duration: c.now().Sub(started[kind]),
		})
		c.emit(ctx, EventIndexRebuilt, Event{Stage: stage, Outcome: outcome, Rows: rows})
		for _, fn := range c.onRebuilt {
			fn(ctx, kind)
		}
	}
}

func (c *Coordinator) buildIndex(ctx context.Context, kind bookindex.Kind) error {
	buildState, pollState := StateBuildTitleIndex, StatePollTitle
	if kind == bookindex.KindContent {
		buildState, pollState = StateBuildContentIndex, StatePollContent
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.transition(buildState)
	outcome, err := c.service.BuildIndex(ctx, kind)
	if err != nil {
		return fmt.Errorf("requesting %s index build: %w", kind, err)
	}
	c.logger.Info("index build requested", "kind", kind.String(), "outcome", outcome.String())

	c.transition(pollState)
	return c.poller.Poll(ctx, "index_"+string(kind), c.cfg.IndexPoll, func(ctx context.Context) (bool, error) {
		status, err := c.service.IndexStatus(ctx, kind)
		if err != nil {
			return false, err
		}
		return jobDone(status)
	})
}

func (c *Coordinator) persistIndex(ctx context.Context, kind bookindex.Kind) (int, bookindex.HandoffStats, error) {
	entries, stats, err := c.handoff(kind)
	if err != nil {
		return 0, stats, fmt.Errorf("reading %s handoff: %w", kind, err)
	}
	c.logger.Info("persisting index", "kind", kind.String(), "rows", len(entries), "skipped", stats.Skipped)
	written, err := c.replacer.Replace(ctx, kind, entries)
	if err != nil {
		if errors.Is(err, bookindex.ErrCountMismatch) {
			c.logger.Error("index rebuild left an inconsistent collection; rerun reload with force=true",
				"kind", kind.String(), "error", err)
		}
		return written, stats, err
	}
	return written, stats, nil
}

func (c *Coordinator) degradeIndex(ctx context.Context, rep *Report, kind bookindex.Kind, cause error, start time.Time) {
	// rows from an earlier build may still be usable
	n, err := c.indexes.Count(ctx, kind)
	c.setIndexCapability(rep, kind, err == nil && n > 0)
	c.record(rep, StageReport{
		Stage:    stageFor(kind),
		Outcome:  OutcomeDegraded,
		Detail:   describe(cause),
		Rows:     int(n),
		Duration: c.now().Sub(start),
	})
	c.emit(ctx, EventStageDegraded, Event{Stage: stageFor(kind), Outcome: OutcomeDegraded, Detail: cause.Error()})
}

// runGraph always attempts load, then rebuild, then PageRank. There is no
// local marker that the graph is already present.
func (c *Coordinator) runGraph(ctx context.Context, rep *Report) {
	c.transition(StateGraphBootstrap)
	start := c.now()

	c.transition(StateTryLoadGraph)
	loadErr := c.loadGraph(ctx)
	if loadErr == nil {
		rep.Capabilities.Graph = true
		rep.Capabilities.Rank = true
		c.record(rep, StageReport{Stage: StageGraph, Outcome: OutcomeOK, Detail: "snapshot loaded", Duration: c.now().Sub(start)})
		c.record(rep, StageReport{Stage: StageRank, Outcome: OutcomeOK, Detail: "snapshot loaded"})
		c.emit(ctx, EventGraphReady, Event{Stage: StageGraph, Outcome: OutcomeOK, Detail: "snapshot loaded"})
		c.emit(ctx, EventRankReady, Event{Stage: StageRank, Outcome: OutcomeOK, Detail: "snapshot loaded"})
		return
	}
	c.logger.Warn("graph snapshot load failed, rebuilding", "error", loadErr)

	if err := c.buildGraph(ctx); err != nil {
		c.record(rep, StageReport{Stage: StageGraph, Outcome: OutcomeDegraded, Detail: describe(err), Duration: c.now().Sub(start)})
		c.record(rep, StageReport{Stage: StageRank, Outcome: OutcomeSkipped, Detail: "graph unavailable"})
		c.emit(ctx, EventStageDegraded, Event{Stage: StageGraph, Outcome: OutcomeDegraded, Detail: err.Error()})
		return
	}
	rep.Capabilities.Graph = true
	c.record(rep, StageReport{Stage: StageGraph, Outcome: OutcomeOK, Detail: "rebuilt", Duration: c.now().Sub(start)})
	c.emit(ctx, EventGraphReady, Event{Stage: StageGraph, Outcome: OutcomeOK, Detail: "rebuilt"})

	rankStart := c.now()
	if err := c.runPageRank(ctx); err != nil {
		c.record(rep, StageReport{Stage: StageRank, Outcome: OutcomeDegraded, Detail: describe(err), Duration: c.now().Sub(rankStart)})
		c.emit(ctx, EventStageDegraded, Event{Stage: StageRank, Outcome: OutcomeDegraded, Detail: err.Error()})
		return
	}
	rep.Capabilities.Rank = true
	c.record(rep, StageReport{Stage: StageRank, Outcome: OutcomeOK, Detail: "computed", Duration: c.now().Sub(rankStart)})
	c.emit(ctx, EventRankReady, Event{Stage: StageRank, Outcome: OutcomeOK, Detail: "computed"})
}

func (c *Coordinator) loadGraph(ctx context.Context) error {
	if _, err := c.service.LoadGraph(ctx); err != nil {
		return fmt.Errorf("requesting graph load: %w", err)
	}
	return c.poller.Poll(ctx, "graph_load", c.cfg.GraphLoadPoll, func(ctx context.Context) (bool, error) {
		st, err := c.service.GraphStatus(ctx)
		if err != nil {
			return false, err
		}
		return st.Loaded, nil
	})
}

func (c *Coordinator) buildGraph(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.transition(StateBuildGraph)
	outcome, err := c.service.BuildGraph(ctx)
	if err != nil {
		return fmt.Errorf("requesting graph build: %w", err)
	}
	c.logger.Info("graph build requested", "outcome", outcome.String())

	c.transition(StatePollGraph)
	return c.poller.Poll(ctx, "graph_build", c.cfg.GraphBuildPoll, func(ctx context.Context) (bool, error) {
		st, err := c.service.GraphStatus(ctx)
		if err != nil {
			return false, err
		}
		return jobDone(st.Status)
	})
}

func (c *Coordinator) runPageRank(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.transition(StateBuildPageRank)
	outcome, err := c.service.RunPageRank(ctx)
	if err != nil {
		return fmt.Errorf("requesting pagerank: %w", err)
	}
	c.logger.Info("pagerank requested", "outcome", outcome.String())

	c.transition(StatePollPageRank)
	return c.poller.Poll(ctx, "pagerank", c.cfg.PageRankPoll, func(ctx context.Context) (bool, error) {
		st, err := c.service.GraphStatus(ctx)
		if err != nil {
			return false, err
		}
		return jobDone(st.RankStatus)
	})
}

func (c *Coordinator) readHandoffFile(kind bookindex.Kind) ([]bookindex.Entry, bookindex.HandoffStats, error) {
	path := c.cfg.TitleIndexPath
	if kind == bookindex.KindContent {
		path = c.cfg.ContentIndexPath
	}
	return bookindex.ReadHandoff(path, c.logger)
}

func (c *Coordinator) setIndexCapability(rep *Report, kind bookindex.Kind, ok bool) {
	if kind == bookindex.KindContent {
		rep.Capabilities.ContentIndex = ok
	} else {
		rep.Capabilities.TitleIndex = ok
	}
}

func jobDone(status string) (bool, error) {
	switch status {
	case remote.StatusCompleted:
		return true, nil
	case remote.StatusFailed:
		return false, apperrors.ErrBuildFailed
	default:
		return false, nil
	}
}

func stageFor(kind bookindex.Kind) string {
	if kind == bookindex.KindContent {
		return StageContentIndex
	}
	return StageTitleIndex
}

// describe classifies err for reports so timeouts read differently from
// failures.
func describe(err error) string {
	switch {
	case apperrors.IsTimeout(err):
		return "timeout: " + err.Error()
	case errors.Is(err, apperrors.ErrBuildFailed):
		return "job failed: " + err.Error()
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}
