package lifecycle

import (
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/catalog"
)

// State is a step of the bootstrap state machine.
type State int

const (
	StateStart State = iota
	StateCatalogCheck
	StateCatalogEmpty
	StateLoadCatalog
	StatePersistCatalog
	StateCatalogPresent
	StateLoadCatalogFromStore
	StateIndexCheck
	StateIndexesMissing
	StateBuildTitleIndex
	StatePollTitle
	StateBuildContentIndex
	StatePollContent
	StatePersistIndexes
	StateIndexesPresent
	StateGraphBootstrap
	StateTryLoadGraph
	StateBuildGraph
	StatePollGraph
	StateBuildPageRank
	StatePollPageRank
	StateReady
	StateReadyDegraded
)

var stateNames = [...]string{
	StateStart:                "start",
	StateCatalogCheck:         "catalog_check",
	StateCatalogEmpty:         "catalog_empty",
	StateLoadCatalog:          "load_catalog",
	StatePersistCatalog:       "persist_catalog",
	StateCatalogPresent:       "catalog_present",
	StateLoadCatalogFromStore: "load_catalog_from_store",
	StateIndexCheck:           "index_check",
	StateIndexesMissing:       "indexes_missing",
	StateBuildTitleIndex:      "build_title_index",
	StatePollTitle:            "poll_title",
	StateBuildContentIndex:    "build_content_index",
	StatePollContent:          "poll_content",
	StatePersistIndexes:       "persist_indexes",
	StateIndexesPresent:       "indexes_present",
	StateGraphBootstrap:       "graph_bootstrap",
	StateTryLoadGraph:         "try_load_graph",
	StateBuildGraph:           "build_graph",
	StatePollGraph:            "poll_graph",
	StateBuildPageRank:        "build_pagerank",
	StatePollPageRank:         "poll_pagerank",
	StateReady:                "ready",
	StateReadyDegraded:        "ready_degraded",
}

func (s State) String() string {
	if int(s) < len(stateNames) && stateNames[s] != "" {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name != "" && name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown lifecycle state %q", text)
}

// Stage names used in reports, metrics, and events.
const (
	StageCatalog      = "catalog"
	StageTitleIndex   = "title_index"
	StageContentIndex = "content_index"
	StageGraph        = "graph"
	StageRank         = "rank"
)

// Outcome is how a stage ended.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
)

// StageReport records one stage of a run.
type StageReport struct {
	Stage    string        `json:"stage"`
	Outcome  Outcome       `json:"outcome"`
	Detail   string        `json:"detail,omitempty"`
	Rows     int           `json:"rows,omitempty"`
	Skipped  int           `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Capabilities says which derived structures are usable after a run.
type Capabilities struct {
	Catalog      bool `json:"catalog"`
	TitleIndex   bool `json:"title_index"`
	ContentIndex bool `json:"content_index"`
	Graph        bool `json:"graph"`
	Rank         bool `json:"rank"`
}

// Complete reports whether every capability is available.
func (c Capabilities) Complete() bool {
	return c.Catalog && c.TitleIndex && c.ContentIndex && c.Graph && c.Rank
}

// Report summarizes a coordinator run.
type Report struct {
	Forced       bool               `json:"forced"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	Final        State              `json:"final_state"`
	Catalog      catalog.LoadResult `json:"catalog"`
	Stages       []StageReport      `json:"stages"`
	Capabilities Capabilities       `json:"capabilities"`
}

// Degraded reports whether the run left any capability unavailable.
func (r Report) Degraded() bool {
	return !r.Capabilities.Complete()
}

// Stage returns the report of the named stage.
func (r Report) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageReport{}, false
}
