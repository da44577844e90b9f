// Package remote is the HTTP client for the index/rank computation service:
// index builds, query word generation, the similarity graph, and PageRank.
package remote

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/errors"
)

// BuildOutcome is the result of asking the service to start a job.
type BuildOutcome int

const (
	// BuildAccepted means the service started the job.
	BuildAccepted BuildOutcome = iota
	// BuildConflict means the same job was already running. Callers poll it
	// like an accepted job.
	BuildConflict
)

func (o BuildOutcome) String() string {
	if o == BuildConflict {
		return "conflict"
	}
	return "accepted"
}

// Job status values reported by the service.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// GraphStatus is the combined status of the similarity graph and PageRank
// jobs.
type GraphStatus struct {
	Loaded     bool   `json:"loaded"`
	Status     string `json:"status"`
	RankStatus string `json:"rank_status"`
}

// Neighbor is one similarity-graph neighbor of a book.
type Neighbor struct {
	BookID     int64   `json:"book_id"`
	Similarity float64 `json:"similarity"`
}

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Endpoint, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusConflict {
		return apperrors.ErrRemoteConflict
	}
	return apperrors.ErrRemoteFailure
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsNotReady reports whether the service answered that the requested data
// has not been computed yet (400 or 404).
func IsNotReady(err error) bool {
	code := StatusCode(err)
	return code == http.StatusBadRequest || code == http.StatusNotFound
}

func isClientError(err error) bool {
	code := StatusCode(err)
	return code >= 400 && code < 500
}
