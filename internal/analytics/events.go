package analytics

import "time"

// EventSearch is the Kafka event-type header of a SearchEvent.
const EventSearch = "search"

// SearchEvent describes one search request.
type SearchEvent struct {
	Kind       string    `json:"kind"`
	Pattern    string    `json:"pattern"`
	Words      []string  `json:"words,omitempty"`
	Candidates int       `json:"candidates"`
	Returned   int       `json:"returned"`
	LatencyMs  int64     `json:"latency_ms"`
	Failed     bool      `json:"failed,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
