// Package tracing provides a lightweight span-based tracing system that
// propagates trace context through Go contexts. Spans form parent–child trees
// and are logged via slog once the root span ends.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

// Span represents a timed operation within a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration
	children  []*Span
	attrs     map[string]any
	mu        sync.Mutex
}

// StartSpan creates a new root span and stores it in the returned context.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	span := &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		attrs:     make(map[string]any),
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan creates a child span linked to the parent in ctx. Without a
// parent the child is a detached root and is never logged.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	child := &Span{
		Name:      name,
		StartTime: time.Now(),
		attrs:     make(map[string]any),
	}
	if parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

// End records the span's duration.
func (s *Span) End() {
	s.mu.Lock()
	s.Duration = time.Since(s.StartTime)
	s.mu.Unlock()
}

// SetAttr attaches a key-value attribute to the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// Children returns a snapshot of the direct child spans.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Span, len(s.children))
	copy(out, s.children)
	return out
}

// SpanFromContext extracts the current Span from ctx, or nil if none.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(contextKey{}).(*Span); ok {
		return span
	}
	return nil
}

// Log writes the span tree to logger at debug level.
func (s *Span) Log(logger *slog.Logger) {
	s.logRecursive(logger, 0)
}

func (s *Span) logRecursive(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	}
	for k, v := range s.attrs {
		attrs = append(attrs, k, v)
	}
	children := make([]*Span, len(s.children))
	copy(children, s.children)
	s.mu.Unlock()

	logger.Debug("span", attrs...)
	for _, child := range children {
		child.logRecursive(logger, depth+1)
	}
}
