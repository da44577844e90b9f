package handler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/errors"
)

const (
	maxPatternLength = 256
	maxWordsLimit    = 1000
	maxLengthLimit   = 200
	maxTopN          = 100
)

// SearchRequest is the body of the title, content and class routes. Zero
// max_words or max_length selects the route default.
type SearchRequest struct {
	Pattern   string `json:"pattern"`
	MaxWords  int    `json:"max_words,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		names = append(names, field)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, field := range names {
		parts[i] = fmt.Sprintf("%s: %s", field, e.Fields[field])
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// validatePattern trims and checks the pattern. Title search has no word
// limits, so max_words and max_length are dropped rather than checked.
func validatePattern(req *SearchRequest) error {
	errs := make(map[string]string)
	checkPattern(req, errs)
	req.MaxWords, req.MaxLength = 0, 0
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// validateSearch trims the pattern, fills defaults and checks ranges.
func validateSearch(req *SearchRequest, defWords, defLength int) error {
	errs := make(map[string]string)
	checkPattern(req, errs)

	if req.MaxWords == 0 {
		req.MaxWords = defWords
	}
	if req.MaxWords < 1 || req.MaxWords > maxWordsLimit {
		errs["max_words"] = fmt.Sprintf("max_words must be between 1 and %d", maxWordsLimit)
	}
	if req.MaxLength == 0 {
		req.MaxLength = defLength
	}
	if req.MaxLength < 1 || req.MaxLength > maxLengthLimit {
		errs["max_length"] = fmt.Sprintf("max_length must be between 1 and %d", maxLengthLimit)
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func checkPattern(req *SearchRequest, errs map[string]string) {
	req.Pattern = strings.TrimSpace(req.Pattern)
	if req.Pattern == "" {
		errs["pattern"] = "pattern is required"
	} else if len(req.Pattern) > maxPatternLength {
		errs["pattern"] = fmt.Sprintf("pattern must be at most %d characters", maxPatternLength)
	}
}

// parseTopN reads the top_n query parameter, falling back to def.
func parseTopN(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxTopN {
		return 0, &ValidationError{Fields: map[string]string{
			"top_n": fmt.Sprintf("top_n must be an integer between 1 and %d", maxTopN),
		}}
	}
	return n, nil
}
