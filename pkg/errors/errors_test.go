package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", New(ErrRemoteFailure, http.StatusTeapot, "x"), http.StatusTeapot},
		{"invalid input", fmt.Errorf("bad: %w", ErrInvalidInput), http.StatusBadRequest},
		{"conflict", ErrRemoteConflict, http.StatusConflict},
		{"poll timeout", fmt.Errorf("title index: %w", ErrPollTimeout), http.StatusGatewayTimeout},
		{"ctx deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"remote failure", fmt.Errorf("status 500: %w", ErrRemoteFailure), http.StatusBadGateway},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestTimeoutIsDistinctFromFailure(t *testing.T) {
	timeout := fmt.Errorf("graph build: %w", ErrPollTimeout)
	failure := fmt.Errorf("graph build: %w", ErrRemoteFailure)

	assert.True(t, IsTimeout(timeout))
	assert.False(t, IsTimeout(failure))
	assert.NotErrorIs(t, timeout, ErrRemoteFailure)
}
