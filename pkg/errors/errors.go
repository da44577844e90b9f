package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedRecord   = errors.New("malformed record")
	ErrRemoteConflict    = errors.New("remote job already in progress")
	ErrRemoteFailure     = errors.New("remote service failure")
	ErrPollTimeout       = errors.New("poll timed out before completion")
	ErrBuildFailed       = errors.New("remote job reported failure")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// IsTimeout reports whether err is a deadline of any kind: a poll that never
// completed or a call whose context expired.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrPollTimeout) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformedRecord):
		return http.StatusBadRequest
	case errors.Is(err, ErrRemoteConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrRemoteFailure), errors.Is(err, ErrSourceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
