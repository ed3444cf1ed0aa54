package domain

import (
	"errors"
	"fmt"
)

// Error kinds form the taxonomy routed by the workflow: auth and bad-request
// failures are fatal to a turn, rate-limit and connection failures are
// retried, search unavailability degrades gracefully.
var (
	ErrLLMAuth           = errors.New("llm auth error")
	ErrLLMRateLimit      = errors.New("llm rate limit")
	ErrLLMBadRequest     = errors.New("llm bad request")
	ErrLLMConnection     = errors.New("llm connection error")
	ErrSearchUnavailable = errors.New("search unavailable")
	ErrIndexUnavailable  = errors.New("index unavailable")

	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrThreadBusy   = errors.New("thread busy")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ErrorKind maps an error to its taxonomy name for the error event, or
// "internal" when it carries no known kind.
func ErrorKind(err error) string {
	switch {
	case IsKind(err, ErrLLMAuth):
		return "llm_auth_error"
	case IsKind(err, ErrLLMRateLimit):
		return "llm_rate_limit"
	case IsKind(err, ErrLLMBadRequest):
		return "llm_bad_request"
	case IsKind(err, ErrLLMConnection):
		return "llm_connection_error"
	case IsKind(err, ErrSearchUnavailable):
		return "search_unavailable"
	case IsKind(err, ErrIndexUnavailable):
		return "index_unavailable"
	case IsKind(err, ErrInvalidInput):
		return "invalid_input"
	case IsKind(err, ErrNotFound):
		return "not_found"
	case IsKind(err, ErrThreadBusy):
		return "thread_busy"
	default:
		return "internal"
	}
}

// Fatal reports whether the turn must terminate without retrying the step.
func Fatal(err error) bool {
	return IsKind(err, ErrLLMAuth) || IsKind(err, ErrLLMBadRequest)
}
