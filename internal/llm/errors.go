package llm

import "errors"

// Failure taxonomy for LLM calls. Timeouts and rate limits are
// transient and recovered locally via retry/backoff; authentication
// and malformed-request failures abort the enclosing session.
var (
	ErrTimeout          = errors.New("llm: request timed out")
	ErrRateLimited      = errors.New("llm: rate limited")
	ErrAuthFailed       = errors.New("llm: authentication failed")
	ErrMalformedRequest = errors.New("llm: malformed request")
)

// IsTransient reports whether err is an LLM failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}
