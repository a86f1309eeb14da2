// Package prover wraps the external theorem-checking toolchain behind a
// narrow interface: proof source in, verdict plus diagnostics out.
package prover

import (
	"context"
	"errors"
)

// Failure taxonomy for prover calls. Timeouts are transient; an
// unreachable toolchain aborts the enclosing session.
var (
	ErrTimeout         = errors.New("prover: request timed out")
	ErrToolUnavailable = errors.New("prover: toolchain unavailable")
)

// IsTransient reports whether err is a prover failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Result is the toolchain's judgement of one proof source.
type Result struct {
	// Accepted is true when the proof compiled cleanly.
	Accepted bool `json:"accepted"`

	// Partial is true when the proof compiled but left unresolved
	// placeholder obligations. Partial proofs never count as success.
	Partial bool `json:"partial"`

	// Diagnostics carries compiler output for rejected proofs, verbatim.
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Client defines the interface to the theorem-checking toolchain.
type Client interface {
	// Name returns the client name
	Name() string

	// Check submits proof source and returns the compile verdict
	Check(ctx context.Context, proofSource string) (*Result, error)
}
