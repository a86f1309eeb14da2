package model

import "time"

// AttemptVerdict is the prover's judgement of one proof draft.
type AttemptVerdict string

const (
	VerdictPending  AttemptVerdict = "pending"
	VerdictAccepted AttemptVerdict = "accepted"
	VerdictRejected AttemptVerdict = "rejected"
)

// UnknownFailure is recorded when the prover rejects a draft without
// any diagnostics. An empty diagnostic still consumes attempt budget.
const UnknownFailure = "unknown failure"

// ProofAttempt is one candidate proof and its checker verdict.
// Immutable once the verdict is recorded.
type ProofAttempt struct {
	Index       int            `json:"index"`              // 1-based, monotonically increasing within a session
	Source      string         `json:"source"`             // candidate proof text
	Verdict     AttemptVerdict `json:"verdict"`
	Diagnostics string         `json:"diagnostics,omitempty"`
	Corrects    int            `json:"corrects,omitempty"` // index of the attempt this one corrects; 0 for the first
	CreatedAt   time.Time      `json:"created_at"`
}

// SessionStatus is the closed set of refinement loop states.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusSucceeded SessionStatus = "succeeded"
	StatusExhausted SessionStatus = "exhausted"
	StatusAborted   SessionStatus = "aborted"
)

// Terminal reports whether the status is one the loop never leaves.
func (s SessionStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusExhausted || s == StatusAborted
}

// Budget bounds a refinement session.
type Budget struct {
	MaxAttempts int           `json:"max_attempts"`
	MaxDuration time.Duration `json:"max_duration"`
}

// Validate checks the budget is usable.
func (b Budget) Validate() error {
	if b.MaxAttempts < 1 {
		return ErrInvalidState
	}
	if b.MaxDuration <= 0 {
		return ErrInvalidState
	}
	return nil
}

// ProofSession owns the ordered attempt history for one FactSet.
// Attempts are append-only; past attempts are never mutated.
type ProofSession struct {
	ID          string         `json:"id"`
	FactSet     FactSet        `json:"fact_set"`
	Budget      Budget         `json:"budget"`
	Status      SessionStatus  `json:"status"`
	Attempts    []ProofAttempt `json:"attempts"`
	AbortReason string         `json:"abort_reason,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// LastAttempt returns the most recent attempt, or nil if none recorded.
func (s *ProofSession) LastAttempt() *ProofAttempt {
	if len(s.Attempts) == 0 {
		return nil
	}
	return &s.Attempts[len(s.Attempts)-1]
}

// AcceptedProof returns the accepted proof source for a succeeded session.
func (s *ProofSession) AcceptedProof() (string, bool) {
	last := s.LastAttempt()
	if s.Status != StatusSucceeded || last == nil || last.Verdict != VerdictAccepted {
		return "", false
	}
	return last.Source, true
}
