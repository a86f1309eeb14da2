package model

// Decision is a judge's (or the aggregate) accept/reject conclusion.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// JudgePass is one independent back-translation-and-compare evaluation
// of an accepted proof. Immutable once produced.
type JudgePass struct {
	Judge       int      `json:"judge"` // 0-based pass number
	Translation string   `json:"translation,omitempty"`
	Decision    Decision `json:"decision"`
	Confidence  float64  `json:"confidence"` // [0,1]

	// Error is set when the pass failed outright and was scored as a
	// zero-confidence reject.
	Error string `json:"error,omitempty"`
}

// Verdict aggregates all judge passes for one succeeded session.
type Verdict struct {
	SessionID  string      `json:"session_id"`
	Decision   Decision    `json:"decision"`
	Confidence float64     `json:"confidence"` // mean confidence of the majority passes
	Passes     []JudgePass `json:"passes"`
	Dissenting []JudgePass `json:"dissenting,omitempty"`
}
