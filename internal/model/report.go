package model

import "time"

// Report is the complete result of verifying one claim: the extracted
// proof target, the refinement session and, for succeeded sessions, the
// aggregated judge verdict.
type Report struct {
	Claim   Claim   `json:"claim"`
	FactSet FactSet `json:"fact_set"`

	Session *ProofSession `json:"session"`
	Verdict *Verdict      `json:"verdict,omitempty"` // nil unless the session succeeded

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`

	LLMProvider string `json:"llm_provider,omitempty"`
	LLMModel    string `json:"llm_model,omitempty"`
}

// Outcome summarizes the report in one word for CLI display.
func (r *Report) Outcome() string {
	if r.Session == nil {
		return "unknown"
	}
	switch r.Session.Status {
	case StatusSucceeded:
		if r.Verdict != nil {
			return string(r.Verdict.Decision)
		}
		return "proved (unjudged)"
	case StatusExhausted:
		return "exhausted"
	case StatusAborted:
		return "aborted"
	default:
		return string(r.Session.Status)
	}
}
