package model

import "time"

// Claim is the original natural-language statement under verification.
// It is immutable once submitted.
type Claim struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// FactSet is the structured decomposition of a Claim: ordered premises,
// a derivation connecting them, and the target conclusion. The ClaimID
// link is advisory only; the refinement loop never enforces it.
type FactSet struct {
	ClaimID    string   `json:"claim_id,omitempty"`
	Premises   []string `json:"premises"`
	Derivation string   `json:"derivation"`
	Conclusion string   `json:"conclusion"`
}

// Validate checks that the fact set is a usable proof target.
// A fact set without a derivation or conclusion cannot seed a proof draft.
func (f *FactSet) Validate() error {
	if f.Derivation == "" || f.Conclusion == "" {
		return ErrInvalidTarget
	}
	return nil
}
