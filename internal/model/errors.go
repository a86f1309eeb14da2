package model

import "errors"

var (
	// ErrInvalidTarget indicates a fact set with no derivation or conclusion.
	ErrInvalidTarget = errors.New("invalid proof target: derivation and conclusion required")

	// ErrExtractionFailed indicates the extractor could not produce a
	// derivation connecting premises to a conclusion within its try budget.
	ErrExtractionFailed = errors.New("fact extraction failed")

	// ErrInvalidState indicates an operation was applied to a session in
	// the wrong status (e.g. judging a session that has not succeeded).
	ErrInvalidState = errors.New("invalid session state")
)
