// Package refine implements the proof refinement loop: repeated
// draft/check/correct cycles against the LLM and the theorem-checking
// toolchain until acceptance, budget exhaustion, or a fatal failure.
package refine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veriform/proofloop/internal/llm"
	"github.com/veriform/proofloop/internal/model"
	"github.com/veriform/proofloop/internal/prover"
	"github.com/veriform/proofloop/internal/retry"
	"github.com/veriform/proofloop/internal/worker"
)

const draftSystemPrompt = `You write formal proofs for a theorem-checking toolchain.
Respond with proof source only: no prose, no markdown fences, no commentary.`

// Store persists session records so a crashed loop can resume from the
// last recorded attempt instead of restarting.
type Store interface {
	CreateSession(session *model.ProofSession) error
	AppendAttempt(sessionID string, attempt model.ProofAttempt) error
	FinishSession(sessionID string, status model.SessionStatus, reason string, finishedAt time.Time) error
	GetSession(sessionID string) (*model.ProofSession, error)
}

// Config assembles a Loop's collaborators.
type Config struct {
	Provider llm.Provider  // required: drafts proofs
	Prover   prover.Client // required: checks proofs
	Policy   retry.Policy  // transient-failure policy for each external call

	Limiter    *worker.Limiter // optional shared rate limiter
	Store      Store           // optional session persistence
	Transcript *Transcript     // optional JSONL attempt log

	Model       string  // LLM model override
	MaxTokens   int     // draft length cap
	Temperature float64 // base sampling temperature

	// TemperatureStep is added per correction attempt so redrafts do not
	// keep reproducing the same failed proof shape.
	TemperatureStep float64
}

// Loop drives proof refinement sessions. A single session is strictly
// sequential: at most one prover submission is ever pending. Distinct
// sessions are independent and may run concurrently.
type Loop struct {
	cfg Config
	now func() time.Time
}

// NewLoop validates the configuration and creates a loop.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("refine: LLM provider is required")
	}
	if cfg.Prover == nil {
		return nil, fmt.Errorf("refine: prover client is required")
	}
	if cfg.Policy == (retry.Policy{}) {
		cfg.Policy = retry.DefaultPolicy()
	}
	return &Loop{cfg: cfg, now: time.Now}, nil
}

// RunSession runs one refinement session for factSet under budget.
// The returned session always has a terminal status and a complete,
// ordered attempt history. An exhausted session is not an error; an
// aborted session is returned alongside the fatal error that caused it.
func (l *Loop) RunSession(ctx context.Context, factSet model.FactSet, budget model.Budget) (*model.ProofSession, error) {
	if err := factSet.Validate(); err != nil {
		return nil, err
	}
	if err := budget.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget: %w", err)
	}

	session := &model.ProofSession{
		ID:        uuid.New().String(),
		FactSet:   factSet,
		Budget:    budget,
		Status:    model.StatusRunning,
		StartedAt: l.now(),
	}

	if l.cfg.Store != nil {
		if err := l.cfg.Store.CreateSession(session); err != nil {
			return nil, fmt.Errorf("record session: %w", err)
		}
	}

	return l.run(ctx, session)
}

// Resume continues an interrupted session from its last recorded
// attempt. Sessions already in a terminal status are returned as-is.
func (l *Loop) Resume(ctx context.Context, sessionID string) (*model.ProofSession, error) {
	if l.cfg.Store == nil {
		return nil, fmt.Errorf("refine: resume requires a session store")
	}

	session, err := l.cfg.Store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.Status.Terminal() {
		return session, nil
	}

	return l.run(ctx, session)
}

func (l *Loop) run(ctx context.Context, session *model.ProofSession) (*model.ProofSession, error) {
	deadline := session.StartedAt.Add(session.Budget.MaxDuration)

	for {
		// Cancellation is observed at each iteration boundary, before
		// new work is issued.
		if err := ctx.Err(); err != nil {
			return l.finish(session, model.StatusAborted, "cancelled: "+err.Error()), err
		}

		if len(session.Attempts) >= session.Budget.MaxAttempts {
			return l.finish(session, model.StatusExhausted, ""), nil
		}
		if !l.now().Before(deadline) {
			return l.finish(session, model.StatusExhausted, ""), nil
		}

		draft, err := l.draft(ctx, session)
		if err != nil {
			if llm.IsTransient(err) {
				// Retry ceiling spent on this step: count it as a
				// rejected attempt and move on.
				l.record(session, "", model.VerdictRejected, "proof draft failed: "+err.Error())
				continue
			}
			return l.finish(session, model.StatusAborted, err.Error()), err
		}

		result, err := l.check(ctx, draft)
		if err != nil {
			if prover.IsTransient(err) {
				l.record(session, draft, model.VerdictRejected, "proof check failed: "+err.Error())
				continue
			}
			return l.finish(session, model.StatusAborted, err.Error()), err
		}

		if result.Accepted && !result.Partial {
			l.record(session, draft, model.VerdictAccepted, "")
			return l.finish(session, model.StatusSucceeded, ""), nil
		}

		// Partial acceptance never short-circuits success.
		diagnostics := result.Diagnostics
		if result.Accepted && result.Partial && diagnostics == "" {
			diagnostics = "proof accepted with unresolved placeholder obligations"
		}
		l.record(session, draft, model.VerdictRejected, diagnostics)
	}
}

// draft asks the LLM for a proof, seeding corrections with the prior
// attempt's diagnostics verbatim. Transient failures are retried per
// the policy; the error returned after ceiling exhaustion is still
// classified transient for the caller.
func (l *Loop) draft(ctx context.Context, session *model.ProofSession) (string, error) {
	prompt := BuildDraftPrompt(session.FactSet, session.LastAttempt())

	temperature := l.cfg.Temperature
	if l.cfg.TemperatureStep > 0 {
		temperature += l.cfg.TemperatureStep * float64(len(session.Attempts))
		if temperature > 1 {
			temperature = 1
		}
	}

	var resp *llm.CompletionResponse
	err := l.cfg.Policy.Do(ctx, llm.IsTransient, func(ctx context.Context) error {
		if l.cfg.Limiter != nil {
			if err := l.cfg.Limiter.Wait(ctx, l.cfg.Provider.Name()); err != nil {
				return err
			}
		}
		var callErr error
		resp, callErr = l.cfg.Provider.Complete(ctx, llm.CompletionRequest{
			System:      draftSystemPrompt,
			Prompt:      prompt,
			Model:       l.cfg.Model,
			MaxTokens:   l.cfg.MaxTokens,
			Temperature: temperature,
		})
		return callErr
	})
	if err != nil {
		return "", err
	}

	l.transcribe(session, len(session.Attempts)+1, "draft", resp.Text)
	return resp.Text, nil
}

func (l *Loop) check(ctx context.Context, draft string) (*prover.Result, error) {
	var result *prover.Result
	err := l.cfg.Policy.Do(ctx, prover.IsTransient, func(ctx context.Context) error {
		if l.cfg.Limiter != nil {
			if err := l.cfg.Limiter.Wait(ctx, "prover"); err != nil {
				return err
			}
		}
		var callErr error
		result, callErr = l.cfg.Prover.Check(ctx, draft)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// record appends one attempt to the session's append-only history.
func (l *Loop) record(session *model.ProofSession, source string, verdict model.AttemptVerdict, diagnostics string) {
	if verdict == model.VerdictRejected && diagnostics == "" {
		diagnostics = model.UnknownFailure
	}

	attempt := model.ProofAttempt{
		Index:       len(session.Attempts) + 1,
		Source:      source,
		Verdict:     verdict,
		Diagnostics: diagnostics,
		Corrects:    len(session.Attempts), // 0 for the first attempt
		CreatedAt:   l.now(),
	}
	session.Attempts = append(session.Attempts, attempt)

	if l.cfg.Store != nil {
		_ = l.cfg.Store.AppendAttempt(session.ID, attempt)
	}
	l.transcribe(session, attempt.Index, "verdict", string(verdict)+": "+diagnostics)
}

func (l *Loop) finish(session *model.ProofSession, status model.SessionStatus, reason string) *model.ProofSession {
	now := l.now()
	session.Status = status
	session.AbortReason = reason
	session.FinishedAt = &now

	if l.cfg.Store != nil {
		_ = l.cfg.Store.FinishSession(session.ID, status, reason, now)
	}
	l.transcribe(session, len(session.Attempts), "status", string(status))
	return session
}

func (l *Loop) transcribe(session *model.ProofSession, attempt int, stage, text string) {
	if l.cfg.Transcript == nil {
		return
	}
	l.cfg.Transcript.Record(session.ID, attempt, stage, text)
}

// BuildDraftPrompt constructs the proof request. For corrections, the
// prior attempt's diagnostics are appended verbatim - never summarized
// or dropped.
func BuildDraftPrompt(factSet model.FactSet, prior *model.ProofAttempt) string {
	var b strings.Builder

	b.WriteString("Produce a formal proof for this target.\n\nPremises:\n")
	if len(factSet.Premises) == 0 {
		b.WriteString("(none)\n")
	}
	for i, p := range factSet.Premises {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p)
	}
	fmt.Fprintf(&b, "\nDerivation:\n%s\n", factSet.Derivation)
	fmt.Fprintf(&b, "\nConclusion:\n%s\n", factSet.Conclusion)

	if prior != nil {
		b.WriteString("\nYour previous proof was rejected by the checker.\n")
		if prior.Source != "" {
			fmt.Fprintf(&b, "\nPrevious proof:\n%s\n", prior.Source)
		}
		fmt.Fprintf(&b, "\nChecker diagnostics:\n%s\n", prior.Diagnostics)
		b.WriteString("\nProduce a corrected proof addressing every diagnostic.\n")
	}

	return b.String()
}
