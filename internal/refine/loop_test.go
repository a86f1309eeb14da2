package refine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/veriform/proofloop/internal/llm"
	"github.com/veriform/proofloop/internal/model"
	"github.com/veriform/proofloop/internal/prover"
	"github.com/veriform/proofloop/internal/retry"
)

// scriptedLLM returns canned drafts in order, then repeats the last.
type scriptedLLM struct {
	drafts  []string
	errs    []error
	calls   int
	prompts []string
}

func (p *scriptedLLM) Name() string { return "scripted" }

func (p *scriptedLLM) IsAvailable(ctx context.Context) bool { return true }

func (p *scriptedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := p.calls
	p.calls++
	p.prompts = append(p.prompts, req.Prompt)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.drafts) {
		i = len(p.drafts) - 1
	}
	return &llm.CompletionResponse{Text: p.drafts[i], Model: "scripted"}, nil
}

// scriptedProver returns canned results/errors in call order.
type scriptedProver struct {
	results []*prover.Result
	errs    []error
	calls   int
}

func (p *scriptedProver) Name() string { return "scripted" }

func (p *scriptedProver) Check(ctx context.Context, proofSource string) (*prover.Result, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	r := *p.results[i]
	return &r, nil
}

var (
	reject = &prover.Result{Accepted: false, Diagnostics: "line 1: type mismatch"}
	accept = &prover.Result{Accepted: true}
)

func testFactSet() model.FactSet {
	return model.FactSet{
		Premises:   []string{"n is even", "m is even"},
		Derivation: "sum of multiples of 2 is a multiple of 2",
		Conclusion: "n + m is even",
	}
}

func testBudget(attempts int) model.Budget {
	return model.Budget{MaxAttempts: attempts, MaxDuration: time.Minute}
}

// fastPolicy avoids real backoff sleeps in tests.
var fastPolicy = retry.Policy{Ceiling: 3, Base: time.Microsecond, Factor: 1}

func newTestLoop(t *testing.T, p llm.Provider, pc prover.Client) *Loop {
	t.Helper()
	loop, err := NewLoop(Config{Provider: p, Prover: pc, Policy: fastPolicy})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	return loop
}

func TestRunSession_AcceptedFirstAttempt(t *testing.T) {
	loop := newTestLoop(t, &scriptedLLM{drafts: []string{"proof v1"}}, &scriptedProver{results: []*prover.Result{accept}})

	session, err := loop.RunSession(context.Background(), testFactSet(), testBudget(3))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if session.Status != model.StatusSucceeded {
		t.Errorf("expected succeeded, got %s", session.Status)
	}
	if len(session.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(session.Attempts))
	}
	if session.Attempts[0].Verdict != model.VerdictAccepted {
		t.Errorf("expected accepted verdict, got %s", session.Attempts[0].Verdict)
	}
	if session.Attempts[0].Corrects != 0 {
		t.Errorf("first attempt corrects nothing, got %d", session.Attempts[0].Corrects)
	}
	if session.FinishedAt == nil {
		t.Error("terminal session must have a finish time")
	}
}

func TestRunSession_AcceptedSecondAttempt(t *testing.T) {
	llmClient := &scriptedLLM{drafts: []string{"proof v1", "proof v2"}}
	loop := newTestLoop(t, llmClient, &scriptedProver{results: []*prover.Result{reject, accept}})

	session, err := loop.RunSession(context.Background(), testFactSet(), testBudget(3))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if session.Status != model.StatusSucceeded {
		t.Errorf("expected succeeded, got %s", session.Status)
	}
	if len(session.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(session.Attempts))
	}
	if session.Attempts[0].Verdict != model.VerdictRejected {
		t.Errorf("attempt 1 should be rejected, got %s", session.Attempts[0].Verdict)
	}
	if session.Attempts[1].Verdict != model.VerdictAccepted {
		t.Errorf("attempt 2 should be accepted, got %s", session.Attempts[1].Verdict)
	}
	if session.Attempts[1].Corrects != 1 {
		t.Errorf("attempt 2 should correct attempt 1, got %d", session.Attempts[1].Corrects)
	}

	// Correction feedback contract: diagnostics appear verbatim in the
	// second draft prompt.
	secondPrompt := llmClient.prompts[1]
	if !strings.Contains(secondPrompt, "line 1: type mismatch") {
		t.Error("second prompt missing verbatim diagnostics")
	}
	if !strings.Contains(secondPrompt, "proof v1") {
		t.Error("second prompt missing prior proof source")
	}
}

func TestRunSession_ExhaustedAfterMaxAttempts(t *testing.T) {
	loop := newTestLoop(t, &scriptedLLM{drafts: []string{"proof"}}, &scriptedProver{results: []*prover.Result{reject}})

	session, err := loop.RunSession(context.Background(), testFactSet(), testBudget(3))
	if err != nil {
		t.Fatalf("exhaustion is a valid terminal state, not an error: %v", err)
	}

	if session.Status != model.StatusExhausted {
		t.Errorf("expected exhausted, got %s", session.Status)
	}
	if len(session.Attempts) != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", len(session.Attempts))
	}
	for i, a := range session.Attempts {
		if a.Verdict != model.VerdictRejected {
			t.Errorf("attempt %d: expected rejected, got %s", i+1, a.Verdict)
		}
		if a.Index != i+1 {
			t.Errorf("attempt %d: expected index %d, got %d", i+1, i+1, a.Index)
		}
	}
}

func TestRunSession_TransientProverFailuresWithinCeiling(t *testing.T) {
	// Two timeouts, then success: counted as a single attempt.
	proverClient := &scriptedProver{
		results: []*prover.Result{nil, nil, accept},
		errs:    []error{prover.ErrTimeout, prover.ErrTimeout, nil},
	}
	loop := newTestLoop(t, &scriptedLLM{drafts: []string{"proof"}}, proverClient)

	session, err := loop.RunSession(context.Background(), testFactSet(), testBudget(3))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if session.Status != model.StatusSucceeded {
		t.Errorf("expected succeeded, got %s", session.Status)
	}
	if len(session.Attempts) != 1 {
		t.Errorf("retried step must count as a single attempt, got %d", len(session.Attempts))
	}
	if proverClient.calls != 3 {
		t.Errorf("expected 3 prover calls, got %d", proverClient.calls)
	}
}

func TestRunSession_TransientExhaustionCountsAsRejected(t *testing.T) {
	// Prover times out on every call: each step burns the retry ceiling
	// then records a rejected attempt until the budget is gone.
	proverClient := &scriptedProver{
		results: []*prover.Result{nil},
		errs:    []error{prover.ErrTimeout},
	}
	// Repeat the timeout forever.
	proverClient.errs = make([]error, 100)
	for i := range proverClient.errs {
		proverClient.errs[i] = prover.ErrTimeout
	}

	loop := newTestLoop(t, &scriptedLLM{drafts: []string{"proof"}}, proverClient)

	session, err := loop.RunSession(context.Background(), testFactSet(), testBudget(2))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if session.Status != model.StatusExhausted {
		t.Errorf("expected exhausted, got %s", session.Status)
	}
	if len(session.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(session.Attempts))
	}
	for _, a := range session.Attempts {
		if a.Verdict != model.VerdictRejected {
			t.Errorf("expected rejected, got %s", a.Verdict)
		}
		if !strings.Contains(a.Diagnostics, "proof check failed") {
			t.Errorf("expected check failure diagnostics, got %q", a.Diagnostics)
		}
	}
}

func TestRunSession_FatalLLMFailureAborts(t *testing.T) {
	llmClient := &scriptedLLM{drafts: []string{""}, errs: []error{llm.ErrAuthFailed}}
	loop := newTestLoop(t, llmClient, &scriptedProver{results: []*prover.Result{accept}})

	session, err := loop.RunSession(context.Background(), testFactSet(), testBudget(3))
	if !errors.Is(err, llm.ErrAuthFailed) {
		t.Fatalf("expected auth failure surfaced, got %v", err)
	}
	if session.Status != model.StatusAborted {
		t.Errorf("expected aborted, got %s", session.Status)
	}
	if llmClient.calls != 1 {
		t.Errorf("fatal failure must not be retried, got %d calls", llmClient.calls)
	}
}

func TestRunSession_ToolUnavailableAborts(t *testing.T) {
	proverClient := &scriptedProver{results: []*prover.Result{nil}, errs: []error{prover.ErrToolUnavailable}}
	loop := newTestLoop(t, &scriptedLLM{drafts: []string{"proof"}}, proverClient)

	session, err := loop.RunSession(context.Background(), testFactSet(), testBudget(3))
	if !errors.Is(err, prover.ErrToolUnavailable) {
		t.Fatalf("expected tool unavailable surfaced, got %v", err)
	}
	if session.Status != model.StatusAborted {
		t.Errorf("expected aborted, got %s", session.Status)
	}
}

func TestRunSession_PartialAcceptanceIsRejection(t *testing.T) {
	partial := &prover.Result{Accepted: true, Partial: true}
	loop := newTestLoop(t, &scriptedLLM{drafts: []string{"proof"}}, &scriptedProver{results: []*prover.Result{partial}})

	session, err := loop.RunSession(context.Background(), testFactSet(), testBudget(2))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if session.Status != model.StatusExhausted {
		t.Errorf("partial proofs never short-circuit success; expected exhausted, got %s", session.Status)
	}
	for _, a := range session.Attempts {
		if a.Verdict != model.VerdictRejected {
			t.Errorf("partial acceptance must record rejected, got %s", a.Verdict)
		}
		if !strings.Contains(a.Diagnostics, "unresolved placeholder obligations") {
			t.Errorf("expected obligation note, got %q", a.Diagnostics)
		}
	}
}

func TestRunSession_EmptyDiagnosticsRecordedAsUnknown(t *testing.T) {
	bare := &prover.Result{Accepted: false}
	loop := newTestLoop(t, &scriptedLLM{drafts: []string{"proof"}}, &scriptedProver{results: []*prover.Result{bare}})

	session, err := loop.RunSession(context.Background(), testFactSet(), testBudget(1))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(session.Attempts) != 1 {
		t.Fatalf("empty diagnostics still consume budget, got %d attempts", len(session.Attempts))
	}
	if session.Attempts[0].Diagnostics != model.UnknownFailure {
		t.Errorf("expected unknown failure marker, got %q", session.Attempts[0].Diagnostics)
	}
}

func TestRunSession_InvalidTarget(t *testing.T) {
	loop := newTestLoop(t, &scriptedLLM{drafts: []string{"proof"}}, &scriptedProver{results: []*prover.Result{accept}})

	_, err := loop.RunSession(context.Background(), model.FactSet{Premises: []string{"p"}}, testBudget(3))
	if !errors.Is(err, model.ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestRunSession_InvalidBudget(t *testing.T) {
	loop := newTestLoop(t, &scriptedLLM{drafts: []string{"proof"}}, &scriptedProver{results: []*prover.Result{accept}})

	if _, err := loop.RunSession(context.Background(), testFactSet(), model.Budget{MaxAttempts: 0, MaxDuration: time.Minute}); err == nil {
		t.Error("expected error for zero max attempts")
	}
	if _, err := loop.RunSession(context.Background(), testFactSet(), model.Budget{MaxAttempts: 1}); err == nil {
		t.Error("expected error for zero max duration")
	}
}

func TestRunSession_CancellationStopsNewWork(t *testing.T) {
	llmClient := &scriptedLLM{drafts: []string{"proof"}}
	loop := newTestLoop(t, llmClient, &scriptedProver{results: []*prover.Result{reject}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session, err := loop.RunSession(ctx, testFactSet(), testBudget(100))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if session.Status != model.StatusAborted {
		t.Errorf("expected aborted, got %s", session.Status)
	}
	if llmClient.calls != 0 {
		t.Errorf("no new work after cancellation, got %d calls", llmClient.calls)
	}
}

func TestRunSession_DurationBudget(t *testing.T) {
	loop := newTestLoop(t, &scriptedLLM{drafts: []string{"proof"}}, &scriptedProver{results: []*prover.Result{reject}})

	// Clock starts past the deadline on the second iteration.
	base := time.Now()
	tick := 0
	loop.now = func() time.Time {
		tick++
		if tick > 3 {
			return base.Add(time.Hour)
		}
		return base
	}

	session, err := loop.RunSession(context.Background(), testFactSet(), model.Budget{MaxAttempts: 100, MaxDuration: time.Minute})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if session.Status != model.StatusExhausted {
		t.Errorf("expected exhausted on duration, got %s", session.Status)
	}
	if len(session.Attempts) >= 100 {
		t.Errorf("duration budget did not stop the loop, %d attempts", len(session.Attempts))
	}
}
