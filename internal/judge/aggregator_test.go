package judge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/veriform/proofloop/internal/llm"
	"github.com/veriform/proofloop/internal/model"
	"github.com/veriform/proofloop/internal/retry"
)

// judgeScript drives one judge pass: a translation, then a comparison.
type judgeScript struct {
	comparison string // JSON comparison response
	err        error  // fails the pass's translation call when set
}

// scriptedJudgeLLM hands out one script per judge pass. Translation and
// comparison calls are told apart by the system prompt; the comparison
// finds its script via the translation text echoed into the prompt.
type scriptedJudgeLLM struct {
	mu      sync.Mutex
	scripts []judgeScript
	next    int
	calls   int
}

func (p *scriptedJudgeLLM) Name() string { return "scripted" }

func (p *scriptedJudgeLLM) IsAvailable(ctx context.Context) bool { return true }

func (p *scriptedJudgeLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	if req.System == translateSystemPrompt {
		idx := p.next % len(p.scripts)
		p.next++
		if p.scripts[idx].err != nil {
			return nil, p.scripts[idx].err
		}
		return &llm.CompletionResponse{Text: fmt.Sprintf("translation #%d#", idx), Model: "scripted"}, nil
	}

	for i, script := range p.scripts {
		if strings.Contains(req.Prompt, fmt.Sprintf("translation #%d#", i)) {
			return &llm.CompletionResponse{Text: script.comparison, Model: "scripted"}, nil
		}
	}
	return nil, fmt.Errorf("no script matched prompt")
}

func (p *scriptedJudgeLLM) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var noRetry = retry.Policy{Ceiling: 0, Base: time.Millisecond, Factor: 1}

func succeededSession() *model.ProofSession {
	now := time.Now()
	return &model.ProofSession{
		ID:     "session-1",
		Status: model.StatusSucceeded,
		Attempts: []model.ProofAttempt{
			{Index: 1, Source: "proof source", Verdict: model.VerdictAccepted, CreatedAt: now},
		},
		StartedAt:  now,
		FinishedAt: &now,
	}
}

func comparison(decision string, confidence float64) string {
	return fmt.Sprintf(`{"decision": %q, "confidence": %g}`, decision, confidence)
}

func TestNewAggregator_RejectsEvenCount(t *testing.T) {
	if _, err := NewAggregator(&scriptedJudgeLLM{}, 2, 1); err == nil {
		t.Error("expected configuration error for even judge count")
	}
	if _, err := NewAggregator(&scriptedJudgeLLM{}, 0, 1); err == nil {
		t.Error("expected configuration error for zero judge count")
	}
	if _, err := NewAggregator(&scriptedJudgeLLM{}, 3, 1); err != nil {
		t.Errorf("odd count should be accepted: %v", err)
	}
}

func TestAggregate_RequiresSucceededSession(t *testing.T) {
	a, _ := NewAggregator(&scriptedJudgeLLM{}, 3, 1, WithRetryPolicy(noRetry))

	for _, status := range []model.SessionStatus{model.StatusRunning, model.StatusExhausted, model.StatusAborted} {
		session := succeededSession()
		session.Status = status
		_, err := a.Aggregate(context.Background(), session, model.Claim{Text: "claim"})
		if !errors.Is(err, model.ErrInvalidState) {
			t.Errorf("status %s: expected ErrInvalidState, got %v", status, err)
		}
	}
}

func TestAggregate_MajorityAcceptWithDissent(t *testing.T) {
	// Two accepts (0.9, 0.8), one reject (0.4): accept at 0.85, one dissent.
	provider := &scriptedJudgeLLM{scripts: []judgeScript{
		{comparison: comparison("accept", 0.9)},
		{comparison: comparison("accept", 0.8)},
		{comparison: comparison("reject", 0.4)},
	}}
	a, _ := NewAggregator(provider, 3, 2, WithRetryPolicy(noRetry))

	verdict, err := a.Aggregate(context.Background(), succeededSession(), model.Claim{Text: "claim"})
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	if verdict.Decision != model.DecisionAccept {
		t.Errorf("expected accept, got %s", verdict.Decision)
	}
	if math.Abs(verdict.Confidence-0.85) > 1e-9 {
		t.Errorf("expected confidence 0.85, got %g", verdict.Confidence)
	}
	if len(verdict.Passes) != 3 {
		t.Errorf("expected 3 passes, got %d", len(verdict.Passes))
	}
	if len(verdict.Dissenting) != 1 {
		t.Fatalf("expected 1 dissenting pass, got %d", len(verdict.Dissenting))
	}
	if verdict.Dissenting[0].Decision != model.DecisionReject {
		t.Errorf("dissenting pass should be the reject")
	}
}

func TestAggregate_UnanimousNoDissent(t *testing.T) {
	provider := &scriptedJudgeLLM{scripts: []judgeScript{
		{comparison: comparison("accept", 1)},
		{comparison: comparison("accept", 0.5)},
		{comparison: comparison("accept", 0.75)},
	}}
	a, _ := NewAggregator(provider, 3, 3, WithRetryPolicy(noRetry))

	verdict, err := a.Aggregate(context.Background(), succeededSession(), model.Claim{Text: "claim"})
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(verdict.Dissenting) != 0 {
		t.Errorf("unanimous verdict must have no dissent, got %d", len(verdict.Dissenting))
	}
	if math.Abs(verdict.Confidence-0.75) > 1e-9 {
		t.Errorf("expected mean 0.75, got %g", verdict.Confidence)
	}
}

func TestAggregate_FailedPassCountsAsRejectZero(t *testing.T) {
	provider := &scriptedJudgeLLM{scripts: []judgeScript{
		{comparison: comparison("accept", 0.9)},
		{err: llm.ErrTimeout},
		{comparison: comparison("accept", 0.7)},
	}}
	a, _ := NewAggregator(provider, 3, 1, WithRetryPolicy(noRetry))

	verdict, err := a.Aggregate(context.Background(), succeededSession(), model.Claim{Text: "claim"})
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	// The denominator never shrinks.
	if len(verdict.Passes) != 3 {
		t.Fatalf("expected 3 passes, got %d", len(verdict.Passes))
	}

	var failed *model.JudgePass
	for i := range verdict.Passes {
		if verdict.Passes[i].Error != "" {
			failed = &verdict.Passes[i]
		}
	}
	if failed == nil {
		t.Fatal("expected one failed pass recorded")
	}
	if failed.Decision != model.DecisionReject || failed.Confidence != 0 {
		t.Errorf("failed pass must score reject/0, got %s/%g", failed.Decision, failed.Confidence)
	}

	if verdict.Decision != model.DecisionAccept {
		t.Errorf("two live accepts still carry the majority, got %s", verdict.Decision)
	}
	if math.Abs(verdict.Confidence-0.8) > 1e-9 {
		t.Errorf("expected mean 0.8 over majority, got %g", verdict.Confidence)
	}
}

func TestAggregate_MoreJudgesThanWorkers(t *testing.T) {
	// Pass count well beyond the concurrency limit: aggregation must
	// complete rather than stall once the queue outgrows the workers.
	scripts := make([]judgeScript, 9)
	for i := range scripts {
		scripts[i] = judgeScript{comparison: comparison("accept", 0.6)}
	}
	provider := &scriptedJudgeLLM{scripts: scripts}
	a, _ := NewAggregator(provider, 9, 1, WithRetryPolicy(noRetry))

	type outcome struct {
		verdict *model.Verdict
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		verdict, err := a.Aggregate(context.Background(), succeededSession(), model.Claim{Text: "claim"})
		done <- outcome{verdict, err}
	}()

	var got outcome
	select {
	case got = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("aggregate did not finish with more passes than workers")
	}

	if got.err != nil {
		t.Fatalf("aggregate failed: %v", got.err)
	}
	if len(got.verdict.Passes) != 9 {
		t.Errorf("expected 9 passes, got %d", len(got.verdict.Passes))
	}
	if got.verdict.Decision != model.DecisionAccept {
		t.Errorf("expected accept, got %s", got.verdict.Decision)
	}
	if math.Abs(got.verdict.Confidence-0.6) > 1e-9 {
		t.Errorf("expected confidence 0.6, got %g", got.verdict.Confidence)
	}
}

func TestAggregate_CancelledContext(t *testing.T) {
	provider := &scriptedJudgeLLM{scripts: []judgeScript{
		{comparison: comparison("accept", 0.9)},
		{comparison: comparison("accept", 0.9)},
		{comparison: comparison("accept", 0.9)},
	}}
	a, _ := NewAggregator(provider, 3, 2, WithRetryPolicy(noRetry))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.Aggregate(ctx, succeededSession(), model.Claim{Text: "claim"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if n := provider.callCount(); n != 0 {
		t.Errorf("no LLM calls may be issued after cancellation, got %d", n)
	}
}

func TestCombine_OrderIndependent(t *testing.T) {
	passes := []model.JudgePass{
		{Judge: 0, Decision: model.DecisionAccept, Confidence: 0.9},
		{Judge: 1, Decision: model.DecisionReject, Confidence: 0.6},
		{Judge: 2, Decision: model.DecisionAccept, Confidence: 0.7},
		{Judge: 3, Decision: model.DecisionReject, Confidence: 0.2},
		{Judge: 4, Decision: model.DecisionAccept, Confidence: 0.5},
	}

	reference := Combine("s", passes)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		shuffled := make([]model.JudgePass, len(passes))
		copy(shuffled, passes)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		verdict := Combine("s", shuffled)
		if verdict.Decision != reference.Decision {
			t.Fatalf("trial %d: decision changed with order: %s vs %s", trial, verdict.Decision, reference.Decision)
		}
		if math.Abs(verdict.Confidence-reference.Confidence) > 1e-9 {
			t.Fatalf("trial %d: confidence changed with order: %g vs %g", trial, verdict.Confidence, reference.Confidence)
		}
		if len(verdict.Dissenting) != len(reference.Dissenting) {
			t.Fatalf("trial %d: dissent count changed with order", trial)
		}
	}
}

func TestCombine_SingleJudge(t *testing.T) {
	verdict := Combine("s", []model.JudgePass{
		{Judge: 0, Decision: model.DecisionReject, Confidence: 0.3},
	})
	if verdict.Decision != model.DecisionReject {
		t.Errorf("expected reject, got %s", verdict.Decision)
	}
	if math.Abs(verdict.Confidence-0.3) > 1e-9 {
		t.Errorf("expected 0.3, got %g", verdict.Confidence)
	}
	if len(verdict.Dissenting) != 0 {
		t.Errorf("single judge cannot dissent")
	}
}

func TestParseComparison(t *testing.T) {
	d, c, err := parseComparison(`{"decision": "accept", "confidence": 0.95}`)
	if err != nil || d != model.DecisionAccept || c != 0.95 {
		t.Errorf("plain JSON: got %s/%g/%v", d, c, err)
	}

	d, c, err = parseComparison("```json\n{\"decision\": \"reject\", \"confidence\": 1.7}\n```")
	if err != nil || d != model.DecisionReject || c != 1 {
		t.Errorf("fenced JSON with clamping: got %s/%g/%v", d, c, err)
	}

	if _, _, err := parseComparison("maybe?"); err == nil {
		t.Error("expected parse error for non-JSON")
	}
	if _, _, err := parseComparison(`{"decision": "dunno", "confidence": 0.5}`); err == nil {
		t.Error("expected error for unrecognized decision")
	}
}
