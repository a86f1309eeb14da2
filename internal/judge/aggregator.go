// Package judge runs independent back-translation judge passes over an
// accepted proof and combines them into a single confidence-scored
// verdict.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/veriform/proofloop/internal/llm"
	"github.com/veriform/proofloop/internal/model"
	"github.com/veriform/proofloop/internal/retry"
	"github.com/veriform/proofloop/internal/worker"
)

const translateSystemPrompt = `You translate formal proofs into plain natural language.
Respond with the translation only: no commentary, no markdown.`

const compareSystemPrompt = `You compare a proof translation against an original claim.
Respond with JSON only: {"decision": "accept" or "reject", "confidence": 0.0-1.0}.
Accept when the translation establishes the claim; reject otherwise.`

// Aggregator runs judgeCount independent passes and aggregates them by
// majority vote. Passes are mutually independent and run concurrently,
// bounded by the concurrency limit; vote and mean are order-independent.
type Aggregator struct {
	provider    llm.Provider
	count       int
	concurrency int
	policy      retry.Policy
	limiter     *worker.Limiter
	model       string
	maxTokens   int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLimiter applies the shared per-backend rate limiter.
func WithLimiter(l *worker.Limiter) Option {
	return func(a *Aggregator) {
		a.limiter = l
	}
}

// WithRetryPolicy overrides the default transient-failure policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(a *Aggregator) {
		a.policy = p
	}
}

// WithModel overrides the provider's default model.
func WithModel(name string, maxTokens int) Option {
	return func(a *Aggregator) {
		a.model = name
		a.maxTokens = maxTokens
	}
}

// NewAggregator creates an aggregator. judgeCount must be odd (ties are
// impossible by construction) and at least 1.
func NewAggregator(provider llm.Provider, judgeCount, concurrencyLimit int, opts ...Option) (*Aggregator, error) {
	if judgeCount < 1 {
		return nil, fmt.Errorf("judge count must be >= 1, got %d", judgeCount)
	}
	if judgeCount%2 == 0 {
		return nil, fmt.Errorf("judge count must be odd to avoid ties, got %d", judgeCount)
	}
	if concurrencyLimit < 1 {
		concurrencyLimit = 1
	}

	a := &Aggregator{
		provider:    provider,
		count:       judgeCount,
		concurrency: concurrencyLimit,
		policy:      retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Aggregate runs all judge passes for a succeeded session and combines
// them. Sessions in any other status fail with ErrInvalidState. A pass
// that exhausts its retries counts as a reject with confidence 0; the
// denominator never shrinks. Cancelling ctx stops dispatching passes
// and is observed by in-flight LLM calls and their backoff sleeps.
func (a *Aggregator) Aggregate(ctx context.Context, session *model.ProofSession, claim model.Claim) (*model.Verdict, error) {
	if session == nil || session.Status != model.StatusSucceeded {
		return nil, fmt.Errorf("%w: verdict requires a succeeded session", model.ErrInvalidState)
	}
	proof, ok := session.AcceptedProof()
	if !ok {
		return nil, fmt.Errorf("%w: succeeded session has no accepted proof", model.ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pool := worker.NewPool(ctx, a.concurrency)
	pool.Start()

	for i := 0; i < a.count; i++ {
		pool.Submit(&passJob{aggregator: a, judge: i, proof: proof, claim: claim})
	}

	results := pool.Wait()

	passes := make([]model.JudgePass, 0, a.count)
	for _, r := range results {
		passes = append(passes, r.(*passResult).pass)
	}
	// Completion order is nondeterministic; a stable order keeps output
	// reproducible without affecting the vote.
	sort.Slice(passes, func(i, j int) bool { return passes[i].Judge < passes[j].Judge })

	return Combine(session.ID, passes), nil
}

// Combine aggregates passes by majority vote; the aggregate confidence
// is the mean confidence of the majority-voting passes. Dissenting
// always equals the passes whose decision differs from the majority.
func Combine(sessionID string, passes []model.JudgePass) *model.Verdict {
	accepts := 0
	for _, p := range passes {
		if p.Decision == model.DecisionAccept {
			accepts++
		}
	}

	decision := model.DecisionReject
	if accepts*2 > len(passes) {
		decision = model.DecisionAccept
	}

	var sum float64
	var majority int
	var dissenting []model.JudgePass
	for _, p := range passes {
		if p.Decision == decision {
			sum += p.Confidence
			majority++
		} else {
			dissenting = append(dissenting, p)
		}
	}

	confidence := 0.0
	if majority > 0 {
		confidence = sum / float64(majority)
	}

	return &model.Verdict{
		SessionID:  sessionID,
		Decision:   decision,
		Confidence: confidence,
		Passes:     passes,
		Dissenting: dissenting,
	}
}

type passJob struct {
	aggregator *Aggregator
	judge      int
	proof      string
	claim      model.Claim
}

type passResult struct {
	pass model.JudgePass
}

func (r *passResult) GetError() error { return nil }

// Execute runs one judge pass. Failures are folded into the pass as a
// zero-confidence reject rather than dropped.
func (j *passJob) Execute(ctx context.Context) worker.Result {
	pass, err := j.aggregator.runPass(ctx, j.judge, j.proof, j.claim)
	if err != nil {
		pass = model.JudgePass{
			Judge:      j.judge,
			Decision:   model.DecisionReject,
			Confidence: 0,
			Error:      err.Error(),
		}
	}
	return &passResult{pass: pass}
}

func (a *Aggregator) runPass(ctx context.Context, judge int, proof string, claim model.Claim) (model.JudgePass, error) {
	translation, err := a.complete(ctx, translateSystemPrompt,
		fmt.Sprintf("Translate this proof into natural language:\n\n%s", proof))
	if err != nil {
		return model.JudgePass{}, fmt.Errorf("translate: %w", err)
	}

	comparison, err := a.complete(ctx, compareSystemPrompt,
		fmt.Sprintf("Original claim:\n%s\n\nProof translation:\n%s\n\nDoes the translation establish the claim?", claim.Text, translation))
	if err != nil {
		return model.JudgePass{}, fmt.Errorf("compare: %w", err)
	}

	decision, confidence, err := parseComparison(comparison)
	if err != nil {
		return model.JudgePass{}, err
	}

	return model.JudgePass{
		Judge:       judge,
		Translation: translation,
		Decision:    decision,
		Confidence:  confidence,
	}, nil
}

func (a *Aggregator) complete(ctx context.Context, system, prompt string) (string, error) {
	var resp *llm.CompletionResponse
	err := a.policy.Do(ctx, llm.IsTransient, func(ctx context.Context) error {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx, a.provider.Name()); err != nil {
				return err
			}
		}
		var callErr error
		resp, callErr = a.provider.Complete(ctx, llm.CompletionRequest{
			System:    system,
			Prompt:    prompt,
			Model:     a.model,
			MaxTokens: a.maxTokens,
		})
		return callErr
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

type comparisonResponse struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
}

func parseComparison(text string) (model.Decision, float64, error) {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}

	var parsed comparisonResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return "", 0, fmt.Errorf("parse comparison response: %w", err)
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Decision)) {
	case "accept":
		return model.DecisionAccept, confidence, nil
	case "reject":
		return model.DecisionReject, confidence, nil
	default:
		return "", 0, fmt.Errorf("unrecognized decision %q", parsed.Decision)
	}
}
