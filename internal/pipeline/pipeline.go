// Package pipeline assembles the full claim-verification flow:
// extraction, proof refinement and judge aggregation behind a single
// Verify call.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veriform/proofloop/internal/cache"
	"github.com/veriform/proofloop/internal/extract"
	"github.com/veriform/proofloop/internal/judge"
	"github.com/veriform/proofloop/internal/llm"
	"github.com/veriform/proofloop/internal/model"
	"github.com/veriform/proofloop/internal/prover"
	"github.com/veriform/proofloop/internal/refine"
	"github.com/veriform/proofloop/internal/retry"
	"github.com/veriform/proofloop/internal/store"
	"github.com/veriform/proofloop/internal/worker"
)

// Pipeline verifies claims end to end. It is safe for concurrent use:
// each Verify call runs its own session, and the shared rate limiter
// keeps the external backends within bounds.
type Pipeline struct {
	cfg        *model.Config
	provider   llm.Provider
	extractor  *extract.Extractor
	loop       *refine.Loop
	aggregator *judge.Aggregator
	store      *store.Store
}

// NewPipeline wires a pipeline from configuration.
func NewPipeline(cfg *model.Config) (*Pipeline, error) {
	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}

	judgeProvider := provider
	if cfg.JudgeLLM.Provider != "" {
		judgeProvider, err = llm.NewProvider(llm.ConfigFromModel(cfg.JudgeLLM))
		if err != nil {
			return nil, fmt.Errorf("create judge LLM provider: %w", err)
		}
	}

	var resultCache cache.Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.Dir != "" {
			resultCache = cache.NewLayeredCache(cfg.Cache.TTL, cfg.Cache.Dir, cfg.Cache.TTL)
		} else {
			resultCache = cache.NewMemoryCache(cfg.Cache.TTL, 10*time.Minute)
		}
	}

	limiter := worker.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	policy := retry.DefaultPolicy()
	if cfg.Session.RetryCeiling > 0 {
		policy.Ceiling = cfg.Session.RetryCeiling
	}

	var proverClient prover.Client
	proverClient, err = prover.NewHTTPClient(cfg.Prover.URL, time.Duration(cfg.Prover.Timeout)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("create prover client: %w", err)
	}
	if resultCache != nil {
		proverClient = prover.NewCachedClient(proverClient, resultCache, cfg.Cache.TTL)
	}

	var sessionStore *store.Store
	if cfg.Store.Path != "" {
		sessionStore, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
	}

	var transcript *refine.Transcript
	if cfg.Session.TranscriptDir != "" {
		transcript, err = refine.NewTranscript(cfg.Session.TranscriptDir)
		if err != nil {
			return nil, fmt.Errorf("create transcript dir: %w", err)
		}
	}

	extractOpts := []extract.Option{
		extract.WithLimiter(limiter),
		extract.WithRetryPolicy(policy),
	}
	if resultCache != nil {
		extractOpts = append(extractOpts, extract.WithCache(resultCache, cfg.Cache.TTL))
	}
	extractor := extract.NewExtractor(provider, cfg.Session.ExtractTries, extractOpts...)

	loopCfg := refine.Config{
		Provider:        provider,
		Prover:          proverClient,
		Policy:          policy,
		Limiter:         limiter,
		Transcript:      transcript,
		Model:           cfg.LLM.Model,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
		TemperatureStep: cfg.Session.TemperatureStep,
	}
	if sessionStore != nil {
		loopCfg.Store = sessionStore
	}
	loop, err := refine.NewLoop(loopCfg)
	if err != nil {
		return nil, err
	}

	judgeOpts := []judge.Option{
		judge.WithLimiter(limiter),
		judge.WithRetryPolicy(policy),
	}
	if cfg.JudgeLLM.Model != "" {
		judgeOpts = append(judgeOpts, judge.WithModel(cfg.JudgeLLM.Model, cfg.JudgeLLM.MaxTokens))
	}
	aggregator, err := judge.NewAggregator(judgeProvider, cfg.Judge.Count, cfg.Judge.ConcurrencyLimit, judgeOpts...)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:        cfg,
		provider:   provider,
		extractor:  extractor,
		loop:       loop,
		aggregator: aggregator,
		store:      sessionStore,
	}, nil
}

// Close releases the session store, if one is open.
func (p *Pipeline) Close() error {
	if p.store == nil {
		return nil
	}
	return p.store.Close()
}

// Store exposes the session store for listing and inspection. Nil when
// persistence is disabled.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

// Verify runs the full flow for one claim: extract a proof target, run
// a refinement session and, when the session succeeds, aggregate judge
// passes into a verdict. An exhausted session is a valid report, not an
// error; an aborted session returns the report alongside the fatal
// error.
func (p *Pipeline) Verify(ctx context.Context, claimText string) (*model.Report, error) {
	started := time.Now()

	claim := model.Claim{
		ID:          uuid.New().String(),
		Text:        claimText,
		SubmittedAt: started,
	}

	report := &model.Report{
		Claim:       claim,
		StartedAt:   started,
		LLMProvider: p.cfg.LLM.Provider,
		LLMModel:    p.cfg.LLM.Model,
	}

	factSet, err := p.extractor.Extract(ctx, claim)
	if err != nil {
		report.Elapsed = time.Since(started)
		return report, err
	}
	report.FactSet = *factSet

	budget := model.Budget{
		MaxAttempts: p.cfg.Session.MaxAttempts,
		MaxDuration: p.cfg.Session.MaxDuration,
	}
	session, err := p.loop.RunSession(ctx, *factSet, budget)
	report.Session = session
	if err != nil {
		report.Elapsed = time.Since(started)
		return report, err
	}

	if session.Status == model.StatusSucceeded {
		verdict, err := p.aggregator.Aggregate(ctx, session, claim)
		if err != nil {
			report.Elapsed = time.Since(started)
			return report, fmt.Errorf("judge verdict: %w", err)
		}
		report.Verdict = verdict
	}

	report.Elapsed = time.Since(started)
	return report, nil
}

// Resume continues an interrupted session and, if it succeeds, judges
// it. The original claim text is not persisted, so the judges compare
// against the fact set's conclusion, which restates the claim as a
// single provable statement.
func (p *Pipeline) Resume(ctx context.Context, sessionID string) (*model.Report, error) {
	started := time.Now()

	session, err := p.loop.Resume(ctx, sessionID)
	report := &model.Report{
		Session:     session,
		StartedAt:   started,
		LLMProvider: p.cfg.LLM.Provider,
		LLMModel:    p.cfg.LLM.Model,
	}
	if session != nil {
		report.FactSet = session.FactSet
		report.Claim = model.Claim{ID: session.FactSet.ClaimID, Text: session.FactSet.Conclusion}
	}
	if err != nil {
		report.Elapsed = time.Since(started)
		return report, err
	}

	if session.Status == model.StatusSucceeded {
		verdict, err := p.aggregator.Aggregate(ctx, session, report.Claim)
		if err != nil {
			report.Elapsed = time.Since(started)
			return report, fmt.Errorf("judge verdict: %w", err)
		}
		report.Verdict = verdict
	}

	report.Elapsed = time.Since(started)
	return report, nil
}
