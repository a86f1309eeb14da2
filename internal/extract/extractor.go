// Package extract decomposes natural-language claims into structured
// proof targets (premises, derivation, conclusion).
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veriform/proofloop/internal/cache"
	"github.com/veriform/proofloop/internal/llm"
	"github.com/veriform/proofloop/internal/model"
	"github.com/veriform/proofloop/internal/retry"
	"github.com/veriform/proofloop/internal/worker"
)

const extractSystemPrompt = `You decompose natural-language claims into formal proof targets.
Respond with JSON only, no prose: {"premises": ["..."], "derivation": "...", "conclusion": "..."}.
Premises are the assumptions the claim rests on, the derivation describes how they connect,
and the conclusion restates the claim as a single provable statement.
If the claim cannot be decomposed, respond with {"premises": [], "derivation": "", "conclusion": ""}.`

// Extractor turns a Claim into a FactSet via the LLM.
type Extractor struct {
	provider llm.Provider
	tries    int
	policy   retry.Policy
	limiter  *worker.Limiter
	cache    cache.Cache
	cacheTTL time.Duration
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithCache enables fact-set caching keyed by claim text.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(e *Extractor) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

// WithLimiter applies the shared per-backend rate limiter.
func WithLimiter(l *worker.Limiter) Option {
	return func(e *Extractor) {
		e.limiter = l
	}
}

// WithRetryPolicy overrides the default transient-failure policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Extractor) {
		e.policy = p
	}
}

// NewExtractor creates an extractor with a bounded internal try budget.
// tries must be finite; values below 1 are clamped to 1.
func NewExtractor(provider llm.Provider, tries int, opts ...Option) *Extractor {
	if tries < 1 {
		tries = 1
	}
	e := &Extractor{
		provider: provider,
		tries:    tries,
		policy:   retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type extractResponse struct {
	Premises   []string `json:"premises"`
	Derivation string   `json:"derivation"`
	Conclusion string   `json:"conclusion"`
}

// Extract decomposes claim into a FactSet. It makes at most the
// configured number of tries (each with its own transient-retry budget)
// and fails with ErrExtractionFailed when none yields a derivation
// connecting premises to a conclusion.
func (e *Extractor) Extract(ctx context.Context, claim model.Claim) (*model.FactSet, error) {
	if strings.TrimSpace(claim.Text) == "" {
		return nil, fmt.Errorf("%w: empty claim", model.ErrExtractionFailed)
	}

	key := cache.Key("facts", claim.Text)
	if e.cache != nil {
		if data, found := e.cache.Get(key); found {
			var fs model.FactSet
			if err := json.Unmarshal(data, &fs); err == nil {
				fs.ClaimID = claim.ID
				return &fs, nil
			}
			_ = e.cache.Delete(key)
		}
	}

	var lastErr error
	for try := 0; try < e.tries; try++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		fs, err := e.extractOnce(ctx, claim)
		if err != nil {
			if !llm.IsTransient(err) && !isParseErr(err) {
				// Fatal LLM failure: surface immediately.
				return nil, err
			}
			lastErr = err
			continue
		}

		fs.ClaimID = claim.ID
		if err := fs.Validate(); err != nil {
			lastErr = fmt.Errorf("incomplete decomposition on try %d", try+1)
			continue
		}

		if e.cache != nil {
			if data, err := json.Marshal(fs); err == nil {
				_ = e.cache.Set(key, data, e.cacheTTL)
			}
		}
		return fs, nil
	}

	return nil, fmt.Errorf("%w: %v", model.ErrExtractionFailed, lastErr)
}

func (e *Extractor) extractOnce(ctx context.Context, claim model.Claim) (*model.FactSet, error) {
	prompt := fmt.Sprintf("Decompose this claim into a proof target:\n\n%s", claim.Text)

	var resp *llm.CompletionResponse
	err := e.policy.Do(ctx, llm.IsTransient, func(ctx context.Context) error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, e.provider.Name()); err != nil {
				return err
			}
		}
		var callErr error
		resp, callErr = e.provider.Complete(ctx, llm.CompletionRequest{
			System: extractSystemPrompt,
			Prompt: prompt,
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}

	parsed, err := parseExtraction(resp.Text)
	if err != nil {
		return nil, err
	}

	return &model.FactSet{
		Premises:   parsed.Premises,
		Derivation: strings.TrimSpace(parsed.Derivation),
		Conclusion: strings.TrimSpace(parsed.Conclusion),
	}, nil
}

type parseError struct{ msg string }

func (p *parseError) Error() string { return p.msg }

func isParseErr(err error) bool {
	var pe *parseError
	return errors.As(err, &pe)
}

func parseExtraction(text string) (*extractResponse, error) {
	body := stripCodeFence(text)

	var parsed extractResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, &parseError{msg: fmt.Sprintf("parse extraction response: %v", err)}
	}
	return &parsed, nil
}

// stripCodeFence removes a surrounding ```json ... ``` fence if present.
func stripCodeFence(text string) string {
	body := strings.TrimSpace(text)
	if !strings.HasPrefix(body, "```") {
		return body
	}
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
