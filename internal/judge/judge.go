// Package judge decides whether a retrieval attempt satisfied the caller's
// intent, and proposes what to try next when it did not. Both concerns are
// interfaces so the orchestrator works with deterministic implementations in
// tests and an LLM-backed one in production.
package judge

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/refetch/internal/store"
	"github.com/mohammad-safakhou/refetch/internal/worker"
)

// Intent describes what the caller wants out of a target.
type Intent struct {
	// Goal is the free-form description of the desired content.
	Goal string `json:"goal"`
	// MustContain lists terms the fetched content must include for the
	// intent to count as satisfied. Matching is case-insensitive.
	MustContain []string `json:"must_contain,omitempty"`
}

// Judgement is the outcome of evaluating one successful attempt.
type Judgement struct {
	Satisfied bool   `json:"satisfied"`
	Reason    string `json:"reason"`
}

// Judge evaluates whether a successful attempt's content satisfies an intent.
// It is only consulted for SUCCESS attempts; failure statuses never satisfy.
type Judge interface {
	Evaluate(ctx context.Context, intent Intent, attempt store.Attempt) (Judgement, error)
}

// StrategyAdvisor proposes the next directive given what has already been
// tried. Proposals are advisory: the orchestrator rejects any directive that
// repeats a prior strategy/parameter combination.
type StrategyAdvisor interface {
	Propose(ctx context.Context, intent Intent, target string, history []store.Attempt, advice []store.Advice) (worker.Directive, error)
}

// HeuristicJudge is a deterministic Judge: satisfied iff the attempt
// succeeded, produced non-blank content, and every MustContain term appears
// in the summary. Re-evaluating the same attempt always yields the same
// judgement.
type HeuristicJudge struct{}

func (HeuristicJudge) Evaluate(_ context.Context, intent Intent, attempt store.Attempt) (Judgement, error) {
	if attempt.Status != store.StatusSuccess {
		return Judgement{Satisfied: false, Reason: "attempt did not succeed"}, nil
	}
	content := strings.TrimSpace(attempt.ContentSummary)
	if content == "" {
		return Judgement{Satisfied: false, Reason: "content is blank"}, nil
	}
	lower := strings.ToLower(content)
	for _, term := range intent.MustContain {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(term)) {
			return Judgement{Satisfied: false, Reason: "missing required term: " + term}, nil
		}
	}
	return Judgement{Satisfied: true, Reason: "content present and required terms found"}, nil
}
