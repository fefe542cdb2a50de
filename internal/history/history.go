// Package history answers "what happened before against this target or
// domain" from the append-only attempt log. Results are deterministic reads
// of stored rows, most recent first.
package history

import (
	"context"
	"errors"
	"strings"

	"github.com/mohammad-safakhou/refetch/internal/helpers"
	"github.com/mohammad-safakhou/refetch/internal/store"
)

// AttemptSearcher is the slice of the store the service reads from.
type AttemptSearcher interface {
	SearchAttemptsByTarget(ctx context.Context, target string, limit int) ([]store.Attempt, error)
	SearchAttemptsByDomain(ctx context.Context, domain string, limit int) ([]store.Attempt, error)
	ListAdvice(ctx context.Context, domain string) ([]store.Advice, error)
}

// Result groups prior attempts for a query. Exact holds attempts whose
// canonical target matches the queried URL; Related holds other attempts on
// the same domain. For bare-domain queries Exact is empty and Related holds
// the whole domain history.
type Result struct {
	Target  string          `json:"target,omitempty"`
	Domain  string          `json:"domain"`
	Exact   []store.Attempt `json:"exact"`
	Related []store.Attempt `json:"related"`
	Advice  []store.Advice  `json:"advice"`
}

type Service struct {
	store AttemptSearcher
}

func NewService(st AttemptSearcher) *Service {
	return &Service{store: st}
}

// Lookup resolves a raw query: a full URL yields exact-target matches plus a
// same-domain fallback, a bare domain yields everything recorded for that
// domain. limit bounds each stored query; zero means the store default.
func (s *Service) Lookup(ctx context.Context, raw string, limit int) (Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Result{}, errors.New("empty query")
	}

	if isBareDomain(raw) {
		domain := helpers.Domain(raw)
		if domain == "" {
			return Result{}, errors.New("query has no resolvable domain")
		}
		related, err := s.store.SearchAttemptsByDomain(ctx, domain, limit)
		if err != nil {
			return Result{}, err
		}
		advice, err := s.store.ListAdvice(ctx, domain)
		if err != nil {
			return Result{}, err
		}
		return Result{Domain: domain, Exact: []store.Attempt{}, Related: related, Advice: advice}, nil
	}

	target, err := helpers.CanonicalTarget(raw)
	if err != nil {
		return Result{}, err
	}
	domain := helpers.Domain(target)

	exact, err := s.store.SearchAttemptsByTarget(ctx, target, limit)
	if err != nil {
		return Result{}, err
	}
	byDomain, err := s.store.SearchAttemptsByDomain(ctx, domain, limit)
	if err != nil {
		return Result{}, err
	}
	advice, err := s.store.ListAdvice(ctx, domain)
	if err != nil {
		return Result{}, err
	}

	related := make([]store.Attempt, 0, len(byDomain))
	for _, a := range byDomain {
		if a.Target != target {
			related = append(related, a)
		}
	}
	return Result{Target: target, Domain: domain, Exact: exact, Related: related, Advice: advice}, nil
}

// isBareDomain reports whether the query names a domain rather than a page:
// no scheme and no path, query or fragment component.
func isBareDomain(raw string) bool {
	if strings.Contains(raw, "://") {
		return false
	}
	return !strings.ContainsAny(raw, "/?#")
}
