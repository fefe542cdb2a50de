// Package worker executes a single attempt directive end to end: it
// canonicalises the target, folds stored advice into the effective strategy
// and parameters, runs the matching capability provider exactly once,
// classifies the outcome and appends the attempt record.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/refetch/config"
	"github.com/mohammad-safakhou/refetch/internal/fetch"
	"github.com/mohammad-safakhou/refetch/internal/helpers"
	"github.com/mohammad-safakhou/refetch/internal/store"
)

// Directive tells the worker what to attempt. Zero-value fields mean "let
// advice and defaults decide".
type Directive struct {
	Target             string         `json:"target"`
	StrategyHint       fetch.Strategy `json:"strategy,omitempty"`
	ParameterOverrides fetch.Params   `json:"parameters,omitempty"`
	Rationale          string         `json:"rationale,omitempty"`
}

// AttemptStore is the slice of the store the worker needs.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, a store.Attempt) (string, error)
	ListAdvice(ctx context.Context, domain string) ([]store.Advice, error)
}

type Worker struct {
	store    AttemptStore
	registry *fetch.Registry
	cfg      config.FetchConfig
	logger   *log.Logger
}

func New(st AttemptStore, registry *fetch.Registry, cfg config.FetchConfig) *Worker {
	return &Worker{
		store:    st,
		registry: registry,
		cfg:      cfg.Normalize(),
		logger:   log.New(log.Writer(), "[WORKER] ", log.LstdFlags),
	}
}

// RunAttempt performs exactly one attempt and appends its record. The
// returned attempt always reflects what was (or would have been) stored; a
// non-nil error alongside it means persistence failed and the result must
// not be trusted as durable.
func (w *Worker) RunAttempt(ctx context.Context, runID string, d Directive) (store.Attempt, error) {
	target, err := helpers.CanonicalTarget(d.Target)
	if err != nil {
		return store.Attempt{}, fmt.Errorf("invalid target %q: %w", d.Target, err)
	}
	domain := helpers.Domain(target)

	advice, err := w.store.ListAdvice(ctx, domain)
	if err != nil {
		return store.Attempt{}, err
	}

	strategy, params := Resolve(d, advice, w.cfg)
	provider, ok := w.registry.Provider(strategy)
	if !ok {
		return store.Attempt{}, fmt.Errorf("no provider registered for strategy %s", strategy)
	}

	w.logger.Printf("attempt target=%s strategy=%s timeout_ms=%d", target, strategy, params.TimeoutMS(w.cfg.DefaultTimeoutMS))
	res, fetchErr := provider.Attempt(ctx, target, params)

	att := store.Attempt{
		RunID:      runID,
		Target:     target,
		Domain:     domain,
		Strategy:   string(strategy),
		Parameters: map[string]interface{}(params),
		CreatedAt:  time.Now().UTC(),
	}
	att.Status, att.ContentSummary, att.ErrorDetail = classify(ctx, res, fetchErr)

	id, err := w.store.RecordAttempt(ctx, att)
	if err != nil {
		return att, err
	}
	att.ID = id
	w.logger.Printf("recorded attempt id=%s status=%s", att.ID, att.Status)
	return att, nil
}

// Resolve layers the effective strategy and parameters for a directive.
// Precedence, highest first: directive, advice hints, configured defaults.
// Advice may only pick the strategy when the directive leaves it unset.
// Two directives are the same attempt exactly when they resolve to the same
// strategy and parameters, so novelty checks must compare resolved forms,
// never the raw directive fields.
func Resolve(d Directive, advice []store.Advice, cfg config.FetchConfig) (fetch.Strategy, fetch.Params) {
	params := fetch.Params{"timeout_ms": cfg.DefaultTimeoutMS}

	adviceStrategy := fetch.Strategy("")
	for _, a := range advice {
		hintStrategy, hintParams := parseAdviceHints(a.Text)
		if hintStrategy != "" {
			adviceStrategy = hintStrategy
		}
		for k, v := range hintParams {
			params[k] = v
		}
	}

	for k, v := range d.ParameterOverrides {
		params[k] = v
	}

	strategy := d.StrategyHint
	if strategy == "" {
		strategy = adviceStrategy
	}
	if strategy == "" {
		strategy = fetch.PlainFetch
	}

	if t := params.TimeoutMS(0); t > cfg.MaxTimeoutMS {
		params["timeout_ms"] = cfg.MaxTimeoutMS
	}
	return strategy, params
}

// parseAdviceHints extracts machine-readable tokens from free-form advice
// text, e.g. "use BROWSER_SCROLL scroll_count=5" or "requires js,
// strategy=BROWSER_LOAD timeout_ms=30000". Unknown tokens are ignored.
func parseAdviceHints(text string) (fetch.Strategy, fetch.Params) {
	var strategy fetch.Strategy
	params := fetch.Params{}
	for _, field := range strings.Fields(text) {
		field = strings.Trim(field, ",;")
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			if s, ok := fetch.ParseStrategy(field); ok {
				strategy = s
			}
			continue
		}
		switch k {
		case "strategy":
			if s, ok := fetch.ParseStrategy(v); ok {
				strategy = s
			}
		case "timeout_ms", "scroll_count":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				params[k] = n
			}
		case "wait_condition", "follow_path":
			params[k] = v
		}
	}
	return strategy, params
}

// classify folds a provider outcome into the four attempt statuses. A
// cancelled context is recorded as an ERROR attempt so the run's history
// stays complete.
func classify(ctx context.Context, res fetch.RawResult, err error) (status, summary, detail string) {
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
			return store.StatusError, "", "cancelled"
		}
		var te *fetch.TimeoutError
		if errors.As(err, &te) {
			return store.StatusTimeout, "", err.Error()
		}
		return store.StatusError, "", err.Error()
	}
	content := strings.TrimSpace(res.Content)
	if content == "" {
		return store.StatusEmpty, "", ""
	}
	return store.StatusSuccess, helpers.TruncateUTF8(content, store.SummaryMaxChars), ""
}
