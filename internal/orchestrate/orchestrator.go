// Package orchestrate runs the retry loop: dispatch an attempt, judge the
// outcome, synthesise a novel directive, repeat until satisfied or out of
// budget. All retry policy lives here; workers and providers execute exactly
// what they are told, exactly once.
package orchestrate

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/refetch/config"
	"github.com/mohammad-safakhou/refetch/internal/fetch"
	"github.com/mohammad-safakhou/refetch/internal/helpers"
	"github.com/mohammad-safakhou/refetch/internal/history"
	"github.com/mohammad-safakhou/refetch/internal/judge"
	"github.com/mohammad-safakhou/refetch/internal/store"
	"github.com/mohammad-safakhou/refetch/internal/telemetry"
	"github.com/mohammad-safakhou/refetch/internal/worker"
)

// State is the terminal state of a run.
type State string

const (
	StateSatisfied             State = "SATISFIED"
	StateExhausted             State = "EXHAUSTED"
	StateUnachievable          State = "UNACHIEVABLE"
	StateInfrastructureFailure State = "INFRASTRUCTURE_FAILURE"
)

// Request describes one retrieval run.
type Request struct {
	Target string       `json:"target"`
	Intent judge.Intent `json:"intent"`
	// Directive optionally pins the first attempt. When empty, history and
	// stored advice pick the starting point.
	Directive worker.Directive `json:"directive,omitempty"`
	// MaxAttempts overrides the configured attempt budget when positive.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// RunResult is the outcome of a run. Final points at the satisfying attempt,
// or at the best partial content when the run ends UNACHIEVABLE.
type RunResult struct {
	RunID    string          `json:"run_id"`
	State    State           `json:"state"`
	Reason   string          `json:"reason,omitempty"`
	Attempts []store.Attempt `json:"attempts"`
	Final    *store.Attempt  `json:"final,omitempty"`
}

// AttemptRunner executes one directive and records the attempt.
type AttemptRunner interface {
	RunAttempt(ctx context.Context, runID string, d worker.Directive) (store.Attempt, error)
}

// HistoryLookup surfaces prior attempts and advice for seeding.
type HistoryLookup interface {
	Lookup(ctx context.Context, raw string, limit int) (history.Result, error)
}

// Config wires an Orchestrator. Worker and Judge are required; Advisor,
// History and Metrics are optional.
type Config struct {
	Worker  AttemptRunner
	Judge   judge.Judge
	Advisor judge.StrategyAdvisor
	History HistoryLookup
	Metrics *telemetry.Metrics

	Fetch        config.FetchConfig
	Orchestrator config.OrchestratorConfig
}

type Orchestrator struct {
	worker   AttemptRunner
	judge    judge.Judge
	advisor  judge.StrategyAdvisor
	history  HistoryLookup
	metrics  *telemetry.Metrics
	policy   policy
	fetchCfg config.FetchConfig
	cfg      config.OrchestratorConfig
	logger   *log.Logger
}

func New(cfg Config) *Orchestrator {
	j := cfg.Judge
	if j == nil {
		j = judge.HeuristicJudge{}
	}
	fetchCfg := cfg.Fetch.Normalize()
	return &Orchestrator{
		worker:   cfg.Worker,
		judge:    j,
		advisor:  cfg.Advisor,
		history:  cfg.History,
		metrics:  cfg.Metrics,
		policy:   newPolicy(fetchCfg),
		fetchCfg: fetchCfg,
		cfg:      cfg.Orchestrator.Normalize(),
		logger:   log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
	}
}

// Run drives one retrieval run to a terminal state. A non-nil error means
// the request itself was unusable (bad target, no provider); every other
// outcome, including storage loss, is reported through RunResult.State.
func (o *Orchestrator) Run(ctx context.Context, req Request) (RunResult, error) {
	target, err := helpers.CanonicalTarget(req.Target)
	if err != nil {
		return RunResult{}, err
	}

	budget := o.cfg.MaxRetries
	if req.MaxAttempts > 0 {
		budget = req.MaxAttempts
	}

	res := RunResult{RunID: uuid.NewString()}
	done := tried{}
	var bestPartial *store.Attempt

	seed, advice, serr := o.seed(ctx, target, req)
	if serr != nil {
		return o.finish(res, StateInfrastructureFailure, serr.Error(), bestPartial), nil
	}
	directive := seed
	o.logger.Printf("run=%s target=%s budget=%d", res.RunID, target, budget)

	for len(res.Attempts) < budget {
		actx, cancel := context.WithTimeout(ctx, o.cfg.AttemptCeiling)
		started := time.Now()
		att, err := o.worker.RunAttempt(actx, res.RunID, directive)
		cancel()
		if err != nil {
			var se *store.StorageError
			if errors.As(err, &se) {
				return o.finish(res, StateInfrastructureFailure, err.Error(), bestPartial), nil
			}
			return RunResult{}, err
		}
		res.Attempts = append(res.Attempts, att)
		done.add(att.Strategy, att.Parameters)
		o.metrics.ObserveAttempt(att.Strategy, att.Status, time.Since(started))
		o.logger.Printf("run=%s attempt=%d strategy=%s status=%s", res.RunID, len(res.Attempts), att.Strategy, att.Status)

		if att.Status == store.StatusSuccess {
			jm, jerr := o.judge.Evaluate(ctx, req.Intent, att)
			if jerr != nil {
				o.logger.Printf("run=%s judge error, treating as unsatisfied: %v", res.RunID, jerr)
			} else if jm.Satisfied {
				final := att
				res.Reason = jm.Reason
				return o.finish(res, StateSatisfied, jm.Reason, &final), nil
			} else {
				o.logger.Printf("run=%s content unsatisfying: %s", res.RunID, jm.Reason)
			}
			partial := att
			bestPartial = &partial
		}

		if ctx.Err() != nil {
			return o.finish(res, exhaustedState(bestPartial), "cancelled", bestPartial), nil
		}
		if len(res.Attempts) >= budget {
			break
		}

		next, ok := o.synthesize(ctx, req, target, res.Attempts, att, advice, done)
		if !ok {
			return o.finish(res, exhaustedState(bestPartial), "no novel directive left", bestPartial), nil
		}
		directive = next
	}

	return o.finish(res, exhaustedState(bestPartial), "attempt budget exhausted", bestPartial), nil
}

func exhaustedState(bestPartial *store.Attempt) State {
	// Content was retrieved but judged insufficient for the intent: no retry
	// strategy can change that, the goal itself is out of reach.
	if bestPartial != nil {
		return StateUnachievable
	}
	return StateExhausted
}

func (o *Orchestrator) finish(res RunResult, state State, reason string, final *store.Attempt) RunResult {
	res.State = state
	if res.Reason == "" {
		res.Reason = reason
	}
	if res.Final == nil {
		res.Final = final
	}
	o.metrics.ObserveRun(string(state))
	o.logger.Printf("run=%s state=%s attempts=%d reason=%s", res.RunID, state, len(res.Attempts), res.Reason)
	return res
}

// seed picks the first directive. Caller directives win; otherwise the most
// recent successful attempt against the same target sets the starting
// strategy, so a target known to need a browser skips the plain attempt.
func (o *Orchestrator) seed(ctx context.Context, target string, req Request) (worker.Directive, []store.Advice, error) {
	if req.Directive.StrategyHint != "" || len(req.Directive.ParameterOverrides) > 0 {
		d := req.Directive
		d.Target = target
		return d, nil, nil
	}
	if o.history == nil {
		return worker.Directive{Target: target}, nil, nil
	}
	hist, err := o.history.Lookup(ctx, target, 20)
	if err != nil {
		var se *store.StorageError
		if errors.As(err, &se) {
			return worker.Directive{}, nil, err
		}
		o.logger.Printf("history lookup failed, starting cold: %v", err)
		return worker.Directive{Target: target}, nil, nil
	}
	for _, a := range hist.Exact {
		if a.Status == store.StatusSuccess {
			s, ok := fetch.ParseStrategy(a.Strategy)
			if !ok {
				continue
			}
			return worker.Directive{
				Target:             target,
				StrategyHint:       s,
				ParameterOverrides: fetch.Params(a.Parameters).Clone(),
				Rationale:          "repeating the strategy that last succeeded here",
			}, hist.Advice, nil
		}
	}
	return worker.Directive{Target: target}, hist.Advice, nil
}

// synthesize produces the next novel directive: advisor proposal first when
// wired, policy escalation otherwise. History is re-read each time so prior
// runs' attempts and current advice inform the proposal, not just this run's
// trail. Proposals are resolved to their effective strategy and parameters
// before the repeat check; a proposal that leaves fields unset cannot alias
// an already-tried combination.
func (o *Orchestrator) synthesize(ctx context.Context, req Request, target string, attempts []store.Attempt, last store.Attempt, advice []store.Advice, done tried) (worker.Directive, bool) {
	evidence := attempts
	if o.history != nil {
		hist, herr := o.history.Lookup(ctx, target, 20)
		if herr != nil {
			o.logger.Printf("history lookup failed, continuing with run-local evidence: %v", herr)
		} else {
			advice = hist.Advice
			for _, a := range hist.Exact {
				if a.RunID != last.RunID {
					evidence = append(evidence, a)
				}
			}
		}
	}
	if o.advisor != nil {
		proposal, err := o.advisor.Propose(ctx, req.Intent, target, evidence, advice)
		if err != nil {
			o.logger.Printf("advisor failed, falling back to policy: %v", err)
		} else if s, p := worker.Resolve(proposal, advice, o.fetchCfg); done.seen(s, p) {
			o.logger.Printf("advisor repeated a tried combination, falling back to policy")
		} else {
			proposal.Target = target
			return proposal, true
		}
	}
	return o.policy.next(target, last, done)
}
