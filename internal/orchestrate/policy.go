package orchestrate

import (
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/refetch/config"
	"github.com/mohammad-safakhou/refetch/internal/fetch"
	"github.com/mohammad-safakhou/refetch/internal/store"
	"github.com/mohammad-safakhou/refetch/internal/worker"
)

// escalationOrder ranks strategies by cost. Policy escalates along this
// order; it never de-escalates within a run.
var escalationOrder = []fetch.Strategy{
	fetch.PlainFetch,
	fetch.BrowserLoad,
	fetch.BrowserScroll,
	fetch.BrowserNavigate,
}

func nextInOrder(s fetch.Strategy) (fetch.Strategy, bool) {
	for i, cur := range escalationOrder {
		if cur == s && i+1 < len(escalationOrder) {
			return escalationOrder[i+1], true
		}
	}
	return "", false
}

// directiveKey fingerprints a strategy/parameter combination. json.Marshal
// sorts map keys, and both int and float64 render the same digits, so keys
// built from fresh params and from stored (JSON round-tripped) params agree.
func directiveKey(strategy string, params map[string]interface{}) string {
	if params == nil {
		params = map[string]interface{}{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", params))
	}
	return strategy + "|" + string(b)
}

// tried holds the fingerprints of every strategy/parameter combination
// already executed in a run. It enforces monotonic exploration.
type tried map[string]struct{}

func (t tried) add(strategy string, params map[string]interface{}) {
	t[directiveKey(strategy, params)] = struct{}{}
}

func (t tried) seen(strategy fetch.Strategy, params fetch.Params) bool {
	_, ok := t[directiveKey(string(strategy), params)]
	return ok
}

// policy synthesises the next directive from the last attempt's outcome.
// Every rule is data over the escalation order plus parameter adjustments;
// the returned directive is guaranteed novel against the tried set, or
// ok=false when the run has nothing new left to do.
type policy struct {
	defaultTimeoutMS int
	maxTimeoutMS     int
}

func newPolicy(cfg config.FetchConfig) policy {
	return policy{defaultTimeoutMS: cfg.DefaultTimeoutMS, maxTimeoutMS: cfg.MaxTimeoutMS}
}

func (p policy) next(target string, last store.Attempt, done tried) (worker.Directive, bool) {
	lastStrategy, _ := fetch.ParseStrategy(last.Strategy)
	lastParams := fetch.Params(last.Parameters)

	var candidates []worker.Directive

	switch last.Status {
	case store.StatusTimeout:
		// Same strategy with a doubled budget, until the cap.
		t := lastParams.TimeoutMS(p.defaultTimeoutMS) * 2
		if t > p.maxTimeoutMS {
			t = p.maxTimeoutMS
		}
		params := lastParams.Clone()
		params["timeout_ms"] = t
		candidates = append(candidates, worker.Directive{
			Target:             target,
			StrategyHint:       lastStrategy,
			ParameterOverrides: params,
			Rationale:          fmt.Sprintf("timed out, retrying with timeout_ms=%d", t),
		})

	case store.StatusEmpty:
		if lastStrategy == fetch.PlainFetch {
			candidates = append(candidates, worker.Directive{
				Target:             target,
				StrategyHint:       fetch.BrowserLoad,
				ParameterOverrides: lastParams.Clone(),
				Rationale:          "empty without script execution, rendering in a browser",
			})
		} else {
			// A rendered page with no content usually lazy-loads.
			scrolls := lastParams.ScrollCount(0)*2 + 3
			params := lastParams.Clone()
			params["scroll_count"] = scrolls
			candidates = append(candidates, worker.Directive{
				Target:             target,
				StrategyHint:       fetch.BrowserScroll,
				ParameterOverrides: params,
				Rationale:          fmt.Sprintf("rendered page was empty, scrolling %d times", scrolls),
			})
		}
	}

	// Fallback: walk up the escalation order from the last strategy.
	for s := lastStrategy; ; {
		next, ok := nextInOrder(s)
		if !ok {
			break
		}
		candidates = append(candidates, worker.Directive{
			Target:             target,
			StrategyHint:       next,
			ParameterOverrides: lastParams.Clone(),
			Rationale:          fmt.Sprintf("escalating from %s to %s", s, next),
		})
		s = next
	}

	for _, c := range candidates {
		if !done.seen(c.StrategyHint, c.ParameterOverrides) {
			return c, true
		}
	}
	return worker.Directive{}, false
}
