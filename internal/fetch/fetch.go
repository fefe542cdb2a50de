// Package fetch contains the capability providers that physically execute a
// single retrieval attempt. Providers never retry internally: retry policy
// belongs to the orchestrator.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/refetch/config"
)

// Strategy identifies one capability provider variant.
type Strategy string

const (
	PlainFetch      Strategy = "PLAIN_FETCH"
	BrowserLoad     Strategy = "BROWSER_LOAD"
	BrowserNavigate Strategy = "BROWSER_NAVIGATE"
	BrowserScroll   Strategy = "BROWSER_SCROLL"
)

// ParseStrategy resolves a stored or user-supplied strategy name.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case PlainFetch, BrowserLoad, BrowserNavigate, BrowserScroll:
		return Strategy(s), true
	}
	return "", false
}

// Params carries per-attempt scalar parameters (timeout_ms, wait_condition,
// scroll_count, follow_path, ...).
type Params map[string]interface{}

// TimeoutMS reads the timeout_ms parameter, falling back to def.
func (p Params) TimeoutMS(def int) int {
	if p == nil {
		return def
	}
	switch v := p["timeout_ms"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}

// ScrollCount reads the scroll_count parameter, falling back to def.
func (p Params) ScrollCount(def int) int {
	if p == nil {
		return def
	}
	switch v := p["scroll_count"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}

// String reads a string parameter, empty when absent.
func (p Params) String(key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}

// Clone returns a shallow copy so callers can layer overrides without
// mutating the source.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RawResult is the normalized outcome of one provider call.
type RawResult struct {
	Target  string
	Title   string
	Content string
	FetchMS int
}

// ConnectivityError covers DNS failures, refused connections and other
// network-level faults.
type ConnectivityError struct {
	URL string
	Err error
}

func (e *ConnectivityError) Error() string { return fmt.Sprintf("connectivity: %s: %v", e.URL, e.Err) }
func (e *ConnectivityError) Unwrap() error { return e.Err }

// TimeoutError indicates the attempt exceeded its timeout_ms budget.
type TimeoutError struct {
	URL       string
	TimeoutMS int
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %dms: %s", e.TimeoutMS, e.URL)
}
func (e *TimeoutError) Unwrap() error { return e.Err }

// RenderError indicates the browser automation crashed or the target blocked
// it.
type RenderError struct {
	URL string
	Err error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render: %s: %v", e.URL, e.Err) }
func (e *RenderError) Unwrap() error { return e.Err }

// Provider executes exactly one attempt against a target.
type Provider interface {
	Attempt(ctx context.Context, target string, params Params) (RawResult, error)
}

// Registry maps strategies to providers. Keeping the mapping as explicit data
// keeps the orchestrator's escalation order decoupled from provider wiring.
type Registry struct {
	providers map[Strategy]Provider
}

// NewRegistry wires the built-in providers from config.
func NewRegistry(cfg config.FetchConfig) *Registry {
	cfg = cfg.Normalize()
	r := &Registry{providers: make(map[Strategy]Provider)}
	r.Register(PlainFetch, NewPlainProvider(cfg))
	r.Register(BrowserLoad, NewBrowserProvider(cfg, BrowserLoad))
	r.Register(BrowserNavigate, NewBrowserProvider(cfg, BrowserNavigate))
	r.Register(BrowserScroll, NewBrowserProvider(cfg, BrowserScroll))
	return r
}

// NewEmptyRegistry returns a registry with no providers, for tests that
// install fakes.
func NewEmptyRegistry() *Registry {
	return &Registry{providers: make(map[Strategy]Provider)}
}

// Register installs or replaces the provider for a strategy.
func (r *Registry) Register(s Strategy, p Provider) {
	r.providers[s] = p
}

// Provider returns the provider registered for a strategy.
func (r *Registry) Provider(s Strategy) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[s]
	return p, ok
}

// Strategies returns the registered strategies in escalation-cost order.
func (r *Registry) Strategies() []Strategy {
	var out []Strategy
	for _, s := range []Strategy{PlainFetch, BrowserLoad, BrowserScroll, BrowserNavigate} {
		if _, ok := r.providers[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func msSince(t0 time.Time) int {
	return int(time.Since(t0) / time.Millisecond)
}
