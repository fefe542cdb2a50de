package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mohammad-safakhou/refetch/config"
	"github.com/mohammad-safakhou/refetch/internal/fetch"
	"github.com/mohammad-safakhou/refetch/internal/store"
)

type fakeStore struct {
	advice   []store.Advice
	recorded []store.Attempt
	failWith error
}

func (f *fakeStore) RecordAttempt(_ context.Context, a store.Attempt) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	a.ID = "attempt-1"
	f.recorded = append(f.recorded, a)
	return a.ID, nil
}

func (f *fakeStore) ListAdvice(_ context.Context, _ string) ([]store.Advice, error) {
	return f.advice, nil
}

type fakeProvider struct {
	result fetch.RawResult
	err    error
	calls  int
	params fetch.Params
}

func (f *fakeProvider) Attempt(_ context.Context, target string, params fetch.Params) (fetch.RawResult, error) {
	f.calls++
	f.params = params
	if f.err != nil {
		return fetch.RawResult{}, f.err
	}
	res := f.result
	res.Target = target
	return res, f.err
}

func testWorker(st *fakeStore, providers map[fetch.Strategy]fetch.Provider) *Worker {
	reg := fetch.NewEmptyRegistry()
	for s, p := range providers {
		reg.Register(s, p)
	}
	cfg := config.FetchConfig{DefaultTimeoutMS: 15000, MaxTimeoutMS: 120000, MaxChars: 20000}
	return New(st, reg, cfg)
}

func TestRunAttemptSuccess(t *testing.T) {
	st := &fakeStore{}
	fp := &fakeProvider{result: fetch.RawResult{Content: "the quarterly report shows growth"}}
	w := testWorker(st, map[fetch.Strategy]fetch.Provider{fetch.PlainFetch: fp})

	att, err := w.RunAttempt(context.Background(), "run-1", Directive{Target: "Example.com/Report"})
	if err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if att.Status != store.StatusSuccess {
		t.Errorf("status = %s, want SUCCESS", att.Status)
	}
	if att.Target != "https://example.com/Report" {
		t.Errorf("target not canonicalised: %s", att.Target)
	}
	if att.Domain != "example.com" {
		t.Errorf("domain = %s", att.Domain)
	}
	if fp.calls != 1 {
		t.Errorf("provider called %d times, want exactly 1", fp.calls)
	}
	if len(st.recorded) != 1 {
		t.Fatalf("recorded %d attempts, want 1", len(st.recorded))
	}
}

func TestRunAttemptClassification(t *testing.T) {
	cases := []struct {
		name       string
		result     fetch.RawResult
		err        error
		wantStatus string
		wantDetail string
	}{
		{"blank content is EMPTY", fetch.RawResult{Content: "   \n "}, nil, store.StatusEmpty, ""},
		{"timeout error", fetch.RawResult{}, &fetch.TimeoutError{URL: "https://example.com", TimeoutMS: 100}, store.StatusTimeout, "timeout after 100ms"},
		{"connectivity error", fetch.RawResult{}, &fetch.ConnectivityError{URL: "https://example.com", Err: errors.New("refused")}, store.StatusError, "connectivity"},
		{"render error", fetch.RawResult{}, &fetch.RenderError{URL: "https://example.com", Err: errors.New("crash")}, store.StatusError, "render"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			st := &fakeStore{}
			fp := &fakeProvider{result: c.result, err: c.err}
			w := testWorker(st, map[fetch.Strategy]fetch.Provider{fetch.PlainFetch: fp})

			att, err := w.RunAttempt(context.Background(), "run-1", Directive{Target: "example.com"})
			if err != nil {
				t.Fatalf("RunAttempt: %v", err)
			}
			if att.Status != c.wantStatus {
				t.Errorf("status = %s, want %s", att.Status, c.wantStatus)
			}
			if !strings.Contains(att.ErrorDetail, c.wantDetail) {
				t.Errorf("detail = %q, want substring %q", att.ErrorDetail, c.wantDetail)
			}
		})
	}
}

func TestRunAttemptCancelledRecordsError(t *testing.T) {
	st := &fakeStore{}
	fp := &fakeProvider{err: context.Canceled}
	w := testWorker(st, map[fetch.Strategy]fetch.Provider{fetch.PlainFetch: fp})

	att, err := w.RunAttempt(context.Background(), "run-1", Directive{Target: "example.com"})
	if err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if att.Status != store.StatusError || att.ErrorDetail != "cancelled" {
		t.Errorf("got status=%s detail=%q, want ERROR/cancelled", att.Status, att.ErrorDetail)
	}
	if len(st.recorded) != 1 {
		t.Fatalf("cancelled attempt must still be recorded")
	}
}

func TestRunAttemptSummaryTruncation(t *testing.T) {
	st := &fakeStore{}
	fp := &fakeProvider{result: fetch.RawResult{Content: strings.Repeat("x", store.SummaryMaxChars+200)}}
	w := testWorker(st, map[fetch.Strategy]fetch.Provider{fetch.PlainFetch: fp})

	att, err := w.RunAttempt(context.Background(), "run-1", Directive{Target: "example.com"})
	if err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if len(att.ContentSummary) != store.SummaryMaxChars {
		t.Errorf("summary length = %d, want %d", len(att.ContentSummary), store.SummaryMaxChars)
	}
}

func TestRunAttemptSummaryTruncationKeepsValidUTF8(t *testing.T) {
	st := &fakeStore{}
	// A two-byte rune straddles the summary cap.
	content := strings.Repeat("x", store.SummaryMaxChars-1) + strings.Repeat("é", 100)
	fp := &fakeProvider{result: fetch.RawResult{Content: content}}
	w := testWorker(st, map[fetch.Strategy]fetch.Provider{fetch.PlainFetch: fp})

	att, err := w.RunAttempt(context.Background(), "run-1", Directive{Target: "example.com"})
	if err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if !utf8.ValidString(att.ContentSummary) {
		t.Errorf("summary is not valid UTF-8: %q", att.ContentSummary[len(att.ContentSummary)-4:])
	}
	if len(att.ContentSummary) > store.SummaryMaxChars {
		t.Errorf("summary length = %d, want at most %d", len(att.ContentSummary), store.SummaryMaxChars)
	}
	if want := strings.Repeat("x", store.SummaryMaxChars-1); att.ContentSummary != want {
		t.Errorf("summary must end at the last full rune, got %d bytes", len(att.ContentSummary))
	}
}

func TestDirectiveOverridesAdvice(t *testing.T) {
	st := &fakeStore{advice: []store.Advice{
		{Domain: "example.com", Text: "requires js, strategy=BROWSER_LOAD timeout_ms=30000"},
	}}
	fp := &fakeProvider{result: fetch.RawResult{Content: "ok"}}
	w := testWorker(st, map[fetch.Strategy]fetch.Provider{
		fetch.PlainFetch:    &fakeProvider{result: fetch.RawResult{Content: "ok"}},
		fetch.BrowserLoad:   &fakeProvider{result: fetch.RawResult{Content: "ok"}},
		fetch.BrowserScroll: fp,
	})

	att, err := w.RunAttempt(context.Background(), "run-1", Directive{
		Target:             "example.com",
		StrategyHint:       fetch.BrowserScroll,
		ParameterOverrides: fetch.Params{"timeout_ms": 45000},
	})
	if err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if att.Strategy != string(fetch.BrowserScroll) {
		t.Errorf("strategy = %s, directive hint must win over advice", att.Strategy)
	}
	if got := fp.params.TimeoutMS(0); got != 45000 {
		t.Errorf("timeout_ms = %d, directive override must win", got)
	}
}

func TestAdviceSuppliesStrategyWhenDirectiveSilent(t *testing.T) {
	st := &fakeStore{advice: []store.Advice{
		{Domain: "example.com", Text: "content loads via js, strategy=BROWSER_LOAD"},
	}}
	browser := &fakeProvider{result: fetch.RawResult{Content: "rendered"}}
	plain := &fakeProvider{result: fetch.RawResult{Content: "shell"}}
	w := testWorker(st, map[fetch.Strategy]fetch.Provider{
		fetch.PlainFetch:  plain,
		fetch.BrowserLoad: browser,
	})

	att, err := w.RunAttempt(context.Background(), "run-1", Directive{Target: "example.com"})
	if err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if att.Strategy != string(fetch.BrowserLoad) {
		t.Errorf("strategy = %s, advice should pick BROWSER_LOAD when directive is silent", att.Strategy)
	}
	if plain.calls != 0 || browser.calls != 1 {
		t.Errorf("plain=%d browser=%d calls, want 0/1", plain.calls, browser.calls)
	}
}

func TestAdviceBareStrategyToken(t *testing.T) {
	st := &fakeStore{advice: []store.Advice{
		{Domain: "github.com", Text: "use BROWSER_SCROLL scroll_count=5"},
	}}
	scroll := &fakeProvider{result: fetch.RawResult{Content: "full feed"}}
	w := testWorker(st, map[fetch.Strategy]fetch.Provider{
		fetch.PlainFetch:    &fakeProvider{result: fetch.RawResult{Content: "shell"}},
		fetch.BrowserScroll: scroll,
	})

	att, err := w.RunAttempt(context.Background(), "run-1", Directive{Target: "github.com/trending"})
	if err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if att.Strategy != string(fetch.BrowserScroll) {
		t.Errorf("strategy = %s, want BROWSER_SCROLL from advice", att.Strategy)
	}
	if got := scroll.params.ScrollCount(0); got != 5 {
		t.Errorf("scroll_count = %d, want 5 from advice", got)
	}
}

func TestTimeoutClampedToCeiling(t *testing.T) {
	st := &fakeStore{}
	fp := &fakeProvider{result: fetch.RawResult{Content: "ok"}}
	w := testWorker(st, map[fetch.Strategy]fetch.Provider{fetch.PlainFetch: fp})

	_, err := w.RunAttempt(context.Background(), "run-1", Directive{
		Target:             "example.com",
		ParameterOverrides: fetch.Params{"timeout_ms": 999999},
	})
	if err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if got := fp.params.TimeoutMS(0); got != 120000 {
		t.Errorf("timeout_ms = %d, want clamp to 120000", got)
	}
}

func TestStorageFailurePropagates(t *testing.T) {
	st := &fakeStore{failWith: &store.StorageError{Op: "record attempt", Err: errors.New("connection reset")}}
	fp := &fakeProvider{result: fetch.RawResult{Content: "ok"}}
	w := testWorker(st, map[fetch.Strategy]fetch.Provider{fetch.PlainFetch: fp})

	_, err := w.RunAttempt(context.Background(), "run-1", Directive{Target: "example.com"})
	var se *store.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestResolveBareDirectiveGetsDefaults(t *testing.T) {
	cfg := config.FetchConfig{DefaultTimeoutMS: 5000, MaxTimeoutMS: 120000}

	strategy, params := Resolve(Directive{}, nil, cfg)
	if strategy != fetch.PlainFetch {
		t.Errorf("strategy = %s, want PLAIN_FETCH", strategy)
	}
	if got := params.TimeoutMS(0); got != 5000 {
		t.Errorf("timeout_ms = %d, want the configured default", got)
	}

	// A directive that spells out the defaults resolves identically, so the
	// two cannot count as distinct attempts.
	explicit, explicitParams := Resolve(Directive{
		StrategyHint:       fetch.PlainFetch,
		ParameterOverrides: fetch.Params{"timeout_ms": 5000},
	}, nil, cfg)
	if explicit != strategy || explicitParams.TimeoutMS(0) != params.TimeoutMS(0) || len(explicitParams) != len(params) {
		t.Error("bare and spelled-out directives resolved differently")
	}
}

func TestInvalidTargetRejected(t *testing.T) {
	st := &fakeStore{}
	w := testWorker(st, map[fetch.Strategy]fetch.Provider{})
	if _, err := w.RunAttempt(context.Background(), "run-1", Directive{Target: "   "}); err == nil {
		t.Fatal("expected error for blank target")
	}
	if len(st.recorded) != 0 {
		t.Fatal("invalid target must not be recorded")
	}
}
