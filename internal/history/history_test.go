package history

import (
	"context"
	"testing"
	"time"

	"github.com/mohammad-safakhou/refetch/internal/store"
)

type fakeSearcher struct {
	byTarget map[string][]store.Attempt
	byDomain map[string][]store.Attempt
	advice   map[string][]store.Advice

	lastTarget string
	lastDomain string
}

func (f *fakeSearcher) SearchAttemptsByTarget(_ context.Context, target string, _ int) ([]store.Attempt, error) {
	f.lastTarget = target
	return f.byTarget[target], nil
}

func (f *fakeSearcher) SearchAttemptsByDomain(_ context.Context, domain string, _ int) ([]store.Attempt, error) {
	f.lastDomain = domain
	return f.byDomain[domain], nil
}

func (f *fakeSearcher) ListAdvice(_ context.Context, domain string) ([]store.Advice, error) {
	return f.advice[domain], nil
}

func att(id, target string, age time.Duration) store.Attempt {
	return store.Attempt{ID: id, Target: target, Domain: "example.com", CreatedAt: time.Now().Add(-age)}
}

func TestLookupFullURL(t *testing.T) {
	exactTarget := "https://example.com/news"
	f := &fakeSearcher{
		byTarget: map[string][]store.Attempt{
			exactTarget: {att("a1", exactTarget, time.Minute)},
		},
		byDomain: map[string][]store.Attempt{
			"example.com": {
				att("a1", exactTarget, time.Minute),
				att("a2", "https://example.com/about", time.Hour),
			},
		},
		advice: map[string][]store.Advice{
			"example.com": {{Domain: "example.com", Text: "strategy=BROWSER_LOAD"}},
		},
	}
	svc := NewService(f)

	res, err := svc.Lookup(context.Background(), "https://Example.com/news?utm_source=feed", 0)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res.Target != "https://example.com/news" {
		t.Errorf("canonical target = %q", res.Target)
	}
	if res.Domain != "example.com" {
		t.Errorf("domain = %q", res.Domain)
	}
	if len(res.Related) != 1 || res.Related[0].ID != "a2" {
		t.Errorf("related should exclude exact target, got %+v", res.Related)
	}
	if len(res.Advice) != 1 {
		t.Errorf("advice missing from result")
	}
}

func TestLookupBareDomain(t *testing.T) {
	f := &fakeSearcher{
		byDomain: map[string][]store.Attempt{
			"example.com": {
				att("a1", "https://example.com/news", time.Minute),
				att("a2", "https://example.com/about", time.Hour),
			},
		},
	}
	svc := NewService(f)

	res, err := svc.Lookup(context.Background(), "www.Example.com", 0)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res.Target != "" {
		t.Errorf("bare-domain result should have no target, got %q", res.Target)
	}
	if f.lastTarget != "" {
		t.Errorf("bare-domain query must not hit the target index")
	}
	if len(res.Related) != 2 {
		t.Errorf("related = %d attempts, want 2", len(res.Related))
	}
	if f.lastDomain != "example.com" {
		t.Errorf("domain normalisation: queried %q", f.lastDomain)
	}
}

func TestLookupEmptyQuery(t *testing.T) {
	svc := NewService(&fakeSearcher{})
	if _, err := svc.Lookup(context.Background(), "  ", 0); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestIsBareDomain(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"example.com", true},
		{"www.example.com", true},
		{"example.com/path", false},
		{"https://example.com", false},
		{"example.com?q=1", false},
	}
	for _, c := range cases {
		if got := isBareDomain(c.in); got != c.want {
			t.Errorf("isBareDomain(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
