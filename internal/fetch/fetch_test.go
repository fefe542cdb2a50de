package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mohammad-safakhou/refetch/config"
)

func testFetchConfig() config.FetchConfig {
	cfg := config.FetchConfig{
		UserAgent:        "refetch-test/1.0",
		DefaultTimeoutMS: 2000,
		MaxTimeoutMS:     10000,
		MaxChars:         20000,
	}
	return cfg.Normalize()
}

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"PLAIN_FETCH", true},
		{"BROWSER_LOAD", true},
		{"BROWSER_NAVIGATE", true},
		{"BROWSER_SCROLL", true},
		{"plain_fetch", false},
		{"", false},
		{"CURL", false},
	}
	for _, c := range cases {
		if _, ok := ParseStrategy(c.in); ok != c.ok {
			t.Errorf("ParseStrategy(%q) ok = %v, want %v", c.in, ok, c.ok)
		}
	}
}

func TestParamsTimeoutMS(t *testing.T) {
	cases := []struct {
		name string
		p    Params
		want int
	}{
		{"nil params", nil, 5000},
		{"absent", Params{}, 5000},
		{"int", Params{"timeout_ms": 8000}, 8000},
		{"float from json", Params{"timeout_ms": float64(8000)}, 8000},
		{"zero falls back", Params{"timeout_ms": 0}, 5000},
		{"negative falls back", Params{"timeout_ms": -5}, 5000},
	}
	for _, c := range cases {
		if got := c.p.TimeoutMS(5000); got != c.want {
			t.Errorf("%s: TimeoutMS = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestParamsCloneIsIndependent(t *testing.T) {
	src := Params{"timeout_ms": 1000}
	dup := src.Clone()
	dup["timeout_ms"] = 2000
	if src.TimeoutMS(0) != 1000 {
		t.Fatalf("clone mutated source: %v", src)
	}
}

func TestPlainProviderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "refetch-test/1.0" {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!doctype html><html><head><title>Quarterly Report</title></head>
<body><article><h1>Quarterly Report</h1><p>Revenue grew twelve percent on the back of
strong subscription renewals across every region we operate in today.</p></article></body></html>`))
	}))
	defer srv.Close()

	p := NewPlainProvider(testFetchConfig())
	res, err := p.Attempt(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if res.Content == "" {
		t.Fatal("expected extracted content, got empty")
	}
	if res.Target != srv.URL {
		t.Errorf("target = %q, want %q", res.Target, srv.URL)
	}
}

func TestPlainProviderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewPlainProvider(testFetchConfig())
	_, err := p.Attempt(context.Background(), srv.URL, Params{"timeout_ms": 50})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.TimeoutMS != 50 {
		t.Errorf("TimeoutMS = %d, want 50", te.TimeoutMS)
	}
}

func TestPlainProviderConnectivity(t *testing.T) {
	// Nothing listens here: the port was just released by httptest.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead := srv.URL
	srv.Close()

	p := NewPlainProvider(testFetchConfig())
	_, err := p.Attempt(context.Background(), dead, nil)
	var ce *ConnectivityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectivityError, got %v", err)
	}
}

func TestPlainProviderBlockedIsRenderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewPlainProvider(testFetchConfig())
	_, err := p.Attempt(context.Background(), srv.URL, nil)
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("expected RenderError for 403, got %v", err)
	}
}

func TestPlainProviderTruncatesContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for i := 0; i < 100; i++ {
			w.Write([]byte("0123456789"))
		}
	}))
	defer srv.Close()

	cfg := testFetchConfig()
	cfg.MaxChars = 120
	p := NewPlainProvider(cfg)
	res, err := p.Attempt(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if len(res.Content) != 120 {
		t.Errorf("content length = %d, want 120", len(res.Content))
	}
}

func TestPlainProviderTruncatesOnRuneBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(strings.Repeat("x", 119) + "ééé"))
	}))
	defer srv.Close()

	cfg := testFetchConfig()
	cfg.MaxChars = 120
	p := NewPlainProvider(cfg)
	res, err := p.Attempt(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if !utf8.ValidString(res.Content) {
		t.Errorf("truncated content is not valid UTF-8")
	}
	if want := strings.Repeat("x", 119); res.Content != want {
		t.Errorf("content = %d bytes, want cut back to the last full rune at %d", len(res.Content), len(want))
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(testFetchConfig())
	for _, s := range []Strategy{PlainFetch, BrowserLoad, BrowserNavigate, BrowserScroll} {
		if _, ok := r.Provider(s); !ok {
			t.Errorf("missing provider for %s", s)
		}
	}
	if _, ok := r.Provider(Strategy("CURL")); ok {
		t.Error("unexpected provider for unknown strategy")
	}
}

func TestBrowserClassify(t *testing.T) {
	b := NewBrowserProvider(testFetchConfig(), BrowserLoad)
	ctx := context.Background()

	err := b.classify(ctx, "https://example.com", 1000, errors.New("page load error net::ERR_NAME_NOT_RESOLVED"))
	var ce *ConnectivityError
	if !errors.As(err, &ce) {
		t.Errorf("net::ERR should classify as connectivity, got %T", err)
	}

	err = b.classify(ctx, "https://example.com", 1000, context.DeadlineExceeded)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Errorf("deadline should classify as timeout, got %T", err)
	}

	err = b.classify(ctx, "https://example.com", 1000, errors.New("could not find node"))
	var re *RenderError
	if !errors.As(err, &re) {
		t.Errorf("generic chromedp error should classify as render, got %T", err)
	}
}
