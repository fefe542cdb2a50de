package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/refetch/config"
	"github.com/mohammad-safakhou/refetch/internal/helpers"
)

// PlainProvider performs a single HTTP GET and extracts readable text. No
// script execution, no navigation, no retries.
type PlainProvider struct {
	client    *http.Client
	userAgent string
	defaultMS int
	maxChars  int
}

func NewPlainProvider(cfg config.FetchConfig) *PlainProvider {
	return &PlainProvider{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: cfg.UserAgent,
		defaultMS: cfg.DefaultTimeoutMS,
		maxChars:  cfg.MaxChars,
	}
}

func (p *PlainProvider) Attempt(ctx context.Context, target string, params Params) (RawResult, error) {
	timeoutMS := params.TimeoutMS(p.defaultMS)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return RawResult{}, &ConnectivityError{URL: target, Err: err}
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		return RawResult{}, p.classify(ctx, target, timeoutMS, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		// Anti-automation responses: a browser strategy may still get through.
		return RawResult{}, &RenderError{URL: target, Err: fmt.Errorf("blocked with status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return RawResult{}, fmt.Errorf("http status %d for %s", resp.StatusCode, target)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return RawResult{}, p.classify(ctx, target, timeoutMS, err)
	}

	res := RawResult{Target: target, FetchMS: msSince(started)}
	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "html") || looksLikeHTML(body) {
		res.Title, res.Content = extractReadable(target, string(body))
	} else {
		res.Content = strings.TrimSpace(string(body))
	}
	res.Content = truncate(res.Content, p.maxChars)
	return res, nil
}

func (p *PlainProvider) classify(ctx context.Context, target string, timeoutMS int, err error) error {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: target, TimeoutMS: timeoutMS, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{URL: target, TimeoutMS: timeoutMS, Err: err}
	}
	return &ConnectivityError{URL: target, Err: err}
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 256)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// extractReadable runs readability over raw HTML, returning the title and
// plain text. On extraction failure it returns empty content so the caller
// classifies the attempt as EMPTY rather than failing the fetch.
func extractReadable(target, html string) (title, text string) {
	u, err := url.Parse(target)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(article.Title), strings.TrimSpace(article.TextContent)
}

// truncate cuts extracted text to the configured cap on a rune boundary, so
// a multi-byte character at the cap never leaves the content invalid UTF-8.
func truncate(s string, max int) string {
	return helpers.TruncateUTF8(s, max)
}
