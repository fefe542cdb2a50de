package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/mohammad-safakhou/refetch/config"
)

// BrowserProvider drives headless Chrome. The mode selects the action set:
// BROWSER_LOAD renders the page, BROWSER_NAVIGATE follows a sub-path after
// the initial load, BROWSER_SCROLL scrolls to trigger lazy loading.
type BrowserProvider struct {
	mode        Strategy
	userAgent   string
	headless    bool
	scrollDelay time.Duration
	defaultMS   int
	maxChars    int
}

func NewBrowserProvider(cfg config.FetchConfig, mode Strategy) *BrowserProvider {
	return &BrowserProvider{
		mode:        mode,
		userAgent:   cfg.UserAgent,
		headless:    cfg.Headless,
		scrollDelay: cfg.ScrollDelay,
		defaultMS:   cfg.DefaultTimeoutMS,
		maxChars:    cfg.MaxChars,
	}
}

func (b *BrowserProvider) Attempt(ctx context.Context, target string, params Params) (RawResult, error) {
	if strings.TrimSpace(target) == "" {
		return RawResult{}, errors.New("invalid url")
	}
	timeoutMS := params.TimeoutMS(b.defaultMS)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	t0 := time.Now()
	html, err := b.renderHTML(ctx, target, params)
	if err != nil {
		return RawResult{}, b.classify(ctx, target, timeoutMS, err)
	}

	res := RawResult{Target: target, FetchMS: msSince(t0)}
	res.Title, res.Content = extractReadable(target, html)
	res.Content = truncate(res.Content, b.maxChars)
	return res, nil
}

func (b *BrowserProvider) renderHTML(ctx context.Context, target string, params Params) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.headless),
	)
	if b.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.userAgent))
	}
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	waitSel := params.String("wait_condition")
	if waitSel == "" {
		waitSel = "body"
	}

	actions := []chromedp.Action{
		chromedp.Navigate(target),
		chromedp.WaitReady(waitSel, chromedp.ByQuery),
	}

	switch b.mode {
	case BrowserNavigate:
		if path := params.String("follow_path"); path != "" {
			next, err := resolvePath(target, path)
			if err != nil {
				return "", err
			}
			actions = append(actions,
				chromedp.Navigate(next),
				chromedp.WaitReady(waitSel, chromedp.ByQuery),
			)
		}
	case BrowserScroll:
		for i := 0; i < params.ScrollCount(3); i++ {
			actions = append(actions,
				chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil),
				chromedp.Sleep(b.scrollDelay),
			)
		}
	}

	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err := chromedp.Run(bctx, actions...); err != nil {
		return "", err
	}
	return html, nil
}

// classify folds chromedp failures into the provider error taxonomy:
// deadline expiry is a timeout, net::ERR_* page errors are connectivity,
// everything else is a render fault.
func (b *BrowserProvider) classify(ctx context.Context, target string, timeoutMS int, err error) error {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: target, TimeoutMS: timeoutMS, Err: err}
	}
	if strings.Contains(err.Error(), "net::ERR") {
		return &ConnectivityError{URL: target, Err: err}
	}
	return &RenderError{URL: target, Err: err}
}

func resolvePath(base, path string) (string, error) {
	bu, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	return bu.ResolveReference(ref).String(), nil
}
