// Package headless renders pages in headless Chrome for sites whose listing
// markup is assembled by JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultWaitSelector      = "body"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxTabs caps concurrently open browser tabs; 0 means unlimited.
	MaxTabs           int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector is the element that must be ready before the DOM is captured.
	WaitSelector string
	// Settle is an extra pause after WaitSelector is ready.
	Settle time.Duration
}

// Fetcher implements crawler.Fetcher using chromedp.
type Fetcher struct {
	cfg         Config
	tabs        chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New starts an exec allocator for headless Chrome. The browser process is
// launched lazily on the first Fetch.
func New(cfg Config) (*Fetcher, error) {
	if cfg.MaxTabs < 0 {
		return nil, errors.New("max tabs must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = defaultWaitSelector
	}
	var tabs chan struct{}
	if cfg.MaxTabs > 0 {
		tabs = make(chan struct{}, cfg.MaxTabs)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		tabs:        tabs,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() error {
	f.allocCancel()
	return nil
}

// Fetch renders request.URL and returns the serialized DOM. The status code
// and headers come from the main document response.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.acquireTab(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer f.releaseTab()

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	// Tie the tab to the caller's deadline as well as the navigation timeout.
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	html, location, err := f.render(tabCtx, request)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("headless render: %w", ctx.Err())
		}
		return crawler.FetchResponse{}, err
	}

	status, headers, finalURL := doc.result(request.URL, location)
	return crawler.FetchResponse{
		URL:        finalURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

func (f *Fetcher) render(ctx context.Context, request crawler.FetchRequest) (string, string, error) {
	var html, location string
	actions := []chromedp.Action{
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
	}
	if f.cfg.Settle > 0 {
		actions = append(actions, chromedp.Sleep(f.cfg.Settle))
	}
	actions = append(actions,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, location, nil
}

func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(networkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquireTab(ctx context.Context) error {
	if f.tabs == nil {
		return nil
	}
	select {
	case f.tabs <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for browser tab: %w", ctx.Err())
	}
}

func (f *Fetcher) releaseTab() {
	if f.tabs == nil {
		return
	}
	<-f.tabs
}

// documentResponse keeps the last main-document response seen by a tab.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
	d.mu.Unlock()
}

// result falls back to the browser location, then the requested URL, and
// assumes 200 when no document response was observed.
func (d *documentResponse) result(requestURL, location string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	url := d.url
	if url == "" {
		url = location
	}
	if url == "" {
		url = requestURL
	}
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
