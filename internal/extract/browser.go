package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/time/rate"

	"stockwatch/internal/catalog"
	"stockwatch/pkg/logx"
)

const (
	DefaultPageTimeout   = 15 * time.Second
	DefaultDetailRetries = 3
	DefaultRatePerSec    = 1
	DefaultJitter        = 600 * time.Millisecond

	// emptyPageLimit consecutive empty or failed collection pages end the walk.
	emptyPageLimit = 2
)

// BrowserConfig configures the rod-backed extractor.
type BrowserConfig struct {
	CollectionURL string
	Headless      bool
	// RemoteURL connects to an existing Chrome DevTools endpoint instead of launching one.
	RemoteURL     string
	UserAgent     string
	PageTimeout   time.Duration
	MaxPages      int // 0 = until two empty pages
	DetailRetries int
	RatePerSec    int
	Jitter        time.Duration // random pause before each detail page; negative disables
}

func (c BrowserConfig) withDefaults() BrowserConfig {
	if c.PageTimeout <= 0 {
		c.PageTimeout = DefaultPageTimeout
	}
	if c.DetailRetries <= 0 {
		c.DetailRetries = DefaultDetailRetries
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	switch {
	case c.Jitter == 0:
		c.Jitter = DefaultJitter
	case c.Jitter < 0:
		c.Jitter = 0
	}
	return c
}

// navigator is the slice of a browser tab the crawl needs.
type navigator interface {
	Visit(ctx context.Context, pageURL string) error
	EvalString(ctx context.Context, js string) (string, error)
}

// Browser walks a collection with headless Chrome.
type Browser struct {
	cfg     BrowserConfig
	log     logx.Logger
	limiter *rate.Limiter
	now     func() time.Time
	pause   func(ctx context.Context) error
}

func NewBrowser(cfg BrowserConfig, log logx.Logger) *Browser {
	cfg = cfg.withDefaults()
	b := &Browser{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "extract")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		now:     time.Now,
	}
	b.pause = b.jitter
	return b
}

// Extract launches (or connects to) Chrome and crawls the collection.
func (b *Browser) Extract(ctx context.Context) ([]Result, error) {
	if strings.TrimSpace(b.cfg.CollectionURL) == "" {
		return nil, errors.New("extract: collection url not configured")
	}
	tab, closeFn, err := b.open(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return b.crawl(ctx, tab)
}

func (b *Browser) open(ctx context.Context) (*rodTab, func(), error) {
	var (
		wsURL string
		lnch  *launcher.Launcher
	)
	if b.cfg.RemoteURL != "" {
		wsURL = b.cfg.RemoteURL
	} else {
		lnch = launcher.New().Headless(b.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := lnch.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("extract: launch chrome: %w", err)
		}
		wsURL = u
	}

	browser := rod.New().ControlURL(wsURL).Context(ctx)
	cleanup := func() {
		_ = browser.Close()
		if lnch != nil {
			lnch.Cleanup()
		}
	}
	if err := browser.Connect(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("extract: connect chrome: %w", err)
	}

	page, err := stealth.Page(browser)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("extract: open tab: %w", err)
	}
	if ua := strings.TrimSpace(b.cfg.UserAgent); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua, AcceptLanguage: "en-US"}); err != nil {
			b.log.Warn("set user agent failed", logx.Err(err))
		}
	}
	b.log.Info("browser ready", logx.Bool("remote", b.cfg.RemoteURL != ""), logx.Bool("headless", b.cfg.Headless))
	return &rodTab{page: page, timeout: b.cfg.PageTimeout}, cleanup, nil
}

// crawl walks collection pages until emptyPageLimit consecutive pages yield
// no links (or MaxPages), then reads each product page once.
func (b *Browser) crawl(ctx context.Context, nav navigator) ([]Result, error) {
	base, err := url.Parse(b.cfg.CollectionURL)
	if err != nil {
		return nil, fmt.Errorf("extract: collection url: %w", err)
	}

	var (
		results []Result
		seen    = map[string]struct{}{}
		empty   int
		loaded  int
	)
	for n := 1; b.cfg.MaxPages <= 0 || n <= b.cfg.MaxPages; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageURL := PageURL(b.cfg.CollectionURL, n)
		links, err := b.collectionLinks(ctx, nav, pageURL, base)
		if err != nil {
			b.log.Warn("collection page failed", logx.String("url", pageURL), logx.Err(err))
		} else {
			loaded++
		}
		b.log.Info("collection page", logx.Int("page", n), logx.Int("links", len(links)))
		if len(links) == 0 {
			empty++
			if empty >= emptyPageLimit {
				break
			}
			continue
		}
		empty = 0

		for _, href := range links {
			if _, ok := seen[href]; ok {
				continue
			}
			seen[href] = struct{}{}
			res, err := b.detail(ctx, nav, href)
			if err != nil {
				return nil, err
			}
			results = append(results, res)
		}
	}
	if loaded == 0 {
		return nil, fmt.Errorf("extract: no collection page could be loaded from %s", b.cfg.CollectionURL)
	}
	return results, nil
}

func (b *Browser) collectionLinks(ctx context.Context, nav navigator, pageURL string, base *url.URL) ([]string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := nav.Visit(ctx, pageURL); err != nil {
		return nil, err
	}
	raw, err := nav.EvalString(ctx, linksScript)
	if err != nil {
		return nil, err
	}
	var hrefs []string
	if err := json.Unmarshal([]byte(raw), &hrefs); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}
	return ProductLinks(hrefs, base), nil
}

// detail reads one product page with retries. Only context cancellation is
// returned as an error; everything else ends up in the Result.
func (b *Browser) detail(ctx context.Context, nav navigator, href string) (Result, error) {
	lastErr := ErrNoTitle
	for attempt := 1; attempt <= b.cfg.DetailRetries; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
		if err := b.pause(ctx); err != nil {
			return Result{}, err
		}
		v, err := b.readDetail(ctx, nav, href)
		if err == nil {
			return Result{Variant: v, URL: href}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		lastErr = err
		b.log.Debug("detail attempt failed",
			logx.String("url", href),
			logx.Int("attempt", attempt),
			logx.Err(err),
		)
	}
	b.log.Warn("detail page failed", logx.String("url", href), logx.Err(lastErr))
	return Result{URL: href, Err: lastErr}, nil
}

func (b *Browser) readDetail(ctx context.Context, nav navigator, href string) (catalog.Variant, error) {
	if err := nav.Visit(ctx, href); err != nil {
		return catalog.Variant{}, err
	}
	raw, err := nav.EvalString(ctx, detailScript)
	if err != nil {
		return catalog.Variant{}, err
	}
	b.log.Trace("detail page read", logx.String("url", href), logx.Int("bytes", len(raw)))
	d, err := decodePageData(raw)
	if err != nil {
		return catalog.Variant{}, fmt.Errorf("decode detail: %w", err)
	}
	v, ok := parseDetail(d, href, b.now())
	if !ok {
		return catalog.Variant{}, ErrNoTitle
	}
	return v, nil
}

func (b *Browser) jitter(ctx context.Context) error {
	if b.cfg.Jitter <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(rand.N(b.cfg.Jitter))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type rodTab struct {
	page    *rod.Page
	timeout time.Duration
}

func (t *rodTab) Visit(ctx context.Context, pageURL string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	p := t.page.Context(ctx)
	if err := p.Navigate(pageURL); err != nil {
		return fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", pageURL, err)
	}
	return nil
}

func (t *rodTab) EvalString(ctx context.Context, js string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.page.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}
