package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/config"
	"github.com/openclaw/partnerforge/internal/locate"
)

const urlPollInterval = 250 * time.Millisecond

// Page exposes the primitives a workflow stage needs against the run's single
// browser tab. Every operation re-queries the live DOM through the handle's
// selector; no element references are retained between calls.
type Page struct {
	browserCtx context.Context
	cfg        *config.Config
	logger     *zap.Logger
	resolver   *locate.Resolver

	mu      sync.Mutex
	pending map[string]OriginState // origin -> storage not yet seeded
}

var _ locate.Prober = (*Page)(nil)

func newPage(browserCtx context.Context, cfg *config.Config, logger *zap.Logger) *Page {
	p := &Page{
		browserCtx: browserCtx,
		cfg:        cfg,
		logger:     logger.Named("page"),
		pending:    make(map[string]OriginState),
	}
	p.resolver = locate.NewResolver(p, cfg.Network.ElementTimeout, logger)
	return p
}

// op derives a context that honors the browser lifetime, the caller's
// cancellation, and an optional timeout, while retaining the chromedp
// executor carried by the browser context.
func (p *Page) op(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	combined, cancelCombined := combineContext(p.browserCtx, ctx)
	if timeout <= 0 {
		return combined, cancelCombined
	}
	opCtx, cancelOp := context.WithTimeout(combined, timeout)
	return opCtx, func() {
		cancelOp()
		cancelCombined()
	}
}

// combineContext derives a child of parentCtx that is additionally cancelled
// when secondaryCtx ends. parentCtx must be the chromedp context so its
// executor survives in the child.
func combineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parentCtx)
	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// Navigate loads a URL, waits for the document body, applies the configured
// settle delay, and seeds any pending web storage for the landed origin.
func (p *Page) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := p.op(ctx, p.cfg.Network.NavigationTimeout)
	defer cancel()

	p.logger.Debug("Navigating", zap.String("url", url))
	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if navCtx.Err() != nil {
			return fmt.Errorf("navigation to %q: %w", url, context.DeadlineExceeded)
		}
		return fmt.Errorf("navigation to %q failed: %w", url, err)
	}

	// The console animates panel transitions; a short settle keeps the next
	// query from racing the route change.
	if p.cfg.Network.PostLoadWait > 0 {
		select {
		case <-time.After(p.cfg.Network.PostLoadWait):
		case <-navCtx.Done():
			return navCtx.Err()
		}
	}

	p.seedStorageIfPending(navCtx)
	return nil
}

// CurrentURL returns the page's current location.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	opCtx, cancel := p.op(ctx, 10*time.Second)
	defer cancel()

	var url string
	if err := chromedp.Run(opCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read current URL: %w", err)
	}
	return url, nil
}

// WaitForURLMatch polls the location until it matches pattern or the timeout
// lapses. The last observed URL is returned either way; on timeout the error
// wraps context.DeadlineExceeded.
func (p *Page) WaitForURLMatch(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	opCtx, cancel := p.op(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(urlPollInterval)
	defer ticker.Stop()

	var last string
	for {
		var url string
		if err := chromedp.Run(opCtx, chromedp.Location(&url)); err == nil {
			last = url
			if pattern.MatchString(url) {
				return url, nil
			}
		}

		select {
		case <-ticker.C:
		case <-opCtx.Done():
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, fmt.Errorf("URL did not match %q within %s (last %q): %w",
				pattern.String(), timeout, last, context.DeadlineExceeded)
		}
	}
}

// Snapshot returns the serialized current document for classification.
func (p *Page) Snapshot(ctx context.Context) (string, error) {
	opCtx, cancel := p.op(ctx, 15*time.Second)
	defer cancel()

	var html string
	if err := chromedp.Run(opCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to snapshot page: %w", err)
	}
	return html, nil
}

// Resolve finds the first matching locator strategy for a logical target.
func (p *Page) Resolve(ctx context.Context, target locate.Target) (locate.Handle, error) {
	return p.resolver.Resolve(ctx, target)
}

// ProbeVisible implements locate.Prober with a single live-DOM query: the
// strategy matches only an attached element with a nonzero box that is not
// display:none or visibility:hidden.
func (p *Page) ProbeVisible(ctx context.Context, s locate.Strategy) (bool, error) {
	opCtx, cancel := combineContext(p.browserCtx, ctx)
	defer cancel()

	var visible bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(visibilityExpr(s), &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

// Click clicks the resolved element.
func (p *Page) Click(ctx context.Context, h locate.Handle) error {
	opCtx, cancel := p.op(ctx, p.cfg.Network.ElementTimeout)
	defer cancel()

	if err := chromedp.Run(opCtx, chromedp.Click(h.Selector, queryOpt(h), chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("failed to click %q: %w", h.Target, err)
	}
	return nil
}

// SetValue clears the element and types the value with key events, so rich
// widgets observe real input rather than a mutated value attribute.
func (p *Page) SetValue(ctx context.Context, h locate.Handle, value string) error {
	opCtx, cancel := p.op(ctx, p.cfg.Network.ElementTimeout)
	defer cancel()

	err := chromedp.Run(opCtx,
		chromedp.Focus(h.Selector, queryOpt(h)),
		chromedp.SetValue(h.Selector, "", queryOpt(h)),
		chromedp.SendKeys(h.Selector, value, queryOpt(h)),
	)
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", h.Target, err)
	}
	return nil
}

// ReadValue reads the element's current value property.
func (p *Page) ReadValue(ctx context.Context, h locate.Handle) (string, error) {
	opCtx, cancel := p.op(ctx, p.cfg.Network.ElementTimeout)
	defer cancel()

	var value string
	if err := chromedp.Run(opCtx, chromedp.Value(h.Selector, &value, queryOpt(h))); err != nil {
		return "", fmt.Errorf("failed to read %q: %w", h.Target, err)
	}
	return value, nil
}

// Text reads the element's visible text content.
func (p *Page) Text(ctx context.Context, h locate.Handle) (string, error) {
	opCtx, cancel := p.op(ctx, p.cfg.Network.ElementTimeout)
	defer cancel()

	var text string
	if err := chromedp.Run(opCtx, chromedp.Text(h.Selector, &text, queryOpt(h))); err != nil {
		return "", fmt.Errorf("failed to read text of %q: %w", h.Target, err)
	}
	return text, nil
}

// IsChecked reports the checked state of a toggle or checkbox.
func (p *Page) IsChecked(ctx context.Context, h locate.Handle) (bool, error) {
	return p.evalBool(ctx, h, fmt.Sprintf(`(() => { const el = %s; return !!(el && el.checked); })()`, lookupExpr(h)))
}

// SetChecked drives a toggle to the wanted state, clicking only when needed.
func (p *Page) SetChecked(ctx context.Context, h locate.Handle, want bool) error {
	current, err := p.IsChecked(ctx, h)
	if err != nil {
		return err
	}
	if current == want {
		return nil
	}
	return p.Click(ctx, h)
}

// IsEnabled reports whether the element accepts interaction.
func (p *Page) IsEnabled(ctx context.Context, h locate.Handle) (bool, error) {
	return p.evalBool(ctx, h, fmt.Sprintf(`(() => { const el = %s; return !!el && !el.disabled && el.getAttribute('aria-disabled') !== 'true'; })()`, lookupExpr(h)))
}

// InputValues returns the value of every input-like field on the page, used
// as the last-resort scan for a generated link.
func (p *Page) InputValues(ctx context.Context) ([]string, error) {
	opCtx, cancel := p.op(ctx, p.cfg.Network.ElementTimeout)
	defer cancel()

	var values []string
	expr := `Array.from(document.querySelectorAll('input, textarea')).map(el => el.value || '')`
	if err := chromedp.Run(opCtx, chromedp.Evaluate(expr, &values)); err != nil {
		return nil, fmt.Errorf("failed to collect input values: %w", err)
	}
	return values, nil
}

// Screenshot captures the viewport to the configured directory, keyed by
// label. Failures are logged and never propagate: diagnostics must not fail
// a run.
func (p *Page) Screenshot(ctx context.Context, label string) {
	if !p.cfg.Screenshots.Enabled {
		return
	}

	opCtx, cancel := p.op(ctx, 15*time.Second)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(opCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		p.logger.Warn("Screenshot capture failed", zap.String("label", label), zap.Error(err))
		return
	}

	if err := os.MkdirAll(p.cfg.Screenshots.Dir, 0o755); err != nil {
		p.logger.Warn("Screenshot directory unavailable", zap.Error(err))
		return
	}
	name := fmt.Sprintf("%s-%s.png", time.Now().UTC().Format("20060102T150405"), label)
	path := filepath.Join(p.cfg.Screenshots.Dir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		p.logger.Warn("Screenshot write failed", zap.String("path", path), zap.Error(err))
		return
	}
	p.logger.Debug("Screenshot captured", zap.String("path", path))
}

func (p *Page) evalBool(ctx context.Context, h locate.Handle, expr string) (bool, error) {
	opCtx, cancel := p.op(ctx, p.cfg.Network.ElementTimeout)
	defer cancel()

	var out bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(expr, &out)); err != nil {
		return false, fmt.Errorf("failed to evaluate state of %q: %w", h.Target, err)
	}
	return out, nil
}

// -- Deferred web-storage seeding --

func (p *Page) setPendingOrigins(origins []OriginState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range origins {
		if o.Origin != "" {
			p.pending[o.Origin] = o
		}
	}
}

// seedStorageIfPending writes the captured storage maps once the page is on
// a matching origin.
func (p *Page) seedStorageIfPending(ctx context.Context) {
	origin := p.currentOrigin(ctx)
	if origin == "" {
		return
	}

	p.mu.Lock()
	state, ok := p.pending[origin]
	if ok {
		delete(p.pending, origin)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	expr := storageSeedExpr(state)
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, nil)); err != nil {
		p.logger.Debug("Failed to seed web storage", zap.String("origin", origin), zap.Error(err))
		return
	}
	p.logger.Debug("Web storage seeded",
		zap.String("origin", origin),
		zap.Int("local", len(state.LocalStorage)),
		zap.Int("session", len(state.SessionStorage)))
}

func (p *Page) currentOrigin(ctx context.Context) string {
	var url string
	if err := chromedp.Run(ctx, chromedp.Location(&url)); err != nil {
		return ""
	}
	return originOf(url)
}

func (p *Page) captureOriginStorage(ctx context.Context, origin string) (OriginState, error) {
	out := OriginState{Origin: origin}
	var result struct {
		Local   map[string]string `json:"local"`
		Session map[string]string `json:"session"`
	}
	expr := `({local: {...localStorage}, session: {...sessionStorage}})`
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &result)); err != nil {
		return out, err
	}
	out.LocalStorage = result.Local
	out.SessionStorage = result.Session
	return out, nil
}

// -- JS expression builders --

func queryOpt(h locate.Handle) chromedp.QueryOption {
	if h.By == locate.ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// lookupExpr yields a JS expression evaluating to the strategy's element or null.
func lookupExpr(h locate.Handle) string {
	q := strconv.Quote(h.Selector)
	if h.By == locate.ByXPath {
		return fmt.Sprintf(`document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`, q)
	}
	return fmt.Sprintf(`document.querySelector(%s)`, q)
}

func visibilityExpr(s locate.Strategy) string {
	lookup := lookupExpr(locate.Handle{By: s.By, Selector: s.Selector})
	return fmt.Sprintf(`(() => {
		const el = %s;
		if (!el || !el.isConnected) return false;
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	})()`, lookup)
}

// storageSeedExpr builds the JS that replays captured storage entries.
func storageSeedExpr(state OriginState) string {
	expr := "(() => {"
	for k, v := range state.LocalStorage {
		expr += fmt.Sprintf("localStorage.setItem(%s, %s);", strconv.Quote(k), strconv.Quote(v))
	}
	for k, v := range state.SessionStorage {
		expr += fmt.Sprintf("sessionStorage.setItem(%s, %s);", strconv.Quote(k), strconv.Quote(v))
	}
	return expr + "})()"
}
