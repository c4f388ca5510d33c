package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
)

// Tab is one stealth Chrome tab. It implements portal.Page.
type Tab struct {
	page    *rod.Page
	router  *rod.HijackRouter
	mgr     *Manager
	timeout time.Duration
}

var _ portal.Page = (*Tab)(nil)

// OpenTab creates a blank stealth tab with resource blocking applied.
func (m *Manager) OpenTab() (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{page: page, mgr: m, timeout: m.cfg.NavigateTimeout}
	if len(m.cfg.ResourceBlocking) > 0 {
		t.router = blockResources(page, m.cfg.ResourceBlocking)
	}
	return t, nil
}

// Navigate implements portal.Page. An HTTP 429 document status is
// reported as portal.ErrRateLimited.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	p := t.page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		t.mgr.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	if status := t.documentStatus(navCtx); status == 429 {
		return fmt.Errorf("%w: navigate %s: status 429", portal.ErrRateLimited, url)
	}
	return nil
}

// documentStatus reads the HTTP status of the loaded document, 0 if unknown.
func (t *Tab) documentStatus(ctx context.Context) int {
	res, err := t.page.Context(ctx).Eval(`() => {
		const nav = performance.getEntriesByType("navigation")[0];
		return nav && nav.responseStatus ? nav.responseStatus : 0;
	}`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

// URL implements portal.Page.
func (t *Tab) URL() string {
	info, err := t.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Document implements portal.Page.
func (t *Tab) Document(ctx context.Context) (*goquery.Document, error) {
	html, err := t.page.Context(ctx).HTML()
	if err != nil {
		return nil, fmt.Errorf("browser: read DOM: %w", err)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// Type implements portal.Page: it clears the input, types text and presses
// Enter, then waits for the resulting navigation.
func (t *Tab) Type(ctx context.Context, selector, text string) error {
	el, err := t.find(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("browser: select %s: %w", selector, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("browser: input %s: %w", selector, err)
	}
	return t.whileNavigating(ctx, func() error { return el.Type(input.Enter) })
}

// Click implements portal.Page and waits for a navigation it triggers.
func (t *Tab) Click(ctx context.Context, selector string) error {
	el, err := t.find(ctx, selector)
	if err != nil {
		return err
	}
	return t.whileNavigating(ctx, func() error { return el.Click(proto.InputMouseButtonLeft, 1) })
}

// WaitFor implements portal.Page.
func (t *Tab) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := t.page.Context(wctx).Element(selector); err != nil {
		return fmt.Errorf("%w: %s: %w", portal.ErrElementNotFound, selector, err)
	}
	return nil
}

func (t *Tab) find(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := t.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %s: %w", selector, err)
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", portal.ErrElementNotFound, selector)
	}
	return el.Context(ctx), nil
}

// whileNavigating runs action and waits, within the navigation timeout, for
// the page load it may trigger. Actions that do not navigate simply time out
// the wait.
func (t *Tab) whileNavigating(ctx context.Context, action func() error) error {
	navCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	wait := t.page.Context(navCtx).WaitNavigation(proto.PageLifecycleEventNameLoad)
	if err := action(); err != nil {
		return fmt.Errorf("browser: action: %w", err)
	}
	wait()
	return ctx.Err()
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
	}
	if t.page != nil {
		return t.page.Close()
	}
	return nil
}
