// Package portaltest provides an in-memory portal.Page backed by HTML
// fixtures, for tests that drive the harvester without a browser.
package portaltest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
)

const blank = "<html><head></head><body></body></html>"

// Fake serves fixed HTML per URL. Each Navigate to a URL consumes the next
// document of its sequence; the last one keeps being served. Unknown URLs
// render an empty page.
type Fake struct {
	mu       sync.Mutex
	pages    map[string][]string
	served   map[string]int
	navErrs  map[string][]error
	onType   map[string]func(text string) string
	current  string
	html     string
	visits   []string
	typed    []string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		pages:   make(map[string][]string),
		served:  make(map[string]int),
		navErrs: make(map[string][]error),
		onType:  make(map[string]func(string) string),
		html:    blank,
	}
}

// Serve registers the documents returned for url, in order.
func (f *Fake) Serve(url string, html ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = append(f.pages[url], html...)
	return f
}

// FailNext queues errors returned by the next navigations to url, before
// any document is served.
func (f *Fake) FailNext(url string, errs ...error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navErrs[url] = append(f.navErrs[url], errs...)
	return f
}

// OnType registers what happens when text is typed into selector and Enter
// is pressed: the returned URL is navigated to.
func (f *Fake) OnType(selector string, submit func(text string) string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onType[selector] = submit
	return f
}

// Visits lists every successful navigation in order.
func (f *Fake) Visits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.visits...)
}

// VisitCount counts successful navigations to url.
func (f *Fake) VisitCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.visits {
		if v == url {
			n++
		}
	}
	return n
}

// Typed lists the text submitted through Type.
func (f *Fake) Typed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.typed...)
}

// Navigate implements portal.Page.
func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.navigateLocked(url)
}

func (f *Fake) navigateLocked(url string) error {
	if errs := f.navErrs[url]; len(errs) > 0 {
		f.navErrs[url] = errs[1:]
		return errs[0]
	}
	f.current = url
	f.visits = append(f.visits, url)
	seq := f.pages[url]
	if len(seq) == 0 {
		f.html = blank
		return nil
	}
	i := f.served[url]
	if i >= len(seq) {
		i = len(seq) - 1
	}
	f.served[url]++
	f.html = seq[i]
	return nil
}

// URL implements portal.Page.
func (f *Fake) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Document implements portal.Page.
func (f *Fake) Document(ctx context.Context) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	html := f.html
	f.mu.Unlock()
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// Type implements portal.Page. The selector must exist on the current page
// and have an OnType handler.
func (f *Fake) Type(ctx context.Context, selector, text string) error {
	if err := f.require(ctx, selector); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed = append(f.typed, text)
	submit, ok := f.onType[selector]
	if !ok {
		return nil
	}
	return f.navigateLocked(submit(text))
}

// Click implements portal.Page. Clicking an element with an href navigates
// to it, resolved against the current URL.
func (f *Fake) Click(ctx context.Context, selector string) error {
	if err := f.require(ctx, selector); err != nil {
		return err
	}
	doc, err := f.Document(ctx)
	if err != nil {
		return err
	}
	href, ok := doc.Find(selector).First().Attr("href")
	if !ok || href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	base, _ := url.Parse(f.current)
	return f.navigateLocked(portal.Resolve(base, href))
}

// WaitFor implements portal.Page without waiting: the selector either
// matches the current document or the call fails.
func (f *Fake) WaitFor(ctx context.Context, selector string, _ time.Duration) error {
	return f.require(ctx, selector)
}

func (f *Fake) require(ctx context.Context, selector string) error {
	doc, err := f.Document(ctx)
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %s", portal.ErrElementNotFound, selector)
	}
	return nil
}

var _ portal.Page = (*Fake)(nil)
