package harvest

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
)

// Crawler resolves applications on a portal and scrapes their details. Like
// the Loop it drives a single page and is not safe for concurrent use.
type Crawler struct {
	page portal.Page
	cfg  CrawlerConfig
	options
}

// NewCrawler creates a Crawler over page.
func NewCrawler(page portal.Page, cfg CrawlerConfig, opts ...Option) *Crawler {
	cfg.defaults()
	return &Crawler{page: page, cfg: cfg, options: buildOptions(opts)}
}

// FindApplication submits ref in the site's advanced search and returns the
// URL of the application's summary tab. A missing search field or summary
// tab yields ErrApplicationNotFound.
func (c *Crawler) FindApplication(ctx context.Context, site portal.Site, ref string) (string, error) {
	log := c.logger.With("council", site.Council, "reference", ref)
	if err := c.page.Navigate(ctx, site.SearchURL()); err != nil {
		return "", fmt.Errorf("harvest: open search for %s: %w", ref, err)
	}
	if err := c.page.WaitFor(ctx, c.sel.ReferenceInput, c.cfg.WaitTimeout); err != nil {
		log.Warn("harvest: reference field missing", "error", err)
		return "", fmt.Errorf("%w: %s: reference field: %w", ErrApplicationNotFound, ref, err)
	}
	if err := c.page.Type(ctx, c.sel.ReferenceInput, ref); err != nil {
		return "", fmt.Errorf("%w: %s: submit: %w", ErrApplicationNotFound, ref, err)
	}
	if err := c.sleeper.Sleep(ctx, c.cfg.SubmitDelay.Pick()); err != nil {
		return "", err
	}
	if err := c.page.WaitFor(ctx, c.sel.SummaryTab, c.cfg.WaitTimeout); err != nil {
		log.Warn("harvest: summary tab missing", "error", err)
		return "", fmt.Errorf("%w: %s: summary tab: %w", ErrApplicationNotFound, ref, err)
	}
	if err := c.page.Click(ctx, c.sel.SummaryTab); err != nil {
		return "", fmt.Errorf("%w: %s: open summary: %w", ErrApplicationNotFound, ref, err)
	}
	url := c.page.URL()
	log.Info("harvest: application found", "url", url)
	if err := c.sleeper.Sleep(ctx, c.cfg.SettleDelay.Pick()); err != nil {
		return url, err
	}
	return url, nil
}

// SearchPostcode runs the site's simple search for postcode and returns the
// application links of every result page, in page order. The walk follows
// the "next" control until it is absent or disabled, and stops early if a
// results page repeats.
func (c *Crawler) SearchPostcode(ctx context.Context, site portal.Site, postcode string) ([]string, error) {
	log := c.logger.With("council", site.Council, "postcode", postcode)
	if err := c.page.Navigate(ctx, site.SimpleSearchURL()); err != nil {
		return nil, fmt.Errorf("harvest: open postcode search: %w", err)
	}
	if err := c.page.WaitFor(ctx, c.sel.SimpleSearch, c.cfg.WaitTimeout); err != nil {
		return nil, fmt.Errorf("harvest: postcode search field: %w", err)
	}
	if err := c.page.Type(ctx, c.sel.SimpleSearch, postcode); err != nil {
		return nil, fmt.Errorf("harvest: submit postcode %s: %w", postcode, err)
	}

	var links []string
	visited := make(map[string]bool)
	for pages := 1; ; pages++ {
		if err := c.sleeper.Sleep(ctx, c.cfg.SettleDelay.Pick()); err != nil {
			return links, err
		}
		current := c.page.URL()
		doc, err := c.page.Document(ctx)
		if err != nil {
			return links, fmt.Errorf("harvest: read results page %d: %w", pages, err)
		}
		found := portal.Links(doc, c.sel.ResultLink, current)
		// Some portals page by POST, so the URL alone does not identify a page.
		key := current + "\n" + strings.Join(found, "\n")
		if visited[key] {
			log.Warn("harvest: results page repeated, stopping", "url", current, "page", pages)
			break
		}
		visited[key] = true
		links = append(links, found...)
		log.Debug("harvest: results page collected", "page", pages, "links", len(found), "total", len(links))

		if !portal.NextPage(doc, c.sel.NextPage) {
			break
		}
		if pages >= c.cfg.MaxResultPages {
			log.Warn("harvest: result page cap reached", "pages", pages)
			break
		}
		if err := c.page.Click(ctx, c.sel.NextPage); err != nil {
			return links, fmt.Errorf("harvest: next results page after %d: %w", pages, err)
		}
	}
	log.Info("harvest: postcode search complete", "links", len(links))
	return links, nil
}

// CommentCount reads the comment count shown on the comments tab of the
// application at url. ok is false when the tab or its count is missing.
func (c *Crawler) CommentCount(ctx context.Context, url string) (n int, ok bool, err error) {
	if err := c.page.Navigate(ctx, url); err != nil {
		return 0, false, fmt.Errorf("harvest: open %s: %w", url, err)
	}
	if err := c.page.WaitFor(ctx, c.sel.CommentsTab, c.cfg.WaitTimeout); err != nil {
		return 0, false, nil
	}
	doc, err := c.page.Document(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("harvest: read %s: %w", url, err)
	}
	n, ok = portal.TabCount(doc, c.sel.CommentsTab)
	return n, ok, nil
}

// HasComments reports whether the application at url shows a positive
// comment count. Any failure to read the count counts as no comments.
func (c *Crawler) HasComments(ctx context.Context, url string) bool {
	n, ok, err := c.CommentCount(ctx, url)
	if err != nil {
		c.logger.Warn("harvest: comment count unavailable", "url", url, "error", err)
		return false
	}
	return ok && n > 0
}

// Reference reads the case number shown on the application page at url.
func (c *Crawler) Reference(ctx context.Context, url string) (string, error) {
	if err := c.page.Navigate(ctx, url); err != nil {
		return "", fmt.Errorf("harvest: open %s: %w", url, err)
	}
	if err := c.sleeper.Sleep(ctx, c.cfg.SettleDelay.Pick()); err != nil {
		return "", err
	}
	doc, err := c.page.Document(ctx)
	if err != nil {
		return "", fmt.Errorf("harvest: read %s: %w", url, err)
	}
	ref := strings.TrimSpace(doc.Find(c.sel.CaseNumber).First().Text())
	if ref == "" {
		return "", fmt.Errorf("%w: no case number at %s", ErrApplicationNotFound, url)
	}
	return ref, nil
}
