// Package harvest drives an IdoxPA portal through a portal.Page: it finds
// applications, walks postcode results, scrapes application details and
// paginates comment listings into a comment sink.
package harvest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/planwatch/idgen"
	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
	"github.com/hazyhaar/planwatch/planwatch/internal/store"
	"github.com/hazyhaar/planwatch/retry"
)

// Sink receives every new comment as soon as it is extracted.
type Sink interface {
	Insert(ctx context.Context, c store.Comment) (store.Outcome, error)
}

// Result counts the work of one Loop.Run.
type Result struct {
	Pages      int `json:"pages"`
	Forwarded  int `json:"forwarded"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Count is the number of comments the sink accepted without error, whether
// newly stored or already present.
func (r Result) Count() int { return r.Inserted + r.Duplicates }

// Option customises a Loop or a Crawler.
type Option func(*options)

type options struct {
	sel     portal.Selectors
	sleeper retry.Sleeper
	logger  *slog.Logger
}

// WithSelectors overrides the portal selectors.
func WithSelectors(s portal.Selectors) Option {
	return func(o *options) { o.sel = s.WithDefaults() }
}

// WithSleeper replaces the real-time sleeper.
func WithSleeper(s retry.Sleeper) Option { return func(o *options) { o.sleeper = s } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func buildOptions(opts []Option) options {
	o := options{sel: portal.DefaultSelectors(), sleeper: retry.Wall, logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Loop paginates the comments of one application at a time.
type Loop struct {
	page portal.Page
	sink Sink
	cfg  LoopConfig
	options
}

// NewLoop creates a Loop reading through page and writing to sink.
func NewLoop(page portal.Page, sink Sink, cfg LoopConfig, opts ...Option) *Loop {
	cfg.defaults()
	return &Loop{page: page, sink: sink, cfg: cfg, options: buildOptions(opts)}
}

// Run harvests the comments listed at commentsURL, page 1 upwards, until a
// page stays empty or brings nothing new. Comments are numbered
// "<applicationID>_<n>" in extraction order and handed to the sink one by
// one. A transport failure ends the run; the Result then covers the work
// done before it.
func (l *Loop) Run(ctx context.Context, council, applicationID, commentsURL string) (Result, error) {
	var (
		res        Result
		seen       = make(map[[32]byte]struct{})
		pageNum    = 1
		emptyTries = 0
		rateWaits  = 0
		nextID     = idgen.Sequential(applicationID)
	)
	council = portal.Canonical(council)
	log := l.logger.With("council", council, "application", applicationID)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pageURL, err := portal.WithPage(commentsURL, pageNum)
		if err != nil {
			return res, err
		}

		doc, err := l.fetch(ctx, pageURL)
		if errors.Is(err, portal.ErrRateLimited) {
			rateWaits++
			if rateWaits > l.cfg.MaxRateLimitWaits {
				return res, fmt.Errorf("harvest: %s page %d: %w: %w", applicationID, pageNum, ErrRateLimitCeiling, err)
			}
			log.Warn("harvest: rate limited, cooling down",
				"page", pageNum, "wait", rateWaits, "cooldown", l.cfg.RateLimitCooldown)
			if err := l.sleeper.Sleep(ctx, l.cfg.RateLimitCooldown); err != nil {
				return res, err
			}
			continue
		}
		if err != nil {
			log.Error("harvest: page fetch failed", "page", pageNum, "error", err)
			return res, fmt.Errorf("harvest: %s page %d: %w", applicationID, pageNum, err)
		}

		raws := portal.Comments(doc, l.sel)
		if len(raws) == 0 {
			if emptyTries < l.cfg.EmptyRetries {
				emptyTries++
				wait := l.cfg.EmptyCooldown.Pick()
				log.Info("harvest: empty page, retrying", "page", pageNum, "try", emptyTries, "cooldown", wait)
				if err := l.sleeper.Sleep(ctx, wait); err != nil {
					return res, err
				}
				continue
			}
			log.Info("harvest: no comments, stopping", "page", pageNum, "stored", res.Count())
			return res, nil
		}
		emptyTries = 0
		res.Pages++

		fresh := 0
		for _, raw := range raws {
			text := raw.Text.Or("")
			h := contentHash(applicationID, text)
			if _, dup := seen[h]; dup {
				log.Debug("harvest: run duplicate skipped", "page", pageNum)
				continue
			}
			seen[h] = struct{}{}
			fresh++

			c := store.Comment{
				Council:       council,
				CommentID:     nextID(),
				ApplicationID: applicationID,
				Address:       raw.Address,
				Stance:        raw.Stance,
				Date:          raw.Date,
				Text:          text,
			}
			l.forward(ctx, log, c, &res)
			if err := l.sleeper.Sleep(ctx, l.cfg.CommentDelay.Pick()); err != nil {
				return res, err
			}
		}
		log.Info("harvest: page extracted", "page", pageNum, "comments", len(raws), "new", fresh)

		if fresh == 0 {
			log.Info("harvest: no new comments, stopping", "page", pageNum, "stored", res.Count())
			return res, nil
		}
		pageNum++
		if err := l.sleeper.Sleep(ctx, l.cfg.PageDelay.Pick()); err != nil {
			return res, err
		}
	}
}

// fetch loads one listing page. A page without comment containers is
// checked for the portal's throttling notice.
func (l *Loop) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := l.page.Navigate(ctx, pageURL); err != nil {
		if portal.NavigationRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", portal.ErrRateLimited, err)
		}
		return nil, err
	}
	// Comment containers may never render on an empty page.
	_ = l.page.WaitFor(ctx, l.sel.Comment, l.cfg.CommentWait)
	doc, err := l.page.Document(ctx)
	if err != nil {
		return nil, err
	}
	if portal.CountComments(doc, l.sel) == 0 {
		if err := portal.CheckRateLimit(doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (l *Loop) forward(ctx context.Context, log *slog.Logger, c store.Comment, res *Result) {
	res.Forwarded++
	out, err := l.sink.Insert(ctx, c)
	if err != nil {
		res.Failed++
		log.Warn("harvest: comment not stored", "comment_id", c.CommentID, "error", err)
		return
	}
	switch out {
	case store.OutcomeInserted:
		res.Inserted++
	case store.OutcomeDuplicate:
		res.Duplicates++
	default:
		res.Failed++
	}
}

func contentHash(applicationID, text string) [32]byte {
	h := sha256.New()
	h.Write([]byte(applicationID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
