// Package planwatch wires the harvester, the comment store and the geocoder
// into one service. Harvest operations share a single browser page and run
// one at a time; reads and maintenance go straight to the store.
package planwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/planwatch/planwatch/internal/browser"
	"github.com/hazyhaar/planwatch/planwatch/internal/geocode"
	"github.com/hazyhaar/planwatch/planwatch/internal/harvest"
	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
	"github.com/hazyhaar/planwatch/planwatch/internal/store"
	"github.com/hazyhaar/planwatch/retry"
)

// Filter selects stored comments; see Store().Read.
type Filter = store.Filter

// CommentsTable is the name of the comments table in every environment.
const CommentsTable = store.TableName

// PageOpener hands out the browser page harvest operations drive. release
// is called once the operation is done with the page.
type PageOpener func(ctx context.Context) (page portal.Page, release func() error, err error)

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithSleeper replaces the real-time sleeper of every pacing delay.
func WithSleeper(sl retry.Sleeper) Option { return func(s *Service) { s.sleeper = sl } }

// WithPageOpener replaces the Chrome-backed page source.
func WithPageOpener(o PageOpener) Option { return func(s *Service) { s.openPage = o } }

// WithGeocoder replaces the Nominatim geocoder factory.
func WithGeocoder(f geocode.Factory) Option { return func(s *Service) { s.geocoder = f } }

// WithStore makes the service write to st instead of opening the configured
// environment. The caller keeps ownership of st.
func WithStore(st *store.Store) Option { return func(s *Service) { s.store = st } }

// Service is the planwatch orchestrator.
type Service struct {
	cfg      Config
	store    *store.Store
	ownStore bool
	openPage PageOpener
	geocoder geocode.Factory
	sleeper  retry.Sleeper
	logger   *slog.Logger

	// mu serialises harvest operations on the shared page.
	mu sync.Mutex

	browser     *browser.Manager
	browserUp   bool
	stopBrowser context.CancelFunc
}

// HarvestReport is the outcome of harvesting one application.
type HarvestReport struct {
	Council       string `json:"council"`
	ApplicationID string `json:"application_id"`
	URL           string `json:"url"`
	// Skipped is set when the store already held every comment the portal
	// listed and the application was not re-read.
	Skipped bool `json:"skipped"`
	harvest.Result
}

// New creates a Service and ensures the comments table of its environment.
func New(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	cfg.defaults()
	s := &Service{
		cfg:     cfg,
		sleeper: retry.Wall,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.store == nil {
		st, err := s.OpenStore(cfg.Environment)
		if err != nil {
			return nil, err
		}
		s.store = st
		s.ownStore = true
	}
	if err := s.store.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if s.openPage == nil {
		bcfg := cfg.Browser
		if bcfg.Logger == nil {
			bcfg.Logger = s.logger
		}
		s.browser = browser.NewManager(bcfg)
		s.openPage = s.browserPage
	}
	if s.geocoder == nil {
		s.geocoder = geocode.NominatimFactory(cfg.Geocode.Nominatim)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Store returns the store of the service's environment.
func (s *Service) Store() *store.Store { return s.store }

// OpenStore opens the store of env. The caller closes it.
func (s *Service) OpenStore(env string) (*store.Store, error) {
	sc, err := s.cfg.StoreConfig(env)
	if err != nil {
		return nil, err
	}
	return store.Open(sc, store.WithLogger(s.logger), store.WithSleeper(s.sleeper))
}

// Close releases the browser and the store.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopBrowser != nil {
		s.stopBrowser()
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("planwatch: browser close", "error", err)
		}
	}
	if s.ownStore {
		return s.store.Close()
	}
	return nil
}

// browserPage starts Chrome on first use and opens a fresh tab. Called with
// s.mu held.
func (s *Service) browserPage(ctx context.Context) (portal.Page, func() error, error) {
	if !s.browserUp {
		bctx, cancel := context.WithCancel(context.Background())
		if err := s.browser.Start(bctx); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("planwatch: start browser: %w", err)
		}
		s.stopBrowser = cancel
		s.browserUp = true
	}
	tab, err := s.browser.OpenTab()
	if err != nil {
		return nil, nil, err
	}
	return tab, tab.Close, nil
}

func (s *Service) withPage(ctx context.Context, fn func(portal.Page) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, release, err := s.openPage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			s.logger.Debug("planwatch: release page", "error", err)
		}
	}()
	return fn(page)
}

func (s *Service) harvestOptions() []harvest.Option {
	return []harvest.Option{
		harvest.WithSelectors(s.cfg.Selectors),
		harvest.WithSleeper(s.sleeper),
		harvest.WithLogger(s.logger),
	}
}

// HarvestApplicationComments finds applicationID on council's portal and
// stores every comment it lists.
func (s *Service) HarvestApplicationComments(ctx context.Context, council, applicationID string) (HarvestReport, error) {
	site, err := s.cfg.Site(council)
	if err != nil {
		return HarvestReport{}, err
	}
	var rep HarvestReport
	err = s.withPage(ctx, func(p portal.Page) error {
		c := harvest.NewCrawler(p, s.cfg.Details, s.harvestOptions()...)
		summary, err := c.FindApplication(ctx, site, applicationID)
		if err != nil {
			rep = HarvestReport{Council: site.Council, ApplicationID: applicationID}
			return err
		}
		rep, err = s.harvestAt(ctx, p, c, site, applicationID, summary)
		return err
	})
	return rep, err
}

// HarvestKeyVal harvests the application with the portal's internal key
// keyVal. The application reference is read from its summary page.
func (s *Service) HarvestKeyVal(ctx context.Context, council, keyVal string) (HarvestReport, error) {
	site, err := s.cfg.Site(council)
	if err != nil {
		return HarvestReport{}, err
	}
	var rep HarvestReport
	err = s.withPage(ctx, func(p portal.Page) error {
		c := harvest.NewCrawler(p, s.cfg.Details, s.harvestOptions()...)
		summary := site.DetailsURL(keyVal)
		ref, err := c.Reference(ctx, summary)
		if err != nil {
			rep = HarvestReport{Council: site.Council, URL: summary}
			return err
		}
		rep, err = s.harvestAt(ctx, p, c, site, ref, summary)
		return err
	})
	return rep, err
}

// HarvestPostcodeApplications returns the URL of every application listed
// for postcode on council's portal. A well-formed postcode is searched in
// its canonical "E15 4HT" spelling.
func (s *Service) HarvestPostcodeApplications(ctx context.Context, council, postcode string) ([]string, error) {
	site, err := s.cfg.Site(council)
	if err != nil {
		return nil, err
	}
	postcode = geocode.NormalisePostcode(postcode)
	var links []string
	err = s.withPage(ctx, func(p portal.Page) error {
		c := harvest.NewCrawler(p, s.cfg.Details, s.harvestOptions()...)
		links, err = c.SearchPostcode(ctx, site, postcode)
		return err
	})
	return links, err
}

// HarvestPostcode harvests the comments of every application listed for
// postcode that shows at least one comment. A failing application is
// logged and skipped; the reports cover the applications attempted.
func (s *Service) HarvestPostcode(ctx context.Context, council, postcode string) ([]HarvestReport, error) {
	links, err := s.HarvestPostcodeApplications(ctx, council, postcode)
	if err != nil {
		return nil, err
	}
	site, err := s.cfg.Site(council)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("council", site.Council, "postcode", geocode.NormalisePostcode(postcode))
	var reports []HarvestReport
	err = s.withPage(ctx, func(p portal.Page) error {
		c := harvest.NewCrawler(p, s.cfg.Details, s.harvestOptions()...)
		for _, link := range links {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !c.HasComments(ctx, link) {
				log.Debug("planwatch: no comments, skipping", "url", link)
				continue
			}
			ref, err := c.Reference(ctx, link)
			if err != nil {
				log.Warn("planwatch: application unreadable", "url", link, "error", err)
				continue
			}
			rep, err := s.harvestAt(ctx, p, c, site, ref, link)
			reports = append(reports, rep)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("planwatch: harvest failed", "reference", ref, "error", err)
			}
		}
		return nil
	})
	return reports, err
}

// harvestAt runs the comment loop for the application whose summary tab is
// at summary.
func (s *Service) harvestAt(ctx context.Context, p portal.Page, c *harvest.Crawler, site portal.Site, ref, summary string) (HarvestReport, error) {
	rep := HarvestReport{Council: site.Council, ApplicationID: ref, URL: summary}
	log := s.logger.With("council", site.Council, "application", ref)
	if s.cfg.Harvest.SkipComplete {
		done, err := s.complete(ctx, c, site.Council, ref, summary)
		if err != nil {
			return rep, err
		}
		if done {
			log.Info("planwatch: application already complete, skipping")
			rep.Skipped = true
			return rep, nil
		}
	}
	commentsURL, err := portal.WithTab(summary, portal.TabComments)
	if err != nil {
		return rep, fmt.Errorf("planwatch: comments tab of %s: %w", ref, err)
	}
	loop := harvest.NewLoop(p, s.store, s.cfg.Harvest.LoopConfig, s.harvestOptions()...)
	rep.Result, err = loop.Run(ctx, site.Council, ref, commentsURL)
	log.Info("planwatch: harvest finished", "pages", rep.Pages, "inserted", rep.Inserted,
		"duplicates", rep.Duplicates, "failed", rep.Failed)
	return rep, err
}

// complete reports whether the store holds at least as many comments for
// the application as its comments tab shows. An unreadable count is never
// complete.
func (s *Service) complete(ctx context.Context, c *harvest.Crawler, council, ref, summary string) (bool, error) {
	exists, err := s.store.ExistsFor(ctx, council, ref)
	if err != nil || !exists {
		return false, err
	}
	shown, ok, err := c.CommentCount(ctx, summary)
	if err != nil || !ok {
		return false, err
	}
	stored, err := s.store.CountFor(ctx, council, ref)
	if err != nil {
		return false, err
	}
	return stored >= shown, nil
}

// ScrapeApplicationDetails reads the details of every application URL, one
// record per URL in input order.
func (s *Service) ScrapeApplicationDetails(ctx context.Context, council string, urls []string) ([]harvest.Application, error) {
	site, err := s.cfg.Site(council)
	if err != nil {
		return nil, err
	}
	var apps []harvest.Application
	err = s.withPage(ctx, func(p portal.Page) error {
		c := harvest.NewCrawler(p, s.cfg.Details, s.harvestOptions()...)
		s.logger.Info("planwatch: scraping details", "council", site.Council, "urls", len(urls))
		apps = c.ScrapeDetails(ctx, urls)
		return nil
	})
	return apps, err
}

// ResolveCoordinates geocodes the stored comments of council (all councils
// when empty) that have an address and no coordinates yet, skipping the
// first offset of them.
func (s *Service) ResolveCoordinates(ctx context.Context, council string, offset int) (geocode.Stats, error) {
	pending, err := s.store.Read(ctx, store.Filter{
		Council:            council,
		MissingCoordinates: true,
		WithAddress:        true,
	})
	if err != nil {
		return geocode.Stats{}, err
	}
	r := geocode.NewResolver(s.geocoder, s.store, s.cfg.Geocode,
		geocode.WithSleeper(s.sleeper), geocode.WithLogger(s.logger))
	s.logger.Info("planwatch: resolving coordinates", "council", council,
		"pending", len(pending), "offset", offset, "workers", r.Workers())
	return r.Resolve(ctx, pending, offset)
}

// Sync copies the comments of environment from into environment to.
func (s *Service) Sync(ctx context.Context, from, to string) (store.SyncStats, error) {
	if from == to {
		return store.SyncStats{}, fmt.Errorf("planwatch: sync %s onto itself", from)
	}
	src, err := s.envStore(from)
	if err != nil {
		return store.SyncStats{}, err
	}
	defer src.release()
	dst, err := s.envStore(to)
	if err != nil {
		return store.SyncStats{}, err
	}
	defer dst.release()
	return store.Sync(ctx, src.Store, dst.Store)
}

type borrowed struct {
	*store.Store
	release func()
}

// envStore returns the service's own store for its environment and opens
// any other.
func (s *Service) envStore(env string) (borrowed, error) {
	if env == s.store.Env() {
		return borrowed{Store: s.store, release: func() {}}, nil
	}
	st, err := s.OpenStore(env)
	if err != nil {
		return borrowed{}, err
	}
	return borrowed{Store: st, release: func() { st.Close() }}, nil
}
