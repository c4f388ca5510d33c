package geocode

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/planwatch/planwatch/internal/store"
	"github.com/hazyhaar/planwatch/retry"
)

// Updater receives resolved coordinates.
type Updater interface {
	UpdateCoordinates(ctx context.Context, key store.Key, lat, lon float64) (bool, error)
}

// Config bounds the resolver's load on the geocoding service.
type Config struct {
	// Workers is the pool size. Zero derives it from the CPU count, never
	// above Ceiling.
	Workers int `yaml:"workers"`
	// Ceiling caps Workers. Default 4.
	Ceiling int `yaml:"ceiling"`
	// BatchSize is the number of records handed to one pool run.
	BatchSize int `yaml:"batch_size"`
	// Interval is the minimum spacing of one worker's requests.
	Interval retry.Window `yaml:"interval"`
	// BatchPause separates batches.
	BatchPause retry.Window `yaml:"batch_pause"`
	// Retry bounds transient failures of one request.
	Retry retry.Policy `yaml:"retry"`
	// BBox accepts results. Default GreaterLondon.
	BBox      BBox            `yaml:"bbox"`
	Nominatim NominatimConfig `yaml:"nominatim"`
}

func (c *Config) defaults() {
	if c.Ceiling <= 0 {
		c.Ceiling = 4
	}
	if c.Workers <= 0 {
		c.Workers = workerCount(c.Ceiling, runtime.NumCPU())
	}
	c.Workers = min(c.Workers, c.Ceiling)
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.Interval.IsZero() {
		c.Interval = retry.Between(2*time.Second, 3*time.Second)
	}
	if c.BatchPause.IsZero() {
		c.BatchPause = retry.Between(2*time.Second, 5*time.Second)
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Jitter: time.Second, Exponential: true}
	}
	if c.BBox.IsZero() {
		c.BBox = GreaterLondon
	}
}

// workerCount leaves one CPU free and stays within [1, ceiling].
func workerCount(ceiling, cpus int) int {
	return max(1, min(ceiling, cpus-1))
}

// Stats counts the outcome of a Resolve.
type Stats struct {
	Processed   int `json:"processed"`
	Resolved    int `json:"resolved"`
	OutOfBounds int `json:"out_of_bounds"`
	Unresolved  int `json:"unresolved"`
	Failed      int `json:"failed"`
	Written     int `json:"written"`
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithSleeper replaces the real-time sleeper.
func WithSleeper(s retry.Sleeper) Option { return func(r *Resolver) { r.sleeper = s } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// WithClock replaces the clock used for request pacing.
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

// Resolver geocodes comment addresses with a bounded worker pool.
type Resolver struct {
	factory  Factory
	updater  Updater
	cfg      Config
	sleeper  retry.Sleeper
	logger   *slog.Logger
	now      func() time.Time
	progress atomic.Int64
}

// NewResolver creates a Resolver. Each worker gets a Geocoder from factory;
// in-bounds results go to updater.
func NewResolver(factory Factory, updater Updater, cfg Config, opts ...Option) *Resolver {
	cfg.defaults()
	r := &Resolver{
		factory: factory,
		updater: updater,
		cfg:     cfg,
		sleeper: retry.Wall,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Workers returns the effective pool size.
func (r *Resolver) Workers() int { return r.cfg.Workers }

// Progress returns the number of records handled since the Resolver was
// created.
func (r *Resolver) Progress() int64 { return r.progress.Load() }

// Resolve geocodes comments[offset:] in batches and writes in-bounds
// coordinates back. Per-record failures are counted, never returned; the
// error is non-nil only when ctx ends.
func (r *Resolver) Resolve(ctx context.Context, comments []store.Comment, offset int) (Stats, error) {
	offset = max(0, min(offset, len(comments)))
	todo := comments[offset:]
	var (
		mu sync.Mutex
		st Stats
	)
	addresses := make([]string, 0, len(todo))
	for _, c := range todo {
		addresses = append(addresses, c.Address.Or(""))
	}
	r.logger.Info("geocode: resolving", "records", len(todo), "distinct_addresses", len(DistinctAddresses(addresses)),
		"offset", offset, "workers", r.cfg.Workers, "batch_size", r.cfg.BatchSize)

	for start := 0; start < len(todo); start += r.cfg.BatchSize {
		batch := todo[start:min(start+r.cfg.BatchSize, len(todo))]
		if err := r.runBatch(ctx, batch, &mu, &st); err != nil {
			return st, err
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}
		r.logger.Info("geocode: batch done", "done", offset+start+len(batch), "of", len(comments),
			"resolved", st.Resolved, "written", st.Written)
		if start+r.cfg.BatchSize < len(todo) {
			if err := r.sleeper.Sleep(ctx, r.cfg.BatchPause.Pick()); err != nil {
				return st, err
			}
		}
	}
	return st, nil
}

func (r *Resolver) runBatch(ctx context.Context, batch []store.Comment, mu *sync.Mutex, st *Stats) error {
	jobs := make(chan store.Comment)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, c := range batch {
			select {
			case jobs <- c:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for range min(r.cfg.Workers, len(batch)) {
		w := r.newWorker()
		g.Go(func() error {
			for c := range jobs {
				r.handle(gctx, w, c, mu, st)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Resolver) handle(ctx context.Context, w *worker, c store.Comment, mu *sync.Mutex, st *Stats) {
	log := r.logger.With("comment_id", c.CommentID, "application", c.ApplicationID)
	m, err := r.locate(ctx, w, c.Address.Or(""))
	var written bool
	var writeErr error
	if err == nil && m.Found && m.InBounds {
		written, writeErr = r.updater.UpdateCoordinates(ctx, c.Key(), m.Lat, m.Lon)
	}

	mu.Lock()
	st.Processed++
	switch {
	case err != nil:
		st.Failed++
		log.Warn("geocode: address failed", "attempts", m.Attempts, "error", err)
	case !m.Found:
		st.Unresolved++
		log.Debug("geocode: address unresolved", "attempts", m.Attempts)
	case !m.InBounds:
		st.OutOfBounds++
		log.Info("geocode: result outside bounding box", "query", m.Query, "lat", m.Lat, "lon", m.Lon,
			"km_from_centre", int(Distance(r.cfg.BBox.Centre(), m.Point)))
	default:
		st.Resolved++
		if writeErr != nil {
			st.Failed++
			log.Warn("geocode: coordinate write failed", "error", writeErr)
		} else if written {
			st.Written++
		}
	}
	mu.Unlock()

	n := r.progress.Add(1)
	log.Debug("geocode: record handled", "progress", n)
}

// worker is the per-goroutine geocoding state: its own client and its own
// request pacing.
type worker struct {
	g    Geocoder
	last time.Time
}

func (r *Resolver) newWorker() *worker { return &worker{g: r.factory()} }

// pace waits until the worker's minimum request interval has elapsed.
func (r *Resolver) pace(ctx context.Context, w *worker) error {
	if w.last.IsZero() {
		return nil
	}
	wait := r.cfg.Interval.Pick() - r.now().Sub(w.last)
	if wait <= 0 {
		return nil
	}
	return r.sleeper.Sleep(ctx, wait)
}

// Locate geocodes one address with g, widening the query from the last
// token towards the full address. An empty address makes no request.
func (r *Resolver) Locate(ctx context.Context, g Geocoder, address string) (Match, error) {
	return r.locate(ctx, &worker{g: g}, address)
}

var addressSentinels = map[string]bool{"": true, "none": true, "nan": true, "null": true}

func (r *Resolver) locate(ctx context.Context, w *worker, address string) (Match, error) {
	var m Match
	a := ParseAddress(address)
	if addressSentinels[strings.ToLower(a.Full)] {
		return m, nil
	}
	var queries []string
	if a.Postcode != "" {
		queries = append(queries, a.Postcode)
	}
	tokens := strings.Fields(a.Full)
	for k := 1; k <= len(tokens); k++ {
		q := strings.Join(tokens[len(tokens)-k:], " ")
		if q != a.Postcode {
			queries = append(queries, q)
		}
	}
	for _, q := range queries {
		m.Attempts++
		p, found, err := r.query(ctx, w, q)
		if err != nil {
			return m, err
		}
		if found {
			m.Point, m.Query, m.Found = p, q, true
			m.InBounds = r.cfg.BBox.Contains(p)
			return m, nil
		}
	}
	return m, nil
}

// query sends one request, retrying transient failures with backoff.
func (r *Resolver) query(ctx context.Context, w *worker, q string) (Point, bool, error) {
	var (
		p     Point
		found bool
	)
	err := retry.Do(ctx, r.cfg.Retry, r.sleeper,
		func(err error) bool { return errors.Is(err, ErrTransient) },
		func(int) error {
			if err := r.pace(ctx, w); err != nil {
				return err
			}
			var err error
			p, found, err = w.g.Geocode(ctx, q)
			w.last = r.now()
			return err
		})
	return p, found, err
}
