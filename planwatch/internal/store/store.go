// Package store persists planning comments with at-most-one row per
// (comment_id, application_id). One Store is bound to one deployment
// environment; every environment shares the same schema on SQLite or
// PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/planwatch/dbopen"
	"github.com/hazyhaar/planwatch/idgen"
	"github.com/hazyhaar/planwatch/retry"
)

// Config configures a Store.
type Config struct {
	// Env names the deployment environment ("dev", "prod", ...).
	Env string `yaml:"-"`
	// Driver is dbopen.SQLite or dbopen.Postgres.
	Driver string `yaml:"driver"`
	// DSN is a file path for SQLite or a connection string for PostgreSQL.
	DSN string `yaml:"dsn"`
	// BusyTimeout is the SQLite busy_timeout in milliseconds. Default 10000.
	BusyTimeout int `yaml:"busy_timeout_ms"`
	// MaxOpenConns caps the connection pool; 0 leaves it unbounded.
	MaxOpenConns int `yaml:"max_open_conns"`
	// Insert bounds retries of non-duplicate insert failures.
	Insert retry.Policy `yaml:"insert_retry"`
}

func (c *Config) defaults() {
	if c.Driver == "" {
		c.Driver = dbopen.SQLite
	}
	if c.Insert.MaxAttempts == 0 {
		c.Insert.MaxAttempts = 3
	}
	if c.Insert.BaseDelay == 0 {
		c.Insert.BaseDelay = 2 * time.Second
	}
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// WithSleeper replaces the sleeper used between insert retries.
func WithSleeper(sl retry.Sleeper) Option { return func(s *Store) { s.sleeper = sl } }

// WithIDGenerator replaces the generator of missing comment ids.
func WithIDGenerator(g idgen.Generator) Option { return func(s *Store) { s.newID = g } }

// WithClock replaces the source of add_date.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// Store is the comment table of one environment.
type Store struct {
	db      *sql.DB
	env     string
	driver  string
	policy  retry.Policy
	logger  *slog.Logger
	sleeper retry.Sleeper
	newID   idgen.Generator
	now     func() time.Time
	owned   bool
}

// Open connects to the environment's database. The schema is not created;
// call EnsureSchema.
func Open(cfg Config, opts ...Option) (*Store, error) {
	cfg.defaults()
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: env %q: %w", cfg.Env, ErrNoConnection)
	}
	var dbOpts []dbopen.Option
	dbOpts = append(dbOpts, dbopen.WithDriver(cfg.Driver))
	if cfg.Driver == dbopen.SQLite {
		dbOpts = append(dbOpts, dbopen.WithMkdirAll())
		if cfg.BusyTimeout > 0 {
			dbOpts = append(dbOpts, dbopen.WithBusyTimeout(cfg.BusyTimeout))
		}
	}
	if cfg.MaxOpenConns > 0 {
		dbOpts = append(dbOpts, dbopen.WithMaxOpenConns(cfg.MaxOpenConns))
	}
	db, err := dbopen.Open(cfg.DSN, dbOpts...)
	if err != nil {
		return nil, fmt.Errorf("store: env %q: %w: %w", cfg.Env, ErrNoConnection, err)
	}
	s := New(db, cfg, opts...)
	s.owned = true
	return s, nil
}

// New wraps an open database. The caller keeps ownership of db.
func New(db *sql.DB, cfg Config, opts ...Option) *Store {
	cfg.defaults()
	s := &Store{
		db:      db,
		env:     cfg.Env,
		driver:  cfg.Driver,
		policy:  cfg.Insert,
		logger:  slog.Default(),
		sleeper: retry.Wall,
		newID:   idgen.Default,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Env returns the environment name.
func (s *Store) Env() string { return s.env }

// Driver returns the database driver name.
func (s *Store) Driver() string { return s.driver }

// Close closes the database if Open created it.
func (s *Store) Close() error {
	if s == nil || s.db == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return ErrNoConnection
	}
	return nil
}

// q adapts a ?-placeholder query to the store's driver.
func (s *Store) q(query string) string { return dbopen.Rebind(s.driver, query) }

// EnsureSchema creates the comments table and its indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, Schema(s.driver)); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	s.logger.Debug("store: schema ensured", "env", s.env, "driver", s.driver)
	return nil
}

// TableExists reports whether the comments table exists.
func (s *Store) TableExists(ctx context.Context) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var query string
	if s.driver == dbopen.Postgres {
		query = `SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = ?`
	} else {
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.q(query), TableName).Scan(&n); err != nil {
		return false, fmt.Errorf("store: table exists: %w", err)
	}
	return n > 0, nil
}
