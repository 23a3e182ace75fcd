// Package store persists cached beste.schule entities with bun and turns every
// read into a continuous query that re-runs after each committed write.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-vplan-cache/internal/logging"
	"github.com/goliatone/go-vplan-cache/internal/watch"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config selects the database the store runs on.
type Config struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Debug logs every query at debug level.
	Debug bool `yaml:"debug"`
}

// Store owns one table per entity kind plus the credential records.
type Store struct {
	db  *bun.DB
	hub *watch.Hub
	log zerolog.Logger

	Years       *Table[Year]
	Intervals   *Table[Interval]
	Subjects    *Table[Subject]
	Teachers    *Table[Teacher]
	Collections *Table[Collection]
	Grades      *Table[Grade]
	FinalGrades *Table[FinalGrade]
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithHub shares a notification hub with other writers.
func WithHub(hub *watch.Hub) Option {
	return func(s *Store) {
		if hub != nil {
			s.hub = hub
		}
	}
}

// Open connects to the configured database and returns a bun handle.
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	var db *bun.DB

	switch cfg.Driver {
	case DriverSQLite, "":
		sqldb, err := sql.Open(DriverSQLite, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// sqlite serialises writers anyway; one connection keeps in-memory
		// databases alive and avoids SQLITE_BUSY between readers and writers
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		sqldb, err := sql.Open(DriverPostgres, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	if cfg.Debug {
		db.AddQueryHook(queryLogger{log: logging.Component("sql")})
	}
	return db, nil
}

// New builds a Store on db. Call Migrate before first use.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		hub: watch.NewHub(),
		log: logging.Component("store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Years = newTable[Year](s, "years")
	s.Intervals = newTable[Interval](s, "intervals")
	s.Intervals.hydrate = s.loadIntervalAccounts
	s.Intervals.afterUpsert = s.saveIntervalAccounts
	s.Subjects = newTable[Subject](s, "subjects")
	s.Teachers = newTable[Teacher](s, "teachers")
	s.Collections = newTable[Collection](s, "collections")
	s.Grades = newTable[Grade](s, "grades")
	// the selection is a local decision; refreshes only set it on new grades
	s.Grades.keep = map[string]bool{"selected_for_final_grade": true}
	s.FinalGrades = newTable[FinalGrade](s, "final_grades")
	return s
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*Year)(nil),
		(*Interval)(nil),
		(*IntervalAccount)(nil),
		(*Subject)(nil),
		(*Teacher)(nil),
		(*Collection)(nil),
		(*Grade)(nil),
		(*FinalGrade)(nil),
		(*Credential)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		model  any
		name   string
		column string
	}{
		{(*Grade)(nil), "grades_account_id_idx", "account_id"},
		{(*Collection)(nil), "collections_subject_id_idx", "subject_id"},
		{(*Interval)(nil), "intervals_year_id_idx", "year_id"},
		{(*IntervalAccount)(nil), "interval_accounts_account_id_idx", "account_id"},
	}
	for _, idx := range indexes {
		_, err := s.db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.column).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Hub returns the hub commits are published on.
func (s *Store) Hub() *watch.Hub {
	return s.hub
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// driver names the database for go-repository-bun's error mappers.
func (s *Store) driver() string {
	if s.db.Dialect().Name() == dialect.PG {
		return DriverPostgres
	}
	return DriverSQLite
}

// dbError maps a driver error onto the go-errors database categories.
func (s *Store) dbError(op string, err error) error {
	return fmt.Errorf("%s: %w", op, repository.MapDatabaseError(err, s.driver()))
}

func (s *Store) publish(topics ...string) {
	s.hub.Publish(topics...)
}

// queryLogger is a bun.QueryHook that logs statements through zerolog.
type queryLogger struct {
	log zerolog.Logger
}

func (h queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	ev := h.log.Debug()
	if event.Err != nil && event.Err != sql.ErrNoRows {
		ev = h.log.Warn().Err(event.Err)
	}
	ev.Str("query", event.Query).
		Dur("duration", time.Since(event.StartTime)).
		Msg("sql")
}
