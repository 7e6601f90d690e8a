package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultPerPage = 15
	MaxPerPage     = 100
)

// Store is the relational repository for the marketplace. It works on
// MySQL and SQLite using portable SQL only.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an opened, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the current UTC time at second precision, matching what a
// DATETIME column stores.
func (s *Store) Now() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store.withTx.Begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "store.withTx.Commit")
}

// ListParams is the page selection of a paginated listing.
type ListParams struct {
	Page    int
	PerPage int
}

// Normalize clamps page and per-page into range, using def when PerPage is unset.
func (p ListParams) Normalize(def int) ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = def
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p ListParams) offset() int {
	return (p.Page - 1) * p.PerPage
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	out := " WHERE " + w.conds[0]
	for _, c := range w.conds[1:] {
		out += " AND " + c
	}
	return out
}

func (s *Store) count(ctx context.Context, q querier, query string, args ...any) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
