// Package results persists benchmark runs to SQLite.
package results

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Run is one stored benchmark result.
type Run struct {
	ID           string
	CreatedAt    time.Time
	Variant      string
	Iterations   int
	Seed         uint64
	LearningRate float64
	Elapsed      time.Duration
	// FinalLoss is invalid for runs that report no loss.
	FinalLoss sql.NullFloat64
	Host      string
}

// Store wraps the results database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open results db")
	}
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs(
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			variant TEXT NOT NULL,
			iterations INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			learning_rate REAL NOT NULL,
			elapsed_ns INTEGER NOT NULL,
			final_loss REAL,
			host TEXT NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create runs table")
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save opens the database at path, records every run and closes it. The
// first failing insert stops the save; a failed close is reported when
// nothing else failed.
func Save(ctx context.Context, path string, runs []Run) (err error) {
	s, err := Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close results db")
		}
	}()

	for _, r := range runs {
		if err := s.Record(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts r. A zero CreatedAt is set to now.
func (s *Store) Record(ctx context.Context, r Run) error {
	if r.ID == "" {
		return errors.New("results: run id is empty")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, created_at, variant, iterations, seed, learning_rate, elapsed_ns, final_loss, host)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.CreatedAt.UnixNano(), r.Variant, r.Iterations, int64(r.Seed), r.LearningRate,
		int64(r.Elapsed), r.FinalLoss, r.Host)
	return errors.Wrapf(err, "record run %s", r.ID)
}

// List returns up to limit runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, variant, iterations, seed, learning_rate, elapsed_ns, final_loss, host
		 FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r         Run
			createdAt int64
			seed      int64
			elapsed   int64
		)
		if err := rows.Scan(&r.ID, &createdAt, &r.Variant, &r.Iterations, &seed,
			&r.LearningRate, &elapsed, &r.FinalLoss, &r.Host); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.CreatedAt = time.Unix(0, createdAt)
		r.Seed = uint64(seed)
		r.Elapsed = time.Duration(elapsed)
		runs = append(runs, r)
	}
	return runs, errors.Wrap(rows.Err(), "list runs")
}
