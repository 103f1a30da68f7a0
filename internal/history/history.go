// Package history keeps a record of every submission cycle in SQLite.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// Cycle is a finished submission cycle.
type Cycle struct {
	ID    string
	Kind  string
	Title string
	// State is the state the cycle ended in.
	State      string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (c Cycle) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}

func fromRow(row CycleRow) Cycle {
	return Cycle{
		ID:         row.ID,
		Kind:       row.Kind,
		Title:      row.Title,
		State:      row.State,
		Error:      row.Error,
		StartedAt:  time.UnixMilli(row.StartedAt),
		FinishedAt: time.UnixMilli(row.FinishedAt),
	}
}

func wrapOpenDB(err error) error {
	return fmt.Errorf("open history db: %w", err)
}

// OpenDB opens the database at path and creates the schema if needed.
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0777)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapOpenDB(err)
	}

	// sqlite only allows a single writer
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, wrapOpenDB(err)
	}
	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return nil, wrapOpenDB(err)
	}

	return db, nil
}

type Store struct {
	db  *sql.DB
	qry *Queries
}

func Open(path string) (Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return Store{}, err
	}
	return Store{db: db, qry: New(db)}, nil
}

func (s Store) Close() error {
	return s.db.Close()
}

func (s Store) Record(ctx context.Context, cycle Cycle) error {
	err := s.qry.InsertCycle(ctx, CycleRow{
		ID:         cycle.ID,
		Kind:       cycle.Kind,
		Title:      cycle.Title,
		State:      cycle.State,
		Error:      cycle.Error,
		StartedAt:  cycle.StartedAt.UnixMilli(),
		FinishedAt: cycle.FinishedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("record cycle %s: %w", cycle.ID, err)
	}
	return nil
}

// Recent returns up to limit cycles, newest first.
func (s Store) Recent(ctx context.Context, limit int) ([]Cycle, error) {
	rows, err := s.qry.ListCycles(ctx, int64(limit))
	if err != nil {
		return nil, err
	}
	out := make([]Cycle, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

// Last returns the newest cycle of kind that ended in state.
func (s Store) Last(ctx context.Context, kind, state string) (Cycle, bool, error) {
	row, err := s.qry.LastCycleOfKind(ctx, kind, state)
	if errors.Is(err, sql.ErrNoRows) {
		return Cycle{}, false, nil
	}
	if err != nil {
		return Cycle{}, false, err
	}
	return fromRow(row), true, nil
}
