package history

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

type CycleRow struct {
	ID         string
	Kind       string
	Title      string
	State      string
	Error      string
	StartedAt  int64
	FinishedAt int64
}

const insertCycle = `
insert into Cycle(id, kind, title, state, error, startedAt, finishedAt)
values (?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) InsertCycle(ctx context.Context, arg CycleRow) error {
	_, err := q.db.ExecContext(ctx, insertCycle,
		arg.ID,
		arg.Kind,
		arg.Title,
		arg.State,
		arg.Error,
		arg.StartedAt,
		arg.FinishedAt,
	)
	return err
}

const listCycles = `
select id, kind, title, state, error, startedAt, finishedAt from Cycle
order by startedAt desc, rowid desc
limit ?
`

func (q *Queries) ListCycles(ctx context.Context, limit int64) ([]CycleRow, error) {
	rows, err := q.db.QueryContext(ctx, listCycles, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CycleRow
	for rows.Next() {
		var i CycleRow
		if err := rows.Scan(
			&i.ID,
			&i.Kind,
			&i.Title,
			&i.State,
			&i.Error,
			&i.StartedAt,
			&i.FinishedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const lastCycleOfKind = `
select id, kind, title, state, error, startedAt, finishedAt from Cycle
where kind = ? and state = ?
order by startedAt desc, rowid desc
limit 1
`

func (q *Queries) LastCycleOfKind(ctx context.Context, kind, state string) (CycleRow, error) {
	row := q.db.QueryRowContext(ctx, lastCycleOfKind, kind, state)
	var i CycleRow
	err := row.Scan(
		&i.ID,
		&i.Kind,
		&i.Title,
		&i.State,
		&i.Error,
		&i.StartedAt,
		&i.FinishedAt,
	)
	return i, err
}
