package repository

import (
	"context"
	"errors"

	"github.com/edukita/examhall-backend/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow satisfies pgx.Row with a canned Scan.
type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakeQuerier records the statements it receives and answers them with
// the configured stubs.
type fakeQuerier struct {
	execSQL     []string
	queryRowSQL []string

	execFn     func(sql string, args []any) (pgconn.CommandTag, error)
	queryRowFn func(sql string, args []any) pgx.Row
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execSQL = append(q.execSQL, sql)
	if q.execFn == nil {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return q.execFn(sql, args)
}

func (q *fakeQuerier) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected Query")
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.queryRowSQL = append(q.queryRowSQL, sql)
	if q.queryRowFn == nil {
		return fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}
	}
	return q.queryRowFn(sql, args)
}

// fakeRunner hands fn the fake querier directly, standing in for the
// transactional path.
type fakeRunner struct {
	q     *fakeQuerier
	calls int
}

func (r *fakeRunner) WithTxFallback(_ context.Context, fn func(q store.Querier) error) error {
	r.calls++
	return fn(r.q)
}
