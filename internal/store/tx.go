// Package store wraps cross-document writes in the best consistency the
// deployment offers: a real transaction when the backing store supports
// one, and a plain re-run of the same function when it does not.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Querier is the subset of pgx shared by a pool and a transaction, so the
// same function body can run on either.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Runner executes multi-statement write sequences.
type Runner struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewRunner creates a Runner on the given pool.
func NewRunner(pool *pgxpool.Pool, log zerolog.Logger) *Runner {
	return &Runner{
		pool: pool,
		log:  log.With().Str("component", "tx_runner").Logger(),
	}
}

// Pool exposes the underlying pool for single-statement callers.
func (r *Runner) Pool() *pgxpool.Pool { return r.pool }

// WithTxFallback runs fn inside a transaction. If the store rejects
// transactions specifically (standalone / non-replicated targets), the
// identical fn re-runs against the pool, accepting the narrower
// consistency window instead of failing the request. fn must therefore be
// written so its statements are individually idempotent.
func (r *Runner) WithTxFallback(ctx context.Context, fn func(q Querier) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		if !IsTxUnsupported(err) {
			return err
		}
		r.log.Warn().Err(err).Msg("transactions unavailable, running non-transactionally")
		return fn(r.pool)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		if IsTxUnsupported(err) {
			r.log.Warn().Err(err).Msg("transactions unavailable, re-running non-transactionally")
			return fn(r.pool)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if IsTxUnsupported(err) {
			r.log.Warn().Err(err).Msg("commit rejected, re-running non-transactionally")
			return fn(r.pool)
		}
		return err
	}
	return nil
}

// IsTxUnsupported reports whether err means the store cannot run
// transactions at all, as opposed to an ordinary failure. Detection is
// deliberately narrow: SQLSTATE 0A000 (feature_not_supported) or a
// begin/commit failure that names transaction support.
func IsTxUnsupported(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "0A000" {
		return strings.Contains(strings.ToLower(pgErr.Message), "transaction")
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "transactions are not supported") ||
		strings.Contains(msg, "transactions are disabled")
}
