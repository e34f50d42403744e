package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Executor is the query surface shared by *pgxpool.Pool, *pgxpool.Conn and
// pgx.Tx. Repositories are written against it so the same code runs inside
// and outside a transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Transactor runs fn inside a transaction carried by the context passed to fn.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const DBTxKey contextKey = "db_tx"

// TxFromContext returns the transaction opened by WithTx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// ExecutorFrom picks the innermost executor available: the open transaction,
// then the tenant-scoped connection, then the pool.
func ExecutorFrom(ctx context.Context, pool *pgxpool.Pool) Executor {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	if conn := ConnFromContext(ctx); conn != nil {
		return conn
	}
	return pool
}

type TxOptions struct {
	LockTimeout      time.Duration
	StatementTimeout time.Duration
	MaxRetries       int
}

// TxManager opens transactions on the tenant connection (or the pool) with
// bounded lock waits. A transaction aborted by a serialization failure or a
// deadlock is retried from the start up to MaxRetries times; any other error
// rolls back and is returned classified.
type TxManager struct {
	pool   *pgxpool.Pool
	opts   TxOptions
	logger zerolog.Logger
}

func NewTxManager(pool *pgxpool.Pool, opts TxOptions, logger zerolog.Logger) *TxManager {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &TxManager{pool: pool, opts: opts, logger: logger}
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx runs fn in a transaction. When ctx already carries one, fn runs in a
// savepoint instead: an error from fn rolls back to the savepoint and leaves
// the enclosing transaction usable.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if outer := TxFromContext(ctx); outer != nil {
		return m.savepoint(ctx, outer, fn)
	}

	var b beginner
	switch conn := ConnFromContext(ctx); {
	case conn != nil:
		b = conn
	case m.pool != nil:
		b = m.pool
	default:
		return errors.New("no database connection available")
	}

	var err error
	for attempt := 0; attempt <= m.opts.MaxRetries; attempt++ {
		err = m.run(ctx, b, fn)
		var committed *committedError
		if errors.As(err, &committed) {
			return committed.err
		}
		if err == nil || !isRetryable(err) || ctx.Err() != nil {
			break
		}
		m.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("retrying aborted transaction")
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return Classify(err)
}

func (m *TxManager) run(ctx context.Context, b beginner, fn func(ctx context.Context) error) (err error) {
	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if m.opts.LockTimeout > 0 {
		if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", m.opts.LockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
	}
	if m.opts.StatementTimeout > 0 {
		if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", m.opts.StatementTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	txCtx, hooks := WithCommitHooks(context.WithValue(ctx, DBTxKey, tx))
	if err = fn(txCtx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	// The commit stands; a failing hook is reported without a retry.
	if hookErr := hooks.Run(ctx); hookErr != nil {
		m.logger.Error().Err(hookErr).Msg("after-commit hook failed")
		return &committedError{hookErr}
	}
	return nil
}

// committedError marks a hook failure after a successful commit so WithTx
// never replays the transaction.
type committedError struct{ err error }

func (e *committedError) Error() string { return e.err.Error() }
func (e *committedError) Unwrap() error { return e.err }

func (m *TxManager) savepoint(ctx context.Context, outer pgx.Tx, fn func(ctx context.Context) error) (err error) {
	sp, err := outer.Begin(ctx)
	if err != nil {
		return Classify(fmt.Errorf("savepoint: %w", err))
	}
	defer func() {
		if err != nil {
			_ = sp.Rollback(context.WithoutCancel(ctx))
		}
	}()

	spCtx, hooks := WithCommitHooks(context.WithValue(ctx, DBTxKey, sp))
	if err = fn(spCtx); err != nil {
		return err
	}
	if err = sp.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("release savepoint: %w", err))
	}
	if parent, ok := ctx.Value(commitHooksKey).(*CommitHooks); ok {
		parent.adopt(hooks)
		return nil
	}
	return hooks.Run(ctx)
}
