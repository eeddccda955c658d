// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package txn provides the retry envelope for transactions against the
// coordination database. Transient storage faults (connection loss,
// deadlock, server restart) are classified and re-driven with bounded
// back-off; everything else surfaces to the caller after one attempt.
package txn

import (
	"context"
	"database/sql"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"

	internaldatabase "github.com/juju/clientjobs/internal/database"
)

const (
	// DefaultTimeout is the timeout applied to each transaction attempt,
	// independent of any deadline carried by the caller's context.
	DefaultTimeout = time.Second * 30

	defaultRetryAttempts = 250
	defaultRetryDelay    = time.Millisecond
	defaultRetryMaxDelay = time.Millisecond * 100
)

// Option configures a RetryingTxnRunner.
type Option func(*option)

// WithClock sets the clock used for retry back-off.
func WithClock(c clock.Clock) Option {
	return func(o *option) {
		o.clock = c
	}
}

// WithLogger sets the logger used to report retried faults.
func WithLogger(l loggo.Logger) Option {
	return func(o *option) {
		o.logger = l
	}
}

// WithTimeout sets the per-attempt transaction timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *option) {
		o.timeout = d
	}
}

// WithMetrics sets the collector notified of transaction outcomes.
func WithMetrics(m *Metrics) Option {
	return func(o *option) {
		o.metrics = m
	}
}

type option struct {
	clock   clock.Clock
	logger  loggo.Logger
	timeout time.Duration
	metrics *Metrics
}

func newOptions() *option {
	return &option{
		clock:   clock.WallClock,
		logger:  loggo.GetLogger("clientjobs.database.txn"),
		timeout: DefaultTimeout,
	}
}

// RetryingTxnRunner executes transactions, re-driving those that fail with
// a transient fault. Callers must only hand it closures that are idempotent:
// a retried closure observes the database state left by its earlier aborted
// attempts, including a commit whose acknowledgement was lost.
type RetryingTxnRunner struct {
	clock   clock.Clock
	logger  loggo.Logger
	timeout time.Duration
	metrics *Metrics
}

// NewRetryingTxnRunner returns a runner configured with the input options.
func NewRetryingTxnRunner(opts ...Option) *RetryingTxnRunner {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &RetryingTxnRunner{
		clock:   o.clock,
		logger:  o.logger,
		timeout: o.timeout,
		metrics: o.metrics,
	}
}

// Txn executes the input function within a transaction with retry semantics
// applied on transient failures.
func (t *RetryingTxnRunner) Txn(ctx context.Context, db *sqlair.DB, fn func(context.Context, *sqlair.TX) error) error {
	return t.Retry(ctx, func() error {
		return errors.Trace(t.TxnNoRetry(ctx, db, fn))
	})
}

// TxnNoRetry executes the input function within a transaction. No retries
// are attempted; a transient fault surfaces to the caller directly.
func (t *RetryingTxnRunner) TxnNoRetry(ctx context.Context, db *sqlair.DB, fn func(context.Context, *sqlair.TX) error) error {
	return t.run(ctx, func(ctx context.Context) error {
		tx, err := db.Begin(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}

		if err := fn(ctx, tx); err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				t.logger.Warningf("failed to rollback transaction: %v", rErr)
			}
			return errors.Trace(err)
		}
		return errors.Trace(tx.Commit())
	})
}

// StdTxn executes the input function within a transaction against the plain
// database/sql API, with retry semantics applied on transient failures.
func (t *RetryingTxnRunner) StdTxn(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error) error {
	return t.Retry(ctx, func() error {
		return t.run(ctx, func(ctx context.Context) error {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return errors.Trace(err)
			}

			if err := fn(ctx, tx); err != nil {
				if rErr := tx.Rollback(); rErr != nil {
					t.logger.Warningf("failed to rollback transaction: %v", rErr)
				}
				return errors.Trace(err)
			}
			return errors.Trace(tx.Commit())
		})
	})
}

// Retry executes the input function, re-invoking it with back-off for as
// long as it returns a retryable error, up to the attempt bound.
func (t *RetryingTxnRunner) Retry(ctx context.Context, fn func() error) error {
	err := retry.Call(retry.CallArgs{
		Func: fn,
		IsFatalError: func(err error) bool {
			return !internaldatabase.IsErrRetryable(err)
		},
		NotifyFunc: func(lastError error, attempt int) {
			t.metrics.observeRetry()
			if attempt > 1 {
				t.logger.Debugf("retrying transaction (attempt %d): %v", attempt, lastError)
			}
		},
		Attempts:    defaultRetryAttempts,
		Delay:       defaultRetryDelay,
		MaxDelay:    defaultRetryMaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       t.clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		t.metrics.observeSuccess()
		return nil
	}
	t.metrics.observeFailure()
	return errors.Trace(err)
}

// run enforces the per-attempt timeout around a single transaction body.
func (t *RetryingTxnRunner) run(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	return errors.Trace(fn(ctx))
}
