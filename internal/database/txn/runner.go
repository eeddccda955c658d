// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package txn

import (
	"context"
	"database/sql"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/juju/clientjobs/core/database"
)

// txnRunner binds a RetryingTxnRunner to a database handle, satisfying the
// core TxnRunner contract used by the state layers.
type txnRunner struct {
	db     *sqlair.DB
	runner *RetryingTxnRunner
}

// NewTxnRunner returns a TxnRunner for the input database.
func NewTxnRunner(db *sql.DB, opts ...Option) coredatabase.TxnRunner {
	return &txnRunner{
		db:     sqlair.NewDB(db),
		runner: NewRetryingTxnRunner(opts...),
	}
}

// Txn is part of the coredatabase.TxnRunner interface.
func (r *txnRunner) Txn(ctx context.Context, fn func(context.Context, *sqlair.TX) error) error {
	return errors.Trace(r.runner.Txn(ctx, r.db, fn))
}

// TxnNoRetry is part of the coredatabase.TxnRunner interface.
func (r *txnRunner) TxnNoRetry(ctx context.Context, fn func(context.Context, *sqlair.TX) error) error {
	return errors.Trace(r.runner.TxnNoRetry(ctx, r.db, fn))
}

// StdTxn is part of the coredatabase.TxnRunner interface.
func (r *txnRunner) StdTxn(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	return errors.Trace(r.runner.StdTxn(ctx, r.db.PlainDB(), fn))
}
