// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"context"
	"database/sql"

	"github.com/canonical/sqlair"
)

// TxnRunner defines an interface for running transactions against the
// coordination database. Implementations are expected to borrow an isolated
// connection from a pool for the duration of each transaction and to release
// it on every exit path, so a single runner is safe for concurrent use.
type TxnRunner interface {
	// Txn executes the input function within a transaction, using the
	// sqlair package for query mapping. Retry semantics are applied
	// automatically on transient failures, so the input function must be
	// idempotent. This is the function that almost all consumers should
	// use.
	Txn(context.Context, func(context.Context, *sqlair.TX) error) error

	// TxnNoRetry executes the input function within a transaction.
	// No retries are attempted. It exists for operations whose
	// idempotency cannot be proven.
	TxnNoRetry(context.Context, func(context.Context, *sqlair.TX) error) error

	// StdTxn executes the input function within a transaction against the
	// plain database/sql API. Retry semantics are applied automatically on
	// transient failures, so the input function must be idempotent.
	// It is intended for statements whose column lists are only known at
	// run time and therefore cannot be prepared with sqlair.
	StdTxn(context.Context, func(context.Context, *sql.Tx) error) error
}

// TxnRunnerFactory defines a function that returns a TxnRunner or an error.
type TxnRunnerFactory = func() (TxnRunner, error)

// Delta represents a schema change operation.
type Delta struct {
	stmt string
	args []any
}

// MakeDelta generates a schema delta from the input statement and arguments.
func MakeDelta(stmt string, args ...any) Delta {
	return Delta{
		stmt: stmt,
		args: args,
	}
}

// Stmt returns the delta's SQL statement.
func (d Delta) Stmt() string {
	return d.stmt
}

// Args returns the delta's statement arguments.
func (d Delta) Args() []any {
	return d.args
}
