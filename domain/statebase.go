// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package domain holds the base types shared by the state layers.
package domain

import (
	"context"
	"sync"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/juju/clientjobs/core/database"
)

// StateBase defines a base struct for requesting a database, and preparing
// sqlair statements. Prepared statements are cached per state so that a
// query is parsed against its type samples only once.
type StateBase struct {
	mu    sync.Mutex
	getDB coredatabase.TxnRunnerFactory
	stmts map[string]*sqlair.Statement
}

// NewStateBase returns a new StateBase.
func NewStateBase(getDB coredatabase.TxnRunnerFactory) *StateBase {
	return &StateBase{
		getDB: getDB,
		stmts: make(map[string]*sqlair.Statement),
	}
}

// DB returns the database runner. An error is returned if the database
// cannot be reached.
func (st *StateBase) DB(ctx context.Context) (coredatabase.TxnRunner, error) {
	if st.getDB == nil {
		return nil, errors.New("nil getDB")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	db, err := st.getDB()
	if err != nil {
		return nil, errors.Annotate(err, "invoking getDB")
	}
	return db, nil
}

// Prepare prepares the input query against the input type samples, caching
// the resulting statement keyed on the query text.
func (st *StateBase) Prepare(query string, typeSamples ...any) (*sqlair.Statement, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if stmt, ok := st.stmts[query]; ok {
		return stmt, nil
	}

	stmt, err := sqlair.Prepare(query, typeSamples...)
	if err != nil {
		return nil, errors.Annotate(err, "preparing")
	}
	st.stmts[query] = stmt
	return stmt, nil
}

// NewTxnRunnerFactory returns a TxnRunnerFactory for the input runner.
func NewTxnRunnerFactory(runner coredatabase.TxnRunner) coredatabase.TxnRunnerFactory {
	return func() (coredatabase.TxnRunner, error) {
		if runner == nil {
			return nil, errors.New("nil db runner")
		}
		return runner, nil
	}
}
