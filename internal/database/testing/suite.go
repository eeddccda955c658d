// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package testing provides an in-memory database suite for state tests.
package testing

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	_ "github.com/mattn/go-sqlite3"
	gc "gopkg.in/check.v1"

	coredatabase "github.com/juju/clientjobs/core/database"
	"github.com/juju/clientjobs/domain/schema"
	"github.com/juju/clientjobs/internal/database/txn"
)

// serial distinguishes the in-memory databases of concurrently running
// suites; shared-cache in-memory databases are keyed by name.
var serial int64

// StoreSuite provisions a fresh in-memory database with the full schema
// applied, per test.
type StoreSuite struct {
	testing.IsolationSuite

	db     *sql.DB
	runner coredatabase.TxnRunner
}

func (s *StoreSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	dsn := fmt.Sprintf("file:store-%d?mode=memory&cache=shared&_foreign_keys=1",
		atomic.AddInt64(&serial, 1))
	db, err := sql.Open("sqlite3", dsn)
	c.Assert(err, jc.ErrorIsNil)

	// A single connection keeps the in-memory database alive for the
	// duration of the test and sidesteps writer contention.
	db.SetMaxOpenConns(1)

	s.db = db
	s.runner = txn.NewTxnRunner(db)
	s.AddCleanup(func(c *gc.C) {
		c.Check(db.Close(), jc.ErrorIsNil)
		s.db = nil
		s.runner = nil
	})

	for _, delta := range schema.All() {
		_, err := db.Exec(delta.Stmt(), delta.Args()...)
		c.Assert(err, jc.ErrorIsNil)
	}
}

// DB returns the suite's raw database handle.
func (s *StoreSuite) DB() *sql.DB {
	return s.db
}

// TxnRunner returns a transaction runner over the suite's database.
func (s *StoreSuite) TxnRunner() coredatabase.TxnRunner {
	return s.runner
}

// TxnRunnerFactory returns a factory yielding the suite's runner, suitable
// for constructing state objects under test.
func (s *StoreSuite) TxnRunnerFactory() coredatabase.TxnRunnerFactory {
	return func() (coredatabase.TxnRunner, error) {
		return s.runner, nil
	}
}

// Exec runs the statement against the suite's database, asserting success.
// Tests use it to seed and to tamper with rows directly.
func (s *StoreSuite) Exec(c *gc.C, stmt string, args ...any) sql.Result {
	res, err := s.db.Exec(stmt, args...)
	c.Assert(err, jc.ErrorIsNil)
	return res
}
