// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package txn

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	_ "github.com/mattn/go-sqlite3"
	gc "gopkg.in/check.v1"
)

type runnerSuite struct {
	testing.IsolationSuite

	db *sql.DB
}

var _ = gc.Suite(&runnerSuite{})

var dbSerial int64

func (s *runnerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	dsn := fmt.Sprintf("file:txn-%d?mode=memory&cache=shared", atomic.AddInt64(&dbSerial, 1))
	db, err := sql.Open("sqlite3", dsn)
	c.Assert(err, jc.ErrorIsNil)
	db.SetMaxOpenConns(1)

	_, err = db.Exec("CREATE TABLE counters (name TEXT PRIMARY KEY, value INT)")
	c.Assert(err, jc.ErrorIsNil)

	s.db = db
	s.AddCleanup(func(c *gc.C) {
		c.Check(db.Close(), jc.ErrorIsNil)
	})
}

func (s *runnerSuite) count(c *gc.C) int {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM counters").Scan(&n)
	c.Assert(err, jc.ErrorIsNil)
	return n
}

func (s *runnerSuite) TestTxnCommits(c *gc.C) {
	runner := NewTxnRunner(s.db)

	err := runner.Txn(context.Background(), func(ctx context.Context, tx *sqlair.TX) error {
		stmt, err := sqlair.Prepare("INSERT INTO counters VALUES ('a', 1)")
		if err != nil {
			return err
		}
		return tx.Query(ctx, stmt).Run()
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.count(c), gc.Equals, 1)
}

func (s *runnerSuite) TestTxnRollsBackOnError(c *gc.C) {
	runner := NewTxnRunner(s.db)

	boom := errors.New("boom")
	err := runner.Txn(context.Background(), func(ctx context.Context, tx *sqlair.TX) error {
		stmt, err := sqlair.Prepare("INSERT INTO counters VALUES ('a', 1)")
		if err != nil {
			return err
		}
		if err := tx.Query(ctx, stmt).Run(); err != nil {
			return err
		}
		return boom
	})
	c.Assert(err, jc.ErrorIs, boom)
	c.Check(s.count(c), gc.Equals, 0)
}

func (s *runnerSuite) TestStdTxnCommits(c *gc.C) {
	runner := NewTxnRunner(s.db)

	err := runner.StdTxn(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO counters VALUES (?, ?)", "b", 2)
		return err
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.count(c), gc.Equals, 1)
}

func (s *runnerSuite) TestStdTxnRollsBackOnError(c *gc.C) {
	runner := NewTxnRunner(s.db)

	err := runner.StdTxn(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO counters VALUES ('b', 2)"); err != nil {
			return err
		}
		return errors.New("boom")
	})
	c.Assert(err, gc.ErrorMatches, "boom")
	c.Check(s.count(c), gc.Equals, 0)
}

func (s *runnerSuite) TestTxnNoRetrySurfacesTransientFault(c *gc.C) {
	runner := NewTxnRunner(s.db)

	calls := 0
	err := runner.TxnNoRetry(context.Background(), func(ctx context.Context, tx *sqlair.TX) error {
		calls++
		return errors.New("database is locked")
	})
	c.Assert(err, gc.ErrorMatches, "database is locked")
	c.Check(calls, gc.Equals, 1)
}

func (s *runnerSuite) TestRetryRedrivesTransientFault(c *gc.C) {
	runner := NewRetryingTxnRunner()

	calls := 0
	err := runner.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(calls, gc.Equals, 3)
}

func (s *runnerSuite) TestRetryStopsOnFatalError(c *gc.C) {
	runner := NewRetryingTxnRunner()

	calls := 0
	err := runner.Retry(context.Background(), func() error {
		calls++
		return errors.New("syntax error")
	})
	c.Assert(err, gc.ErrorMatches, ".*syntax error.*")
	c.Check(calls, gc.Equals, 1)
}

func (s *runnerSuite) TestTxnObservesMetrics(c *gc.C) {
	m := NewMetrics()
	runner := NewTxnRunner(s.db, WithMetrics(m))

	err := runner.Txn(context.Background(), func(ctx context.Context, tx *sqlair.TX) error {
		return nil
	})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *runnerSuite) TestNilMetricsAreSafe(c *gc.C) {
	var m *Metrics
	m.observeSuccess()
	m.observeRetry()
	m.observeFailure()
}
