// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/clientjobs/core/hash"
	"github.com/juju/clientjobs/core/session"
	"github.com/juju/clientjobs/core/status"
	"github.com/juju/clientjobs/domain/job"
	joberrors "github.com/juju/clientjobs/domain/job/errors"
	modelstate "github.com/juju/clientjobs/domain/model/state"
	databasetesting "github.com/juju/clientjobs/internal/database/testing"
)

type stateSuite struct {
	databasetesting.StoreSuite
}

var _ = gc.Suite(&stateSuite{})

func (s *stateSuite) newState(c *gc.C) *State {
	id, err := session.NewID()
	c.Assert(err, jc.ErrorIsNil)
	return NewState(s.TxnRunnerFactory(), id)
}

func makeArgs() job.InsertArgs {
	return job.InsertArgs{
		Client:         "GRP",
		CmdLine:        "run-search",
		ClientInfo:     "search-42",
		ClientKey:      "key-42",
		Params:         `{"swarm":"full"}`,
		MinimumWorkers: 1,
		MaximumWorkers: 4,
		Type:           job.TypeHypersearch,
	}
}

func makeHash(c *gc.C, b []byte) hash.Hash {
	h, err := hash.Normalize(b)
	c.Assert(err, jc.ErrorIsNil)
	return h
}

func (s *stateSuite) TestInsertOrGetCreates(c *gc.C) {
	st := s.newState(c)

	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	info, err := st.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.JobID, gc.Equals, id)
	c.Check(info.Client, gc.Equals, "GRP")
	c.Check(info.CmdLine, gc.Equals, "run-search")
	c.Check(info.Status, gc.Equals, status.NotStarted)
	c.Check(info.EngJobType, gc.Equals, job.TypeHypersearch)
	c.Check(info.WorkerCompletionReason, gc.Equals, status.ReasonSuccess)
	c.Check(info.EngCleaningStatus, gc.Equals, job.CleaningNotDone)
	c.Check(info.StartTime, gc.IsNil)
	c.Check(info.EngLastUpdateTime, gc.NotNil)
	c.Check(info.JobHash, gc.Equals, makeHash(c, []byte("h1")))
}

func (s *stateSuite) TestInsertOrGetIdempotent(c *gc.C) {
	st := s.newState(c)
	h := makeHash(c, []byte("h1"))

	id1, err := st.InsertOrGet(context.Background(), makeArgs(), h)
	c.Assert(err, jc.ErrorIsNil)
	id2, err := st.InsertOrGet(context.Background(), makeArgs(), h)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(id2, gc.Equals, id1)

	var n int
	row := s.DB().QueryRow("SELECT COUNT(*) FROM jobs")
	c.Assert(row.Scan(&n), jc.ErrorIsNil)
	c.Check(n, gc.Equals, 1)
}

func (s *stateSuite) TestInsertOrGetSameHashDifferentClient(c *gc.C) {
	st := s.newState(c)
	h := makeHash(c, []byte("h1"))

	id1, err := st.InsertOrGet(context.Background(), makeArgs(), h)
	c.Assert(err, jc.ErrorIsNil)

	args := makeArgs()
	args.Client = "OTHER"
	id2, err := st.InsertOrGet(context.Background(), args, h)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(id2, gc.Not(gc.Equals), id1)
}

func (s *stateSuite) TestInsertAlreadyRunning(c *gc.C) {
	st := s.newState(c)

	args := makeArgs()
	args.AlreadyRunning = true
	id, err := st.InsertOrGet(context.Background(), args, makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	info, err := st.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.TestMode)
	c.Check(info.StartTime, gc.NotNil)
	c.Check(info.EngCjmConnID, gc.Equals, st.SessionID().String())
}

func (s *stateSuite) TestInsertUniqueNew(c *gc.C) {
	st := s.newState(c)

	id, err := st.InsertUnique(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	info, err := st.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.NotStarted)
}

func (s *stateSuite) TestInsertUniqueExistingActive(c *gc.C) {
	st := s.newState(c)
	h := makeHash(c, []byte("h1"))

	id, err := st.InsertOrGet(context.Background(), makeArgs(), h)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Start(context.Background(), id), jc.ErrorIsNil)

	again, err := st.InsertUnique(context.Background(), makeArgs(), h)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(again, gc.Equals, id)

	info, err := st.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.Running)
}

func (s *stateSuite) TestInsertUniqueReusesCompleted(c *gc.C) {
	st := s.newState(c)
	h := makeHash(c, []byte("h1"))

	id, err := st.InsertOrGet(context.Background(), makeArgs(), h)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Start(context.Background(), id), jc.ErrorIsNil)
	c.Assert(st.SetCompleted(context.Background(), id, status.ReasonEOF, "done", false), jc.ErrorIsNil)

	args := makeArgs()
	args.CmdLine = "run-search-again"
	args.Priority = 7
	again, err := st.InsertUnique(context.Background(), args, h)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(again, gc.Equals, id)

	info, err := st.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.NotStarted)
	c.Check(info.CmdLine, gc.Equals, "run-search-again")
	c.Check(info.Priority, gc.Equals, 7)
	c.Check(info.CompletionReason, gc.Equals, status.CompletionReason(""))
	c.Check(info.EndTime, gc.IsNil)
	c.Check(info.Cancel, jc.IsFalse)
}

func (s *stateSuite) TestResumeNotFound(c *gc.C) {
	st := s.newState(c)
	err := st.Resume(context.Background(), 42, false)
	c.Assert(err, jc.ErrorIs, joberrors.NotFound)
}

func (s *stateSuite) TestResumeNotCompleted(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	err = st.Resume(context.Background(), id, false)
	c.Assert(err, gc.ErrorMatches, `cannot resume job .*`)
}

func (s *stateSuite) TestResumeCompleted(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Start(context.Background(), id), jc.ErrorIsNil)
	c.Assert(st.SetCompleted(context.Background(), id, status.ReasonSuccess, "", false), jc.ErrorIsNil)

	c.Assert(st.Resume(context.Background(), id, false), jc.ErrorIsNil)

	info, err := st.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.NotStarted)
	c.Check(info.StartTime, gc.IsNil)
	c.Check(info.EngCjmConnID, gc.Equals, "")
	c.Check(info.NumFailedWorkers, gc.Equals, 0)
}

func (s *stateSuite) TestResumeAlreadyRunning(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Start(context.Background(), id), jc.ErrorIsNil)
	c.Assert(st.SetCompleted(context.Background(), id, status.ReasonSuccess, "", false), jc.ErrorIsNil)

	c.Assert(st.Resume(context.Background(), id, true), jc.ErrorIsNil)

	info, err := st.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.TestMode)
	c.Check(info.StartTime, gc.NotNil)
	c.Check(info.EngCjmConnID, gc.Equals, st.SessionID().String())
}

func (s *stateSuite) TestStartNextEmptyQueue(c *gc.C) {
	st := s.newState(c)
	_, err := st.StartNext(context.Background())
	c.Assert(err, jc.ErrorIs, joberrors.NotFound)
}

func (s *stateSuite) TestStartNextPriorityOrder(c *gc.C) {
	st := s.newState(c)

	low, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	args := makeArgs()
	args.Priority = 10
	high, err := st.InsertOrGet(context.Background(), args, makeHash(c, []byte("h2")))
	c.Assert(err, jc.ErrorIsNil)

	first, err := st.StartNext(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(first, gc.Equals, high)

	second, err := st.StartNext(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(second, gc.Equals, low)

	info, err := st.Info(context.Background(), high)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.Running)
	c.Check(info.EngCjmConnID, gc.Equals, st.SessionID().String())
}

func (s *stateSuite) TestStartNotQueued(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Start(context.Background(), id), jc.ErrorIsNil)

	err = st.Start(context.Background(), id)
	c.Assert(err, jc.ErrorIs, joberrors.NotFound)
}

func (s *stateSuite) TestSetStatusOwnershipGate(c *gc.C) {
	owner := s.newState(c)
	id, err := owner.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(owner.Start(context.Background(), id), jc.ErrorIsNil)

	stranger := s.newState(c)
	err = stranger.SetStatus(context.Background(), id, status.TestMode, true)
	c.Assert(err, jc.ErrorIs, joberrors.InvalidOwnership)

	c.Assert(owner.SetStatus(context.Background(), id, status.TestMode, true), jc.ErrorIsNil)

	info, err := owner.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.TestMode)
}

func (s *stateSuite) TestSetStatusUngatedNotFound(c *gc.C) {
	st := s.newState(c)
	err := st.SetStatus(context.Background(), 42, status.Running, false)
	c.Assert(err, jc.ErrorIs, joberrors.NotFound)
}

func (s *stateSuite) TestSetCompleted(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Start(context.Background(), id), jc.ErrorIsNil)

	c.Assert(st.SetCompleted(context.Background(), id, status.ReasonKilled, "pulled", true), jc.ErrorIsNil)

	info, err := st.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.Completed)
	c.Check(info.CompletionReason, gc.Equals, status.ReasonKilled)
	c.Check(info.CompletionMsg, gc.Equals, "pulled")
	c.Check(info.EndTime, gc.NotNil)
}

func (s *stateSuite) TestSetCompletedOwnershipGate(c *gc.C) {
	owner := s.newState(c)
	id, err := owner.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(owner.Start(context.Background(), id), jc.ErrorIsNil)

	stranger := s.newState(c)
	err = stranger.SetCompleted(context.Background(), id, status.ReasonKilled, "", true)
	c.Assert(err, jc.ErrorIs, joberrors.InvalidOwnership)
}

func (s *stateSuite) TestCancelTracking(c *gc.C) {
	st := s.newState(c)

	id1, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)
	args := makeArgs()
	id2, err := st.InsertOrGet(context.Background(), args, makeHash(c, []byte("h2")))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Start(context.Background(), id2), jc.ErrorIsNil)
	c.Assert(st.SetCompleted(context.Background(), id2, status.ReasonSuccess, "", false), jc.ErrorIsNil)

	c.Assert(st.CancelAllRunningJobs(context.Background()), jc.ErrorIsNil)

	n, err := st.CountCancellingJobs(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, int64(1))

	ids, err := st.GetCancellingJobs(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ids, gc.DeepEquals, []job.ID{id1})

	info, err := st.Info(context.Background(), id2)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Cancel, jc.IsFalse)
}

func (s *stateSuite) TestGetDemand(c *gc.C) {
	st := s.newState(c)

	demand, err := st.GetDemand(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(demand, gc.HasLen, 0)

	args := makeArgs()
	args.Priority = 3
	id, err := st.InsertOrGet(context.Background(), args, makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Start(context.Background(), id), jc.ErrorIsNil)

	demand, err = st.GetDemand(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(demand, gc.HasLen, 1)
	c.Check(demand[0], gc.DeepEquals, job.Demand{
		JobID:                 id,
		MinimumWorkers:        1,
		MaximumWorkers:        4,
		Priority:              3,
		EngAllocateNewWorkers: true,
		EngJobType:            job.TypeHypersearch,
	})
}

func (s *stateSuite) TestReactivateRunningJobs(c *gc.C) {
	owner := s.newState(c)
	id, err := owner.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(owner.Start(context.Background(), id), jc.ErrorIsNil)

	successor := s.newState(c)
	c.Assert(successor.ReactivateRunningJobs(context.Background()), jc.ErrorIsNil)

	info, err := successor.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.EngCjmConnID, gc.Equals, successor.SessionID().String())

	// The successor now holds the session gate.
	c.Assert(successor.SetStatus(context.Background(), id, status.TestMode, true), jc.ErrorIsNil)
}

func (s *stateSuite) TestUpdateResults(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(st.UpdateResults(context.Background(), id, `{"best":1}`), jc.ErrorIsNil)

	info, err := st.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Results, gc.Equals, `{"best":1}`)
}

func (s *stateSuite) TestGetFields(c *gc.C) {
	st := s.newState(c)
	args := makeArgs()
	args.Priority = 5
	id, err := st.InsertOrGet(context.Background(), args, makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	vals, err := st.GetFields(context.Background(), id, []string{"priority", "minimumWorkers"})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(vals, gc.HasLen, 2)
	c.Check(vals[0], gc.Equals, int64(5))
	c.Check(vals[1], gc.Equals, int64(1))
}

func (s *stateSuite) TestGetFieldsUnknownField(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	_, err = st.GetFields(context.Background(), id, []string{"noSuchField"})
	c.Assert(err, jc.ErrorIs, joberrors.InvalidField)
}

func (s *stateSuite) TestGetFieldsForManyRequireAll(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	_, err = st.GetFieldsForMany(context.Background(), []job.ID{id, 99}, []string{"priority"}, true)
	c.Assert(err, jc.ErrorIs, joberrors.NotFound)

	rows, err := st.GetFieldsForMany(context.Background(), []job.ID{id, 99}, []string{"priority"}, false)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(rows, gc.HasLen, 1)
	c.Check(rows[0].JobID, gc.Equals, id)
}

func (s *stateSuite) TestGetFieldsForManyEmptyFieldList(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	_, err = st.GetFieldsForMany(context.Background(), []job.ID{id}, nil, true)
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *stateSuite) TestSetFields(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	err = st.SetFields(context.Background(), id, map[string]any{
		"priority":       10,
		"maximumWorkers": 8,
	}, false, false)
	c.Assert(err, jc.ErrorIsNil)

	info, err := st.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Priority, gc.Equals, 10)
	c.Check(info.MaximumWorkers, gc.Equals, 8)
}

func (s *stateSuite) TestSetFieldsOwnershipGate(c *gc.C) {
	owner := s.newState(c)
	id, err := owner.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(owner.Start(context.Background(), id), jc.ErrorIsNil)

	stranger := s.newState(c)
	err = stranger.SetFields(context.Background(), id, map[string]any{"priority": 1}, true, false)
	c.Assert(err, jc.ErrorIs, joberrors.InvalidOwnership)
}

func (s *stateSuite) TestSetFieldsUnknownField(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	err = st.SetFields(context.Background(), id, map[string]any{"bogus": 1}, false, false)
	c.Assert(err, jc.ErrorIs, joberrors.InvalidField)
}

func (s *stateSuite) TestSetFieldIfEqual(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	won, err := st.SetFieldIfEqual(context.Background(), id, "priority", 5, 0)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(won, jc.IsTrue)

	won, err = st.SetFieldIfEqual(context.Background(), id, "priority", 6, 0)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(won, jc.IsFalse)
}

func (s *stateSuite) TestSetFieldIfEqualBool(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	won, err := st.SetFieldIfEqual(context.Background(), id, "engAllocateNewWorkers", false, true)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(won, jc.IsTrue)

	won, err = st.SetFieldIfEqual(context.Background(), id, "engAllocateNewWorkers", false, true)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(won, jc.IsFalse)
}

func (s *stateSuite) TestSetFieldIfEqualNull(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	won, err := st.SetFieldIfEqual(context.Background(), id, "completionReason", string(status.ReasonCancelled), nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(won, jc.IsTrue)

	won, err = st.SetFieldIfEqual(context.Background(), id, "completionReason", string(status.ReasonError), nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(won, jc.IsFalse)
}

func (s *stateSuite) TestIncrementIntField(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(st.IncrementIntField(context.Background(), id, "numFailedWorkers", 2, false), jc.ErrorIsNil)
	c.Assert(st.IncrementIntField(context.Background(), id, "numFailedWorkers", 1, false), jc.ErrorIsNil)

	info, err := st.Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.NumFailedWorkers, gc.Equals, 3)
}

func (s *stateSuite) TestActiveCounts(c *gc.C) {
	st := s.newState(c)

	id1, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)
	_, err = st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h2")))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Start(context.Background(), id1), jc.ErrorIsNil)
	c.Assert(st.SetCompleted(context.Background(), id1, status.ReasonSuccess, "", false), jc.ErrorIsNil)

	n, err := st.ActiveCountForClientInfo(context.Background(), "search-42")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, int64(1))

	n, err = st.ActiveCountForClientKey(context.Background(), "key-42")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, int64(1))

	n, err = st.ActiveCountForClientInfo(context.Background(), "no-such")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, int64(0))
}

func (s *stateSuite) TestActiveForClientInfo(c *gc.C) {
	st := s.newState(c)

	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	rows, err := st.ActiveForClientInfo(context.Background(), "search-42", []string{"priority"})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(rows, gc.HasLen, 1)
	c.Check(rows[0].JobID, gc.Equals, id)
}

func (s *stateSuite) TestGetJobs(c *gc.C) {
	st := s.newState(c)

	_, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)
	_, err = st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h2")))
	c.Assert(err, jc.ErrorIsNil)

	rows, err := st.GetJobs(context.Background(), []string{"priority", "numFailedWorkers"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rows, gc.HasLen, 2)
}

func (s *stateSuite) TestFieldsForActiveJobsOfType(c *gc.C) {
	st := s.newState(c)

	hs, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	args := makeArgs()
	args.Type = job.TypeProductionModel
	_, err = st.InsertOrGet(context.Background(), args, makeHash(c, []byte("h2")))
	c.Assert(err, jc.ErrorIsNil)

	rows, err := st.FieldsForActiveJobsOfType(context.Background(), job.TypeHypersearch, []string{"priority"})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(rows, gc.HasLen, 1)
	c.Check(rows[0].JobID, gc.Equals, hs)
}

func (s *stateSuite) TestInfoNotFound(c *gc.C) {
	st := s.newState(c)
	_, err := st.Info(context.Background(), 42)
	c.Assert(err, jc.ErrorIs, joberrors.NotFound)
}

func (s *stateSuite) TestInfoWithModels(c *gc.C) {
	st := s.newState(c)
	id, err := st.InsertOrGet(context.Background(), makeArgs(), makeHash(c, []byte("h1")))
	c.Assert(err, jc.ErrorIsNil)

	info, models, err := st.InfoWithModels(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.JobID, gc.Equals, id)
	c.Check(models, gc.HasLen, 0)

	sessionID, err := session.NewID()
	c.Assert(err, jc.ErrorIsNil)
	mst := modelstate.NewState(s.TxnRunnerFactory(), sessionID)
	modelID, created, err := mst.InsertAndStart(context.Background(), id,
		`{"lr":0.1}`, makeHash(c, []byte("p-1")), makeHash(c, []byte("t-1")))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(created, jc.IsTrue)

	info, models, err = st.InfoWithModels(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.JobID, gc.Equals, id)
	c.Assert(models, gc.HasLen, 1)
	c.Check(models[0].ModelID, gc.Equals, modelID)
	c.Check(models[0].JobID, gc.Equals, id)
	c.Check(models[0].Status, gc.Equals, status.Running)
	c.Check(models[0].Params, gc.Equals, `{"lr":0.1}`)
	c.Check(models[0].EngParamsHash, gc.Equals, makeHash(c, []byte("p-1")))
	c.Check(models[0].EngWorkerConnID, gc.Equals, sessionID.String())
}

func (s *stateSuite) TestInfoWithModelsNotFound(c *gc.C) {
	st := s.newState(c)
	_, _, err := st.InfoWithModels(context.Background(), 42)
	c.Assert(err, jc.ErrorIs, joberrors.NotFound)
}
