// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package state implements persistence for job rows.
//
// Mutations that act on behalf of a coordinator session are gated in SQL:
// the UPDATE matches only rows whose _eng_cjm_conn_id equals the session,
// and zero affected rows reports InvalidOwnership. Reads of the affected
// row count are therefore load-bearing, not diagnostics.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	coredatabase "github.com/juju/clientjobs/core/database"
	"github.com/juju/clientjobs/core/hash"
	"github.com/juju/clientjobs/core/session"
	"github.com/juju/clientjobs/core/status"
	"github.com/juju/clientjobs/domain"
	"github.com/juju/clientjobs/domain/job"
	joberrors "github.com/juju/clientjobs/domain/job/errors"
	"github.com/juju/clientjobs/domain/model"
	"github.com/juju/clientjobs/domain/schema"
)

// State exposes the job operations backed by the jobs table.
type State struct {
	*domain.StateBase
	sessionID session.ID
	logger    loggo.Logger
}

// NewState returns a job state backed by the input runner factory, acting
// as the input coordinator session.
func NewState(factory coredatabase.TxnRunnerFactory, sessionID session.ID) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
		sessionID: sessionID,
		logger:    loggo.GetLogger("clientjobs.job.state"),
	}
}

// SessionID returns the session under which gated mutations run.
func (s *State) SessionID() session.ID {
	return s.sessionID
}

// InsertOrGet inserts a job row for the input arguments, or returns the
// identifier of the existing row carrying the same (client, hash) identity.
// The insert is idempotent under retry: a replayed attempt whose insert was
// already committed resolves the identifier by identity lookup.
func (s *State) InsertOrGet(ctx context.Context, args job.InsertArgs, jobHash hash.Hash) (job.ID, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}

	var id job.ID
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		id, err = s.insertOrGet(ctx, tx, args, jobHash)
		return errors.Trace(err)
	})
	return id, errors.Trace(err)
}

// InsertUnique inserts a job row for the input arguments unless a row with
// the same (client, hash) identity already exists. An existing active row
// is returned as-is; an existing completed row has its client fields
// refreshed and is resumed, unless another coordinator got there first.
func (s *State) InsertUnique(ctx context.Context, args job.InsertArgs, jobHash hash.Hash) (job.ID, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}

	lookupStmt, err := s.Prepare(`
SELECT &jobStatusRow.* FROM jobs
WHERE  client = $jobIdentity.client AND job_hash = $jobIdentity.job_hash`,
		jobStatusRow{}, jobIdentity{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	reuseStmt, err := s.Prepare(`
UPDATE jobs
SET    client_info = $reuseJob.client_info,
       client_key = $reuseJob.client_key,
       cmd_line = $reuseJob.cmd_line,
       params = $reuseJob.params,
       minimum_workers = $reuseJob.minimum_workers,
       maximum_workers = $reuseJob.maximum_workers,
       priority = $reuseJob.priority,
       _eng_job_type = $reuseJob._eng_job_type
WHERE  job_id = $reuseJob.job_id AND status = 'completed'`, reuseJob{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	identity := jobIdentity{Client: args.Client, Hash: jobHash.Bytes()}

	var id job.ID
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var existing jobStatusRow
		err := tx.Query(ctx, lookupStmt, identity).Get(&existing)
		if errors.Is(err, sqlair.ErrNoRows) {
			id, err = s.insertOrGet(ctx, tx, args, jobHash)
			return errors.Trace(err)
		} else if err != nil {
			return errors.Trace(err)
		}

		id = job.ID(existing.ID)
		if status.Status(existing.Status) != status.Completed {
			// Still queued or running; nothing to do.
			return nil
		}

		reuse := reuseJob{
			ID:             existing.ID,
			ClientInfo:     args.ClientInfo,
			ClientKey:      args.ClientKey,
			CmdLine:        args.CmdLine,
			Params:         args.Params,
			MinimumWorkers: args.MinimumWorkers,
			MaximumWorkers: args.MaximumWorkers,
			Priority:       args.Priority,
			JobType:        string(args.Type),
		}
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, reuseStmt, reuse).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		if affected, err := outcome.Result().RowsAffected(); err != nil {
			return errors.Trace(err)
		} else if affected == 0 {
			s.logger.Infof("redundant job-reuse update: job %d restarted by another process or retried", id)
		}
		return errors.Trace(s.resume(ctx, tx, id, false))
	})
	return id, errors.Trace(err)
}

func (s *State) insertOrGet(ctx context.Context, tx *sqlair.TX, args job.InsertArgs, jobHash hash.Hash) (job.ID, error) {
	insertStmt, err := s.Prepare(`
INSERT INTO jobs (status, client, client_info, client_key, cmd_line, params,
                  job_hash, _eng_last_update_time, minimum_workers,
                  maximum_workers, priority, _eng_job_type)
VALUES ($insertJob.status, $insertJob.client, $insertJob.client_info,
        $insertJob.client_key, $insertJob.cmd_line, $insertJob.params,
        $insertJob.job_hash, DATETIME('now'), $insertJob.minimum_workers,
        $insertJob.maximum_workers, $insertJob.priority,
        $insertJob._eng_job_type)
ON CONFLICT (client, job_hash) DO NOTHING`, insertJob{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	lookupStmt, err := s.Prepare(`
SELECT &jobID.* FROM jobs
WHERE  client = $jobIdentity.client AND job_hash = $jobIdentity.job_hash`,
		jobID{}, jobIdentity{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	attachStmt, err := s.Prepare(`
UPDATE jobs
SET    _eng_cjm_conn_id = $sessionRef._eng_cjm_conn_id,
       start_time = DATETIME('now'),
       _eng_last_update_time = DATETIME('now')
WHERE  job_id = $jobID.job_id`, sessionRef{}, jobID{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	initStatus := status.NotStarted
	if args.AlreadyRunning {
		// testMode keeps the scheduler away from the row.
		initStatus = status.TestMode
	}
	row := insertJob{
		Status:         string(initStatus),
		Client:         args.Client,
		ClientInfo:     args.ClientInfo,
		ClientKey:      args.ClientKey,
		CmdLine:        args.CmdLine,
		Params:         args.Params,
		Hash:           jobHash.Bytes(),
		MinimumWorkers: args.MinimumWorkers,
		MaximumWorkers: args.MaximumWorkers,
		Priority:       args.Priority,
		JobType:        string(args.Type),
	}
	if err := tx.Query(ctx, insertStmt, row).Run(); err != nil {
		return 0, errors.Trace(err)
	}

	// The identity lookup resolves the identifier whether this attempt's
	// insert landed, a prior replayed attempt's did, or another process
	// won the identity.
	identity := jobIdentity{Client: args.Client, Hash: jobHash.Bytes()}
	var ident jobID
	if err := tx.Query(ctx, lookupStmt, identity).Get(&ident); err != nil {
		return 0, errors.Trace(err)
	}

	if args.AlreadyRunning {
		err := tx.Query(ctx, attachStmt,
			sessionRef{ConnID: s.sessionID.String()}, jobID{ID: ident.ID}).Run()
		if err != nil {
			return 0, errors.Trace(err)
		}
	}
	return job.ID(ident.ID), nil
}

// Resume returns a completed job to the queue. The job must exist and be
// in the completed status; losing the resume race to another coordinator
// is not an error.
func (s *State) Resume(ctx context.Context, id job.ID, alreadyRunning bool) error {
	db, err := s.DB(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	statusStmt, err := s.Prepare(`
SELECT &jobStatusRow.* FROM jobs WHERE job_id = $jobID.job_id`,
		jobStatusRow{}, jobID{})
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var row jobStatusRow
		err := tx.Query(ctx, statusStmt, jobID{ID: int64(id)}).Get(&row)
		if errors.Is(err, sqlair.ErrNoRows) {
			return fmt.Errorf("%w: job %d", joberrors.NotFound, id)
		} else if err != nil {
			return errors.Trace(err)
		}
		if status.Status(row.Status) != status.Completed {
			return errors.Errorf("cannot resume job %d: status is %q, not %q",
				id, row.Status, status.Completed)
		}
		return errors.Trace(s.resume(ctx, tx, id, alreadyRunning))
	}))
}

// resume resets a completed row's lifecycle fields so the scheduler will
// pick it up again. Zero affected rows means the job was not completed at
// update time or another process resumed it first; both are benign here.
func (s *State) resume(ctx context.Context, tx *sqlair.TX, id job.ID, alreadyRunning bool) error {
	const reset = `
UPDATE jobs
SET    status = $statusParam.status,
       completion_reason = NULL,
       completion_msg = NULL,
       worker_completion_reason = 'success',
       worker_completion_msg = NULL,
       end_time = NULL,
       cancel = FALSE,
       _eng_last_update_time = DATETIME('now'),
       _eng_allocate_new_workers = TRUE,
       _eng_untended_dead_workers = FALSE,
       num_failed_workers = 0,
       last_failed_worker_error_msg = NULL,
       _eng_cleaning_status = 'notdone',
`

	var (
		stmt *sqlair.Statement
		err  error
		args []any
	)
	if alreadyRunning {
		stmt, err = s.Prepare(reset+`
       _eng_cjm_conn_id = $sessionRef._eng_cjm_conn_id,
       start_time = DATETIME('now')
WHERE  job_id = $jobID.job_id AND status = 'completed'`,
			statusParam{}, sessionRef{}, jobID{})
		args = []any{
			statusParam{Status: string(status.TestMode)},
			sessionRef{ConnID: s.sessionID.String()},
			jobID{ID: int64(id)},
		}
	} else {
		stmt, err = s.Prepare(reset+`
       _eng_cjm_conn_id = NULL,
       start_time = NULL
WHERE  job_id = $jobID.job_id AND status = 'completed'`,
			statusParam{}, jobID{})
		args = []any{
			statusParam{Status: string(status.NotStarted)},
			jobID{ID: int64(id)},
		}
	}
	if err != nil {
		return errors.Trace(err)
	}

	var outcome sqlair.Outcome
	if err := tx.Query(ctx, stmt, args...).Get(&outcome); err != nil {
		return errors.Trace(err)
	}
	if affected, err := outcome.Result().RowsAffected(); err != nil {
		return errors.Trace(err)
	} else if affected == 0 {
		s.logger.Infof("redundant job-resume update: job %d was not suspended or was resumed elsewhere", id)
	}
	return nil
}

// StartNext claims one queued job for this session and moves it to the
// running status. NotFound is returned when the queue is empty, and also
// when another coordinator claims the candidate between the select and the
// gated update.
func (s *State) StartNext(ctx context.Context) (job.ID, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}

	candidateStmt, err := s.Prepare(`
SELECT   &jobID.* FROM jobs
WHERE    status = 'notStarted'
ORDER BY priority DESC, job_id
LIMIT    1`, jobID{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	var id job.ID
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var candidate jobID
		err := tx.Query(ctx, candidateStmt).Get(&candidate)
		if errors.Is(err, sqlair.ErrNoRows) {
			return fmt.Errorf("%w: no queued jobs", joberrors.NotFound)
		} else if err != nil {
			return errors.Trace(err)
		}

		claimed, err := s.start(ctx, tx, job.ID(candidate.ID))
		if err != nil {
			return errors.Trace(err)
		}
		if !claimed {
			return fmt.Errorf("%w: job %d claimed by another coordinator",
				joberrors.NotFound, candidate.ID)
		}
		id = job.ID(candidate.ID)
		return nil
	})
	return id, errors.Trace(err)
}

// Start claims the input queued job for this session. NotFound is returned
// when the job does not exist or is no longer queued.
func (s *State) Start(ctx context.Context, id job.ID) error {
	db, err := s.DB(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		claimed, err := s.start(ctx, tx, id)
		if err != nil {
			return errors.Trace(err)
		}
		if !claimed {
			return fmt.Errorf("%w: job %d is not queued", joberrors.NotFound, id)
		}
		return nil
	}))
}

func (s *State) start(ctx context.Context, tx *sqlair.TX, id job.ID) (bool, error) {
	stmt, err := s.Prepare(`
UPDATE jobs
SET    status = 'running',
       _eng_cjm_conn_id = $sessionRef._eng_cjm_conn_id,
       start_time = DATETIME('now'),
       _eng_last_update_time = DATETIME('now')
WHERE  job_id = $jobID.job_id AND status = 'notStarted'`, sessionRef{}, jobID{})
	if err != nil {
		return false, errors.Trace(err)
	}

	var outcome sqlair.Outcome
	err = tx.Query(ctx, stmt,
		sessionRef{ConnID: s.sessionID.String()}, jobID{ID: int64(id)}).Get(&outcome)
	if err != nil {
		return false, errors.Trace(err)
	}
	affected, err := outcome.Result().RowsAffected()
	if err != nil {
		return false, errors.Trace(err)
	}
	return affected == 1, nil
}

// ReactivateRunningJobs adopts every running job into this session and
// re-enables worker allocation for it. The scheduler calls this when
// recovering from a restart.
func (s *State) ReactivateRunningJobs(ctx context.Context) error {
	db, err := s.DB(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(`
UPDATE jobs
SET    _eng_cjm_conn_id = $sessionRef._eng_cjm_conn_id,
       _eng_allocate_new_workers = TRUE
WHERE  status = 'running'`, sessionRef{})
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt, sessionRef{ConnID: s.sessionID.String()}).Run()
	}))
}

// GetDemand returns the worker demand of every running job.
func (s *State) GetDemand(ctx context.Context) ([]job.Demand, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT &demandRow.* FROM jobs WHERE status = 'running'`, demandRow{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []demandRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	demand := make([]job.Demand, len(rows))
	for i, row := range rows {
		demand[i] = row.toDemand()
	}
	return demand, nil
}

// CancelAllRunningJobs raises the cancel flag on every job that has not
// completed.
func (s *State) CancelAllRunningJobs(ctx context.Context) error {
	db, err := s.DB(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(`
UPDATE jobs SET cancel = TRUE WHERE status <> 'completed'`)
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt).Run()
	}))
}

// CountCancellingJobs returns the number of active jobs whose cancel flag
// is raised.
func (s *State) CountCancellingJobs(ctx context.Context) (int64, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT COUNT(job_id) AS &count.count FROM jobs
WHERE  status <> 'completed' AND cancel = TRUE`, count{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	var n count
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt).Get(&n))
	})
	return n.Count, errors.Trace(err)
}

// GetCancellingJobs returns the identifiers of active jobs whose cancel
// flag is raised.
func (s *State) GetCancellingJobs(ctx context.Context) ([]job.ID, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT &jobID.* FROM jobs
WHERE  status <> 'completed' AND cancel = TRUE`, jobID{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []jobID
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	ids := make([]job.ID, len(rows))
	for i, row := range rows {
		ids[i] = job.ID(row.ID)
	}
	return ids, nil
}

// Info returns the full public form of the input job.
func (s *State) Info(ctx context.Context, id job.ID) (job.Info, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return job.Info{}, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT &jobRow.* FROM jobs WHERE job_id = $jobID.job_id`, jobRow{}, jobID{})
	if err != nil {
		return job.Info{}, errors.Trace(err)
	}

	var row jobRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, jobID{ID: int64(id)}).Get(&row)
		if errors.Is(err, sqlair.ErrNoRows) {
			return fmt.Errorf("%w: job %d", joberrors.NotFound, id)
		}
		return errors.Trace(err)
	})
	if err != nil {
		return job.Info{}, errors.Trace(err)
	}
	return row.toInfo(), nil
}

// InfoWithModels returns the input job's row together with all of its
// model rows, read in one join so the pair is a single snapshot. A job
// with no models yet is returned with an empty model list.
func (s *State) InfoWithModels(ctx context.Context, id job.ID) (job.Info, []model.Info, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return job.Info{}, nil, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT    j.* AS &jobRow.*,
          m.* AS &joinedModelRow.*
FROM      jobs j
LEFT JOIN models m ON m.job_id = j.job_id
WHERE     j.job_id = $jobID.job_id
ORDER BY  m.model_id`, jobRow{}, joinedModelRow{}, jobID{})
	if err != nil {
		return job.Info{}, nil, errors.Trace(err)
	}

	var (
		jobRows   []jobRow
		modelRows []joinedModelRow
	)
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, jobID{ID: int64(id)}).GetAll(&jobRows, &modelRows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return fmt.Errorf("%w: job %d", joberrors.NotFound, id)
		}
		return errors.Trace(err)
	})
	if err != nil {
		return job.Info{}, nil, errors.Trace(err)
	}

	var models []model.Info
	for _, row := range modelRows {
		if !row.ID.Valid {
			continue
		}
		models = append(models, row.toInfo())
	}
	return jobRows[0].toInfo(), models, nil
}

// SetStatus moves the input job to the input status. With useSession set,
// the update is gated on this session owning the job and InvalidOwnership
// is returned when it does not.
func (s *State) SetStatus(ctx context.Context, id job.ID, newStatus status.Status, useSession bool) error {
	db, err := s.DB(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	const update = `
UPDATE jobs
SET    status = $statusParam.status,
       _eng_last_update_time = DATETIME('now')
WHERE  job_id = $jobID.job_id`

	var (
		stmt *sqlair.Statement
		args []any
	)
	if useSession {
		stmt, err = s.Prepare(update+` AND _eng_cjm_conn_id = $sessionRef._eng_cjm_conn_id`,
			statusParam{}, jobID{}, sessionRef{})
		args = []any{
			statusParam{Status: string(newStatus)},
			jobID{ID: int64(id)},
			sessionRef{ConnID: s.sessionID.String()},
		}
	} else {
		stmt, err = s.Prepare(update, statusParam{}, jobID{})
		args = []any{statusParam{Status: string(newStatus)}, jobID{ID: int64(id)}}
	}
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, args...).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		if affected, err := outcome.Result().RowsAffected(); err != nil {
			return errors.Trace(err)
		} else if affected == 0 {
			if useSession {
				return fmt.Errorf("%w: cannot set status of job %d", joberrors.InvalidOwnership, id)
			}
			return fmt.Errorf("%w: job %d", joberrors.NotFound, id)
		}
		return nil
	}))
}

// SetCompleted moves the input job to the completed status, recording the
// reason and message and stamping the end time. With useSession set, the
// update is gated on this session owning the job.
func (s *State) SetCompleted(ctx context.Context, id job.ID, reason status.CompletionReason, msg string, useSession bool) error {
	db, err := s.DB(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	const update = `
UPDATE jobs
SET    status = $completion.status,
       completion_reason = $completion.completion_reason,
       completion_msg = $completion.completion_msg,
       end_time = DATETIME('now'),
       _eng_last_update_time = DATETIME('now')
WHERE  job_id = $jobID.job_id`

	var (
		stmt *sqlair.Statement
		args []any
	)
	done := completion{
		Status: string(status.Completed),
		Reason: string(reason),
		Msg:    msg,
	}
	if useSession {
		stmt, err = s.Prepare(update+` AND _eng_cjm_conn_id = $sessionRef._eng_cjm_conn_id`,
			completion{}, jobID{}, sessionRef{})
		args = []any{done, jobID{ID: int64(id)}, sessionRef{ConnID: s.sessionID.String()}}
	} else {
		stmt, err = s.Prepare(update, completion{}, jobID{})
		args = []any{done, jobID{ID: int64(id)}}
	}
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, args...).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		if affected, err := outcome.Result().RowsAffected(); err != nil {
			return errors.Trace(err)
		} else if affected == 0 {
			if useSession {
				return fmt.Errorf("%w: cannot complete job %d", joberrors.InvalidOwnership, id)
			}
			return fmt.Errorf("%w: job %d", joberrors.NotFound, id)
		}
		return nil
	}))
}

// UpdateResults replaces the job's results blob and bumps its update time.
func (s *State) UpdateResults(ctx context.Context, id job.ID, res string) error {
	db, err := s.DB(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(`
UPDATE jobs
SET    _eng_last_update_time = DATETIME('now'),
       results = $results.results
WHERE  job_id = $jobID.job_id`, results{}, jobID{})
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt, results{Results: res}, jobID{ID: int64(id)}).Run()
	}))
}

// ActiveCountForClientInfo returns the number of jobs carrying the input
// client info that have not completed.
func (s *State) ActiveCountForClientInfo(ctx context.Context, clientInfo string) (int64, error) {
	return s.activeCount(ctx, `
SELECT COUNT(job_id) AS &count.count FROM jobs
WHERE  client_info = $qualifier.client_info AND status <> 'completed'`,
		qualifier{ClientInfo: clientInfo})
}

// ActiveCountForClientKey returns the number of jobs carrying the input
// client key that have not completed.
func (s *State) ActiveCountForClientKey(ctx context.Context, clientKey string) (int64, error) {
	return s.activeCount(ctx, `
SELECT COUNT(job_id) AS &count.count FROM jobs
WHERE  client_key = $qualifier.client_key AND status <> 'completed'`,
		qualifier{ClientKey: clientKey})
}

func (s *State) activeCount(ctx context.Context, query string, q qualifier) (int64, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}

	stmt, err := s.Prepare(query, count{}, qualifier{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	var n count
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, q).Get(&n))
	})
	return n.Count, errors.Trace(err)
}

// FieldRow pairs a job identifier with requested field values, in the
// order the fields were requested.
type FieldRow struct {
	JobID  job.ID
	Values []any
}

// GetFields returns the values of the named public fields of one job.
func (s *State) GetFields(ctx context.Context, id job.ID, fields []string) ([]any, error) {
	rows, err := s.GetFieldsForMany(ctx, []job.ID{id}, fields, true)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return rows[0].Values, nil
}

// GetFieldsForMany returns the values of the named public fields for each
// of the input jobs. Results are not ordered by the input. With requireAll
// set, any missing identifier yields NotFound.
func (s *State) GetFieldsForMany(ctx context.Context, ids []job.ID, fields []string, requireAll bool) ([]FieldRow, error) {
	if len(ids) == 0 {
		return nil, errors.NotValidf("empty job ID list")
	}
	if len(fields) == 0 {
		return nil, errors.NotValidf("empty field list")
	}
	cols, err := storageColumns(fields)
	if err != nil {
		return nil, errors.Trace(err)
	}

	db, err := s.DB(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	query := fmt.Sprintf(`SELECT job_id, %s FROM jobs WHERE job_id IN (%s)`,
		strings.Join(cols, ", "), placeholders(len(ids)))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}

	var out []FieldRow
	err = db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return errors.Trace(err)
		}
		defer rows.Close()

		out, err = collectFieldRows(rows, len(cols))
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	if requireAll && len(out) < len(ids) {
		missing := make(map[job.ID]bool, len(ids))
		for _, id := range ids {
			missing[id] = true
		}
		for _, row := range out {
			delete(missing, row.JobID)
		}
		return nil, fmt.Errorf("%w: jobs %v", joberrors.NotFound, keysOf(missing))
	}
	return out, nil
}

// SetFields assigns the input public field values on one job. With
// useSession set, the update is gated on this session owning the job.
// Zero affected rows is an error unless ignoreUnchanged is set; on some
// engines an update that leaves every value unchanged reports zero rows.
func (s *State) SetFields(ctx context.Context, id job.ID, fields map[string]any, useSession, ignoreUnchanged bool) error {
	if len(fields) == 0 {
		return errors.NotValidf("empty field assignment")
	}

	pubToDB := schema.Jobs.PublicToStorage()
	assignments := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+2)
	for pub, value := range fields {
		col, ok := pubToDB[pub]
		if !ok {
			return fmt.Errorf("%w: %q", joberrors.InvalidField, pub)
		}
		assignments = append(assignments, col+" = ?")
		args = append(args, value)
	}

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE job_id = ?`, strings.Join(assignments, ", "))
	args = append(args, int64(id))
	if useSession {
		query += ` AND _eng_cjm_conn_id = ?`
		args = append(args, s.sessionID.String())
	}

	db, err := s.DB(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return errors.Trace(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		if affected == 0 && !ignoreUnchanged {
			if useSession {
				return fmt.Errorf("%w: cannot set fields of job %d", joberrors.InvalidOwnership, id)
			}
			return fmt.Errorf("%w: job %d", joberrors.NotFound, id)
		}
		return nil
	}))
}

// SetFieldIfEqual assigns newValue to the named public field of one job,
// but only if the field currently holds curValue. It reports whether the
// assignment happened. Workers use it as a cheap election: qualifying on
// the current value elects a single winner per sweep.
func (s *State) SetFieldIfEqual(ctx context.Context, id job.ID, field string, newValue, curValue any) (bool, error) {
	col, err := storageColumn(field)
	if err != nil {
		return false, errors.Trace(err)
	}

	var (
		condition string
		args      []any
	)
	args = append(args, newValue, int64(id))
	switch v := curValue.(type) {
	case bool:
		if v {
			condition = col + " = TRUE"
		} else {
			condition = col + " = FALSE"
		}
	case nil:
		condition = col + " IS NULL"
	default:
		condition = col + " = ?"
		args = append(args, curValue)
	}

	query := fmt.Sprintf(
		`UPDATE jobs SET _eng_last_update_time = DATETIME('now'), %s = ? WHERE job_id = ? AND %s`,
		col, condition)

	db, err := s.DB(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}

	var won bool
	err = db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return errors.Trace(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		won = affected == 1
		return nil
	})
	return won, errors.Trace(err)
}

// IncrementIntField adds increment to the named public integer field of
// one job. With useSession set, the update is gated on this session owning
// the job.
func (s *State) IncrementIntField(ctx context.Context, id job.ID, field string, increment int64, useSession bool) error {
	col, err := storageColumn(field)
	if err != nil {
		return errors.Trace(err)
	}

	query := fmt.Sprintf(`UPDATE jobs SET %s = %s + ? WHERE job_id = ?`, col, col)
	args := []any{increment, int64(id)}
	if useSession {
		query += ` AND _eng_cjm_conn_id = ?`
		args = append(args, s.sessionID.String())
	}

	db, err := s.DB(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return errors.Trace(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		if affected == 0 {
			if useSession {
				return fmt.Errorf("%w: cannot increment %q of job %d", joberrors.InvalidOwnership, field, id)
			}
			return fmt.Errorf("%w: job %d", joberrors.NotFound, id)
		}
		return nil
	}))
}

// ActiveForClientInfo returns job identifiers and the named public fields
// for jobs carrying the input client info that have not completed.
func (s *State) ActiveForClientInfo(ctx context.Context, clientInfo string, fields []string) ([]FieldRow, error) {
	return s.selectFieldRows(ctx, fields,
		`WHERE client_info = ? AND status <> 'completed'`, clientInfo)
}

// ActiveForClientKey returns job identifiers and the named public fields
// for jobs carrying the input client key that have not completed.
func (s *State) ActiveForClientKey(ctx context.Context, clientKey string, fields []string) ([]FieldRow, error) {
	return s.selectFieldRows(ctx, fields,
		`WHERE client_key = ? AND status <> 'completed'`, clientKey)
}

// GetJobs returns identifiers and the named public fields of every job.
func (s *State) GetJobs(ctx context.Context, fields []string) ([]FieldRow, error) {
	return s.selectFieldRows(ctx, fields, "")
}

// FieldsForActiveJobsOfType returns identifiers and the named public job
// fields for active jobs of the input type, joined against their models.
func (s *State) FieldsForActiveJobsOfType(ctx context.Context, jobType job.Type, fields []string) ([]FieldRow, error) {
	cols, err := storageColumns(fields)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for i, col := range cols {
		cols[i] = "j." + col
	}

	query := fmt.Sprintf(`
SELECT DISTINCT j.job_id%s
FROM   jobs j
LEFT JOIN models m ON m.job_id = j.job_id
WHERE  j.status <> 'completed' AND j._eng_job_type = ?`, prefixJoin(cols))

	return s.queryFieldRows(ctx, query, len(cols), string(jobType))
}

func (s *State) selectFieldRows(ctx context.Context, fields []string, where string, args ...any) ([]FieldRow, error) {
	cols, err := storageColumns(fields)
	if err != nil {
		return nil, errors.Trace(err)
	}
	query := fmt.Sprintf(`SELECT job_id%s FROM jobs %s`, prefixJoin(cols), where)
	return s.queryFieldRows(ctx, query, len(cols), args...)
}

func (s *State) queryFieldRows(ctx context.Context, query string, numCols int, args ...any) ([]FieldRow, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var out []FieldRow
	err = db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return errors.Trace(err)
		}
		defer rows.Close()

		out, err = collectFieldRows(rows, numCols)
		return errors.Trace(err)
	})
	return out, errors.Trace(err)
}

func collectFieldRows(rows *sql.Rows, numCols int) ([]FieldRow, error) {
	var out []FieldRow
	for rows.Next() {
		var id int64
		vals := make([]any, numCols)
		dest := make([]any, 0, numCols+1)
		dest = append(dest, &id)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, FieldRow{JobID: job.ID(id), Values: vals})
	}
	return out, errors.Trace(rows.Err())
}

func storageColumn(field string) (string, error) {
	col, ok := schema.Jobs.PublicToStorage()[field]
	if !ok {
		return "", fmt.Errorf("%w: %q", joberrors.InvalidField, field)
	}
	return col, nil
}

func storageColumns(fields []string) ([]string, error) {
	cols := make([]string, len(fields))
	for i, f := range fields {
		col, err := storageColumn(f)
		if err != nil {
			return nil, errors.Trace(err)
		}
		cols[i] = col
	}
	return cols, nil
}

func prefixJoin(cols []string) string {
	if len(cols) == 0 {
		return ""
	}
	return ", " + strings.Join(cols, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func keysOf(m map[job.ID]bool) []job.ID {
	ids := make([]job.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}
