// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package state implements persistence for model rows.
//
// A model's identity within its job is its pair of content hashes, each
// under a UNIQUE constraint. Insertion never retries a bare INSERT: the
// constraint makes duplicate detection an insert outcome, and a reconcile
// step resolves who owns the surviving row.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/canonical/sqlair"
	"github.com/juju/collections/transform"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	coredatabase "github.com/juju/clientjobs/core/database"
	"github.com/juju/clientjobs/core/hash"
	"github.com/juju/clientjobs/core/session"
	"github.com/juju/clientjobs/core/status"
	"github.com/juju/clientjobs/domain"
	"github.com/juju/clientjobs/domain/job"
	"github.com/juju/clientjobs/domain/model"
	modelerrors "github.com/juju/clientjobs/domain/model/errors"
	"github.com/juju/clientjobs/domain/schema"
	internaldatabase "github.com/juju/clientjobs/internal/database"
)

// State exposes the model operations backed by the models table.
type State struct {
	*domain.StateBase
	sessionID session.ID
	logger    loggo.Logger
}

// NewState returns a model state backed by the input runner factory,
// acting as the input worker session.
func NewState(factory coredatabase.TxnRunnerFactory, sessionID session.ID) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
		sessionID: sessionID,
		logger:    loggo.GetLogger("clientjobs.model.state"),
	}
}

// SessionID returns the session under which gated mutations run.
func (s *State) SessionID() session.ID {
	return s.sessionID
}

// InsertAndStart inserts a model under the input job in the running state,
// owned by this session, and reports whether this call created it. If a
// model with either identity hash already exists under the job, its
// identifier is returned instead.
//
// The pre-check and the insert run in separate transactions on purpose: a
// transient failure after a committed insert replays only the insert
// closure, whose reconcile step recognises rows this session already owns.
func (s *State) InsertAndStart(ctx context.Context, jobID job.ID, params string, paramsHash, particleHash hash.Hash) (model.ID, bool, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return 0, false, errors.Trace(err)
	}

	matchStmt, err := s.Prepare(`
SELECT &modelMatch.* FROM models
WHERE  job_id = $modelIdentity.job_id
       AND _eng_params_hash = $modelIdentity._eng_params_hash
       AND _eng_particle_hash = $modelIdentity._eng_particle_hash`,
		modelMatch{}, modelIdentity{})
	if err != nil {
		return 0, false, errors.Trace(err)
	}

	insertStmt, err := s.Prepare(`
INSERT INTO models (job_id, params, status, _eng_params_hash,
                    _eng_particle_hash, start_time, _eng_last_update_time,
                    _eng_worker_conn_id)
VALUES ($insertModel.job_id, $insertModel.params, $insertModel.status,
        $insertModel._eng_params_hash, $insertModel._eng_particle_hash,
        DATETIME('now'), DATETIME('now'), $insertModel._eng_worker_conn_id)`,
		insertModel{})
	if err != nil {
		return 0, false, errors.Trace(err)
	}

	looseStmt, err := s.Prepare(`
SELECT &modelID.* FROM models
WHERE  job_id = $modelIdentity.job_id
       AND (_eng_params_hash = $modelIdentity._eng_params_hash
            OR _eng_particle_hash = $modelIdentity._eng_particle_hash)
LIMIT  1`, modelID{}, modelIdentity{})
	if err != nil {
		return 0, false, errors.Trace(err)
	}

	identity := modelIdentity{
		JobID:        int64(jobID),
		ParamsHash:   paramsHash.Bytes(),
		ParticleHash: particleHash.Bytes(),
	}

	// A retry may replay a committed insert, so the row's presence alone
	// cannot tell us who created it. Check before inserting.
	var (
		found bool
		match modelMatch
	)
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, matchStmt, identity).Get(&match)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		found = err == nil
		return errors.Trace(err)
	})
	if err != nil {
		return 0, false, errors.Trace(err)
	}
	if found {
		return model.ID(match.ID), false, nil
	}

	var (
		id      model.ID
		created bool
	)
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		row := insertModel{
			JobID:        int64(jobID),
			Params:       params,
			Status:       string(status.Running),
			ParamsHash:   paramsHash.Bytes(),
			ParticleHash: particleHash.Bytes(),
			ConnID:       s.sessionID.String(),
		}
		var outcome sqlair.Outcome
		err := tx.Query(ctx, insertStmt, row).Get(&outcome)
		if internaldatabase.IsErrConstraintUnique(err) {
			// Another process holds one of the hashes, or this is a
			// replay of our own committed insert. Reconcile below.
			s.logger.Infof("model insert hit duplicate identity: job=%d", jobID)
		} else if err != nil {
			return errors.Trace(err)
		} else {
			lastID, err := outcome.Result().LastInsertId()
			if err != nil {
				return errors.Trace(err)
			}
			id, created = model.ID(lastID), true
			return nil
		}

		// Exact identity match: ownership decides whether the row counts
		// as created by this call.
		var match modelMatch
		err = tx.Query(ctx, matchStmt, identity).Get(&match)
		if err == nil {
			id = model.ID(match.ID)
			created = match.ConnID.Valid && session.ID(match.ConnID.String) == s.sessionID
			return nil
		} else if !errors.Is(err, sqlair.ErrNoRows) {
			return errors.Trace(err)
		}

		// One hash collided but not both; surface the holder.
		var loose modelID
		if err := tx.Query(ctx, looseStmt, identity).Get(&loose); err != nil {
			return errors.Trace(err)
		}
		id, created = model.ID(loose.ID), false
		return nil
	})
	return id, created, errors.Trace(err)
}

// Infos returns everything recorded about each of the input models.
// Results are not ordered by the input; any missing identifier yields
// NotFound.
func (s *State) Infos(ctx context.Context, ids []model.ID) ([]model.Info, error) {
	if len(ids) == 0 {
		return nil, errors.NotValidf("empty model ID list")
	}
	db, err := s.DB(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT &modelRow.* FROM models WHERE model_id IN ($modelIDs[:])`,
		modelRow{}, modelIDs{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []modelRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, toModelIDs(ids)).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	if err := requireAllModels(ids, transform.Slice(rows, func(r modelRow) model.ID {
		return model.ID(r.ID)
	})); err != nil {
		return nil, errors.Trace(err)
	}
	return transform.Slice(rows, modelRow.toInfo), nil
}

// GetParams returns the parameter sets and identity hashes of the input
// models. Results are not ordered by the input; any missing identifier
// yields NotFound.
func (s *State) GetParams(ctx context.Context, ids []model.ID) ([]model.ParamsInfo, error) {
	if len(ids) == 0 {
		return nil, errors.NotValidf("empty model ID list")
	}
	db, err := s.DB(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT &paramsRow.* FROM models WHERE model_id IN ($modelIDs[:])`,
		paramsRow{}, modelIDs{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []paramsRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, toModelIDs(ids)).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	if err := requireAllModels(ids, transform.Slice(rows, func(r paramsRow) model.ID {
		return model.ID(r.ID)
	})); err != nil {
		return nil, errors.Trace(err)
	}
	return transform.Slice(rows, paramsRow.toParamsInfo), nil
}

// GetResultAndStatus returns the progress projection of the input models.
// Results are not ordered by the input; any missing identifier yields
// NotFound.
func (s *State) GetResultAndStatus(ctx context.Context, ids []model.ID) ([]model.ResultAndStatus, error) {
	if len(ids) == 0 {
		return nil, errors.NotValidf("empty model ID list")
	}
	db, err := s.DB(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT &resultAndStatusRow.* FROM models WHERE model_id IN ($modelIDs[:])`,
		resultAndStatusRow{}, modelIDs{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []resultAndStatusRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, toModelIDs(ids)).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	if err := requireAllModels(ids, transform.Slice(rows, func(r resultAndStatusRow) model.ID {
		return model.ID(r.ID)
	})); err != nil {
		return nil, errors.Trace(err)
	}
	return transform.Slice(rows, resultAndStatusRow.toResultAndStatus), nil
}

// GetUpdateCounters returns the update counter of every model under the
// input job. The result may be empty: a job's workers create models some
// time after the job row appears.
func (s *State) GetUpdateCounters(ctx context.Context, jobID job.ID) ([]model.UpdateCounters, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT &updateCounterRow.* FROM models WHERE job_id = $jobRef.job_id`,
		updateCounterRow{}, jobRef{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []updateCounterRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, jobRef{JobID: int64(jobID)}).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return transform.Slice(rows, func(r updateCounterRow) model.UpdateCounters {
		return model.UpdateCounters{ModelID: model.ID(r.ID), UpdateCounter: r.UpdateCounter}
	}), nil
}

// IDsForJob returns the identifiers of every model under the input job.
func (s *State) IDsForJob(ctx context.Context, jobID job.ID) ([]model.ID, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT &modelID.* FROM models WHERE job_id = $jobRef.job_id`,
		modelID{}, jobRef{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []modelID
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, jobRef{JobID: int64(jobID)}).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return transform.Slice(rows, func(r modelID) model.ID { return model.ID(r.ID) }), nil
}

// UpdateResults applies an owner's periodic report to one model: any of
// the results blob, optimized metric and record count, plus the update
// counter bump and timestamp refresh. The update is gated on this session
// owning the model. A NaN metric is dropped rather than stored.
func (s *State) UpdateResults(ctx context.Context, id model.ID, updates model.ResultUpdates) error {
	assignments := []string{
		"_eng_last_update_time = DATETIME('now')",
		"update_counter = update_counter + 1",
	}
	var args []any
	if updates.Results != nil {
		assignments = append(assignments, "results = ?")
		args = append(args, *updates.Results)
	}
	if updates.NumRecords != nil {
		assignments = append(assignments, "num_records = ?")
		args = append(args, *updates.NumRecords)
	}
	if updates.MetricValue != nil && !math.IsNaN(*updates.MetricValue) {
		assignments = append(assignments, "optimized_metric = ?")
		args = append(args, *updates.MetricValue)
	}

	query := fmt.Sprintf(
		`UPDATE models SET %s WHERE model_id = ? AND _eng_worker_conn_id = ?`,
		strings.Join(assignments, ", "))
	args = append(args, int64(id), s.sessionID.String())

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
		if affected != 1 {
			return fmt.Errorf("%w: cannot update results of model %d", modelerrors.InvalidOwnership, id)
		}
		return nil
	}))
}

// UpdateTimestamp refreshes one model's last-update time, bumping the
// update counter like any other progress write. Owners call this as a
// heartbeat between result reports so the model is not mistaken for an
// orphan and sweepers watching the counters see it as live. The update is
// gated on this session owning the model.
func (s *State) UpdateTimestamp(ctx context.Context, id model.ID) error {
	db, err := s.DB(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(`
UPDATE models
SET    _eng_last_update_time = DATETIME('now'),
       update_counter = update_counter + 1
WHERE  model_id = $modelID.model_id
       AND _eng_worker_conn_id = $sessionRef._eng_worker_conn_id`,
		modelID{}, sessionRef{})
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		err := tx.Query(ctx, stmt,
			modelID{ID: int64(id)}, sessionRef{ConnID: s.sessionID.String()}).Get(&outcome)
		if err != nil {
			return errors.Trace(err)
		}
		if affected, err := outcome.Result().RowsAffected(); err != nil {
			return errors.Trace(err)
		} else if affected != 1 {
			return fmt.Errorf("%w: cannot touch model %d", modelerrors.InvalidOwnership, id)
		}
		return nil
	}))
}

// SetCompleted marks one model completed with the input reason, message
// and accumulated CPU time, bumping the update counter. With useSession
// set, the update is gated on this session owning the model; hypersearch
// workers rely on that gate for orphan detection.
func (s *State) SetCompleted(ctx context.Context, id model.ID, reason status.CompletionReason, msg string, cpuTime float64, useSession bool) error {
	db, err := s.DB(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	const update = `
UPDATE models
SET    status = $modelCompletion.status,
       completion_reason = $modelCompletion.completion_reason,
       completion_msg = $modelCompletion.completion_msg,
       end_time = DATETIME('now'),
       cpu_time = $modelCompletion.cpu_time,
       _eng_last_update_time = DATETIME('now'),
       update_counter = update_counter + 1
WHERE  model_id = $modelID.model_id`

	var (
		stmt *sqlair.Statement
		args []any
	)
	done := modelCompletion{
		Status:  string(status.Completed),
		Reason:  string(reason),
		Msg:     msg,
		CPUTime: cpuTime,
	}
	if useSession {
		stmt, err = s.Prepare(update+` AND _eng_worker_conn_id = $sessionRef._eng_worker_conn_id`,
			modelCompletion{}, modelID{}, sessionRef{})
		args = []any{done, modelID{ID: int64(id)}, sessionRef{ConnID: s.sessionID.String()}}
	} else {
		stmt, err = s.Prepare(update, modelCompletion{}, modelID{})
		args = []any{done, modelID{ID: int64(id)}}
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
		} else if affected != 1 {
			if useSession {
				return fmt.Errorf("%w: cannot complete model %d", modelerrors.InvalidOwnership, id)
			}
			return fmt.Errorf("%w: model %d", modelerrors.NotFound, id)
		}
		return nil
	}))
}

// AdoptNextOrphan transfers ownership of one orphaned model under the
// input job to this session and returns its identifier. A model is
// orphaned when it is still running but its owner has not touched it for
// more than maxUpdateInterval seconds. NotFound is returned when no such
// model exists.
func (s *State) AdoptNextOrphan(ctx context.Context, jobID job.ID, maxUpdateInterval int64) (model.ID, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}

	candidateStmt, err := s.Prepare(`
SELECT &modelID.* FROM models
WHERE  status = 'running'
       AND job_id = $jobRef.job_id
       AND (STRFTIME('%s', 'now') - STRFTIME('%s', _eng_last_update_time)) > $ageLimit.max_update_interval
LIMIT  1`, modelID{}, jobRef{}, ageLimit{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	adoptStmt, err := s.Prepare(`
UPDATE models
SET    _eng_worker_conn_id = $sessionRef._eng_worker_conn_id,
       _eng_last_update_time = DATETIME('now')
WHERE  model_id = $modelID.model_id
       AND status = 'running'
       AND (STRFTIME('%s', 'now') - STRFTIME('%s', _eng_last_update_time)) > $ageLimit.max_update_interval`,
		sessionRef{}, modelID{}, ageLimit{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	ownerStmt, err := s.Prepare(`
SELECT &modelOwnership.* FROM models WHERE model_id = $modelID.model_id`,
		modelOwnership{}, modelID{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	ref := jobRef{JobID: int64(jobID)}
	age := ageLimit{Seconds: maxUpdateInterval}

	// Candidates may be claimed by other workers between the select and
	// the gated update, so keep going until we win one or run out.
	for {
		var candidate modelID
		err := db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
			return errors.Trace(tx.Query(ctx, candidateStmt, ref, age).Get(&candidate))
		})
		if errors.Is(err, sqlair.ErrNoRows) {
			return 0, fmt.Errorf("%w: no orphaned models in job %d", modelerrors.NotFound, jobID)
		} else if err != nil {
			return 0, errors.Trace(err)
		}

		var adopted bool
		err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
			var outcome sqlair.Outcome
			err := tx.Query(ctx, adoptStmt,
				sessionRef{ConnID: s.sessionID.String()}, candidate, age).Get(&outcome)
			if err != nil {
				return errors.Trace(err)
			}
			affected, err := outcome.Result().RowsAffected()
			if err != nil {
				return errors.Trace(err)
			}
			if affected == 1 {
				adopted = true
				return nil
			}

			// Zero rows could mean either a lost race or a replay of an
			// adoption that already committed. Ownership disambiguates.
			var owner modelOwnership
			if err := tx.Query(ctx, ownerStmt, candidate).Get(&owner); err != nil {
				return errors.Trace(err)
			}
			adopted = status.Status(owner.Status) == status.Running &&
				owner.ConnID.Valid && session.ID(owner.ConnID.String) == s.sessionID
			return nil
		})
		if err != nil {
			return 0, errors.Trace(err)
		}
		if adopted {
			return model.ID(candidate.ID), nil
		}
	}
}

// FieldRow pairs a model identifier with requested field values, in the
// order the fields were requested.
type FieldRow struct {
	ModelID model.ID
	Values  []any
}

// GetFields returns the values of the named public fields of one model.
func (s *State) GetFields(ctx context.Context, id model.ID, fields []string) ([]any, error) {
	rows, err := s.GetFieldsForMany(ctx, []model.ID{id}, fields)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return rows[0].Values, nil
}

// GetFieldsForMany returns the values of the named public fields for each
// of the input models. Results are not ordered by the input; any missing
// identifier yields NotFound.
func (s *State) GetFieldsForMany(ctx context.Context, ids []model.ID, fields []string) ([]FieldRow, error) {
	if len(ids) == 0 {
		return nil, errors.NotValidf("empty model ID list")
	}
	if len(fields) == 0 {
		return nil, errors.NotValidf("empty field list")
	}
	cols, err := storageColumns(fields)
	if err != nil {
		return nil, errors.Trace(err)
	}

	query := fmt.Sprintf(`SELECT model_id, %s FROM models WHERE model_id IN (%s)`,
		strings.Join(cols, ", "), placeholders(len(ids)))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}

	out, err := s.queryFieldRows(ctx, query, len(cols), args...)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if err := requireAllModels(ids, transform.Slice(out, func(r FieldRow) model.ID {
		return r.ModelID
	})); err != nil {
		return nil, errors.Trace(err)
	}
	return out, nil
}

// FieldsForJob returns the identifiers and named public fields of every
// model under the input job, optionally skipping killed models. An empty
// result is normal; workers create models some time after the job row
// appears.
func (s *State) FieldsForJob(ctx context.Context, jobID job.ID, fields []string, ignoreKilled bool) ([]FieldRow, error) {
	if len(fields) == 0 {
		return nil, errors.NotValidf("empty field list")
	}
	cols, err := storageColumns(fields)
	if err != nil {
		return nil, errors.Trace(err)
	}

	query := fmt.Sprintf(`SELECT model_id, %s FROM models WHERE job_id = ?`,
		strings.Join(cols, ", "))
	args := []any{int64(jobID)}
	if ignoreKilled {
		query += ` AND (completion_reason IS NULL OR completion_reason <> ?)`
		args = append(args, string(status.ReasonKilled))
	}
	return s.queryFieldRows(ctx, query, len(cols), args...)
}

// FieldsForCheckpointed returns the identifiers and named public fields
// of every checkpointed model under the input job.
func (s *State) FieldsForCheckpointed(ctx context.Context, jobID job.ID, fields []string) ([]FieldRow, error) {
	if len(fields) == 0 {
		return nil, errors.NotValidf("empty field list")
	}
	cols, err := storageColumns(fields)
	if err != nil {
		return nil, errors.Trace(err)
	}

	query := fmt.Sprintf(
		`SELECT model_id, %s FROM models WHERE job_id = ? AND model_checkpoint_id IS NOT NULL`,
		strings.Join(cols, ", "))
	return s.queryFieldRows(ctx, query, len(cols), int64(jobID))
}

// SetFields assigns the input public field values on one model, bumping
// its update counter. Zero affected rows is an error unless
// ignoreUnchanged is set.
func (s *State) SetFields(ctx context.Context, id model.ID, fields map[string]any, ignoreUnchanged bool) error {
	if len(fields) == 0 {
		return errors.NotValidf("empty field assignment")
	}

	pubToDB := schema.Models.PublicToStorage()
	assignments := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	for pub, value := range fields {
		col, ok := pubToDB[pub]
		if !ok {
			return fmt.Errorf("%w: %q", modelerrors.InvalidField, pub)
		}
		assignments = append(assignments, col+" = ?")
		args = append(args, value)
	}
	assignments = append(assignments, "update_counter = update_counter + 1")

	query := fmt.Sprintf(`UPDATE models SET %s WHERE model_id = ?`,
		strings.Join(assignments, ", "))
	args = append(args, int64(id))

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
		if affected != 1 && !ignoreUnchanged {
			return fmt.Errorf("%w: model %d", modelerrors.NotFound, id)
		}
		return nil
	}))
}

// ClearAll deletes every model row.
func (s *State) ClearAll(ctx context.Context) error {
	db, err := s.DB(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(`DELETE FROM models`)
	if err != nil {
		return errors.Trace(err)
	}

	s.logger.Infof("deleting all model rows")
	return errors.Trace(db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt).Run()
	}))
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

		for rows.Next() {
			var id int64
			vals := make([]any, numCols)
			dest := make([]any, 0, numCols+1)
			dest = append(dest, &id)
			for i := range vals {
				dest = append(dest, &vals[i])
			}
			if err := rows.Scan(dest...); err != nil {
				return errors.Trace(err)
			}
			out = append(out, FieldRow{ModelID: model.ID(id), Values: vals})
		}
		return errors.Trace(rows.Err())
	})
	return out, errors.Trace(err)
}

func toModelIDs(ids []model.ID) modelIDs {
	out := make(modelIDs, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// requireAllModels fails with NotFound naming the missing identifiers
// when the found set does not cover the requested set. A requested list
// containing duplicates also fails.
func requireAllModels(requested, found []model.ID) error {
	if len(found) >= len(requested) {
		return nil
	}
	missing := make(map[model.ID]bool, len(requested))
	for _, id := range requested {
		missing[id] = true
	}
	for _, id := range found {
		delete(missing, id)
	}
	ids := make([]model.ID, 0, len(missing))
	for id := range missing {
		ids = append(ids, id)
	}
	return fmt.Errorf("%w: models %v", modelerrors.NotFound, ids)
}

func storageColumn(field string) (string, error) {
	col, ok := schema.Models.PublicToStorage()[field]
	if !ok {
		return "", fmt.Errorf("%w: %q", modelerrors.InvalidField, field)
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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
