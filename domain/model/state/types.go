// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"database/sql"

	"github.com/juju/clientjobs/core/hash"
	"github.com/juju/clientjobs/core/status"
	"github.com/juju/clientjobs/domain/job"
	"github.com/juju/clientjobs/domain/model"
)

// modelID holds a single model identifier.
type modelID struct {
	ID int64 `db:"model_id"`
}

// modelIDs is a slice input for IN clauses.
type modelIDs []int64

// modelIdentity is the full dedup key of a model.
type modelIdentity struct {
	JobID        int64  `db:"job_id"`
	ParamsHash   []byte `db:"_eng_params_hash"`
	ParticleHash []byte `db:"_eng_particle_hash"`
}

// modelMatch carries the identifier and owner of a matched model.
type modelMatch struct {
	ID     int64          `db:"model_id"`
	ConnID sql.NullString `db:"_eng_worker_conn_id"`
}

// modelOwnership carries the status and owner of one model, used to
// disambiguate a lost adoption race from a transient update failure.
type modelOwnership struct {
	Status string         `db:"status"`
	ConnID sql.NullString `db:"_eng_worker_conn_id"`
}

// insertModel carries the columns written by a model insert.
type insertModel struct {
	JobID        int64  `db:"job_id"`
	Params       string `db:"params"`
	Status       string `db:"status"`
	ParamsHash   []byte `db:"_eng_params_hash"`
	ParticleHash []byte `db:"_eng_particle_hash"`
	ConnID       string `db:"_eng_worker_conn_id"`
}

// sessionRef carries the worker session recorded on owned rows.
type sessionRef struct {
	ConnID string `db:"_eng_worker_conn_id"`
}

// jobRef qualifies models by their job.
type jobRef struct {
	JobID int64 `db:"job_id"`
}

// ageLimit is the orphan-candidate threshold in seconds.
type ageLimit struct {
	Seconds int64 `db:"max_update_interval"`
}

// modelCompletion carries the fields written when a model completes.
type modelCompletion struct {
	Status  string  `db:"status"`
	Reason  string  `db:"completion_reason"`
	Msg     string  `db:"completion_msg"`
	CPUTime float64 `db:"cpu_time"`
}

// paramsRow backs the worker params projection.
type paramsRow struct {
	ID         int64          `db:"model_id"`
	Params     sql.NullString `db:"params"`
	ParamsHash []byte         `db:"_eng_params_hash"`
}

func (r paramsRow) toParamsInfo() model.ParamsInfo {
	info := model.ParamsInfo{
		ModelID: model.ID(r.ID),
		Params:  r.Params.String,
	}
	if h, err := hash.Normalize(r.ParamsHash); err == nil {
		info.EngParamsHash = h
	}
	return info
}

// resultAndStatusRow backs the worker progress projection.
type resultAndStatusRow struct {
	ID               int64          `db:"model_id"`
	Results          sql.NullString `db:"results"`
	Status           string         `db:"status"`
	UpdateCounter    int64          `db:"update_counter"`
	NumRecords       int64          `db:"num_records"`
	CompletionReason sql.NullString `db:"completion_reason"`
	CompletionMsg    sql.NullString `db:"completion_msg"`
	ParamsHash       []byte         `db:"_eng_params_hash"`
	Matured          bool           `db:"_eng_matured"`
}

func (r resultAndStatusRow) toResultAndStatus() model.ResultAndStatus {
	out := model.ResultAndStatus{
		ModelID:          model.ID(r.ID),
		Results:          r.Results.String,
		Status:           status.Status(r.Status),
		UpdateCounter:    r.UpdateCounter,
		NumRecords:       r.NumRecords,
		CompletionReason: status.CompletionReason(r.CompletionReason.String),
		CompletionMsg:    r.CompletionMsg.String,
		EngMatured:       r.Matured,
	}
	if h, err := hash.Normalize(r.ParamsHash); err == nil {
		out.EngParamsHash = h
	}
	return out
}

// updateCounterRow backs the sweep projection.
type updateCounterRow struct {
	ID            int64 `db:"model_id"`
	UpdateCounter int64 `db:"update_counter"`
}

// modelRow is the full models row.
type modelRow struct {
	ID               int64           `db:"model_id"`
	JobID            int64           `db:"job_id"`
	Params           sql.NullString  `db:"params"`
	Status           string          `db:"status"`
	CompletionReason sql.NullString  `db:"completion_reason"`
	CompletionMsg    sql.NullString  `db:"completion_msg"`
	Results          sql.NullString  `db:"results"`
	OptimizedMetric  sql.NullFloat64 `db:"optimized_metric"`
	UpdateCounter    int64           `db:"update_counter"`
	NumRecords       int64           `db:"num_records"`
	StartTime        sql.NullTime    `db:"start_time"`
	EndTime          sql.NullTime    `db:"end_time"`
	CPUTime          float64         `db:"cpu_time"`
	CheckpointID     sql.NullString  `db:"model_checkpoint_id"`
	GenDescription   sql.NullString  `db:"gen_description"`
	ParamsHash       []byte          `db:"_eng_params_hash"`
	ParticleHash     []byte          `db:"_eng_particle_hash"`
	LastUpdateTime   sql.NullTime    `db:"_eng_last_update_time"`
	TaskTrackerID    sql.NullString  `db:"_eng_task_tracker_id"`
	WorkerID         sql.NullString  `db:"_eng_worker_id"`
	AttemptID        sql.NullString  `db:"_eng_attempt_id"`
	WorkerConnID     sql.NullString  `db:"_eng_worker_conn_id"`
	Milestones       sql.NullString  `db:"_eng_milestones"`
	Stop             sql.NullString  `db:"_eng_stop"`
	Matured          bool            `db:"_eng_matured"`
}

func (r modelRow) toInfo() model.Info {
	info := model.Info{
		ModelID:           model.ID(r.ID),
		JobID:             job.ID(r.JobID),
		Params:            r.Params.String,
		Status:            status.Status(r.Status),
		CompletionReason:  status.CompletionReason(r.CompletionReason.String),
		CompletionMsg:     r.CompletionMsg.String,
		Results:           r.Results.String,
		UpdateCounter:     r.UpdateCounter,
		NumRecords:        r.NumRecords,
		CPUTime:           r.CPUTime,
		ModelCheckpointID: r.CheckpointID.String,
		GenDescription:    r.GenDescription.String,
		EngTaskTrackerID:  r.TaskTrackerID.String,
		EngWorkerID:       r.WorkerID.String,
		EngAttemptID:      r.AttemptID.String,
		EngWorkerConnID:   r.WorkerConnID.String,
		EngMilestones:     r.Milestones.String,
		EngStop:           status.StopReason(r.Stop.String),
		EngMatured:        r.Matured,
	}
	if r.OptimizedMetric.Valid {
		v := r.OptimizedMetric.Float64
		info.OptimizedMetric = &v
	}
	if h, err := hash.Normalize(r.ParamsHash); err == nil {
		info.EngParamsHash = h
	}
	if h, err := hash.Normalize(r.ParticleHash); err == nil {
		info.EngParticleHash = h
	}
	if r.StartTime.Valid {
		t := r.StartTime.Time
		info.StartTime = &t
	}
	if r.EndTime.Valid {
		t := r.EndTime.Time
		info.EndTime = &t
	}
	if r.LastUpdateTime.Valid {
		t := r.LastUpdateTime.Time
		info.EngLastUpdateTime = &t
	}
	return info
}
