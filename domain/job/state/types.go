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

// jobID holds a single job identifier.
type jobID struct {
	ID int64 `db:"job_id"`
}

// jobIdentity qualifies a job by its deduplication key.
type jobIdentity struct {
	Client string `db:"client"`
	Hash   []byte `db:"job_hash"`
}

// jobStatusRow carries the identifier and status of a matched job.
type jobStatusRow struct {
	ID     int64  `db:"job_id"`
	Status string `db:"status"`
}

// sessionRef carries the coordinator session recorded on owned rows.
type sessionRef struct {
	ConnID string `db:"_eng_cjm_conn_id"`
}

// statusParam is a bare status input.
type statusParam struct {
	Status string `db:"status"`
}

// insertJob carries the columns written by a job insert.
type insertJob struct {
	Status         string `db:"status"`
	Client         string `db:"client"`
	ClientInfo     string `db:"client_info"`
	ClientKey      string `db:"client_key"`
	CmdLine        string `db:"cmd_line"`
	Params         string `db:"params"`
	Hash           []byte `db:"job_hash"`
	MinimumWorkers int    `db:"minimum_workers"`
	MaximumWorkers int    `db:"maximum_workers"`
	Priority       int    `db:"priority"`
	JobType        string `db:"_eng_job_type"`
}

// reuseJob carries the client fields refreshed when a completed job row is
// reused for a repeated unique insert.
type reuseJob struct {
	ID             int64  `db:"job_id"`
	ClientInfo     string `db:"client_info"`
	ClientKey      string `db:"client_key"`
	CmdLine        string `db:"cmd_line"`
	Params         string `db:"params"`
	MinimumWorkers int    `db:"minimum_workers"`
	MaximumWorkers int    `db:"maximum_workers"`
	Priority       int    `db:"priority"`
	JobType        string `db:"_eng_job_type"`
}

// completion carries the fields written when a job completes.
type completion struct {
	Status string `db:"status"`
	Reason string `db:"completion_reason"`
	Msg    string `db:"completion_msg"`
}

// results is a bare results-blob input.
type results struct {
	Results string `db:"results"`
}

// count receives an aggregate count.
type count struct {
	Count int64 `db:"count"`
}

// qualifier is a single-value WHERE input reused across lookups.
type qualifier struct {
	ClientInfo string `db:"client_info"`
	ClientKey  string `db:"client_key"`
	JobType    string `db:"_eng_job_type"`
}

// demandRow is the scheduler's per-job worker demand projection.
type demandRow struct {
	ID                  int64  `db:"job_id"`
	MinimumWorkers      int    `db:"minimum_workers"`
	MaximumWorkers      int    `db:"maximum_workers"`
	Priority            int    `db:"priority"`
	AllocateNewWorkers  bool   `db:"_eng_allocate_new_workers"`
	UntendedDeadWorkers bool   `db:"_eng_untended_dead_workers"`
	NumFailedWorkers    int    `db:"num_failed_workers"`
	JobType             string `db:"_eng_job_type"`
}

func (r demandRow) toDemand() job.Demand {
	return job.Demand{
		JobID:                  job.ID(r.ID),
		MinimumWorkers:         r.MinimumWorkers,
		MaximumWorkers:         r.MaximumWorkers,
		Priority:               r.Priority,
		EngAllocateNewWorkers:  r.AllocateNewWorkers,
		EngUntendedDeadWorkers: r.UntendedDeadWorkers,
		NumFailedWorkers:       r.NumFailedWorkers,
		EngJobType:             job.Type(r.JobType),
	}
}

// jobRow is the full jobs row.
type jobRow struct {
	ID                       int64          `db:"job_id"`
	Client                   string         `db:"client"`
	ClientInfo               sql.NullString `db:"client_info"`
	ClientKey                sql.NullString `db:"client_key"`
	CmdLine                  sql.NullString `db:"cmd_line"`
	Params                   sql.NullString `db:"params"`
	Hash                     []byte         `db:"job_hash"`
	Status                   string         `db:"status"`
	CompletionReason         sql.NullString `db:"completion_reason"`
	CompletionMsg            sql.NullString `db:"completion_msg"`
	WorkerCompletionReason   sql.NullString `db:"worker_completion_reason"`
	WorkerCompletionMsg      sql.NullString `db:"worker_completion_msg"`
	Cancel                   bool           `db:"cancel"`
	StartTime                sql.NullTime   `db:"start_time"`
	EndTime                  sql.NullTime   `db:"end_time"`
	Results                  sql.NullString `db:"results"`
	JobType                  sql.NullString `db:"_eng_job_type"`
	MinimumWorkers           int            `db:"minimum_workers"`
	MaximumWorkers           int            `db:"maximum_workers"`
	Priority                 int            `db:"priority"`
	AllocateNewWorkers       bool           `db:"_eng_allocate_new_workers"`
	UntendedDeadWorkers      bool           `db:"_eng_untended_dead_workers"`
	NumFailedWorkers         int            `db:"num_failed_workers"`
	LastFailedWorkerErrorMsg sql.NullString `db:"last_failed_worker_error_msg"`
	CleaningStatus           sql.NullString `db:"_eng_cleaning_status"`
	GenBaseDescription       sql.NullString `db:"gen_base_description"`
	GenPermutations          sql.NullString `db:"gen_permutations"`
	LastUpdateTime           sql.NullTime   `db:"_eng_last_update_time"`
	CjmConnID                sql.NullString `db:"_eng_cjm_conn_id"`
	WorkerState              sql.NullString `db:"_eng_worker_state"`
	EngStatus                sql.NullString `db:"_eng_status"`
	ModelMilestones          sql.NullString `db:"_eng_model_milestones"`
}

func (r jobRow) toInfo() job.Info {
	info := job.Info{
		JobID:                    job.ID(r.ID),
		Client:                   r.Client,
		ClientInfo:               r.ClientInfo.String,
		ClientKey:                r.ClientKey.String,
		CmdLine:                  r.CmdLine.String,
		Params:                   r.Params.String,
		Status:                   status.Status(r.Status),
		CompletionReason:         status.CompletionReason(r.CompletionReason.String),
		CompletionMsg:            r.CompletionMsg.String,
		WorkerCompletionReason:   status.CompletionReason(r.WorkerCompletionReason.String),
		WorkerCompletionMsg:      r.WorkerCompletionMsg.String,
		Cancel:                   r.Cancel,
		Results:                  r.Results.String,
		EngJobType:               job.Type(r.JobType.String),
		MinimumWorkers:           r.MinimumWorkers,
		MaximumWorkers:           r.MaximumWorkers,
		Priority:                 r.Priority,
		EngAllocateNewWorkers:    r.AllocateNewWorkers,
		EngUntendedDeadWorkers:   r.UntendedDeadWorkers,
		NumFailedWorkers:         r.NumFailedWorkers,
		LastFailedWorkerErrorMsg: r.LastFailedWorkerErrorMsg.String,
		EngCleaningStatus:        job.CleaningStatus(r.CleaningStatus.String),
		GenBaseDescription:       r.GenBaseDescription.String,
		GenPermutations:          r.GenPermutations.String,
		EngCjmConnID:             r.CjmConnID.String,
		EngWorkerState:           r.WorkerState.String,
		EngStatus:                r.EngStatus.String,
		EngModelMilestones:       r.ModelMilestones.String,
	}
	if h, err := hash.Normalize(r.Hash); err == nil {
		info.JobHash = h
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

// joinedModelRow is the model side of the job-with-models join. Every
// member is nullable; a job without models joins a single all-NULL row.
type joinedModelRow struct {
	ID               sql.NullInt64   `db:"model_id"`
	JobID            sql.NullInt64   `db:"job_id"`
	Params           sql.NullString  `db:"params"`
	Status           sql.NullString  `db:"status"`
	CompletionReason sql.NullString  `db:"completion_reason"`
	CompletionMsg    sql.NullString  `db:"completion_msg"`
	Results          sql.NullString  `db:"results"`
	OptimizedMetric  sql.NullFloat64 `db:"optimized_metric"`
	UpdateCounter    sql.NullInt64   `db:"update_counter"`
	NumRecords       sql.NullInt64   `db:"num_records"`
	StartTime        sql.NullTime    `db:"start_time"`
	EndTime          sql.NullTime    `db:"end_time"`
	CPUTime          sql.NullFloat64 `db:"cpu_time"`
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
	Matured          sql.NullBool    `db:"_eng_matured"`
}

func (r joinedModelRow) toInfo() model.Info {
	info := model.Info{
		ModelID:           model.ID(r.ID.Int64),
		JobID:             job.ID(r.JobID.Int64),
		Params:            r.Params.String,
		Status:            status.Status(r.Status.String),
		CompletionReason:  status.CompletionReason(r.CompletionReason.String),
		CompletionMsg:     r.CompletionMsg.String,
		Results:           r.Results.String,
		UpdateCounter:     r.UpdateCounter.Int64,
		NumRecords:        r.NumRecords.Int64,
		CPUTime:           r.CPUTime.Float64,
		ModelCheckpointID: r.CheckpointID.String,
		GenDescription:    r.GenDescription.String,
		EngTaskTrackerID:  r.TaskTrackerID.String,
		EngWorkerID:       r.WorkerID.String,
		EngAttemptID:      r.AttemptID.String,
		EngWorkerConnID:   r.WorkerConnID.String,
		EngMilestones:     r.Milestones.String,
		EngStop:           status.StopReason(r.Stop.String),
		EngMatured:        r.Matured.Bool,
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
