// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package schema

import (
	"github.com/juju/clientjobs/core/database"
)

// Jobs declares the jobs table. One row per requested job; the row carries
// both the client-facing request fields and the engine's scheduling state.
var Jobs = Table{
	Name: "jobs",
	Columns: []Column{
		{"job_id", "INTEGER PRIMARY KEY AUTOINCREMENT"},
		{"client", "CHAR(8)"},
		{"client_info", "TEXT"},
		{"client_key", "VARCHAR(32)"},
		{"cmd_line", "TEXT"},
		{"params", "TEXT"},
		{"job_hash", "BLOB DEFAULT NULL"},
		{"status", "VARCHAR(16) DEFAULT 'notStarted'"},
		{"completion_reason", "VARCHAR(16)"},
		{"completion_msg", "TEXT"},
		{"worker_completion_reason", "VARCHAR(16) DEFAULT 'success'"},
		{"worker_completion_msg", "TEXT"},
		{"cancel", "BOOLEAN DEFAULT FALSE"},
		{"start_time", "DATETIME DEFAULT NULL"},
		{"end_time", "DATETIME DEFAULT NULL"},
		{"results", "TEXT"},
		{"_eng_job_type", "VARCHAR(32)"},
		{"minimum_workers", "INT DEFAULT 0"},
		{"maximum_workers", "INT DEFAULT 0"},
		{"priority", "INT DEFAULT 0"},
		{"_eng_allocate_new_workers", "BOOLEAN DEFAULT TRUE"},
		{"_eng_untended_dead_workers", "BOOLEAN DEFAULT FALSE"},
		{"num_failed_workers", "INT DEFAULT 0"},
		{"last_failed_worker_error_msg", "TEXT"},
		{"_eng_cleaning_status", "VARCHAR(16) DEFAULT 'notdone'"},
		{"gen_base_description", "TEXT"},
		{"gen_permutations", "TEXT"},
		{"_eng_last_update_time", "DATETIME"},
		{"_eng_cjm_conn_id", "VARCHAR(36)"},
		{"_eng_worker_state", "TEXT"},
		{"_eng_status", "TEXT"},
		{"_eng_model_milestones", "TEXT"},
	},
	Constraints: []string{
		"    UNIQUE (client, job_hash)",
	},
	Indices: []string{
		"CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_client_key ON jobs (client_key)",
	},
}

// Models declares the models table. One row per model evaluated under a
// job. The two engine hash columns each carry a UNIQUE constraint scoped to
// the job, which is what makes duplicate detection a pure insert outcome.
var Models = Table{
	Name: "models",
	Columns: []Column{
		{"model_id", "INTEGER PRIMARY KEY AUTOINCREMENT"},
		{"job_id", "INTEGER REFERENCES jobs (job_id)"},
		{"params", "TEXT"},
		{"status", "VARCHAR(16) DEFAULT 'notStarted'"},
		{"completion_reason", "VARCHAR(16)"},
		{"completion_msg", "TEXT"},
		{"results", "TEXT"},
		{"optimized_metric", "FLOAT"},
		{"update_counter", "INT DEFAULT 0"},
		{"num_records", "INT DEFAULT 0"},
		{"start_time", "DATETIME DEFAULT NULL"},
		{"end_time", "DATETIME DEFAULT NULL"},
		{"cpu_time", "FLOAT DEFAULT 0"},
		{"model_checkpoint_id", "TEXT"},
		{"gen_description", "TEXT"},
		{"_eng_params_hash", "BLOB"},
		{"_eng_particle_hash", "BLOB"},
		{"_eng_last_update_time", "DATETIME"},
		{"_eng_task_tracker_id", "TEXT"},
		{"_eng_worker_id", "TEXT"},
		{"_eng_attempt_id", "TEXT"},
		{"_eng_worker_conn_id", "VARCHAR(36)"},
		{"_eng_milestones", "TEXT"},
		{"_eng_stop", "VARCHAR(16) DEFAULT NULL"},
		{"_eng_matured", "BOOLEAN DEFAULT FALSE"},
	},
	Constraints: []string{
		"    UNIQUE (job_id, _eng_params_hash)",
		"    UNIQUE (job_id, _eng_particle_hash)",
	},
	Indices: []string{
		"CREATE INDEX IF NOT EXISTS idx_models_job_id ON models (job_id)",
	},
}

// All returns the deltas provisioning every table, in dependency order.
func All() []database.Delta {
	deltas := Jobs.DDL()
	deltas = append(deltas, Models.DDL()...)
	return deltas
}
