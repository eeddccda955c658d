// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package job defines the job lifecycle types shared by the job service
// and state layers.
package job

import (
	"time"

	"github.com/juju/clientjobs/core/hash"
	"github.com/juju/clientjobs/core/status"
)

// ClientMaxLen is the maximum length of a client code.
const ClientMaxLen = 8

// Priority bounds. Higher values are scheduled first.
const (
	MinPriority     = -100
	DefaultPriority = 0
	MaxPriority     = 100
)

// ID identifies a job row.
type ID int64

// Type classifies the workload a job carries.
type Type string

const (
	TypeHypersearch     Type = "hypersearch"
	TypeProductionModel Type = "production-model"
	TypeStreamManager   Type = "stream-manager"
	TypeTest            Type = "test"
)

// CleaningStatus tracks whether a completed job's artifacts have been
// garbage collected.
type CleaningStatus string

const (
	CleaningNotDone CleaningStatus = "notdone"
	CleaningDone    CleaningStatus = "done"
)

// InsertArgs carries the client-supplied fields of a new job.
type InsertArgs struct {
	Client         string
	CmdLine        string
	ClientInfo     string
	ClientKey      string
	Params         string
	MinimumWorkers int
	MaximumWorkers int
	Type           Type
	Priority       int

	// AlreadyRunning admits the job in the testMode status so the
	// scheduler leaves it alone. Standalone workers use it to drive a
	// job in-process.
	AlreadyRunning bool
}

// Demand is the scheduler's view of a runnable job.
type Demand struct {
	JobID                  ID
	MinimumWorkers         int
	MaximumWorkers         int
	Priority               int
	EngAllocateNewWorkers  bool
	EngUntendedDeadWorkers bool
	NumFailedWorkers       int
	EngJobType             Type
}

// Info is the full public form of a job row.
type Info struct {
	JobID                    ID
	Client                   string
	ClientInfo               string
	ClientKey                string
	CmdLine                  string
	Params                   string
	JobHash                  hash.Hash
	Status                   status.Status
	CompletionReason         status.CompletionReason
	CompletionMsg            string
	WorkerCompletionReason   status.CompletionReason
	WorkerCompletionMsg      string
	Cancel                   bool
	StartTime                *time.Time
	EndTime                  *time.Time
	Results                  string
	EngJobType               Type
	MinimumWorkers           int
	MaximumWorkers           int
	Priority                 int
	EngAllocateNewWorkers    bool
	EngUntendedDeadWorkers   bool
	NumFailedWorkers         int
	LastFailedWorkerErrorMsg string
	EngCleaningStatus        CleaningStatus
	GenBaseDescription       string
	GenPermutations          string
	EngLastUpdateTime        *time.Time
	EngCjmConnID             string
	EngWorkerState           string
	EngStatus                string
	EngModelMilestones       string
}
