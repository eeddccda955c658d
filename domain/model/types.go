// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package model defines the types shared by the model service and state
// layers. A model is one parameter combination evaluated under a job.
package model

import (
	"time"

	"github.com/juju/clientjobs/core/hash"
	"github.com/juju/clientjobs/core/status"
	"github.com/juju/clientjobs/domain/job"
)

// ID identifies a model row.
type ID int64

// ParamsInfo is the projection used by workers to recover the parameter
// set and identity hash of existing models.
type ParamsInfo struct {
	ModelID       ID
	Params        string
	EngParamsHash hash.Hash
}

// ResultAndStatus is the projection polled by workers tracking the
// progress of peer models.
type ResultAndStatus struct {
	ModelID          ID
	Results          string
	Status           status.Status
	UpdateCounter    int64
	NumRecords       int64
	CompletionReason status.CompletionReason
	CompletionMsg    string
	EngParamsHash    hash.Hash
	EngMatured       bool
}

// UpdateCounters pairs a model with its monotone update counter. Sweepers
// compare counters between polls to detect stalled models cheaply, without
// hauling result blobs.
type UpdateCounters struct {
	ModelID       ID
	UpdateCounter int64
}

// ResultUpdates carries the optional assignments of an owner's periodic
// results report. Nil members are left unchanged.
type ResultUpdates struct {
	Results     *string
	MetricValue *float64
	NumRecords  *int64
}

// Info is the full public form of a model row.
type Info struct {
	ModelID           ID
	JobID             job.ID
	Params            string
	Status            status.Status
	CompletionReason  status.CompletionReason
	CompletionMsg     string
	Results           string
	OptimizedMetric   *float64
	UpdateCounter     int64
	NumRecords        int64
	StartTime         *time.Time
	EndTime           *time.Time
	CPUTime           float64
	ModelCheckpointID string
	GenDescription    string
	EngParamsHash     hash.Hash
	EngParticleHash   hash.Hash
	EngLastUpdateTime *time.Time
	EngTaskTrackerID  string
	EngWorkerID       string
	EngAttemptID      string
	EngWorkerConnID   string
	EngMilestones     string
	EngStop           status.StopReason
	EngMatured        bool
}
