// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package service provides the model coordination API.
package service

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/clientjobs/core/hash"
	"github.com/juju/clientjobs/core/status"
	"github.com/juju/clientjobs/domain/job"
	"github.com/juju/clientjobs/domain/model"
	"github.com/juju/clientjobs/domain/model/state"
)

// State describes the persistence layer the service drives.
type State interface {
	InsertAndStart(ctx context.Context, jobID job.ID, params string, paramsHash, particleHash hash.Hash) (model.ID, bool, error)
	Infos(ctx context.Context, ids []model.ID) ([]model.Info, error)
	GetParams(ctx context.Context, ids []model.ID) ([]model.ParamsInfo, error)
	GetResultAndStatus(ctx context.Context, ids []model.ID) ([]model.ResultAndStatus, error)
	GetUpdateCounters(ctx context.Context, jobID job.ID) ([]model.UpdateCounters, error)
	IDsForJob(ctx context.Context, jobID job.ID) ([]model.ID, error)
	UpdateResults(ctx context.Context, id model.ID, updates model.ResultUpdates) error
	UpdateTimestamp(ctx context.Context, id model.ID) error
	SetCompleted(ctx context.Context, id model.ID, reason status.CompletionReason, msg string, cpuTime float64, useSession bool) error
	AdoptNextOrphan(ctx context.Context, jobID job.ID, maxUpdateInterval int64) (model.ID, error)
	GetFields(ctx context.Context, id model.ID, fields []string) ([]any, error)
	GetFieldsForMany(ctx context.Context, ids []model.ID, fields []string) ([]state.FieldRow, error)
	FieldsForJob(ctx context.Context, jobID job.ID, fields []string, ignoreKilled bool) ([]state.FieldRow, error)
	FieldsForCheckpointed(ctx context.Context, jobID job.ID, fields []string) ([]state.FieldRow, error)
	SetFields(ctx context.Context, id model.ID, fields map[string]any, ignoreUnchanged bool) error
	ClearAll(ctx context.Context) error
}

// Service exposes model coordination operations.
type Service struct {
	st     State
	logger loggo.Logger
}

// NewService returns a model service backed by the input state.
func NewService(st State) *Service {
	return &Service{
		st:     st,
		logger: loggo.GetLogger("clientjobs.model.service"),
	}
}

// InsertAndStart records a model under the input job as running under
// this session and reports whether this call created it. Raw hash inputs
// of any length up to the hash size are accepted; an absent particle hash
// defaults to the params hash so both dedup axes are always populated.
func (s *Service) InsertAndStart(ctx context.Context, jobID job.ID, params string, paramsHash, particleHash []byte) (model.ID, bool, error) {
	ph, err := hash.Normalize(paramsHash)
	if err != nil {
		return 0, false, errors.Annotatef(err, "params hash")
	}
	if len(particleHash) == 0 {
		particleHash = paramsHash
	}
	th, err := hash.Normalize(particleHash)
	if err != nil {
		return 0, false, errors.Annotatef(err, "particle hash")
	}

	id, created, err := s.st.InsertAndStart(ctx, jobID, params, ph, th)
	if err != nil {
		s.logger.Errorf("inserting model under job %d: %v", jobID, err)
		return 0, false, errors.Trace(err)
	}
	if created {
		s.logger.Infof("created model %d under job %d", id, jobID)
	}
	return id, created, nil
}

// Info returns everything recorded about one model.
func (s *Service) Info(ctx context.Context, id model.ID) (model.Info, error) {
	infos, err := s.st.Infos(ctx, []model.ID{id})
	if err != nil {
		return model.Info{}, errors.Trace(err)
	}
	return infos[0], nil
}

// Infos returns everything recorded about each of the input models.
func (s *Service) Infos(ctx context.Context, ids []model.ID) ([]model.Info, error) {
	infos, err := s.st.Infos(ctx, ids)
	return infos, errors.Trace(err)
}

// GetParams returns the parameter sets and identity hashes of the input
// models.
func (s *Service) GetParams(ctx context.Context, ids []model.ID) ([]model.ParamsInfo, error) {
	out, err := s.st.GetParams(ctx, ids)
	return out, errors.Trace(err)
}

// GetResultAndStatus returns the progress projection of the input models.
func (s *Service) GetResultAndStatus(ctx context.Context, ids []model.ID) ([]model.ResultAndStatus, error) {
	out, err := s.st.GetResultAndStatus(ctx, ids)
	return out, errors.Trace(err)
}

// GetUpdateCounters returns the update counter of every model under the
// input job, for cheap change detection across polls.
func (s *Service) GetUpdateCounters(ctx context.Context, jobID job.ID) ([]model.UpdateCounters, error) {
	out, err := s.st.GetUpdateCounters(ctx, jobID)
	return out, errors.Trace(err)
}

// IDsForJob returns the identifiers of every model under the input job.
func (s *Service) IDsForJob(ctx context.Context, jobID job.ID) ([]model.ID, error) {
	ids, err := s.st.IDsForJob(ctx, jobID)
	return ids, errors.Trace(err)
}

// UpdateResults applies an owner's periodic progress report to one model.
func (s *Service) UpdateResults(ctx context.Context, id model.ID, updates model.ResultUpdates) error {
	return errors.Trace(s.st.UpdateResults(ctx, id, updates))
}

// UpdateTimestamp refreshes one model's last-update time as an ownership
// heartbeat, counted as a progress write.
func (s *Service) UpdateTimestamp(ctx context.Context, id model.ID) error {
	return errors.Trace(s.st.UpdateTimestamp(ctx, id))
}

// SetCompleted marks one model completed. With useSession set the call
// only succeeds while this session still owns the model.
func (s *Service) SetCompleted(ctx context.Context, id model.ID, reason status.CompletionReason, msg string, cpuTime float64, useSession bool) error {
	err := s.st.SetCompleted(ctx, id, reason, msg, cpuTime, useSession)
	if err != nil {
		return errors.Trace(err)
	}
	s.logger.Infof("model %d completed: %s", id, reason)
	return nil
}

// AdoptNextOrphan claims one orphaned model under the input job for this
// session and returns its identifier.
func (s *Service) AdoptNextOrphan(ctx context.Context, jobID job.ID, maxUpdateInterval int64) (model.ID, error) {
	id, err := s.st.AdoptNextOrphan(ctx, jobID, maxUpdateInterval)
	if err != nil {
		return 0, errors.Trace(err)
	}
	s.logger.Infof("adopted orphaned model %d in job %d", id, jobID)
	return id, nil
}

// GetFields returns the values of the named public fields of one model.
func (s *Service) GetFields(ctx context.Context, id model.ID, fields []string) ([]any, error) {
	vals, err := s.st.GetFields(ctx, id, fields)
	return vals, errors.Trace(err)
}

// GetFieldsForMany returns the values of the named public fields of each
// of the input models.
func (s *Service) GetFieldsForMany(ctx context.Context, ids []model.ID, fields []string) ([]state.FieldRow, error) {
	rows, err := s.st.GetFieldsForMany(ctx, ids, fields)
	return rows, errors.Trace(err)
}

// FieldsForJob returns the named public fields of every model under the
// input job, optionally skipping killed models.
func (s *Service) FieldsForJob(ctx context.Context, jobID job.ID, fields []string, ignoreKilled bool) ([]state.FieldRow, error) {
	rows, err := s.st.FieldsForJob(ctx, jobID, fields, ignoreKilled)
	return rows, errors.Trace(err)
}

// FieldsForCheckpointed returns the named public fields of every
// checkpointed model under the input job.
func (s *Service) FieldsForCheckpointed(ctx context.Context, jobID job.ID, fields []string) ([]state.FieldRow, error) {
	rows, err := s.st.FieldsForCheckpointed(ctx, jobID, fields)
	return rows, errors.Trace(err)
}

// SetFields assigns the input public field values on one model.
func (s *Service) SetFields(ctx context.Context, id model.ID, fields map[string]any, ignoreUnchanged bool) error {
	return errors.Trace(s.st.SetFields(ctx, id, fields, ignoreUnchanged))
}

// ClearAll deletes every model row. Test harnesses use this between runs.
func (s *Service) ClearAll(ctx context.Context) error {
	return errors.Trace(s.st.ClearAll(ctx))
}
