// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package service provides the job coordination API.
package service

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/clientjobs/core/hash"
	"github.com/juju/clientjobs/core/status"
	"github.com/juju/clientjobs/domain/job"
	"github.com/juju/clientjobs/domain/job/state"
	"github.com/juju/clientjobs/domain/model"
)

// State describes the persistence layer the service drives.
type State interface {
	InsertOrGet(ctx context.Context, args job.InsertArgs, jobHash hash.Hash) (job.ID, error)
	InsertUnique(ctx context.Context, args job.InsertArgs, jobHash hash.Hash) (job.ID, error)
	Resume(ctx context.Context, id job.ID, alreadyRunning bool) error
	StartNext(ctx context.Context) (job.ID, error)
	Start(ctx context.Context, id job.ID) error
	ReactivateRunningJobs(ctx context.Context) error
	GetDemand(ctx context.Context) ([]job.Demand, error)
	CancelAllRunningJobs(ctx context.Context) error
	CountCancellingJobs(ctx context.Context) (int64, error)
	GetCancellingJobs(ctx context.Context) ([]job.ID, error)
	Info(ctx context.Context, id job.ID) (job.Info, error)
	InfoWithModels(ctx context.Context, id job.ID) (job.Info, []model.Info, error)
	SetStatus(ctx context.Context, id job.ID, status status.Status, useSession bool) error
	SetCompleted(ctx context.Context, id job.ID, reason status.CompletionReason, msg string, useSession bool) error
	UpdateResults(ctx context.Context, id job.ID, results string) error
	ActiveCountForClientInfo(ctx context.Context, clientInfo string) (int64, error)
	ActiveCountForClientKey(ctx context.Context, clientKey string) (int64, error)
	ActiveForClientInfo(ctx context.Context, clientInfo string, fields []string) ([]state.FieldRow, error)
	ActiveForClientKey(ctx context.Context, clientKey string, fields []string) ([]state.FieldRow, error)
	GetJobs(ctx context.Context, fields []string) ([]state.FieldRow, error)
	FieldsForActiveJobsOfType(ctx context.Context, jobType job.Type, fields []string) ([]state.FieldRow, error)
	GetFields(ctx context.Context, id job.ID, fields []string) ([]any, error)
	GetFieldsForMany(ctx context.Context, ids []job.ID, fields []string, requireAll bool) ([]state.FieldRow, error)
	SetFields(ctx context.Context, id job.ID, fields map[string]any, useSession, ignoreUnchanged bool) error
	SetFieldIfEqual(ctx context.Context, id job.ID, field string, newValue, curValue any) (bool, error)
	IncrementIntField(ctx context.Context, id job.ID, field string, increment int64, useSession bool) error
}

// Service exposes job coordination operations.
type Service struct {
	st     State
	logger loggo.Logger
}

// NewService returns a job service backed by the input state.
func NewService(st State) *Service {
	return &Service{
		st:     st,
		logger: loggo.GetLogger("clientjobs.job.service"),
	}
}

func validateInsertArgs(args job.InsertArgs) error {
	if len(args.Client) > job.ClientMaxLen {
		return errors.NotValidf("client %q longer than %d bytes", args.Client, job.ClientMaxLen)
	}
	if args.CmdLine == "" {
		return errors.NotValidf("empty command line")
	}
	return nil
}

// Insert records a new job request and returns its identifier. Every call
// creates a distinct job; the row is keyed under a random identity hash.
func (s *Service) Insert(ctx context.Context, args job.InsertArgs) (job.ID, error) {
	if err := validateInsertArgs(args); err != nil {
		return 0, errors.Trace(err)
	}

	jobHash, err := hash.New()
	if err != nil {
		return 0, errors.Trace(err)
	}

	id, err := s.st.InsertOrGet(ctx, args, jobHash)
	if err != nil {
		s.logger.Errorf("job insert failed: type=%q client=%q key=%q: %v",
			args.Type, args.Client, args.ClientKey, err)
		return 0, errors.Trace(err)
	}
	s.logger.Infof("job insert: id=%d type=%q client=%q key=%q",
		id, args.Type, args.Client, args.ClientKey)
	return id, nil
}

// InsertUnique records a job request keyed by the caller-supplied identity
// hash, unless the same client already has one. An active duplicate is
// returned untouched; a completed duplicate is refreshed with the input
// arguments and resumed.
func (s *Service) InsertUnique(ctx context.Context, args job.InsertArgs, jobHash []byte) (job.ID, error) {
	if err := validateInsertArgs(args); err != nil {
		return 0, errors.Trace(err)
	}

	h, err := hash.Normalize(jobHash)
	if err != nil {
		return 0, errors.Trace(err)
	}

	id, err := s.st.InsertUnique(ctx, args, h)
	if err != nil {
		s.logger.Errorf("unique job insert failed: type=%q client=%q key=%q: %v",
			args.Type, args.Client, args.ClientKey, err)
		return 0, errors.Trace(err)
	}
	s.logger.Infof("unique job insert: id=%d type=%q client=%q key=%q",
		id, args.Type, args.Client, args.ClientKey)
	return id, nil
}

// Resume returns a completed job to the queue so the scheduler picks it up
// again. Intended for suspended production and stream jobs.
func (s *Service) Resume(ctx context.Context, id job.ID, alreadyRunning bool) error {
	return errors.Trace(s.st.Resume(ctx, id, alreadyRunning))
}

// Cancel raises the job's cancel flag. Workers poll the flag and shut the
// job down from their end.
func (s *Service) Cancel(ctx context.Context, id job.ID) error {
	s.logger.Infof("cancelling job %d", id)
	return errors.Trace(s.st.SetFields(ctx, id, map[string]any{"cancel": true}, false, false))
}

// Suspend requests that a production job stop running, leaving it eligible
// for a later Resume. Suspension rides on the cancel flag.
func (s *Service) Suspend(ctx context.Context, id job.ID) error {
	return errors.Trace(s.Cancel(ctx, id))
}

// StartNext claims one queued job for this coordinator and returns its
// identifier. NotFound means no work is available right now.
func (s *Service) StartNext(ctx context.Context) (job.ID, error) {
	id, err := s.st.StartNext(ctx)
	return id, errors.Trace(err)
}

// Start claims the input queued job for this coordinator. Standalone
// workers use it to run a specific job without a scheduler.
func (s *Service) Start(ctx context.Context, id job.ID) error {
	return errors.Trace(s.st.Start(ctx, id))
}

// ReactivateRunningJobs adopts all running jobs into this coordinator and
// re-enables worker allocation; part of scheduler failure recovery.
func (s *Service) ReactivateRunningJobs(ctx context.Context) error {
	return errors.Trace(s.st.ReactivateRunningJobs(ctx))
}

// GetDemand returns the worker demand of every running job.
func (s *Service) GetDemand(ctx context.Context) ([]job.Demand, error) {
	demand, err := s.st.GetDemand(ctx)
	return demand, errors.Trace(err)
}

// CancelAllRunningJobs raises the cancel flag on every active job.
func (s *Service) CancelAllRunningJobs(ctx context.Context) error {
	return errors.Trace(s.st.CancelAllRunningJobs(ctx))
}

// CountCancellingJobs returns how many active jobs have the cancel flag
// raised.
func (s *Service) CountCancellingJobs(ctx context.Context) (int64, error) {
	n, err := s.st.CountCancellingJobs(ctx)
	return n, errors.Trace(err)
}

// GetCancellingJobs returns the identifiers of active jobs with the cancel
// flag raised.
func (s *Service) GetCancellingJobs(ctx context.Context) ([]job.ID, error) {
	ids, err := s.st.GetCancellingJobs(ctx)
	return ids, errors.Trace(err)
}

// Info returns everything recorded about the input job.
func (s *Service) Info(ctx context.Context, id job.ID) (job.Info, error) {
	info, err := s.st.Info(ctx, id)
	return info, errors.Trace(err)
}

// InfoWithModels returns everything recorded about the input job and all
// of its models, as one consistent snapshot.
func (s *Service) InfoWithModels(ctx context.Context, id job.ID) (job.Info, []model.Info, error) {
	info, models, err := s.st.InfoWithModels(ctx, id)
	return info, models, errors.Trace(err)
}

// SetStatus moves the job to the input status. With useSession set the
// caller must be the owning coordinator.
func (s *Service) SetStatus(ctx context.Context, id job.ID, status status.Status, useSession bool) error {
	return errors.Trace(s.st.SetStatus(ctx, id, status, useSession))
}

// SetCompleted marks the job completed with the input reason and message.
// With useSession set the caller must be the owning coordinator.
func (s *Service) SetCompleted(ctx context.Context, id job.ID, reason status.CompletionReason, msg string, useSession bool) error {
	return errors.Trace(s.st.SetCompleted(ctx, id, reason, msg, useSession))
}

// UpdateResults replaces the job's results blob.
func (s *Service) UpdateResults(ctx context.Context, id job.ID, results string) error {
	return errors.Trace(s.st.UpdateResults(ctx, id, results))
}

// ActiveCountForClientInfo returns the number of active jobs carrying the
// input client info.
func (s *Service) ActiveCountForClientInfo(ctx context.Context, clientInfo string) (int64, error) {
	n, err := s.st.ActiveCountForClientInfo(ctx, clientInfo)
	return n, errors.Trace(err)
}

// ActiveCountForClientKey returns the number of active jobs carrying the
// input client key.
func (s *Service) ActiveCountForClientKey(ctx context.Context, clientKey string) (int64, error) {
	n, err := s.st.ActiveCountForClientKey(ctx, clientKey)
	return n, errors.Trace(err)
}

// ActiveForClientInfo returns the identifiers and requested public fields
// of active jobs carrying the input client info.
func (s *Service) ActiveForClientInfo(ctx context.Context, clientInfo string, fields []string) ([]state.FieldRow, error) {
	rows, err := s.st.ActiveForClientInfo(ctx, clientInfo, fields)
	return rows, errors.Trace(err)
}

// ActiveForClientKey returns the identifiers and requested public fields
// of active jobs carrying the input client key.
func (s *Service) ActiveForClientKey(ctx context.Context, clientKey string, fields []string) ([]state.FieldRow, error) {
	rows, err := s.st.ActiveForClientKey(ctx, clientKey, fields)
	return rows, errors.Trace(err)
}

// GetJobs returns the identifiers and requested public fields of all jobs.
func (s *Service) GetJobs(ctx context.Context, fields []string) ([]state.FieldRow, error) {
	rows, err := s.st.GetJobs(ctx, fields)
	return rows, errors.Trace(err)
}

// FieldsForActiveJobsOfType returns the identifiers and requested public
// fields of active jobs of the given type.
func (s *Service) FieldsForActiveJobsOfType(ctx context.Context, jobType job.Type, fields []string) ([]state.FieldRow, error) {
	rows, err := s.st.FieldsForActiveJobsOfType(ctx, jobType, fields)
	return rows, errors.Trace(err)
}

// GetFields returns the values of the named public fields of one job, in
// request order.
func (s *Service) GetFields(ctx context.Context, id job.ID, fields []string) ([]any, error) {
	vals, err := s.st.GetFields(ctx, id, fields)
	return vals, errors.Trace(err)
}

// GetFieldsForMany returns the values of the named public fields for each
// input job. Results are not ordered by the input.
func (s *Service) GetFieldsForMany(ctx context.Context, ids []job.ID, fields []string, requireAll bool) ([]state.FieldRow, error) {
	rows, err := s.st.GetFieldsForMany(ctx, ids, fields, requireAll)
	return rows, errors.Trace(err)
}

// SetFields assigns the input public field values on one job.
func (s *Service) SetFields(ctx context.Context, id job.ID, fields map[string]any, useSession, ignoreUnchanged bool) error {
	return errors.Trace(s.st.SetFields(ctx, id, fields, useSession, ignoreUnchanged))
}

// SetFieldIfEqual assigns newValue to the named public field only if it
// currently holds curValue, reporting whether the assignment happened.
func (s *Service) SetFieldIfEqual(ctx context.Context, id job.ID, field string, newValue, curValue any) (bool, error) {
	won, err := s.st.SetFieldIfEqual(ctx, id, field, newValue, curValue)
	return won, errors.Trace(err)
}

// IncrementIntField adds increment to the named public integer field.
func (s *Service) IncrementIntField(ctx context.Context, id job.ID, field string, increment int64, useSession bool) error {
	return errors.Trace(s.st.IncrementIntField(ctx, id, field, increment, useSession))
}
