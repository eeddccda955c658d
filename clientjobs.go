// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package clientjobs provides the process-scoped handle on the client-jobs
// coordination store. A process constructs one Store and shares it; the
// handle mints the session identity that all ownership-gated writes run
// under, so one process speaks with one voice.
package clientjobs

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	_ "github.com/mattn/go-sqlite3"

	coredatabase "github.com/juju/clientjobs/core/database"
	"github.com/juju/clientjobs/core/session"
	"github.com/juju/clientjobs/domain/job"
	jobservice "github.com/juju/clientjobs/domain/job/service"
	jobstate "github.com/juju/clientjobs/domain/job/state"
	"github.com/juju/clientjobs/domain/model"
	modelservice "github.com/juju/clientjobs/domain/model/service"
	modelstate "github.com/juju/clientjobs/domain/model/state"
	"github.com/juju/clientjobs/domain/schema"
	"github.com/juju/clientjobs/internal/database/txn"
)

// Store is the process-scoped handle on the coordination store.
type Store struct {
	sessionID session.ID
	jobs      *jobservice.Service
	models    *modelservice.Service

	// db is non-nil only when the Store opened the database itself and
	// therefore owns its lifecycle.
	db     *sql.DB
	dbName string

	logger loggo.Logger
}

type options struct {
	clock           clock.Clock
	metrics         *txn.Metrics
	dropOldVersions bool
	recreate        bool
}

// Option configures a Store at construction.
type Option func(*options)

// WithClock sets the clock driving transaction retry back-off.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithTxnMetrics sets the collector observing transaction outcomes. The
// caller registers it.
func WithTxnMetrics(m *txn.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// DropOldVersions removes database files left behind by earlier schema
// versions when the store is opened.
func DropOldVersions() Option {
	return func(o *options) {
		o.dropOldVersions = true
	}
}

// Recreate removes any existing database file for the current schema
// version before the store is opened, discarding all state.
func Recreate() Option {
	return func(o *options) {
		o.recreate = true
	}
}

// NewStore returns a Store over an externally managed database. The
// factory's runner must serve a database holding the current schema.
func NewStore(factory coredatabase.TxnRunnerFactory) (*Store, error) {
	return newStore(factory, nil, "")
}

// Open opens, or creates, the database file named by the input
// configuration and returns a Store over it. Close releases it.
func Open(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dbName := schema.DatabaseName(cfg.Database.NameSuffix)
	path := filepath.Join(cfg.Database.Dir, dbName+".db")

	if o.dropOldVersions {
		if err := dropOldVersionFiles(cfg.Database.Dir, cfg.Database.NameSuffix); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if o.recreate {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.Annotatef(err, "recreating %q", path)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=1", path))
	if err != nil {
		return nil, errors.Annotatef(err, "opening %q", path)
	}
	// SQLite serialises writers; a single pooled connection turns lock
	// contention into queueing instead of SQLITE_BUSY faults.
	db.SetMaxOpenConns(1)

	for _, delta := range schema.All() {
		if _, err := db.Exec(delta.Stmt(), delta.Args()...); err != nil {
			_ = db.Close()
			return nil, errors.Annotatef(err, "applying schema to %q", dbName)
		}
	}

	runnerOpts := []txn.Option{}
	if o.clock != nil {
		runnerOpts = append(runnerOpts, txn.WithClock(o.clock))
	}
	if o.metrics != nil {
		runnerOpts = append(runnerOpts, txn.WithMetrics(o.metrics))
	}
	runner := txn.NewTxnRunner(db, runnerOpts...)
	factory := func() (coredatabase.TxnRunner, error) {
		return runner, nil
	}

	store, err := newStore(factory, db, dbName)
	if err != nil {
		_ = db.Close()
		return nil, errors.Trace(err)
	}
	return store, nil
}

func newStore(factory coredatabase.TxnRunnerFactory, db *sql.DB, dbName string) (*Store, error) {
	sessionID, err := session.NewID()
	if err != nil {
		return nil, errors.Trace(err)
	}

	logger := loggo.GetLogger("clientjobs.store")
	logger.Debugf("store session %s", sessionID)

	return &Store{
		sessionID: sessionID,
		jobs:      jobservice.NewService(jobstate.NewState(factory, sessionID)),
		models:    modelservice.NewService(modelstate.NewState(factory, sessionID)),
		db:        db,
		dbName:    dbName,
		logger:    logger,
	}, nil
}

// Close releases the database when this Store owns it. Stores built over an
// external runner factory leave the database to their caller.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return errors.Trace(s.db.Close())
}

// SessionID returns the session identity all gated writes run under.
func (s *Store) SessionID() session.ID {
	return s.sessionID
}

// DatabaseName returns the namespace of the opened database, or empty when
// the Store was built over an external runner factory.
func (s *Store) DatabaseName() string {
	return s.dbName
}

// Jobs returns the job coordination API.
func (s *Store) Jobs() *jobservice.Service {
	return s.jobs
}

// Models returns the model coordination API.
func (s *Store) Models() *modelservice.Service {
	return s.models
}

// JobWithModels is a job row together with all of its model rows.
type JobWithModels struct {
	Job    job.Info
	Models []model.Info
}

// InfoWithModels returns everything recorded about one job and all of its
// models, read as one snapshot. A job with no models yet is returned with
// an empty model list.
func (s *Store) InfoWithModels(ctx context.Context, id job.ID) (JobWithModels, error) {
	info, models, err := s.jobs.InfoWithModels(ctx, id)
	if err != nil {
		return JobWithModels{}, errors.Trace(err)
	}
	return JobWithModels{Job: info, Models: models}, nil
}

// GetModelIDs returns the identifiers of every model under the input job.
func (s *Store) GetModelIDs(ctx context.Context, id job.ID) ([]model.ID, error) {
	ids, err := s.models.IDsForJob(ctx, id)
	return ids, errors.Trace(err)
}

// dropOldVersionFiles removes database files written by earlier schema
// versions for this suffix.
func dropOldVersionFiles(dir, suffix string) error {
	for v := 1; v < schema.Version; v++ {
		path := filepath.Join(dir, schema.DatabaseNameForVersion(v, suffix)+".db")
		err := os.Remove(path)
		if err == nil {
			loggo.GetLogger("clientjobs.store").Infof("removed old database %q", path)
		} else if !os.IsNotExist(err) {
			return errors.Annotatef(err, "removing old database %q", path)
		}
	}
	return nil
}
