// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package clientjobs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/clientjobs/core/status"
	"github.com/juju/clientjobs/domain/job"
	"github.com/juju/clientjobs/domain/schema"
	databasetesting "github.com/juju/clientjobs/internal/database/testing"
)

type configSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&configSuite{})

func (*configSuite) TestParseConfig(c *gc.C) {
	cfg, err := ParseConfig([]byte(`
database:
  nameSuffix: prod-a
  dir: /var/lib/clientjobs
`))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Database.NameSuffix, gc.Equals, "prod-a")
	c.Check(cfg.Database.Dir, gc.Equals, "/var/lib/clientjobs")
}

func (*configSuite) TestParseConfigMissingSuffix(c *gc.C) {
	_, err := ParseConfig([]byte(`database: {dir: /tmp}`))
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (*configSuite) TestParseConfigBadYAML(c *gc.C) {
	_, err := ParseConfig([]byte(`{`))
	c.Assert(err, gc.ErrorMatches, "parsing store config.*")
}

func (s *configSuite) TestReadConfig(c *gc.C) {
	path := filepath.Join(c.MkDir(), "store.yaml")
	err := os.WriteFile(path, []byte("database:\n  nameSuffix: test\n"), 0o644)
	c.Assert(err, jc.ErrorIsNil)

	cfg, err := ReadConfig(path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Database.NameSuffix, gc.Equals, "test")
}

type storeSuite struct {
	testing.IsolationSuite

	dir string
}

var _ = gc.Suite(&storeSuite{})

func (s *storeSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.dir = c.MkDir()
}

func (s *storeSuite) config() Config {
	return Config{Database: DatabaseConfig{NameSuffix: "unit-test", Dir: s.dir}}
}

func (s *storeSuite) open(c *gc.C, opts ...Option) *Store {
	store, err := Open(s.config(), opts...)
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) {
		c.Check(store.Close(), jc.ErrorIsNil)
	})
	return store
}

func (s *storeSuite) TestOpenCreatesDatabase(c *gc.C) {
	store := s.open(c)

	c.Check(store.DatabaseName(), gc.Equals, schema.DatabaseName("unit-test"))
	_, err := os.Stat(filepath.Join(s.dir, store.DatabaseName()+".db"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(store.SessionID().String(), gc.Not(gc.Equals), "")
}

func (s *storeSuite) TestDistinctSessions(c *gc.C) {
	s1 := s.open(c)
	s2 := s.open(c)
	c.Check(s1.SessionID(), gc.Not(gc.Equals), s2.SessionID())
}

func (s *storeSuite) TestJobLifecycleThroughStore(c *gc.C) {
	store := s.open(c)

	id, err := store.Jobs().Insert(context.Background(), job.InsertArgs{
		Client:  "GRP",
		CmdLine: "run-search",
		Type:    job.TypeHypersearch,
	})
	c.Assert(err, jc.ErrorIsNil)

	got, err := store.Jobs().StartNext(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, gc.Equals, id)

	info, err := store.Jobs().Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.Running)
	c.Check(info.EngCjmConnID, gc.Equals, store.SessionID().String())
}

func (s *storeSuite) TestInfoWithModels(c *gc.C) {
	store := s.open(c)

	jobID, err := store.Jobs().Insert(context.Background(), job.InsertArgs{
		Client:  "GRP",
		CmdLine: "run-search",
		Type:    job.TypeHypersearch,
	})
	c.Assert(err, jc.ErrorIsNil)

	full, err := store.InfoWithModels(context.Background(), jobID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(full.Job.JobID, gc.Equals, jobID)
	c.Check(full.Models, gc.HasLen, 0)

	modelID, _, err := store.Models().InsertAndStart(context.Background(), jobID,
		`{"model":1}`, []byte("p1"), nil)
	c.Assert(err, jc.ErrorIsNil)

	full, err = store.InfoWithModels(context.Background(), jobID)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(full.Models, gc.HasLen, 1)
	c.Check(full.Models[0].ModelID, gc.Equals, modelID)

	ids, err := store.GetModelIDs(context.Background(), jobID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ids, gc.HasLen, 1)
}

func (s *storeSuite) TestOpenIsPersistent(c *gc.C) {
	store, err := Open(s.config())
	c.Assert(err, jc.ErrorIsNil)
	_, err = store.Jobs().Insert(context.Background(), job.InsertArgs{
		Client: "GRP", CmdLine: "run", Type: job.TypeTest,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(store.Close(), jc.ErrorIsNil)

	again := s.open(c)
	rows, err := again.Jobs().GetJobs(context.Background(), []string{"status"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rows, gc.HasLen, 1)
}

func (s *storeSuite) TestRecreateDiscardsState(c *gc.C) {
	store, err := Open(s.config())
	c.Assert(err, jc.ErrorIsNil)
	_, err = store.Jobs().Insert(context.Background(), job.InsertArgs{
		Client: "GRP", CmdLine: "run", Type: job.TypeTest,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(store.Close(), jc.ErrorIsNil)

	fresh := s.open(c, Recreate())
	rows, err := fresh.Jobs().GetJobs(context.Background(), []string{"status"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rows, gc.HasLen, 0)
}

func (s *storeSuite) TestDropOldVersions(c *gc.C) {
	old := filepath.Join(s.dir, schema.DatabaseNameForVersion(1, "unit-test")+".db")
	c.Assert(os.WriteFile(old, []byte("stale"), 0o644), jc.ErrorIsNil)

	s.open(c, DropOldVersions())

	_, err := os.Stat(old)
	c.Check(os.IsNotExist(err), jc.IsTrue)
}

func (s *storeSuite) TestOpenValidatesConfig(c *gc.C) {
	_, err := Open(Config{})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

type externalFactorySuite struct {
	databasetesting.StoreSuite
}

var _ = gc.Suite(&externalFactorySuite{})

func (s *externalFactorySuite) TestNewStoreOverExternalRunner(c *gc.C) {
	store, err := NewStore(s.TxnRunnerFactory())
	c.Assert(err, jc.ErrorIsNil)

	// The database belongs to the caller, so the store reports no
	// namespace and Close leaves the handle open.
	c.Check(store.DatabaseName(), gc.Equals, "")

	id, err := store.Jobs().Insert(context.Background(), job.InsertArgs{
		Client: "GRP", CmdLine: "run", Type: job.TypeTest,
	})
	c.Assert(err, jc.ErrorIsNil)

	info, err := store.Jobs().Info(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.NotStarted)

	c.Assert(store.Close(), jc.ErrorIsNil)
	c.Check(store.SessionID().String(), gc.Not(gc.Equals), "")
}
