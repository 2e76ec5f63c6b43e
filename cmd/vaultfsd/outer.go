package main

import (
	"github.com/entropycollective/vaultfs/pkg/jobsystem"
	"github.com/entropycollective/vaultfs/pkg/logging"
)

// daemonOuterContext is the one OuterContext this binary hands every
// job it submits: identity, the DbSink every Report persists through,
// and the data directory bleve indexes and thumbnails live under.
// InvalidateQuery is a no-op here since there is no query cache in
// front of this daemon's API responses. It also exposes Logger so
// location.WatchJob can log through the daemon's own configured logger
// instead of falling back to a default one.
type daemonOuterContext struct {
	id      jobsystem.CtxID
	sink    jobsystem.DbSink
	dataDir string
	log     *logging.Logger
}

func (o *daemonOuterContext) ID() jobsystem.CtxID      { return o.id }
func (o *daemonOuterContext) DbSink() jobsystem.DbSink { return o.sink }
func (o *daemonOuterContext) InvalidateQuery(string)   {}
func (o *daemonOuterContext) GetDataDirectory() string { return o.dataDir }
func (o *daemonOuterContext) Logger() *logging.Logger  { return o.log }
