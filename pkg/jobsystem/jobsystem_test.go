package jobsystem_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entropycollective/vaultfs/pkg/dbsink"
	"github.com/entropycollective/vaultfs/pkg/jobsystem"
	"github.com/entropycollective/vaultfs/pkg/logging"
)

type fakeOuter struct {
	id      jobsystem.CtxID
	sink    jobsystem.DbSink
	dataDir string
}

func (o *fakeOuter) ID() jobsystem.CtxID         { return o.id }
func (o *fakeOuter) DbSink() jobsystem.DbSink     { return o.sink }
func (o *fakeOuter) InvalidateQuery(string)       {}
func (o *fakeOuter) GetDataDirectory() string     { return o.dataDir }

func newSystem(t *testing.T, sink jobsystem.DbSink) (*jobsystem.JobSystem, func()) {
	t.Helper()
	log := logging.NewLogger(logging.DefaultConfig())
	js := jobsystem.New(2, sink, t.TempDir(), log)
	ctx, cancel := context.WithCancel(context.Background())
	js.Start(ctx)
	return js, func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutCancel()
		_ = js.Shutdown(shutCtx)
		cancel()
	}
}

// fakeJob completes immediately once run is signaled, reporting one
// progress update first so Report()'s fields exercise at least one
// write through jobContextImpl before completion.
type fakeJob struct {
	name    jobsystem.JobName
	hashKey string
	run     chan struct{}
	ran     chan struct{}
}

func newFakeJob(name jobsystem.JobName, hashKey string) *fakeJob {
	return &fakeJob{name: name, hashKey: hashKey, run: make(chan struct{}), ran: make(chan struct{})}
}

func (j *fakeJob) Name() jobsystem.JobName { return j.name }
func (j *fakeJob) Hash() uint64            { return jobsystem.HashJobKey(j.name, j.hashKey) }

func (j *fakeJob) Run(ctx context.Context, jc jobsystem.JobContext, dispatcher *jobsystem.TaskDispatcher) jobsystem.ReturnStatus {
	close(j.ran)
	select {
	case <-j.run:
	case <-ctx.Done():
		return jobsystem.ReturnStatus{Kind: jobsystem.ReturnCanceled}
	}
	jc.Progress([]jobsystem.ProgressUpdate{jobsystem.ProgressMessage("working")})
	ret := jobsystem.NewJobReturn().WithMetadata(map[string]any{"ok": true}).Build()
	return jobsystem.ReturnStatus{Kind: jobsystem.ReturnCompleted, Return: &ret}
}

func TestNewJobRunsToCompletionAndPersistsReport(t *testing.T) {
	sink := dbsink.NewMemory()
	js, stop := newSystem(t, sink)
	defer stop()

	job := newFakeJob(jobsystem.JobNameIndexer, "/library")
	outer := &fakeOuter{id: "default", sink: sink, dataDir: t.TempDir()}

	handle, err := js.NewJob(context.Background(), job, "/library", outer, "index:/library")
	require.NoError(t, err)

	<-job.ran
	close(job.run)

	require.Eventually(t, func() bool {
		r, ok := sink.Get(handle.ID)
		return ok && r.Status.IsFinished()
	}, time.Second, 5*time.Millisecond, "report never reached a finished status")

	report, ok := sink.Get(handle.ID)
	require.True(t, ok)
	assert.Equal(t, jobsystem.StatusCompleted, report.Status)
	assert.Equal(t, true, report.Metadata["ok"])
	assert.NotNil(t, report.CompletedAt)
}

func TestNewJobHashDedupRejectsConcurrentDuplicate(t *testing.T) {
	sink := dbsink.NewMemory()
	js, stop := newSystem(t, sink)
	defer stop()

	outer := &fakeOuter{id: "default", sink: sink, dataDir: t.TempDir()}

	first := newFakeJob(jobsystem.JobNameIndexer, "/library")
	firstHandle, err := js.NewJob(context.Background(), first, "/library", outer, "index:/library")
	require.NoError(t, err)
	<-first.ran

	second := newFakeJob(jobsystem.JobNameIndexer, "/library")
	_, err = js.NewJob(context.Background(), second, "/library", outer, "index:/library")
	require.Error(t, err)

	var already *jobsystem.AlreadyRunningError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, firstHandle.ID, already.AlreadyRunningID)

	close(first.run)
}

func TestNextJobsChainRunsInOrder(t *testing.T) {
	sink := dbsink.NewMemory()
	js, stop := newSystem(t, sink)
	defer stop()

	outer := &fakeOuter{id: "default", sink: sink, dataDir: t.TempDir()}

	root := newFakeJob(jobsystem.JobNameIndexer, "root")
	second := newFakeJob(jobsystem.JobNameIndexer, "second")
	third := newFakeJob(jobsystem.JobNameIndexer, "third")

	rootHandle, err := js.NewJob(context.Background(), root, "/library", outer, "chain", second, third)
	require.NoError(t, err)

	<-root.ran
	select {
	case <-second.ran:
		t.Fatal("second job started before root completed")
	case <-time.After(20 * time.Millisecond):
	}
	close(root.run)

	<-second.ran
	select {
	case <-third.ran:
		t.Fatal("third job started before second completed")
	case <-time.After(20 * time.Millisecond):
	}
	close(second.run)

	<-third.ran
	close(third.run)

	require.Eventually(t, func() bool {
		r, ok := sink.Get(rootHandle.ID)
		return ok && r.Status == jobsystem.StatusCompleted
	}, time.Second, 5*time.Millisecond, "root job never completed")

	require.Eventually(t, func() bool {
		reports, err := js.ActiveReports(context.Background())
		return err == nil && len(reports) == 0
	}, time.Second, 5*time.Millisecond, "chain jobs never retired")
}

// blockingChildJob parks in Run until canceled, used as a not-yet-
// dispatched child report to exercise cascading Cancel.
type blockingChildJob struct {
	name jobsystem.JobName
}

func (j *blockingChildJob) Name() jobsystem.JobName { return j.name }
func (j *blockingChildJob) Hash() uint64            { return jobsystem.HashJobKey(j.name, "child") }
func (j *blockingChildJob) Run(ctx context.Context, jc jobsystem.JobContext, dispatcher *jobsystem.TaskDispatcher) jobsystem.ReturnStatus {
	<-ctx.Done()
	return jobsystem.ReturnStatus{Kind: jobsystem.ReturnCanceled}
}

// childTrackingSink records the IDs of reports created with a parent so
// a test can look the child reports up in the wrapped Memory sink.
type childTrackingSink struct {
	*dbsink.Memory
	mu       sync.Mutex
	children []jobsystem.JobID
}

func (s *childTrackingSink) CreateReport(ctx context.Context, r *jobsystem.Report) error {
	if r.ParentID != nil {
		s.mu.Lock()
		s.children = append(s.children, r.ID)
		s.mu.Unlock()
	}
	return s.Memory.CreateReport(ctx, r)
}

func (s *childTrackingSink) childIDs() []jobsystem.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jobsystem.JobID(nil), s.children...)
}

func TestCommandCancelCascadesToChildReports(t *testing.T) {
	sink := &childTrackingSink{Memory: dbsink.NewMemory()}
	js, stop := newSystem(t, sink)
	defer stop()

	outer := &fakeOuter{id: "default", sink: sink, dataDir: t.TempDir()}

	root := newFakeJob(jobsystem.JobNameIndexer, "root")
	child := &blockingChildJob{name: jobsystem.JobNameIndexer}

	rootHandle, err := js.NewJob(context.Background(), root, "/library", outer, "chain-cancel", child)
	require.NoError(t, err)
	<-root.ran

	err = js.Command(context.Background(), rootHandle.ID, jobsystem.CommandCancel)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, ok := sink.Get(rootHandle.ID)
		return ok && r.Status == jobsystem.StatusCanceled
	}, time.Second, 5*time.Millisecond, "root job never canceled")

	childIDs := sink.childIDs()
	require.Len(t, childIDs, 1)
	require.Eventually(t, func() bool {
		r, ok := sink.Get(childIDs[0])
		return ok && r.Status == jobsystem.StatusCanceled && r.CompletedAt != nil
	}, time.Second, 5*time.Millisecond, "child report never canceled")

	close(root.run)
}

func TestCommandUnknownJobReturnsNotFound(t *testing.T) {
	sink := dbsink.NewMemory()
	js, stop := newSystem(t, sink)
	defer stop()

	err := js.Command(context.Background(), jobsystem.NewJobID(), jobsystem.CommandPause)
	require.Error(t, err)
}

// shutdownableJob watches ctx for cancellation (as driveJob's shutdown
// path does) and hands back whatever bytes it was constructed with,
// exercising the Shutdown(Some(bytes)) branch of processReturn.
type shutdownableJob struct {
	name        jobsystem.JobName
	hashKey     string
	taskPayload [][]byte
	started     chan struct{}
}

func newShutdownableJob(name jobsystem.JobName, hashKey string, taskPayload [][]byte) *shutdownableJob {
	return &shutdownableJob{name: name, hashKey: hashKey, taskPayload: taskPayload, started: make(chan struct{})}
}

func (j *shutdownableJob) Name() jobsystem.JobName { return j.name }
func (j *shutdownableJob) Hash() uint64            { return jobsystem.HashJobKey(j.name, j.hashKey) }

func (j *shutdownableJob) Run(ctx context.Context, jc jobsystem.JobContext, dispatcher *jobsystem.TaskDispatcher) jobsystem.ReturnStatus {
	close(j.started)
	<-ctx.Done()
	return jobsystem.ReturnStatus{Kind: jobsystem.ReturnShutdown, Shutdown: j.taskPayload}
}

// serializableChildJob is a not-yet-started chain link that opts into
// shutdown-time serialization.
type serializableChildJob struct {
	name jobsystem.JobName
	data []byte
}

func (j *serializableChildJob) Name() jobsystem.JobName { return j.name }
func (j *serializableChildJob) Hash() uint64            { return jobsystem.HashJobKey(j.name, "serializable-child") }
func (j *serializableChildJob) Run(ctx context.Context, jc jobsystem.JobContext, dispatcher *jobsystem.TaskDispatcher) jobsystem.ReturnStatus {
	<-ctx.Done()
	return jobsystem.ReturnStatus{Kind: jobsystem.ReturnCanceled}
}
func (j *serializableChildJob) Serialize(ctx context.Context) ([]byte, error) { return j.data, nil }

func TestShutdownPersistsSerializedJobAndChainToDisk(t *testing.T) {
	sink := dbsink.NewMemory()
	log := logging.NewLogger(logging.DefaultConfig())
	dataDir := t.TempDir()
	js := jobsystem.New(2, sink, dataDir, log)
	ctx, cancel := context.WithCancel(context.Background())
	js.Start(ctx)
	defer cancel()

	outer := &fakeOuter{id: "library-1", sink: sink, dataDir: dataDir}
	job := newShutdownableJob(jobsystem.JobNameIndexer, "/library", [][]byte{[]byte("task-one"), []byte("task-two")})
	child := &serializableChildJob{name: jobsystem.JobNameMediaProcessor, data: []byte("child-state")}

	handle, err := js.NewJob(context.Background(), job, "library-1", outer, "index:/library", child)
	require.NoError(t, err)
	<-job.started

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutCancel()
	require.NoError(t, js.Shutdown(shutCtx))

	stored, err := js.LoadPersistedJobs()
	require.NoError(t, err)
	entries, ok := stored[outer.ID()]
	require.True(t, ok, "no stored entries for ctx %q", outer.ID())
	require.Len(t, entries, 1)
	assert.Equal(t, handle.ID, entries[0].JobID)
	assert.Equal(t, jobsystem.LocationID("library-1"), entries[0].LocationID)
	assert.Equal(t, jobsystem.JobNameIndexer, entries[0].Name)
	assert.Equal(t, [][]byte{[]byte("task-one"), []byte("task-two")}, entries[0].Tasks)
	require.Len(t, entries[0].NextJobs, 1)
	assert.Equal(t, jobsystem.JobNameMediaProcessor, entries[0].NextJobs[0].Name)
	assert.Equal(t, []byte("child-state"), entries[0].NextJobs[0].Data)

	report, ok := sink.Get(handle.ID)
	require.True(t, ok)
	assert.Equal(t, jobsystem.StatusPaused, report.Status)
}

func TestIsAnyRunningReflectsDedupKey(t *testing.T) {
	sink := dbsink.NewMemory()
	js, stop := newSystem(t, sink)
	defer stop()

	outer := &fakeOuter{id: "default", sink: sink, dataDir: t.TempDir()}
	job := newFakeJob(jobsystem.JobNameIndexer, "/library")

	running, err := js.IsAnyRunning(context.Background(), "index:/library", jobsystem.JobNameIndexer)
	require.NoError(t, err)
	assert.False(t, running)

	_, err = js.NewJob(context.Background(), job, "/library", outer, "index:/library")
	require.NoError(t, err)
	<-job.ran

	running, err = js.IsAnyRunning(context.Background(), "index:/library", jobsystem.JobNameIndexer)
	require.NoError(t, err)
	assert.True(t, running)

	close(job.run)
}
