package jobsystem

import (
	"context"
	"sync"
	"time"

	"github.com/entropycollective/vaultfs/pkg/logging"
	"github.com/entropycollective/vaultfs/pkg/tasksystem"
)

// fiveMinutes mirrors the reference runner's memory-cleanup cadence.
const fiveMinutes = 5 * time.Minute

type activeJob struct {
	handle     *JobHandle
	hash       uint64
	cancel     context.CancelFunc
	outer      OuterContext
	key        string
	name       JobName
	locationID LocationID
}

type jobReturnMsg struct {
	id     JobID
	status ReturnStatus
}

type newJobRequest struct {
	job        Job
	locationID LocationID
	outer      OuterContext
	action     string
	parentID   *JobID
	nextJobs   []Job
	resume     [][]byte
	ack        chan newJobResult
}

type newJobResult struct {
	handle *JobHandle
	err    error
}

type commandRequest struct {
	id  JobID
	cmd Command
	ack chan error
}

type reportsRequest struct {
	ack chan []*Report
}

type runningCheckRequest struct {
	names []JobName
	key   string
	ack   chan bool
}

// runner is the job system's single-actor supervisor: every piece of
// shared state (handles, hash index, running-set) is touched only from
// its own goroutine, so none of it needs a mutex (the hash index keeps
// its own, although only this goroutine uses it).
type runner struct {
	log        *logging.Logger
	tasks      *tasksystem.System
	sink       DbSink
	dataDir    string
	hashes     *hashIndex

	handles           map[JobID]*activeJob
	runningByKeyName  map[string]map[JobName]JobID

	newJobCh   chan newJobRequest
	commandCh  chan commandRequest
	reportsCh  chan reportsRequest
	runningCh  chan runningCheckRequest
	returnCh   chan jobReturnMsg
	shutdownCh chan chan struct{}

	jobsToStore map[CtxID][]StoredJobEntry
}

func newRunner(tasks *tasksystem.System, sink DbSink, dataDir string, log *logging.Logger) *runner {
	return &runner{
		log:              log.WithComponent("jobsystem.runner"),
		tasks:            tasks,
		sink:             sink,
		dataDir:          dataDir,
		hashes:           newHashIndex(),
		handles:          make(map[JobID]*activeJob, jobsInitialCapacity),
		runningByKeyName: make(map[string]map[JobName]JobID),
		newJobCh:         make(chan newJobRequest),
		commandCh:        make(chan commandRequest),
		reportsCh:        make(chan reportsRequest),
		runningCh:        make(chan runningCheckRequest),
		returnCh:         make(chan jobReturnMsg, 16),
		shutdownCh:       make(chan chan struct{}),
		jobsToStore:      make(map[CtxID][]StoredJobEntry),
	}
}

func (rn *runner) run(ctx context.Context) {
	ticker := time.NewTicker(fiveMinutes)
	defer ticker.Stop()

	for {
		select {
		case req := <-rn.newJobCh:
			h, err := rn.handleNewJob(ctx, req)
			req.ack <- newJobResult{handle: h, err: err}

		case req := <-rn.commandCh:
			req.ack <- rn.handleCommand(ctx, req)

		case req := <-rn.reportsCh:
			req.ack <- rn.activeReports()

		case req := <-rn.runningCh:
			req.ack <- rn.isAnyRunning(req.names, req.key)

		case msg := <-rn.returnCh:
			rn.processReturn(ctx, msg)

		case <-ticker.C:
			rn.cleanMemory()

		case ack := <-rn.shutdownCh:
			rn.drainForShutdown(ctx)
			if err := SaveJobs(rn.dataDir, rn.jobsToStore); err != nil {
				rn.log.Error("failed to persist pending jobs", map[string]any{"error": err.Error()})
			}
			close(ack)
			return

		case <-ctx.Done():
			return
		}
	}
}

func (rn *runner) handleNewJob(ctx context.Context, req newJobRequest) (*JobHandle, error) {
	hash := req.job.Hash()
	if existing, ok := rn.hashes.lookup(hash); ok {
		return nil, &AlreadyRunningError{NewID: NewJobID(), AlreadyRunningID: existing, Name: req.job.Name()}
	}

	id := NewJobID()
	report := NewReport(id, req.job.Name()).WithAction(req.action)
	if req.parentID != nil {
		report = report.WithParentID(*req.parentID)
	}

	dispatcher := NewTaskDispatcher(rn.tasks)
	handle := newJobHandle(id, report.Build(), dispatcher, rn.sink, rn.log)
	handle.nextJobs = req.nextJobs

	// Every not-yet-started link in the chain gets its own queued Report
	// up front, so a Pause/Cancel sent to the head before a later link
	// ever runs still has something to mark, per commandChildren.
	for _, next := range req.nextJobs {
		childID := NewJobID()
		child := NewReport(childID, next.Name()).WithAction(req.action).WithParentID(id).Build()
		handle.childReports = append(handle.childReports, child)
	}

	jobCtx := &jobContextImpl{
		ctx:    ctx,
		sink:   rn.sink,
		report: handle.report,
		outer:  req.outer,
	}

	runCtx, cancel := context.WithCancel(ctx)
	active := &activeJob{handle: handle, hash: hash, cancel: cancel, outer: req.outer, key: req.key(), name: req.job.Name(), locationID: req.locationID}
	rn.handles[id] = active
	rn.hashes.insert(hash, id)
	rn.markRunning(req.key(), req.job.Name(), id)

	if err := handle.RegisterStart(ctx); err != nil {
		rn.log.Error("register start failed", map[string]any{"job": id.String(), "error": err.Error()})
	}

	go rn.driveJob(runCtx, active, req.job, jobCtx, dispatcher, req.resume)
	return handle, nil
}

func (req newJobRequest) key() string { return req.action }

func (rn *runner) markRunning(key string, name JobName, id JobID) {
	if key == "" {
		return
	}
	if rn.runningByKeyName[key] == nil {
		rn.runningByKeyName[key] = make(map[JobName]JobID)
	}
	rn.runningByKeyName[key][name] = id
}

func (rn *runner) unmarkRunning(key string, name JobName) {
	if m, ok := rn.runningByKeyName[key]; ok {
		delete(m, name)
		if len(m) == 0 {
			delete(rn.runningByKeyName, key)
		}
	}
}

// driveJob runs one job to completion off the actor goroutine, watching
// its command channel concurrently so Pause/Resume/Cancel take effect
// without blocking the actor on a potentially long-running Job.Run.
func (rn *runner) driveJob(ctx context.Context, active *activeJob, job Job, jc *jobContextImpl, dispatcher *TaskDispatcher, resume [][]byte) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case cmd := <-active.handle.commandsCh:
				switch cmd {
				case CommandPause:
					dispatcher.Pause()
				case CommandResume:
					dispatcher.Resume()
				case CommandCancel:
					dispatcher.Cancel()
					active.cancel()
				}
			case <-stop:
				return
			}
		}
	}()

	if len(resume) > 0 {
		if rj, ok := job.(ResumableJob); ok {
			rj.ResumeTasks(ctx, jc, dispatcher, resume)
		}
	}

	status := job.Run(ctx, jc, dispatcher)
	rn.returnCh <- jobReturnMsg{id: active.handle.ID, status: status}
}

func (rn *runner) processReturn(ctx context.Context, msg jobReturnMsg) {
	active, ok := rn.handles[msg.id]
	if !ok {
		return
	}

	switch msg.status.Kind {
	case ReturnShutdown:
		key := CtxID("default")
		if active.outer != nil {
			key = active.outer.ID()
		}
		entry := StoredJobEntry{
			LocationID: active.locationID,
			JobID:      msg.id,
			Name:       active.handle.report.Name,
			Tasks:      msg.status.Shutdown,
			NextJobs:   rn.serializeNextJobs(ctx, active),
		}
		rn.jobsToStore[key] = append(rn.jobsToStore[key], entry)
		if err := active.handle.ShutdownPauseJob(ctx); err != nil {
			rn.log.Error("shutdown-pause persist failed", map[string]any{"job": msg.id.String(), "error": err.Error()})
		}
		rn.retire(active)
		return

	case ReturnCompleted:
		if msg.status.Return != nil {
			if err := active.handle.CompleteJob(ctx, *msg.status.Return); err != nil {
				rn.log.Error("complete job persist failed", map[string]any{"job": msg.id.String(), "error": err.Error()})
			}
		}
		rn.dispatchNext(ctx, active)
		rn.retire(active)

	case ReturnCanceled:
		if err := active.handle.CancelJob(ctx); err != nil {
			rn.log.Error("cancel job persist failed", map[string]any{"job": msg.id.String(), "error": err.Error()})
		}
		rn.retire(active)

	case ReturnErrored:
		if err := active.handle.FailedJob(ctx, msg.status.Err); err != nil {
			rn.log.Error("fail job persist failed", map[string]any{"job": msg.id.String(), "error": err.Error()})
		}
		rn.retire(active)
	}
}

// dispatchNext pops the next link of active's chain (if any) and starts
// it running, handing it whatever remained of the chain so the
// only-the-head-holds-next_jobs invariant keeps holding. It calls
// handleNewJob directly rather than going through newJobCh: that
// channel is only read by this same actor goroutine, so sending to it
// from here would deadlock.
func (rn *runner) dispatchNext(ctx context.Context, active *activeJob) {
	if len(active.handle.nextJobs) == 0 {
		return
	}
	next := active.handle.nextJobs[0]
	remaining := active.handle.nextJobs[1:]
	hash := next.Hash()
	if _, already := rn.hashes.lookup(hash); already {
		rn.log.Warn("next job in chain already running elsewhere, dropping", map[string]any{"job": active.handle.ID.String()})
		return
	}

	parentID := active.handle.ID
	req := newJobRequest{
		job:        next,
		locationID: active.locationID,
		outer:      active.outer,
		nextJobs:   remaining,
		action:     active.handle.report.Action,
		parentID:   &parentID,
	}
	if _, err := rn.handleNewJob(ctx, req); err != nil {
		rn.log.Error("failed to dispatch next job in chain", map[string]any{"job": parentID.String(), "error": err.Error()})
	}
}

// serializeNextJobs freezes every not-yet-started link of active's
// resume chain that opts in by implementing SerializableJob, matching
// the reference runner's "each job that opts out by returning None is
// dropped; errors logged" shutdown-time behavior for next_jobs.
func (rn *runner) serializeNextJobs(ctx context.Context, active *activeJob) []StoredChildJob {
	if len(active.handle.nextJobs) == 0 {
		return nil
	}
	stored := make([]StoredChildJob, 0, len(active.handle.nextJobs))
	for _, child := range active.handle.nextJobs {
		sj, ok := child.(SerializableJob)
		if !ok {
			continue
		}
		data, err := sj.Serialize(ctx)
		if err != nil {
			rn.log.Error("next-job serialize failed, dropping", map[string]any{
				"job": active.handle.ID.String(), "child": string(child.Name()), "error": err.Error(),
			})
			continue
		}
		if data == nil {
			continue
		}
		stored = append(stored, StoredChildJob{Name: child.Name(), Data: data})
	}
	return stored
}

func (rn *runner) retire(active *activeJob) {
	delete(rn.handles, active.handle.ID)
	rn.hashes.remove(active.hash)
	rn.unmarkRunning(active.key, active.name)
}

func (rn *runner) handleCommand(ctx context.Context, req commandRequest) error {
	active, ok := rn.handles[req.id]
	if !ok {
		return ErrJobNotFound(req.id)
	}
	return active.handle.SendCommand(ctx, req.cmd)
}

func (rn *runner) activeReports() []*Report {
	reports := make([]*Report, 0, len(rn.handles))
	for _, active := range rn.handles {
		reports = append(reports, active.handle.Report())
	}
	return reports
}

func (rn *runner) isAnyRunning(names []JobName, key string) bool {
	m, ok := rn.runningByKeyName[key]
	if !ok {
		return false
	}
	for _, n := range names {
		if _, running := m[n]; running {
			return true
		}
	}
	return false
}

// cleanMemory shrinks the hash index back toward its initial capacity
// once enough jobs have finished, matching the reference runner's
// periodic shrink_to calls.
func (rn *runner) cleanMemory() {
	if rn.hashes.len() < jobsInitialCapacity {
		rn.hashes.mu.Lock()
		rn.hashes.rebuildLocked()
		rn.hashes.mu.Unlock()
	}
}

func (rn *runner) drainForShutdown(ctx context.Context) {
	var wg sync.WaitGroup
	for _, active := range rn.handles {
		active := active
		wg.Add(1)
		go func() {
			defer wg.Done()
			active.cancel()
		}()
	}
	wg.Wait()
	for len(rn.handles) > 0 {
		select {
		case msg := <-rn.returnCh:
			rn.processReturn(ctx, msg)
		case <-time.After(forceShutdownDrainTimeout):
			rn.log.Warn("timed out waiting for jobs to shut down", map[string]any{"remaining": len(rn.handles)})
			return
		}
	}
}

const forceShutdownDrainTimeout = 30 * time.Second
