package tasksystem

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entropycollective/vaultfs/pkg/logging"
)

// Scheduling constants, carried over unchanged from the reference
// worker runner this package is ported from.
const (
	tenSeconds = 10 * time.Second
	oneMinute  = time.Minute

	taskQueueInitialSize         = 64
	priorityTaskQueueInitialSize = 32
	abortMapInitialSize          = 8

	forceAbortionTimeout = time.Second
)

// pendingKind tags a queued task with the reason it is waiting, mirroring
// the three-way PendingTaskKind of the reference runner.
type pendingKind int

const (
	pendingNormal pendingKind = iota
	pendingPriority
	pendingSuspended
)

type queuedTask struct {
	task        Task
	interrupter *Interrupter
	worktable   *Worktable
	doneCh      chan<- TaskOutcome
	kind        pendingKind
}

// TaskOutcome is delivered on the channel the caller passed to Dispatch.
type TaskOutcome struct {
	TaskID TaskID
	Status TaskStatus
	Err    error
}

// runningTask tracks the single task a Runner has in flight at any
// moment, together with the signal channels used to abort or preempt
// it from another goroutine.
type runningTask struct {
	qt *queuedTask
	// abort carries a reply channel: ForceAbort sends its own ack channel
	// in and waits on it, so the 1-second forced-abort deadline bounds
	// actual confirmation that the runner processed the abort, not just
	// that the send went through.
	abort   chan chan struct{}
	preempt chan struct{}
}

// Runner owns one worker's local queues and drives its single execution
// goroutine. Multiple Runners share a Stealer so idle workers can pull
// work from busy ones.
type Runner struct {
	id      int
	log     *logging.Logger
	stealer *Stealer

	mu        sync.Mutex
	normal    *list.List // of *queuedTask, FIFO
	priority  *list.List // of *queuedTask, FIFO (front = next)
	paused    map[TaskID]*queuedTask
	suspended *queuedTask
	running   *runningTask

	idle               bool
	lastStealAttemptAt time.Time
	stealAttempts      int

	newWork       chan struct{}
	shutdown      chan chan struct{}
	wg            sync.WaitGroup
	onRequestHelp func()
}

// NewRunner creates a worker runner bound to id, using stealer to source
// and offer work when idle or overloaded.
func NewRunner(id int, stealer *Stealer, log *logging.Logger) *Runner {
	r := &Runner{
		id:       id,
		log:      log.WithComponent(fmt.Sprintf("tasksystem.worker[%d]", id)),
		stealer:  stealer,
		normal:   list.New(),
		priority: list.New(),
		paused:   make(map[TaskID]*queuedTask, abortMapInitialSize),
		idle:     true,
		newWork:  make(chan struct{}, 1),
		shutdown: make(chan chan struct{}),
	}
	stealer.register(id, r)
	return r
}

// Start launches the runner's dispatch loop.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Shutdown lets the in-flight task (if any) finish its current run,
// then replies StatusShutdown to every queued, paused, and suspended
// task and waits for the loop to exit.
func (r *Runner) Shutdown(ctx context.Context) {
	ack := make(chan struct{})
	select {
	case r.shutdown <- ack:
	case <-ctx.Done():
		return
	}
	select {
	case <-ack:
	case <-ctx.Done():
	}
	r.wg.Wait()
}

// TotalTasks reports the number of queued (not running) tasks, used by
// the stealer to prefer the most loaded runner.
func (r *Runner) TotalTasks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.normal.Len() + r.priority.Len()
	if r.suspended != nil {
		n++
	}
	return n
}

// Submit enqueues task for this runner according to priority's
// scheduling policy, mirroring inner_add_task in the reference runner:
//   - a Normal task always goes to the back of the normal queue;
//   - a priority task jumps the front of the priority queue;
//   - a priority task arriving while a Normal task is running, and
//     nothing is already queued to replace it, asks the running task to
//     preempt itself so the priority task can run next.
func (r *Runner) Submit(task Task, priority Priority, doneCh chan<- TaskOutcome) {
	wt := NewWorktable()
	it := NewInterrupter()
	qt := &queuedTask{task: task, interrupter: it, worktable: wt, doneCh: doneCh}

	r.mu.Lock()
	var preempt chan struct{}
	if priority == PriorityHigh {
		qt.kind = pendingPriority
		r.priority.PushFront(qt)
		if r.running != nil && r.running.qt.kind == pendingNormal && r.suspended == nil {
			preempt = r.running.preempt
		}
	} else {
		qt.kind = pendingNormal
		r.normal.PushBack(qt)
	}
	overloaded := r.normal.Len()+r.priority.Len() > 1 && time.Since(r.lastStealAttemptAt) > time.Second
	if overloaded {
		r.lastStealAttemptAt = time.Now()
	}
	r.mu.Unlock()

	if preempt != nil {
		select {
		case preempt <- struct{}{}:
		default:
		}
	}
	if overloaded && r.onRequestHelp != nil {
		r.onRequestHelp()
	}
	r.wake()
}

func (r *Runner) wake() {
	select {
	case r.newWork <- struct{}{}:
	default:
	}
}

// getNextTask picks the next task to run: priority queue first, then
// any suspended task (resumed in place), then the normal queue. Returns
// nil if nothing is ready.
func (r *Runner) getNextTask() *queuedTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.priority.Front(); e != nil {
		r.priority.Remove(e)
		return e.Value.(*queuedTask)
	}
	if r.suspended != nil {
		qt := r.suspended
		r.suspended = nil
		qt.interrupter.Reset()
		qt.worktable.Unpause()
		return qt
	}
	if e := r.normal.Front(); e != nil {
		r.normal.Remove(e)
		return e.Value.(*queuedTask)
	}
	return nil
}

// loop is the runner's single execution goroutine: it runs one task at
// a time, signaling idle and asking the stealer for help when it runs
// dry, until shutdown is requested.
func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	idleTicker := time.NewTicker(2 * time.Second)
	defer idleTicker.Stop()

	for {
		qt := r.getNextTask()
		if qt == nil {
			r.setIdle(true)
			select {
			case ack := <-r.shutdown:
				r.drainShutdown()
				close(ack)
				return
			case <-r.newWork:
				continue
			case <-idleTicker.C:
				r.attemptSteal(ctx)
				continue
			case <-ctx.Done():
				return
			}
		}
		r.setIdle(false)
		r.runOne(ctx, qt)

		select {
		case ack := <-r.shutdown:
			r.drainShutdown()
			close(ack)
			return
		default:
		}
	}
}

func (r *Runner) setIdle(v bool) {
	r.mu.Lock()
	r.idle = v
	r.mu.Unlock()
}

// attemptSteal asks the stealer for a task from the busiest peer once
// the exponential backoff window has elapsed, matching the reference
// formula required = min(10s * attempts, 1m).
func (r *Runner) attemptSteal(ctx context.Context) {
	required := time.Duration(r.stealAttempts) * tenSeconds
	if required > oneMinute {
		required = oneMinute
	}
	if time.Since(r.lastStealAttemptAt) < required {
		return
	}
	r.lastStealAttemptAt = time.Now()

	stolen, ok := r.stealer.steal(ctx, r.id)
	if !ok {
		r.stealAttempts++
		r.log.WarnEvery(oneMinute, "idle worker found no stealable work", map[string]any{"attempts": r.stealAttempts})
		return
	}
	r.stealAttempts = 0
	r.mu.Lock()
	switch stolen.kind {
	case pendingPriority:
		r.priority.PushBack(stolen)
	default:
		r.normal.PushBack(stolen)
	}
	r.mu.Unlock()
	r.wake()
}

// runOne drives a single task through its full run/preempt/abort/timeout
// lifecycle, ported from run_single_task + handle_run_task_attempt in
// the reference runner.
func (r *Runner) runOne(ctx context.Context, qt *queuedTask) {
	qt.worktable.SetStarted()
	rt := &runningTask{qt: qt, abort: make(chan chan struct{}), preempt: make(chan struct{}, 1)}
	r.mu.Lock()
	r.running = rt
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = nil
		r.mu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut chan struct{}
	if d, hasTimeout := timeoutOf(qt.task); hasTimeout {
		timedOut = make(chan struct{})
		timer := time.AfterFunc(d, func() {
			cancel()
			close(timedOut)
		})
		defer timer.Stop()
	}

	type result struct {
		status ExecStatus
		err    error
	}
	resCh := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resCh <- result{err: NewSystemError(ErrKindJoin, qt.task.ID(), fmt.Errorf("panic: %v", p))}
			}
		}()
		status, err := qt.task.Run(runCtx, qt.interrupter)
		resCh <- result{status, err}
	}()

	select {
	case replyTo := <-rt.abort:
		qt.worktable.SetAborted()
		r.reply(qt, StatusForcedAbortion, NewSystemError(ErrKindAborted, qt.task.ID(), nil))
		close(replyTo)
		return
	case <-rt.preempt:
		qt.interrupter.signalPause()
		res := <-resCh
		hasSuspended := res.status == ExecPaused
		r.finishNormal(qt, res.status, res.err, hasSuspended)
		return
	case <-timedOut:
		qt.worktable.SetAborted()
		r.reply(qt, StatusForcedAbortion, NewSystemError(ErrKindForcedAbortion, qt.task.ID(), fmt.Errorf("task %s exceeded its timeout", qt.task.ID())))
		return
	case res := <-resCh:
		if runCtx.Err() != nil && res.err == nil {
			qt.worktable.SetAborted()
			r.reply(qt, StatusForcedAbortion, NewSystemError(ErrKindForcedAbortion, qt.task.ID(), fmt.Errorf("task %s exceeded its timeout", qt.task.ID())))
			return
		}
		r.finishNormal(qt, res.status, res.err, false)
	}
}

func (r *Runner) finishNormal(qt *queuedTask, status ExecStatus, err error, hasSuspended bool) {
	switch {
	case err != nil:
		qt.worktable.SetCompleted()
		r.reply(qt, StatusError, err)
	case status == ExecCanceled:
		qt.worktable.SetCanceled()
		r.reply(qt, StatusCanceled, nil)
	case status == ExecPaused:
		qt.worktable.AckPause()
		if hasSuspended {
			r.mu.Lock()
			r.suspended = qt
			r.mu.Unlock()
			r.reply(qt, StatusSuspend, nil)
		} else {
			r.mu.Lock()
			r.paused[qt.task.ID()] = qt
			r.mu.Unlock()
		}
	default:
		qt.worktable.SetCompleted()
		r.reply(qt, StatusDone, nil)
	}
}

func (r *Runner) reply(qt *queuedTask, status TaskStatus, err error) {
	if qt.doneCh == nil {
		return
	}
	select {
	case qt.doneCh <- TaskOutcome{TaskID: qt.task.ID(), Status: status, Err: err}:
	default:
		go func() { qt.doneCh <- TaskOutcome{TaskID: qt.task.ID(), Status: status, Err: err} }()
	}
}

// Resume moves a not-currently-running paused task back onto the normal
// queue.
func (r *Runner) Resume(id TaskID) bool {
	r.mu.Lock()
	qt, ok := r.paused[id]
	if ok {
		delete(r.paused, id)
		qt.interrupter.Reset()
		qt.worktable.Unpause()
		r.normal.PushBack(qt)
	}
	r.mu.Unlock()
	if ok {
		r.wake()
	}
	return ok
}

// Pause cooperatively pauses task wherever it currently is: a queued
// task is moved straight to the paused set, a running task is asked to
// stop via its Interrupter.
func (r *Runner) Pause(id TaskID) bool {
	r.mu.Lock()
	if r.running != nil && r.running.qt.task.ID() == id {
		it := r.running.qt.interrupter
		r.mu.Unlock()
		it.signalPause()
		return true
	}
	if qt := r.removeFromQueuesLocked(id); qt != nil {
		qt.worktable.Pause()
		r.paused[id] = qt
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()
	return false
}

// Cancel cancels a task wherever it is: queued, paused, or running.
func (r *Runner) Cancel(id TaskID) bool {
	r.mu.Lock()
	if r.running != nil && r.running.qt.task.ID() == id {
		it := r.running.qt.interrupter
		r.mu.Unlock()
		it.signalCancel()
		return true
	}
	if qt, ok := r.paused[id]; ok {
		delete(r.paused, id)
		r.mu.Unlock()
		qt.worktable.SetCanceled()
		r.reply(qt, StatusCanceled, nil)
		return true
	}
	removed := r.removeFromQueuesLocked(id)
	r.mu.Unlock()
	if removed != nil {
		removed.worktable.SetCanceled()
		r.reply(removed, StatusCanceled, nil)
		return true
	}
	return false
}

// ForceAbort aborts a task with a hard deadline. If the task is queued,
// paused, or suspended, it is reported StatusForcedAbortion and purged
// immediately. If it is running, the abort is handed to the execution
// goroutine's select and ForceAbort waits up to forceAbortionTimeout for
// it to be picked up; if that deadline passes — because the runner's
// select has already moved on to a different outcome, or the task
// finished concurrently with no one left to read the abort — ForceAbort
// returns a SystemError of kind ErrKindForcedAbortTimeout and leaves the
// task alone; it will eventually finish and be reaped normally.
func (r *Runner) ForceAbort(id TaskID) error {
	r.mu.Lock()
	running := r.running != nil && r.running.qt.task.ID() == id
	var abort chan chan struct{}
	if running {
		abort = r.running.abort
	}
	r.mu.Unlock()
	if !running {
		r.forceAbortNotRunning(id)
		return nil
	}

	deadline := time.NewTimer(forceAbortionTimeout)
	defer deadline.Stop()
	ack := make(chan struct{})
	select {
	case abort <- ack:
	case <-deadline.C:
		return NewSystemError(ErrKindForcedAbortTimeout, id, nil)
	}
	select {
	case <-ack:
		return nil
	case <-deadline.C:
		return NewSystemError(ErrKindForcedAbortTimeout, id, nil)
	}
}

// forceAbortNotRunning synthesizes StatusForcedAbortion for a task found
// queued, paused, or suspended (not currently executing), matching the
// same purge-and-report path ForceAbort takes for a live task.
func (r *Runner) forceAbortNotRunning(id TaskID) {
	r.mu.Lock()
	if qt, ok := r.paused[id]; ok {
		delete(r.paused, id)
		r.mu.Unlock()
		qt.worktable.SetAborted()
		r.reply(qt, StatusForcedAbortion, NewSystemError(ErrKindAborted, id, nil))
		return
	}
	qt := r.removeFromQueuesLocked(id)
	r.mu.Unlock()
	if qt != nil {
		qt.worktable.SetAborted()
		r.reply(qt, StatusForcedAbortion, NewSystemError(ErrKindAborted, id, nil))
	}
}

func (r *Runner) removeFromQueuesLocked(id TaskID) *queuedTask {
	for e := r.priority.Front(); e != nil; e = e.Next() {
		if e.Value.(*queuedTask).task.ID() == id {
			r.priority.Remove(e)
			return e.Value.(*queuedTask)
		}
	}
	for e := r.normal.Front(); e != nil; e = e.Next() {
		if e.Value.(*queuedTask).task.ID() == id {
			r.normal.Remove(e)
			return e.Value.(*queuedTask)
		}
	}
	if r.suspended != nil && r.suspended.task.ID() == id {
		qt := r.suspended
		r.suspended = nil
		return qt
	}
	return nil
}

// drainShutdown replies StatusShutdown to every task still sitting in a
// queue, matching the reference runner's shutdown fan-out.
func (r *Runner) drainShutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := r.priority.Front(); e != nil; e = e.Next() {
		r.reply(e.Value.(*queuedTask), StatusShutdown, nil)
	}
	for e := r.normal.Front(); e != nil; e = e.Next() {
		r.reply(e.Value.(*queuedTask), StatusShutdown, nil)
	}
	for _, qt := range r.paused {
		r.reply(qt, StatusShutdown, nil)
	}
	if r.suspended != nil {
		r.reply(r.suspended, StatusShutdown, nil)
	}
	r.normal.Init()
	r.priority.Init()
	r.paused = make(map[TaskID]*queuedTask)
	r.suspended = nil
}

// stealOne lends a queued task to another idle runner, used by the
// Stealer. It picks from the same priority→suspended→normal classes as
// getNextTask, so a victim whose queue is entirely priority or suspended
// work is still stealable rather than reporting false negatives; unlike
// getNextTask it pulls from the back of each queue (the owner pops from
// the front), so owner and thief never race for the same element.
func (r *Runner) stealOne() (*queuedTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.priority.Back(); e != nil {
		r.priority.Remove(e)
		return e.Value.(*queuedTask), true
	}
	if r.suspended != nil {
		qt := r.suspended
		r.suspended = nil
		qt.interrupter.Reset()
		qt.worktable.Unpause()
		return qt, true
	}
	if e := r.normal.Back(); e != nil {
		r.normal.Remove(e)
		return e.Value.(*queuedTask), true
	}
	return nil, false
}

// IsIdle reports whether the runner currently has no task in flight.
func (r *Runner) IsIdle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idle
}

func timeoutOf(t Task) (time.Duration, bool) {
	if to, ok := t.(Timeoutable); ok {
		return to.Timeout()
	}
	return 0, false
}
