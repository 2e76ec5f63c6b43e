package tasksystem

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Stealer is the work-stealing fabric shared by every Runner in a
// System: an idle runner asks it for work, and it picks the most
// loaded peer and pulls one task from it via stealOne, which applies
// the same priority→suspended→normal class order getNextTask uses, so
// a victim chosen for having the most total queued work (priority and
// suspended included) is never refused just because none of it happens
// to be sitting in its normal queue. A weighted semaphore bounds how
// many runners may be mid-steal at once; it is sized to the worker
// count, so every runner can hold a slot and all idle workers may scan
// their peers at the same time.
type Stealer struct {
	mu      sync.RWMutex
	runners map[int]*Runner
	sem     *semaphore.Weighted
}

// NewStealer creates an empty work-stealing fabric sized for
// workerCount runners; Runners register themselves via register as
// they are created.
func NewStealer(workerCount int) *Stealer {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Stealer{
		runners: make(map[int]*Runner),
		sem:     semaphore.NewWeighted(int64(workerCount)),
	}
}

func (s *Stealer) register(id int, r *Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[id] = r
}

// steal picks the busiest runner other than excludeID and removes one
// task from its queue, handing it to the caller.
func (s *Stealer) steal(ctx context.Context, excludeID int) (*queuedTask, bool) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, false
	}
	defer s.sem.Release(1)

	s.mu.RLock()
	var target *Runner
	best := 0
	for id, r := range s.runners {
		if id == excludeID {
			continue
		}
		if n := r.TotalTasks(); n > best {
			best = n
			target = r
		}
	}
	s.mu.RUnlock()

	if target == nil || best == 0 {
		return nil, false
	}
	return target.stealOne()
}
