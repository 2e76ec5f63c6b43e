package jobsystem

import (
	"context"
	"sync"
)

// jobContextImpl is the concrete JobContext handed to a running Job: it
// lets the job push ProgressUpdate values (folded into the shared
// Report under a mutex, since the run goroutine and the actor's
// activeReports snapshot both touch the same Report) and reach the
// OuterContext collaborator set.
type jobContextImpl struct {
	mu     sync.Mutex
	ctx    context.Context
	sink   DbSink
	report *Report
	outer  OuterContext
}

// Progress folds each update into the report in order, then persists
// the result. A nil field in an update leaves that report field alone,
// so a caller can report just a message without clobbering task counts.
func (jc *jobContextImpl) Progress(updates []ProgressUpdate) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	for _, u := range updates {
		if u.Message != "" {
			jc.report.Message = u.Message
		}
		if u.Phase != "" {
			jc.report.Phase = u.Phase
		}
		if u.CompletedTaskCount != nil {
			jc.report.CompletedTaskCount = *u.CompletedTaskCount
		}
		if u.TaskCount != nil {
			jc.report.TaskCount = *u.TaskCount
		}
	}
	jc.report.EstimatedCompletion = jc.report.estimateCompletion()
	if jc.sink != nil {
		_ = jc.report.Update(jc.ctx, jc.sink)
	}
}

func (jc *jobContextImpl) Report() *Report { return jc.report }

func (jc *jobContextImpl) OuterContext() OuterContext { return jc.outer }
