package dbsink

import (
	"context"
	"fmt"
	"sync"

	"github.com/entropycollective/vaultfs/pkg/jobsystem"
)

// Memory is an in-process jobsystem.DbSink for tests: it keeps a copy
// of every report keyed by JobID, with the same create-vs-update
// semantics a real sink enforces (Update on a never-created report
// fails).
type Memory struct {
	mu      sync.Mutex
	reports map[jobsystem.JobID]jobsystem.Report
}

// NewMemory builds an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{reports: make(map[jobsystem.JobID]jobsystem.Report)}
}

func (m *Memory) CreateReport(ctx context.Context, r *jobsystem.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reports[r.ID]; exists {
		return fmt.Errorf("dbsink: report %s already exists", r.ID)
	}
	m.reports[r.ID] = *r
	return nil
}

func (m *Memory) UpdateReport(ctx context.Context, r *jobsystem.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reports[r.ID]; !exists {
		return fmt.Errorf("dbsink: report %s not found", r.ID)
	}
	m.reports[r.ID] = *r
	return nil
}

// Get returns a copy of the stored report, for test assertions.
func (m *Memory) Get(id jobsystem.JobID) (jobsystem.Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	return r, ok
}

// Len reports how many reports have been created.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}
