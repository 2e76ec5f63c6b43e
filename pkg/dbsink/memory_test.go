package dbsink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entropycollective/vaultfs/pkg/jobsystem"
)

func TestMemoryCreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	sink := NewMemory()

	report := jobsystem.NewReport(jobsystem.NewJobID(), jobsystem.JobNameIndexer).Build()
	require.NoError(t, report.Create(ctx, sink))
	require.NotNil(t, report.CreatedAt)
	assert.Equal(t, 1, sink.Len())

	report.Status = jobsystem.StatusCompleted
	require.NoError(t, report.Update(ctx, sink))

	stored, ok := sink.Get(report.ID)
	require.True(t, ok)
	assert.Equal(t, jobsystem.StatusCompleted, stored.Status)
}

func TestMemoryUpdateWithoutCreateFails(t *testing.T) {
	ctx := context.Background()
	sink := NewMemory()

	report := jobsystem.NewReport(jobsystem.NewJobID(), jobsystem.JobNameIndexer).Build()
	err := sink.UpdateReport(ctx, report)
	assert.Error(t, err)
}

func TestMemoryCreateTwiceFails(t *testing.T) {
	ctx := context.Background()
	sink := NewMemory()

	report := jobsystem.NewReport(jobsystem.NewJobID(), jobsystem.JobNameIndexer).Build()
	require.NoError(t, report.Create(ctx, sink))

	err := sink.CreateReport(ctx, report)
	assert.Error(t, err)
}
