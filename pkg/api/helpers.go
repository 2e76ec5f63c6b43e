package api

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/entropycollective/vaultfs/pkg/jobsystem"
)

func parseCommand(s string) (jobsystem.Command, error) {
	switch s {
	case "pause":
		return jobsystem.CommandPause, nil
	case "resume":
		return jobsystem.CommandResume, nil
	case "cancel":
		return jobsystem.CommandCancel, nil
	default:
		return 0, fmt.Errorf("api: unknown command %q", s)
	}
}

func parseJobID(s string) (jobsystem.JobID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return jobsystem.JobID{}, fmt.Errorf("api: invalid job id %q: %w", s, err)
	}
	return jobsystem.JobID(id), nil
}
