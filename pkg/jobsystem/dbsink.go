package jobsystem

import "context"

// DbSink is the persistence collaborator a Report is written through.
// It is intentionally narrow: the job system never issues arbitrary
// queries, only create/update of its own report rows.
type DbSink interface {
	CreateReport(ctx context.Context, r *Report) error
	UpdateReport(ctx context.Context, r *Report) error
}
