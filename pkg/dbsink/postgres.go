// Package dbsink provides jobsystem.DbSink implementations: a real
// PostgreSQL-backed store for production and an in-memory fake for
// tests that don't want a live database.
package dbsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/entropycollective/vaultfs/pkg/jobsystem"
)

// Config holds connection parameters for the Postgres-backed sink.
type Config struct {
	ConnectionString string
	MaxConnections   int32
	ConnectTimeout   time.Duration
}

// Postgres persists job Reports to a `job_reports` table via pgx's
// connection pool, the same driver and pooling posture the teacher's
// compliance storage layer uses for its own tables.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool against cfg.ConnectionString and verifies
// connectivity before returning.
func NewPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("dbsink: connection string is required")
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("dbsink: parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(timeoutCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("dbsink: create connection pool: %w", err)
	}
	if err := pool.Ping(timeoutCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dbsink: ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() { p.pool.Close() }

// CreateReport inserts a brand-new report row.
func (p *Postgres) CreateReport(ctx context.Context, r *jobsystem.Report) error {
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("dbsink: marshal metadata: %w", err)
	}
	errorsText, err := json.Marshal(r.ErrorsText)
	if err != nil {
		return fmt.Errorf("dbsink: marshal errors: %w", err)
	}

	query := `
		INSERT INTO job_reports (
			id, name, action, data, metadata, errors_text,
			created_at, started_at, completed_at, parent_id, status,
			task_count, completed_task_count, phase, message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)`

	_, err = p.pool.Exec(ctx, query,
		r.ID.String(), string(r.Name), r.Action, r.Data, metadata, errorsText,
		r.CreatedAt, r.StartedAt, r.CompletedAt, parentIDString(r.ParentID), int32(r.Status),
		r.TaskCount, r.CompletedTaskCount, r.Phase, r.Message,
	)
	if err != nil {
		return fmt.Errorf("dbsink: insert report %s: %w", r.ID, err)
	}
	return nil
}

// UpdateReport overwrites the mutable fields of an already-created row.
func (p *Postgres) UpdateReport(ctx context.Context, r *jobsystem.Report) error {
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("dbsink: marshal metadata: %w", err)
	}
	errorsText, err := json.Marshal(r.ErrorsText)
	if err != nil {
		return fmt.Errorf("dbsink: marshal errors: %w", err)
	}

	query := `
		UPDATE job_reports SET
			data = $2, metadata = $3, errors_text = $4,
			started_at = $5, completed_at = $6, status = $7,
			task_count = $8, completed_task_count = $9, phase = $10, message = $11
		WHERE id = $1`

	tag, err := p.pool.Exec(ctx, query,
		r.ID.String(), r.Data, metadata, errorsText,
		r.StartedAt, r.CompletedAt, int32(r.Status),
		r.TaskCount, r.CompletedTaskCount, r.Phase, r.Message,
	)
	if err != nil {
		return fmt.Errorf("dbsink: update report %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dbsink: update report %s: %w", r.ID, pgx.ErrNoRows)
	}
	return nil
}

func parentIDString(id *jobsystem.JobID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
