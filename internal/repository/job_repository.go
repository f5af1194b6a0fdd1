package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/RebootGod/catalogsync/internal/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, progress_key, entity_type, total, status, success, failed, skipped,
	error_message, started_at, completed_at, updated_at`

func (r *JobRepository) Create(ctx context.Context, job *models.JobRecord) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	query := `INSERT INTO job_history (id, progress_key, entity_type, total, status)
		VALUES ($1, $2, $3, $4, $5) RETURNING started_at, updated_at`
	return r.db.QueryRowContext(ctx, query, job.ID, job.ProgressKey, job.EntityType, job.Total, job.Status).
		Scan(&job.StartedAt, &job.UpdatedAt)
}

// JobCounts are the final item counters copied from the progress record.
type JobCounts struct {
	Success int
	Failed  int
	Skipped int
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, counts JobCounts, errMsg *string) error {
	query := `UPDATE job_history SET status = $1, success = $2, failed = $3, skipped = $4,
		error_message = $5, updated_at = CURRENT_TIMESTAMP`
	if status == models.JobCompleted || status == models.JobFailed {
		query += `, completed_at = CURRENT_TIMESTAMP`
	}
	query += ` WHERE id = $6`
	_, err := r.db.ExecContext(ctx, query, status, counts.Success, counts.Failed, counts.Skipped, errMsg, id)
	return err
}

// ListStale returns runs still marked running that started before cutoff.
func (r *JobRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*models.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM job_history
		WHERE status = $1 AND started_at < $2 ORDER BY started_at`
	return r.list(ctx, query, models.JobRunning, cutoff)
}

func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM job_history ORDER BY started_at DESC LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *JobRepository) list(ctx context.Context, query string, args ...any) ([]*models.JobRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	jobs := []*models.JobRecord{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.JobRecord, error) {
	job := &models.JobRecord{}
	err := row.Scan(&job.ID, &job.ProgressKey, &job.EntityType, &job.Total, &job.Status,
		&job.Success, &job.Failed, &job.Skipped, &job.ErrorMessage,
		&job.StartedAt, &job.CompletedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return job, nil
}
