package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new generation job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	query := `
INSERT INTO generation_jobs (id, image_id, backend, external_job_id, status, seed, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		nullableString(job.ImageID),
		job.Backend,
		nullableString(job.ExternalJobID),
		job.Status,
		job.Seed,
		job.SubmittedAt,
	)
	return err
}

const jobColumns = `
SELECT id, COALESCE(image_id, ''), backend, COALESCE(external_job_id, ''), status,
       COALESCE(result_key, ''), seed, COALESCE(error_message, ''), submitted_at, completed_at
FROM generation_jobs
`

// GetByID fetches a job by its internal identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, id string) (*domain.GenerationJob, error) {
	return r.scanOne(r.pool.QueryRow(ctx, jobColumns+`WHERE id = $1;`, id))
}

// GetByExternalID fetches a job by the owning backend and vendor job id.
func (r *JobRepositoryPG) GetByExternalID(ctx context.Context, backend domain.BackendKind, externalID string) (*domain.GenerationJob, error) {
	return r.scanOne(r.pool.QueryRow(ctx, jobColumns+`WHERE backend = $1 AND external_job_id = $2;`, backend, externalID))
}

// MarkRunning moves a pending job to running. Terminal rows are left alone.
func (r *JobRepositoryPG) MarkRunning(ctx context.Context, id string) error {
	query := `
UPDATE generation_jobs
SET status = 'running'
WHERE id = $1 AND status = 'pending';
`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// MarkCompleted finalizes a job. The status guard keeps terminal rows immutable.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, id string, resultKey string, seed *int64) error {
	query := `
UPDATE generation_jobs
SET status = 'completed',
    result_key = $2,
    seed = COALESCE($3, seed),
    completed_at = NOW()
WHERE id = $1 AND status IN ('pending', 'running');
`
	_, err := r.pool.Exec(ctx, query, id, resultKey, seed)
	return err
}

// MarkFailed finalizes a job with an error message.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, id string, errMsg string) error {
	query := `
UPDATE generation_jobs
SET status = 'failed',
    error_message = $2,
    completed_at = NOW()
WHERE id = $1 AND status IN ('pending', 'running');
`
	_, err := r.pool.Exec(ctx, query, id, errMsg)
	return err
}

func (r *JobRepositoryPG) scanOne(row pgx.Row) (*domain.GenerationJob, error) {
	var job domain.GenerationJob
	if err := row.Scan(
		&job.ID,
		&job.ImageID,
		&job.Backend,
		&job.ExternalJobID,
		&job.Status,
		&job.ResultKey,
		&job.Seed,
		&job.ErrorMessage,
		&job.SubmittedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
