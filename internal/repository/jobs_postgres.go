package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rfalcao/conceptminer/internal/domain"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.DocumentJob) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO document_jobs (
			id,
			document_id,
			tenant_id,
			text,
			background,
			status,
			result,
			error_message,
			attempts,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		job.ID,
		job.DocumentID,
		job.TenantID,
		job.Text,
		job.Background,
		string(job.Status),
		job.Result,
		job.ErrorMessage,
		job.Attempts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, job *domain.DocumentJob) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE document_jobs
		SET status = $2,
			result = $3,
			error_message = $4,
			attempts = $5,
			updated_at = $6
		WHERE id = $1
	`, job.ID, string(job.Status), job.Result, job.ErrorMessage, job.Attempts, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.DocumentJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, document_id, tenant_id, text, background, status, result,
			error_message, attempts, created_at, updated_at
		FROM document_jobs
		WHERE id = $1
	`, jobID)

	var job domain.DocumentJob
	var status string
	err := row.Scan(
		&job.ID,
		&job.DocumentID,
		&job.TenantID,
		&job.Text,
		&job.Background,
		&status,
		&job.Result,
		&job.ErrorMessage,
		&job.Attempts,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}
