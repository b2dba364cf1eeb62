package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/rfalcao/conceptminer/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// JobsRepository abstracts document-job persistence.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.DocumentJob) error
	UpdateJob(ctx context.Context, job *domain.DocumentJob) error
	GetJob(ctx context.Context, jobID string) (*domain.DocumentJob, error)
}

// MemoryJobsRepository stores jobs in memory for local development.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.DocumentJob
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.DocumentJob),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.DocumentJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) UpdateJob(_ context.Context, job *domain.DocumentJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.DocumentJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func cloneJob(job *domain.DocumentJob) *domain.DocumentJob {
	if job == nil {
		return nil
	}
	clone := *job
	clone.Result = append([]byte(nil), job.Result...)
	return &clone
}
