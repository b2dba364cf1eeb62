package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rfalcao/conceptminer/internal/domain"
	"github.com/rfalcao/conceptminer/internal/queue"
	"github.com/rfalcao/conceptminer/internal/repository"
)

// JobsService accepts document submissions, persists the job row and
// hands the work to the queue.
type JobsService struct {
	repo     repository.JobsRepository
	producer queue.Producer
}

func NewJobsService(repo repository.JobsRepository, producer queue.Producer) *JobsService {
	return &JobsService{repo: repo, producer: producer}
}

type SubmitInput struct {
	DocumentID string
	TenantID   string
	Text       string
	// Background routes the job to the batch priority level.
	Background bool
}

func (s *JobsService) SubmitDocument(ctx context.Context, input SubmitInput) (*domain.DocumentJob, error) {
	documentID := strings.TrimSpace(input.DocumentID)
	if documentID == "" {
		documentID = uuid.NewString()
	}

	now := time.Now().UTC()
	job := &domain.DocumentJob{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		TenantID:   input.TenantID,
		Text:       input.Text,
		Background: input.Background,
		Status:     domain.JobStatusPending,
		Attempts:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	message := domain.QueueMessage{
		JobID:       job.ID,
		DocumentID:  documentID,
		TenantID:    input.TenantID,
		Text:        input.Text,
		Background:  input.Background,
		Attempt:     0,
		RequestedAt: now,
	}

	if err := s.producer.Enqueue(ctx, message); err != nil {
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = err.Error()
		job.UpdatedAt = time.Now().UTC()
		_ = s.repo.UpdateJob(ctx, job)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	return job, nil
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.DocumentJob, error) {
	return s.repo.GetJob(ctx, jobID)
}
