package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rfalcao/conceptminer/internal/domain"
	"github.com/rfalcao/conceptminer/internal/repository"
)

type captureProducer struct {
	messages []domain.QueueMessage
	fail     error
}

func (p *captureProducer) Enqueue(_ context.Context, message domain.QueueMessage) error {
	if p.fail != nil {
		return p.fail
	}
	p.messages = append(p.messages, message)
	return nil
}

func TestSubmitDocumentPersistsAndEnqueues(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	producer := &captureProducer{}
	svc := NewJobsService(repo, producer)

	job, err := svc.SubmitDocument(context.Background(), SubmitInput{
		DocumentID: "doc-42",
		TenantID:   "acme",
		Text:       "some document text",
		Background: true,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if job.ID == "" {
		t.Fatalf("expected a generated job id")
	}
	if job.DocumentID != "doc-42" {
		t.Fatalf("expected provided document id preserved, got %q", job.DocumentID)
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("expected pending status, got %q", job.Status)
	}

	stored, err := repo.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if stored.TenantID != "acme" {
		t.Fatalf("unexpected tenant on stored job: %q", stored.TenantID)
	}

	if len(producer.messages) != 1 {
		t.Fatalf("expected 1 enqueued message, got %d", len(producer.messages))
	}
	message := producer.messages[0]
	if message.JobID != job.ID || message.DocumentID != "doc-42" || !message.Background {
		t.Fatalf("unexpected queue message: %+v", message)
	}
}

func TestSubmitDocumentGeneratesDocumentID(t *testing.T) {
	svc := NewJobsService(repository.NewMemoryJobsRepository(), &captureProducer{})

	job, err := svc.SubmitDocument(context.Background(), SubmitInput{
		TenantID: "acme",
		Text:     "text without a document id",
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if job.DocumentID == "" {
		t.Fatalf("expected a generated document id")
	}
}

type recordingRepo struct {
	*repository.MemoryJobsRepository
	createdID string
}

func (r *recordingRepo) CreateJob(ctx context.Context, job *domain.DocumentJob) error {
	r.createdID = job.ID
	return r.MemoryJobsRepository.CreateJob(ctx, job)
}

func TestSubmitDocumentMarksJobFailedWhenEnqueueFails(t *testing.T) {
	repo := &recordingRepo{MemoryJobsRepository: repository.NewMemoryJobsRepository()}
	producer := &captureProducer{fail: errors.New("stream unavailable")}
	svc := NewJobsService(repo, producer)

	job, err := svc.SubmitDocument(context.Background(), SubmitInput{
		TenantID: "acme",
		Text:     "text",
	})
	if err == nil {
		t.Fatalf("expected enqueue failure to surface")
	}
	if job != nil {
		t.Fatalf("expected nil job on failure")
	}

	stored, err := repo.GetJob(context.Background(), repo.createdID)
	if err != nil {
		t.Fatalf("expected failed job row to survive: %v", err)
	}
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed status on stored job, got %q", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Fatalf("expected error message on stored job")
	}
}
