package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rfalcao/conceptminer/internal/dispatch"
	"github.com/rfalcao/conceptminer/internal/domain"
	"github.com/rfalcao/conceptminer/internal/policy"
	"github.com/rfalcao/conceptminer/internal/queue"
	"github.com/rfalcao/conceptminer/internal/repository"
	"github.com/rfalcao/conceptminer/internal/supervisor"
)

// Processor drains the document queue and drives each job through the
// extraction engine, persisting the outcome.
type Processor struct {
	consumer queue.Consumer
	repo     repository.JobsRepository
	engine   *supervisor.Engine
	logger   *log.Logger
}

func NewProcessor(consumer queue.Consumer, repo repository.JobsRepository, engine *supervisor.Engine, logger *log.Logger) *Processor {
	return &Processor{
		consumer: consumer,
		repo:     repo,
		engine:   engine,
		logger:   logger,
	}
}

// Start blocks consuming messages until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.logf("worker: started")
	return p.consumer.Consume(ctx, p.handle)
}

func (p *Processor) handle(ctx context.Context, message domain.QueueMessage) error {
	job, err := p.repo.GetJob(ctx, message.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", message.JobID, err)
	}
	if job.Status == domain.JobStatusDone {
		p.logf("worker: job %s already done, skipping", job.ID)
		return nil
	}

	job.Status = domain.JobStatusProcessing
	job.Attempts++
	job.UpdatedAt = time.Now().UTC()
	if err := p.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	priority := dispatch.PriorityFirstPass
	if message.Background {
		priority = dispatch.PriorityBackground
	}

	result := p.engine.Run(ctx, supervisor.RunInput{
		JobID:      job.ID,
		DocumentID: job.DocumentID,
		TenantID:   job.TenantID,
		Text:       job.Text,
		Priority:   priority,
	})

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	job.Result = policy.MaskPIIJSON(payload)
	job.UpdatedAt = time.Now().UTC()
	if result.FinalState == string(supervisor.StateError) && len(result.Promoted) == 0 {
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = strings.Join(result.Errors, "; ")
	} else {
		job.Status = domain.JobStatusDone
		job.ErrorMessage = ""
	}

	if err := p.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}

	p.logf("worker: job %s finished state=%s promoted=%d rejected=%d cost=%.4f",
		job.ID, result.FinalState, len(result.Promoted), len(result.Rejected), result.CostIncurred)
	return nil
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
