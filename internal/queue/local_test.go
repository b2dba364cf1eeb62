package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rfalcao/conceptminer/internal/domain"
)

func TestLocalQueueDeliversMessages(t *testing.T) {
	q := NewLocalQueue(8, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan domain.QueueMessage, 1)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, message domain.QueueMessage) error {
			received <- message
			return nil
		})
	}()

	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "job-1", TenantID: "tenant-a"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case message := <-received:
		if message.JobID != "job-1" {
			t.Fatalf("unexpected message %+v", message)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected message delivered")
	}
}

func TestLocalQueueRetriesThenDeadLetters(t *testing.T) {
	q := NewLocalQueue(8, 2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, _ domain.QueueMessage) error {
			mu.Lock()
			attempts++
			if attempts == 2 {
				close(done)
			}
			mu.Unlock()
			return errors.New("handler failed")
		})
	}()

	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "job-1"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected 2 attempts before dead-lettering")
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.DLQSize() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected message in DLQ after max attempts")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLocalQueueConsumeStopsOnContext(t *testing.T) {
	q := NewLocalQueue(8, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errChan := make(chan error, 1)
	go func() {
		errChan <- q.Consume(ctx, func(context.Context, domain.QueueMessage) error { return nil })
	}()

	cancel()
	select {
	case err := <-errChan:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected consume to stop on cancel")
	}
}
