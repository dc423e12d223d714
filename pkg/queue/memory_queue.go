package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"afggram/internal/util"
)

// MemoryQueue runs jobs inline on Enqueue. It backs single-process setups
// and tests; a handler error is logged and recorded, never returned.
type MemoryQueue struct {
	mu      sync.Mutex
	handler Handler
	jobs    []Job
}

var _ Enqueuer = (*MemoryQueue)(nil)

func NewMemoryQueue(handler Handler) *MemoryQueue {
	return &MemoryQueue{handler: handler}
}

// SetHandler swaps the handler. Jobs enqueued without one stay queued.
func (q *MemoryQueue) SetHandler(handler Handler) {
	q.mu.Lock()
	q.handler = handler
	q.mu.Unlock()
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind string, payload any) (Job, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return Job{}, errors.New("job kind required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	now := time.Now().UTC()
	job := Job{ID: util.NewID(), Kind: kind, Payload: raw, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}

	q.mu.Lock()
	handler := q.handler
	q.mu.Unlock()
	if handler != nil {
		job.Attempts = 1
		if err := handler(ctx, job); err != nil {
			util.LoggerFromContext(ctx).Warn("job_failed", "kind", kind, "job_id", job.ID, "err", err)
			job.Status = StatusFailed
			job.ErrorMessage = err.Error()
		} else {
			job.Status = StatusDone
		}
		job.UpdatedAt = time.Now().UTC()
	}

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	return job, nil
}

// Jobs returns a snapshot of everything enqueued so far.
func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.jobs...)
}
