package admission

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Queue admits at most N tasks at a time. Waiting tasks are admitted in the
// order they arrived.
type Queue struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
	queued   atomic.Int64
}

func NewQueue(limit int) *Queue {
	if limit < 1 {
		limit = 1
	}
	return &Queue{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

func (q *Queue) Run(ctx context.Context, fn func(context.Context) error) error {
	q.queued.Add(1)
	err := q.sem.Acquire(ctx, 1)
	q.queued.Add(-1)
	if err != nil {
		return err
	}
	q.inFlight.Add(1)
	defer func() {
		q.inFlight.Add(-1)
		q.sem.Release(1)
	}()
	return fn(ctx)
}

func (q *Queue) Limit() int {
	return q.limit
}

func (q *Queue) InFlight() int {
	return int(q.inFlight.Load())
}

func (q *Queue) Queued() int {
	return int(q.queued.Load())
}
