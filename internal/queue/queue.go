// Package queue runs the event-processing worker pool. Agents are enqueued
// by ID; workers invoke the engine, and the per-agent lock inside the engine
// keeps concurrent workers from double-processing one agent.
package queue

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ProcessFunc handles one queued agent.
type ProcessFunc func(ctx context.Context, agentID string) error

// defaultDepth bounds the job channel; enqueues past it are dropped with a
// warning rather than blocking the producer.
const defaultDepth = 1024

// Queue fans agent IDs out to a fixed worker pool.
type Queue struct {
	jobs    chan string
	process ProcessFunc
	workers int
	logger  *slog.Logger
}

// New creates a Queue with the given worker count.
func New(workers int, process ProcessFunc, logger *slog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:    make(chan string, defaultDepth),
		process: process,
		workers: workers,
		logger:  logger,
	}
}

// Enqueue schedules one agent for processing. It never blocks; when the
// queue is saturated the job is dropped and the caller relies on the next
// event to retry.
func (q *Queue) Enqueue(agentID string) {
	select {
	case q.jobs <- agentID:
	default:
		q.logger.Warn("processing queue full, dropping job", "agent", agentID)
	}
}

// Depth reports the number of queued jobs.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// Run blocks until ctx is done, processing queued agents on the worker
// pool. Processing errors are logged, not fatal.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case agentID := <-q.jobs:
					if err := q.process(ctx, agentID); err != nil {
						q.logger.Error("process agent events", "agent", agentID, "error", err)
					}
				}
			}
		})
	}
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}
