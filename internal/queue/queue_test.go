package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueueProcessesEnqueuedAgents(t *testing.T) {
	var mu sync.Mutex
	processed := map[string]int{}
	done := make(chan struct{}, 3)

	q := New(2, func(_ context.Context, agentID string) error {
		mu.Lock()
		processed[agentID]++
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	q.Enqueue("a1")
	q.Enqueue("a2")
	q.Enqueue("a1")

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if processed["a1"] != 2 || processed["a2"] != 1 {
		t.Errorf("processed = %v", processed)
	}
}

func TestQueueDropsWhenSaturated(t *testing.T) {
	block := make(chan struct{})
	q := New(1, func(context.Context, string) error {
		<-block
		return nil
	}, nil)
	q.jobs = make(chan string, 1)

	q.Enqueue("a1")
	q.Enqueue("a2") // dropped, must not block
	if q.Depth() != 1 {
		t.Errorf("depth = %d", q.Depth())
	}
	close(block)
}

func TestQueueStopsOnCancel(t *testing.T) {
	q := New(1, func(context.Context, string) error { return nil }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx) }()
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}
