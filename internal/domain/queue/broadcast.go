package queue

import (
	"context"
	"sync"

	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// Broadcaster wakes every goroutine waiting on a queue. Stores without a native
// notification channel use it to satisfy job.Waiter.
type Broadcaster struct {
	mu      sync.Mutex
	waiters map[model.QueueName]chan struct{}
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{waiters: make(map[model.QueueName]chan struct{})}
}

// Wait blocks until Signal is called for q or ctx ends.
func (b *Broadcaster) Wait(ctx context.Context, q model.QueueName) error {
	b.mu.Lock()
	ch, ok := b.waiters[q]
	if !ok {
		ch = make(chan struct{})
		b.waiters[q] = ch
	}
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signal releases the current waiters of q. Later Wait calls block again.
func (b *Broadcaster) Signal(q model.QueueName) {
	if q == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.waiters[q]; ok {
		close(ch)
		delete(b.waiters, q)
	}
}
