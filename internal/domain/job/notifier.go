package job

import (
	"context"
	"sync"
	"time"

	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// Waiter blocks until the store signals new work on a queue (e.g. Postgres LISTEN).
type Waiter interface {
	WaitForNotification(ctx context.Context, queue model.QueueName) error
}

// Notifier wakes idle workers when a queue may have claimable jobs.
type Notifier interface {
	Subscribe(queue model.QueueName) (func(), <-chan struct{})
	Notify(queue model.QueueName)
	StopAll()
}

// NotifierOptions configure the behaviour of the default notifier implementation.
type NotifierOptions struct {
	// Waiter is optional. Without one only in-process Notify calls wake subscribers.
	Waiter     Waiter
	WaitWindow time.Duration
	Backoff    time.Duration
}

// DefaultNotifier fans queue signals out to subscribed workers.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu        sync.Mutex
	subs      map[model.QueueName]map[chan struct{}]struct{}
	listeners map[model.QueueName]context.CancelFunc
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) *DefaultNotifier {
	waitWindow := opts.WaitWindow
	if waitWindow <= 0 {
		waitWindow = time.Minute
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	return &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: waitWindow,
		backoff:    backoff,
		subs:       make(map[model.QueueName]map[chan struct{}]struct{}),
		listeners:  make(map[model.QueueName]context.CancelFunc),
	}
}

// Subscribe registers a wakeup channel for queue. The returned func unsubscribes and closes it.
func (n *DefaultNotifier) Subscribe(queue model.QueueName) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.listeners[queue]; !ok && n.waiter != nil {
		ctx, cancel := context.WithCancel(context.Background())
		n.listeners[queue] = cancel
		go n.listenLoop(ctx, queue)
	}

	ch := make(chan struct{}, 1)
	if n.subs[queue] == nil {
		n.subs[queue] = make(map[chan struct{}]struct{})
	}
	n.subs[queue][ch] = struct{}{}

	unsub := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subscribers := n.subs[queue]
		if _, ok := subscribers[ch]; !ok {
			return
		}
		delete(subscribers, ch)
		drainAndClose(ch)
		if len(subscribers) == 0 {
			n.stopListener(queue)
			delete(n.subs, queue)
		}
	}

	return unsub, ch
}

// Notify wakes every subscriber of queue without blocking.
func (n *DefaultNotifier) Notify(queue model.QueueName) {
	n.broadcast(queue)
}

// StopAll cancels listeners and closes every subscription.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for queue, cancel := range n.listeners {
		cancel()
		delete(n.listeners, queue)
	}
	for queue, subscribers := range n.subs {
		for ch := range subscribers {
			drainAndClose(ch)
		}
		delete(n.subs, queue)
	}
}

func (n *DefaultNotifier) stopListener(queue model.QueueName) {
	if cancel, ok := n.listeners[queue]; ok {
		cancel()
		delete(n.listeners, queue)
	}
}

func (n *DefaultNotifier) listenLoop(ctx context.Context, queue model.QueueName) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, queue)
		cancel()

		n.broadcast(queue)

		if err != nil && ctx.Err() == nil {
			timer := time.NewTimer(n.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (n *DefaultNotifier) broadcast(queue model.QueueName) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs[queue] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose removes any buffered notifications before closing the channel so
// receivers observe a closed channel immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
