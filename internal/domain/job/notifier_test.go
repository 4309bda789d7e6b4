package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWaiter struct {
	calls chan model.QueueName
	err   error
}

func (s *stubWaiter) WaitForNotification(ctx context.Context, queue model.QueueName) error {
	select {
	case s.calls <- queue:
	default:
	}
	if s.err != nil {
		return s.err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

func TestNotifier_SubscribeReceivesWaiterNotifications(t *testing.T) {
	waiter := &stubWaiter{calls: make(chan model.QueueName, 4)}
	notifier := NewNotifier(NotifierOptions{Waiter: waiter})
	defer notifier.StopAll()

	unsub, ch := notifier.Subscribe(model.QueueRules)
	defer unsub()

	select {
	case q := <-waiter.calls:
		assert.Equal(t, model.QueueRules, q)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected waiter to be invoked")
	}

	select {
	case <-ch:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected notification to be delivered")
	}
}

func TestNotifier_LocalNotifyWithoutWaiter(t *testing.T) {
	notifier := NewNotifier(NotifierOptions{})
	defer notifier.StopAll()

	unsubA, chA := notifier.Subscribe(model.QueueDocument)
	defer unsubA()
	unsubB, chB := notifier.Subscribe(model.QueueScreening)
	defer unsubB()

	notifier.Notify(model.QueueDocument)

	select {
	case <-chA:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected document subscriber to be woken")
	}

	select {
	case <-chB:
		t.Fatal("screening subscriber must not be woken by a document signal")
	default:
	}
}

func TestNotifier_NotifyDoesNotBlockWhenBufferFull(t *testing.T) {
	notifier := NewNotifier(NotifierOptions{})
	unsub, ch := notifier.Subscribe(model.QueueIdentity)
	defer unsub()

	for range 5 {
		notifier.Notify(model.QueueIdentity)
	}
	assert.Len(t, ch, 1)
}

func TestNotifier_UnsubscribeClosesChannel(t *testing.T) {
	notifier := NewNotifier(NotifierOptions{})
	unsub, ch := notifier.Subscribe(model.QueueIdentity)
	notifier.Notify(model.QueueIdentity)

	unsub()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected channel to close after unsubscribe")
	}
	unsub()
}

func TestNotifier_StopAllClosesChannels(t *testing.T) {
	waiter := &stubWaiter{calls: make(chan model.QueueName, 2), err: errors.New("boom")}
	notifier := NewNotifier(NotifierOptions{Waiter: waiter, Backoff: 10 * time.Millisecond})

	unsubRules, chRules := notifier.Subscribe(model.QueueRules)
	unsubDocs, chDocs := notifier.Subscribe(model.QueueDocument)

	for range 2 {
		select {
		case <-waiter.calls:
		case <-time.After(200 * time.Millisecond):
			t.Fatal("expected waiter to be invoked")
		}
	}

	notifier.StopAll()

	for _, ch := range []<-chan struct{}{chRules, chDocs} {
		require.Eventually(t, func() bool {
			select {
			case _, ok := <-ch:
				return !ok
			default:
				return false
			}
		}, 200*time.Millisecond, 5*time.Millisecond)
	}

	unsubRules()
	unsubDocs()
}
