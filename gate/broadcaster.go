package gate

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Observer receives every status change.
type Observer func(Status)

// Handle identifies a subscription.
type Handle uint64

type subscription struct {
	handle   Handle
	observer Observer
}

// StatusBroadcaster holds the current [Status] and notifies observers when it
// changes. Set may be called from any goroutine; observers are always invoked
// through the scheduler.
type StatusBroadcaster struct {
	mu        sync.Mutex
	current   Status
	next      Handle
	observers []subscription

	sched Scheduler
	log   *logrus.Entry
}

func NewStatusBroadcaster(sched Scheduler, log *logrus.Entry) *StatusBroadcaster {
	return &StatusBroadcaster{
		current: StatusIdle,
		sched:   sched,
		log:     log,
	}
}

// Current returns the last status passed to Set.
func (b *StatusBroadcaster) Current() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Set stores status and schedules one notification of every observer. Setting
// the current value again does nothing.
func (b *StatusBroadcaster) Set(status Status) {
	b.mu.Lock()
	if b.current == status {
		b.mu.Unlock()
		return
	}
	b.current = status
	// Submitted under the lock so deliveries queue in the order values were
	// stored.
	b.sched.Submit(func() { b.deliver(status) })
	b.mu.Unlock()

	b.log.Debugf("call status updated to: %s", status)
}

// Subscribe registers o. Observers are notified in subscription order.
func (b *StatusBroadcaster) Subscribe(o Observer) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.observers = append(b.observers, subscription{handle: b.next, observer: o})
	return b.next
}

// Unsubscribe removes the observer registered under h. Unknown handles are
// ignored.
func (b *StatusBroadcaster) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.observers {
		if sub.handle == h {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			return
		}
	}
}

func (b *StatusBroadcaster) deliver(status Status) {
	b.mu.Lock()
	subs := make([]subscription, len(b.observers))
	copy(subs, b.observers)
	b.mu.Unlock()

	for _, sub := range subs {
		b.notify(sub, status)
	}
}

func (b *StatusBroadcaster) notify(sub subscription, status Status) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("observer", sub.handle).Errorf("error in status callback: %v", r)
		}
	}()
	sub.observer(status)
}
