package gate

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"
)

// Scheduler runs submitted jobs on the context that owns the observers.
// Submit must not block the caller.
type Scheduler interface {
	Submit(job func())
}

// Loop is a single-goroutine job queue. Jobs run one after another in
// submission order on the goroutine that called Run.
type Loop struct {
	mu    sync.Mutex
	queue deque.Deque[func()]
	wake  chan struct{}
	log   *logrus.Entry
}

func NewLoop(log *logrus.Entry) *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		log:  log,
	}
}

// Submit enqueues job. It never blocks; the queue is unbounded.
func (l *Loop) Submit(job func()) {
	l.mu.Lock()
	l.queue.PushBack(job)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes jobs until ctx is done. Jobs still queued at that point are
// run before Run returns.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.drain()
		select {
		case <-ctx.Done():
			l.drain()
			return
		case <-l.wake:
		}
	}
}

// Flush waits until every job submitted before the call has run.
func (l *Loop) Flush(ctx context.Context) error {
	done := make(chan struct{})
	l.Submit(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if l.queue.Len() == 0 {
			l.mu.Unlock()
			return
		}
		job := l.queue.PopFront()
		l.mu.Unlock()
		l.run(job)
	}
}

func (l *Loop) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("loop job panicked: %v", r)
		}
	}()
	job()
}
