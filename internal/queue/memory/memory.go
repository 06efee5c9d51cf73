// Package memory implements the "in_memory" queue backend on bounded Go
// channels. Messages live only as long as the process.
package memory

import (
	"context"
	"fmt"
	"sync"

	"csvpipeline/internal/queue"
)

// DefaultCapacity is used when Capacity is not positive.
const DefaultCapacity = 1024

// Queue holds one buffered channel per name. Publish blocks when a channel is
// full, which gives producers natural backpressure.
type Queue struct {
	capacity int

	mu     sync.RWMutex
	chans  map[string]chan queue.Message
	done   chan struct{}
	closed sync.Once
}

var _ queue.Queue = (*Queue)(nil)

func init() {
	queue.Register("in_memory", func(_ context.Context, cfg queue.Config) (queue.Queue, error) {
		return New(cfg.Capacity), nil
	})
}

// New returns an empty queue set.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		chans:    make(map[string]chan queue.Message),
		done:     make(chan struct{}),
	}
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// CreateQueue declares name. Re-creating an existing queue keeps its contents.
func (q *Queue) CreateQueue(_ context.Context, name string) error {
	if q.isClosed() {
		return queue.ErrClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.chans[name]; !ok {
		q.chans[name] = make(chan queue.Message, q.capacity)
	}
	return nil
}

func (q *Queue) get(name string) (chan queue.Message, error) {
	if q.isClosed() {
		return nil, queue.ErrClosed
	}
	q.mu.RLock()
	ch, ok := q.chans[name]
	q.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownQueue, name)
	}
	return ch, nil
}

// Publish enqueues m, blocking while the queue is full.
func (q *Queue) Publish(ctx context.Context, name string, m queue.Message) error {
	ch, err := q.get(name)
	if err != nil {
		return err
	}
	select {
	case ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return queue.ErrClosed
	}
}

// Consume dequeues the oldest message. Ack is a no-op; Nack with requeue
// appends the message to the tail again, or behind later publishes when the
// queue is full.
func (q *Queue) Consume(ctx context.Context, name string) (queue.Delivery, error) {
	ch, err := q.get(name)
	if err != nil {
		return queue.Delivery{}, err
	}
	select {
	case m := <-ch:
		return queue.NewDelivery(m, nil, func(requeue bool) error {
			if !requeue {
				return nil
			}
			return q.requeue(ch, m)
		}), nil
	case <-ctx.Done():
		return queue.Delivery{}, ctx.Err()
	case <-q.done:
		return queue.Delivery{}, queue.ErrClosed
	}
}

// requeue never blocks the caller, which may be the only consumer of a full
// queue. When the queue is full m is parked on a goroutine until space frees
// up, so messages published meanwhile can be delivered before it.
func (q *Queue) requeue(ch chan queue.Message, m queue.Message) error {
	if q.isClosed() {
		return queue.ErrClosed
	}
	select {
	case ch <- m:
		return nil
	default:
	}
	go func() {
		select {
		case ch <- m:
		case <-q.done:
		}
	}()
	return nil
}

// Len reports the number of buffered messages in name.
func (q *Queue) Len(name string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.chans[name])
}

// Close unblocks all waiters. Buffered messages are discarded.
func (q *Queue) Close() error {
	q.closed.Do(func() { close(q.done) })
	return nil
}
