// Package queue defines the named FIFO channels connecting pipeline stages
// and a registry of backends keyed by kind.
//
// Delivery is at-least-once: a consumer acknowledges a delivery once its work
// is done, and backends that persist messages redeliver unacknowledged ones
// after a crash.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("queue closed")
	// ErrUnknownQueue is returned for names that were never created.
	ErrUnknownQueue = errors.New("unknown queue")
)

// Well-known queue names.
const (
	Transform = "transform_queue"
	Load      = "load_queue"
)

// Message is the unit published to a queue.
type Message struct {
	ID   string
	Body []byte
	// Attempt starts at 1 and is incremented on each redelivery by the
	// orchestrator.
	Attempt int
}

// NewMessage returns a first-attempt message with a fresh ID.
func NewMessage(body []byte) Message {
	return Message{ID: uuid.NewString(), Body: body, Attempt: 1}
}

// Retry returns a copy of m for the next attempt, keeping its ID.
func (m Message) Retry() Message {
	m.Attempt++
	return m
}

// Delivery is a consumed message plus its acknowledgement handles.
type Delivery struct {
	Message
	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery is used by backends to build a Delivery.
func NewDelivery(m Message, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{Message: m, ack: ack, nack: nack}
}

// Ack confirms the message was handled.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack rejects the message; requeue asks the backend to deliver it again.
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Queue is a set of named FIFO queues. Order holds for published messages;
// a requeued delivery may come back behind messages published after it.
type Queue interface {
	// CreateQueue declares name; it is idempotent.
	CreateQueue(ctx context.Context, name string) error
	// Publish may block while the backend applies backpressure.
	Publish(ctx context.Context, name string, m Message) error
	// Consume blocks until a message is available, ctx is done, or the
	// queue is closed.
	Consume(ctx context.Context, name string) (Delivery, error)
	Close() error
}

// Config carries backend-neutral settings.
type Config struct {
	Kind string

	// in_memory
	Capacity int

	// rabbitmq
	URL      string
	Prefetch int
}

// Factory opens a Queue for cfg.
type Factory func(ctx context.Context, cfg Config) (Queue, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the backend selected by cfg.Kind.
func New(ctx context.Context, cfg Config) (Queue, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported queue.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
