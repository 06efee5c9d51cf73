// Package rabbitmq implements the "rabbitmq" queue backend over AMQP 0-9-1.
//
// Queues are durable, messages are persistent and publishes wait for broker
// confirms. Consumers use manual acknowledgement with a bounded prefetch, so
// an unacknowledged chunk reference is redelivered after a crash.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"csvpipeline/internal/queue"

	amqp "github.com/rabbitmq/amqp091-go"
)

// attemptHeader carries queue.Message.Attempt across the broker.
const attemptHeader = "x-attempt"

// Config holds broker settings.
type Config struct {
	URL      string
	Prefetch int
}

// Queue multiplexes named queues over one connection: one confirm-mode
// channel for publishing and one channel per consumed queue.
type Queue struct {
	cfg  Config
	conn *amqp.Connection

	pubMu sync.Mutex
	pub   *amqp.Channel

	mu        sync.Mutex
	consumers map[string]*consumer
	closed    bool
}

type consumer struct {
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

var _ queue.Queue = (*Queue)(nil)

// dial is a test hook.
var dial = amqp.Dial

func init() {
	queue.Register("rabbitmq", func(_ context.Context, cfg queue.Config) (queue.Queue, error) {
		return New(Config{URL: cfg.URL, Prefetch: cfg.Prefetch})
	})
}

// New connects to the broker.
func New(cfg Config) (*Queue, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq: url is required")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	conn, err := dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err := pub.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: enable confirms: %w", err)
	}
	return &Queue{
		cfg:       cfg,
		conn:      conn,
		pub:       pub,
		consumers: make(map[string]*consumer),
	}, nil
}

// CreateQueue declares a durable queue.
func (q *Queue) CreateQueue(_ context.Context, name string) error {
	if q.isClosed() {
		return queue.ErrClosed
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if _, err := q.pub.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w", name, err)
	}
	return nil
}

// Publish sends a persistent message and waits for the broker confirm.
func (q *Queue) Publish(ctx context.Context, name string, m queue.Message) error {
	if q.isClosed() {
		return queue.ErrClosed
	}
	q.pubMu.Lock()
	dc, err := q.pub.PublishWithDeferredConfirmWithContext(ctx, "", name, false, false, toPublishing(m))
	q.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", name, err)
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq: confirm %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("rabbitmq: publish %s: nacked by broker", name)
	}
	return nil
}

// Consume returns the next delivery from name.
func (q *Queue) Consume(ctx context.Context, name string) (queue.Delivery, error) {
	c, err := q.consumer(name)
	if err != nil {
		return queue.Delivery{}, err
	}
	select {
	case d, ok := <-c.deliveries:
		if !ok {
			return queue.Delivery{}, queue.ErrClosed
		}
		return queue.NewDelivery(fromDelivery(d),
			func() error { return d.Ack(false) },
			func(requeue bool) error { return d.Nack(false, requeue) },
		), nil
	case <-ctx.Done():
		return queue.Delivery{}, ctx.Err()
	}
}

func (q *Queue) consumer(name string) (*consumer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, queue.ErrClosed
	}
	if c, ok := q.consumers[name]; ok {
		return c, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err := ch.Qos(q.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("rabbitmq: qos: %w", err)
	}
	deliveries, err := ch.Consume(name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("rabbitmq: consume %s: %w", name, err)
	}
	c := &consumer{ch: ch, deliveries: deliveries}
	q.consumers[name] = c
	return c, nil
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close closes all channels and the connection. Unacknowledged deliveries
// return to their queues.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	consumers := q.consumers
	q.consumers = nil
	q.mu.Unlock()

	var errs []error
	for _, c := range consumers {
		if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	q.pubMu.Lock()
	if err := q.pub.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	q.pubMu.Unlock()
	if err := q.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func toPublishing(m queue.Message) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Headers:      amqp.Table{attemptHeader: int32(m.Attempt)},
		Body:         m.Body,
	}
}

func fromDelivery(d amqp.Delivery) queue.Message {
	return queue.Message{
		ID:      d.MessageId,
		Body:    d.Body,
		Attempt: attemptOf(d.Headers),
	}
}

// attemptOf reads the attempt header; missing or foreign values mean 1.
func attemptOf(h amqp.Table) int {
	var n int
	switch v := h[attemptHeader].(type) {
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case int:
		n = v
	case int16:
		n = int(v)
	case int8:
		n = int(v)
	}
	if n < 1 {
		return 1
	}
	return n
}
