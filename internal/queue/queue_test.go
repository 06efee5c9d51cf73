package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	t.Parallel()

	m := NewMessage([]byte("x"))
	require.NotEmpty(t, m.ID)
	require.Equal(t, 1, m.Attempt)

	r := m.Retry()
	require.Equal(t, m.ID, r.ID)
	require.Equal(t, 2, r.Attempt)
	require.Equal(t, 1, m.Attempt, "Retry must not mutate the receiver")

	require.NotEqual(t, m.ID, NewMessage(nil).ID)
}

func TestDelivery_AckNack(t *testing.T) {
	t.Parallel()

	var acked, requeued bool
	d := NewDelivery(Message{ID: "1"}, func() error { acked = true; return nil }, func(rq bool) error {
		requeued = rq
		return nil
	})
	require.NoError(t, d.Ack())
	require.NoError(t, d.Nack(true))
	require.True(t, acked)
	require.True(t, requeued)

	var zero Delivery
	require.NoError(t, zero.Ack())
	require.NoError(t, zero.Nack(false))
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	Register("fake-queue", func(context.Context, Config) (Queue, error) { return nil, boom })

	_, err := New(context.Background(), Config{Kind: "fake-queue"})
	require.ErrorIs(t, err, boom)
	require.Contains(t, ListKinds(), "fake-queue")

	_, err = New(context.Background(), Config{Kind: "kafka"})
	require.EqualError(t, err, "unsupported queue.kind=kafka")
}
