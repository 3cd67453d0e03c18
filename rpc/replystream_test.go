package rpc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oppo-bigdata/foundationdb/rpc"
)

func newWiredReplyStream(t *testing.T, tr rpc.Transport, window uint64) (*rpc.ReplyStream[int], *rpc.ReplyStreamConsumer[int]) {
	consumer, err := rpc.NewReplyStreamConsumer[int](tr)
	require.NoError(t, err)
	producer, err := rpc.NewReplyStream[int](tr, consumer.Endpoint(), window)
	require.NoError(t, err)
	return producer, consumer
}

func TestReplyStreamSendAndConsume(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	producer, consumer := newWiredReplyStream(t, tr, 0)
	defer producer.Close()
	defer consumer.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, producer.Send(context.Background(), i))
	}
	for i := 0; i < 5; i++ {
		v, err := consumer.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, i, v)
	}

	require.Eventually(t, func() bool {
		return producer.BytesAcknowledged() > 0
	}, time.Second, time.Millisecond)
}

func TestReplyStreamSendErrorPropagates(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	producer, consumer := newWiredReplyStream(t, tr, 0)
	defer producer.Close()
	defer consumer.Close()

	require.NoError(t, producer.SendError(context.Background(), errors.New("boom")))

	_, err := consumer.Next(context.Background())
	require.Error(t, err)
	require.True(t, rpc.IsUserError(err))
}

func TestReplyStreamOnReadyBlocksUntilAcked(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	producer, consumer := newWiredReplyStream(t, tr, 4)
	defer producer.Close()
	defer consumer.Close()

	require.NoError(t, producer.Send(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := producer.Send(ctx, 2)
	require.ErrorIs(t, err, context.DeadlineExceeded, "window is exhausted until the first send is acked")

	_, err = consumer.Next(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return producer.Send(context.Background(), 3) == nil
	}, time.Second, time.Millisecond)
}

func TestReplyStreamConsumerLearnsAckEndpointFromFirstValue(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	producer, consumer := newWiredReplyStream(t, tr, 0)
	defer producer.Close()
	defer consumer.Close()

	require.NoError(t, producer.Send(context.Background(), 1))
	_, err := consumer.Next(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return producer.BytesAcknowledged() > 0
	}, time.Second, time.Millisecond, "consumer must have learned the ack endpoint from the first delivered value, not an out-of-band setter")
}

func TestReplyStreamGobEncodeRequiresAddress(t *testing.T) {
	producer, err := rpc.NewReplyStream[int](rpc.NewLoopbackTransport(), rpc.LocalEndpoint(rpc.NewToken()), 0)
	require.NoError(t, err)
	defer producer.Close()

	require.Panics(t, func() {
		_, _ = producer.GobEncode()
	}, "a reply endpoint with no public address must not serialize silently")
}
