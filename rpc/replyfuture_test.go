package rpc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oppo-bigdata/foundationdb/rpc"
)

func TestReplyFutureGetAfterSend(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	future, ep, err := rpc.NewReplyFuture[int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)
	require.True(t, ep.IsValid())

	promise := rpc.NewReplyPromise[int](tr, ep)
	require.NoError(t, promise.Send(context.Background(), 42))

	v, err := future.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.True(t, future.IsReady())
}

func TestReplyFutureSendErrorPropagates(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	future, ep, err := rpc.NewReplyFuture[string](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	promise := rpc.NewReplyPromise[string](tr, ep)
	cause := context.DeadlineExceeded
	require.NoError(t, promise.SendError(context.Background(), cause))

	_, err = future.Get(context.Background())
	require.Error(t, err)
	require.True(t, rpc.IsUserError(err))
}

func TestReplyFutureGetRespectsContext(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	future, _, err := rpc.NewReplyFuture[int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = future.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
