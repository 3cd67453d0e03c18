package rpc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oppo-bigdata/foundationdb/rpc"
)

func TestRequestStreamRoundTrip(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	server, err := rpc.NewRequestStream[string, int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	client, err := rpc.NewRequestStream[string, int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	resultCh := make(chan struct {
		v   int
		err error
	}, 1)
	go func() {
		v, err := client.GetReply(context.Background(), server.Endpoint(), "how long is this string")
		resultCh <- struct {
			v   int
			err error
		}{v, err}
	}()

	req, err := server.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, "how long is this string", req.Arg)

	require.NoError(t, req.Reply.Send(context.Background(), len(req.Arg)))

	result := <-resultCh
	require.NoError(t, result.err)
	require.Equal(t, len(req.Arg), result.v)
}

func TestRequestStreamSendIsFireAndForget(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	server, err := rpc.NewRequestStream[int, int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	client, err := rpc.NewRequestStream[int, int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)
	require.NoError(t, client.Send(context.Background(), server.Endpoint(), 7))

	req, err := server.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, req.Arg)
	require.False(t, req.Reply.Endpoint().IsValid())

	err = req.Reply.Send(context.Background(), 49)
	require.Error(t, err)
	require.True(t, rpc.IsKind(err, rpc.ProtocolViolation))
}

func TestRequestStreamPop(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	server, err := rpc.NewRequestStream[int, int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	_, ok := server.TryPop()
	require.False(t, ok)

	client, err := rpc.NewRequestStream[int, int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)
	require.NoError(t, client.Send(context.Background(), server.Endpoint(), 7))

	require.Eventually(t, func() bool {
		_, ok := server.TryPop()
		return ok
	}, time.Second, time.Millisecond)
}

func TestRequestStreamTryGetReply(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	server, err := rpc.NewRequestStream[int, int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)
	client, err := rpc.NewRequestStream[int, int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	go func() {
		req, err := server.Pop(context.Background())
		if err != nil {
			return
		}
		_ = req.Reply.Send(context.Background(), req.Arg*req.Arg)
	}()

	fm := &neverFailsMonitor{}
	v, err := client.TryGetReply(context.Background(), server.Endpoint(), 7, fm)
	require.NoError(t, err)
	require.Equal(t, 49, v)
}

func TestRequestStreamGetReplyStream(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	server, err := rpc.NewRequestStream[int, int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)
	client, err := rpc.NewRequestStream[int, int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	go func() {
		req, err := server.Pop(context.Background())
		if err != nil {
			return
		}
		rs, err := rpc.NewReplyStream[int](tr, req.Reply.Endpoint(), 0)
		if err != nil {
			return
		}
		defer rs.Close()
		for i := 0; i < req.Arg; i++ {
			_ = rs.Send(context.Background(), i*i)
		}
	}()

	consumer, err := client.GetReplyStream(context.Background(), server.Endpoint(), 3, nil)
	require.NoError(t, err)
	defer consumer.Close()

	var got []int
	for i := 0; i < 3; i++ {
		v, err := consumer.Next(context.Background())
		require.NoError(t, err)
		got = append(got, v)
	}
	require.Equal(t, []int{0, 1, 4}, got)
}

func TestMakeWellKnownRequestStream(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	tok := rpc.NewToken()

	server, err := rpc.MakeWellKnownRequestStream[int, int](tr, tok, rpc.TaskDefaultPriority)
	require.NoError(t, err)
	require.Equal(t, tok, server.Endpoint().Token())

	_, err = rpc.MakeWellKnownRequestStream[int, int](tr, tok, rpc.TaskDefaultPriority)
	require.Error(t, err, "re-registering the same well-known token must fail")
}

func TestRequestStreamGobEncodeRequiresAddress(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	server, err := rpc.NewRequestStream[int, int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	require.Panics(t, func() {
		_, _ = server.GobEncode()
	}, "loopback endpoints carry no public address and must not serialize silently")
}

func TestGetReplyUnlessFailedFor(t *testing.T) {
	tr := rpc.NewLoopbackTransport()
	future, ep, err := rpc.NewReplyFuture[int](tr, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	fm := &neverFailsMonitor{}
	go func() {
		time.Sleep(5 * time.Millisecond)
		promise := rpc.NewReplyPromise[int](tr, ep)
		_ = promise.Send(context.Background(), 9)
	}()

	v, err := rpc.GetReplyUnlessFailedFor(context.Background(), future, ep, fm, time.Hour, 0)
	require.NoError(t, err)
	require.Equal(t, 9, v)
}

type neverFailsMonitor struct{}

func (neverFailsMonitor) EndpointNotFound(rpc.Endpoint) {}
func (neverFailsMonitor) OnDisconnectOrFailure(rpc.Endpoint) <-chan struct{} {
	return make(chan struct{})
}
func (neverFailsMonitor) OnFailedFor(rpc.Endpoint, time.Duration, float64) <-chan struct{} {
	return make(chan struct{})
}
