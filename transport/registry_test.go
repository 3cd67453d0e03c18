package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oppo-bigdata/foundationdb/rpc"
	"github.com/oppo-bigdata/foundationdb/transport"
	"github.com/oppo-bigdata/foundationdb/transport/inmemory"
)

func joinedRegistry(t *testing.T, net *inmemory.Network, addr rpc.Address) *transport.Registry {
	t.Helper()
	reg := transport.NewRegistry(addr, nil)
	reg.SetDialer(net.Join(addr, reg))
	return reg
}

func TestRegistryRoundTripOverInmemoryNetwork(t *testing.T) {
	net := inmemory.NewNetwork()
	server := joinedRegistry(t, net, "server")
	client := joinedRegistry(t, net, "client")

	token := rpc.NewToken()
	serverStream, err := rpc.MakeWellKnownRequestStream[string, string](server, token, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	clientStream, err := rpc.NewRequestStream[string, string](client, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	go func() {
		req, err := serverStream.Pop(context.Background())
		if err != nil {
			return
		}
		_ = req.Reply.Send(context.Background(), "pong:"+req.Arg)
	}()

	remote := rpc.RemoteEndpoint(token, "server")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := clientStream.GetReply(ctx, remote, "ping")
	require.NoError(t, err)
	require.Equal(t, "pong:ping", v)
}

func TestRegistryEndpointLifecycle(t *testing.T) {
	reg := transport.NewRegistry("local", nil)
	stream, err := rpc.NewRequestStream[string, string](reg, rpc.TaskDefaultPriority)
	require.NoError(t, err)
	ep := stream.Endpoint()

	loaded, err := reg.LoadedEndpoint(ep.Token())
	require.NoError(t, err)
	require.Equal(t, ep.Token(), loaded.Token())
}

func TestRegistrySendWithoutDialerFails(t *testing.T) {
	reg := transport.NewRegistry("local", nil)
	stream, err := rpc.NewRequestStream[string, string](reg, rpc.TaskDefaultPriority)
	require.NoError(t, err)

	remote := rpc.RemoteEndpoint(rpc.NewToken(), "unreachable")
	err = stream.Send(context.Background(), remote, "ping")
	require.Error(t, err)
}
