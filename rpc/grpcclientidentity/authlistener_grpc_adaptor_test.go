package grpcclientidentity

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"

	"github.com/stretchr/testify/require"

	"github.com/oppo-bigdata/foundationdb/logger"
	"github.com/oppo-bigdata/foundationdb/transport"
)

var fakePeerAddr net.Addr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1234}

func TestTransportCredentialsServerHandshakeRejectsNonAuthConn(t *testing.T) {
	tc := NewTransportCredentials(nil)
	require.Panics(t, func() {
		_, _, _ = tc.ServerHandshake(nil)
	})
}

func TestTransportCredentialsServerHandshakeCarriesClientIdentity(t *testing.T) {
	tc := NewTransportCredentials(nil)
	authConn := transport.NewAuthConn(nil, "alice")

	_, authInfo, err := tc.ServerHandshake(authConn)
	require.NoError(t, err)

	a, ok := authInfo.(*authConnAuthType)
	require.True(t, ok)
	require.Equal(t, "alice", a.clientIdentity)
}

type clientIdentityContextKey struct{}

func TestNewInterceptorsUnaryPropagatesClientIdentity(t *testing.T) {
	var gotPre, gotPost bool
	unary, _ := NewInterceptors(logger.NewNullLogger(), clientIdentityContextKey{},
		nil,
		func(ctx context.Context, endpoint string, req interface{}) { gotPre = true },
		func(ctx context.Context, resp interface{}, err error) { gotPost = true },
	)

	p := &peer.Peer{Addr: fakePeerAddr, AuthInfo: &authConnAuthType{clientIdentity: "bob"}}
	ctx := peer.NewContext(context.Background(), p)

	var sawIdentity string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		sawIdentity, _ = ctx.Value(clientIdentityContextKey{}).(string)
		return "ok", nil
	}

	resp, err := unary(ctx, "req", &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}, handler)
	require.NoError(t, err)
	require.Equal(t, "ok", resp)
	require.Equal(t, "bob", sawIdentity)
	require.True(t, gotPre)
	require.True(t, gotPost)
}

func TestNewInterceptorsUnaryToleratesNilCallbacks(t *testing.T) {
	unary, _ := NewInterceptors(logger.NewNullLogger(), clientIdentityContextKey{}, nil, nil, nil)

	p := &peer.Peer{Addr: fakePeerAddr, AuthInfo: &authConnAuthType{clientIdentity: "carol"}}
	ctx := peer.NewContext(context.Background(), p)

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, nil
	}
	_, err := unary(ctx, "req", &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}, handler)
	require.NoError(t, err)
}
