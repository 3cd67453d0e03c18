package netadaptor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oppo-bigdata/foundationdb/rpc/netadaptor"
	"github.com/oppo-bigdata/foundationdb/transport/local"
)

// TestListenerAcceptReturnsAuthConn exercises netadaptor.Listener against a
// real transport.AuthenticatedListener (transport/local), the same adaptor
// grpchelper.NewServer hands to grpc.Server.Serve.
func TestListenerAcceptReturnsAuthConn(t *testing.T) {
	al := local.GetLocalListener(t.Name())
	nl := netadaptor.New(al, nil)
	defer nl.Close()

	accepted := make(chan struct {
		conn interface{ ClientIdentity() string }
		err  error
	}, 1)
	go func() {
		conn, err := nl.Accept()
		ci, _ := conn.(interface{ ClientIdentity() string })
		accepted <- struct {
			conn interface{ ClientIdentity() string }
			err  error
		}{ci, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	clientSide, err := al.Connect(ctx, "test-client")
	require.NoError(t, err)
	defer clientSide.Close()

	select {
	case res := <-accepted:
		require.NoError(t, res.err)
		require.NotNil(t, res.conn)
		require.Equal(t, "test-client", res.conn.ClientIdentity())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Accept to return")
	}
}
