package rpc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oppo-bigdata/foundationdb/rpc"
)

func TestTokenUniqueAndNonZero(t *testing.T) {
	a := rpc.NewToken()
	b := rpc.NewToken()
	require.False(t, a.IsZero())
	require.NotEqual(t, a, b)
	require.NotEmpty(t, a.String())
}

func TestEndpointLocality(t *testing.T) {
	tok := rpc.NewToken()

	local := rpc.LocalEndpoint(tok)
	require.Equal(t, rpc.LocalityLocal, local.Locality())
	require.True(t, local.IsValid())
	require.Equal(t, tok, local.Token())

	remote := rpc.RemoteEndpoint(tok, rpc.Address("peer:1234"))
	require.Equal(t, rpc.LocalityRemote, remote.Locality())
	require.Equal(t, rpc.Address("peer:1234"), remote.Address())

	var zero rpc.Endpoint
	require.False(t, zero.IsValid())
	require.Equal(t, rpc.LocalityEmpty, zero.Locality())
}
