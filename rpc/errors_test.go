package rpc_test

import (
	"bytes"
	"encoding/gob"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oppo-bigdata/foundationdb/rpc"
)

func TestIsKindHelpers(t *testing.T) {
	err := rpc.NewBrokenPromiseError("peer %s is gone", "foo")
	require.True(t, rpc.IsBrokenPromise(err))
	require.False(t, rpc.IsEndpointFailed(err))

	wrapped := errors.New("context: " + err.Error())
	require.False(t, rpc.IsBrokenPromise(wrapped), "plain wrapping by string concat loses the type, as expected")
}

func TestUserErrorKind(t *testing.T) {
	cause := errors.New("boom")
	err := rpc.NewUserError(cause)
	require.True(t, rpc.IsUserError(err))
	require.ErrorIs(t, err, cause)
}

func TestErrorGobRoundTrip(t *testing.T) {
	original := rpc.NewRequestMaybeDeliveredError(errors.New("connection reset"), "send to %s failed", "peer1")

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(&original))

	var decoded error
	require.NoError(t, gob.NewDecoder(&buf).Decode(&decoded))

	require.True(t, rpc.IsRequestMaybeDelivered(decoded))
	require.Contains(t, decoded.Error(), "send to peer1 failed")
	require.Contains(t, decoded.Error(), "connection reset")
}
