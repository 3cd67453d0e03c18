package rpc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oppo-bigdata/foundationdb/rpc"
)

func TestEndpointRefDestroysOnLastRef(t *testing.T) {
	destroyed := false
	removed := false
	recv := &countingReceiver{onDestroy: func() { destroyed = true }}
	ep := rpc.LocalEndpoint(rpc.NewToken())
	ref := rpc.NewEndpointRef(ep, recv, func() { removed = true })

	ref.AddPromiseRef() // refs: promise=2, future=1
	ref.DelPromiseRef() // refs: promise=1, future=1
	require.False(t, destroyed)

	ref.DelFutureRef() // refs: promise=1, future=0
	require.False(t, destroyed)

	ref.DelPromiseRef() // refs: promise=0, future=0 -> destroy
	require.True(t, destroyed)
	require.True(t, removed)
}

type countingReceiver struct {
	onDestroy func()
}

func (c *countingReceiver) Receive(payload []byte, from rpc.Address) error { return nil }
func (c *countingReceiver) IsStream() bool                                 { return false }
func (c *countingReceiver) Destroy() {
	if c.onDestroy != nil {
		c.onDestroy()
	}
}
