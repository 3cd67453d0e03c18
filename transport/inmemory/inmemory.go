// Package inmemory provides a Dialer that connects peers through
// util/socketpair instead of a real network, for use in tests that need
// two transport.Registry instances talking to each other without opening
// any sockets.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/oppo-bigdata/foundationdb/rpc"
	"github.com/oppo-bigdata/foundationdb/transport"
	"github.com/oppo-bigdata/foundationdb/util/socketpair"
)

// Network is a shared address space: every peer that wants to reach another
// peer registered on the same Network does so over a freshly created
// socketpair, with one end handed to the dialing side and the other handed
// to the dialed side's AdoptConnection.
type Network struct {
	mu    sync.Mutex
	peers map[rpc.Address]*transport.Registry
}

func NewNetwork() *Network {
	return &Network{peers: make(map[rpc.Address]*transport.Registry)}
}

// Join registers reg to be reachable at addr and returns a Dialer that
// connects reg to any other peer previously or subsequently joined to the
// same Network.
func (n *Network) Join(addr rpc.Address, reg *transport.Registry) transport.Dialer {
	n.mu.Lock()
	n.peers[addr] = reg
	n.mu.Unlock()
	return transport.DialerFunc(func(ctx context.Context, peerAddr rpc.Address) (transport.Wire, error) {
		n.mu.Lock()
		peer, ok := n.peers[peerAddr]
		n.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("inmemory: no peer joined at address %q", peerAddr)
		}
		a, b, err := socketpair.SocketPair()
		if err != nil {
			return nil, err
		}
		peer.AdoptConnection(addr, b)
		return a, nil
	})
}
