package rpc

import (
	"context"
	"time"
)

// Transport is the capability a peer-communication layer must provide: a
// place to register Receivers under fresh or well-known Endpoints, a way to
// move bytes to a Receiver living on a remote Endpoint either best-effort or
// with delivery tracking, and reference counting so an Endpoint can be
// reclaimed once nobody references it anymore. Implementations live under
// the transport package; this package only depends on the interface so that
// ReplyFuture/RequestStream/ReplyStream never import a concrete transport.
type Transport interface {
	AddEndpoint(r Receiver, priority TaskPriority) (Endpoint, error)
	AddWellKnownEndpoint(token Token, r Receiver, priority TaskPriority) (Endpoint, error)
	RemoveEndpoint(e Endpoint, r Receiver)
	AddPeerReference(e Endpoint, isStream bool)
	RemovePeerReference(e Endpoint, isStream bool)
	SendUnreliable(ctx context.Context, payload []byte, e Endpoint, openConnection bool) error
	SendReliable(ctx context.Context, payload []byte, e Endpoint) (cancel func(), done <-chan error)
	LoadedEndpoint(token Token) (Endpoint, error)
	LocalAddress() Address
}

// FailureMonitor tracks peer liveness independent of any specific
// outstanding request: TryGetReply, GetReplyStream and
// GetReplyUnlessFailedFor consult it.
type FailureMonitor interface {
	EndpointNotFound(e Endpoint)
	OnDisconnectOrFailure(e Endpoint) <-chan struct{}
	OnFailedFor(e Endpoint, duration time.Duration, slope float64) <-chan struct{}
}

// LocalDispatcher is an optional capability a Transport may implement in
// addition to SendUnreliable/SendReliable: DispatchLocal delivers v
// directly to the ValueReceiver behind token, if there is one, skipping the
// gob round trip SendUnreliable pays even when the destination turns out to
// be in-process. ok is false whenever no such fast path applies (no local
// receiver for token, or it doesn't implement ValueReceiver); callers fall
// back to encoding v and calling SendUnreliable. Grounded on
// RequestStream<T>::send in fdbrpc.h, which takes the same fork on
// queue->isRemoteEndpoint() before ever touching SerializeSource.
type LocalDispatcher interface {
	DispatchLocal(token Token, v interface{}) (ok bool, err error)
}
