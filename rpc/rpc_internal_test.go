package rpc

import (
	"context"
	"sync"
)

// loopbackTransport is a minimal in-process Transport used by this
// package's own tests: every Endpoint it hands out is local, and
// SendUnreliable/SendReliable just call Receive directly. It lives in an
// internal (non _test-suffixed-package) file so exported test packages for
// ReplyFuture/RequestStream/ReplyStream can reuse it via NewLoopbackTransport.
type loopbackTransport struct {
	mu   sync.Mutex
	byID map[Token]Receiver
}

// NewLoopbackTransport returns a Transport that delivers every message
// in-process, for use in tests of ReplyFuture/RequestStream/ReplyStream that
// do not need a real network.
func NewLoopbackTransport() Transport {
	return &loopbackTransport{byID: make(map[Token]Receiver)}
}

func (l *loopbackTransport) AddEndpoint(r Receiver, _ TaskPriority) (Endpoint, error) {
	tok := NewToken()
	l.mu.Lock()
	l.byID[tok] = r
	l.mu.Unlock()
	return LocalEndpoint(tok), nil
}

func (l *loopbackTransport) AddWellKnownEndpoint(tok Token, r Receiver, _ TaskPriority) (Endpoint, error) {
	l.mu.Lock()
	if _, exists := l.byID[tok]; exists {
		l.mu.Unlock()
		return Endpoint{}, NewProtocolViolationError("well-known token already registered")
	}
	l.byID[tok] = r
	l.mu.Unlock()
	return LocalEndpoint(tok), nil
}

func (l *loopbackTransport) RemoveEndpoint(e Endpoint, _ Receiver) {
	l.mu.Lock()
	delete(l.byID, e.Token())
	l.mu.Unlock()
}

func (l *loopbackTransport) AddPeerReference(Endpoint, bool)    {}
func (l *loopbackTransport) RemovePeerReference(Endpoint, bool) {}

func (l *loopbackTransport) SendUnreliable(_ context.Context, payload []byte, e Endpoint, _ bool) error {
	l.mu.Lock()
	recv, ok := l.byID[e.Token()]
	l.mu.Unlock()
	if !ok {
		return NewBrokenPromiseError("no endpoint registered for token %s", e.Token())
	}
	return recv.Receive(payload, l.LocalAddress())
}

func (l *loopbackTransport) SendReliable(ctx context.Context, payload []byte, e Endpoint) (func(), <-chan error) {
	done := make(chan error, 1)
	done <- l.SendUnreliable(ctx, payload, e, true)
	return func() {}, done
}

func (l *loopbackTransport) LoadedEndpoint(tok Token) (Endpoint, error) {
	l.mu.Lock()
	_, ok := l.byID[tok]
	l.mu.Unlock()
	if !ok {
		return Endpoint{}, NewBrokenPromiseError("no endpoint loaded for token %s", tok)
	}
	return LocalEndpoint(tok), nil
}

func (l *loopbackTransport) LocalAddress() Address { return "loopback" }

func (l *loopbackTransport) DispatchLocal(tok Token, v interface{}) (bool, error) {
	l.mu.Lock()
	recv, ok := l.byID[tok]
	l.mu.Unlock()
	if !ok {
		return false, nil
	}
	vr, ok := recv.(ValueReceiver)
	if !ok {
		return false, nil
	}
	return true, vr.ReceiveValue(v)
}
