package rpc

import (
	"context"
	"sync"
)

// ErrorOr is the wire envelope for every typed reply: exactly one of Value
// or Err is meaningful, mirroring FoundationDB's ErrorOr<T> used to carry
// application errors over the same channel as successful replies.
type ErrorOr[T any] struct {
	Value T
	Err   error
}

func (e ErrorOr[T]) Get() (T, error) { return e.Value, e.Err }

// ReplyFuture is the client-side handle for a single typed reply. It is
// backed by an Endpoint registered with the Transport for exactly as long as
// the future is outstanding; Destroy (invoked by the EndpointRef machinery
// when the peer's promise side goes away without replying) resolves it to a
// BrokenPromise error.
type ReplyFuture[T any] struct {
	mu       sync.Mutex
	ch       chan ErrorOr[T]
	got      bool
	result   ErrorOr[T]
	endpoint Endpoint
}

// NewReplyFuture registers a fresh Endpoint with transport and returns both
// the future half (for the caller to await) and the Endpoint a peer should
// be told to reply to.
func NewReplyFuture[T any](transport Transport, priority TaskPriority) (*ReplyFuture[T], Endpoint, error) {
	return newReplyFuture[T](transport, priority, nil)
}

// newReplyFuture is NewReplyFuture plus an optional FailureMonitor: if fm is
// non-nil, a broken promise (Destroy firing before any reply arrives)
// reports the future's own endpoint to it via EndpointNotFound, per
// spec.md's single-reply receiver contract. RequestStream's client
// operations use this; direct callers of the public constructor, which
// predate any particular FailureMonitor being in scope, get none.
func newReplyFuture[T any](transport Transport, priority TaskPriority, fm FailureMonitor) (*ReplyFuture[T], Endpoint, error) {
	f := &ReplyFuture[T]{ch: make(chan ErrorOr[T], 1)}
	recv := newSingleReplyReceiver(
		func(payload []byte, _ Address) (interface{}, error) {
			var v ErrorOr[T]
			if err := decodeValue(payload, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		func(v interface{}, err error) {
			if err != nil {
				f.ch <- ErrorOr[T]{Err: err}
				return
			}
			f.ch <- v.(ErrorOr[T])
		},
		fm,
	)
	ep, err := transport.AddEndpoint(recv, priority)
	if err != nil {
		return nil, Endpoint{}, err
	}
	recv.bindEndpoint(ep)
	f.endpoint = ep
	return f, ep, nil
}

// Get blocks until a reply arrives, ctx is done, or the promise was broken.
// It is safe to call Get more than once; the first result is cached.
func (f *ReplyFuture[T]) Get(ctx context.Context) (T, error) {
	f.mu.Lock()
	if f.got {
		r := f.result
		f.mu.Unlock()
		return r.Get()
	}
	f.mu.Unlock()

	select {
	case r := <-f.ch:
		f.mu.Lock()
		f.got = true
		f.result = r
		f.mu.Unlock()
		return r.Get()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// IsReady reports whether Get would return immediately.
func (f *ReplyFuture[T]) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.got {
		return true
	}
	select {
	case r := <-f.ch:
		f.got = true
		f.result = r
		return true
	default:
		return false
	}
}

func (f *ReplyFuture[T]) Endpoint() Endpoint { return f.endpoint }

// ReplyPromise is the server-side handle matching a ReplyFuture: sending on
// it delivers a value (or application error) to whoever is waiting on the
// corresponding future, addressed by the Endpoint the future registered.
type ReplyPromise[T any] struct {
	endpoint  Endpoint
	transport Transport
}

func NewReplyPromise[T any](transport Transport, endpoint Endpoint) ReplyPromise[T] {
	return ReplyPromise[T]{endpoint: endpoint, transport: transport}
}

func (p ReplyPromise[T]) Endpoint() Endpoint { return p.endpoint }

func (p ReplyPromise[T]) Send(ctx context.Context, v T) error {
	if !p.endpoint.IsValid() {
		return NewProtocolViolationError("cannot reply: request carried no reply endpoint (it was sent fire-and-forget)")
	}
	payload, err := encodeValue(ErrorOr[T]{Value: v})
	if err != nil {
		return err
	}
	return p.transport.SendUnreliable(ctx, payload, p.endpoint, true)
}

func (p ReplyPromise[T]) SendError(ctx context.Context, userErr error) error {
	if !p.endpoint.IsValid() {
		return NewProtocolViolationError("cannot reply: request carried no reply endpoint (it was sent fire-and-forget)")
	}
	payload, err := encodeValue(ErrorOr[T]{Err: NewUserError(userErr)})
	if err != nil {
		return err
	}
	return p.transport.SendUnreliable(ctx, payload, p.endpoint, true)
}
