package rpc

import (
	"context"
	"fmt"
	"time"
)

// Request is what a RequestStream's receiving side gets: the caller's
// argument plus the ReplyPromise to send the matching reply through. Reply
// is the zero ReplyPromise (an invalid Endpoint) when the request arrived
// via Send, which expects no reply at all.
type Request[T any, R any] struct {
	Arg   T
	Reply ReplyPromise[R]
}

type requestEnvelope[T any] struct {
	Arg           T
	ReplyEndpoint Endpoint
	ID            RequestID
}

var requestIDGen = newRequestIDGenerator()

// RequestStream is a typed request/reply channel: a server-held Endpoint
// that clients deliver T values to, each optionally carrying a fresh reply
// Endpoint the server answers through a ReplyPromise[R]. It is grounded on
// fdbrpc.h's RequestStream<T>: send/getReply/tryGetReply/getReplyStream on
// the client side, receive()/the request queue on the server side.
type RequestStream[T any, R any] struct {
	endpoint  Endpoint
	transport Transport
	qr        *queueReceiver
}

func NewRequestStream[T any, R any](transport Transport, priority TaskPriority) (*RequestStream[T, R], error) {
	s := &RequestStream[T, R]{transport: transport}
	recv := newQueueReceiver(s.decode, false, nil)
	ep, err := transport.AddEndpoint(recv, priority)
	if err != nil {
		return nil, err
	}
	s.endpoint = ep
	s.qr = recv
	return s, nil
}

// MakeWellKnownRequestStream registers the stream under a fixed token known
// ahead of time by both peers, instead of one discovered dynamically.
func MakeWellKnownRequestStream[T any, R any](transport Transport, token Token, priority TaskPriority) (*RequestStream[T, R], error) {
	s := &RequestStream[T, R]{transport: transport}
	recv := newQueueReceiver(s.decode, false, nil)
	ep, err := transport.AddWellKnownEndpoint(token, recv, priority)
	if err != nil {
		return nil, err
	}
	s.endpoint = ep
	s.qr = recv
	return s, nil
}

func (s *RequestStream[T, R]) decode(payload []byte, fromAddress Address) (interface{}, error) {
	var env requestEnvelope[T]
	if err := decodeValue(payload, &env); err != nil {
		return nil, err
	}
	debug("request %s decoded on endpoint %s", env.ID, s.endpoint)
	return Request[T, R]{
		Arg:   env.Arg,
		Reply: NewReplyPromise[R](s.transport, endpointFromWire(env.ReplyEndpoint, fromAddress)),
	}, nil
}

func (s *RequestStream[T, R]) Endpoint() Endpoint { return s.endpoint }

// Pop blocks until the next request lands on this stream's own endpoint, or
// ctx is done. This is the server side of RequestStream, draining what
// peers enqueued via Send, GetReply, TryGetReply or GetReplyStream.
func (s *RequestStream[T, R]) Pop(ctx context.Context) (Request[T, R], error) {
	type result struct {
		req Request[T, R]
		ok  bool
	}
	ch := make(chan result, 1)
	go func() {
		item, ok := s.qr.next()
		if !ok {
			ch <- result{ok: false}
			return
		}
		ch <- result{req: item.value.(Request[T, R]), ok: true}
	}()
	select {
	case r := <-ch:
		if !r.ok {
			return Request[T, R]{}, NewBrokenPromiseError("request stream endpoint was destroyed")
		}
		return r.req, nil
	case <-ctx.Done():
		return Request[T, R]{}, ctx.Err()
	}
}

// TryPop is the non-blocking counterpart to Pop.
func (s *RequestStream[T, R]) TryPop() (Request[T, R], bool) {
	item, ok := s.qr.tryNext()
	if !ok {
		return Request[T, R]{}, false
	}
	return item.value.(Request[T, R]), true
}

// sendEnvelope delivers req, addressed with replyEP as its reply endpoint,
// to peer: directly into the destination receiver if peer is local and the
// transport implements LocalDispatcher, otherwise by gob-encoding a
// requestEnvelope and calling SendUnreliable. Grounded on
// RequestStream<T>::send in fdbrpc.h, which forks on
// queue->isRemoteEndpoint() before ever touching SerializeSource: a local
// handle is enqueued directly, a remote one pays for serialization.
func (s *RequestStream[T, R]) sendEnvelope(ctx context.Context, peer Endpoint, req T, replyEP Endpoint, id RequestID) error {
	if peer.Locality() == LocalityLocal {
		if ld, ok := s.transport.(LocalDispatcher); ok {
			v := Request[T, R]{Arg: req, Reply: NewReplyPromise[R](s.transport, replyEP)}
			dispatched, err := ld.DispatchLocal(peer.Token(), v)
			if dispatched {
				debug("request %s enqueued directly on local endpoint %s", id, peer)
				return err
			}
		}
	}
	payload, err := encodeValue(requestEnvelope[T]{Arg: req, ReplyEndpoint: replyEP, ID: id})
	if err != nil {
		return err
	}
	debug("request %s sent to %s", id, peer)
	return s.transport.SendUnreliable(ctx, payload, peer, true)
}

// Send delivers req to peer without expecting or waiting for a reply:
// unreliable, at-most-once. If the server side replies anyway, its
// ReplyPromise returns a ProtocolViolation error (req carries no reply
// endpoint).
func (s *RequestStream[T, R]) Send(ctx context.Context, peer Endpoint, req T) error {
	id := requestIDGen.newID()
	return s.sendEnvelope(ctx, peer, req, Endpoint{}, id)
}

// GetReply delivers req to peer reliably and returns the matching reply. On
// a remote peer the underlying send goes through the Transport's
// SendReliable, which may retry it, and is abandoned
// (the "send canceller") the moment a reply arrives, since no further
// retry can change which reply was received. This is at-least-once: a
// retry racing a delivery that actually succeeded can cause req to be
// processed more than once by the peer.
func (s *RequestStream[T, R]) GetReply(ctx context.Context, peer Endpoint, req T) (R, error) {
	var zero R
	future, replyEP, err := NewReplyFuture[R](s.transport, TaskDefaultPriority)
	if err != nil {
		return zero, err
	}
	id := requestIDGen.newID()

	if peer.Locality() == LocalityLocal {
		if err := s.sendEnvelope(ctx, peer, req, replyEP, id); err != nil {
			return zero, err
		}
		return future.Get(ctx)
	}

	payload, err := encodeValue(requestEnvelope[T]{Arg: req, ReplyEndpoint: replyEP, ID: id})
	if err != nil {
		return zero, err
	}
	debug("request %s sent reliably to %s", id, peer)
	cancel, sendDone := s.transport.SendReliable(ctx, payload, peer)
	defer cancel()

	replyCh := make(chan ErrorOr[R], 1)
	go func() {
		v, err := future.Get(ctx)
		replyCh <- ErrorOr[R]{Value: v, Err: err}
	}()

	for {
		select {
		case r := <-replyCh:
			return r.Get()
		case sendErr := <-sendDone:
			sendDone = nil
			if sendErr != nil {
				return zero, sendErr
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryGetReply delivers req to peer unreliably and races the reply against
// the failure monitor's disconnect signal: it fails with
// RequestMaybeDelivered immediately if fm already reports peer
// disconnected, or as soon as it does before a reply arrives. fm may be nil
// to skip the race (e.g. against a local peer, which can never disconnect).
func (s *RequestStream[T, R]) TryGetReply(ctx context.Context, peer Endpoint, req T, fm FailureMonitor) (R, error) {
	var zero R
	var disc <-chan struct{}
	if fm != nil && peer.Locality() != LocalityLocal {
		disc = fm.OnDisconnectOrFailure(peer)
		select {
		case <-disc:
			return zero, NewRequestMaybeDeliveredError(nil, "peer %s already disconnected", peer)
		default:
		}
	}

	future, replyEP, err := NewReplyFuture[R](s.transport, TaskDefaultPriority)
	if err != nil {
		return zero, err
	}
	id := requestIDGen.newID()
	if err := s.sendEnvelope(ctx, peer, req, replyEP, id); err != nil {
		return zero, err
	}

	replyCh := make(chan ErrorOr[R], 1)
	go func() {
		v, err := future.Get(ctx)
		replyCh <- ErrorOr[R]{Value: v, Err: err}
	}()
	select {
	case r := <-replyCh:
		return r.Get()
	case <-disc:
		return zero, NewRequestMaybeDeliveredError(nil, "peer %s disconnected before a reply arrived", peer)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// GetReplyStream delivers req to peer unreliably, exactly like Send, except
// the reply endpoint it carries names a queue-with-errors receiver rather
// than a single-reply one: the server side answers with zero or more
// values through a ReplyStream targeting that endpoint instead of a single
// ReplyPromise.Send. If fm is non-nil and peer is remote, a disconnect
// before the consumer is closed fails its next Next call with
// RequestMaybeDelivered instead of hanging forever.
func (s *RequestStream[T, R]) GetReplyStream(ctx context.Context, peer Endpoint, req T, fm FailureMonitor) (*ReplyStreamConsumer[R], error) {
	consumer, err := NewReplyStreamConsumer[R](s.transport)
	if err != nil {
		return nil, err
	}
	id := requestIDGen.newID()
	if err := s.sendEnvelope(ctx, peer, req, consumer.Endpoint(), id); err != nil {
		consumer.Close()
		return nil, err
	}
	if fm != nil && peer.Locality() != LocalityLocal {
		disc := fm.OnDisconnectOrFailure(peer)
		go func() {
			select {
			case <-disc:
				consumer.closeWithErr(NewRequestMaybeDeliveredError(nil, "peer %s disconnected before the reply stream closed", peer))
			case <-consumer.done():
			}
		}()
	}
	return consumer, nil
}

// GetReplyUnlessFailedFor is GetReply raced against the failure monitor's
// judgement that peer has been down for at least duration with the given
// failure slope: if the monitor wins, the outstanding reliable send is
// cancelled and EndpointFailed is returned instead.
func (s *RequestStream[T, R]) GetReplyUnlessFailedFor(ctx context.Context, peer Endpoint, req T, fm FailureMonitor, duration time.Duration, slope float64) (R, error) {
	failed := fm.OnFailedFor(peer, duration, slope)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	replyCh := make(chan ErrorOr[R], 1)
	go func() {
		v, err := s.GetReply(ctx, peer, req)
		replyCh <- ErrorOr[R]{Value: v, Err: err}
	}()
	select {
	case r := <-replyCh:
		return r.Get()
	case <-failed:
		cancel()
		var zero R
		return zero, NewEndpointFailedError("endpoint %s failed for at least %s", peer, duration)
	}
}

// GetReplyUnlessFailedFor races an already-outstanding ReplyFuture against
// the failure monitor's judgement that peer has been down for at least
// duration with the given failure slope, returning EndpointFailed if the
// monitor wins. Unlike the RequestStream method of the same name, it takes
// no req: the caller has already sent one and is only waiting on the
// reply, e.g. the reply half of a ReplyPromise handed out independently of
// RequestStream.
func GetReplyUnlessFailedFor[R any](ctx context.Context, future *ReplyFuture[R], peer Endpoint, fm FailureMonitor, duration time.Duration, slope float64) (R, error) {
	failed := fm.OnFailedFor(peer, duration, slope)
	type result struct {
		v   R
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := future.Get(ctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-failed:
		var zero R
		return zero, NewEndpointFailedError("endpoint %s failed for at least %s", peer, duration)
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// GobEncode serializes a RequestStream as its own Endpoint, the token a
// peer uses to reach it, per spec.md's serialization glue: only the
// endpoint crosses the wire, never the decode plumbing or Go type
// parameters behind it. Serializing a handle with no publicly reachable
// address (local, or the zero Endpoint) is a programming error: the peer
// that decodes it could never reach back.
func (s *RequestStream[T, R]) GobEncode() ([]byte, error) {
	if s.endpoint.Address() == "" {
		panic(fmt.Sprintf("rpc: cannot serialize %s: no publicly reachable address", s.endpoint))
	}
	return encodeValue(s.endpoint)
}

// GobDecode reconstructs the remote half of a RequestStream from the bytes
// GobEncode produced. The result has no Transport attached; call Bind
// before using any client operation on it.
func (s *RequestStream[T, R]) GobDecode(data []byte) error {
	var ep Endpoint
	if err := decodeValue(data, &ep); err != nil {
		return err
	}
	*s = RequestStream[T, R]{endpoint: ep}
	return nil
}

// Bind attaches transport to a RequestStream reconstructed by GobDecode, so
// its client operations have somewhere to send through. A handle built by
// NewRequestStream or MakeWellKnownRequestStream already has one and never
// needs this.
func (s *RequestStream[T, R]) Bind(transport Transport) {
	s.transport = transport
}
