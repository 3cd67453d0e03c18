package rpc

import (
	"context"
	"fmt"
	"sync"
)

// DefaultWindowSize is the flow-control window a ReplyStream uses when no
// override is configured: the producer may have this many unacknowledged
// bytes in flight before Send starts blocking in OnReady.
const DefaultWindowSize = 2 * 1024 * 1024 // 2 MiB

// Acknowledgement is what a ReplyStreamConsumer sends back to the producer:
// the cumulative byte count received so far, never decreasing.
type Acknowledgement struct {
	BytesReceived uint64
}

// streamValue is the actual wire envelope a ReplyStream sends: it carries the
// same Value/Err pair as ErrorOr[T], plus the producer's acknowledgement
// endpoint riding along on the first value only, per spec.md's requirement
// that a consumer learn where to send Acknowledgements from the stream
// itself rather than out-of-band. T is left completely unconstrained;
// AckEndpoint lives in the framing around it, not in T.
type streamValue[T any] struct {
	Value       T
	Err         error
	AckEndpoint Optional[Endpoint]
}

// ReplyStream is the producer side of a flow-controlled stream of typed
// values: Send blocks on the stream's byte-credit window instead of buffering
// unboundedly, matching the spec's "bytes in flight" backpressure.
type ReplyStream[T any] struct {
	mu            sync.Mutex
	transport     Transport
	peer          Endpoint
	window        uint64
	bytesSent     uint64
	bytesAcked    uint64
	readyCh       chan struct{}
	ackAdvertised bool

	ackEndpoint Endpoint
	ackRecv     *queueReceiver
	closed      bool
}

// NewReplyStream registers an Endpoint to receive Acknowledgements and
// returns a ReplyStream that sends T values to peer. window of zero means
// DefaultWindowSize.
func NewReplyStream[T any](transport Transport, peer Endpoint, window uint64) (*ReplyStream[T], error) {
	rs := &ReplyStream[T]{peer: peer}
	if err := rs.bind(transport, window); err != nil {
		return nil, err
	}
	return rs, nil
}

// bind registers the acknowledgement-receiving endpoint against transport
// and starts ackLoop. It is shared by NewReplyStream and Bind (the
// post-GobDecode attachment path), which both need the same wiring.
func (rs *ReplyStream[T]) bind(transport Transport, window uint64) error {
	if window == 0 {
		window = DefaultWindowSize
	}
	rs.transport = transport
	rs.window = window
	rs.readyCh = make(chan struct{}, 1)
	recv := newQueueReceiver(func(payload []byte, _ Address) (interface{}, error) {
		var ack Acknowledgement
		if err := decodeValue(payload, &ack); err != nil {
			return nil, err
		}
		return ack, nil
	}, false, nil)
	ep, err := transport.AddEndpoint(recv, TaskDefaultPriority)
	if err != nil {
		return err
	}
	rs.ackEndpoint = ep
	rs.ackRecv = recv
	go rs.ackLoop()
	return nil
}

// Bind attaches transport to a ReplyStream reconstructed by GobDecode, and
// registers its acknowledgement endpoint against it. window of zero means
// DefaultWindowSize. A handle built by NewReplyStream already has one and
// never needs this.
func (rs *ReplyStream[T]) Bind(transport Transport, window uint64) error {
	return rs.bind(transport, window)
}

func (rs *ReplyStream[T]) ackLoop() {
	for {
		item, ok := rs.ackRecv.next()
		if !ok {
			return
		}
		if item.err != nil {
			continue
		}
		rs.applyAck(item.value.(Acknowledgement))
	}
}

// applyAck folds one Acknowledgement into the window accounting, or panics
// if it reports fewer bytes than an earlier one already did: acknowledgement
// counts are cumulative and must never regress, per Testable Scenario 5.
// Split out of ackLoop so it can be exercised directly, synchronously, by a
// test in this package.
func (rs *ReplyStream[T]) applyAck(ack Acknowledgement) {
	rs.mu.Lock()
	if ack.BytesReceived <= rs.bytesAcked {
		rs.mu.Unlock()
		panic(fmt.Sprintf("rpc: non-monotonic acknowledgement on reply stream to %s: got %d bytes, already acked %d", rs.peer, ack.BytesReceived, rs.bytesAcked))
	}
	rs.bytesAcked = ack.BytesReceived
	ready := rs.bytesSent-rs.bytesAcked < rs.window
	rs.mu.Unlock()
	if ready {
		select {
		case rs.readyCh <- struct{}{}:
		default:
		}
	}
}

// OnReady blocks until the stream has spare window, or ctx is done.
func (rs *ReplyStream[T]) OnReady(ctx context.Context) error {
	rs.mu.Lock()
	ready := rs.bytesSent-rs.bytesAcked < rs.window
	rs.mu.Unlock()
	if ready {
		return nil
	}
	select {
	case <-rs.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcknowledgeEndpoint is the Endpoint a consumer sends Acknowledgements to.
// It is also embedded inside the first value Send or SendError delivers, so
// a ReplyStreamConsumer never needs to be told it out-of-band.
func (rs *ReplyStream[T]) AcknowledgeEndpoint() Endpoint { return rs.ackEndpoint }

// advertiseAckEndpoint returns the Optional to stamp onto the next
// streamValue: the stream's ack endpoint exactly once, empty thereafter.
func (rs *ReplyStream[T]) advertiseAckEndpoint() Optional[Endpoint] {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.ackAdvertised {
		return Optional[Endpoint]{}
	}
	rs.ackAdvertised = true
	return Some(rs.ackEndpoint)
}

func (rs *ReplyStream[T]) Send(ctx context.Context, v T) error {
	if err := rs.OnReady(ctx); err != nil {
		return err
	}
	payload, err := encodeValue(streamValue[T]{Value: v, AckEndpoint: rs.advertiseAckEndpoint()})
	if err != nil {
		return err
	}
	rs.mu.Lock()
	rs.bytesSent += uint64(len(payload))
	rs.mu.Unlock()
	return rs.transport.SendUnreliable(ctx, payload, rs.peer, true)
}

func (rs *ReplyStream[T]) SendError(ctx context.Context, userErr error) error {
	payload, err := encodeValue(streamValue[T]{Err: NewUserError(userErr), AckEndpoint: rs.advertiseAckEndpoint()})
	if err != nil {
		return err
	}
	return rs.transport.SendUnreliable(ctx, payload, rs.peer, true)
}

func (rs *ReplyStream[T]) BytesSent() uint64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.bytesSent
}

func (rs *ReplyStream[T]) BytesAcknowledged() uint64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.bytesAcked
}

func (rs *ReplyStream[T]) Close() {
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		return
	}
	rs.closed = true
	rs.mu.Unlock()
	rs.transport.RemoveEndpoint(rs.ackEndpoint, rs.ackRecv)
}

// GobEncode serializes a ReplyStream as the Endpoint peers use to deliver
// values to it, per spec.md's serialization glue. Serializing a handle with
// no publicly reachable address is a programming error: the peer that
// decodes it could never reach back to it.
func (rs *ReplyStream[T]) GobEncode() ([]byte, error) {
	if rs.peer.Address() == "" {
		panic(fmt.Sprintf("rpc: cannot serialize reply stream to %s: no publicly reachable address", rs.peer))
	}
	return encodeValue(rs.peer)
}

// GobDecode reconstructs a ReplyStream from the bytes GobEncode produced.
// The result has no Transport and no acknowledgement endpoint attached;
// call Bind before using Send, SendError or OnReady on it.
func (rs *ReplyStream[T]) GobDecode(data []byte) error {
	var peer Endpoint
	if err := decodeValue(data, &peer); err != nil {
		return err
	}
	*rs = ReplyStream[T]{peer: peer}
	return nil
}

// ReplyStreamConsumer is the receiving side of a ReplyStream: it pulls
// streamValue[T] values, learns the producer's acknowledgement endpoint from
// the first one, and echoes cumulative byte counts back to the producer as
// Acknowledgements, driving the producer's flow-control window.
type ReplyStreamConsumer[T any] struct {
	transport     Transport
	endpoint      Endpoint
	qr            *queueReceiver
	mu            sync.Mutex
	ackTo         Endpoint
	ackBound      bool
	bytesReceived uint64
	closedCh      chan struct{}
	closeOnce     sync.Once
	forcedErr     error
}

func NewReplyStreamConsumer[T any](transport Transport) (*ReplyStreamConsumer[T], error) {
	c := &ReplyStreamConsumer[T]{transport: transport, closedCh: make(chan struct{})}
	recv := newQueueReceiver(func(payload []byte, fromAddress Address) (interface{}, error) {
		var sv streamValue[T]
		if err := decodeValue(payload, &sv); err != nil {
			return nil, err
		}
		if sv.AckEndpoint.Present() {
			sv.AckEndpoint = Some(endpointFromWire(sv.AckEndpoint.Get(), fromAddress))
		}
		return sv, nil
	}, true, nil)
	ep, err := transport.AddEndpoint(recv, TaskDefaultPriority)
	if err != nil {
		return nil, err
	}
	c.endpoint = ep
	c.qr = recv
	return c, nil
}

func (c *ReplyStreamConsumer[T]) Endpoint() Endpoint { return c.endpoint }

// done is closed once Close or closeWithErr has run, letting a goroutine
// watching for a disconnect stop waiting once the consumer no longer cares.
func (c *ReplyStreamConsumer[T]) done() <-chan struct{} { return c.closedCh }

// closeWithErr closes the consumer the way Close does, but makes every
// subsequent Next call (and the one currently blocked, if any) return err
// instead of BrokenPromise. Used by GetReplyStream's disconnect watcher.
func (c *ReplyStreamConsumer[T]) closeWithErr(err error) {
	c.mu.Lock()
	c.forcedErr = err
	c.mu.Unlock()
	c.Close()
}

// Next blocks for the next value, acknowledging bytes consumed so far back
// to the producer after every delivery.
func (c *ReplyStreamConsumer[T]) Next(ctx context.Context) (T, error) {
	type result struct {
		item queuedItem
		ok   bool
	}
	ch := make(chan result, 1)
	go func() {
		item, ok := c.qr.next()
		ch <- result{item, ok}
	}()
	select {
	case r := <-ch:
		if !r.ok {
			var zero T
			c.mu.Lock()
			err := c.forcedErr
			c.mu.Unlock()
			if err != nil {
				return zero, err
			}
			return zero, NewBrokenPromiseError("reply stream closed")
		}
		if r.item.err != nil {
			var zero T
			return zero, r.item.err
		}
		sv := r.item.value.(streamValue[T])
		c.mu.Lock()
		c.bytesReceived += uint64(r.item.length)
		received := c.bytesReceived
		if !c.ackBound && sv.AckEndpoint.Present() {
			c.ackTo = sv.AckEndpoint.Get()
			c.ackBound = true
		}
		ackTo := c.ackTo
		bound := c.ackBound
		c.mu.Unlock()
		if bound {
			if ackPayload, err := encodeValue(Acknowledgement{BytesReceived: received}); err == nil {
				_ = c.transport.SendUnreliable(ctx, ackPayload, ackTo, true)
			}
		}
		if sv.Err != nil {
			var zero T
			return zero, sv.Err
		}
		return sv.Value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (c *ReplyStreamConsumer[T]) Close() {
	c.closeOnce.Do(func() { close(c.closedCh) })
	c.transport.RemoveEndpoint(c.endpoint, c.qr)
}
