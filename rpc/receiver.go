package rpc

import (
	"sync"
)

// Receiver is the capability set a value must implement to be registered
// against an Endpoint. Receive is invoked once per delivered message;
// IsStream distinguishes single-reply receivers (used by RequestStream's
// reply side and ReplyFuture) from queue receivers (used by ReplyStream,
// which can receive more than one message and needs Acknowledgements).
// Destroy is called once the last reference to the Endpoint is dropped, so
// the Receiver can release any buffered state.
type Receiver interface {
	Receive(payload []byte, fromAddress Address) error
	IsStream() bool
	Destroy()
}

// ValueReceiver is an optional capability a Receiver may additionally
// implement: ReceiveValue accepts an already-decoded value directly,
// letting a Transport's local-dispatch fast path skip gob-encoding the
// value into a payload and immediately decoding it back out again, the
// cost SendUnreliable's in-process branch otherwise still pays. Both
// Receiver implementations in this file support it.
type ValueReceiver interface {
	ReceiveValue(v interface{}) error
}

// singleReplyReceiver is the Receiver behind a ReplyFuture[T]: at most one
// Receive call will ever be accepted, decoding into a value of type T. fm,
// if non-nil, is told the receiver's own endpoint is no longer reachable
// when Destroy fires without a reply ever having arrived, per spec.md's
// broken-promise rule.
type singleReplyReceiver struct {
	mu       sync.Mutex
	decode   func(payload []byte, fromAddress Address) (interface{}, error)
	deliver  func(v interface{}, err error)
	fired    bool
	fm       FailureMonitor
	endpoint Endpoint
}

func newSingleReplyReceiver(decode func(payload []byte, fromAddress Address) (interface{}, error), deliver func(interface{}, error), fm FailureMonitor) *singleReplyReceiver {
	return &singleReplyReceiver{decode: decode, deliver: deliver, fm: fm}
}

// bindEndpoint records the receiver's own endpoint once the Transport has
// handed it back from AddEndpoint, so Destroy can report it by value
// instead of by the zero Endpoint.
func (r *singleReplyReceiver) bindEndpoint(e Endpoint) {
	r.mu.Lock()
	r.endpoint = e
	r.mu.Unlock()
}

func (r *singleReplyReceiver) Receive(payload []byte, fromAddress Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fired {
		return NewProtocolViolationError("reply delivered twice to single-reply receiver")
	}
	r.fired = true
	v, err := r.decode(payload, fromAddress)
	r.deliver(v, err)
	return nil
}

func (r *singleReplyReceiver) ReceiveValue(v interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fired {
		return NewProtocolViolationError("reply delivered twice to single-reply receiver")
	}
	r.fired = true
	r.deliver(v, nil)
	return nil
}

func (r *singleReplyReceiver) IsStream() bool { return false }

func (r *singleReplyReceiver) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fired {
		r.fired = true
		if r.fm != nil {
			r.fm.EndpointNotFound(r.endpoint)
		}
		r.deliver(nil, NewBrokenPromiseError("receiver destroyed without a reply ever being delivered"))
	}
}

// queueReceiver is the Receiver behind a RequestStream[T,R]'s request side
// and ReplyStream[T]: every delivered message is appended to an unbounded
// queue that Next drains, tagged with whatever decode error occurred.
type queueReceiver struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []queuedItem
	closed   bool
	closeErr error
	decode   func(payload []byte, fromAddress Address) (interface{}, error)
	onDone   func()
	withErrors bool
}

type queuedItem struct {
	value interface{}
	err   error
	// length is the size in bytes of the wire payload this item decoded
	// from, used by ReplyStreamConsumer to compute Acknowledgement byte
	// counts without re-serializing the decoded value.
	length int
}

func newQueueReceiver(decode func(payload []byte, fromAddress Address) (interface{}, error), withErrors bool, onDone func()) *queueReceiver {
	q := &queueReceiver{decode: decode, withErrors: withErrors, onDone: onDone}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queueReceiver) Receive(payload []byte, fromAddress Address) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return NewProtocolViolationError("message delivered to closed queue receiver")
	}
	v, err := q.decode(payload, fromAddress)
	if err != nil && !q.withErrors {
		return NewProtocolViolationError("decode error on receiver that cannot carry errors: %v", err)
	}
	q.queue = append(q.queue, queuedItem{value: v, err: err, length: len(payload)})
	q.cond.Signal()
	return nil
}

// ReceiveValue enqueues an already-decoded value, bypassing decode entirely;
// used by a Transport's local-dispatch fast path. length is left at zero
// since there was never a wire payload to measure.
func (q *queueReceiver) ReceiveValue(v interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return NewProtocolViolationError("message delivered to closed queue receiver")
	}
	q.queue = append(q.queue, queuedItem{value: v})
	q.cond.Signal()
	return nil
}

func (q *queueReceiver) IsStream() bool { return true }

func (q *queueReceiver) Destroy() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.closeErr = NewBrokenPromiseError("queue receiver destroyed")
		q.cond.Broadcast()
	}
	q.mu.Unlock()
	if q.onDone != nil {
		q.onDone()
	}
}

// next blocks until an item is available or the queue has been destroyed,
// in which case ok is false.
func (q *queueReceiver) next() (item queuedItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.queue) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.queue) > 0 {
		item = q.queue[0]
		q.queue = q.queue[1:]
		return item, true
	}
	return queuedItem{}, false
}

// tryNext is the non-blocking variant used by RequestStream.TryPop.
func (q *queueReceiver) tryNext() (item queuedItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) > 0 {
		item = q.queue[0]
		q.queue = q.queue[1:]
		return item, true
	}
	return queuedItem{}, false
}

// EndpointRef tracks the two independent reference counts FoundationDB's
// flow uses to decide when an Endpoint can be reclaimed: promise refs count
// holders that may still Receive on it, future refs count holders that may
// still be waiting on a reply. Either hitting zero while the other is
// already zero triggers Receiver.Destroy.
type EndpointRef struct {
	mu          sync.Mutex
	endpoint    Endpoint
	receiver    Receiver
	promiseRefs int
	futureRefs  int
	destroyed   bool
	onRemove    func()
}

func NewEndpointRef(e Endpoint, r Receiver, onRemove func()) *EndpointRef {
	return &EndpointRef{endpoint: e, receiver: r, promiseRefs: 1, futureRefs: 1, onRemove: onRemove}
}

func (er *EndpointRef) Endpoint() Endpoint { return er.endpoint }
func (er *EndpointRef) Receiver() Receiver { return er.receiver }

func (er *EndpointRef) AddPromiseRef() {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.promiseRefs++
}

func (er *EndpointRef) AddFutureRef() {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.futureRefs++
}

func (er *EndpointRef) DelPromiseRef() {
	er.mu.Lock()
	er.promiseRefs--
	dead := er.promiseRefs <= 0 && er.futureRefs <= 0 && !er.destroyed
	if dead {
		er.destroyed = true
	}
	er.mu.Unlock()
	if dead {
		er.receiver.Destroy()
		if er.onRemove != nil {
			er.onRemove()
		}
	}
}

func (er *EndpointRef) DelFutureRef() {
	er.mu.Lock()
	er.futureRefs--
	dead := er.promiseRefs <= 0 && er.futureRefs <= 0 && !er.destroyed
	if dead {
		er.destroyed = true
	}
	er.mu.Unlock()
	if dead {
		er.receiver.Destroy()
		if er.onRemove != nil {
			er.onRemove()
		}
	}
}
