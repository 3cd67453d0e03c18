package transport

import (
	"context"
	"sync"
	"time"

	"github.com/oppo-bigdata/foundationdb/logger"
	"github.com/oppo-bigdata/foundationdb/rpc"
	"github.com/oppo-bigdata/foundationdb/rpc/dataconn/frameconn"
	"github.com/oppo-bigdata/foundationdb/rpc/dataconn/timeoutconn"
	"github.com/oppo-bigdata/foundationdb/util/semaphore"
)

// maxConcurrentDials bounds how many outbound Dial calls a Registry runs at
// once: a burst of Sends to addresses with no open connection yet would
// otherwise each spawn their own dial attempt to the same peer.
const maxConcurrentDials = 8

// HeartbeatObserver is the subset of failuremonitor.Monitor's API Registry
// needs: it stays an interface here so this package does not import
// failuremonitor (which instead imports rpc, same as this package does).
type HeartbeatObserver interface {
	RecordHeartbeat(addr rpc.Address, rtt time.Duration)
	EndpointNotFound(e rpc.Endpoint)
}

// envelopeFrameType is the frameconn frame type every Registry connection
// uses to carry rpc.Envelope-framed payloads. It is the only frame type this
// package ever writes or expects to read.
const envelopeFrameType uint32 = 1

// Dialer resolves an rpc.Address to a fresh Wire, usually by looking up a
// transport.Connecter configured for that peer.
type Dialer interface {
	Dial(ctx context.Context, addr rpc.Address) (Wire, error)
}

type DialerFunc func(ctx context.Context, addr rpc.Address) (Wire, error)

func (f DialerFunc) Dial(ctx context.Context, addr rpc.Address) (Wire, error) { return f(ctx, addr) }

// Registry is the process-wide implementation of rpc.Transport: a table of
// locally hosted Endpoints plus a pool of framed connections to remote
// peers, each carrying rpc.Envelope-wrapped payloads tagged with the
// destination Token.
type Registry struct {
	localAddr   rpc.Address
	dialer      Dialer
	idleTimeout time.Duration

	log *logger.Logger
	fm  HeartbeatObserver

	dialSem *semaphore.S

	mu      sync.RWMutex
	byToken map[rpc.Token]*rpc.EndpointRef
	conns   map[rpc.Address]*peerConn
}

// SetLogger attaches a logger used for connection lifecycle and decode
// errors; Registry works without one, it just stays silent.
func (r *Registry) SetLogger(log *logger.Logger) { r.log = log }

// SetDialer attaches the Dialer used to open outbound connections, for
// callers that need the Registry to exist before a Dialer bound to it can
// be constructed (e.g. transport/inmemory.Network.Join).
func (r *Registry) SetDialer(d Dialer) { r.dialer = d }

// SetFailureMonitor attaches a failuremonitor.Monitor that gets a
// heartbeat on every frame successfully read from or written to a peer, and
// an EndpointNotFound when a frame names a token this process never
// registered.
func (r *Registry) SetFailureMonitor(fm HeartbeatObserver) { r.fm = fm }

func NewRegistry(localAddr rpc.Address, dialer Dialer) *Registry {
	return &Registry{
		localAddr:   localAddr,
		dialer:      dialer,
		idleTimeout: 2 * time.Minute,
		dialSem:     semaphore.New(maxConcurrentDials),
		byToken:     make(map[rpc.Token]*rpc.EndpointRef),
		conns:       make(map[rpc.Address]*peerConn),
	}
}

func (r *Registry) LocalAddress() rpc.Address { return r.localAddr }

func (r *Registry) AddEndpoint(recv rpc.Receiver, priority rpc.TaskPriority) (rpc.Endpoint, error) {
	return r.addEndpoint(rpc.NewToken(), recv)
}

func (r *Registry) AddWellKnownEndpoint(token rpc.Token, recv rpc.Receiver, priority rpc.TaskPriority) (rpc.Endpoint, error) {
	r.mu.Lock()
	if _, exists := r.byToken[token]; exists {
		r.mu.Unlock()
		return rpc.Endpoint{}, rpc.NewProtocolViolationError("well-known token %s already registered", token)
	}
	r.mu.Unlock()
	return r.addEndpoint(token, recv)
}

func (r *Registry) addEndpoint(token rpc.Token, recv rpc.Receiver) (rpc.Endpoint, error) {
	ep := rpc.LocalEndpoint(token)
	ref := rpc.NewEndpointRef(ep, recv, func() {
		r.mu.Lock()
		delete(r.byToken, token)
		r.mu.Unlock()
		regprom.EndpointsRegistered.Dec()
	})
	r.mu.Lock()
	r.byToken[token] = ref
	r.mu.Unlock()
	regprom.EndpointsRegistered.Inc()
	return ep, nil
}

func (r *Registry) RemoveEndpoint(e rpc.Endpoint, _ rpc.Receiver) {
	if ref := r.lookup(e.Token()); ref != nil {
		ref.DelPromiseRef()
	}
}

func (r *Registry) AddPeerReference(e rpc.Endpoint, isStream bool) {
	ref := r.lookup(e.Token())
	if ref == nil {
		return
	}
	if isStream {
		ref.AddFutureRef()
	} else {
		ref.AddPromiseRef()
	}
}

func (r *Registry) RemovePeerReference(e rpc.Endpoint, isStream bool) {
	ref := r.lookup(e.Token())
	if ref == nil {
		return
	}
	if isStream {
		ref.DelFutureRef()
	} else {
		ref.DelPromiseRef()
	}
}

func (r *Registry) LoadedEndpoint(token rpc.Token) (rpc.Endpoint, error) {
	ref := r.lookup(token)
	if ref == nil {
		return rpc.Endpoint{}, rpc.NewBrokenPromiseError("no endpoint loaded for token %s", token)
	}
	return ref.Endpoint(), nil
}

func (r *Registry) lookup(token rpc.Token) *rpc.EndpointRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byToken[token]
}

// DebugSnapshot is a JSON-marshalable dump of a Registry's bookkeeping state,
// for rpcstat-style tooling to poll and diff across ticks rather than
// grepping log lines.
type DebugSnapshot struct {
	LocalAddress     rpc.Address   `json:"local_address"`
	RegisteredTokens []rpc.Token   `json:"registered_tokens"`
	PeerAddresses    []rpc.Address `json:"peer_addresses"`
}

func (r *Registry) Snapshot() DebugSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := DebugSnapshot{LocalAddress: r.localAddr}
	for tok := range r.byToken {
		s.RegisteredTokens = append(s.RegisteredTokens, tok)
	}
	for addr := range r.conns {
		s.PeerAddresses = append(s.PeerAddresses, addr)
	}
	return s
}

// deliverLocal hands payload to the Receiver registered for token, reporting
// fromAddress as where the payload arrived from: r.localAddr for a delivery
// that never left this Registry, or the remote peer's address for one that
// just came off readLoop, so the Receiver can tell a genuinely local
// endpoint apart from one that only looks local because it was local to
// whoever sent it.
func (r *Registry) deliverLocal(token rpc.Token, payload []byte, fromAddress rpc.Address) error {
	ref := r.lookup(token)
	if ref == nil {
		if r.fm != nil {
			r.fm.EndpointNotFound(rpc.LocalEndpoint(token))
		}
		return rpc.NewBrokenPromiseError("no local endpoint for token %s", token)
	}
	return ref.Receiver().Receive(payload, fromAddress)
}

// DispatchLocal implements rpc.LocalDispatcher: it delivers v directly to
// the ValueReceiver registered for token, if there is one, letting
// RequestStream's client operations skip the gob round trip SendUnreliable
// pays even for an in-process destination. ok is false whenever no such
// receiver exists, so the caller falls back to SendUnreliable.
func (r *Registry) DispatchLocal(token rpc.Token, v interface{}) (bool, error) {
	ref := r.lookup(token)
	if ref == nil {
		return false, nil
	}
	vr, ok := ref.Receiver().(rpc.ValueReceiver)
	if !ok {
		return false, nil
	}
	return true, vr.ReceiveValue(v)
}

// SendUnreliable delivers payload in-process if e is a LocalEndpoint,
// otherwise writes a framed rpc.Envelope over the peer connection for
// e.Address(), opening one if openConnection is set and none exists yet.
func (r *Registry) SendUnreliable(ctx context.Context, payload []byte, e rpc.Endpoint, openConnection bool) error {
	if e.Locality() == rpc.LocalityLocal {
		return r.deliverLocal(e.Token(), payload, r.localAddr)
	}
	pc, err := r.getConn(ctx, e.Address(), openConnection)
	if err != nil {
		return err
	}
	return pc.send(e.Token(), payload, r.fm)
}

// SendReliable makes at most two SendUnreliable attempts: if the first one
// fails it waits 50ms and tries once more, and if that also fails it reports
// RequestMaybeDelivered, since the first attempt may have reached the peer.
// ctx ending between the two attempts reports ctx.Err() instead. cancel
// cancels the ctx both attempts run under.
func (r *Registry) SendReliable(ctx context.Context, payload []byte, e rpc.Endpoint) (cancel func(), done <-chan error) {
	ctx, cancelFn := context.WithCancel(ctx)
	resCh := make(chan error, 1)
	go func() {
		var attempted bool
		for {
			err := r.SendUnreliable(ctx, payload, e, true)
			if err == nil {
				resCh <- nil
				return
			}
			if attempted {
				resCh <- rpc.NewRequestMaybeDeliveredError(err, "send to %s failed after a previous attempt may have been delivered", e)
				return
			}
			attempted = true
			select {
			case <-ctx.Done():
				resCh <- ctx.Err()
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}()
	return cancelFn, resCh
}

type peerConn struct {
	addr rpc.Address
	fc   *frameconn.Conn
	mu   sync.Mutex
}

func (pc *peerConn) send(token rpc.Token, payload []byte, fm HeartbeatObserver) error {
	raw, err := rpc.EncodeEnvelope(token, payload)
	if err != nil {
		return err
	}
	start := time.Now()
	pc.mu.Lock()
	err = pc.fc.WriteFrame(raw, envelopeFrameType)
	pc.mu.Unlock()
	if err == nil {
		regprom.FramesSent.Inc()
		if fm != nil {
			fm.RecordHeartbeat(pc.addr, time.Since(start))
		}
	}
	return err
}

func (r *Registry) getConn(ctx context.Context, addr rpc.Address, openConnection bool) (*peerConn, error) {
	r.mu.RLock()
	pc, ok := r.conns[addr]
	r.mu.RUnlock()
	if ok {
		return pc, nil
	}
	if !openConnection {
		return nil, rpc.NewRequestMaybeDeliveredError(nil, "no open connection to %s and opening a new one was not requested", addr)
	}
	if r.dialer == nil {
		return nil, rpc.NewEndpointFailedError("registry has no dialer configured, cannot reach %s", addr)
	}

	guard, err := r.dialSem.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	// Another goroutine may have finished dialing addr while we waited for
	// the semaphore.
	r.mu.RLock()
	pc, ok = r.conns[addr]
	r.mu.RUnlock()
	if ok {
		return pc, nil
	}

	wire, err := r.dialer.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	tc := timeoutconn.Wrap(wire, r.idleTimeout)
	pc = &peerConn{addr: addr, fc: frameconn.Wrap(&tc)}

	r.mu.Lock()
	if existing, ok := r.conns[addr]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.conns[addr] = pc
	r.mu.Unlock()
	regprom.PeerConnections.Inc()

	go r.readLoop(pc)
	return pc, nil
}

// AdoptConnection registers an already-accepted inbound Wire as the peer
// connection for addr and starts reading Envelopes from it. Used by a
// server accepting incoming AuthConns: the connection becomes usable for
// SendUnreliable(openConnection=false) replies back to that peer.
func (r *Registry) AdoptConnection(addr rpc.Address, w Wire) {
	tc := timeoutconn.Wrap(w, r.idleTimeout)
	pc := &peerConn{addr: addr, fc: frameconn.Wrap(&tc)}
	r.mu.Lock()
	r.conns[addr] = pc
	r.mu.Unlock()
	regprom.PeerConnections.Inc()
	go r.readLoop(pc)
}

func (r *Registry) readLoop(pc *peerConn) {
	defer func() {
		r.mu.Lock()
		removed := r.conns[pc.addr] == pc
		if removed {
			delete(r.conns, pc.addr)
		}
		r.mu.Unlock()
		if removed {
			regprom.PeerConnections.Dec()
		}
	}()
	for {
		frame, err := pc.fc.ReadFrame()
		if err != nil {
			if r.log != nil {
				r.log.WithField("peer", pc.addr).WithError(err).Debug("peer connection closed")
			}
			return
		}
		if r.fm != nil {
			r.fm.RecordHeartbeat(pc.addr, 0)
		}
		raw := append([]byte(nil), frame.Buffer.Bytes()...)
		frame.Buffer.Free()
		env, err := rpc.DecodeEnvelope(raw)
		if err != nil {
			regprom.FramesDropped.WithLabelValues("decode").Inc()
			if r.log != nil {
				r.log.WithField("peer", pc.addr).WithError(err).Error("dropping frame with undecodable envelope")
			}
			continue
		}
		if err := r.deliverLocal(env.Token, env.Payload, pc.addr); err != nil {
			regprom.FramesDropped.WithLabelValues("no_local_endpoint").Inc()
			if r.log != nil {
				r.log.WithField("peer", pc.addr).WithField("token", env.Token).WithError(err).Debug("delivery to local endpoint failed")
			}
		}
	}
}
