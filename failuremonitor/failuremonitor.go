// Package failuremonitor implements rpc.FailureMonitor on top of periodic
// heartbeats: callers feed it round-trip samples as they arrive on a Wire,
// and it tells ReplyFuture/RequestStream callers when an Endpoint has been
// unreachable, or visibly degrading, for long enough to give up on it.
package failuremonitor

import (
	"context"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/oppo-bigdata/foundationdb/rpc"
	"github.com/oppo-bigdata/foundationdb/util/optionaldeadline"
)

const sampleWindow = 32

// Monitor is a heartbeat-driven rpc.FailureMonitor: RecordHeartbeat is the
// write side, fed by a transport's connection loop every time it hears from
// a peer; EndpointNotFound/OnDisconnectOrFailure/OnFailedFor are the read
// side consumed by rpc.GetReplyUnlessFailedFor and friends.
type Monitor struct {
	mu    sync.Mutex
	peers map[rpc.Address]*peerState
}

type peerState struct {
	lastSeen time.Time
	samples  stats.Series // X = seconds since first sample, Y = observed RTT in seconds
	start    time.Time
	failed   bool
	failedCh chan struct{}
}

var _ rpc.FailureMonitor = (*Monitor)(nil)

func New() *Monitor {
	return &Monitor{peers: make(map[rpc.Address]*peerState)}
}

func (m *Monitor) state(addr rpc.Address) *peerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.peers[addr]
	if !ok {
		ps = &peerState{lastSeen: time.Now(), start: time.Now(), failedCh: make(chan struct{})}
		m.peers[addr] = ps
	}
	return ps
}

// RecordHeartbeat registers a successful round trip to addr, measured as
// rtt. Callers that have no meaningful RTT (e.g. a bare connectivity check)
// can pass 0.
func (m *Monitor) RecordHeartbeat(addr rpc.Address, rtt time.Duration) {
	ps := m.state(addr)
	m.mu.Lock()
	defer m.mu.Unlock()
	ps.lastSeen = time.Now()
	x := ps.lastSeen.Sub(ps.start).Seconds()
	ps.samples = append(ps.samples, stats.Coordinate{X: x, Y: rtt.Seconds()})
	if len(ps.samples) > sampleWindow {
		ps.samples = ps.samples[len(ps.samples)-sampleWindow:]
	}
	if ps.failed {
		ps.failed = false
		ps.failedCh = make(chan struct{})
	}
}

// EndpointNotFound marks e's peer address as failed immediately: the peer
// is known to no longer recognize the Endpoint's token, which only happens
// after a process restart or an already-failed connection.
func (m *Monitor) EndpointNotFound(e rpc.Endpoint) {
	m.markFailed(e.Address())
}

func (m *Monitor) markFailed(addr rpc.Address) {
	ps := m.state(addr)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ps.failed {
		ps.failed = true
		close(ps.failedCh)
	}
}

// OnDisconnectOrFailure returns a channel that closes the moment addr is
// marked failed, whether by EndpointNotFound or by OnFailedFor's own
// duration/slope judgement.
func (m *Monitor) OnDisconnectOrFailure(e rpc.Endpoint) <-chan struct{} {
	ps := m.state(e.Address())
	m.mu.Lock()
	ch := ps.failedCh
	m.mu.Unlock()
	return ch
}

// OnFailedFor returns a channel that closes once e's peer has been silent
// for at least duration, or once the linear regression slope of its recent
// RTT samples exceeds slope (RTT growing at that rate per second signals an
// overloaded or dying peer well before the heartbeat actually stops).
// slope <= 0 disables the slope-based trigger; only the duration check applies.
func (m *Monitor) OnFailedFor(e rpc.Endpoint, duration time.Duration, slope float64) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		ticker := time.NewTicker(duration / 4)
		if duration <= 0 {
			ticker = time.NewTicker(50 * time.Millisecond)
		}
		defer ticker.Stop()
		disconnected := m.OnDisconnectOrFailure(e)
		for {
			select {
			case <-disconnected:
				return
			case <-ticker.C:
				if m.checkFailed(e.Address(), duration, slope) {
					m.markFailed(e.Address())
					return
				}
			}
		}
	}()
	return out
}

// ContextWithFailureDeadline derives a context from ctx that has no deadline
// at all while e's peer looks healthy, and gets exactly grace left to run
// once OnFailedFor judges the peer failed. Callers waiting on a
// ReplyFuture.Get this way block indefinitely on a healthy peer instead of
// re-polling a fixed timeout, but still get unblocked promptly once the
// monitor gives up on the peer.
func (m *Monitor) ContextWithFailureDeadline(ctx context.Context, e rpc.Endpoint, duration time.Duration, slope float64, grace time.Duration) context.Context {
	dctx, enforceDeadline := optionaldeadline.ContextWithOptionalDeadline(ctx)
	failed := m.OnFailedFor(e, duration, slope)
	go func() {
		select {
		case <-failed:
			enforceDeadline(time.Now().Add(grace))
		case <-dctx.Done():
		}
	}()
	return dctx
}

func (m *Monitor) checkFailed(addr rpc.Address, duration time.Duration, slope float64) bool {
	ps := m.state(addr)
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(ps.lastSeen) >= duration {
		return true
	}
	if slope <= 0 || len(ps.samples) < 2 {
		return false
	}
	fit, err := stats.LinearRegression(ps.samples)
	if err != nil || len(fit) < 2 {
		return false
	}
	first, last := fit[0], fit[len(fit)-1]
	dx := last.X - first.X
	if dx <= 0 {
		return false
	}
	observedSlope := (last.Y - first.Y) / dx
	return observedSlope >= slope
}
