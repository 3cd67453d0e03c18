package failuremonitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oppo-bigdata/foundationdb/failuremonitor"
	"github.com/oppo-bigdata/foundationdb/rpc"
)

func TestEndpointNotFoundMarksFailedImmediately(t *testing.T) {
	m := failuremonitor.New()
	ep := rpc.RemoteEndpoint(rpc.NewToken(), "peer1")

	select {
	case <-m.OnDisconnectOrFailure(ep):
		t.Fatal("must not be failed before EndpointNotFound")
	default:
	}

	m.EndpointNotFound(ep)

	select {
	case <-m.OnDisconnectOrFailure(ep):
	case <-time.After(time.Second):
		t.Fatal("expected failure channel to be closed")
	}
}

func TestOnFailedForFiresAfterSilence(t *testing.T) {
	m := failuremonitor.New()
	ep := rpc.RemoteEndpoint(rpc.NewToken(), "peer2")
	m.RecordHeartbeat(ep.Address(), time.Millisecond)

	select {
	case <-m.OnFailedFor(ep, 30*time.Millisecond, 0):
	case <-time.After(time.Second):
		t.Fatal("expected OnFailedFor to fire once the peer goes silent")
	}
}

func TestContextWithFailureDeadlineHasNoDeadlineUntilPeerFails(t *testing.T) {
	m := failuremonitor.New()
	ep := rpc.RemoteEndpoint(rpc.NewToken(), "peer4")
	m.RecordHeartbeat(ep.Address(), time.Millisecond)

	ctx := m.ContextWithFailureDeadline(context.Background(), ep, 30*time.Millisecond, 0, 100*time.Millisecond)

	if _, ok := ctx.Deadline(); ok {
		t.Fatal("context must have no deadline while the peer looks healthy")
	}

	select {
	case <-ctx.Done():
		t.Fatal("context must not be done before the peer is judged failed")
	case <-time.After(20 * time.Millisecond):
	}

	select {
	case <-ctx.Done():
		require.Equal(t, context.DeadlineExceeded, ctx.Err())
	case <-time.After(time.Second):
		t.Fatal("context must be done shortly after the peer is judged failed")
	}
}

func TestRecordHeartbeatResetsFailedState(t *testing.T) {
	m := failuremonitor.New()
	ep := rpc.RemoteEndpoint(rpc.NewToken(), "peer3")
	m.EndpointNotFound(ep)

	m.RecordHeartbeat(ep.Address(), time.Millisecond)

	select {
	case <-m.OnDisconnectOrFailure(ep):
		t.Fatal("a fresh heartbeat must clear the failed state")
	default:
	}
}
