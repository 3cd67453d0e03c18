package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestReplyStreamApplyAckFatalOnNonMonotonicAck exercises applyAck directly,
// synchronously, so the panic it raises on a regressing acknowledgement
// (Testable Scenario 5: bytes=100 then bytes=50) can be observed by
// require.Panics in the calling goroutine, unlike the ackLoop goroutine that
// normally calls it.
func TestReplyStreamApplyAckFatalOnNonMonotonicAck(t *testing.T) {
	tr := NewLoopbackTransport()
	rs, err := NewReplyStream[int](tr, LocalEndpoint(NewToken()), 0)
	require.NoError(t, err)
	defer rs.Close()

	rs.applyAck(Acknowledgement{BytesReceived: 100})
	require.Equal(t, uint64(100), rs.BytesAcknowledged())

	require.Panics(t, func() {
		rs.applyAck(Acknowledgement{BytesReceived: 50})
	}, "a lower acknowledgement than already seen must be a fatal assertion")
}

// TestReplyStreamApplyAckFatalOnDuplicateAck covers the non-regressing half
// of Testable Scenario 5: a repeated acknowledgement reporting the exact
// same cumulative byte count is just as much a protocol violation as one
// that regresses, since acknowledgement counts must strictly increase.
func TestReplyStreamApplyAckFatalOnDuplicateAck(t *testing.T) {
	tr := NewLoopbackTransport()
	rs, err := NewReplyStream[int](tr, LocalEndpoint(NewToken()), 0)
	require.NoError(t, err)
	defer rs.Close()

	rs.applyAck(Acknowledgement{BytesReceived: 100})
	require.Equal(t, uint64(100), rs.BytesAcknowledged())

	require.Panics(t, func() {
		rs.applyAck(Acknowledgement{BytesReceived: 100})
	}, "a repeated acknowledgement of the same byte count must be a fatal assertion")
}
