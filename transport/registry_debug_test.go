package transport_test

import (
	"encoding/json"
	"testing"

	jsondiff "github.com/yudai/gojsondiff"
	jsondiffformatter "github.com/yudai/gojsondiff/formatter"

	"github.com/stretchr/testify/require"

	"github.com/oppo-bigdata/foundationdb/rpc"
	"github.com/oppo-bigdata/foundationdb/transport"
)

// TestDebugSnapshotDiffReflectsEndpointRegistration takes two
// DebugSnapshots, one before and one after registering an endpoint, and
// checks that a gojsondiff delta actually captures the change. rpcstat-style
// tooling diffs consecutive snapshots the same way to render "what changed
// since last tick" instead of the whole dump.
func TestDebugSnapshotDiffReflectsEndpointRegistration(t *testing.T) {
	reg := transport.NewRegistry("local", nil)

	before, err := json.Marshal(reg.Snapshot())
	require.NoError(t, err)

	_, regErr := reg.AddWellKnownEndpoint(rpc.NewToken(), nullReceiver{}, rpc.TaskDefaultPriority)
	require.NoError(t, regErr)

	after, err := json.Marshal(reg.Snapshot())
	require.NoError(t, err)

	differ := jsondiff.New()
	diff, err := differ.Compare(before, after)
	require.NoError(t, err)
	require.True(t, diff.Modified(), "expected registering an endpoint to change the snapshot")

	df := jsondiffformatter.NewDeltaFormatter()
	_, err = df.Format(diff)
	require.NoError(t, err)
}

type nullReceiver struct{}

func (nullReceiver) Receive(payload []byte, fromAddress rpc.Address) error { return nil }
func (nullReceiver) IsStream() bool                                       { return false }
func (nullReceiver) Destroy()                                             {}
