package rpctest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varietylab/varietyd/rpc"
)

func TestServerSpeaksProtocol(t *testing.T) {
	srv := NewServer(
		WithServerInfo("fake-memory", "1.2.3"),
		WithTools(
			Tool{Name: "store", Result: json.RawMessage(`{"stored": true}`)},
			Tool{Name: "recall", ErrCode: -32000, ErrMessage: "nothing stored"},
		),
	)
	defer srv.Close()

	r, w := srv.Transport()
	client := rpc.Dial(r, w)
	defer client.Shutdown()

	ctx := context.Background()
	hs, err := client.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fake-memory", hs.Server.Name)
	assert.Equal(t, "1.2.3", hs.Server.Version)

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "store", tools[0].Name)

	got, err := client.CallTool(ctx, "store", map[string]string{"key": "k"}, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stored": true}`, string(got))

	_, err = client.CallTool(ctx, "recall", nil, 0)
	var remote *rpc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, -32000, remote.Code)

	calls := srv.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "store", calls[0].Tool)
	assert.JSONEq(t, `{"key": "k"}`, string(calls[0].Args))
}

func TestServerUnknownTool(t *testing.T) {
	srv := NewServer(WithTools(Tool{Name: "store"}))
	defer srv.Close()

	r, w := srv.Transport()
	client := rpc.Dial(r, w)
	defer client.Shutdown()

	_, err := client.Initialize(context.Background())
	require.NoError(t, err)

	_, err = client.CallTool(context.Background(), "no-such-tool", nil, 0)
	var remote *rpc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, -32601, remote.Code)
}

func TestServerRefusesInitialize(t *testing.T) {
	srv := NewServer(WithInitializeError())
	defer srv.Close()

	r, w := srv.Transport()
	client := rpc.Dial(r, w)
	defer client.Shutdown()

	_, err := client.Initialize(context.Background())
	require.Error(t, err)
}

func TestServerSilentInitializeTimesOut(t *testing.T) {
	srv := NewServer(WithSilentInitialize())
	defer srv.Close()

	r, w := srv.Transport()
	client := rpc.Dial(r, w, rpc.WithHandshakeTimeout(50*time.Millisecond))
	defer client.Shutdown()

	_, err := client.Initialize(context.Background())
	require.ErrorIs(t, err, rpc.ErrCallTimeout)
}

func TestServerSilentCallTimesOut(t *testing.T) {
	srv := NewServer(WithTools(Tool{Name: "store"}), WithSilentCalls())
	defer srv.Close()

	r, w := srv.Transport()
	client := rpc.Dial(r, w)
	defer client.Shutdown()

	_, err := client.Initialize(context.Background())
	require.NoError(t, err)

	_, err = client.CallTool(context.Background(), "store", nil, 50*time.Millisecond)
	require.ErrorIs(t, err, rpc.ErrCallTimeout)
}
