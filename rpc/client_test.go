package rpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient wires a Client to a testPeer.
func newTestClient(t *testing.T, opts ...Option) (*Client, *testPeer) {
	t.Helper()

	pr1, pw1 := io.Pipe()
	pr2, pw2 := io.Pipe()

	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	client := Dial(pr1, pw2, opts...)

	peer := &testPeer{
		reqCh: make(chan message, 16),
		sendFn: func(b []byte) error {
			_, err := pw1.Write(b)
			return err
		},
		close: func() { pw1.Close() },
	}
	dec := json.NewDecoder(pr2)
	go func() {
		for {
			var msg message
			if err := dec.Decode(&msg); err != nil {
				return
			}
			peer.reqCh <- msg
		}
	}()

	t.Cleanup(func() {
		pw1.Close()
		pw2.Close()
		pr1.Close()
		pr2.Close()
	})
	return client, peer
}

// serveInitialize answers the initialize request and consumes the
// notifications/initialized that follows.
func serveInitialize(t *testing.T, peer *testPeer) {
	t.Helper()
	req := peer.readRequest(t)
	require.Equal(t, methodInitialize, req.Method)

	var params initializeParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, ProtocolVersion, params.ProtocolVersion)
	assert.Equal(t, clientName, params.ClientInfo.Name)

	peer.respond(t, *req.ID, initializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      ServerInfo{Name: "pkg-memory-server", Version: "1.0.0"},
	})

	notif := peer.readRequest(t)
	assert.Equal(t, methodInitialized, notif.Method)
	assert.Nil(t, notif.ID)
}

func TestClientInitialize(t *testing.T) {
	client, peer := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveInitialize(t, peer)
	}()

	hs, err := client.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pkg-memory-server", hs.Server.Name)
	assert.Equal(t, "pkg-memory-server", client.Server().Name)
	<-done
}

func TestClientInitializeTwice(t *testing.T) {
	client, peer := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	go serveInitialize(t, peer)
	_, err := client.Initialize(ctx)
	require.NoError(t, err)

	_, err = client.Initialize(ctx)
	require.ErrorIs(t, err, ErrHandshakeState)
}

func TestClientCallBeforeInitialize(t *testing.T) {
	client, _ := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	_, err := client.CallTool(ctx, "store", nil, 0)
	require.ErrorIs(t, err, ErrHandshakeState)

	_, err = client.ListTools(ctx)
	require.ErrorIs(t, err, ErrHandshakeState)
}

func TestClientListTools(t *testing.T) {
	client, peer := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	go serveInitialize(t, peer)
	_, err := client.Initialize(ctx)
	require.NoError(t, err)

	go func() {
		req := peer.readRequest(t)
		peer.respond(t, *req.ID, toolsListResult{
			Tools: []ToolInfo{
				{Name: "store", Description: "store a memory"},
				{Name: "recall", Description: "recall a memory"},
			},
		})
	}()

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "store", tools[0].Name)
}

func TestClientCallToolResultPassthrough(t *testing.T) {
	client, peer := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	go serveInitialize(t, peer)
	_, err := client.Initialize(ctx)
	require.NoError(t, err)

	go func() {
		req := peer.readRequest(t)
		require.Equal(t, methodToolsCall, req.Method)
		var params callToolParams
		require.NoError(t, json.Unmarshal(req.Params, &params))
		assert.Equal(t, "store", params.Name)
		peer.respond(t, *req.ID, map[string]any{"stored": true, "key": "k1"})
	}()

	result, err := client.CallTool(ctx, "store", map[string]string{"key": "k1"}, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stored":true,"key":"k1"}`, string(result))
}

func TestClientCallToolRemoteError(t *testing.T) {
	client, peer := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	go serveInitialize(t, peer)
	_, err := client.Initialize(ctx)
	require.NoError(t, err)

	go func() {
		req := peer.readRequest(t)
		peer.sendLine(t, response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &wireError{Code: 404, Message: "no such key"},
		})
	}()

	_, err = client.CallTool(ctx, "recall", map[string]string{"key": "nope"}, 0)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 404, remote.Code)
	assert.Equal(t, "no such key", remote.Message)
}

func TestClientCallToolTimeout(t *testing.T) {
	client, peer := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	go serveInitialize(t, peer)
	_, err := client.Initialize(ctx)
	require.NoError(t, err)

	// Swallow the request, never answer.
	go func() {
		select {
		case <-peer.reqCh:
		case <-time.After(testTimeout):
			t.Error("timeout waiting for frame from Conn")
		}
	}()

	_, err = client.CallTool(ctx, "slow", nil, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrCallTimeout)
}

func TestClientInitializeRetryAfterFailure(t *testing.T) {
	client, peer := newTestClient(t, WithHandshakeTimeout(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	// First handshake times out — the server never answers.
	go func() {
		select {
		case <-peer.reqCh:
		case <-time.After(testTimeout):
			t.Error("timeout waiting for frame from Conn")
		}
	}()
	_, err := client.Initialize(ctx)
	require.ErrorIs(t, err, ErrCallTimeout)

	// A fresh attempt on the same transport is allowed after failure.
	go serveInitialize(t, peer)
	_, err = client.Initialize(ctx)
	require.NoError(t, err)
}
