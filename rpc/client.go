package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrHandshakeState indicates a usage error in handshake sequencing:
// Initialize called twice, or a call issued before Initialize completed.
// This is signaled to the caller, never silently ignored.
var ErrHandshakeState = errors.New("rpc: handshake state violation")

// Handshake sequencing states.
const (
	stateNew int32 = iota
	stateInitializing
	stateReady
)

// Client speaks the plugin tool protocol over a Conn: a single required
// initialize handshake, then tools/list and tools/call.
type Client struct {
	conn  *Conn
	opts  clientOptions
	state atomic.Int32

	server ServerInfo
}

// HandshakeResult is what the plugin reported during initialize.
type HandshakeResult struct {
	ProtocolVersion string
	Server          ServerInfo
}

// Dial wraps a byte-stream pair in a Client and starts the read loop.
// The reader is the plugin's stdout, the writer its stdin.
func Dial(r io.Reader, w io.Writer, opts ...Option) *Client {
	o := resolveOptions(opts...)
	c := &Client{
		conn: newConn(r, w, o.maxFrameSize, o.log),
		opts: o,
	}
	go c.conn.readLoop()
	return c
}

// Initialize performs the protocol handshake. It must be called exactly once
// per transport before any other call; a second Initialize returns
// ErrHandshakeState.
func (c *Client) Initialize(ctx context.Context) (*HandshakeResult, error) {
	if !c.state.CompareAndSwap(stateNew, stateInitializing) {
		return nil, fmt.Errorf("%w: initialize already performed", ErrHandshakeState)
	}

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      implementation{Name: clientName, Version: clientVersion},
		Capabilities:    map[string]any{},
	}
	var result initializeResult
	if err := c.call(ctx, methodInitialize, params, &result, c.opts.handshakeTimeout); err != nil {
		c.state.Store(stateNew) // a fresh attempt may retry the handshake
		return nil, fmt.Errorf("rpc: initialize: %w", err)
	}

	c.server = result.ServerInfo
	c.state.Store(stateReady)

	// Completion notification is best-effort; the plugin times out on its
	// own if it never arrives.
	_ = c.conn.Notify(methodInitialized, nil)

	return &HandshakeResult{
		ProtocolVersion: result.ProtocolVersion,
		Server:          result.ServerInfo,
	}, nil
}

// ListTools returns the tools the plugin advertises.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	var result toolsListResult
	if err := c.call(ctx, methodToolsList, struct{}{}, &result, c.opts.callTimeout); err != nil {
		return nil, fmt.Errorf("rpc: tools/list: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool and returns its literal result payload. A zero
// timeout uses the client's default. Timeout expiry releases the pending
// request and returns ErrCallTimeout without terminating the plugin.
func (c *Client) CallTool(ctx context.Context, tool string, args any, timeout time.Duration) (json.RawMessage, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = c.opts.callTimeout
	}
	var result json.RawMessage
	params := callToolParams{Name: tool, Arguments: args}
	if err := c.call(ctx, methodToolsCall, params, &result, timeout); err != nil {
		return nil, fmt.Errorf("rpc: tools/call %s: %w", tool, err)
	}
	return result, nil
}

// Server returns what the plugin reported about itself during the
// handshake. Zero value before Initialize completes.
func (c *Client) Server() ServerInfo {
	return c.server
}

// Done returns a channel closed when the transport's read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Shutdown sends the shutdown notification. Best-effort; actual process
// termination belongs to the supervisor.
func (c *Client) Shutdown() {
	_ = c.conn.Notify(methodShutdown, nil)
}

func (c *Client) requireReady() error {
	if c.state.Load() != stateReady {
		return fmt.Errorf("%w: call issued before initialize", ErrHandshakeState)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params, result any, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.conn.Call(ctx, method, params, result)
}

// --- Options ---

const (
	defaultHandshakeTimeout = 30 * time.Second
	defaultCallTimeout      = 60 * time.Second
)

type clientOptions struct {
	handshakeTimeout time.Duration
	callTimeout      time.Duration
	maxFrameSize     int
	log              *slog.Logger
}

// Option configures a Client at Dial time.
type Option func(*clientOptions)

// WithHandshakeTimeout sets the deadline for the initialize call.
// Values <= 0 are ignored.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithCallTimeout sets the default per-call deadline used when CallTool is
// given a zero timeout. Values <= 0 are ignored.
func WithCallTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithMaxFrameSize caps the size of a single inbound frame in bytes.
// Values <= 0 are ignored.
func WithMaxFrameSize(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}

// WithLogger sets the logger for frame-level diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(o *clientOptions) {
		if log != nil {
			o.log = log
		}
	}
}

func resolveOptions(opts ...Option) clientOptions {
	o := clientOptions{
		handshakeTimeout: defaultHandshakeTimeout,
		callTimeout:      defaultCallTimeout,
		maxFrameSize:     defaultMaxFrameSize,
		log:              slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
