package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Conn is a JSON-RPC 2.0 multiplexer over a newline-delimited byte stream —
// one frame per line, outgoing frames on the plugin's stdin, incoming on its
// stdout.
//
// Outbound messages (call, notify) are serialized through a mutex-protected
// encoder. Inbound messages are read and dispatched by readLoop: responses
// are matched to pending calls strictly by id, notifications go to registered
// handlers, and inbound requests are answered with method-not-found (plugins
// have no business calling us). All handlers must be registered before
// readLoop starts.
//
// Request ids are allocated from an atomic counter scoped to the Conn, so ids
// are monotonic and never reused while a request with that id is outstanding.
// When readLoop exits every pending call resolves with ErrConnClosed.
type Conn struct {
	mu  sync.Mutex
	enc *json.Encoder

	nextID  atomic.Int64
	pending map[int64]chan *response

	notifyHandlers map[string]func(json.RawMessage)

	scanner *bufio.Scanner
	log     *slog.Logger

	done    chan struct{}
	readErr atomic.Value // stores error
}

// Errors surfaced by calls on a Conn.
var (
	// ErrConnClosed indicates the transport closed while the call was
	// pending, or before it was issued.
	ErrConnClosed = errors.New("rpc: connection closed")

	// ErrCallTimeout indicates the call's deadline elapsed before a
	// response arrived. The pending slot is released; a late response is
	// received and dropped.
	ErrCallTimeout = errors.New("rpc: call timed out")
)

// RemoteError is an application-level error reported by the plugin itself.
// Code and Message are passed through verbatim and never retried here.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote error %d: %s", e.Code, e.Message)
}

const (
	defaultMaxFrameSize = 4 << 20 // max JSON-RPC frame size for the scanner

	rpcMethodNotFound = -32601
)

func newConn(r io.Reader, w io.Writer, maxFrameSize int, log *slog.Logger) *Conn {
	if maxFrameSize <= 0 {
		maxFrameSize = defaultMaxFrameSize
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Conn{
		enc:            json.NewEncoder(w),
		pending:        make(map[int64]chan *response),
		notifyHandlers: make(map[string]func(json.RawMessage)),
		log:            log,
		done:           make(chan struct{}),
	}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, min(4096, maxFrameSize)), maxFrameSize)
	c.scanner = s
	return c
}

// OnNotification registers a handler for notifications (frames with a method
// and no id). Must be called before readLoop starts.
func (c *Conn) OnNotification(method string, h func(json.RawMessage)) {
	c.notifyHandlers[method] = h
}

// Call sends a request and blocks until the matching response arrives or ctx
// expires. A context deadline expiry is reported as ErrCallTimeout; the
// pending slot is discarded and a response arriving later is dropped without
// affecting any other pending call.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	select {
	case <-c.done:
		return fmt.Errorf("rpc: %s: %w", method, ErrConnClosed)
	default:
	}

	id := c.nextID.Add(1)

	ch := make(chan *response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	req := &request{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  method,
		Params:  params,
	}
	if err := c.send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("rpc: send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		return c.finishCall(resp, ok, method, result)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		// The response may have landed just before cancellation — drain
		// ch so a completed call is not reported as timed out.
		select {
		case resp, ok := <-ch:
			return c.finishCall(resp, ok, method, result)
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("rpc: %s: %w", method, ErrCallTimeout)
		}
		return ctx.Err()
	}
}

func (c *Conn) finishCall(resp *response, ok bool, method string, result any) error {
	if !ok {
		return fmt.Errorf("rpc: %s: %w", method, ErrConnClosed)
	}
	if resp.Error != nil {
		return &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("rpc: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// Notify sends a notification — no id, no correlation entry, no response.
func (c *Conn) Notify(method string, params any) error {
	return c.send(&request{JSONRPC: "2.0", Method: method, Params: params})
}

// readLoop reads and dispatches inbound frames until the reader closes or an
// unrecoverable scanner error occurs. On exit all pending calls resolve with
// ErrConnClosed. Called exactly once, by Dial.
func (c *Conn) readLoop() {
	defer close(c.done)
	defer c.drainPending()

	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue // blank lines and startup banners are not protocol data
		}

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			// Component-local failure: discard the frame and keep going.
			c.log.Warn("discarding malformed frame", "err", err, "len", len(line))
			continue
		}
		c.dispatch(&msg)
	}

	if err := c.scanner.Err(); err != nil {
		c.readErr.Store(err)
	}
}

// Err returns the readLoop error after it exits, or nil for a clean close.
func (c *Conn) Err() error {
	if v := c.readErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Done returns a channel closed when readLoop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(v)
}

func (c *Conn) dispatch(msg *message) {
	switch {
	case msg.ID != nil && msg.Method == "":
		c.deliverResponse(msg)
	case msg.ID != nil:
		// Inbound request. Plugins are servers here; refuse politely so
		// the remote end doesn't hang waiting for a response.
		c.sendError(*msg.ID, rpcMethodNotFound, "method not found: "+msg.Method)
	case msg.Method != "":
		if h, ok := c.notifyHandlers[msg.Method]; ok {
			h(msg.Params)
		}
	}
}

// deliverResponse hands a response to the waiting call. A response for an
// unknown id — timed out, duplicate, or never issued — is dropped.
func (c *Conn) deliverResponse(msg *message) {
	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("dropping response for unknown id", "id", *msg.ID)
		return
	}
	ch <- &response{Result: msg.Result, Error: msg.Error}
}

func (c *Conn) sendError(id int64, code int, text string) {
	resp := &response{
		JSONRPC: "2.0",
		ID:      &id,
		Error:   &wireError{Code: code, Message: text},
	}
	_ = c.send(resp) // best-effort — the connection may be closing
}

func (c *Conn) drainPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// --- Wire types ---

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// message is a generic inbound frame: request, response, or notification.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
