// Package rpctest provides an in-process fake plugin server for exercising
// the client side of the plugin protocol without spawning a subprocess.
//
// A [Server] speaks line-delimited JSON-RPC over io.Pipe: it answers
// initialize, tools/list, and tools/call the way a well-behaved plugin
// would, with canned tools and per-tool results configured through options.
// Tests that need a misbehaving peer configure failures instead.
package rpctest

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
)

// Server is a fake plugin. Create with [NewServer]; connect a client to
// Reader/Writer; Close when done.
type Server struct {
	clientReader io.Reader
	clientWriter io.Writer

	in  io.ReadCloser
	out io.WriteCloser

	mu    sync.Mutex
	calls []CallRecord

	opts serverOptions
	done chan struct{}
}

// CallRecord is one tools/call the server received.
type CallRecord struct {
	Tool string
	Args json.RawMessage
}

// Tool configures one advertised tool and its canned behavior.
type Tool struct {
	Name        string
	Description string

	// Result is returned verbatim from tools/call. Nil answers {}.
	Result json.RawMessage

	// ErrCode/ErrMessage, when ErrCode is nonzero, answer tools/call with
	// a protocol error instead of Result.
	ErrCode    int
	ErrMessage string
}

type serverOptions struct {
	name        string
	version     string
	tools       []Tool
	refuseInit  bool
	silentInit  bool
	silentCalls bool
}

// Option configures a Server.
type Option func(*serverOptions)

// WithServerInfo sets the name and version the server reports during
// initialize. Defaults to "rpctest"/"0.0.0".
func WithServerInfo(name, version string) Option {
	return func(o *serverOptions) { o.name, o.version = name, version }
}

// WithTools sets the advertised tools.
func WithTools(tools ...Tool) Option {
	return func(o *serverOptions) { o.tools = tools }
}

// WithInitializeError makes initialize answer with a protocol error.
func WithInitializeError() Option {
	return func(o *serverOptions) { o.refuseInit = true }
}

// WithSilentInitialize drops the initialize request without answering, so
// the client's handshake deadline fires.
func WithSilentInitialize() Option {
	return func(o *serverOptions) { o.silentInit = true }
}

// WithSilentCalls drops tools/call requests without answering, so call
// timeouts fire.
func WithSilentCalls() Option {
	return func(o *serverOptions) { o.silentCalls = true }
}

// NewServer starts a fake plugin and returns it. The serve loop runs until
// the client side closes its writer or Close is called.
func NewServer(opts ...Option) *Server {
	o := serverOptions{name: "rpctest", version: "0.0.0"}
	for _, opt := range opts {
		opt(&o)
	}

	// Client writes → server reads; server writes → client reads.
	inReader, inWriter := io.Pipe()
	outReader, outWriter := io.Pipe()
	s := &Server{
		clientReader: outReader,
		clientWriter: inWriter,
		in:           inReader,
		out:          outWriter,
		opts:         o,
		done:         make(chan struct{}),
	}
	go s.serve()
	return s
}

// Transport returns the client side of the connection, in the order
// rpc.Dial expects.
func (s *Server) Transport() (io.Reader, io.Writer) {
	return s.clientReader, s.clientWriter
}

// Close tears the transport down. The client observes a closed connection.
func (s *Server) Close() {
	s.in.Close()
	s.out.Close()
	<-s.done
}

// Calls returns the tools/call requests received so far.
func (s *Server) Calls() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CallRecord(nil), s.calls...)
}

type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type errBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type reply struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      *int64   `json:"id"`
	Result  any      `json:"result,omitempty"`
	Error   *errBody `json:"error,omitempty"`
}

func (s *Server) serve() {
	defer close(s.done)
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		var f frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			continue
		}
		if f.ID == nil {
			// Notifications need no answer.
			continue
		}
		s.handle(f)
	}
}

func (s *Server) handle(f frame) {
	switch f.Method {
	case "initialize":
		if s.opts.silentInit {
			return
		}
		if s.opts.refuseInit {
			s.send(reply{JSONRPC: "2.0", ID: f.ID, Error: &errBody{Code: -32603, Message: "initialize refused"}})
			return
		}
		s.send(reply{JSONRPC: "2.0", ID: f.ID, Result: map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]string{"name": s.opts.name, "version": s.opts.version},
		}})
	case "tools/list":
		tools := make([]map[string]string, 0, len(s.opts.tools))
		for _, tl := range s.opts.tools {
			tools = append(tools, map[string]string{"name": tl.Name, "description": tl.Description})
		}
		s.send(reply{JSONRPC: "2.0", ID: f.ID, Result: map[string]any{"tools": tools}})
	case "tools/call":
		if s.opts.silentCalls {
			return
		}
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(f.Params, &params); err != nil {
			s.send(reply{JSONRPC: "2.0", ID: f.ID, Error: &errBody{Code: -32602, Message: "bad params"}})
			return
		}
		s.mu.Lock()
		s.calls = append(s.calls, CallRecord{Tool: params.Name, Args: params.Arguments})
		s.mu.Unlock()

		for _, tl := range s.opts.tools {
			if tl.Name != params.Name {
				continue
			}
			if tl.ErrCode != 0 {
				s.send(reply{JSONRPC: "2.0", ID: f.ID, Error: &errBody{Code: tl.ErrCode, Message: tl.ErrMessage}})
				return
			}
			result := tl.Result
			if result == nil {
				result = json.RawMessage(`{}`)
			}
			s.send(reply{JSONRPC: "2.0", ID: f.ID, Result: result})
			return
		}
		s.send(reply{JSONRPC: "2.0", ID: f.ID, Error: &errBody{Code: -32601, Message: "unknown tool: " + params.Name}})
	default:
		s.send(reply{JSONRPC: "2.0", ID: f.ID, Error: &errBody{Code: -32601, Message: "method not found: " + f.Method}})
	}
}

func (s *Server) send(r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	s.out.Write(append(data, '\n'))
}
