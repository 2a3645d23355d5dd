// Package rpc implements the plugin protocol client: a JSON-RPC 2.0
// multiplexer over newline-delimited JSON on a subprocess's stdio, plus the
// handshake and tool-invocation layer on top of it.
//
// [Dial] wraps a byte-stream pair in a [Client]. [Client.Initialize] is the
// single required handshake per transport; after it completes,
// [Client.ListTools] and [Client.CallTool] are available. Responses are
// correlated to calls strictly by id, so concurrent calls on one transport
// never cross-deliver even when responses arrive out of order.
package rpc
