package rpc

// ProtocolVersion is the protocol revision this client speaks. Sent during
// initialize; servers answering with an incompatible revision are still
// usable for tools/call — version negotiation is advisory.
const ProtocolVersion = "2024-11-05"

const (
	clientName    = "varietyd"
	clientVersion = "0.1.0"
)

// Method names.
const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodToolsList   = "tools/list"
	methodToolsCall   = "tools/call"
	methodShutdown    = "notifications/shutdown"
)

// implementation identifies a protocol endpoint.
type implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies the plugin server on the far end of a transport.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolInfo describes one tool a plugin advertises.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      implementation `json:"clientInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
}

type toolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

type callToolParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}
