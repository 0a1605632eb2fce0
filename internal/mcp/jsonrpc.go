// Package mcp exposes the user and note operations as MCP tools over the
// Streamable HTTP transport.
package mcp

// MCPErrorResponse returns a standard JSON-RPC error response.
// Use this for transport failures that never reach the SDK.
func MCPErrorResponse(id any, code int, message string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
}

// Standard JSON-RPC error codes.
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeInternalError  = -32603
)
