package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/hyperknow/internal/capability"
)

// decode converts MCP request arguments into a typed request.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	return capability.Decode[T](req.GetArguments())
}
