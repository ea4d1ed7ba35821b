package mcp

import (
	"maps"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/hyperknow/internal/config"
	"github.com/hpungsan/hyperknow/internal/director"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"director_ask": {
		def:     askToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAsk },
	},
	"capability_list": {
		def:     capabilityListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCapabilityList },
	},
	"profile_lookup": {
		def:     profileLookupToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProfileLookup },
	},
	"title_search": {
		def:     titleSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTitleSearch },
	},
}

// AllToolNames returns the names of every tool, sorted.
func AllToolNames() []string {
	return slices.Sorted(maps.Keys(toolRegistry))
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server exposing d. Tools listed in
// cfg.DisabledTools are not registered.
func NewServer(d *director.Director, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"hyperknow",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(d)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for _, name := range AllToolNames() {
		if disabled[name] {
			continue
		}
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(d *director.Director, cfg *config.Config, version string) error {
	return server.ServeStdio(NewServer(d, cfg, version))
}
