package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/hyperknow/internal/capability"
	"github.com/hpungsan/hyperknow/internal/director"
	"github.com/hpungsan/hyperknow/internal/errors"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	director *director.Director
	reg      *capability.Registry
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d *director.Director) *Handlers {
	return &Handlers{director: d, reg: d.Registry()}
}

// AskRequest represents the arguments for director_ask.
type AskRequest struct {
	Query string `json:"query"`
	Trace bool   `json:"trace,omitempty"`
}

// CapabilityListRequest represents the arguments for capability_list.
type CapabilityListRequest struct {
	MaxCost string `json:"max_cost,omitempty"`
}

// ProfileLookupRequest represents the arguments for profile_lookup.
type ProfileLookupRequest struct {
	Category string `json:"category"`
}

// TitleSearchRequest represents the arguments for title_search.
type TitleSearchRequest struct {
	Keywords string `json:"keywords"`
	Limit    int    `json:"limit,omitempty"`
}

// CapabilityListOutput is the result of capability_list.
type CapabilityListOutput struct {
	Capabilities []capability.Descriptor `json:"capabilities"`
	Count        int                     `json:"count"`
}

// HandleAsk runs one Director request.
func (h *Handlers) HandleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AskRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	res, err := h.director.Run(ctx, input.Query)
	if err != nil {
		return errorResult(err), nil
	}
	if !input.Trace {
		res = res.Compact()
	}
	return successResult(res)
}

// HandleCapabilityList lists the registry up to a cost class.
func (h *Handlers) HandleCapabilityList(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CapabilityListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	maxCost := capability.Expensive
	if input.MaxCost != "" {
		maxCost, err = capability.ParseCostClass(input.MaxCost)
		if err != nil {
			return errorResult(errors.NewInvalidRequest(err.Error())), nil
		}
	}

	out := CapabilityListOutput{Capabilities: make([]capability.Descriptor, 0, h.reg.Len())}
	for d := range h.reg.ListByCost(maxCost) {
		out.Capabilities = append(out.Capabilities, d)
	}
	out.Count = len(out.Capabilities)
	return successResult(out)
}

// HandleProfileLookup invokes profile-lookup directly.
func (h *Handlers) HandleProfileLookup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProfileLookupRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.Category) == "" {
		return errorResult(errors.NewInvalidRequest("category is required")), nil
	}

	out, err := h.reg.Invoke(ctx, capability.ProfileLookup, capability.Args{"category": input.Category})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleTitleSearch invokes title-search directly.
func (h *Handlers) HandleTitleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TitleSearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	keywords := strings.Fields(input.Keywords)
	if len(keywords) == 0 {
		return errorResult(errors.NewInvalidRequest("keywords is required")), nil
	}

	args := capability.Args{"keywords": keywords}
	if input.Limit > 0 {
		args["limit"] = input.Limit
	}
	out, err := h.reg.Invoke(ctx, capability.TitleSearch, args)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are never exposed.
func errorResult(err error) *mcp.CallToolResult {
	errorObj := map[string]any{
		"code":    errors.ErrInternal,
		"message": "an internal error occurred",
		"status":  500,
	}
	if dErr, ok := errors.As(err); ok && dErr.Code != errors.ErrInternal {
		errorObj["code"] = dErr.Code
		errorObj["message"] = dErr.Message
		errorObj["status"] = dErr.Status
		if dErr.Details != nil {
			errorObj["details"] = dErr.Details
		}
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
