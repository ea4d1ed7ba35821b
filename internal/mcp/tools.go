package mcp

import "github.com/mark3labs/mcp-go/mcp"

var askToolDef = mcp.NewTool("director_ask",
	mcp.WithDescription(
		"Answer a question from the local knowledge store. The director looks up the user's "+
			"knowledge level, finds relevant documents by title and delegates the answer to the generator.",
	),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("The user's request, e.g. 'Summarize this term's astronomy content'"),
	),
	mcp.WithBoolean("trace",
		mcp.Description("Include the state trace, findings and delegation payload in the result"),
	),
)

var capabilityListToolDef = mcp.NewTool("capability_list",
	mcp.WithDescription("List registered capabilities in registration order, optionally up to a cost class."),
	mcp.WithString("max_cost",
		mcp.Description("Highest cost class to include: cheap, moderate or expensive (default: expensive)"),
	),
)

var profileLookupToolDef = mcp.NewTool("profile_lookup",
	mcp.WithDescription("Look up the user's stored knowledge level for a category."),
	mcp.WithString("category",
		mcp.Required(),
		mcp.Description("Category to check, e.g. 'astronomy' or 'calculus'"),
	),
)

var titleSearchToolDef = mcp.NewTool("title_search",
	mcp.WithDescription("Search documents by keyword. Returns matching titles only, never content."),
	mcp.WithString("keywords",
		mcp.Required(),
		mcp.Description("Whitespace-separated search terms, e.g. 'sun orbit'"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Max titles to return"),
	),
)
