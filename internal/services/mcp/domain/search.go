package domain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/louisbranch/ucp-hub/internal/services/commerce/registry"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// CapabilitySearcher finds discovered capabilities by name.
type CapabilitySearcher interface {
	Search(pattern string) ([]registry.Descriptor, error)
}

// ToolSearchInput represents the MCP tool input for capability search.
type ToolSearchInput struct {
	Regex string `json:"regex" jsonschema:"case-insensitive regular expression matched against capability names"`
}

// ToolSearchResult represents the MCP tool output for capability search.
type ToolSearchResult struct {
	Tools []registry.Descriptor `json:"tools" jsonschema:"matching capability descriptors in discovery order"`
}

// ToolSearchTool defines the MCP tool schema for capability search.
func ToolSearchTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "tool_search",
		Description: "Search for tools by name using regular expressions. Returns a list of matching tool definitions.",
	}
}

// ToolSearchHandler searches the capability registry.
func ToolSearchHandler(searcher CapabilitySearcher, logger *slog.Logger) mcp.ToolHandlerFor[ToolSearchInput, ToolSearchResult] {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ToolSearchInput) (*mcp.CallToolResult, ToolSearchResult, error) {
		if searcher == nil {
			return nil, ToolSearchResult{}, fmt.Errorf("capability registry is not configured")
		}
		invocationID := NewInvocationID()
		tools, err := searcher.Search(input.Regex)
		if err != nil {
			return nil, ToolSearchResult{}, fmt.Errorf("tool search failed: %w", err)
		}
		if tools == nil {
			tools = []registry.Descriptor{}
		}
		logger.DebugContext(ctx, "tool search", "invocation_id", invocationID, "regex", input.Regex, "matches", len(tools))
		return &mcp.CallToolResult{Meta: mcp.Meta{InvocationIDMetaKey: invocationID}}, ToolSearchResult{Tools: tools}, nil
	}
}
