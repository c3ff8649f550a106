package domain

import (
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// InvocationIDMetaKey names the correlation id attached to tool results.
const InvocationIDMetaKey = "invocation_id"

// NewInvocationID generates an invocation identifier for a tool call.
func NewInvocationID() string {
	return uuid.NewString()
}

// textResult builds a tool result carrying text and correlation metadata.
func textResult(invocationID, text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		Meta:    mcp.Meta{InvocationIDMetaKey: invocationID},
	}
}
