package domain

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// InvocationIDKey names the invocation id in tool result metadata.
const InvocationIDKey = "invocation_id"

// ToolCallMetadata carries correlation identifiers for MCP tool calls.
type ToolCallMetadata struct {
	InvocationID string
}

// ResourceUpdateNotifier notifies MCP clients about resource updates.
type ResourceUpdateNotifier func(ctx context.Context, uri string)

// NewToolCallMetadata generates metadata for one tool invocation.
func NewToolCallMetadata() ToolCallMetadata {
	return ToolCallMetadata{InvocationID: uuid.NewString()}
}

// CallToolResultWithMetadata builds a tool result with correlation metadata.
func CallToolResultWithMetadata(meta ToolCallMetadata) *mcp.CallToolResult {
	result := &mcp.CallToolResult{Meta: map[string]any{}}
	if meta.InvocationID != "" {
		result.Meta[InvocationIDKey] = meta.InvocationID
	}
	return result
}

// FailedCallToolResult is CallToolResultWithMetadata marked as an error.
func FailedCallToolResult(meta ToolCallMetadata) *mcp.CallToolResult {
	result := CallToolResultWithMetadata(meta)
	result.IsError = true
	return result
}

// NotifyResourceUpdates sends resource update notifications for each URI provided.
func NotifyResourceUpdates(ctx context.Context, notify ResourceUpdateNotifier, uris ...string) {
	if notify == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, uri := range uris {
		if strings.TrimSpace(uri) == "" {
			continue
		}
		notify(ctx, uri)
	}
}
