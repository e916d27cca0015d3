package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/ipython-mcp/internal/services/kernel/storage"
)

// LaunchesResourceURI is the URI of the launch registry resource.
const LaunchesResourceURI = "kernel://launches"

// LaunchEntry is one kernel started by the bridge.
type LaunchEntry struct {
	ID             string   `json:"id"`
	PID            int      `json:"pid"`
	ConnectionFile string   `json:"connection_file"`
	Command        []string `json:"command"`
	StartedAt      string   `json:"started_at" jsonschema:"RFC3339 timestamp"`
	StoppedAt      string   `json:"stopped_at,omitempty" jsonschema:"RFC3339 timestamp, empty while running"`
	ExitCode       *int     `json:"exit_code,omitempty"`
	Running        bool     `json:"running"`
}

// ListLaunchesInput represents the MCP tool input for listing launches.
type ListLaunchesInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum entries to return, default 20"`
}

// ListLaunchesResult represents the MCP tool output for listing launches.
type ListLaunchesResult struct {
	Launches []LaunchEntry `json:"launches"`
	Failure  *ToolFailure  `json:"failure,omitempty" jsonschema:"set when the call failed"`
}

func launchEntries(launches []storage.KernelLaunch) []LaunchEntry {
	entries := make([]LaunchEntry, 0, len(launches))
	for _, launch := range launches {
		entry := LaunchEntry{
			ID:             launch.ID,
			PID:            launch.PID,
			ConnectionFile: launch.ConnectionFile,
			Command:        launch.Command,
			StartedAt:      formatTime(launch.StartedAt),
			ExitCode:       launch.ExitCode,
			Running:        launch.Running(),
		}
		if entry.Command == nil {
			entry.Command = []string{}
		}
		if launch.StoppedAt != nil {
			entry.StoppedAt = formatTime(*launch.StoppedAt)
		}
		entries = append(entries, entry)
	}
	return entries
}

// ListLaunchesTool defines the MCP tool schema for listing launches.
func ListLaunchesTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_kernel_launches",
		Description: "Lists kernels started by this bridge, most recent first",
	}
}

// ListLaunchesHandler reads the launch registry.
func ListLaunchesHandler(bridge *Bridge) mcp.ToolHandlerFor[ListLaunchesInput, ListLaunchesResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListLaunchesInput) (*mcp.CallToolResult, ListLaunchesResult, error) {
		meta := NewToolCallMetadata()
		launches, err := bridge.Launches(ctx, input.Limit)
		if err != nil {
			return FailedCallToolResult(meta), ListLaunchesResult{Launches: []LaunchEntry{}, Failure: failureFromError(err)}, nil
		}
		return CallToolResultWithMetadata(meta), ListLaunchesResult{Launches: launchEntries(launches)}, nil
	}
}

// LaunchesResource defines the launch registry resource.
func LaunchesResource() *mcp.Resource {
	return &mcp.Resource{
		Name:        "kernel_launches",
		Title:       "Kernel launches",
		Description: "Kernels started by this bridge",
		MIMEType:    "application/json",
		URI:         LaunchesResourceURI,
	}
}

// LaunchesResourceHandler serves the launch registry resource.
func LaunchesResourceHandler(bridge *Bridge) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if bridge == nil {
			return nil, fmt.Errorf("kernel bridge is not configured")
		}
		uri := LaunchesResourceURI
		if req != nil && req.Params != nil && req.Params.URI != "" {
			uri = req.Params.URI
		}
		launches, err := bridge.Launches(ctx, defaultLaunchLimit)
		if err != nil {
			return nil, err
		}
		data, err := json.MarshalIndent(ListLaunchesResult{Launches: launchEntries(launches)}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal kernel launches: %w", err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      uri,
					MIMEType: "application/json",
					Text:     string(data),
				},
			},
		}, nil
	}
}
