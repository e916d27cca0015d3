package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/ipython-mcp/internal/services/kernel/client"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/descriptor"
)

// StatusResourceURI is the URI of the kernel status resource.
const StatusResourceURI = "kernel://status"

// EndpointInfo describes the connected endpoint. The key is never included.
type EndpointInfo struct {
	IP              string `json:"ip" jsonschema:"kernel host"`
	Transport       string `json:"transport" jsonschema:"tcp or ipc"`
	ShellPort       int    `json:"shell_port"`
	IOPubPort       int    `json:"iopub_port"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	HBPort          int    `json:"hb_port"`
	SignatureScheme string `json:"signature_scheme"`
	Signed          bool   `json:"signed" jsonschema:"whether messages carry an HMAC signature"`
	KernelName      string `json:"kernel_name,omitempty"`
}

// KernelInfoPayload summarizes the kernel_info_reply.
type KernelInfoPayload struct {
	Implementation  string `json:"implementation,omitempty"`
	Version         string `json:"implementation_version,omitempty"`
	Language        string `json:"language,omitempty"`
	LanguageVersion string `json:"language_version,omitempty"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

// KernelStatus is the connection state reported by kernel_status.
type KernelStatus struct {
	Connected      bool               `json:"connected" jsonschema:"whether a kernel session is active"`
	Endpoint       *EndpointInfo      `json:"endpoint,omitempty" jsonschema:"connected endpoint"`
	ConnectionFile string             `json:"connection_file,omitempty" jsonschema:"descriptor path"`
	Source         string             `json:"source,omitempty" jsonschema:"explicit, env or default"`
	ConnectedAt    string             `json:"connected_at,omitempty" jsonschema:"RFC3339 timestamp"`
	Kernel         *KernelInfoPayload `json:"kernel,omitempty" jsonschema:"kernel_info handshake summary"`
	LaunchedPID    int                `json:"launched_pid,omitempty" jsonschema:"pid when the kernel was started by this bridge"`
}

func endpointFromDescriptor(desc descriptor.Descriptor) *EndpointInfo {
	return &EndpointInfo{
		IP:              desc.IP,
		Transport:       desc.Transport,
		ShellPort:       desc.ShellPort,
		IOPubPort:       desc.IOPubPort,
		StdinPort:       desc.StdinPort,
		ControlPort:     desc.ControlPort,
		HBPort:          desc.HBPort,
		SignatureScheme: desc.Scheme(),
		Signed:          desc.Signed(),
		KernelName:      desc.KernelName,
	}
}

func kernelInfoPayload(info client.KernelInfo) *KernelInfoPayload {
	return &KernelInfoPayload{
		Implementation:  info.Implementation,
		Version:         info.ImplementationVersion,
		Language:        info.LanguageInfo.Name,
		LanguageVersion: info.LanguageInfo.Version,
		ProtocolVersion: info.ProtocolVersion,
	}
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

// StatusResource defines the kernel status resource.
func StatusResource() *mcp.Resource {
	return &mcp.Resource{
		Name:        "kernel_status",
		Title:       "Kernel status",
		Description: "Connection state of the active kernel session",
		MIMEType:    "application/json",
		URI:         StatusResourceURI,
	}
}

// StatusResourceHandler serves the kernel status resource.
func StatusResourceHandler(bridge *Bridge) mcp.ResourceHandler {
	return func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if bridge == nil {
			return nil, fmt.Errorf("kernel bridge is not configured")
		}
		uri := StatusResourceURI
		if req != nil && req.Params != nil && req.Params.URI != "" {
			uri = req.Params.URI
		}
		data, err := json.MarshalIndent(bridge.Status(), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal kernel status: %w", err)
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
