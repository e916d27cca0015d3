package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/louisbranch/ipython-mcp/internal/services/mcp/domain"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// serverName identifies this MCP server to clients.
	serverName = "ipython-mcp"
	// serverVersion identifies the MCP server version.
	serverVersion = "0.1.0"
	// serverInstructions is sent to clients during initialization.
	serverInstructions = "Drive a single IPython kernel session: start_kernel or connect_to_kernel first, " +
		"then execute_code. Variables persist between calls until disconnect_kernel."
)

// Server hosts the MCP server and owns the kernel bridge behind it.
type Server struct {
	mcpServer *mcp.Server
	bridge    *domain.Bridge
	// store backs the launch registry; nil when no state database is used.
	store io.Closer
}

// newServer creates MCP tool/resource handler bindings for bridge and routes
// bridge resource updates to subscribed clients.
func newServer(bridge *domain.Bridge) (*Server, error) {
	if bridge == nil {
		return nil, fmt.Errorf("kernel bridge is required")
	}
	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, &mcp.ServerOptions{
		Instructions:       serverInstructions,
		CompletionHandler:  completionHandler,
		SubscribeHandler:   resourceSubscribeHandler,
		UnsubscribeHandler: resourceUnsubscribeHandler,
	})

	bridge.SetNotifier(func(ctx context.Context, uri string) {
		if strings.TrimSpace(uri) == "" {
			return
		}
		if ctx == nil {
			ctx = context.Background()
		}
		if err := mcpServer.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{URI: uri}); err != nil {
			log.Printf("mcp resource updated notify failed: uri=%s err=%v", uri, err)
		}
	})

	for _, module := range newMCPRegistrationModules(bridge) {
		if err := module.register(mcpServerRegistrationAdapter{server: mcpServer}); err != nil {
			return nil, fmt.Errorf("register MCP module %q: %w", module.name, err)
		}
	}

	return &Server{mcpServer: mcpServer, bridge: bridge}, nil
}

// completionHandler handles completion/complete requests with empty results.
// No tool or resource here takes enumerable arguments.
func completionHandler(ctx context.Context, req *mcp.CompleteRequest) (*mcp.CompleteResult, error) {
	return &mcp.CompleteResult{
		Completion: mcp.CompletionResultDetails{
			Values: []string{},
		},
	}, nil
}

// resourceSubscribeHandler accepts resource subscriptions with a valid URI.
func resourceSubscribeHandler(_ context.Context, req *mcp.SubscribeRequest) error {
	if req == nil || req.Params == nil || strings.TrimSpace(req.Params.URI) == "" {
		return fmt.Errorf("resource uri is required")
	}
	return nil
}

// resourceUnsubscribeHandler accepts resource unsubscriptions with a valid URI.
func resourceUnsubscribeHandler(_ context.Context, req *mcp.UnsubscribeRequest) error {
	if req == nil || req.Params == nil || strings.TrimSpace(req.Params.URI) == "" {
		return fmt.Errorf("resource uri is required")
	}
	return nil
}

// Serve starts the MCP server on stdio and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	return s.serveWithTransport(ctx, &mcp.StdioTransport{})
}

// Close releases the kernel session and the launch registry. Kernels started
// by the bridge keep running.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	if s.bridge != nil {
		s.bridge.Close()
	}
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return err
	}
	s.store = nil
	return nil
}

// serveWithTransport starts the MCP server using the provided transport.
// The server and the kernel session share a single exit path so cleanup
// behavior is consistent for both stdio and HTTP runs.
func (s *Server) serveWithTransport(ctx context.Context, transport mcp.Transport) error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := s.mcpServer.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	closeErr := s.Close()
	if closeErr != nil {
		if err == nil {
			return fmt.Errorf("close launch registry: %w", closeErr)
		}
		return fmt.Errorf("serve MCP: %v; close launch registry: %w", err, closeErr)
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}
