package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/louisbranch/ipython-mcp/internal/services/kernel/descriptor"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/launcher"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/storage/sqlite"
	"github.com/louisbranch/ipython-mcp/internal/services/mcp/domain"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TransportKind identifies the MCP transport implementation.
type TransportKind string

const (
	// TransportStdio uses standard input/output for MCP.
	TransportStdio TransportKind = "stdio"
	// TransportHTTP runs MCP over streamable HTTP for remote clients.
	TransportHTTP TransportKind = "http"
)

// defaultHTTPAddr keeps the HTTP transport bound to loopback unless configured.
const defaultHTTPAddr = "localhost:8082"

// Config configures the MCP server.
type Config struct {
	Transport TransportKind
	// HTTPAddr is the HTTP listen address. Defaults to localhost:8082.
	HTTPAddr string
	// AllowedHosts extends the loopback hosts accepted in Host and Origin headers.
	AllowedHosts []string
	// AuthToken, when set, is required as a bearer token on every HTTP request.
	AuthToken string

	// ConnectionFile overrides $IPYTHON_MCP_CONNECTION as the descriptor used
	// when a tool call names none.
	ConnectionFile string
	// DefaultDir receives the packaged default descriptor when a kernel is
	// started without one.
	DefaultDir string

	ConnectTimeout time.Duration
	ExecuteTimeout time.Duration
	StartTimeout   time.Duration
	// KernelCommand launches kernels; the connection file flag is appended.
	KernelCommand []string
	// StateDB is the launch registry path. Empty disables the registry.
	StateDB string
}

// resolver builds the descriptor resolver, letting ConnectionFile stand in
// for the environment variable.
func (c Config) resolver() descriptor.Resolver {
	resolver := descriptor.Resolver{DefaultDir: c.DefaultDir}
	override := strings.TrimSpace(c.ConnectionFile)
	if override == "" {
		return resolver
	}
	resolver.LookupEnv = func(key string) (string, bool) {
		if key == descriptor.EnvConnectionFile {
			return override, true
		}
		return os.LookupEnv(key)
	}
	return resolver
}

// New builds a Server with its kernel bridge, launcher and launch registry.
func New(cfg Config) (*Server, error) {
	var (
		store    *sqlite.Store
		registry launcher.Registry
		launches domain.LaunchLister
	)
	if path := strings.TrimSpace(cfg.StateDB); path != "" {
		opened, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open launch registry: %w", err)
		}
		store = opened
		registry = opened
		launches = opened
	}

	bridge := domain.NewBridge(domain.BridgeConfig{
		Resolver: cfg.resolver(),
		Starter: launcher.New(launcher.Config{
			Command:      cfg.KernelCommand,
			ReadyTimeout: cfg.StartTimeout,
			Registry:     registry,
		}),
		Launches:       launches,
		ConnectTimeout: cfg.ConnectTimeout,
		ExecuteTimeout: cfg.ExecuteTimeout,
	})
	server, err := newServer(bridge)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	if store != nil {
		server.store = store
	}
	return server, nil
}

// Run is the service entrypoint for MCP and blocks until context cancellation.
// Stdio serves a single local client; HTTP serves remote clients against the
// same bridge.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}

	switch cfg.Transport {
	case TransportStdio:
		return runWithTransport(ctx, cfg, &mcp.StdioTransport{})
	case TransportHTTP:
		return runWithHTTPTransport(ctx, cfg)
	default:
		return fmt.Errorf("transport %q is not supported", cfg.Transport)
	}
}

// runWithHTTPTransport creates a server and serves it over HTTP transport.
func runWithHTTPTransport(ctx context.Context, cfg Config) error {
	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}

	mcpServer, err := New(cfg)
	if err != nil {
		return err
	}
	defer mcpServer.Close()

	httpTransport := NewHTTPTransport(httpAddr, mcpServer.mcpServer, HTTPOptions{
		AllowedHosts: cfg.AllowedHosts,
		AuthToken:    cfg.AuthToken,
	})
	return httpTransport.Start(ctx)
}

// runWithTransport creates a server and serves it over the provided transport.
func runWithTransport(ctx context.Context, cfg Config, transport mcp.Transport) error {
	mcpServer, err := New(cfg)
	if err != nil {
		return err
	}
	return mcpServer.serveWithTransport(ctx, transport)
}
