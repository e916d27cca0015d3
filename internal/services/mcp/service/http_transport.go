package service

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/louisbranch/ipython-mcp/internal/platform/timeouts"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var listenTCP = net.Listen

const (
	mcpPath       = "/mcp"
	mcpHealthPath = "/mcp/health"
)

// HTTPOptions configures request admission for the HTTP transport.
type HTTPOptions struct {
	// AllowedHosts extends loopback hosts for Host and Origin validation.
	AllowedHosts []string
	// AuthToken requires a matching bearer token when non-empty.
	AuthToken string
}

// HTTPTransport serves an MCP server over streamable HTTP.
//
// Session bookkeeping and SSE delivery belong to the SDK handler; this type
// owns the listener, host validation against DNS rebinding and the optional
// bearer token.
type HTTPTransport struct {
	addr         string
	allowedHosts map[string]struct{}
	apiToken     string
	handler      http.Handler
	httpServer   *http.Server
}

// NewHTTPTransport creates an HTTP transport for server listening on addr.
func NewHTTPTransport(addr string, server *mcp.Server, opts HTTPOptions) *HTTPTransport {
	if addr == "" {
		addr = defaultHTTPAddr
	}
	t := &HTTPTransport{
		addr:         addr,
		allowedHosts: parseAllowedHosts(opts.AllowedHosts),
		apiToken:     strings.TrimSpace(opts.AuthToken),
	}
	t.handler = t.routes(server)
	return t
}

// Handler returns the guarded HTTP handler without starting a listener.
func (t *HTTPTransport) Handler() http.Handler {
	return t.handler
}

func (t *HTTPTransport) routes(server *mcp.Server) http.Handler {
	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)

	mux := http.NewServeMux()
	mux.Handle(mcpPath, t.guard(streamable))
	mux.HandleFunc(mcpHealthPath, t.handleHealth)
	return h2c.NewHandler(mux, &http2.Server{})
}

// guard applies host validation then bearer authorization before next.
func (t *HTTPTransport) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := t.validateLocalRequest(r); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		if !t.authorizeRequest(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves HTTP until ctx ends, then shuts the server down gracefully.
func (t *HTTPTransport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	listener, err := listenTCP("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.addr, err)
	}

	t.httpServer = &http.Server{
		Handler:           t.handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	log.Printf("mcp http server listening: addr=%s", listener.Addr())

	errChan := make(chan error, 1)
	go func() {
		if err := t.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("mcp http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := t.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("HTTP server error: %w", err)
	}
}
