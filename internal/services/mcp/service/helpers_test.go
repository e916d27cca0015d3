package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/ipython-mcp/internal/services/kernel/client"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/descriptor"
	"github.com/louisbranch/ipython-mcp/internal/services/mcp/domain"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// fakeKernelSession keeps assignments of the form `name = value` and echoes
// them back for `print(name)`.
type fakeKernelSession struct {
	desc descriptor.Descriptor

	mu     sync.Mutex
	vars   map[string]string
	closed bool
}

func (s *fakeKernelSession) Descriptor() descriptor.Descriptor { return s.desc }

func (s *fakeKernelSession) Info() client.KernelInfo {
	return client.KernelInfo{Implementation: "ipython", LanguageInfo: client.LanguageInfo{Name: "python"}}
}

func (s *fakeKernelSession) Execute(_ context.Context, code string) (client.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return client.Output{}, client.ErrClosed
	}
	out := client.Output{MsgID: "msg-1", Done: true, Status: "ok"}
	code = strings.TrimSpace(code)
	switch {
	case strings.HasPrefix(code, "print(") && strings.HasSuffix(code, ")"):
		name := strings.TrimSuffix(strings.TrimPrefix(code, "print("), ")")
		out.Stdout = s.vars[name]
	case strings.Contains(code, "="):
		name, value, _ := strings.Cut(code, "=")
		s.vars[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out, nil
}

func (s *fakeKernelSession) Submit(context.Context, string) (string, error) {
	return "msg-async", nil
}

func (s *fakeKernelSession) Check(msgID string) (client.Output, error) {
	if msgID != "msg-async" {
		return client.Output{}, client.ErrUnknownExecution
	}
	return client.Output{MsgID: msgID, Stdout: "done", Done: true, Status: "ok"}, nil
}

func (s *fakeKernelSession) Interrupt(context.Context, string) error { return nil }

func (s *fakeKernelSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeKernelDialer struct {
	mu       sync.Mutex
	sessions []*fakeKernelSession
}

func (d *fakeKernelDialer) dial(_ context.Context, desc descriptor.Descriptor) (domain.KernelSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	session := &fakeKernelSession{desc: desc, vars: map[string]string{}}
	d.sessions = append(d.sessions, session)
	return session, nil
}

func newTestBridge(t *testing.T, dialer *fakeKernelDialer) *domain.Bridge {
	t.Helper()
	return domain.NewBridge(domain.BridgeConfig{
		Resolver: descriptor.Resolver{
			LookupEnv:  func(string) (string, bool) { return "", false },
			DefaultDir: t.TempDir(),
		},
		Dial:           dialer.dial,
		ConnectTimeout: time.Second,
		ExecuteTimeout: time.Second,
	})
}

func writeConnectionFile(t *testing.T, shellPort int) string {
	t.Helper()
	desc := descriptor.Default()
	desc.IP = "127.0.0.1"
	desc.ShellPort = shellPort
	desc.IOPubPort = shellPort + 1
	desc.StdinPort = shellPort + 2
	desc.ControlPort = shellPort + 3
	desc.HBPort = shellPort + 4
	data, err := desc.Marshal()
	if err != nil {
		t.Fatalf("marshal descriptor: %v", err)
	}
	path := filepath.Join(t.TempDir(), "kernel.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	return path
}

// connectClient serves server over in-memory transports and returns a
// connected client session.
func connectClient(t *testing.T, server *Server) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.serveWithTransport(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	t.Cleanup(func() {
		_ = session.Close()
		cancel()
		select {
		case <-serveErr:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop after cancel")
		}
	})
	return session
}

func callTool[T any](t *testing.T, session *mcp.ClientSession, name string, args any) (*mcp.CallToolResult, T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	return result, decodeStructuredContent[T](t, result.StructuredContent)
}

func decodeStructuredContent[T any](t *testing.T, value any) T {
	t.Helper()

	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	var output T
	if err := json.Unmarshal(data, &output); err != nil {
		t.Fatalf("unmarshal structured content: %v", err)
	}
	return output
}
