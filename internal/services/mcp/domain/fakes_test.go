package domain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/louisbranch/ipython-mcp/internal/services/kernel/client"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/descriptor"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/launcher"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/storage"
)

type fakeSession struct {
	desc descriptor.Descriptor

	mu         sync.Mutex
	closed     bool
	executed   []string
	vars       map[string]string
	executeErr error
	output     *client.Output
	pending    map[string]client.Output
	interrupts []string
}

func newFakeSession(desc descriptor.Descriptor) *fakeSession {
	return &fakeSession{desc: desc, vars: map[string]string{}, pending: map[string]client.Output{}}
}

func (s *fakeSession) Descriptor() descriptor.Descriptor { return s.desc }

func (s *fakeSession) Info() client.KernelInfo {
	return client.KernelInfo{Implementation: "ipython", LanguageInfo: client.LanguageInfo{Name: "python"}}
}

func (s *fakeSession) Execute(_ context.Context, code string) (client.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return client.Output{}, client.ErrClosed
	}
	s.executed = append(s.executed, code)
	if s.executeErr != nil {
		return client.Output{MsgID: "m-timeout", Stdout: "partial"}, s.executeErr
	}
	if s.output != nil {
		return *s.output, nil
	}
	out := client.Output{MsgID: "m-1", Done: true}
	switch {
	case strings.Contains(code, "in globals()"):
		out.Stdout = "false"
		for name := range s.vars {
			if strings.Contains(code, `"`+name+`"`) {
				out.Stdout = "true"
			}
		}
	case strings.Contains(code, "="):
		parts := strings.SplitN(code, "=", 2)
		s.vars[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	case strings.HasPrefix(code, "print(") && strings.HasSuffix(code, ")"):
		name := strings.TrimSuffix(strings.TrimPrefix(code, "print("), ")")
		out.Stdout = s.vars[name]
		out.Streams = []string{s.vars[name]}
	}
	return out, nil
}

func (s *fakeSession) Submit(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", client.ErrClosed
	}
	msgID := "m-" + code
	s.pending[msgID] = client.Output{MsgID: msgID, Stdout: "async", Streams: []string{"async"}, Done: true}
	return msgID, nil
}

func (s *fakeSession) Check(msgID string) (client.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.pending[msgID]
	if !ok {
		return client.Output{}, client.ErrUnknownExecution
	}
	delete(s.pending, msgID)
	return out, nil
}

func (s *fakeSession) Interrupt(_ context.Context, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[msgID]; !ok {
		return client.ErrUnknownExecution
	}
	s.interrupts = append(s.interrupts, msgID)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDialer hands out fakeSessions and records every dial.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
	onDial   func(desc descriptor.Descriptor)
}

func (d *fakeDialer) dial(_ context.Context, desc descriptor.Descriptor) (KernelSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.onDial != nil {
		d.onDial(desc)
	}
	if d.err != nil {
		return nil, d.err
	}
	session := newFakeSession(desc)
	d.sessions = append(d.sessions, session)
	return session, nil
}

func (d *fakeDialer) last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

type fakeStarter struct {
	err      error
	started  []string
	probeErr error
}

func (s *fakeStarter) Start(ctx context.Context, connectionFile string, ready launcher.Prober) (*launcher.Process, error) {
	s.started = append(s.started, connectionFile)
	if s.err != nil {
		return nil, s.err
	}
	s.probeErr = ready(ctx)
	return &launcher.Process{ID: "launch-1", PID: 4321, ConnectionFile: connectionFile, StartedAt: time.Now()}, nil
}

// answersAfterFirstProbe fails the pre-launch probe and answers every
// probe after it, like a port that is free until the kernel binds it.
func answersAfterFirstProbe() Probe {
	var calls atomic.Int32
	return func(context.Context, descriptor.Descriptor) error {
		if calls.Add(1) == 1 {
			return errors.New("no heartbeat")
		}
		return nil
	}
}

type fakeLaunches struct {
	launches []storage.KernelLaunch
	err      error
}

func (f *fakeLaunches) ListLaunches(_ context.Context, limit int) ([]storage.KernelLaunch, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.launches) {
		return f.launches[:limit], nil
	}
	return f.launches, nil
}

type notifications struct {
	mu   sync.Mutex
	uris []string
}

func (n *notifications) notify(_ context.Context, uri string) {
	n.mu.Lock()
	n.uris = append(n.uris, uri)
	n.mu.Unlock()
}

func (n *notifications) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.uris...)
}

func noEnv(string) (string, bool) { return "", false }

func newTestBridge(t *testing.T, dialer *fakeDialer) *Bridge {
	t.Helper()
	return NewBridge(BridgeConfig{
		Resolver:       descriptor.Resolver{LookupEnv: noEnv, DefaultDir: t.TempDir()},
		Dial:           dialer.dial,
		Probe:          func(context.Context, descriptor.Descriptor) error { return nil },
		ConnectTimeout: time.Second,
		ExecuteTimeout: time.Second,
	})
}

func writeConnectionFile(t *testing.T, ip string, shellPort int) string {
	t.Helper()
	desc := descriptor.Default()
	desc.IP = ip
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

var errDialRefused = errors.New("connection refused")
