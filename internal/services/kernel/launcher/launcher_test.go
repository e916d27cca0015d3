//go:build !windows

package launcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/louisbranch/ipython-mcp/internal/platform/errors"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/storage"
)

type fakeRegistry struct {
	mu       sync.Mutex
	recorded []storage.KernelLaunch
	stopped  map[string]int
	stopCh   chan struct{}
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{stopped: map[string]int{}, stopCh: make(chan struct{}, 1)}
}

func (r *fakeRegistry) RecordLaunch(_ context.Context, launch storage.KernelLaunch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, launch)
	return nil
}

func (r *fakeRegistry) MarkLaunchStopped(_ context.Context, id string, _ time.Time, exitCode int) error {
	r.mu.Lock()
	r.stopped[id] = exitCode
	r.mu.Unlock()
	r.stopCh <- struct{}{}
	return nil
}

func neverReady(context.Context) error {
	return errors.New("not ready")
}

func TestStartReportsEarlyExit(t *testing.T) {
	l := New(Config{
		Command:      []string{"sh", "-c", "echo boom >&2; exit 3"},
		ReadyTimeout: 5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})

	_, err := l.Start(context.Background(), "/tmp/kernel.json", neverReady)
	if !apperrors.HasCode(err, apperrors.CodeStartup) {
		t.Fatalf("expected StartupError, got %v", err)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError in chain, got %v", err)
	}
	if exitErr.Code != 3 {
		t.Fatalf("expected exit code 3, got %d", exitErr.Code)
	}
	if !strings.Contains(exitErr.Output, "boom") {
		t.Fatalf("expected captured output, got %q", exitErr.Output)
	}
}

func alwaysReady(context.Context) error {
	return nil
}

func TestStartRejectsProcessExitingAfterReadyProbe(t *testing.T) {
	registry := newFakeRegistry()
	l := New(Config{
		Command:      []string{"sh", "-c", "echo 'Address already in use' >&2; exit 1"},
		ReadyTimeout: 5 * time.Second,
		PollInterval: 500 * time.Millisecond,
		Registry:     registry,
	})

	proc, err := l.Start(context.Background(), "/tmp/kernel.json", alwaysReady)
	if proc != nil {
		t.Fatalf("expected no process, got pid %d", proc.PID)
	}
	if !apperrors.HasCode(err, apperrors.CodeStartup) {
		t.Fatalf("expected StartupError, got %v", err)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError in chain, got %v", err)
	}
	if exitErr.Code != 1 || !strings.Contains(exitErr.Output, "Address already in use") {
		t.Fatalf("unexpected exit error: %+v", exitErr)
	}

	registry.mu.Lock()
	recorded := len(registry.recorded)
	registry.mu.Unlock()
	if recorded != 0 {
		t.Fatalf("expected no recorded launch, got %d", recorded)
	}
}

func TestStartTimesOutAndKillsProcess(t *testing.T) {
	l := New(Config{
		Command:      []string{"sh", "-c", "sleep 30"},
		ReadyTimeout: 200 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	})

	started := time.Now()
	_, err := l.Start(context.Background(), "/tmp/kernel.json", neverReady)
	if !apperrors.HasCode(err, apperrors.CodeStartup) {
		t.Fatalf("expected StartupError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("expected prompt kill, took %s", elapsed)
	}
}

func TestStartMissingBinary(t *testing.T) {
	l := New(Config{Command: []string{"ipython-mcp-no-such-binary"}})

	_, err := l.Start(context.Background(), "/tmp/kernel.json", neverReady)
	if !apperrors.HasCode(err, apperrors.CodeStartup) {
		t.Fatalf("expected StartupError, got %v", err)
	}
}

func TestStartPassesConnectionFileAndRecordsLaunch(t *testing.T) {
	registry := newFakeRegistry()
	l := New(Config{
		Command:      []string{"sh", "-c", "sleep 30"},
		ReadyTimeout: 5 * time.Second,
		PollInterval: 10 * time.Millisecond,
		Registry:     registry,
	})

	var probes atomic.Int32
	ready := func(context.Context) error {
		if probes.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}

	proc, err := l.Start(context.Background(), "/tmp/kernel-7.json", ready)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	last := proc.Command[len(proc.Command)-1]
	if last != ConnectionFileFlag+"=/tmp/kernel-7.json" {
		t.Fatalf("expected connection file flag last, got %q", last)
	}
	if proc.PID <= 0 {
		t.Fatalf("expected pid, got %d", proc.PID)
	}

	registry.mu.Lock()
	recorded := len(registry.recorded)
	registry.mu.Unlock()
	if recorded != 1 {
		t.Fatalf("expected 1 recorded launch, got %d", recorded)
	}

	proc.Stop(2 * time.Second)
	select {
	case <-registry.stopCh:
	case <-time.After(5 * time.Second):
		t.Fatal("expected launch marked stopped")
	}
	registry.mu.Lock()
	_, ok := registry.stopped[proc.ID]
	registry.mu.Unlock()
	if !ok {
		t.Fatalf("expected launch %s marked stopped", proc.ID)
	}
}

func TestNewDefaults(t *testing.T) {
	l := New(Config{})
	if strings.Join(l.command, " ") != "ipython kernel" {
		t.Fatalf("expected default command, got %v", l.command)
	}
	if l.readyTimeout <= 0 || l.pollInterval <= 0 {
		t.Fatal("expected default timeouts")
	}
}

func TestParseCommand(t *testing.T) {
	got := ParseCommand("  python -m  ipykernel_launcher ")
	want := []string{"python", "-m", "ipykernel_launcher"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	b := newTailBuffer(5)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	if b.String() != "cdefg" {
		t.Fatalf("expected cdefg, got %q", b.String())
	}
}
