package launcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/louisbranch/ipython-mcp/internal/platform/errors"
	"github.com/louisbranch/ipython-mcp/internal/platform/timeouts"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/storage"
)

// ConnectionFileFlag is the kernel flag that names its connection file.
const ConnectionFileFlag = "--ConnectionFileMixin.connection_file"

const outputTailBytes = 4096

// DefaultCommand launches an IPython kernel.
var DefaultCommand = []string{"ipython", "kernel"}

// Prober reports nil once the kernel answers.
type Prober func(ctx context.Context) error

// Registry records launches. storage.LaunchStore satisfies it.
type Registry interface {
	RecordLaunch(ctx context.Context, launch storage.KernelLaunch) error
	MarkLaunchStopped(ctx context.Context, id string, stoppedAt time.Time, exitCode int) error
}

// Config configures a Launcher.
type Config struct {
	// Command is the kernel command line without the connection file flag.
	Command []string
	// ReadyTimeout bounds the wait for the first successful probe.
	ReadyTimeout time.Duration
	// PollInterval spaces readiness probes.
	PollInterval time.Duration
	// Registry is optional.
	Registry Registry
}

// Launcher starts kernel processes.
type Launcher struct {
	command      []string
	readyTimeout time.Duration
	pollInterval time.Duration
	registry     Registry
	now          func() time.Time
}

// New builds a Launcher, filling unset fields with defaults.
func New(cfg Config) *Launcher {
	command := cfg.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = timeouts.KernelStart
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = timeouts.KernelReadyPoll
	}
	return &Launcher{
		command:      append([]string(nil), command...),
		readyTimeout: cfg.ReadyTimeout,
		pollInterval: cfg.PollInterval,
		registry:     cfg.Registry,
		now:          time.Now,
	}
}

// ParseCommand splits a whitespace separated command line.
func ParseCommand(line string) []string {
	return strings.Fields(line)
}

// Start launches the kernel command for connectionFile and polls ready
// until it succeeds and the process survives one more poll interval, the
// process exits, or the ready timeout elapses.
// Every failure is a StartupError and leaves no process behind.
func (l *Launcher) Start(ctx context.Context, connectionFile string, ready Prober) (*Process, error) {
	args := append(append([]string(nil), l.command...), ConnectionFileFlag+"="+connectionFile)
	meta := map[string]string{"connection_file": connectionFile, "command": strings.Join(args, " ")}

	output := newTailBuffer(outputTailBytes)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = processAttr()
	if err := cmd.Start(); err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeStartup, "launch kernel", meta, err)
	}

	proc := &Process{
		ID:             uuid.NewString(),
		PID:            cmd.Process.Pid,
		ConnectionFile: connectionFile,
		Command:        args,
		StartedAt:      l.now().UTC(),
		cmd:            cmd,
		output:         output,
		exited:         make(chan struct{}),
	}
	go proc.wait()
	meta["pid"] = strconv.Itoa(proc.PID)

	if err := l.awaitReady(ctx, proc, ready); err != nil {
		proc.kill()
		return nil, apperrors.WrapWithMetadata(apperrors.CodeStartup, "kernel did not become ready", meta, err)
	}

	if l.registry != nil {
		if err := l.registry.RecordLaunch(ctx, proc.record()); err != nil {
			log.Printf("launch registry record failed: pid=%d err=%v", proc.PID, err)
		} else {
			go l.trackExit(proc)
		}
	}
	return proc, nil
}

func (l *Launcher) awaitReady(ctx context.Context, proc *Process, ready Prober) error {
	ctx, cancel := context.WithTimeout(ctx, l.readyTimeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		probeCtx, probeCancel := context.WithTimeout(ctx, l.pollInterval*4)
		err := ready(probeCtx)
		probeCancel()
		if err == nil {
			return l.settle(proc)
		}

		select {
		case <-proc.Exited():
			return &ExitError{Code: proc.ExitCode(), Output: proc.Output()}
		default:
		}

		select {
		case <-proc.Exited():
			return &ExitError{Code: proc.ExitCode(), Output: proc.Output()}
		case <-ctx.Done():
			return fmt.Errorf("readiness wait: %w (last probe: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// settle holds a successful probe for one poll interval. A process that
// exits within it did not start, whoever answered the probe.
func (l *Launcher) settle(proc *Process) error {
	timer := time.NewTimer(l.pollInterval)
	defer timer.Stop()
	select {
	case <-proc.Exited():
		return &ExitError{Code: proc.ExitCode(), Output: proc.Output()}
	case <-timer.C:
		return nil
	}
}

func (l *Launcher) trackExit(proc *Process) {
	<-proc.exited
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.KernelRequest)
	defer cancel()
	if err := l.registry.MarkLaunchStopped(ctx, proc.ID, l.now().UTC(), proc.ExitCode()); err != nil {
		log.Printf("launch registry stop failed: pid=%d err=%v", proc.PID, err)
	}
}

// ExitError reports a kernel process that exited before becoming ready.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("kernel exited with code %d", e.Code)
	}
	return fmt.Sprintf("kernel exited with code %d: %s", e.Code, out)
}

// Process is a launched kernel.
type Process struct {
	ID             string
	PID            int
	ConnectionFile string
	Command        []string
	StartedAt      time.Time

	cmd     *exec.Cmd
	output  *tailBuffer
	exited  chan struct{}
	mu      sync.Mutex
	waitErr error
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.exited)
}

// Exited is closed once the process has exited.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitCode returns the exit code, or -1 while running or when killed by a
// signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.exited:
	default:
		return -1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Output returns the tail of the process's combined output.
func (p *Process) Output() string {
	return p.output.String()
}

// Stop interrupts the process group and kills it if it has not exited
// within grace. It does nothing for a Process not returned by Start.
func (p *Process) Stop(grace time.Duration) {
	if p == nil || p.exited == nil {
		return
	}
	select {
	case <-p.exited:
		return
	default:
	}
	_ = signalGroup(p.PID, interruptSignal)
	select {
	case <-p.exited:
	case <-time.After(grace):
		p.kill()
	}
}

func (p *Process) kill() {
	_ = signalGroup(p.PID, killSignal)
	<-p.exited
}

func (p *Process) record() storage.KernelLaunch {
	return storage.KernelLaunch{
		ID:             p.ID,
		PID:            p.PID,
		ConnectionFile: p.ConnectionFile,
		Command:        p.Command,
		StartedAt:      p.StartedAt,
	}
}
